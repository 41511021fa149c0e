// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Archive is an open MPQ archive. Inserts and deletes are staged in memory
// and written by a rebuild when the archive is closed.
//
// An Archive is not safe for concurrent use.
type Archive struct {
	store store
	path  string
	opts  options
	log   logrus.FieldLogger

	headerOffset int64
	header       *header
	hashTable    *HashTable
	blockTable   *BlockTable
	listfile     *listfile
	attributes   *attributes
	hasSignature bool

	// wantWrite is what the caller asked for; writable drops to false when
	// the archive has no listfile to rebuild from.
	wantWrite bool
	writable  bool
	modified  bool
	closed    bool

	staged  []stagedFile
	removed map[uint64]struct{}
}

// stagedFile is content waiting for the next rebuild.
type stagedFile struct {
	name     string
	data     []byte
	channels int
}

// EntryError reports a file that could not be extracted by ExtractAll.
type EntryError struct {
	Name string
	Err  error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Name, e.Err)
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

// Info summarizes an open archive.
type Info struct {
	HeaderOffset   int64
	FormatVersion  FormatVersion
	SectorSize     uint32
	HashTableSize  int
	BlockTableSize int
	ArchiveSize    uint64
	Files          int
	Listed         int
	Writable       bool
	HasAttributes  bool
	HasSignature   bool
}

// Create creates an empty archive at path. Nothing is written until Close.
// The format version and sector size come from WithFormatVersion and
// WithSectorSizeShift.
func Create(path string, opts ...Option) (*Archive, error) {
	o := applyOptions(opts)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, ioError("create directory", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, ioError("create archive", err)
	}

	hashTable, err := NewHashTable(4)
	if err != nil {
		f.Close()
		return nil, err
	}

	a := &Archive{
		store: &fileStore{f: f, path: path},
		path:  path,
		opts:  o,
		log:   o.logger,
		header: &header{
			HeaderSize:      headerSizeFor(o.version),
			FormatVersion:   o.version,
			SectorSizeShift: o.sectorSizeShift,
		},
		hashTable:  hashTable,
		blockTable: NewBlockTable(nil),
		listfile:   newListfile(),
		wantWrite:  true,
		writable:   true,
		modified:   true,
		removed:    make(map[uint64]struct{}),
	}
	return a, nil
}

// Open opens the archive stored in the file at path.
func Open(path string, opts ...Option) (*Archive, error) {
	o := applyOptions(opts)
	s, err := openFileStore(path, !o.readOnly)
	if err != nil {
		return nil, err
	}

	a, err := load(s, o)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	a.path = path
	return a, nil
}

// OpenBytes opens an archive image held in memory. A rebuild replaces the
// image, which Bytes then returns. data must not be modified while the
// archive is open.
func OpenBytes(data []byte, opts ...Option) (*Archive, error) {
	return load(newMemStore(data), applyOptions(opts))
}

func load(s store, o options) (*Archive, error) {
	a := &Archive{
		store:     s,
		opts:      o,
		log:       o.logger,
		wantWrite: !o.readOnly,
		removed:   make(map[uint64]struct{}),
	}

	offset, err := findHeader(s, s.Size(), o.legacy)
	if err != nil {
		return nil, err
	}
	h, err := readHeader(s, offset, s.Size(), o.legacy)
	if err != nil {
		return nil, err
	}
	a.headerOffset, a.header = offset, h

	if err := a.readTables(); err != nil {
		return nil, err
	}
	a.hasSignature = a.hashTable.HasFile(signatureName)
	a.loadListfile()
	a.loadAttributes()
	return a, nil
}

// readAt reads n bytes at pos. Sizes come from the archive itself, so they
// are checked against the data before anything is allocated.
func (a *Archive) readAt(n, pos int64, what string) ([]byte, error) {
	if size := a.store.Size(); pos < 0 || n < 0 || pos > size || n > size-pos {
		return nil, fmt.Errorf("%w: %s of %d bytes at 0x%X runs past the end of the data", ErrFormat, what, n, pos)
	}
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if _, err := a.store.ReadAt(buf, pos); err != nil {
		return nil, ioError("read "+what, err)
	}
	return buf, nil
}

func (a *Archive) readTables() error {
	h := a.header

	data, err := a.readAt(int64(h.HashTableSize)*hashEntrySize, a.headerOffset+int64(h.HashTablePos), "hash table")
	if err != nil {
		return err
	}
	if a.hashTable, err = parseHashTable(data, int(h.HashTableSize)); err != nil {
		return err
	}

	data, err = a.readAt(int64(h.BlockTableSize)*blockEntrySize, a.headerOffset+int64(h.BlockTablePos), "block table")
	if err != nil {
		return err
	}
	a.blockTable = parseBlockTable(data)

	if h.FormatVersion >= FormatV1 && h.HiBlockTablePos != 0 {
		data, err := a.readAt(int64(h.BlockTableSize)*2, a.headerOffset+int64(h.HiBlockTablePos), "hi-block table")
		if err != nil {
			return err
		}
		hi := make([]uint16, h.BlockTableSize)
		for i := range hi {
			hi[i] = binary.LittleEndian.Uint16(data[i*2:])
		}
		a.blockTable.applyHiPositions(hi)
	}
	return nil
}

func (a *Archive) loadListfile() {
	a.listfile = newListfile()

	data, err := a.readFile(listfileName)
	if err != nil {
		if a.wantWrite {
			a.log.WithError(err).Warn("archive has no readable (listfile), opening read-only")
		}
		return
	}

	a.listfile = parseListfile(data)
	a.writable = a.wantWrite
	a.checkListfile()
}

func (a *Archive) loadAttributes() {
	if !a.hashTable.HasFile(attributesName) {
		return
	}
	data, err := a.readFile(attributesName)
	if err == nil {
		a.attributes, err = parseAttributes(data, a.blockTable.Len())
	}
	if err != nil {
		a.log.WithError(err).Warn("ignoring unreadable (attributes)")
	}
}

// hiddenEntries counts the live reserved entries a listfile does not name.
func (a *Archive) hiddenEntries() int {
	n := 1
	if a.hashTable.HasFile(attributesName) {
		n++
	}
	if a.hasSignature {
		n++
	}
	return n
}

// checkListfile drops names without a live mapping and warns when the
// listfile names fewer files than the block table holds.
func (a *Archive) checkListfile() {
	dropped := a.listfile.filter(func(name string) bool {
		_, _, err := a.lookup(name)
		return err == nil
	})
	for _, name := range dropped {
		a.log.WithField("file", name).Warn("listfile entry has no hash table mapping, dropping it")
	}

	live := len(a.blockTable.Valid())
	if a.listfile.len() < live-a.hiddenEntries() {
		a.log.WithFields(logrus.Fields{
			"listed": a.listfile.len(),
			"blocks": live,
		}).Warn("listfile is incomplete, unlisted files are lost on rebuild")
	}
}

// lookup resolves name against the tables on disk, honoring pending
// deletions.
func (a *Archive) lookup(name string) (uint32, Block, error) {
	if _, gone := a.removed[fileKey(name)]; gone {
		return 0, Block{}, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	idx, ok := a.hashTable.BlockIndex(name, LocaleNeutral)
	if !ok {
		return 0, Block{}, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	b, err := a.blockTable.At(int(idx))
	if err != nil {
		return 0, Block{}, err
	}
	if !b.Exists() {
		return 0, Block{}, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	return idx, b, nil
}

func (a *Archive) readStored(b Block) ([]byte, error) {
	return a.readAt(int64(b.CompressedSize), a.headerOffset+int64(b.FilePos), "file data")
}

func (a *Archive) blockKey(name string, b Block) uint32 {
	if !b.HasFlag(FlagEncrypted) {
		return 0
	}
	return fileEncryptionKey(name, uint32(b.FilePos), b.FileSize, b.Flags)
}

// readFile decodes the stored content of name.
func (a *Archive) readFile(name string) ([]byte, error) {
	_, b, err := a.lookup(name)
	if err != nil {
		return nil, err
	}
	stored, err := a.readStored(b)
	if err != nil {
		return nil, err
	}
	return decodeFile(stored, b, a.header.sectorSize(), a.blockKey(name, b))
}

func (a *Archive) findStaged(name string) int {
	key := fileKey(name)
	for i, f := range a.staged {
		if fileKey(f.name) == key {
			return i
		}
	}
	return -1
}

func (a *Archive) checkOpen() error {
	if a.closed {
		return ErrClosed
	}
	return nil
}

func (a *Archive) checkWritable() error {
	if err := a.checkOpen(); err != nil {
		return err
	}
	if !a.writable {
		return ErrReadOnly
	}
	return nil
}

// Writable reports whether inserts and deletes are accepted.
func (a *Archive) Writable() bool {
	return a.writable && !a.closed
}

// HasFile reports whether name is in the archive, including staged inserts
// and excluding staged deletions.
func (a *Archive) HasFile(name string) bool {
	if a.closed {
		return false
	}
	if a.findStaged(name) != -1 {
		return true
	}
	_, _, err := a.lookup(name)
	return err == nil
}

// ExtractBytes returns the content of name. Staged inserts are returned as
// they will be written.
func (a *Archive) ExtractBytes(name string) ([]byte, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	if i := a.findStaged(name); i != -1 {
		return append([]byte(nil), a.staged[i].data...), nil
	}
	data, err := a.readFile(name)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", name, err)
	}
	return data, nil
}

// ExtractTo writes the content of name to w.
func (a *Archive) ExtractTo(name string, w io.Writer) error {
	data, err := a.ExtractBytes(name)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return ioError("write "+name, err)
	}
	return nil
}

// ExtractFile writes the content of name to destPath, creating parent
// directories as needed.
func (a *Archive) ExtractFile(name, destPath string) error {
	data, err := a.ExtractBytes(name)
	if err != nil {
		return err
	}
	return writeOutput(destPath, data)
}

func writeOutput(destPath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return ioError("create directory", err)
	}
	if err := os.WriteFile(destPath, data, 0644); err != nil {
		return ioError("write output file", err)
	}
	return nil
}

// ExtractBlock returns the content of the block at index without a name.
// Encrypted blocks cannot be read this way.
func (a *Archive) ExtractBlock(index int) ([]byte, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	b, err := a.blockTable.At(index)
	if err != nil {
		return nil, err
	}
	if !b.Exists() {
		return nil, fmt.Errorf("%w: block %d", ErrFileNotFound, index)
	}
	if b.HasFlag(FlagEncrypted) {
		return nil, fmt.Errorf("block %d: %w", index, ErrEncryptedBlock)
	}
	stored, err := a.readStored(b)
	if err != nil {
		return nil, err
	}
	return decodeFile(stored, b, a.header.sectorSize(), 0)
}

// ExtractAll writes every listed file below dir, converting backslashes to
// directory separators. Without a listfile every readable block is written
// under a generated name. Failures of single entries are returned as
// EntryErrors; the error result is reserved for failures that stop the
// whole extraction.
func (a *Archive) ExtractAll(dir string) ([]EntryError, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, ioError("create directory", err)
	}

	var failures []EntryError
	fail := func(name string, err error) {
		a.log.WithError(err).WithField("file", name).Warn("extraction failed")
		failures = append(failures, EntryError{Name: name, Err: err})
	}

	if a.listfile.len() == 0 && len(a.staged) == 0 {
		for i := 0; i < a.blockTable.Len(); i++ {
			b, _ := a.blockTable.At(i)
			if !b.Exists() || b.HasFlag(FlagEncrypted) {
				continue
			}
			name := fmt.Sprintf("File%08d.xxx", i)
			data, err := a.ExtractBlock(i)
			if err == nil {
				err = writeOutput(filepath.Join(dir, name), data)
			}
			if err != nil {
				fail(name, err)
			}
		}
		return failures, nil
	}

	names := a.listfile.list()
	for _, reserved := range []string{attributesName, listfileName} {
		if a.HasFile(reserved) && !a.listfile.contains(reserved) {
			names = append(names, reserved)
		}
	}
	for _, name := range names {
		target, err := outputPath(dir, name)
		if err == nil {
			err = a.ExtractFile(name, target)
		}
		if err != nil {
			fail(name, err)
		}
	}
	return failures, nil
}

// outputPath maps an archive name below dir, refusing names that would
// leave it.
func outputPath(dir, name string) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(strings.ReplaceAll(name, `\`, "/")))
	if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s escapes the output directory", ErrUsage, name)
	}
	return filepath.Join(dir, rel), nil
}

// InsertBytes stages data under name. An existing file with the same name
// is an ErrDuplicateFile unless override is set.
func (a *Archive) InsertBytes(name string, data []byte, override bool) error {
	return a.stage(name, data, 0, override)
}

// InsertFile stages the content of the file at srcPath under name.
func (a *Archive) InsertFile(name, srcPath string, override bool) error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return ioError("read "+srcPath, err)
	}
	return a.stage(name, data, 0, override)
}

// InsertWave stages 16-bit PCM sound data. The first sector is stored
// losslessly and the rest with lossy ADPCM, like the game's own tools do.
func (a *Archive) InsertWave(name string, data []byte, channels int, override bool) error {
	if channels != 1 && channels != 2 {
		return fmt.Errorf("%w: %d channels", ErrUsage, channels)
	}
	return a.stage(name, data, channels, override)
}

func (a *Archive) stage(name string, data []byte, channels int, override bool) error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("%w: empty file name", ErrUsage)
	}
	if isReservedName(name) {
		return fmt.Errorf("%w: %s", ErrReservedName, name)
	}
	if !override && a.HasFile(name) {
		return fmt.Errorf("%w: %s", ErrDuplicateFile, name)
	}

	if i := a.findStaged(name); i != -1 {
		a.staged = append(a.staged[:i], a.staged[i+1:]...)
	}
	a.staged = append(a.staged, stagedFile{
		name:     name,
		data:     append([]byte(nil), data...),
		channels: channels,
	})
	a.listfile.add(name)
	delete(a.removed, fileKey(name))
	a.modified = true
	return nil
}

// DeleteFile removes name from the archive at the next rebuild.
func (a *Archive) DeleteFile(name string) error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	if isReservedName(name) {
		return fmt.Errorf("%w: %s", ErrReservedName, name)
	}
	if !a.HasFile(name) {
		return fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}

	if i := a.findStaged(name); i != -1 {
		a.staged = append(a.staged[:i], a.staged[i+1:]...)
	}
	if a.hashTable.HasFile(name) {
		a.removed[fileKey(name)] = struct{}{}
	}
	a.listfile.remove(name)
	a.modified = true
	return nil
}

// SetExternalListfile replaces the name list with the one in the file at
// path. It re-enables writing on an archive that was only read-only because
// it had no listfile. On a read-only handle it does nothing.
func (a *Archive) SetExternalListfile(path string) error {
	if err := a.checkOpen(); err != nil {
		return err
	}
	if !a.wantWrite {
		a.log.WithField("listfile", path).Warn("ignoring external listfile on a read-only archive")
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		a.log.WithError(err).WithField("listfile", path).Warn("external listfile is not readable")
		return ioError("read listfile", err)
	}

	a.listfile = parseListfile(data)
	a.checkListfile()
	for _, f := range a.staged {
		a.listfile.add(f.name)
	}
	a.writable = true
	a.modified = true
	return nil
}

// FileInfo describes one file of an archive.
type FileInfo struct {
	Name string
	Size uint32
	// CompressedSize is the stored size. It is zero for staged files.
	CompressedSize uint32
	Flags          uint32
	Staged         bool
}

// Stat describes name without extracting it.
func (a *Archive) Stat(name string) (FileInfo, error) {
	if err := a.checkOpen(); err != nil {
		return FileInfo{}, err
	}
	if i := a.findStaged(name); i != -1 {
		return FileInfo{Name: name, Size: uint32(len(a.staged[i].data)), Staged: true}, nil
	}
	_, b, err := a.lookup(name)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{Name: name, Size: b.FileSize, CompressedSize: b.CompressedSize, Flags: b.Flags}, nil
}

// ListEntries returns the known file names in listfile order.
func (a *Archive) ListEntries() []string {
	return a.listfile.list()
}

// Info returns a summary of the archive as it is on disk.
func (a *Archive) Info() Info {
	size := a.header.ArchiveSize64
	if size == 0 {
		size = uint64(a.header.ArchiveSize)
	}
	return Info{
		HeaderOffset:   a.headerOffset,
		FormatVersion:  a.header.FormatVersion,
		SectorSize:     a.header.sectorSize(),
		HashTableSize:  a.hashTable.Capacity(),
		BlockTableSize: a.blockTable.Len(),
		ArchiveSize:    size,
		Files:          len(a.blockTable.Valid()),
		Listed:         a.listfile.len(),
		Writable:       a.Writable(),
		HasAttributes:  a.attributes != nil,
		HasSignature:   a.hasSignature,
	}
}

// Bytes returns the image of an archive opened with OpenBytes. After a
// rebuild it is the rebuilt image. It returns nil for file archives.
func (a *Archive) Bytes() []byte {
	if m, ok := a.store.(*memStore); ok {
		return m.data
	}
	return nil
}

// Close closes the archive with DefaultCloseOptions.
func (a *Archive) Close() error {
	return a.CloseWith(DefaultCloseOptions())
}

// CloseWith closes the archive, rebuilding it first when it is writable and
// opts ask for it. If the rebuild fails the original archive is left as it
// was.
func (a *Archive) CloseWith(opts CloseOptions) error {
	if err := a.checkOpen(); err != nil {
		return err
	}
	a.closed = true

	rebuild := a.writable && (opts.Rebuild == RebuildAlways ||
		opts.Rebuild == RebuildIfModified && a.modified)
	if rebuild {
		if err := a.rebuild(opts); err != nil {
			return errors.Join(err, a.store.Close())
		}
	}
	return a.store.Close()
}
