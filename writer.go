// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// rebuildEntry is one file of the rebuilt archive. Existing files have
// oldIndex >= 0; new content carries data.
type rebuildEntry struct {
	name     string
	oldIndex int
	old      Block
	data     []byte
	channels int
}

// countingWriter tracks the absolute position in the output image.
type countingWriter struct {
	w *bufio.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func isWaveName(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".wav")
}

// rebuildEntries lists the files of the rebuilt archive: surviving files in
// their old block order followed by staged files in insertion order.
func (a *Archive) rebuildEntries() []rebuildEntry {
	var entries []rebuildEntry
	for _, name := range a.listfile.names {
		if isReservedName(name) || a.findStaged(name) != -1 {
			continue
		}
		idx, b, err := a.lookup(name)
		if err != nil {
			continue
		}
		entries = append(entries, rebuildEntry{name: name, oldIndex: int(idx), old: b})
	}
	slices.SortStableFunc(entries, func(x, y rebuildEntry) int {
		return x.oldIndex - y.oldIndex
	})

	for _, f := range a.staged {
		entries = append(entries, rebuildEntry{
			name:     a.listfile.spelling(f.name),
			oldIndex: -1,
			data:     f.data,
			channels: f.channels,
		})
	}
	return entries
}

// rebuild writes a compacted copy of the archive with the staged changes
// applied to a temporary file, then swaps it in.
func (a *Archive) rebuild(opts CloseOptions) (err error) {
	dir := a.opts.tempDir
	if dir == "" && a.path != "" {
		dir = filepath.Dir(a.path)
	}
	tmp, err := os.CreateTemp(dir, "mpq_*.tmp")
	if err != nil {
		return ioError("create temp file", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	w := &countingWriter{w: bufio.NewWriter(tmp)}

	var base int64
	if opts.KeepHeaderOffset && a.headerOffset > 0 {
		if _, err := io.Copy(w, io.NewSectionReader(a.store, 0, a.headerOffset)); err != nil {
			return ioError("copy data before header", err)
		}
		base = a.headerOffset
	}

	h := &header{
		FormatVersion:   a.header.FormatVersion,
		SectorSizeShift: a.header.SectorSizeShift,
	}
	if opts.Recompress.Enabled {
		h.SectorSizeShift = min(opts.Recompress.SectorSizeShift, maxSectorSizeShift)
	}
	h.HeaderSize = headerSizeFor(h.FormatVersion)
	if _, err := w.Write(make([]byte, h.HeaderSize)); err != nil {
		return ioError("write header", err)
	}

	entries := a.rebuildEntries()
	writeAttributes := opts.WriteAttributes && a.attributes != nil

	blockCount := len(entries)
	if opts.WriteListfile {
		blockCount++
	}
	if writeAttributes {
		blockCount++
	}

	hashTable, err := NewHashTable(int(nextPowerOf2(uint32(len(entries)+2)) * 2))
	if err != nil {
		return err
	}
	blocks := make([]Block, 0, blockCount)
	now := time.Now()

	var attrs *attributes
	if writeAttributes {
		attrs = newAttributes(a.attributes.flags, blockCount)
	}

	enc := fileEncoder{sectorSize: h.sectorSize(), codec: opts.Recompress.codec()}
	names := make([]string, 0, len(entries))

	place := func(name string, stored []byte, b Block) error {
		b.FilePos = uint64(w.n - base)
		if _, err := w.Write(stored); err != nil {
			return ioError("write "+name, err)
		}
		if err := hashTable.SetBlockIndex(name, LocaleNeutral, len(blocks)); err != nil {
			return err
		}
		blocks = append(blocks, b)
		return nil
	}

	for _, e := range entries {
		pos := uint32(w.n - base)
		var stored []byte
		var b Block
		var plain []byte

		if e.oldIndex >= 0 {
			stored, b, plain, err = a.carryOver(e, h, enc, opts.Recompress, pos)
		} else {
			plain = e.data
			fe := enc
			fe.channels = e.channels
			stored, b, err = fe.encode(e.data, "", pos)
		}
		if err != nil {
			return fmt.Errorf("rebuild %s: %w", e.name, err)
		}
		if err := place(e.name, stored, b); err != nil {
			return err
		}
		names = append(names, e.name)

		if attrs != nil {
			if old, ok := a.attributes.lookup(e.oldIndex); ok {
				attrs.entries[len(blocks)-1] = old
			} else {
				attrs.describe(len(blocks)-1, plain, now)
			}
		}
	}

	if opts.WriteListfile {
		data := marshalListfile(names)
		stored, b, err := enc.encode(data, listfileName, uint32(w.n-base))
		if err != nil {
			return fmt.Errorf("rebuild %s: %w", listfileName, err)
		}
		if err := place(listfileName, stored, b); err != nil {
			return err
		}
		if attrs != nil {
			attrs.describe(len(blocks)-1, data, now)
		}
	}

	if attrs != nil {
		stored, b, err := enc.encode(attrs.marshal(), attributesName, uint32(w.n-base))
		if err != nil {
			return fmt.Errorf("rebuild %s: %w", attributesName, err)
		}
		if err := place(attributesName, stored, b); err != nil {
			return err
		}
	}

	blockTable := NewBlockTable(blocks)
	if blockTable.needsHiPositions() && h.FormatVersion < FormatV1 {
		return fmt.Errorf("%w: archive exceeds 4 GiB, format version 0 cannot address it", ErrCapacity)
	}

	h.HashTablePos = uint64(w.n - base)
	h.HashTableSize = uint32(hashTable.Capacity())
	if _, err := w.Write(hashTable.marshal()); err != nil {
		return ioError("write hash table", err)
	}

	h.BlockTablePos = uint64(w.n - base)
	h.BlockTableSize = uint32(blockTable.Len())
	if _, err := w.Write(blockTable.marshal()); err != nil {
		return ioError("write block table", err)
	}

	if blockTable.needsHiPositions() {
		h.HiBlockTablePos = uint64(w.n - base)
		if _, err := w.Write(blockTable.marshalHiPositions()); err != nil {
			return ioError("write hi-block table", err)
		}
	}

	archiveSize := uint64(w.n - base)
	h.ArchiveSize = uint32(min(archiveSize, 0xFFFFFFFF))
	if h.FormatVersion >= FormatV2 {
		h.ArchiveSize64 = archiveSize
	}

	if err := w.w.Flush(); err != nil {
		return ioError("flush archive", err)
	}
	if _, err := tmp.WriteAt(h.marshal(), base); err != nil {
		return ioError("write header", err)
	}
	if err := tmp.Close(); err != nil {
		return ioError("close temp file", err)
	}

	a.log.WithFields(logrus.Fields{
		"files":       len(entries),
		"hash_table":  hashTable.Capacity(),
		"block_table": blockTable.Len(),
		"sector_size": h.sectorSize(),
		"size":        archiveSize,
	}).Debug("rebuilt archive")

	if err := a.store.replace(tmpPath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// carryOver produces the stored form of an existing file at pos. The
// stored bytes are copied without their encryption unless the file has to
// be re-encoded. plain is the decoded content when it was decoded.
func (a *Archive) carryOver(e rebuildEntry, h *header, enc fileEncoder, rc RecompressOptions, pos uint32) (stored []byte, b Block, plain []byte, err error) {
	raw, err := a.readStored(e.old)
	if err != nil {
		return nil, Block{}, nil, err
	}
	oldSectorSize := a.header.sectorSize()
	key := a.blockKey(e.name, e.old)

	mustEncode := h.SectorSizeShift != a.header.SectorSizeShift && e.old.FileSize > 0
	wantEncode := rc.Enabled && !isWaveName(e.name)

	if mustEncode || wantEncode {
		plain, err = decodeFile(raw, e.old, oldSectorSize, key)
		switch {
		case err == nil:
			stored, b, err = enc.encode(plain, "", pos)
			return stored, b, plain, err
		case mustEncode || !errors.Is(err, ErrUnsupportedCompression):
			return nil, Block{}, nil, err
		}
		a.log.WithError(err).WithField("file", e.name).Warn("cannot recompress, copying stored data")
	}

	stored, flags, err := decryptStored(raw, e.old, oldSectorSize, key)
	if err != nil {
		return nil, Block{}, nil, err
	}
	b = Block{
		CompressedSize: uint32(len(stored)),
		FileSize:       e.old.FileSize,
		Flags:          flags,
	}
	return stored, b, nil, nil
}

// nextPowerOf2 returns the smallest power of 2 >= n.
func nextPowerOf2(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}
