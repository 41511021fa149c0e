// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"
)

const attributesVersion = 100

// Attribute arrays present in an (attributes) entry.
const (
	AttributeCRC32    = 0x00000001
	AttributeFileTime = 0x00000002
	AttributeMD5      = 0x00000004
	AttributePatchBit = 0x00000008
)

// fileTimeEpoch is 1970-01-01 in 100ns ticks since 1601-01-01.
const fileTimeEpoch = 116444736000000000

// Attribute holds the per-block values of the (attributes) entry.
type Attribute struct {
	CRC32    uint32
	FileTime uint64
	MD5      [md5.Size]byte
}

// Time converts FileTime to a time.Time. It is the zero time when unset.
func (a Attribute) Time() time.Time {
	if a.FileTime == 0 {
		return time.Time{}
	}
	ticks := int64(a.FileTime - fileTimeEpoch)
	return time.Unix(ticks/1e7, ticks%1e7*100).UTC()
}

func fileTime(t time.Time) uint64 {
	return uint64(t.UnixNano()/100) + fileTimeEpoch
}

// attributes is the decoded (attributes) entry. Each array has one slot per
// block table entry.
type attributes struct {
	flags   uint32
	entries []Attribute
}

// attributesSize is the encoded size of n records with the arrays of flags.
func attributesSize(flags uint32, n int) int {
	size := 8
	if flags&AttributeCRC32 != 0 {
		size += 4 * n
	}
	if flags&AttributeFileTime != 0 {
		size += 8 * n
	}
	if flags&AttributeMD5 != 0 {
		size += md5.Size * n
	}
	if flags&AttributePatchBit != 0 {
		size += (n + 7) / 8
	}
	return size
}

// storedRecords returns how many records a blob of size bytes holds, at most
// blocks. Some writers leave out the slot of (attributes) itself or stop
// early; the missing records read as zero.
func storedRecords(flags uint32, size, blocks int) int {
	if size >= attributesSize(flags, blocks) {
		return blocks
	}
	per := attributesSize(flags&^AttributePatchBit, 1) - 8
	if per == 0 {
		return blocks
	}
	n := (size - 8) / per
	for n > 0 && attributesSize(flags, n) > size {
		n--
	}
	return n
}

// parseAttributes decodes data for a block table of blocks entries.
func parseAttributes(data []byte, blocks int) (*attributes, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: attributes header needs 8 bytes, have %d", ErrFormat, len(data))
	}
	if v := binary.LittleEndian.Uint32(data[0:]); v != attributesVersion {
		return nil, fmt.Errorf("%w: attributes version %d", ErrFormat, v)
	}

	a := &attributes{
		flags:   binary.LittleEndian.Uint32(data[4:]),
		entries: make([]Attribute, blocks),
	}

	n := storedRecords(a.flags, len(data), blocks)
	records := a.entries[:n]

	pos := 8
	if a.flags&AttributeCRC32 != 0 {
		for i := range records {
			records[i].CRC32 = binary.LittleEndian.Uint32(data[pos:])
			pos += 4
		}
	}
	if a.flags&AttributeFileTime != 0 {
		for i := range records {
			records[i].FileTime = binary.LittleEndian.Uint64(data[pos:])
			pos += 8
		}
	}
	if a.flags&AttributeMD5 != 0 {
		for i := range records {
			copy(records[i].MD5[:], data[pos:])
			pos += md5.Size
		}
	}
	// Patch bits are not carried.
	a.flags &^= AttributePatchBit
	return a, nil
}

// newAttributes returns an empty set of blocks entries with the arrays of
// flags.
func newAttributes(flags uint32, blocks int) *attributes {
	return &attributes{flags: flags &^ AttributePatchBit, entries: make([]Attribute, blocks)}
}

// lookup returns the entry of block index i.
func (a *attributes) lookup(i int) (Attribute, bool) {
	if a == nil || i < 0 || i >= len(a.entries) {
		return Attribute{}, false
	}
	return a.entries[i], true
}

// describe fills slot i from plain file content. A nil data leaves the slot
// zeroed, the way the entry for (attributes) itself is stored.
func (a *attributes) describe(i int, data []byte, now time.Time) {
	if i < 0 || i >= len(a.entries) || data == nil {
		return
	}
	a.entries[i] = Attribute{
		CRC32:    crc32.ChecksumIEEE(data),
		FileTime: fileTime(now),
		MD5:      md5.Sum(data),
	}
}

func (a *attributes) marshal() []byte {
	buf := make([]byte, 8, attributesSize(a.flags, len(a.entries)))
	binary.LittleEndian.PutUint32(buf[0:], attributesVersion)
	binary.LittleEndian.PutUint32(buf[4:], a.flags)
	if a.flags&AttributeCRC32 != 0 {
		for _, e := range a.entries {
			buf = binary.LittleEndian.AppendUint32(buf, e.CRC32)
		}
	}
	if a.flags&AttributeFileTime != 0 {
		for _, e := range a.entries {
			buf = binary.LittleEndian.AppendUint64(buf, e.FileTime)
		}
	}
	if a.flags&AttributeMD5 != 0 {
		for _, e := range a.entries {
			buf = append(buf, e.MD5[:]...)
		}
	}
	return buf
}

// Attributes returns the (attributes) values recorded for name. ok is false
// when the archive has no attributes or no entry for the file.
func (a *Archive) Attributes(name string) (attr Attribute, ok bool, err error) {
	if err := a.checkOpen(); err != nil {
		return Attribute{}, false, err
	}
	if a.findStaged(name) != -1 {
		return Attribute{}, false, nil
	}
	idx, _, err := a.lookup(name)
	if err != nil {
		return Attribute{}, false, err
	}
	attr, ok = a.attributes.lookup(int(idx))
	return attr, ok, nil
}

// VerifyCRC extracts name and compares it with the CRC32 recorded in
// (attributes). It reports true when there is nothing to compare against.
func (a *Archive) VerifyCRC(name string) (bool, error) {
	attr, ok, err := a.Attributes(name)
	if err != nil {
		return false, err
	}
	if !ok || a.attributes.flags&AttributeCRC32 == 0 || attr.CRC32 == 0 {
		return true, nil
	}

	data, err := a.ExtractBytes(name)
	if err != nil {
		return false, err
	}
	return crc32.ChecksumIEEE(data) == attr.CRC32, nil
}
