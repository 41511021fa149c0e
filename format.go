// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MPQ format constants
const (
	// "MPQ\x1A" and "MPQ\x1B" in little-endian
	mpqMagic      = 0x1A51504D
	mpqUserMagic  = 0x1B51504D
	headerAlign   = 0x200
	maxHeaderSize = 0xD0

	// Header sizes per format version
	headerSizeV0 = 0x20
	headerSizeV1 = 0x2C
	headerSizeV2 = 0x44
	headerSizeV3 = 0xD0

	defaultSectorSizeShift = 3
	maxSectorSizeShift     = 15
)

// FormatVersion is the header layout version of an archive.
type FormatVersion uint16

const (
	// FormatV0 is the original layout (archives up to 4GB).
	FormatV0 FormatVersion = 0
	// FormatV1 adds the hi-block table (The Burning Crusade).
	FormatV1 FormatVersion = 1
	// FormatV2 adds 64-bit archive size and HET/BET positions.
	FormatV2 FormatVersion = 2
	// FormatV3 adds table sizes and MD5 digests.
	FormatV3 FormatVersion = 3
)

// header holds the fields of an MPQ header. Offsets are relative to the
// header position.
type header struct {
	HeaderSize      uint32
	ArchiveSize     uint32
	FormatVersion   FormatVersion
	SectorSizeShift uint16
	HashTablePos    uint64
	BlockTablePos   uint64
	HashTableSize   uint32
	BlockTableSize  uint32

	// V1
	HiBlockTablePos uint64

	// V2
	ArchiveSize64 uint64
	BETTablePos   uint64
	HETTablePos   uint64
}

func (h *header) sectorSize() uint32 {
	return 512 << h.SectorSizeShift
}

func headerSizeFor(v FormatVersion) uint32 {
	switch v {
	case FormatV0:
		return headerSizeV0
	case FormatV1:
		return headerSizeV1
	case FormatV2:
		return headerSizeV2
	default:
		return headerSizeV3
	}
}

// findHeader scans r at 0x200 steps for the archive magic, following a
// user data redirect unless legacy is set.
func findHeader(r io.ReaderAt, size int64, legacy bool) (int64, error) {
	var buf [12]byte
	pos := int64(0)
	for pos+4 < size {
		if _, err := r.ReadAt(buf[:4], pos); err != nil {
			return 0, ioError("read header magic", err)
		}

		switch binary.LittleEndian.Uint32(buf[:4]) {
		case mpqMagic:
			return pos, nil
		case mpqUserMagic:
			if legacy || pos+12 > size {
				break
			}
			if _, err := r.ReadAt(buf[:12], pos); err != nil {
				return 0, ioError("read user data header", err)
			}
			if target := pos + int64(binary.LittleEndian.Uint32(buf[8:12])); target > pos {
				pos = target
				continue
			}
		}
		pos += headerAlign
	}
	return 0, ErrNoArchive
}

// readHeader parses the header at offset. fileSize is used for the legacy
// size clamps.
func readHeader(r io.ReaderAt, offset, fileSize int64, legacy bool) (*header, error) {
	var sizeBuf [4]byte
	if _, err := r.ReadAt(sizeBuf[:], offset+4); err != nil {
		return nil, ioError("read header size", err)
	}

	h := &header{HeaderSize: binary.LittleEndian.Uint32(sizeBuf[:])}
	if legacy {
		h.HeaderSize = headerSizeV0
	} else if h.HeaderSize < headerSizeV0 || h.HeaderSize > maxHeaderSize {
		return nil, fmt.Errorf("%w: %d", ErrBadHeaderSize, h.HeaderSize)
	}

	buf := make([]byte, h.HeaderSize)
	n, err := r.ReadAt(buf, offset)
	if n < headerSizeV0 {
		return nil, ioError("read header", err)
	}
	buf = buf[:n]

	h.ArchiveSize = binary.LittleEndian.Uint32(buf[8:])
	h.FormatVersion = FormatVersion(binary.LittleEndian.Uint16(buf[12:]))
	h.SectorSizeShift = binary.LittleEndian.Uint16(buf[14:])
	h.HashTablePos = uint64(binary.LittleEndian.Uint32(buf[16:]))
	h.BlockTablePos = uint64(binary.LittleEndian.Uint32(buf[20:]))
	h.HashTableSize = binary.LittleEndian.Uint32(buf[24:]) & 0x0FFFFFFF
	h.BlockTableSize = binary.LittleEndian.Uint32(buf[28:])

	if legacy {
		h.FormatVersion = FormatV0
	}
	// 512 << shift must fit in 32 bits.
	if h.SectorSizeShift > 22 {
		return nil, fmt.Errorf("%w: sector size shift %d", ErrFormat, h.SectorSizeShift)
	}

	if h.FormatVersion >= FormatV1 && len(buf) >= headerSizeV1 {
		h.HiBlockTablePos = binary.LittleEndian.Uint64(buf[32:])
		h.HashTablePos |= uint64(binary.LittleEndian.Uint16(buf[40:])) << 32
		h.BlockTablePos |= uint64(binary.LittleEndian.Uint16(buf[42:])) << 32
	}
	if h.FormatVersion >= FormatV2 && len(buf) >= headerSizeV2 {
		h.ArchiveSize64 = binary.LittleEndian.Uint64(buf[44:])
		h.BETTablePos = binary.LittleEndian.Uint64(buf[52:])
		h.HETTablePos = binary.LittleEndian.Uint64(buf[60:])
	}

	if legacy {
		h.clampLegacy(fileSize - offset)
	}
	return h, nil
}

// clampLegacy trims sizes that old tools wrote inconsistently: the archive
// cannot extend past the file and neither table can extend past the
// archive. A hash table keeps the largest power of two that fits; names
// stored in that prefix still hash to the same buckets.
func (h *header) clampLegacy(available int64) {
	if available >= 0 && int64(h.ArchiveSize) > available {
		h.ArchiveSize = uint32(available)
	}
	if h.HashTablePos <= uint64(h.ArchiveSize) {
		fit := (uint64(h.ArchiveSize) - h.HashTablePos) / hashEntrySize
		for uint64(h.HashTableSize) > fit {
			h.HashTableSize >>= 1
		}
	} else {
		h.HashTableSize = 0
	}
	if h.BlockTablePos <= uint64(h.ArchiveSize) {
		fit := (uint64(h.ArchiveSize) - h.BlockTablePos) / blockEntrySize
		if uint64(h.BlockTableSize) > fit {
			h.BlockTableSize = uint32(fit)
		}
	} else {
		h.BlockTableSize = 0
	}
}

// marshal encodes the header for its format version. V3 table sizes and
// digests are not recomputed; they are written as zero.
func (h *header) marshal() []byte {
	size := headerSizeFor(h.FormatVersion)
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:], mpqMagic)
	binary.LittleEndian.PutUint32(buf[4:], size)
	binary.LittleEndian.PutUint32(buf[8:], h.ArchiveSize)
	binary.LittleEndian.PutUint16(buf[12:], uint16(h.FormatVersion))
	binary.LittleEndian.PutUint16(buf[14:], h.SectorSizeShift)
	binary.LittleEndian.PutUint32(buf[16:], uint32(h.HashTablePos))
	binary.LittleEndian.PutUint32(buf[20:], uint32(h.BlockTablePos))
	binary.LittleEndian.PutUint32(buf[24:], h.HashTableSize)
	binary.LittleEndian.PutUint32(buf[28:], h.BlockTableSize)

	if h.FormatVersion >= FormatV1 {
		binary.LittleEndian.PutUint64(buf[32:], h.HiBlockTablePos)
		binary.LittleEndian.PutUint16(buf[40:], uint16(h.HashTablePos>>32))
		binary.LittleEndian.PutUint16(buf[42:], uint16(h.BlockTablePos>>32))
	}
	if h.FormatVersion >= FormatV2 {
		binary.LittleEndian.PutUint64(buf[44:], h.ArchiveSize64)
	}
	return buf
}
