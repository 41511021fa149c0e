// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"fmt"
)

// Block flags.
const (
	FlagImplode      = 0x00000100 // Imploded (PKWARE compression)
	FlagCompress     = 0x00000200 // Compressed (multi-algorithm)
	FlagEncrypted    = 0x00010000 // Encrypted
	FlagFixKey       = 0x00020000 // Key adjusted by block offset
	FlagPatchFile    = 0x00100000 // Patch file
	FlagSingleUnit   = 0x01000000 // Single unit (not split into sectors)
	FlagDeleteMarker = 0x02000000 // File is a deletion marker
	FlagSectorCRC    = 0x04000000 // Sector CRC values after data
	FlagExists       = 0x80000000 // File exists
)

const blockEntrySize = 16

// Block describes how one stored entry is laid out in the archive.
// FilePos is relative to the archive header.
type Block struct {
	FilePos        uint64
	CompressedSize uint32
	FileSize       uint32
	Flags          uint32
}

// HasFlag reports whether all bits of flag are set.
func (b Block) HasFlag(flag uint32) bool {
	return b.Flags&flag == flag
}

// Exists reports whether the slot holds a live entry.
func (b Block) Exists() bool {
	return b.Flags&FlagExists != 0
}

// BlockTable is the ordered list of blocks of an archive.
type BlockTable struct {
	blocks []Block
}

// NewBlockTable returns a table holding blocks.
func NewBlockTable(blocks []Block) *BlockTable {
	return &BlockTable{blocks: blocks}
}

// parseBlockTable decodes an encrypted on-disk block table. Entries that do
// not fit completely in data are dropped.
func parseBlockTable(data []byte) *BlockTable {
	buf := make([]byte, len(data))
	copy(buf, data)
	decryptBytes(buf, blockTableKey)

	blocks := make([]Block, len(buf)/blockEntrySize)
	for i := range blocks {
		e := buf[i*blockEntrySize:]
		blocks[i] = Block{
			FilePos:        uint64(binary.LittleEndian.Uint32(e[0:])),
			CompressedSize: binary.LittleEndian.Uint32(e[4:]),
			FileSize:       binary.LittleEndian.Uint32(e[8:]),
			Flags:          binary.LittleEndian.Uint32(e[12:]),
		}
	}
	return &BlockTable{blocks: blocks}
}

// applyHiPositions merges the hi-block table (upper 16 bits of each
// position) into the table.
func (t *BlockTable) applyHiPositions(hi []uint16) {
	for i := range t.blocks {
		if i < len(hi) {
			t.blocks[i].FilePos |= uint64(hi[i]) << 32
		}
	}
}

// Len returns the number of slots, live or not.
func (t *BlockTable) Len() int {
	return len(t.blocks)
}

// At returns the block in slot pos.
func (t *BlockTable) At(pos int) (Block, error) {
	if pos < 0 || pos >= len(t.blocks) {
		return Block{}, fmt.Errorf("%w: block index %d outside table of %d", ErrFormat, pos, len(t.blocks))
	}
	return t.blocks[pos], nil
}

// Valid returns the live blocks, in table order.
func (t *BlockTable) Valid() []Block {
	var valid []Block
	for _, b := range t.blocks {
		if b.Exists() {
			valid = append(valid, b)
		}
	}
	return valid
}

// needsHiPositions reports whether any position exceeds 32 bits.
func (t *BlockTable) needsHiPositions() bool {
	for _, b := range t.blocks {
		if b.FilePos > 0xFFFFFFFF {
			return true
		}
	}
	return false
}

// marshal encodes and encrypts the table.
func (t *BlockTable) marshal() []byte {
	buf := make([]byte, len(t.blocks)*blockEntrySize)
	for i, b := range t.blocks {
		e := buf[i*blockEntrySize:]
		binary.LittleEndian.PutUint32(e[0:], uint32(b.FilePos))
		binary.LittleEndian.PutUint32(e[4:], b.CompressedSize)
		binary.LittleEndian.PutUint32(e[8:], b.FileSize)
		binary.LittleEndian.PutUint32(e[12:], b.Flags)
	}
	encryptBytes(buf, blockTableKey)
	return buf
}

// marshalHiPositions encodes the hi-block table.
func (t *BlockTable) marshalHiPositions() []byte {
	buf := make([]byte, len(t.blocks)*2)
	for i, b := range t.blocks {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(b.FilePos>>32))
	}
	return buf
}
