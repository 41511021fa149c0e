// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"fmt"
)

// maxPrealloc bounds buffers sized from untrusted plain sizes; they grow
// past it only as data actually decodes.
const maxPrealloc = 1 << 20

func sectorCount(size, sectorSize uint32) int {
	return int((uint64(size) + uint64(sectorSize) - 1) / uint64(sectorSize))
}

// sectorTableEntries is the number of offsets stored in front of a
// compressed multi-sector file: one per sector, one for the end of the data
// and one more for the end of the CRC block when the file carries one.
func sectorTableEntries(b Block, sectorSize uint32) int {
	n := sectorCount(b.FileSize, sectorSize) + 1
	if b.HasFlag(FlagSectorCRC) {
		n++
	}
	return n
}

func isCompressed(b Block) bool {
	return b.Flags&(FlagCompress|FlagImplode) != 0
}

// openSectorTable decrypts the offset table at the front of buf in place
// and returns the offsets.
func openSectorTable(buf []byte, entries int, key uint32, encrypted bool) ([]uint32, error) {
	if len(buf) < entries*4 {
		return nil, fmt.Errorf("%w: sector table needs %d bytes, block has %d", ErrCorruptSector, entries*4, len(buf))
	}
	if encrypted {
		decryptBytes(buf[:entries*4], key-1)
	}

	offsets := make([]uint32, entries)
	for i := range offsets {
		offsets[i] = binary.LittleEndian.Uint32(buf[i*4:])
		if offsets[i] > uint32(len(buf)) || (i > 0 && offsets[i] < offsets[i-1]) {
			return nil, fmt.Errorf("%w: sector offset %d out of order", ErrCorruptSector, i)
		}
	}
	return offsets, nil
}

// decodeFile turns the stored bytes of b into the plain file content. key
// is only used when b is encrypted.
func decodeFile(stored []byte, b Block, sectorSize uint32, key uint32) ([]byte, error) {
	size := int(b.FileSize)
	if size == 0 {
		return []byte{}, nil
	}
	encrypted := b.HasFlag(FlagEncrypted)
	buf := make([]byte, len(stored))
	copy(buf, stored)

	if b.HasFlag(FlagSingleUnit) {
		if encrypted {
			decryptBytes(buf, key)
		}
		if !isCompressed(b) {
			if len(buf) < size {
				return nil, fmt.Errorf("%w: single unit holds %d of %d bytes", ErrCorruptSector, len(buf), size)
			}
			return buf[:size], nil
		}
		return decodeSector(buf, size, b.Flags)
	}

	n := sectorCount(b.FileSize, sectorSize)

	if !isCompressed(b) {
		if len(buf) < size {
			return nil, fmt.Errorf("%w: block holds %d of %d bytes", ErrCorruptSector, len(buf), size)
		}
		out := make([]byte, 0, size)
		for i := 0; i < n; i++ {
			start := i * int(sectorSize)
			chunk := buf[start:min(start+int(sectorSize), size)]
			if encrypted {
				decryptBytes(chunk, key+uint32(i))
			}
			out = append(out, chunk...)
		}
		return out, nil
	}

	offsets, err := openSectorTable(buf, sectorTableEntries(b, sectorSize), key, encrypted)
	if err != nil {
		return nil, err
	}
	// FileSize is unchecked until the sectors decode, so it only caps the
	// initial allocation.
	out := make([]byte, 0, min(size, maxPrealloc))
	for i := 0; i < n; i++ {
		chunk := buf[offsets[i]:offsets[i+1]]
		if encrypted {
			decryptBytes(chunk, key+uint32(i))
		}
		expected := min(int(sectorSize), size-i*int(sectorSize))
		plain, err := decodeSector(chunk, expected, b.Flags)
		if err != nil {
			return nil, fmt.Errorf("sector %d: %w", i, err)
		}
		out = append(out, plain...)
	}
	return out, nil
}

func decodeSector(data []byte, expected int, flags uint32) ([]byte, error) {
	if flags&FlagImplode != 0 {
		return explodeSector(data, expected)
	}
	return decompressSector(data, expected)
}

// decryptStored removes the encryption from the stored bytes of b without
// touching compression, so they can be written at a new position. It
// returns the bytes and the flags to store them under.
func decryptStored(stored []byte, b Block, sectorSize uint32, key uint32) ([]byte, uint32, error) {
	if !b.HasFlag(FlagEncrypted) || b.FileSize == 0 {
		return stored, b.Flags &^ (FlagEncrypted | FlagFixKey), nil
	}

	buf := make([]byte, len(stored))
	copy(buf, stored)
	flags := b.Flags &^ (FlagEncrypted | FlagFixKey)

	if b.HasFlag(FlagSingleUnit) {
		decryptBytes(buf, key)
		return buf, flags, nil
	}

	n := sectorCount(b.FileSize, sectorSize)
	if !isCompressed(b) {
		for i := 0; i < n; i++ {
			start := i * int(sectorSize)
			if start >= len(buf) {
				break
			}
			decryptBytes(buf[start:min(start+int(sectorSize), len(buf))], key+uint32(i))
		}
		return buf, flags, nil
	}

	offsets, err := openSectorTable(buf, sectorTableEntries(b, sectorSize), key, true)
	if err != nil {
		return nil, 0, err
	}
	for i := 0; i < n; i++ {
		decryptBytes(buf[offsets[i]:offsets[i+1]], key+uint32(i))
	}
	return buf, flags, nil
}

// fileEncoder writes new file content as a compressed multi-sector block.
type fileEncoder struct {
	sectorSize uint32
	codec      codec

	// channels is non-zero for sound files: the first sector goes through
	// codec and the rest through ADPCM and Huffman.
	channels int
}

// encode returns the stored bytes and the block describing them. filePos
// is the header-relative position the bytes will be written at; it only
// matters when encryptAs names the file to encrypt under.
func (e fileEncoder) encode(data []byte, encryptAs string, filePos uint32) ([]byte, Block, error) {
	b := Block{FilePos: uint64(filePos), FileSize: uint32(len(data)), Flags: FlagExists}
	if len(data) == 0 {
		return nil, b, nil
	}
	b.Flags |= FlagCompress

	var key uint32
	if encryptAs != "" {
		b.Flags |= FlagEncrypted | FlagFixKey
		key = fileEncryptionKey(encryptAs, filePos, b.FileSize, b.Flags)
	}

	n := sectorCount(b.FileSize, e.sectorSize)
	tableSize := (n + 1) * 4
	out := make([]byte, tableSize, tableSize+len(data))
	offsets := make([]uint32, n+1)
	offsets[0] = uint32(tableSize)

	for i := 0; i < n; i++ {
		start := i * int(e.sectorSize)
		raw := data[start:min(start+int(e.sectorSize), len(data))]

		p := pipeline{codec: e.codec}
		if e.channels > 0 && i > 0 {
			p = wavePipeline(e.channels)
		}
		sector, err := compressSector(raw, p)
		if err != nil {
			return nil, Block{}, fmt.Errorf("sector %d: %w", i, err)
		}
		if sector == nil {
			sector = append([]byte(nil), raw...)
		}
		if encryptAs != "" {
			encryptBytes(sector, key+uint32(i))
		}
		out = append(out, sector...)
		offsets[i+1] = uint32(len(out))
	}

	for i, off := range offsets {
		binary.LittleEndian.PutUint32(out[i*4:], off)
	}
	if encryptAs != "" {
		encryptBytes(out[:tableSize], key-1)
	}

	b.CompressedSize = uint32(len(out))
	return out, b, nil
}
