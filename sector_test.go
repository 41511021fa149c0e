// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sectorTable(offsets ...uint32) []byte {
	buf := make([]byte, 0, len(offsets)*4)
	for _, off := range offsets {
		buf = binary.LittleEndian.AppendUint32(buf, off)
	}
	return buf
}

func TestSectorCount(t *testing.T) {
	assert.Equal(t, 0, sectorCount(0, 512))
	assert.Equal(t, 1, sectorCount(1, 512))
	assert.Equal(t, 1, sectorCount(512, 512))
	assert.Equal(t, 2, sectorCount(513, 512))
	assert.Equal(t, 2, sectorCount(0xFFFFFFFF, 1<<31))

	b := Block{FileSize: 1000, Flags: FlagExists | FlagCompress}
	assert.Equal(t, 3, sectorTableEntries(b, 512))
	b.Flags |= FlagSectorCRC
	assert.Equal(t, 4, sectorTableEntries(b, 512))
}

func TestEncodeDecodeFile(t *testing.T) {
	data := textSector(1700)
	enc := fileEncoder{sectorSize: 512, codec: defaultDeflate}

	stored, b, err := enc.encode(data, "", 0x20)
	require.NoError(t, err)
	assert.Equal(t, uint32(FlagExists|FlagCompress), b.Flags)
	assert.Equal(t, uint64(0x20), b.FilePos)
	assert.Equal(t, uint32(len(data)), b.FileSize)
	assert.Equal(t, uint32(len(stored)), b.CompressedSize)
	assert.Less(t, len(stored), len(data))

	// Four sectors and the end offset.
	assert.Equal(t, uint32(5*4), binary.LittleEndian.Uint32(stored))

	plain, err := decodeFile(stored, b, 512, 0)
	require.NoError(t, err)
	assert.Equal(t, data, plain)
}

func TestEncodeEmptyFile(t *testing.T) {
	stored, b, err := fileEncoder{sectorSize: 4096, codec: defaultDeflate}.encode(nil, "", 0x20)
	require.NoError(t, err)
	assert.Nil(t, stored)
	assert.Equal(t, Block{FilePos: 0x20, Flags: FlagExists}, b)

	plain, err := decodeFile(stored, b, 4096, 0)
	require.NoError(t, err)
	assert.Empty(t, plain)
}

func TestEncodeEncrypted(t *testing.T) {
	name := "Data\\Secret.txt"
	data := textSector(1300)
	enc := fileEncoder{sectorSize: 512, codec: defaultDeflate}

	stored, b, err := enc.encode(data, name, 0x1000)
	require.NoError(t, err)
	assert.True(t, b.HasFlag(FlagExists|FlagCompress|FlagEncrypted|FlagFixKey))

	key := fileEncryptionKey(name, 0x1000, b.FileSize, b.Flags)
	plain, err := decodeFile(stored, b, 512, key)
	require.NoError(t, err)
	assert.Equal(t, data, plain)

	// FixKey ties the key to the position.
	_, err = decodeFile(stored, b, 512, fileEncryptionKey(name, 0x2000, b.FileSize, b.Flags))
	assert.Error(t, err)

	decrypted, flags, err := decryptStored(stored, b, 512, key)
	require.NoError(t, err)
	assert.Equal(t, uint32(FlagExists|FlagCompress), flags)
	assert.Len(t, decrypted, len(stored))

	b.Flags = flags
	plain, err = decodeFile(decrypted, b, 512, 0)
	require.NoError(t, err)
	assert.Equal(t, data, plain)
}

func TestDecodeSingleUnit(t *testing.T) {
	data := textSector(3000)
	packed, err := compressSector(data, pipeline{codec: defaultDeflate})
	require.NoError(t, err)

	b := Block{FileSize: uint32(len(data)), CompressedSize: uint32(len(packed)), Flags: FlagExists | FlagSingleUnit | FlagCompress}
	plain, err := decodeFile(packed, b, 512, 0)
	require.NoError(t, err)
	assert.Equal(t, data, plain)

	const key = 0x5EED
	stored := bytes.Clone(data)
	encryptBytes(stored, key)
	b = Block{FileSize: uint32(len(data)), CompressedSize: uint32(len(stored)), Flags: FlagExists | FlagSingleUnit | FlagEncrypted}

	plain, err = decodeFile(stored, b, 512, key)
	require.NoError(t, err)
	assert.Equal(t, data, plain)

	decrypted, flags, err := decryptStored(stored, b, 512, key)
	require.NoError(t, err)
	assert.Equal(t, data, decrypted)
	assert.Equal(t, uint32(FlagExists|FlagSingleUnit), flags)
}

func TestDecodeUncompressedEncrypted(t *testing.T) {
	const key = 0xABCDEF
	data := textSector(1300)

	stored := bytes.Clone(data)
	for i := 0; i*512 < len(stored); i++ {
		encryptBytes(stored[i*512:min((i+1)*512, len(stored))], key+uint32(i))
	}
	b := Block{FileSize: uint32(len(data)), CompressedSize: uint32(len(stored)), Flags: FlagExists | FlagEncrypted}

	plain, err := decodeFile(stored, b, 512, key)
	require.NoError(t, err)
	assert.Equal(t, data, plain)

	decrypted, flags, err := decryptStored(stored, b, 512, key)
	require.NoError(t, err)
	assert.Equal(t, data, decrypted)
	assert.Equal(t, uint32(FlagExists), flags)
}

func TestDecodeSectorCRCLayout(t *testing.T) {
	data := textSector(1000)

	// Both sectors are stored raw, followed by one CRC word per sector.
	stored := sectorTable(16, 528, 1016, 1024)
	stored = append(stored, data...)
	stored = append(stored, 0xAA, 0xAA, 0xAA, 0xAA, 0xBB, 0xBB, 0xBB, 0xBB)

	b := Block{FileSize: 1000, CompressedSize: uint32(len(stored)), Flags: FlagExists | FlagCompress | FlagSectorCRC}
	plain, err := decodeFile(stored, b, 512, 0)
	require.NoError(t, err)
	assert.Equal(t, data, plain)
}

func TestDecodeImplodedFile(t *testing.T) {
	data := textSector(900)
	first, err := implodeCodec{}.compress(data[:512])
	require.NoError(t, err)
	second, err := implodeCodec{}.compress(data[512:])
	require.NoError(t, err)

	start := uint32(12)
	stored := sectorTable(start, start+uint32(len(first)), start+uint32(len(first)+len(second)))
	stored = append(stored, first...)
	stored = append(stored, second...)

	b := Block{FileSize: 900, CompressedSize: uint32(len(stored)), Flags: FlagExists | FlagImplode}
	plain, err := decodeFile(stored, b, 512, 0)
	require.NoError(t, err)
	assert.Equal(t, data, plain)
}

func TestDecodeCorruptSectorTable(t *testing.T) {
	b := Block{FileSize: 1000, Flags: FlagExists | FlagCompress}

	_, err := decodeFile(sectorTable(12, 20), b, 512, 0)
	assert.ErrorIs(t, err, ErrCorruptSector)

	// Offsets past the end of the block.
	_, err = decodeFile(sectorTable(12, 500, 9000), b, 512, 0)
	assert.ErrorIs(t, err, ErrCorruptSector)

	// Offsets going backwards.
	stored := append(sectorTable(12, 40, 30), make([]byte, 40)...)
	_, err = decodeFile(stored, b, 512, 0)
	assert.ErrorIs(t, err, ErrCorruptSector)
}

func TestEncodeWaveFile(t *testing.T) {
	data := sineWave(2048, 2)
	enc := fileEncoder{sectorSize: 4096, codec: defaultDeflate, channels: 2}

	stored, b, err := enc.encode(data, "", 0x20)
	require.NoError(t, err)

	table, err := openSectorTable(bytes.Clone(stored), 3, 0, false)
	require.NoError(t, err)
	assert.Equal(t, byte(compressionADPCM|compressionHuffman), stored[table[1]])

	plain, err := decodeFile(stored, b, 4096, 0)
	require.NoError(t, err)
	require.Len(t, plain, len(data))
	assert.Equal(t, data[:4096], plain[:4096], "first sector is lossless")
}
