// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockTableParse(t *testing.T) {
	blocks := []Block{
		{FilePos: 0x20, CompressedSize: 100, FileSize: 200, Flags: FlagExists | FlagCompress},
		{FilePos: 0x84, CompressedSize: 0, FileSize: 0, Flags: 0},
		{FilePos: 0x84, CompressedSize: 48, FileSize: 48, Flags: FlagExists | FlagEncrypted | FlagFixKey},
	}
	data := NewBlockTable(blocks).marshal()
	require.Len(t, data, len(blocks)*blockEntrySize)

	parsed := parseBlockTable(data)
	assert.Equal(t, blocks, parsed.blocks)
	assert.Len(t, parsed.Valid(), 2)
}

func TestBlockTableParseDropsPartialEntry(t *testing.T) {
	data := NewBlockTable([]Block{
		{FilePos: 1, Flags: FlagExists},
		{FilePos: 2, Flags: FlagExists},
	}).marshal()

	parsed := parseBlockTable(data[:blockEntrySize+7])
	assert.Equal(t, 1, parsed.Len())
}

func TestBlockTableAt(t *testing.T) {
	table := NewBlockTable([]Block{{FilePos: 5, Flags: FlagExists}})

	b, err := table.At(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), b.FilePos)

	for _, pos := range []int{-1, 1, 100} {
		_, err := table.At(pos)
		assert.ErrorIs(t, err, ErrFormat, "pos %d", pos)
	}
}

func TestBlockHasFlag(t *testing.T) {
	b := Block{Flags: FlagExists | FlagEncrypted}
	assert.True(t, b.HasFlag(FlagEncrypted))
	assert.False(t, b.HasFlag(FlagEncrypted|FlagFixKey))
	assert.True(t, b.Exists())
	assert.False(t, Block{Flags: FlagCompress}.Exists())
}

func TestBlockTableHiPositions(t *testing.T) {
	table := NewBlockTable([]Block{
		{FilePos: 0x20, Flags: FlagExists},
		{FilePos: 0x1_0000_0040, Flags: FlagExists},
	})
	require.True(t, table.needsHiPositions())

	lo := parseBlockTable(table.marshal())
	assert.Equal(t, uint64(0x40), lo.blocks[1].FilePos)

	hiData := table.marshalHiPositions()
	hi := []uint16{
		uint16(hiData[0]) | uint16(hiData[1])<<8,
		uint16(hiData[2]) | uint16(hiData[3])<<8,
	}
	lo.applyHiPositions(hi)
	assert.Equal(t, table.blocks, lo.blocks)
	assert.False(t, NewBlockTable(table.blocks[:1]).needsHiPositions())
}
