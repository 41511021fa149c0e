// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	localeGerman  uint16 = 0x407
	localeFrench  uint16 = 0x40c
	localeRussian uint16 = 0x419
)

func TestNewHashTableRejectsBadCapacity(t *testing.T) {
	for _, capacity := range []int{0, -4, 3, 12, 100} {
		_, err := NewHashTable(capacity)
		assert.ErrorIs(t, err, ErrBadHashTableSize, "capacity %d", capacity)
		assert.ErrorIs(t, err, ErrFormat, "capacity %d", capacity)
	}
}

func TestSetThenGet(t *testing.T) {
	for _, capacity := range []int{1, 2, 8, 64, 1024} {
		table, err := NewHashTable(capacity)
		require.NoError(t, err)

		count := min(capacity, 20)
		for i := 0; i < count; i++ {
			require.NoError(t, table.SetBlockIndex(fmt.Sprintf("Data\\File%d.txt", i), LocaleNeutral, i))
		}
		for i := 0; i < count; i++ {
			idx, ok := table.BlockIndex(fmt.Sprintf("data/file%d.TXT", i), LocaleNeutral)
			require.True(t, ok, "capacity %d file %d", capacity, i)
			assert.Equal(t, uint32(i), idx)
		}
		assert.Equal(t, count, table.Len())
	}
}

func TestLocaleFallback(t *testing.T) {
	table, err := NewHashTable(8)
	require.NoError(t, err)

	name := "Sound\\Speech.wav"
	require.NoError(t, table.SetBlockIndex(name, LocaleNeutral, 1))
	require.NoError(t, table.SetBlockIndex(name, localeGerman, 2))
	require.NoError(t, table.SetBlockIndex(name, localeFrench, 3))

	tests := []struct {
		locale uint16
		want   uint32
	}{
		{LocaleNeutral, 1},
		{localeGerman, 2},
		{localeFrench, 3},
		{localeRussian, 1},
	}
	for _, tc := range tests {
		idx, ok := table.BlockIndex(name, tc.locale)
		require.True(t, ok)
		assert.Equal(t, tc.want, idx, "locale 0x%X", tc.locale)
	}
}

func TestLocaleFallbackWithoutNeutral(t *testing.T) {
	table, err := NewHashTable(8)
	require.NoError(t, err)

	name := "Sound\\Speech.wav"
	require.NoError(t, table.SetBlockIndex(name, localeGerman, 5))
	require.NoError(t, table.SetBlockIndex(name, localeFrench, 6))

	idx, ok := table.BlockIndex(name, localeRussian)
	require.True(t, ok)
	assert.Equal(t, uint32(5), idx)
}

func TestSetBlockIndexReplacesSameLocale(t *testing.T) {
	table, err := NewHashTable(4)
	require.NoError(t, err)

	require.NoError(t, table.SetBlockIndex("a.txt", LocaleNeutral, 1))
	require.NoError(t, table.SetBlockIndex("A.TXT", LocaleNeutral, 7))
	assert.Equal(t, 1, table.Len())

	idx, ok := table.BlockIndex("a.txt", LocaleNeutral)
	require.True(t, ok)
	assert.Equal(t, uint32(7), idx)
}

func TestSetBlockIndexErrors(t *testing.T) {
	table, err := NewHashTable(4)
	require.NoError(t, err)

	err = table.SetBlockIndex("negative.txt", LocaleNeutral, -1)
	assert.ErrorIs(t, err, ErrNegativeBlockIndex)
	assert.ErrorIs(t, err, ErrUsage)

	for i := 0; i < 4; i++ {
		require.NoError(t, table.SetBlockIndex(fmt.Sprintf("file%d", i), LocaleNeutral, i))
	}
	err = table.SetBlockIndex("one too many", LocaleNeutral, 4)
	assert.ErrorIs(t, err, ErrHashTableFull)
	assert.ErrorIs(t, err, ErrCapacity)
}

func TestRemove(t *testing.T) {
	table, err := NewHashTable(8)
	require.NoError(t, err)

	name := "Interface\\Glue.blp"
	require.NoError(t, table.SetBlockIndex(name, LocaleNeutral, 0))
	require.NoError(t, table.SetBlockIndex(name, localeGerman, 1))

	require.NoError(t, table.Remove(name, localeGerman))
	idx, ok := table.BlockIndex(name, localeGerman)
	require.True(t, ok)
	assert.Equal(t, uint32(0), idx, "falls back to neutral")

	assert.ErrorIs(t, table.Remove(name, localeFrench), ErrFileNotFound)
}

func TestRemoveAllLocales(t *testing.T) {
	table, err := NewHashTable(8)
	require.NoError(t, err)

	name := "Sound\\Speech.wav"
	for i, locale := range []uint16{LocaleNeutral, localeGerman, localeFrench} {
		require.NoError(t, table.SetBlockIndex(name, locale, i))
	}
	require.NoError(t, table.SetBlockIndex("other.txt", LocaleNeutral, 3))

	require.NoError(t, table.RemoveAll(name))
	assert.False(t, table.HasFile(name))
	for _, locale := range []uint16{LocaleNeutral, localeGerman, localeFrench, localeRussian} {
		_, ok := table.BlockIndex(name, locale)
		assert.False(t, ok, "locale 0x%X", locale)
	}
	assert.True(t, table.HasFile("other.txt"))

	assert.ErrorIs(t, table.RemoveAll(name), ErrFileNotFound)
}

func TestNegativeBlockIndexIsNoMapping(t *testing.T) {
	for _, bi := range []uint32{0xFFFFFFF0, 0x80000000} {
		table, err := NewHashTable(8)
		require.NoError(t, err)

		name := "war3map.j"
		require.NoError(t, table.SetBlockIndex(name, LocaleNeutral, 0))
		idx := table.entryIndex(name, LocaleNeutral)
		require.NotEqual(t, -1, idx)
		table.buckets[idx].blockIndex = bi

		_, ok := table.BlockIndex(name, LocaleNeutral)
		assert.False(t, ok, "block index 0x%X", bi)
		assert.False(t, table.HasFile(name), "block index 0x%X", bi)
	}
}

func TestRemovedRunsCollapse(t *testing.T) {
	table, err := NewHashTable(16)
	require.NoError(t, err)

	names := make([]string, 6)
	for i := range names {
		names[i] = fmt.Sprintf("Units\\Model%02d.mdx", i)
		require.NoError(t, table.SetBlockIndex(names[i], LocaleNeutral, i))
	}
	for _, name := range names {
		require.NoError(t, table.Remove(name, LocaleNeutral))
	}

	assert.Equal(t, 0, table.Len())
	for i, b := range table.buckets {
		assert.Equal(t, uint32(hashTableEmpty), b.blockIndex, "bucket %d", i)
	}
}

func TestLookupSkipsTombstones(t *testing.T) {
	// Both buckets are in use, so the removal leaves a tombstone.
	table, err := NewHashTable(2)
	require.NoError(t, err)

	require.NoError(t, table.SetBlockIndex("first", LocaleNeutral, 0))
	require.NoError(t, table.SetBlockIndex("second", LocaleNeutral, 1))
	require.NoError(t, table.Remove("first", LocaleNeutral))

	idx, ok := table.BlockIndex("second", LocaleNeutral)
	require.True(t, ok)
	assert.Equal(t, uint32(1), idx)

	require.NoError(t, table.SetBlockIndex("third", LocaleNeutral, 2))
	assert.Equal(t, 2, table.Len())
}

func TestHashTableDiskRoundTrip(t *testing.T) {
	table, err := NewHashTable(16)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, table.SetBlockIndex(fmt.Sprintf("f%d", i), uint16(i%3), i))
	}
	require.NoError(t, table.Remove("f4", 1))

	data := table.marshal()
	parsed, err := parseHashTable(data, 16)
	require.NoError(t, err)

	assert.Equal(t, data, parsed.marshal())
	assert.Equal(t, table.Len(), parsed.Len())
	idx, ok := parsed.BlockIndex("f7", 1)
	require.True(t, ok)
	assert.Equal(t, uint32(7), idx)
}

func TestParseHashTableTruncated(t *testing.T) {
	_, err := parseHashTable(make([]byte, 20), 2)
	assert.ErrorIs(t, err, ErrFormat)
}
