// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainPriority(t *testing.T) {
	dir := t.TempDir()
	base := buildArchive(t, dir, "base.mpq", []testFile{
		{"Data\\Shared.txt", []byte("base")},
		{"Data\\BaseOnly.txt", []byte("base only")},
	})
	patch := buildArchive(t, dir, "patch.mpq", []testFile{
		{"data\\shared.TXT", []byte("patch")},
		{"Data\\PatchOnly.txt", []byte("patch only")},
	})

	logger, _ := quietLogger()
	chain, err := OpenChain([]string{base, patch}, WithLogger(logger))
	require.NoError(t, err)
	defer chain.Close()

	assert.Equal(t, 2, chain.Len())

	tests := []struct {
		name string
		want string
	}{
		{"Data\\Shared.txt", "patch"},
		{"Data\\BaseOnly.txt", "base only"},
		{"Data/PatchOnly.txt", "patch only"},
	}
	for _, tc := range tests {
		assert.True(t, chain.HasFile(tc.name), tc.name)
		got, err := chain.ExtractBytes(tc.name)
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.want, string(got), tc.name)
	}

	assert.False(t, chain.HasFile("Data\\Missing.txt"))
	_, err = chain.ExtractBytes("Data\\Missing.txt")
	assert.ErrorIs(t, err, ErrFileNotFound)

	assert.ElementsMatch(t,
		[]string{"Data\\Shared.txt", "Data\\BaseOnly.txt", "Data\\PatchOnly.txt"},
		chain.ListEntries())

	dest := filepath.Join(dir, "out", "shared.txt")
	require.NoError(t, chain.ExtractFile("Data\\Shared.txt", dest))
	assert.FileExists(t, dest)
}

func TestChainDeleteMarker(t *testing.T) {
	dir := t.TempDir()
	base := buildArchive(t, dir, "base.mpq", []testFile{
		{"Data\\Removed.txt", []byte("old")},
		{"Data\\Kept.txt", []byte("kept")},
	})
	patch := buildArchive(t, dir, "patch.mpq", []testFile{
		{"Data\\Removed.txt", []byte{}},
	})

	// Turn the patch entry into a deletion marker.
	archive := openQuiet(t, patch)
	idx, _, err := archive.lookup("Data\\Removed.txt")
	require.NoError(t, err)
	archive.blockTable.blocks[idx].Flags |= FlagDeleteMarker
	opts := DefaultCloseOptions()
	opts.Rebuild = RebuildAlways
	require.NoError(t, archive.CloseWith(opts))

	logger, _ := quietLogger()
	chain, err := OpenChain([]string{base, patch}, WithLogger(logger))
	require.NoError(t, err)
	defer chain.Close()

	assert.False(t, chain.HasFile("Data\\Removed.txt"))
	assert.False(t, chain.hasFileLinear("Data\\Removed.txt"))
	_, err = chain.ExtractBytes("Data\\Removed.txt")
	assert.ErrorIs(t, err, ErrFileNotFound)

	assert.True(t, chain.HasFile("Data\\Kept.txt"))
	assert.Equal(t, []string{"Data\\Kept.txt"}, chain.ListEntries())
}

func TestChainUsesHashTableForUnlistedNames(t *testing.T) {
	dir := t.TempDir()
	logger, _ := quietLogger()
	path := filepath.Join(dir, "nolist.mpq")

	archive, err := Create(path, WithLogger(logger))
	require.NoError(t, err)
	require.NoError(t, archive.InsertBytes("hidden.txt", []byte("hidden"), false))
	opts := DefaultCloseOptions()
	opts.WriteListfile = false
	require.NoError(t, archive.CloseWith(opts))

	chain, err := OpenChain([]string{path}, WithLogger(logger))
	require.NoError(t, err)
	defer chain.Close()

	assert.Empty(t, chain.ListEntries())
	got, err := chain.ExtractBytes("hidden.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hidden"), got)
}

func TestOpenChainFailureClosesOpened(t *testing.T) {
	dir := t.TempDir()
	base := buildArchive(t, dir, "base.mpq", []testFile{{"a.txt", []byte("a")}})

	logger, _ := quietLogger()
	_, err := OpenChain([]string{base, filepath.Join(dir, "missing.mpq")}, WithLogger(logger))
	assert.ErrorIs(t, err, ErrIO)
}

func TestChainIsReadOnly(t *testing.T) {
	base := buildArchive(t, t.TempDir(), "base.mpq", []testFile{{"a.txt", []byte("a")}})

	logger, _ := quietLogger()
	chain, err := OpenChain([]string{base}, WithLogger(logger))
	require.NoError(t, err)
	defer chain.Close()

	for _, archive := range chain.archives {
		assert.False(t, archive.Writable())
	}
}
