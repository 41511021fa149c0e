// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package pklib

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImplodeExplode(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	random := make([]byte, 3000)
	rng.Read(random)

	text := bytes.Repeat([]byte("The quick brown fox jumps over the lazy dog.\r\n"), 200)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"single byte", []byte{0x42}},
		{"two bytes", []byte("ab")},
		{"text", text},
		{"random", random},
		{"run", bytes.Repeat([]byte{0}, 5000)},
		{"long match", append(bytes.Repeat([]byte("xy"), 10), bytes.Repeat([]byte("z"), 1200)...)},
	}

	for _, tc := range tests {
		for _, mode := range []byte{CompressionBinary, CompressionASCII} {
			for _, dict := range []int{1024, 2048, 4096} {
				comp, err := Implode(tc.data, mode, dict)
				require.NoError(t, err, tc.name)

				out, err := Explode(comp, len(tc.data))
				require.NoError(t, err, "%s mode=%d dict=%d", tc.name, mode, dict)
				assert.Equal(t, len(tc.data), len(out))
				assert.True(t, bytes.Equal(tc.data, out), "%s mode=%d dict=%d", tc.name, mode, dict)
			}
		}
	}
}

func TestImplodeShrinksRepetitiveInput(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefgh"), 512)
	comp, err := Implode(data, CompressionBinary, 4096)
	require.NoError(t, err)
	assert.Less(t, len(comp), len(data)/10)
}

func TestImplodeRejectsBadParameters(t *testing.T) {
	_, err := Implode([]byte("x"), CompressionBinary, 512)
	assert.ErrorIs(t, err, ErrBadData)

	_, err = Implode([]byte("x"), 7, 1024)
	assert.ErrorIs(t, err, ErrBadData)
}

func TestExplodeErrors(t *testing.T) {
	comp, err := Implode(bytes.Repeat([]byte("hello "), 100), CompressionBinary, 1024)
	require.NoError(t, err)

	tests := []struct {
		name string
		src  []byte
		size int
		want error
	}{
		{"too short", []byte{0, 4}, 10, ErrIncompleteInput},
		{"bad literal mode", []byte{5, 4, 0, 0}, 1, ErrBadData},
		{"bad dictionary", []byte{0, 9, 0, 0}, 1, ErrBadData},
		{"truncated", comp[:len(comp)/2], 600, ErrIncompleteInput},
		{"stream ends early", comp, 700, ErrIncompleteInput},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Explode(tc.src, tc.size)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestExplodeStopsAtSize(t *testing.T) {
	data := []byte("0123456789")
	comp, err := Implode(data, CompressionBinary, 2048)
	require.NoError(t, err)

	out, err := Explode(comp, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123"), out)
}

func TestDecodeIndexesMatchCodes(t *testing.T) {
	for i := range lenCode {
		assert.Equal(t, uint8(i), lenIndex[lenCode[i]], "length symbol %d", i)
	}
	for i := range offsCode {
		assert.Equal(t, uint8(i), offsIndex[offsCode[i]], "offset symbol %d", i)
	}
	for i := range chCode {
		assert.Equal(t, uint8(i), chIndex[chCode[i]], "literal %d", i)
	}
}
