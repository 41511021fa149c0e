// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suprsokr/mpqedit/internal/adpcm"
	"github.com/suprsokr/mpqedit/internal/huffman"
)

func textSector(n int) []byte {
	phrase := []byte("The quick brown fox jumps over the lazy dog. ")
	return bytes.Repeat(phrase, n/len(phrase)+1)[:n]
}

// sineWave returns 16-bit PCM samples of a slow sine for channels.
func sineWave(frames, channels int) []byte {
	buf := make([]byte, 0, frames*channels*2)
	for i := 0; i < frames; i++ {
		v := int16(8000 * math.Sin(float64(i)/16))
		for c := 0; c < channels; c++ {
			buf = binary.LittleEndian.AppendUint16(buf, uint16(v))
		}
	}
	return buf
}

func TestCompressSectorRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		codec codec
		mask  byte
	}{
		{"deflate", defaultDeflate, compressionZlib},
		{"strong", strongCodec{iterations: 4}, compressionZlib},
		{"implode", implodeCodec{}, compressionPKWare},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for _, size := range []int{100, 0x5FF, 0xBFF, 4096} {
				raw := textSector(size)
				packed, err := compressSector(raw, pipeline{codec: tc.codec})
				require.NoError(t, err)
				require.NotNil(t, packed, "size %d", size)
				assert.Equal(t, tc.mask, packed[0])
				assert.Less(t, len(packed), len(raw))

				plain, err := decompressSector(packed, len(raw))
				require.NoError(t, err)
				assert.Equal(t, raw, plain)
			}
		})
	}
}

func TestCompressSectorKeepsIncompressible(t *testing.T) {
	raw := make([]byte, 64)
	for i := range raw {
		raw[i] = byte(i * 97)
	}
	packed, err := compressSector(raw, pipeline{codec: defaultDeflate})
	require.NoError(t, err)
	assert.Nil(t, packed)

	packed, err = compressSector(textSector(512), pipeline{})
	require.NoError(t, err)
	assert.Nil(t, packed, "no stages")
}

func TestStrongCodecIsNoWorse(t *testing.T) {
	raw := textSector(4096)
	plain, err := defaultDeflate.compress(raw)
	require.NoError(t, err)
	strong, err := strongCodec{iterations: 16}.compress(raw)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(strong), len(plain))
}

func TestWavePipelineRoundTrip(t *testing.T) {
	for _, channels := range []int{1, 2} {
		raw := sineWave(1024, channels)
		packed, err := compressSector(raw, wavePipeline(channels))
		require.NoError(t, err)
		require.NotNil(t, packed)

		want := byte(compressionADPCMMono | compressionHuffman)
		if channels == 2 {
			want = compressionADPCM | compressionHuffman
		}
		assert.Equal(t, want, packed[0])

		plain, err := decompressSector(packed, len(raw))
		require.NoError(t, err)
		// ADPCM is lossy; only the length is exact.
		assert.Len(t, plain, len(raw))
	}
}

func TestWavePipelineOddLengthFallsBack(t *testing.T) {
	raw := textSector(1001)
	packed, err := compressSector(raw, wavePipeline(2))
	require.NoError(t, err)
	require.NotNil(t, packed)
	assert.Equal(t, byte(compressionZlib), packed[0])

	plain, err := decompressSector(packed, len(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, plain)
}

func TestDecompressSectorRawPassThrough(t *testing.T) {
	raw := []byte{0x10, 1, 2, 3, 4, 5, 6, 7}
	plain, err := decompressSector(raw, len(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, plain)
}

func TestDecompressSectorUnsupported(t *testing.T) {
	for _, mask := range []byte{compressionLZMA, compressionBzip2, compressionSparse, compressionSparse | compressionZlib, 0x04} {
		_, err := decompressSector([]byte{mask, 1, 2, 3}, 100)
		assert.ErrorIs(t, err, ErrUnsupportedCompression, "mask 0x%02X", mask)
		assert.ErrorIs(t, err, ErrFormat, "mask 0x%02X", mask)
	}
}

func TestDecompressSectorCorrupt(t *testing.T) {
	_, err := decompressSector([]byte{compressionZlib, 0xDE, 0xAD, 0xBE, 0xEF}, 100)
	assert.ErrorIs(t, err, ErrCorruptSector)

	_, err = decompressSector(nil, 100)
	assert.ErrorIs(t, err, ErrCorruptSector)

	// A valid stream of the wrong length.
	packed, err := compressSector(textSector(600), pipeline{codec: defaultDeflate})
	require.NoError(t, err)
	_, err = decompressSector(packed, 700)
	assert.ErrorIs(t, err, ErrCorruptSector)
}

func TestDecompressSectorUnknownHuffmanTable(t *testing.T) {
	// The first byte of a Huffman stream selects the weight table.
	_, err := decompressSector([]byte{compressionHuffman, 0x09, 0xFF, 0xFF, 0xFF}, 100)
	assert.ErrorIs(t, err, ErrUnsupportedCompression)
}

func TestDecompressSectorSoundHuffmanTypes(t *testing.T) {
	raw := sineWave(1024, 1)
	packed, err := adpcm.Compress(raw, 1, adpcm.DefaultLevel)
	require.NoError(t, err)
	want, err := adpcm.Decompress(packed, 1, len(raw))
	require.NoError(t, err)

	// Other writers pick the Huffman type from the ADPCM bit depth.
	for _, typ := range []byte{6, 7, 8} {
		stream, err := huffman.Compress(packed, typ)
		require.NoError(t, err)

		sector := append([]byte{compressionADPCMMono | compressionHuffman}, stream...)
		plain, err := decompressSector(sector, len(raw))
		require.NoError(t, err, "type %d", typ)
		assert.Equal(t, want, plain, "type %d", typ)
	}
}

func TestExplodeSector(t *testing.T) {
	raw := textSector(3000)
	packed, err := implodeCodec{}.compress(raw)
	require.NoError(t, err)

	plain, err := explodeSector(packed, len(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, plain)

	plain, err = explodeSector(raw[:50], 50)
	require.NoError(t, err)
	assert.Equal(t, raw[:50], plain)
}
