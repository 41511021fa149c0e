// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/suprsokr/mpqedit/internal/adpcm"
	"github.com/suprsokr/mpqedit/internal/huffman"
	"github.com/suprsokr/mpqedit/internal/pklib"
)

// Compression mask bits of the byte that prefixes a compressed sector.
const (
	compressionHuffman   = 0x01 // Huffman (used on wave files only)
	compressionZlib      = 0x02 // Zlib compression
	compressionPKWare    = 0x08 // PKWare DCL compression
	compressionBzip2     = 0x10 // BZip2 compression
	compressionSparse    = 0x20 // Sparse/RLE compression (SC2+)
	compressionADPCMMono = 0x40 // ADPCM mono audio
	compressionADPCM     = 0x80 // ADPCM stereo audio
	compressionLZMA      = 0x12 // LZMA compression (SC2+)

	knownCompressionBits = compressionHuffman | compressionZlib | compressionPKWare |
		compressionADPCMMono | compressionADPCM
)

// codec is a general purpose compression backend. It produces the payload
// for one mask bit.
type codec interface {
	mask() byte
	compress(src []byte) ([]byte, error)
}

// deflateCodec is the zlib backend at a fixed level.
type deflateCodec struct {
	level int
}

func (deflateCodec) mask() byte { return compressionZlib }

func (c deflateCodec) compress(src []byte) ([]byte, error) {
	return zlibCompress(src, c.level)
}

var defaultDeflate = deflateCodec{level: zlib.BestCompression}

// strongCodec tries several zlib levels and keeps the smallest result.
// iterations caps the number of attempts.
type strongCodec struct {
	iterations int
}

var strongLevels = []int{
	zlib.BestCompression, 8, 7, 6, 5, 4, 3, 2, zlib.BestSpeed, zlib.HuffmanOnly,
}

func (strongCodec) mask() byte { return compressionZlib }

func (c strongCodec) compress(src []byte) ([]byte, error) {
	attempts := min(max(c.iterations, 1), len(strongLevels))

	var best []byte
	for _, level := range strongLevels[:attempts] {
		out, err := zlibCompress(src, level)
		if err != nil {
			return nil, err
		}
		if best == nil || len(out) < len(best) {
			best = out
		}
	}
	return best, nil
}

// implodeCodec is the PKWare DCL backend in binary mode. The dictionary
// grows with the input the way the classic tools pick it.
type implodeCodec struct{}

func (implodeCodec) mask() byte { return compressionPKWare }

func (implodeCodec) compress(src []byte) ([]byte, error) {
	dict := 4096
	switch {
	case len(src) < 0x600:
		dict = 1024
	case len(src) < 0xC00:
		dict = 2048
	}
	return pklib.Implode(src, pklib.CompressionBinary, dict)
}

func zlibCompress(src []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("create zlib writer: %w", err)
	}
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("zlib write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zlib close: %w", err)
	}
	return buf.Bytes(), nil
}

// pipeline selects the stages applied to one sector, in compression order:
// ADPCM, then Huffman, then the general purpose codec.
type pipeline struct {
	channels int
	huffman  bool
	codec    codec
}

// wavePipeline packs sound sectors after the first one.
func wavePipeline(channels int) pipeline {
	return pipeline{channels: channels, huffman: true}
}

// compressSector runs raw through p and returns the mask byte followed by
// the payload. It returns nil when the result would not be smaller than raw
// by more than the mask byte, in which case the sector is stored raw.
func compressSector(raw []byte, p pipeline) ([]byte, error) {
	if p.channels > 0 && len(raw)%(2*p.channels) != 0 {
		p = pipeline{codec: defaultDeflate}
	}

	var mask byte
	data := raw
	var err error

	if p.channels > 0 {
		if data, err = adpcm.Compress(data, p.channels, adpcm.DefaultLevel); err != nil {
			return nil, fmt.Errorf("adpcm: %w", err)
		}
		mask = compressionADPCMMono
		if p.channels == 2 {
			mask = compressionADPCM
		}
	}
	if p.huffman {
		if data, err = huffman.Compress(data, 0); err != nil {
			return nil, fmt.Errorf("huffman: %w", err)
		}
		mask |= compressionHuffman
	}
	if p.codec != nil {
		if data, err = p.codec.compress(data); err != nil {
			return nil, err
		}
		mask |= p.codec.mask()
	}

	if mask == 0 || len(data)+1 >= len(raw) {
		return nil, nil
	}
	out := make([]byte, 1+len(data))
	out[0] = mask
	copy(out[1:], data)
	return out, nil
}

// decompressSector decodes one stored sector of a FlagCompress file whose
// plain size is expected. A sector that is exactly expected bytes long was
// stored raw.
func decompressSector(data []byte, expected int) ([]byte, error) {
	if len(data) == expected {
		return data, nil
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty sector", ErrCorruptSector)
	}

	mask := data[0]
	switch {
	case mask == compressionLZMA:
		return nil, fmt.Errorf("%w: LZMA", ErrUnsupportedCompression)
	case mask&compressionBzip2 != 0:
		return nil, fmt.Errorf("%w: bzip2", ErrUnsupportedCompression)
	case mask&compressionSparse != 0:
		return nil, fmt.Errorf("%w: sparse", ErrUnsupportedCompression)
	case mask&^knownCompressionBits != 0:
		return nil, fmt.Errorf("%w: mask 0x%02X", ErrUnsupportedCompression, mask)
	}

	// Stages before the last one have no known output size. ADPCM and
	// Huffman shrink sound data, so twice the plain size bounds them.
	stageCap := 2*expected + 64
	sizeFor := func(laterBits byte) int {
		if mask&laterBits == 0 {
			return expected
		}
		return stageCap
	}

	out := data[1:]
	var err error

	switch {
	case mask&compressionZlib != 0:
		out, err = inflate(out, sizeFor(compressionHuffman|compressionADPCMMono|compressionADPCM))
	case mask&compressionPKWare != 0:
		out, err = pklib.Explode(out, sizeFor(compressionHuffman|compressionADPCMMono|compressionADPCM))
	}
	if err != nil {
		return nil, codecError(err)
	}

	if mask&compressionHuffman != 0 {
		if out, err = huffman.Decompress(out, sizeFor(compressionADPCMMono|compressionADPCM)); err != nil {
			return nil, codecError(err)
		}
	}

	switch {
	case mask&compressionADPCM != 0:
		out, err = adpcm.Decompress(out, 2, expected)
	case mask&compressionADPCMMono != 0:
		out, err = adpcm.Decompress(out, 1, expected)
	}
	if err != nil {
		return nil, codecError(err)
	}

	if len(out) != expected {
		return nil, fmt.Errorf("%w: decoded %d bytes, want %d", ErrCorruptSector, len(out), expected)
	}
	return out, nil
}

// explodeSector decodes one sector of a FlagImplode file. These sectors
// carry no mask byte.
func explodeSector(data []byte, expected int) ([]byte, error) {
	if len(data) == expected {
		return data, nil
	}
	out, err := pklib.Explode(data, expected)
	if err != nil {
		return nil, codecError(err)
	}
	if len(out) != expected {
		return nil, fmt.Errorf("%w: exploded %d bytes, want %d", ErrCorruptSector, len(out), expected)
	}
	return out, nil
}

func inflate(src []byte, size int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("create zlib reader: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, int64(size)))
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("zlib decompress: %w", err)
	}
	return out, nil
}

// codecError maps an internal codec failure onto the package taxonomy.
func codecError(err error) error {
	if errors.Is(err, huffman.ErrUnknownTable) {
		return fmt.Errorf("%w: %w", ErrUnsupportedCompression, err)
	}
	return fmt.Errorf("%w: %w", ErrCorruptSector, err)
}
