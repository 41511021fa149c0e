// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

// Package pklib implements the PKWARE Data Compression Library format
// ("implode"/"explode") as used by MPQ archives.
package pklib

import (
	"errors"
	"fmt"
)

var (
	// ErrIncompleteInput is returned when the stream ends before the
	// output is complete.
	ErrIncompleteInput = errors.New("pklib: incomplete input")

	// ErrBadData is returned for malformed headers or back references.
	ErrBadData = errors.New("pklib: bad data")
)

const (
	// CompressionBinary stores literals as raw 8-bit values.
	CompressionBinary = 0
	// CompressionASCII stores literals with a fixed Huffman code tuned for text.
	CompressionASCII = 1

	endOfStream = 0x207 // copy length 519
	maxDictSize = 0x1000
)

type bitReader struct {
	src  []byte
	pos  int
	buf  uint32
	bits uint
}

// need makes sure at least n bits are buffered.
func (r *bitReader) need(n uint) error {
	for r.bits < n {
		if r.pos >= len(r.src) {
			return ErrIncompleteInput
		}
		r.buf |= uint32(r.src[r.pos]) << r.bits
		r.pos++
		r.bits += 8
	}
	return nil
}

func (r *bitReader) peek(n uint) uint32 {
	return r.buf & (1<<n - 1)
}

func (r *bitReader) skip(n uint) {
	r.buf >>= n
	r.bits -= n
}

// Explode decompresses src into exactly size bytes. Decoding stops when the
// output is full or the end-of-stream code is reached, whichever comes first.
func Explode(src []byte, size int) ([]byte, error) {
	if len(src) < 4 {
		return nil, ErrIncompleteInput
	}

	litSize := src[0]
	dictSizeByte := uint(src[1])
	if litSize != CompressionBinary && litSize != CompressionASCII {
		return nil, fmt.Errorf("%w: literal mode %d", ErrBadData, litSize)
	}
	if dictSizeByte < 4 || dictSizeByte > 6 {
		return nil, fmt.Errorf("%w: dictionary size byte %d", ErrBadData, dictSizeByte)
	}

	r := &bitReader{src: src, pos: 2}
	out := make([]byte, 0, min(size, 1<<16))

	for len(out) < size {
		if err := r.need(16); err != nil {
			return out, err
		}

		if r.peek(1) == 0 {
			r.skip(1)
			if litSize == CompressionBinary {
				out = append(out, byte(r.peek(8)))
				r.skip(8)
			} else {
				sym := chIndex[r.peek(13)]
				out = append(out, sym)
				r.skip(uint(chBits[sym]))
			}
			continue
		}

		r.skip(1)
		i := lenIndex[r.peek(7)]
		r.skip(uint(lenBits[i]))
		length := int(lenBase[i]) + int(r.peek(uint(exLenBits[i])))
		r.skip(uint(exLenBits[i]))
		if length == endOfStream {
			break
		}

		if err := r.need(14); err != nil {
			return out, err
		}
		hi := int(offsIndex[r.peek(8)])
		r.skip(uint(offsBits[hi]))

		var dist int
		if length == 2 {
			dist = hi<<2 | int(r.peek(2))
			r.skip(2)
		} else {
			dist = hi<<dictSizeByte | int(r.peek(dictSizeByte))
			r.skip(dictSizeByte)
		}
		dist++

		if dist > len(out) {
			return out, fmt.Errorf("%w: back reference %d before start of output", ErrBadData, dist)
		}
		if len(out)+length > size {
			return out, fmt.Errorf("%w: copy of %d bytes overflows output", ErrBadData, length)
		}
		from := len(out) - dist
		for k := 0; k < length; k++ {
			out = append(out, out[from+k])
		}
	}

	if len(out) != size {
		return out, ErrIncompleteInput
	}
	return out, nil
}
