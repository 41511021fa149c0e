// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package huffman

// Bits are packed least significant first.

type bitWriter struct {
	out  []byte
	buf  uint64
	bits uint
}

func (w *bitWriter) write(v uint64, n uint) {
	for n > 0 {
		take := min(n, 32)
		w.buf |= (v & (1<<take - 1)) << w.bits
		w.bits += take
		v >>= take
		n -= take
		for w.bits >= 8 {
			w.out = append(w.out, byte(w.buf))
			w.buf >>= 8
			w.bits -= 8
		}
	}
}

func (w *bitWriter) flush() []byte {
	if w.bits > 0 {
		w.out = append(w.out, byte(w.buf))
		w.buf, w.bits = 0, 0
	}
	return w.out
}

type bitReader struct {
	src  []byte
	pos  int
	buf  uint32
	bits uint
}

func (r *bitReader) fill(n uint) bool {
	for r.bits < n {
		if r.pos >= len(r.src) {
			return false
		}
		r.buf |= uint32(r.src[r.pos]) << r.bits
		r.pos++
		r.bits += 8
	}
	return true
}

func (r *bitReader) bit() (uint32, bool) {
	if !r.fill(1) {
		return 0, false
	}
	b := r.buf & 1
	r.buf >>= 1
	r.bits--
	return b, true
}

func (r *bitReader) bits8() (byte, bool) {
	if !r.fill(8) {
		return 0, false
	}
	b := byte(r.buf)
	r.buf >>= 8
	r.bits -= 8
	return b, true
}
