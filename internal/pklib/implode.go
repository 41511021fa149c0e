// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package pklib

import "fmt"

const (
	minMatch  = 3
	maxMatch  = 518
	maxChain  = 64
	hashBits  = 12
	hashShift = 4
)

type bitWriter struct {
	out  []byte
	buf  uint64
	bits uint
}

func (w *bitWriter) write(v uint32, n uint) {
	w.buf |= uint64(v&(1<<n-1)) << w.bits
	w.bits += n
	for w.bits >= 8 {
		w.out = append(w.out, byte(w.buf))
		w.buf >>= 8
		w.bits -= 8
	}
}

func (w *bitWriter) flush() []byte {
	if w.bits > 0 {
		w.out = append(w.out, byte(w.buf))
		w.buf, w.bits = 0, 0
	}
	return w.out
}

// Implode compresses src. mode is CompressionBinary or CompressionASCII and
// dictSize one of 1024, 2048 or 4096.
func Implode(src []byte, mode byte, dictSize int) ([]byte, error) {
	var dictSizeByte uint
	switch dictSize {
	case 1024:
		dictSizeByte = 4
	case 2048:
		dictSizeByte = 5
	case 4096:
		dictSizeByte = 6
	default:
		return nil, fmt.Errorf("%w: dictionary size %d", ErrBadData, dictSize)
	}
	if mode != CompressionBinary && mode != CompressionASCII {
		return nil, fmt.Errorf("%w: literal mode %d", ErrBadData, mode)
	}

	w := &bitWriter{out: make([]byte, 2, len(src)/2+4)}
	w.out[0] = mode
	w.out[1] = byte(dictSizeByte)

	head := make([]int32, 1<<hashBits)
	for i := range head {
		head[i] = -1
	}
	prev := make([]int32, len(src))
	insert := func(pos int) {
		if pos+minMatch > len(src) {
			return
		}
		h := hash3(src[pos:])
		prev[pos] = head[h]
		head[h] = int32(pos)
	}

	for pos := 0; pos < len(src); {
		bestLen, bestDist := 0, 0
		if pos+minMatch <= len(src) {
			limit := min(maxMatch, len(src)-pos)
			cand := head[hash3(src[pos:])]
			for tries := 0; cand >= 0 && tries < maxChain; tries++ {
				dist := pos - int(cand)
				if dist > dictSize {
					break
				}
				if n := matchLen(src[cand:], src[pos:], limit); n > bestLen {
					bestLen, bestDist = n, dist
					if n == limit {
						break
					}
				}
				cand = prev[cand]
			}
		}

		if bestLen >= minMatch {
			w.match(bestLen, bestDist, dictSizeByte)
			for k := 0; k < bestLen; k++ {
				insert(pos + k)
			}
			pos += bestLen
			continue
		}

		w.literal(src[pos], mode)
		insert(pos)
		pos++
	}

	// End of stream: a copy of length 519.
	w.write(1, 1)
	w.write(uint32(lenCode[15]), uint(lenBits[15]))
	w.write(endOfStream-uint32(lenBase[15]), uint(exLenBits[15]))
	return w.flush(), nil
}

func (w *bitWriter) literal(b byte, mode byte) {
	w.write(0, 1)
	if mode == CompressionBinary {
		w.write(uint32(b), 8)
		return
	}
	w.write(uint32(chCode[b]), uint(chBits[b]))
}

func (w *bitWriter) match(length, dist int, dictSizeByte uint) {
	i := len(lenBase) - 1
	for int(lenBase[i]) > length {
		i--
	}
	w.write(1, 1)
	w.write(uint32(lenCode[i]), uint(lenBits[i]))
	w.write(uint32(length-int(lenBase[i])), uint(exLenBits[i]))

	d := uint32(dist - 1)
	lowBits := dictSizeByte
	if length == 2 {
		lowBits = 2
	}
	hi := d >> lowBits
	w.write(uint32(offsCode[hi]), uint(offsBits[hi]))
	w.write(d, lowBits)
}

func hash3(p []byte) uint32 {
	h := uint32(p[0])<<(2*hashShift) ^ uint32(p[1])<<hashShift ^ uint32(p[2])
	return h & (1<<hashBits - 1)
}

func matchLen(a, b []byte, limit int) int {
	n := 0
	for n < limit && a[n] == b[n] {
		n++
	}
	return n
}
