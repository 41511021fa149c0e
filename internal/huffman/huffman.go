// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

// Package huffman implements the adaptive Huffman coder MPQ archives use in
// front of ADPCM for sound sectors.
//
// Both sides start from the same tree, built from a per-type weight table,
// and update it after every symbol, so no code table travels with the data.
// The first byte of a stream names the weight table.
package huffman

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTable is returned for a compression type without a weight table.
	ErrUnknownTable = errors.New("huffman: unknown compression type")

	// ErrIncompleteInput is returned when the bit stream ends before the
	// end-of-stream symbol.
	ErrIncompleteInput = errors.New("huffman: incomplete input")

	// ErrTreeFull is returned when a stream adds more symbols than the item
	// pool can hold.
	ErrTreeFull = errors.New("huffman: tree item pool exhausted")
)

const (
	endOfStream = 0x100
	newByte     = 0x101

	// 0x102 leaves and the internal nodes joining them.
	itemCount = 0x203
)

type item struct {
	next, prev *item
	parent     *item
	// childLo is the lighter child; the heavier one is childLo.prev.
	childLo *item
	value   uint32
	weight  uint32
}

func (it *item) unlink() {
	if it.next != nil {
		it.prev.next = it.next
		it.next.prev = it.prev
		it.next, it.prev = nil, nil
	}
}

// linkAfter places it directly after pos.
func linkAfter(pos, it *item) {
	it.next = pos.next
	it.prev = pos
	pos.next.prev = it
	pos.next = it
}

// tree keeps every item on one list ordered by descending weight. The root
// is always the first item.
type tree struct {
	head    item
	pool    [itemCount]item
	used    int
	byValue [0x102]*item
	cmp0    bool
}

func newTree(compressionType byte) (*tree, error) {
	weights, ok := weightTables[compressionType]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTable, compressionType)
	}

	t := &tree{cmp0: compressionType == 0}
	t.head.next = &t.head
	t.head.prev = &t.head

	var maxWeight uint32
	for i, w := range weights {
		if w == 0 {
			continue
		}
		it, err := t.newItem(uint32(i), uint32(w), true)
		if err != nil {
			return nil, err
		}
		t.byValue[i] = it
		maxWeight = t.fixupPosByWeight(it, maxWeight)
	}

	for _, v := range []uint32{endOfStream, newByte} {
		it, err := t.newItem(v, 1, false)
		if err != nil {
			return nil, err
		}
		t.byValue[v] = it
	}

	lo := t.head.prev
	for lo != &t.head {
		hi := lo.prev
		if hi == &t.head {
			break
		}
		parent, err := t.newItem(0, hi.weight+lo.weight, true)
		if err != nil {
			return nil, err
		}
		lo.parent = parent
		hi.parent = parent
		parent.childLo = lo
		maxWeight = t.fixupPosByWeight(parent, maxWeight)
		lo = hi.prev
	}
	return t, nil
}

// newItem takes an item from the pool and puts it at the front or the back
// of the list.
func (t *tree) newItem(value, weight uint32, front bool) (*item, error) {
	if t.used == itemCount {
		return nil, ErrTreeFull
	}
	it := &t.pool[t.used]
	t.used++
	*it = item{value: value, weight: weight}
	if front {
		linkAfter(&t.head, it)
	} else {
		linkAfter(t.head.prev, it)
	}
	return it, nil
}

func (t *tree) root() *item {
	return t.head.next
}

// findHigherOrEqual walks towards the front from it and returns the first
// item weighing at least weight, or the list head.
func (t *tree) findHigherOrEqual(it *item, weight uint32) *item {
	for ; it != &t.head; it = it.prev {
		if it.weight >= weight {
			return it
		}
	}
	return &t.head
}

// fixupPosByWeight moves a freshly created front item behind the last item
// that weighs at least as much. It returns the new maximum weight.
func (t *tree) fixupPosByWeight(it *item, maxWeight uint32) uint32 {
	if it.weight >= maxWeight {
		return it.weight
	}
	higher := t.findHigherOrEqual(t.head.prev, it.weight)
	it.unlink()
	linkAfter(higher, it)
	return maxWeight
}

// incWeights adds one to the weight of it and every ancestor, swapping an
// item with the front-most lighter item whenever the list order breaks.
func (t *tree) incWeights(it *item) {
	for ; it != nil; it = it.parent {
		it.weight++

		higher := t.findHigherOrEqual(it.prev, it.weight)
		other := higher.next
		if other == it {
			continue
		}

		other.unlink()
		linkAfter(it, other)
		it.unlink()
		linkAfter(higher, it)

		otherLo := other.parent.childLo
		if it.parent.childLo == it {
			it.parent.childLo = other
		}
		if otherLo == other {
			other.parent.childLo = it
		}
		it.parent, other.parent = other.parent, it.parent
	}
}

// insertNewBranch splits the lightest leaf into itself and a new leaf for
// value.
func (t *tree) insertNewBranch(value uint32) error {
	last := t.head.prev

	hi, err := t.newItem(last.value, last.weight, false)
	if err != nil {
		return err
	}
	hi.parent = last
	t.byValue[last.value] = hi

	lo, err := t.newItem(value, 0, false)
	if err != nil {
		return err
	}
	lo.parent = last
	last.childLo = lo
	t.byValue[value] = lo

	t.incWeights(lo)
	return nil
}

func (t *tree) encode(w *bitWriter, it *item) {
	var bits uint64
	var n uint
	for parent := it.parent; parent != nil; it, parent = parent, parent.parent {
		bits <<= 1
		if parent.childLo != it {
			bits |= 1
		}
		n++
	}
	w.write(bits, n)
}

func (t *tree) decode(r *bitReader) (uint32, error) {
	it := t.root()
	for it.childLo != nil {
		bit, ok := r.bit()
		if !ok {
			return 0, ErrIncompleteInput
		}
		if bit == 1 {
			it = it.childLo.prev
		} else {
			it = it.childLo
		}
	}
	return it.value, nil
}

// Compress encodes src with the weight table of compressionType.
func Compress(src []byte, compressionType byte) ([]byte, error) {
	t, err := newTree(compressionType)
	if err != nil {
		return nil, err
	}

	w := &bitWriter{out: make([]byte, 1, len(src)+8)}
	w.out[0] = compressionType

	for _, b := range src {
		it := t.byValue[b]
		if it == nil {
			t.encode(w, t.byValue[newByte])
			w.write(uint64(b), 8)
			if err := t.insertNewBranch(uint32(b)); err != nil {
				return nil, err
			}
			t.incWeights(t.byValue[b])
			continue
		}

		t.encode(w, it)
		if t.cmp0 {
			t.incWeights(it)
		}
	}

	t.encode(w, t.byValue[endOfStream])
	return w.flush(), nil
}

// Decompress decodes src, producing at most size bytes. Output is shorter
// than size when the end-of-stream symbol comes first.
func Decompress(src []byte, size int) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}
	if len(src) == 0 {
		return nil, ErrIncompleteInput
	}

	t, err := newTree(src[0])
	if err != nil {
		return nil, err
	}

	r := &bitReader{src: src[1:]}
	// Every symbol takes at least one bit.
	out := make([]byte, 0, min(size, 8*len(src)))
	for {
		v, err := t.decode(r)
		if err != nil {
			return out, err
		}
		if v == endOfStream {
			break
		}

		if v == newByte {
			b, ok := r.bits8()
			if !ok {
				return out, ErrIncompleteInput
			}
			v = uint32(b)
			if err := t.insertNewBranch(v); err != nil {
				return out, err
			}
			if !t.cmp0 {
				t.incWeights(t.byValue[v])
			}
		}

		out = append(out, byte(v))
		if len(out) >= size {
			break
		}
		if t.cmp0 {
			t.incWeights(t.byValue[v])
		}
	}
	return out, nil
}
