// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"fmt"
)

const (
	hashEntrySize = 16

	// Block index sentinels of a bucket.
	hashTableEmpty   = 0xFFFFFFFF
	hashTableDeleted = 0xFFFFFFFE

	// LocaleNeutral is the default locale every lookup falls back to.
	LocaleNeutral uint16 = 0
)

// hashBucket is one slot of the hash table. Platform is carried along so a
// read then write round trip keeps the on-disk bytes.
type hashBucket struct {
	key        uint64
	locale     uint16
	platform   uint16
	blockIndex uint32
}

func (b *hashBucket) free() bool {
	return b.blockIndex == hashTableEmpty || b.blockIndex == hashTableDeleted
}

func (b *hashBucket) clear(state uint32) {
	*b = hashBucket{key: ^uint64(0), locale: 0xFFFF, platform: 0xFFFF, blockIndex: state}
}

// HashTable maps (path, locale) pairs to block table indices using open
// addressing with linear probing.
type HashTable struct {
	buckets  []hashBucket
	mask     uint32
	mappings int
}

// NewHashTable returns an empty table. capacity must be a power of two.
func NewHashTable(capacity int) (*HashTable, error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 || capacity > 1<<28 {
		return nil, fmt.Errorf("%w: %d", ErrBadHashTableSize, capacity)
	}

	t := &HashTable{
		buckets: make([]hashBucket, capacity),
		mask:    uint32(capacity - 1),
	}
	for i := range t.buckets {
		t.buckets[i].clear(hashTableEmpty)
	}
	return t, nil
}

// parseHashTable decodes an encrypted on-disk hash table of capacity
// buckets.
func parseHashTable(data []byte, capacity int) (*HashTable, error) {
	t, err := NewHashTable(capacity)
	if err != nil {
		return nil, err
	}
	if len(data) < capacity*hashEntrySize {
		return nil, fmt.Errorf("%w: hash table truncated to %d bytes", ErrFormat, len(data))
	}

	buf := make([]byte, capacity*hashEntrySize)
	copy(buf, data)
	decryptBytes(buf, hashTableKey)

	for i := range t.buckets {
		e := buf[i*hashEntrySize:]
		b := &t.buckets[i]
		b.key = binary.LittleEndian.Uint64(e[0:])
		b.locale = binary.LittleEndian.Uint16(e[8:])
		b.platform = binary.LittleEndian.Uint16(e[10:])
		b.blockIndex = binary.LittleEndian.Uint32(e[12:])
		if !b.free() {
			t.mappings++
		}
	}
	return t, nil
}

// Capacity returns the number of buckets.
func (t *HashTable) Capacity() int {
	return len(t.buckets)
}

// Len returns the number of live mappings.
func (t *HashTable) Len() int {
	return t.mappings
}

// entryIndex finds the bucket for name. An exact locale match wins, then a
// neutral locale match, then the first match along the lookup chain.
func (t *HashTable) entryIndex(name string, locale uint16) int {
	key := fileKey(name)
	start := hashString(name, hashTypeTableOffset) & t.mask

	best := -1
	for i := uint32(0); i <= t.mask; i++ {
		idx := (start + i) & t.mask
		b := &t.buckets[idx]

		if b.blockIndex == hashTableEmpty {
			break
		}
		if b.blockIndex == hashTableDeleted || b.key != key {
			continue
		}
		if b.locale == locale {
			return int(idx)
		}
		if best == -1 || b.locale == LocaleNeutral {
			best = int(idx)
		}
	}
	return best
}

// HasFile reports whether name has a usable mapping, looked up the way
// BlockIndex does for the neutral locale.
func (t *HashTable) HasFile(name string) bool {
	_, ok := t.BlockIndex(name, LocaleNeutral)
	return ok
}

// BlockIndex returns the block index mapped to name for locale, following
// the locale fallback order. ok is false when no usable mapping exists.
func (t *HashTable) BlockIndex(name string, locale uint16) (index uint32, ok bool) {
	idx := t.entryIndex(name, locale)
	if idx == -1 {
		return 0, false
	}
	bi := t.buckets[idx].blockIndex
	if int32(bi) < 0 {
		return 0, false
	}
	return bi, true
}

// SetBlockIndex maps (name, locale) to index, replacing an existing mapping
// for exactly that locale.
func (t *HashTable) SetBlockIndex(name string, locale uint16, index int) error {
	if index < 0 {
		return fmt.Errorf("%w: %d for %s", ErrNegativeBlockIndex, index, name)
	}

	if idx := t.entryIndex(name, locale); idx != -1 && t.buckets[idx].locale == locale {
		t.buckets[idx].blockIndex = uint32(index)
		return nil
	}

	if t.mappings == len(t.buckets) {
		return fmt.Errorf("%w: %d buckets", ErrHashTableFull, len(t.buckets))
	}

	start := hashString(name, hashTypeTableOffset) & t.mask
	for i := uint32(0); i <= t.mask; i++ {
		b := &t.buckets[(start+i)&t.mask]
		if b.free() {
			*b = hashBucket{key: fileKey(name), locale: locale, blockIndex: uint32(index)}
			t.mappings++
			return nil
		}
	}
	return fmt.Errorf("%w: no free bucket for %s", ErrHashTableFull, name)
}

// Remove deletes the mapping of name for exactly locale.
func (t *HashTable) Remove(name string, locale uint16) error {
	idx := t.entryIndex(name, locale)
	if idx == -1 || t.buckets[idx].locale != locale {
		return fmt.Errorf("%w: %s (locale 0x%04X)", ErrFileNotFound, name, locale)
	}
	t.removeAt(idx)
	return nil
}

// RemoveAll deletes the mappings of name in every locale.
func (t *HashTable) RemoveAll(name string) error {
	removed := 0
	for {
		idx := t.entryIndex(name, LocaleNeutral)
		if idx == -1 {
			break
		}
		t.removeAt(idx)
		removed++
	}
	if removed == 0 {
		return fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	return nil
}

// removeAt tombstones a bucket. When the bucket after it is unused, the run
// of tombstones ending here cannot be part of any lookup chain and reverts to
// unused.
func (t *HashTable) removeAt(idx int) {
	t.buckets[idx].clear(hashTableDeleted)
	t.mappings--

	next := (uint32(idx) + 1) & t.mask
	if t.buckets[next].blockIndex != hashTableEmpty {
		return
	}
	i := uint32(idx)
	for t.buckets[i].blockIndex == hashTableDeleted {
		t.buckets[i].blockIndex = hashTableEmpty
		i = (i - 1) & t.mask
	}
}

// marshal encodes and encrypts the table.
func (t *HashTable) marshal() []byte {
	buf := make([]byte, len(t.buckets)*hashEntrySize)
	for i, b := range t.buckets {
		e := buf[i*hashEntrySize:]
		binary.LittleEndian.PutUint64(e[0:], b.key)
		binary.LittleEndian.PutUint16(e[8:], b.locale)
		binary.LittleEndian.PutUint16(e[10:], b.platform)
		binary.LittleEndian.PutUint32(e[12:], b.blockIndex)
	}
	encryptBytes(buf, hashTableKey)
	return buf
}
