// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import "encoding/binary"

// Hash types select one of the five 256-entry slices of cryptTable.
const (
	hashTypeTableOffset = 0
	hashTypeNameA       = 1
	hashTypeNameB       = 2
	hashTypeFileKey     = 3
	hashTypeCipher      = 4
)

// cryptTable is the encryption/hash lookup table
var cryptTable = buildCryptTable()

func buildCryptTable() [0x500]uint32 {
	var table [0x500]uint32
	seed := uint32(0x00100001)

	for index1 := 0; index1 < 0x100; index1++ {
		index2 := index1
		for i := 0; i < 5; i++ {
			seed = (seed*125 + 3) % 0x2AAAAB
			temp1 := (seed & 0xFFFF) << 0x10

			seed = (seed*125 + 3) % 0x2AAAAB
			temp2 := seed & 0xFFFF

			table[index2] = temp1 | temp2
			index2 += 0x100
		}
	}
	return table
}

// Well-known keys for the archive tables.
var (
	hashTableKey  = hashString("(hash table)", hashTypeFileKey)
	blockTableKey = hashString("(block table)", hashTypeFileKey)
)

// hasher is an incremental MPQ string hash. Writing "ab" then "c" yields the
// same sum as writing "abc".
type hasher struct {
	table []uint32
	seed1 uint32
	seed2 uint32
}

func newHasher(hashType int) *hasher {
	h := &hasher{table: cryptTable[hashType*0x100 : hashType*0x100+0x100]}
	h.reset()
	return h
}

func (h *hasher) reset() {
	h.seed1 = 0x7FED7FED
	h.seed2 = 0xEEEEEEEE
}

func (h *hasher) writeByte(ch byte) {
	h.seed1 = h.table[ch] ^ (h.seed1 + h.seed2)
	h.seed2 = uint32(ch) + h.seed1 + h.seed2 + (h.seed2 << 5) + 3
}

// write hashes raw bytes without case folding.
func (h *hasher) write(p []byte) {
	for _, ch := range p {
		h.writeByte(ch)
	}
}

// writeString hashes a path: ASCII letters are upper-cased and forward
// slashes become backslashes. Other bytes pass through unchanged.
func (h *hasher) writeString(s string) {
	for i := 0; i < len(s); i++ {
		h.writeByte(normalizeByte(s[i]))
	}
}

func (h *hasher) sum() uint32 {
	return h.seed1
}

func normalizeByte(ch byte) byte {
	if ch >= 'a' && ch <= 'z' {
		return ch - 0x20
	}
	if ch == '/' {
		return '\\'
	}
	return ch
}

// hashString computes the MPQ hash of a string
func hashString(s string, hashType int) uint32 {
	h := newHasher(hashType)
	h.writeString(s)
	return h.sum()
}

// fileKey returns the 64-bit lookup key of a path: name hash A in the low
// half, name hash B in the high half, matching the on-disk bucket layout.
func fileKey(name string) uint64 {
	return uint64(hashString(name, hashTypeNameB))<<32 | uint64(hashString(name, hashTypeNameA))
}

// streamCipher is the MPQ XOR stream cipher. It transforms whole 4-byte
// little-endian words; a shorter tail is copied through untouched.
type streamCipher struct {
	key     uint32
	seed    uint32
	decrypt bool
}

func newStreamCipher(key uint32, decrypt bool) *streamCipher {
	c := &streamCipher{}
	c.reset(key, decrypt)
	return c
}

func (c *streamCipher) reset(key uint32, decrypt bool) {
	c.key = key
	c.seed = 0xEEEEEEEE
	c.decrypt = decrypt
}

func (c *streamCipher) word(in uint32) uint32 {
	c.seed += cryptTable[hashTypeCipher*0x100+int(c.key&0xFF)]
	out := in ^ (c.key + c.seed)
	plain := in
	if c.decrypt {
		plain = out
	}
	c.seed += plain + (c.seed << 5) + 3
	c.key = ((^c.key << 0x15) + 0x11111111) | (c.key >> 0x0B)
	return out
}

// process transforms as many whole words as fit in both src and dst and
// returns the number of bytes written. needMore is true when dst still has
// room for another word, i.e. the caller should supply more input.
func (c *streamCipher) process(dst, src []byte) (n int, needMore bool) {
	words := min(len(src), len(dst)) / 4
	for i := 0; i < words; i++ {
		off := i * 4
		binary.LittleEndian.PutUint32(dst[off:], c.word(binary.LittleEndian.Uint32(src[off:])))
	}
	n = words * 4
	return n, len(dst)-n >= 4
}

// final processes src and copies a trailing partial word verbatim. overflow
// is true when dst was too small to take all of src.
func (c *streamCipher) final(dst, src []byte) (n int, overflow bool) {
	n, _ = c.process(dst, src)
	rest := src[n:]
	if len(rest) < 4 {
		n += copy(dst[n:], rest)
	}
	return n, n < len(src)
}

// single transforms buf in place.
func (c *streamCipher) single(buf []byte) {
	c.final(buf, buf)
}

func encryptBytes(buf []byte, key uint32) {
	newStreamCipher(key, false).single(buf)
}

func decryptBytes(buf []byte, key uint32) {
	newStreamCipher(key, true).single(buf)
}

// fileEncryptionKey derives the key for a stored file. Only the part after
// the last path separator takes part in the hash.
func fileEncryptionKey(name string, filePos uint32, fileSize uint32, flags uint32) uint32 {
	plainName := name
	if idx := lastIndexOfSlash(name); idx >= 0 {
		plainName = name[idx+1:]
	}

	key := hashString(plainName, hashTypeFileKey)
	if flags&FlagFixKey != 0 {
		key = (key + filePos) ^ fileSize
	}
	return key
}

// lastIndexOfSlash finds the last path separator in a string
func lastIndexOfSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\\' || s[i] == '/' {
			return i
		}
	}
	return -1
}
