// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

// Package adpcm implements the lossy IMA-style ADPCM variant MPQ archives use
// for 16-bit PCM sound sectors.
//
// A stream starts with a zero byte, the bit shift, and one raw 16-bit sample
// per channel. Every following byte is either a sample code or a control code
// with the top bit set.
package adpcm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrChannels is returned for channel counts other than 1 and 2.
	ErrChannels = errors.New("adpcm: unsupported channel count")

	// ErrLevel is returned for a compression level outside 2..7.
	ErrLevel = errors.New("adpcm: compression level out of range")

	// ErrIncompleteInput is returned when a stream is too short for its header.
	ErrIncompleteInput = errors.New("adpcm: incomplete input")
)

// DefaultLevel is the level used for sound files added to an archive.
const DefaultLevel = 5

const (
	initialStepIndex = 0x2C
	maxStepIndex     = len(stepTable) - 1

	signBit = 0x40

	codeSkip     = 0x80 // repeat the previous sample, step index down by one
	codeStepUp   = 0x81 // step index up by eight, same channel
	codeNextChan = 0x82
)

var changeTable = [32]int{
	-1, 0, -1, 4, -1, 2, -1, 6,
	-1, 1, -1, 5, -1, 3, -1, 7,
	-1, 1, -1, 5, -1, 3, -1, 7,
	-1, 2, -1, 4, -1, 6, -1, 8,
}

var stepTable = [89]int{
	7, 8, 9, 10, 11, 12, 13, 14,
	16, 17, 19, 21, 23, 25, 28, 31,
	34, 37, 41, 45, 50, 55, 60, 66,
	73, 80, 88, 97, 107, 118, 130, 143,
	157, 173, 190, 209, 230, 253, 279, 307,
	337, 371, 408, 449, 494, 544, 598, 658,
	724, 796, 876, 963, 1060, 1166, 1282, 1411,
	1552, 1707, 1878, 2066, 2272, 2499, 2749, 3024,
	3327, 3660, 4026, 4428, 4871, 5358, 5894, 6484,
	7132, 7845, 8630, 9493, 10442, 11487, 12635, 13899,
	15289, 16818, 18500, 20350, 22385, 24623, 27086, 29794,
	32767,
}

type channel struct {
	sample    int
	stepIndex int
}

func (c *channel) adjustStep(delta int) {
	c.stepIndex = min(max(c.stepIndex+delta, 0), maxStepIndex)
}

// apply adds or subtracts diff per the sign bit of code, saturating to int16.
func (c *channel) apply(code byte, diff int) {
	if code&signBit != 0 {
		c.sample = max(c.sample-diff, math.MinInt16)
	} else {
		c.sample = min(c.sample+diff, math.MaxInt16)
	}
}

func checkChannels(channels int) error {
	if channels != 1 && channels != 2 {
		return fmt.Errorf("%w: %d", ErrChannels, channels)
	}
	return nil
}

// Compress encodes little-endian 16-bit samples interleaved over channels.
// A trailing partial sample is dropped.
func Compress(src []byte, channels, level int) ([]byte, error) {
	if err := checkChannels(channels); err != nil {
		return nil, err
	}
	if level < 2 || level > 7 {
		return nil, fmt.Errorf("%w: %d", ErrLevel, level)
	}

	bitShift := uint(level - 1)
	maxBit := min(int(1)<<(bitShift-1), 0x20)

	samples := len(src) / 2
	out := make([]byte, 0, 2+samples)
	out = append(out, 0, byte(bitShift))

	var state [2]channel
	for i := 0; i < channels && i < samples; i++ {
		s := int16(binary.LittleEndian.Uint16(src[i*2:]))
		state[i] = channel{sample: int(s), stepIndex: initialStepIndex}
		out = binary.LittleEndian.AppendUint16(out, uint16(s))
	}

	ch := channels - 1
	for i := channels; i < samples; i++ {
		ch = (ch + 1) % channels
		c := &state[ch]
		input := int(int16(binary.LittleEndian.Uint16(src[i*2:])))

		var code byte
		diff := input - c.sample
		if diff < 0 {
			diff = -diff
			code |= signBit
		}

		step := stepTable[c.stepIndex]
		if diff < step>>uint(level) {
			c.adjustStep(-1)
			out = append(out, codeSkip)
			continue
		}

		for diff > step<<1 && c.stepIndex < maxStepIndex {
			c.adjustStep(8)
			step = stepTable[c.stepIndex]
			out = append(out, codeStepUp)
		}

		base := step >> bitShift
		total := 0
		for bit := 1; bit <= maxBit; bit <<= 1 {
			if total+step <= diff {
				total += step
				code |= byte(bit)
			}
			step >>= 1
		}

		c.apply(code, base+total)
		out = append(out, code)
		c.adjustStep(changeTable[code&0x1F])
	}
	return out, nil
}

// Decompress decodes src into at most size bytes of 16-bit samples.
func Decompress(src []byte, channels, size int) ([]byte, error) {
	if err := checkChannels(channels); err != nil {
		return nil, err
	}
	if len(src) < 2 {
		return nil, ErrIncompleteInput
	}

	bitShift := uint(src[1])
	pos := 2
	// One input byte yields at most one sample.
	out := make([]byte, 0, min(size, 2*len(src)))
	put := func(s int) bool {
		if len(out)+2 > size {
			return false
		}
		out = binary.LittleEndian.AppendUint16(out, uint16(int16(s)))
		return true
	}

	var state [2]channel
	for i := 0; i < channels; i++ {
		if pos+2 > len(src) {
			return out, nil
		}
		state[i] = channel{
			sample:    int(int16(binary.LittleEndian.Uint16(src[pos:]))),
			stepIndex: initialStepIndex,
		}
		pos += 2
		if !put(state[i].sample) {
			return out, nil
		}
	}

	ch := 0
	for ; pos < len(src); pos++ {
		code := src[pos]
		c := &state[ch]

		if code&0x80 != 0 {
			switch code {
			case codeSkip:
				c.adjustStep(-1)
				if !put(c.sample) {
					return out, nil
				}
				ch = (ch + 1) % channels
			case codeStepUp:
				c.adjustStep(8)
			case codeNextChan:
				ch = (ch + 1) % channels
			default:
				// Remaining control codes step down by eight.
				c.adjustStep(-8)
			}
			continue
		}

		base := stepTable[c.stepIndex]
		diff := base >> bitShift
		for i := uint(0); i < 6; i++ {
			if code&(1<<i) != 0 {
				diff += base >> i
			}
		}
		c.apply(code, diff)
		if !put(c.sample) {
			return out, nil
		}
		c.adjustStep(changeTable[code&0x1F])
		ch = (ch + 1) % channels
	}
	return out, nil
}
