// Package scan finds values in copied region bytes and runs the bounded parallel pass that feeds
// them region by region.
package scan

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"memlocate/process"
)

// Encode returns the little-endian encoding of value truncated to width bytes.
func Encode(value int64, width int) ([]byte, error) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(value))
	switch width {
	case 1, 2, 4, 8:
		return buf[:width], nil
	}
	return nil, fmt.Errorf("invalid integer size: %d", width)
}

// Uint decodes a little-endian unsigned integer of width bytes from the start of data.
func Uint(data []byte, width int) uint64 {
	switch width {
	case 1:
		return uint64(data[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(data))
	case 4:
		return uint64(binary.LittleEndian.Uint32(data))
	case 8:
		return binary.LittleEndian.Uint64(data)
	}
	panic(fmt.Sprintf("scan: invalid integer size %d", width))
}

// FindInt returns the offsets where value, encoded little-endian in width bytes, occurs in data.
// With step <= 1 every byte offset is tried and matches may overlap. Otherwise only offsets that
// are multiples of step are reported.
func FindInt(data []byte, value int64, width int, step int) ([]int, error) {
	pattern, err := Encode(value, width)
	if err != nil {
		return nil, err
	}
	return findLiteral(data, pattern, step), nil
}

func findLiteral(data, pattern []byte, step int) []int {
	var matches []int
	for i := 0; i+len(pattern) <= len(data); {
		j := bytes.Index(data[i:], pattern)
		if j < 0 {
			break
		}
		off := i + j
		if step <= 1 || off%step == 0 {
			matches = append(matches, off)
			i = off + 1
			continue
		}
		// resume at the next aligned offset
		i = off + step - off%step
	}
	return matches
}

// FindRange tests every step-aligned word of width bytes against pred.
// A step of zero means the word width.
func FindRange(data []byte, width int, step int, pred func(uint64) bool) []int {
	if step <= 0 {
		step = width
	}
	var matches []int
	for off := 0; off+width <= len(data); off += step {
		if pred(Uint(data[off:], width)) {
			matches = append(matches, off)
		}
	}
	return matches
}

// FindPattern returns all offsets where aob matches data. A mask byte of 0 is a wildcard; other
// mask bytes select the bits that must match.
func FindPattern(data []byte, aob process.AOB) ([]int, error) {
	if !aob.IsValid() {
		return nil, fmt.Errorf("mask length (%d) doesn't match pattern length (%d)", len(aob.Mask), len(aob.Pattern))
	}
	if aob.Exact() {
		return findLiteral(data, aob.Pattern, 1), nil
	}
	return findPatternMatches(data, aob.Pattern, aob.Mask), nil
}

func findPatternMatches(data, pattern, mask []byte) []int {
	if len(data) < len(pattern) {
		return nil
	}

	// anchor on the first fully specified byte so bytes.IndexByte can skip ahead
	anchor := -1
	for j, m := range mask {
		if m == 0xFF {
			anchor = j
			break
		}
	}

	var matches []int
	for i := 0; i <= len(data)-len(pattern); i++ {
		if anchor >= 0 {
			k := bytes.IndexByte(data[i+anchor:len(data)-len(pattern)+anchor+1], pattern[anchor])
			if k < 0 {
				break
			}
			i += k
		}

		matched := true
		for j := 0; j < len(pattern); j++ {
			if mask[j] == 0 {
				continue
			}
			if data[i+j]&mask[j] != pattern[j]&mask[j] {
				matched = false
				break
			}
		}

		if matched {
			matches = append(matches, i)
		}
	}

	return matches
}
