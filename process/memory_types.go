package process

import (
	"fmt"
	"strconv"
	"strings"
)

// ProcessMemoryAddress represents a memory address within a process
type ProcessMemoryAddress uint64

func (pma ProcessMemoryAddress) ToString() string {
	return fmt.Sprintf("0x%X", uint64(pma))
}

// MarshalText encodes the address as a 0x-prefixed hex string so cache files stay readable.
func (pma ProcessMemoryAddress) MarshalText() ([]byte, error) {
	return []byte(pma.ToString()), nil
}

// UnmarshalText accepts hex with a 0x prefix or plain decimal.
func (pma *ProcessMemoryAddress) UnmarshalText(text []byte) error {
	v, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*pma = v
	return nil
}

// ParseAddress parses "0x1e9edc87d70", "1e9edc87d70h" style hex or a decimal number.
func ParseAddress(s string) (ProcessMemoryAddress, error) {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)

	var (
		v   uint64
		err error
	)
	switch {
	case strings.HasPrefix(lower, "0x"):
		v, err = strconv.ParseUint(lower[2:], 16, 64)
	case strings.HasSuffix(lower, "h"):
		v, err = strconv.ParseUint(lower[:len(lower)-1], 16, 64)
	default:
		v, err = strconv.ParseUint(lower, 10, 64)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return ProcessMemoryAddress(v), nil
}

// ProcessMemorySize represents a size of memory region
type ProcessMemorySize uint

func (pms ProcessMemorySize) ToString() string {
	return fmt.Sprintf("%d bytes", uint(pms))
}

// AOB (Array of Bytes) represents a pattern to search for in memory
type AOB struct {
	Pattern []byte // The byte pattern to search for
	Mask    []byte // Optional mask where 0xFF means exact match and 0x00 means wildcard
}

// IsValid checks if the AOB pattern is valid
func (aob AOB) IsValid() bool {
	return len(aob.Pattern) > 0 && (len(aob.Mask) == 0 || len(aob.Pattern) == len(aob.Mask))
}

// Exact reports whether every byte of the pattern must match.
func (aob AOB) Exact() bool {
	for _, m := range aob.Mask {
		if m != 0xFF {
			return false
		}
	}
	return true
}

func NewAOB(pattern, mask []byte) (AOB, error) {
	if len(pattern) != len(mask) {
		return AOB{}, fmt.Errorf("pattern and mask must be of the same length")
	}
	return AOB{Pattern: pattern, Mask: mask}, nil
}

// ParseAOB parses "00 ba ad ?? f0" (comma or space separated, ?? or ? as wildcard).
func ParseAOB(s string) (AOB, error) {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' '
	})
	if len(parts) == 0 {
		return AOB{}, fmt.Errorf("empty pattern")
	}

	aob := AOB{
		Pattern: make([]byte, 0, len(parts)),
		Mask:    make([]byte, 0, len(parts)),
	}
	for _, part := range parts {
		if part == "??" || part == "?" {
			aob.Pattern = append(aob.Pattern, 0)
			aob.Mask = append(aob.Mask, 0)
			continue
		}
		val, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return AOB{}, fmt.Errorf("invalid hex byte: %s", part)
		}
		aob.Pattern = append(aob.Pattern, byte(val))
		aob.Mask = append(aob.Mask, 0xFF)
	}
	return aob, nil
}
