// Package signature fingerprints a located structure by a few stable byte windows so it can be
// found again by content when no field value is known.
package signature

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"memlocate/layout"
	"memlocate/process"
	"memlocate/process_blob"
	"memlocate/scan"

	"github.com/zeebo/xxh3"
)

// ErrEmpty is returned when every sampled window is zero and cannot tell structures apart.
var ErrEmpty = errors.New("signature has no distinguishing bytes")

// Hex is a byte slice that encodes as a hex string.
type Hex []byte

func (h Hex) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(h)), nil
}

func (h *Hex) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	*h = b
	return nil
}

// Sample is an expected byte window relative to the structure base.
type Sample struct {
	Offset uint64 `json:"offset"`
	Bytes  Hex    `json:"bytes"`
}

type Signature struct {
	Samples []Sample `json:"samples"`
	Digest  uint64   `json:"digest"`
}

// DefaultSpecs are used when the layout declares none: three 16-byte windows.
var DefaultSpecs = []layout.SampleSpec{
	{Offset: 0x10, Size: 16},
	{Offset: 0x280, Size: 16},
	{Offset: 0x600, Size: 16},
}

// Capture reads the windows named by specs at base.
func Capture(src process.MemoryReader, base process.ProcessMemoryAddress, specs []layout.SampleSpec) (Signature, error) {
	if len(specs) == 0 {
		specs = DefaultSpecs
	}

	var sig Signature
	nonZero := false
	for _, spec := range specs {
		data, err := src.ReadMemory(base+process.ProcessMemoryAddress(spec.Offset), process.ProcessMemorySize(spec.Size))
		if err != nil {
			return Signature{}, fmt.Errorf("failed to sample 0x%x bytes at +0x%x: %w", spec.Size, spec.Offset, err)
		}
		if !allZero(data) {
			nonZero = true
		}
		sig.Samples = append(sig.Samples, Sample{Offset: spec.Offset, Bytes: bytes.Clone(data)})
	}
	if !nonZero {
		return Signature{}, ErrEmpty
	}

	sig.Digest = sig.digest()
	return sig, nil
}

func allZero(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return false
		}
	}
	return true
}

func (s Signature) digest() uint64 {
	h := xxh3.New()
	var off [8]byte
	for _, smp := range s.Samples {
		binary.LittleEndian.PutUint64(off[:], smp.Offset)
		h.Write(off[:])
		h.Write(smp.Bytes)
	}
	return h.Sum64()
}

// IsZero reports whether nothing was captured.
func (s Signature) IsZero() bool {
	return len(s.Samples) == 0
}

// Intact reports whether the digest still matches the samples, e.g. after a cache round trip.
func (s Signature) Intact() bool {
	return !s.IsZero() && s.digest() == s.Digest
}

// Match reports whether every sample is present at base.
func (s Signature) Match(src process.MemoryReader, base process.ProcessMemoryAddress) bool {
	if s.IsZero() {
		return false
	}
	for _, smp := range s.Samples {
		data, err := src.ReadMemory(base+process.ProcessMemoryAddress(smp.Offset), process.ProcessMemorySize(len(smp.Bytes)))
		if err != nil || !bytes.Equal(data, smp.Bytes) {
			return false
		}
	}
	return true
}

// anchor is the sample searched for literally: the first one that is not all zero.
func (s Signature) anchor() (Sample, bool) {
	for _, smp := range s.Samples {
		if !allZero(smp.Bytes) {
			return smp, true
		}
	}
	return Sample{}, false
}

// Scan returns the bases inside blob where the whole signature matches. Windows reaching past
// the blob are read through fallback.
func (s Signature) Scan(blob *process_blob.ProcessBlob, fallback process.MemoryReader, step int) []process.ProcessMemoryAddress {
	a, ok := s.anchor()
	if !ok {
		return nil
	}

	offsets, _ := scan.FindPattern(blob.Data(), process.AOB{Pattern: a.Bytes})
	src := process_blob.Overlay{Blob: blob, Fallback: fallback}

	var out []process.ProcessMemoryAddress
	for _, off := range offsets {
		addr := blob.Base() + process.ProcessMemoryAddress(off)
		if uint64(addr) < a.Offset {
			continue
		}
		base := addr - process.ProcessMemoryAddress(a.Offset)
		if step > 1 && uint64(base)%uint64(step) != 0 {
			continue
		}
		if s.Match(src, base) {
			out = append(out, base)
		}
	}
	return out
}
