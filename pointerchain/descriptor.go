// Package pointerchain finds static pointer paths from the main image to a structure, so the
// structure can be found again after a restart without scanning.
package pointerchain

import (
	"fmt"
	"strings"

	"memlocate/process"
)

// Descriptor is a module-relative pointer path:
//
//	p := [image.Base + ModuleOffset]
//	for each off in Offsets: p = [p + off]
//	structure = p + FieldOffset
type Descriptor struct {
	ModuleOffset uint64   `json:"module_offset"`
	Offsets      []uint64 `json:"offsets,omitempty"`
	FieldOffset  uint64   `json:"field_offset"`
	PointerSize  int      `json:"pointer_size"`
}

// Depth is the number of dereferences after the static slot.
func (d Descriptor) Depth() int {
	return len(d.Offsets)
}

// Resolve walks the chain live and returns the structure address.
func (d Descriptor) Resolve(r process.MemoryReader, imageBase process.ProcessMemoryAddress) (process.ProcessMemoryAddress, error) {
	size := d.PointerSize
	if size == 0 {
		size = 8
	}
	path := append(append([]uint64(nil), d.Offsets...), d.FieldOffset)
	addr, err := process.WalkPath(r, imageBase+process.ProcessMemoryAddress(d.ModuleOffset), size, path...)
	if err != nil {
		return 0, fmt.Errorf("chain %s: %w", d.String(), err)
	}
	return addr, nil
}

func (d Descriptor) Equal(o Descriptor) bool {
	if d.ModuleOffset != o.ModuleOffset || d.FieldOffset != o.FieldOffset || d.PointerSize != o.PointerSize || len(d.Offsets) != len(o.Offsets) {
		return false
	}
	for i := range d.Offsets {
		if d.Offsets[i] != o.Offsets[i] {
			return false
		}
	}
	return true
}

func (d Descriptor) String() string {
	var b strings.Builder
	b.WriteString(strings.Repeat("[", len(d.Offsets)+1))
	fmt.Fprintf(&b, "image+0x%X]", d.ModuleOffset)
	for _, off := range d.Offsets {
		fmt.Fprintf(&b, "+0x%X]", off)
	}
	fmt.Fprintf(&b, "+0x%X", d.FieldOffset)
	return b.String()
}
