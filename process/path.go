package process

import (
	"encoding/binary"
	"fmt"
)

// ReadPointer reads a little-endian pointer of ptrSize (4 or 8) bytes at addr.
func ReadPointer(r MemoryReader, addr ProcessMemoryAddress, ptrSize int) (ProcessMemoryAddress, error) {
	data, err := r.ReadMemory(addr, ProcessMemorySize(ptrSize))
	if err != nil {
		return 0, err
	}
	if len(data) < ptrSize {
		return 0, fmt.Errorf("short pointer read at %s: %w", addr.ToString(), ErrInvalidPointer)
	}

	switch ptrSize {
	case 4:
		return ProcessMemoryAddress(binary.LittleEndian.Uint32(data)), nil
	case 8:
		return ProcessMemoryAddress(binary.LittleEndian.Uint64(data)), nil
	}
	return 0, fmt.Errorf("unsupported pointer size %d", ptrSize)
}

// WalkPath follows a pointer path and returns the final address without reading it.
// It reads a pointer at base, then for every offset except the last adds it and reads the
// next pointer; the last offset is added to the final pointer.
//
//	// [base] -> ptrA; [ptrA + 0x18] -> ptrB; result = ptrB + 0x90
//	addr, err := process.WalkPath(proc, base, 8, 0x18, 0x90)
func WalkPath(r MemoryReader, base ProcessMemoryAddress, ptrSize int, offsets ...uint64) (ProcessMemoryAddress, error) {
	current, err := ReadPointer(r, base, ptrSize)
	if err != nil {
		return 0, fmt.Errorf("failed to read base pointer at %s: %w", base.ToString(), err)
	}
	if current == 0 {
		return 0, fmt.Errorf("base pointer at %s is null: %w", base.ToString(), ErrInvalidPointer)
	}

	for i := 0; i < len(offsets)-1; i++ {
		ptrAddr := current + ProcessMemoryAddress(offsets[i])

		next, err := ReadPointer(r, ptrAddr, ptrSize)
		if err != nil {
			return 0, fmt.Errorf("failed to read pointer at step %d (addr %s): %w", i, ptrAddr.ToString(), err)
		}
		if next == 0 {
			return 0, fmt.Errorf("pointer at step %d (addr %s) is null: %w", i, ptrAddr.ToString(), ErrInvalidPointer)
		}
		current = next
	}

	if len(offsets) > 0 {
		current += ProcessMemoryAddress(offsets[len(offsets)-1])
	}
	return current, nil
}
