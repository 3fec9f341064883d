package process

import (
	"memlocate/process/memory_map"
)

// Image describes the main loaded program image of the target. Only addresses inside it keep a
// stable relative layout across restarts.
type Image struct {
	Base ProcessMemoryAddress `json:"base"`
	Size ProcessMemorySize    `json:"size"`
	Path string               `json:"path,omitempty"`
}

// Contains reports whether addr lies inside the image.
func (img Image) Contains(addr ProcessMemoryAddress) bool {
	return img.Size > 0 && addr >= img.Base && uint64(addr) < uint64(img.Base)+uint64(img.Size)
}

// MemoryReader is the raw memory-read primitive.
type MemoryReader interface {
	// ReadMemory reads memory from the process at the specified address
	ReadMemory(addr ProcessMemoryAddress, size ProcessMemorySize) ([]byte, error)
}

// RegionQuerier is the raw region-query primitive.
type RegionQuerier interface {
	// QueryRegion returns the region containing addr, or the next region above it.
	// It returns ErrEndOfAddressSpace when there is none.
	QueryRegion(addr ProcessMemoryAddress) (memory_map.MemoryMapItem, error)
}

// Process is the interface that defines operations for interacting with a system process.
// Implementations never write target memory.
type Process interface {
	MemoryReader
	RegionQuerier

	// Open opens a process with the given PID for memory operations
	Open(pid ProcessID) error

	// Close closes the process and releases resources
	Close() error

	// GetPID returns the process ID
	GetPID() ProcessID

	// UpdateMemoryMap refreshes the memory map for the process
	UpdateMemoryMap() error

	// IsValidAddress checks if the given memory address is valid and readable
	IsValidAddress(addr ProcessMemoryAddress) bool

	// GetMemoryMap returns a copy of the current memory map
	GetMemoryMap() ([]memory_map.MemoryMapItem, error)

	// MainImage returns base and size of the main executable image
	MainImage() (Image, error)

	// Alive returns ErrProcessLost once the process has exited
	Alive() error
}
