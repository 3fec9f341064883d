package process_blob

import (
	"errors"
	"fmt"

	"memlocate/process"
)

// ProcessBlob is a locally owned copy of one span of target memory.
type ProcessBlob struct {
	baseaddress process.ProcessMemoryAddress
	data        []byte
}

var _ process.MemoryReader = (*ProcessBlob)(nil)

func NewProcessBlob(baseAddress process.ProcessMemoryAddress, data []byte) *ProcessBlob {
	return &ProcessBlob{
		baseaddress: baseAddress,
		data:        data,
	}
}

func (p *ProcessBlob) Data() []byte {
	return p.data
}

func (p *ProcessBlob) Base() process.ProcessMemoryAddress {
	return p.baseaddress
}

// Contains reports whether [addr, addr+size) lies entirely inside the blob.
func (p *ProcessBlob) Contains(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) bool {
	if addr < p.baseaddress {
		return false
	}
	return uint64(addr-p.baseaddress)+uint64(size) <= uint64(len(p.data))
}

func (p *ProcessBlob) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	if !p.Contains(addr, size) {
		return nil, fmt.Errorf("%s+%d outside blob at %s: %w", addr.ToString(), size, p.baseaddress.ToString(), process.ErrAddressNotMapped)
	}
	offset := uint64(addr - p.baseaddress)
	return p.data[offset : offset+uint64(size)], nil
}

// Overlay serves reads from a local blob and falls back to a live reader for spans the blob
// does not cover, e.g. a structure straddling the end of the region that was copied.
type Overlay struct {
	Blob     *ProcessBlob
	Fallback process.MemoryReader
}

var _ process.MemoryReader = Overlay{}

func (o Overlay) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	if o.Blob != nil && o.Blob.Contains(addr, size) {
		return o.Blob.ReadMemory(addr, size)
	}
	if o.Fallback == nil {
		return nil, errors.Join(process.ErrAddressNotMapped, fmt.Errorf("no fallback for %s", addr.ToString()))
	}
	return o.Fallback.ReadMemory(addr, size)
}
