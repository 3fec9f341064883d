package process_blob

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"memlocate/process"
	"memlocate/process/memory_map"
)

// ProcessDump implements process.Process over an in-memory address space: either loaded from a
// directory written by SaveDump, or assembled region by region with AddRegion.
type ProcessDump struct {
	PID       process.ProcessID
	Name      string
	Image     process.Image
	MemoryMap []memory_map.MemoryMapItem
	Blobs     map[uint64][]byte // Address -> Data

	mu        sync.RWMutex
	reads     atomic.Int64
	loseAfter int64 // 0 disables
	lost      atomic.Bool
}

var _ process.Process = (*ProcessDump)(nil)

// NewProcessDump creates a new ProcessDump instance
func NewProcessDump() *ProcessDump {
	return &ProcessDump{
		Blobs: make(map[uint64][]byte),
	}
}

// AddRegion maps data at addr with the given "rwxp" permissions.
func (p *ProcessDump) AddRegion(addr process.ProcessMemoryAddress, data []byte, perms string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.MemoryMap = append(p.MemoryMap, memory_map.MemoryMapItem{
		Address: uint64(addr),
		Size:    uint(len(data)),
		Perms:   perms,
		State:   memory_map.StateCommitted,
	})
	memory_map.Sort(p.MemoryMap)
	p.Blobs[uint64(addr)] = data
}

// SetImage declares the main image; regions inside it get Path set to path.
func (p *ProcessDump) SetImage(base process.ProcessMemoryAddress, size process.ProcessMemorySize, path string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Image = process.Image{Base: base, Size: size, Path: path}
	for i := range p.MemoryMap {
		if p.Image.Contains(process.ProcessMemoryAddress(p.MemoryMap[i].Address)) {
			p.MemoryMap[i].Path = path
		}
	}
}

// Poke overwrites bytes inside an existing region. It simulates the target mutating its own
// memory between reads.
func (p *ProcessDump) Poke(addr process.ProcessMemoryAddress, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	region := memory_map.IsValidAddress2(uint64(addr), p.MemoryMap)
	if region == nil {
		return process.ErrAddressNotMapped
	}
	blob := p.Blobs[region.Address]
	offset := uint64(addr) - region.Address
	if offset+uint64(len(data)) > uint64(len(blob)) {
		return fmt.Errorf("poke of %d bytes at %s crosses region end", len(data), addr.ToString())
	}
	copy(blob[offset:], data)
	return nil
}

// LoseAfter makes the dump behave like an exited process once n more reads have been served.
func (p *ProcessDump) LoseAfter(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loseAfter = p.reads.Load() + int64(n)
	if n <= 0 {
		p.lost.Store(true)
	}
}

// Reads returns the number of ReadMemory calls served so far.
func (p *ProcessDump) Reads() int64 {
	return p.reads.Load()
}

func (p *ProcessDump) Open(pid process.ProcessID) error {
	return fmt.Errorf("Open not supported for ProcessDump, use Load")
}

func (p *ProcessDump) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Blobs = nil
	p.MemoryMap = nil
	return nil
}

func (p *ProcessDump) GetPID() process.ProcessID {
	return p.PID
}

func (p *ProcessDump) Alive() error {
	if p.lost.Load() {
		return process.ErrProcessLost
	}
	return nil
}

func (p *ProcessDump) UpdateMemoryMap() error {
	return p.Alive() // Memory map is static in a dump
}

func (p *ProcessDump) IsValidAddress(addr process.ProcessMemoryAddress) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	item := memory_map.IsValidAddress2(uint64(addr), p.MemoryMap)
	return item != nil && item.IsReadable()
}

func (p *ProcessDump) QueryRegion(addr process.ProcessMemoryAddress) (memory_map.MemoryMapItem, error) {
	if err := p.Alive(); err != nil {
		return memory_map.MemoryMapItem{}, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	item, ok := memory_map.NextRegion(uint64(addr), p.MemoryMap)
	if !ok {
		return memory_map.MemoryMapItem{}, process.ErrEndOfAddressSpace
	}
	return item, nil
}

func (p *ProcessDump) GetMemoryMap() ([]memory_map.MemoryMapItem, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	result := make([]memory_map.MemoryMapItem, len(p.MemoryMap))
	copy(result, p.MemoryMap)
	return result, nil
}

func (p *ProcessDump) MainImage() (process.Image, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.Image.Size == 0 {
		return process.Image{}, fmt.Errorf("dump has no main image")
	}
	return p.Image, nil
}

func (p *ProcessDump) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	n := p.reads.Add(1)

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.loseAfter > 0 && n > p.loseAfter {
		p.lost.Store(true)
	}
	if p.lost.Load() {
		return nil, process.ErrProcessLost
	}

	region := memory_map.IsValidAddress2(uint64(addr), p.MemoryMap)
	if region == nil || !region.IsReadable() {
		return nil, process.ErrAddressNotMapped
	}

	data, ok := p.Blobs[region.Address]
	if !ok {
		return nil, fmt.Errorf("no data for region 0x%x", region.Address)
	}

	offset := uint64(addr) - region.Address
	if offset+uint64(size) > uint64(len(data)) {
		return nil, fmt.Errorf("read size %d exceeds region data bounds", size)
	}

	result := make([]byte, size)
	copy(result, data[offset:offset+uint64(size)])
	return result, nil
}

type dumpMetadata struct {
	PID   process.ProcessID `json:"pid"`
	Name  string            `json:"name"`
	Image process.Image     `json:"image"`
}

func blobFileName(dirname string, region memory_map.MemoryMapItem) string {
	return filepath.Join(dirname, fmt.Sprintf("blob_0x%x_%d.bin", region.Address, region.Size))
}

func (p *ProcessDump) Load(dirname string) error {
	metadataBytes, err := os.ReadFile(filepath.Join(dirname, "metadata.json"))
	if err != nil {
		return fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata dumpMetadata
	if err := json.Unmarshal(metadataBytes, &metadata); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	mmBytes, err := os.ReadFile(filepath.Join(dirname, "process_memory_map.json"))
	if err != nil {
		return fmt.Errorf("failed to read memory map: %w", err)
	}

	var mm []memory_map.MemoryMapItem
	if err := json.Unmarshal(mmBytes, &mm); err != nil {
		return fmt.Errorf("failed to unmarshal memory map: %w", err)
	}
	memory_map.Sort(mm)

	blobs := make(map[uint64][]byte)
	for _, region := range mm {
		filename := blobFileName(dirname, region)
		if _, err := os.Stat(filename); os.IsNotExist(err) {
			continue // Blob not saved (e.g. too large or not readable)
		}

		data, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("failed to read blob %s: %w", filename, err)
		}
		blobs[region.Address] = data
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.PID = metadata.PID
	p.Name = metadata.Name
	p.Image = metadata.Image
	p.MemoryMap = mm
	p.Blobs = blobs
	return nil
}

// Identity of a dump is its recorded pid and name; it never matches a live instance.
func (p *ProcessDump) Identity() (process.Identity, error) {
	return process.Identity{PID: p.PID, Exe: p.Name}, nil
}
