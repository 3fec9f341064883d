package memory_map

import (
	"fmt"
	"sort"
	"strings"
)

// Protection is the access bitmask of a region, decoded from the Perms string.
type Protection uint8

const (
	ProtRead Protection = 1 << iota
	ProtWrite
	ProtExec
	ProtShared
	ProtGuard
)

func (p Protection) Has(bits Protection) bool {
	return p&bits == bits
}

func (p Protection) String() string {
	b := []byte("----")
	if p.Has(ProtRead) {
		b[0] = 'r'
	}
	if p.Has(ProtWrite) {
		b[1] = 'w'
	}
	if p.Has(ProtExec) {
		b[2] = 'x'
	}
	if p.Has(ProtShared) {
		b[3] = 's'
	} else {
		b[3] = 'p'
	}
	if p.Has(ProtGuard) {
		return string(b) + "g"
	}
	return string(b)
}

// ParseProtection decodes an "rwxp" style permission string. A trailing 'g' marks a guard page.
func ParseProtection(perms string) Protection {
	var p Protection
	if len(perms) > 0 && perms[0] == 'r' {
		p |= ProtRead
	}
	if len(perms) > 1 && perms[1] == 'w' {
		p |= ProtWrite
	}
	if len(perms) > 2 && perms[2] == 'x' {
		p |= ProtExec
	}
	if len(perms) > 3 && perms[3] == 's' {
		p |= ProtShared
	}
	if strings.HasSuffix(perms, "g") && len(perms) > 4 {
		p |= ProtGuard
	}
	return p
}

// State is the commit state of a region. Linux mappings are always committed.
type State uint8

const (
	StateCommitted State = iota
	StateReserved
	StateFree
)

func (s State) String() string {
	switch s {
	case StateCommitted:
		return "committed"
	case StateReserved:
		return "reserved"
	case StateFree:
		return "free"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// MemoryMapItem represents a memory region in a process's address space
type MemoryMapItem struct {
	Address uint64 `json:"address"`         // The starting address of the memory region
	Size    uint   `json:"size"`            // The size of the memory region in bytes
	Perms   string `json:"perms"`           // Permissions (e.g., "r-xp" for read, execute, private)
	State   State  `json:"state,omitempty"` // Commit state
	Path    string `json:"path,omitempty"`  // Backing file or pseudo name ("[heap]"), empty for anonymous
}

// String returns a string representation of the memory map item
func (mmItem MemoryMapItem) String() string {
	return fmt.Sprintf("Address: %x, Size: %d, Perms: %s, State: %s, Path: %s", mmItem.Address, mmItem.Size, mmItem.Perms, mmItem.State, mmItem.Path)
}

func (mmItem MemoryMapItem) End() uint64 {
	return mmItem.Address + uint64(mmItem.Size)
}

func (mmItem MemoryMapItem) Protection() Protection {
	return ParseProtection(mmItem.Perms)
}

func (mmItem MemoryMapItem) IsReadable() bool {
	return mmItem.Protection().Has(ProtRead)
}

func (mmItem MemoryMapItem) IsWritable() bool {
	return mmItem.Protection().Has(ProtWrite)
}

// MemoryMap defines the interface for operations related to a process's memory map
type MemoryMap interface {
	// ReadMemoryMap reads and parses the memory map for a process
	ReadMemoryMap(pid int) ([]MemoryMapItem, error)
}

// Sort orders the map by address; lookups below require it.
func Sort(memoryMap []MemoryMapItem) {
	sort.Slice(memoryMap, func(i, j int) bool {
		return memoryMap[i].Address < memoryMap[j].Address
	})
}

// IsValidAddress checks if an address is within a mapped region of a sorted map
func IsValidAddress(addr uint64, memoryMap []MemoryMapItem) bool {
	return IsValidAddress2(addr, memoryMap) != nil
}

// IsValidAddress2 returns the region containing addr in a sorted map, or nil.
func IsValidAddress2(addr uint64, memoryMap []MemoryMapItem) *MemoryMapItem {
	i := sort.Search(len(memoryMap), func(i int) bool {
		return memoryMap[i].Address+uint64(memoryMap[i].Size) > addr
	})
	if i < len(memoryMap) && memoryMap[i].Address <= addr {
		return &memoryMap[i]
	}

	return nil
}

// NextRegion returns the region containing addr or, failing that, the first region above it.
func NextRegion(addr uint64, memoryMap []MemoryMapItem) (MemoryMapItem, bool) {
	i := sort.Search(len(memoryMap), func(i int) bool {
		return memoryMap[i].Address+uint64(memoryMap[i].Size) > addr
	})
	if i < len(memoryMap) {
		return memoryMap[i], true
	}
	return MemoryMapItem{}, false
}

// SpanOf returns the lowest start and highest end of every region whose Path equals path.
// An anonymous mapping starting exactly at that end is the image's .bss and is included.
// memoryMap must be sorted.
func SpanOf(path string, memoryMap []MemoryMapItem) (base uint64, end uint64, ok bool) {
	for _, item := range memoryMap {
		if item.Path != path {
			continue
		}
		if !ok || item.Address < base {
			base = item.Address
		}
		if item.End() > end {
			end = item.End()
		}
		ok = true
	}
	if !ok {
		return base, end, ok
	}
	for _, item := range memoryMap {
		if item.Address == end && item.Path == "" {
			end = item.End()
			break
		}
	}
	return base, end, ok
}
