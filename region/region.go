// Package region walks the address space of a target process and yields the regions worth
// scanning.
package region

import (
	"errors"
	"fmt"
	"iter"

	"memlocate/process"
	"memlocate/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// ErrEnumerationFailed is returned when the region query primitive itself fails. It ends the
// walk; callers must not mistake it for an empty address space.
var ErrEnumerationFailed = errors.New("region enumeration failed")

// Region is one mapped range of the target address space.
type Region struct {
	Base       process.ProcessMemoryAddress
	Size       process.ProcessMemorySize
	Protection memory_map.Protection
	State      memory_map.State
	Path       string
}

func (r Region) End() process.ProcessMemoryAddress {
	return r.Base + process.ProcessMemoryAddress(r.Size)
}

func (r Region) Contains(addr process.ProcessMemoryAddress) bool {
	return addr >= r.Base && addr < r.End()
}

func (r Region) String() string {
	return fmt.Sprintf("%s-%s %s %s %s", r.Base.ToString(), r.End().ToString(), r.Protection, r.State, r.Path)
}

func fromItem(item memory_map.MemoryMapItem) Region {
	return Region{
		Base:       process.ProcessMemoryAddress(item.Address),
		Size:       process.ProcessMemorySize(item.Size),
		Protection: item.Protection(),
		State:      item.State,
		Path:       item.Path,
	}
}

// Scope restricts a walk relative to the main image.
type Scope int

const (
	ScopeAll Scope = iota
	// ScopeImage keeps only regions inside the main image
	ScopeImage
	// ScopeExcludeImage drops the main image, leaving heap, stacks and anonymous mappings
	ScopeExcludeImage
)

// Filter selects regions. Zero values mean "no bound".
type Filter struct {
	MinBase process.ProcessMemoryAddress
	MaxBase process.ProcessMemoryAddress
	MinSize process.ProcessMemorySize
	MaxSize process.ProcessMemorySize

	// Require must all be present, Exclude must all be absent
	Require memory_map.Protection
	Exclude memory_map.Protection

	// IncludeUncommitted also yields reserved regions; they are never readable
	IncludeUncommitted bool

	Scope Scope
}

// Readable is the default discovery filter: committed, readable, not a guard page.
func Readable() Filter {
	return Filter{Require: memory_map.ProtRead, Exclude: memory_map.ProtGuard}
}

func (f Filter) match(r Region, img process.Image) bool {
	if r.Size == 0 {
		return false
	}
	if !f.IncludeUncommitted && r.State != memory_map.StateCommitted {
		return false
	}
	if f.MinBase != 0 && r.Base < f.MinBase {
		return false
	}
	if f.MaxBase != 0 && r.Base > f.MaxBase {
		return false
	}
	if f.MinSize != 0 && r.Size < f.MinSize {
		return false
	}
	if f.MaxSize != 0 && r.Size > f.MaxSize {
		return false
	}
	if !r.Protection.Has(f.Require) {
		return false
	}
	if f.Exclude != 0 && r.Protection&f.Exclude != 0 {
		return false
	}
	switch f.Scope {
	case ScopeImage:
		return img.Contains(r.Base)
	case ScopeExcludeImage:
		return !img.Contains(r.Base)
	}
	return true
}

// Enumerator produces fresh region walks over one process.
type Enumerator struct {
	proc process.Process
	log  *logger.Logger
}

func NewEnumerator(proc process.Process) *Enumerator {
	return &Enumerator{
		proc: proc,
		log:  logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "region")),
	}
}

func failed(err error) error {
	if errors.Is(err, process.ErrProcessLost) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrEnumerationFailed, err)
}

// Regions returns a lazy walk of the regions matching f. Every range over the sequence refreshes
// the memory map and starts from the bottom again. A failing query ends the sequence with an
// error wrapping ErrEnumerationFailed, or process.ErrProcessLost if the target exited.
func (e *Enumerator) Regions(f Filter) iter.Seq2[Region, error] {
	return func(yield func(Region, error) bool) {
		if err := e.proc.UpdateMemoryMap(); err != nil {
			yield(Region{}, failed(err))
			return
		}

		var img process.Image
		if f.Scope != ScopeAll {
			var err error
			if img, err = e.proc.MainImage(); err != nil {
				yield(Region{}, failed(err))
				return
			}
		}

		addr := f.MinBase
		for {
			item, err := e.proc.QueryRegion(addr)
			if errors.Is(err, process.ErrEndOfAddressSpace) {
				return
			}
			if err != nil {
				yield(Region{}, failed(err))
				return
			}

			r := fromItem(item)
			if f.MaxBase != 0 && r.Base > f.MaxBase {
				return
			}
			if r.End() <= addr {
				// a query that does not advance would loop forever
				yield(Region{}, failed(fmt.Errorf("query at %s did not advance", addr.ToString())))
				return
			}
			addr = r.End()

			if !f.match(r, img) {
				continue
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

// List drains Regions into a slice.
func (e *Enumerator) List(f Filter) ([]Region, error) {
	var out []Region
	for r, err := range e.Regions(f) {
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	e.log.Debugln("Enumerated", len(out), "regions")
	return out, nil
}
