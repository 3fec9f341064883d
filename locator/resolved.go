package locator

import (
	"fmt"

	"memlocate/layout"
	"memlocate/pointerchain"
	"memlocate/process"
	"memlocate/signature"
)

// ResolvedStructure is a confirmed location. Reads re-derive the address through the pointer
// chain when there is one, so they follow the structure if the target reallocates it.
type ResolvedStructure struct {
	proc       process.Process
	layout     *layout.Layout
	cand       layout.Candidate
	chain      *pointerchain.Descriptor
	sig        signature.Signature
	generation uint64
}

// Address is where the structure was confirmed.
func (r *ResolvedStructure) Address() process.ProcessMemoryAddress {
	return r.cand.Address
}

// Candidate holds the values read at confirmation.
func (r *ResolvedStructure) Candidate() layout.Candidate {
	return r.cand
}

// Chain is the static pointer path to the structure, or nil if none was found.
func (r *ResolvedStructure) Chain() *pointerchain.Descriptor {
	return r.chain
}

func (r *ResolvedStructure) Signature() signature.Signature {
	return r.sig
}

// Generation increases with every discovery of the engine that produced r.
func (r *ResolvedStructure) Generation() uint64 {
	return r.generation
}

func (r *ResolvedStructure) locate() process.ProcessMemoryAddress {
	if r.chain == nil {
		return r.cand.Address
	}
	img, err := r.proc.MainImage()
	if err != nil {
		return r.cand.Address
	}
	addr, err := r.chain.Resolve(r.proc, img.Base)
	if err != nil {
		return r.cand.Address
	}
	return addr
}

// ReadField reads one field without validating the rest of the structure.
func (r *ResolvedStructure) ReadField(name string) (int64, error) {
	f, ok := r.layout.Field(name)
	if !ok {
		return 0, fmt.Errorf("layout %q has no field %q", r.layout.Name, name)
	}
	addr := r.locate() + process.ProcessMemoryAddress(f.Offset)
	data, err := r.proc.ReadMemory(addr, process.ProcessMemorySize(f.Type.Size()))
	if err != nil {
		return 0, fmt.Errorf("failed to read %s at %s: %w", name, addr.ToString(), err)
	}
	return f.Type.Decode(data), nil
}

// ReadAll reads every field in one read. Values are not validated; use IsValid for that.
func (r *ResolvedStructure) ReadAll() (map[string]int64, error) {
	addr := r.locate()
	data, err := r.proc.ReadMemory(addr, process.ProcessMemorySize(r.layout.Span()))
	if err != nil {
		return nil, fmt.Errorf("failed to read structure at %s: %w", addr.ToString(), err)
	}
	return r.layout.Decode(data), nil
}

// IsValid re-runs structural validation at the current address.
func (r *ResolvedStructure) IsValid() bool {
	_, err := r.layout.Validate(r.proc, r.locate())
	return err == nil
}
