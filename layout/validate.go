package layout

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"memlocate/process"
)

// ErrRejected is the expected outcome for almost every address. It is never surfaced as a
// failure of the pass.
var ErrRejected = errors.New("candidate rejected")

// Candidate is an address that passed validation together with the values read there.
type Candidate struct {
	Address process.ProcessMemoryAddress `json:"address"`
	Values  map[string]int64             `json:"values"`
}

// Matches reports whether every known value equals the candidate's.
func (c Candidate) Matches(known map[string]int64) bool {
	for name, v := range known {
		if got, ok := c.Values[name]; !ok || got != v {
			return false
		}
	}
	return true
}

// Key renders the values in field order; equal keys mean indistinguishable candidates.
func (c Candidate) Key(l *Layout) string {
	var b strings.Builder
	for i, f := range l.Fields {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d", c.Values[f.Name])
	}
	return b.String()
}

func (c Candidate) String() string {
	names := make([]string, 0, len(c.Values))
	for n := range c.Values {
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(c.Address.ToString())
	for _, n := range names {
		fmt.Fprintf(&b, " %s=%d", n, c.Values[n])
	}
	return b.String()
}

func reject(addr process.ProcessMemoryAddress, format string, args ...any) error {
	return fmt.Errorf("%w at %s: %s", ErrRejected, addr.ToString(), fmt.Sprintf(format, args...))
}

// Validate reads every field at addr+offset from src and checks domains and relations.
// Unreadable memory is a rejection like any other. The returned error is nil or wraps ErrRejected.
func (l *Layout) Validate(src process.MemoryReader, addr process.ProcessMemoryAddress) (Candidate, error) {
	data, err := src.ReadMemory(addr, process.ProcessMemorySize(l.span))
	if err != nil || uint64(len(data)) < l.span {
		return Candidate{}, reject(addr, "unreadable: %v", err)
	}
	return l.ValidateBytes(addr, data)
}

// ValidateBytes validates a structure already copied into data, which must hold Span() bytes.
func (l *Layout) ValidateBytes(addr process.ProcessMemoryAddress, data []byte) (Candidate, error) {
	if uint64(len(data)) < l.span {
		return Candidate{}, reject(addr, "short read of %d bytes", len(data))
	}

	// decode once, in field order; relations index into the same slice
	values := make([]int64, len(l.Fields))
	for i, f := range l.Fields {
		v := f.Type.Decode(data[f.Offset:])
		if !f.InDomain(v) {
			return Candidate{}, reject(addr, "%s=%d outside its domain", f.Name, v)
		}
		values[i] = v
	}

	for i, f := range l.Fields {
		for _, r := range f.Relations {
			other := values[l.index[r.Field]]
			if !r.Op.Eval(values[i], other) {
				return Candidate{}, reject(addr, "%s=%d %s %s=%d does not hold", f.Name, values[i], r.Op, r.Field, other)
			}
		}
	}

	c := Candidate{Address: addr, Values: make(map[string]int64, len(l.Fields))}
	for i, f := range l.Fields {
		c.Values[f.Name] = values[i]
	}
	return c, nil
}

// Decode reads every field from data without checking anything. data must hold Span() bytes.
func (l *Layout) Decode(data []byte) map[string]int64 {
	values := make(map[string]int64, len(l.Fields))
	for _, f := range l.Fields {
		values[f.Name] = f.Type.Decode(data[f.Offset:])
	}
	return values
}

// Encode renders values into a Span()-sized little-endian image of the structure. Missing
// fields are zero. It is the inverse of ValidateBytes for conformant values.
func (l *Layout) Encode(values map[string]int64) []byte {
	out := make([]byte, l.span)
	for _, f := range l.Fields {
		v := uint64(values[f.Name])
		for i := 0; i < f.Type.Size(); i++ {
			out[f.Offset+uint64(i)] = byte(v >> (8 * i))
		}
	}
	return out
}
