// Package layout describes a fixed-layout structure declaratively and validates candidate base
// addresses against it.
package layout

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/zeebo/xxh3"
	"gopkg.in/yaml.v3"
)

// Type is the storage type of a field.
type Type string

const (
	I8  Type = "i8"
	U8  Type = "u8"
	I16 Type = "i16"
	U16 Type = "u16"
	I32 Type = "i32"
	U32 Type = "u32"
	I64 Type = "i64"
	U64 Type = "u64"
)

// Size returns the width in bytes, or 0 for an unknown type.
func (t Type) Size() int {
	switch t {
	case I8, U8:
		return 1
	case I16, U16:
		return 2
	case I32, U32:
		return 4
	case I64, U64:
		return 8
	}
	return 0
}

func (t Type) Signed() bool {
	return t == I8 || t == I16 || t == I32 || t == I64
}

// Decode reads a little-endian value of type t from the start of b.
func (t Type) Decode(b []byte) int64 {
	switch t {
	case I8:
		return int64(int8(b[0]))
	case U8:
		return int64(b[0])
	case I16:
		return int64(int16(binary.LittleEndian.Uint16(b)))
	case U16:
		return int64(binary.LittleEndian.Uint16(b))
	case I32:
		return int64(int32(binary.LittleEndian.Uint32(b)))
	case U32:
		return int64(binary.LittleEndian.Uint32(b))
	}
	return int64(binary.LittleEndian.Uint64(b))
}

// FromUint reinterprets the low Size() bytes of a raw scanned word as a value of type t.
func (t Type) FromUint(v uint64) int64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return t.Decode(b[:])
}

// Op is a comparison between two field values.
type Op string

const (
	LT Op = "lt"
	LE Op = "le"
	GT Op = "gt"
	GE Op = "ge"
	EQ Op = "eq"
	NE Op = "ne"
)

func (op Op) Valid() bool {
	switch op {
	case LT, LE, GT, GE, EQ, NE:
		return true
	}
	return false
}

// Eval reports whether "a op b" holds.
func (op Op) Eval(a, b int64) bool {
	switch op {
	case LT:
		return a < b
	case LE:
		return a <= b
	case GT:
		return a > b
	case GE:
		return a >= b
	case EQ:
		return a == b
	case NE:
		return a != b
	}
	return false
}

// Relation constrains the owning field against another field: owner Op Field.
type Relation struct {
	Op    Op     `yaml:"op" json:"op"`
	Field string `yaml:"field" json:"field"`
}

// Field is one member of the structure.
type Field struct {
	Name   string `yaml:"name" json:"name"`
	Offset uint64 `yaml:"offset" json:"offset"`
	Type   Type   `yaml:"type" json:"type"`

	// Min and Max are inclusive; nil leaves the side open
	Min *int64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max *int64 `yaml:"max,omitempty" json:"max,omitempty"`
	// Exclude lists values seen in look-alike structures, such as buffer sizes
	Exclude []int64 `yaml:"exclude,omitempty" json:"exclude,omitempty"`

	Relations []Relation `yaml:"relations,omitempty" json:"relations,omitempty"`
}

// InDomain reports whether v satisfies the field's own constraints.
func (f Field) InDomain(v int64) bool {
	if f.Min != nil && v < *f.Min {
		return false
	}
	if f.Max != nil && v > *f.Max {
		return false
	}
	for _, x := range f.Exclude {
		if v == x {
			return false
		}
	}
	return true
}

// SampleSpec names a window of stable bytes relative to the structure base.
type SampleSpec struct {
	Offset uint64 `yaml:"offset" json:"offset"`
	Size   int    `yaml:"size" json:"size"`
}

// Layout is the schema of one structure. It is immutable once compiled.
type Layout struct {
	Name string `yaml:"name" json:"name"`
	// Alignment of the structure base; scans advance by it. 0 or 1 means unaligned.
	Alignment int `yaml:"alignment,omitempty" json:"alignment,omitempty"`
	// Anchor is the field range-scanned when no known value is supplied
	Anchor    string       `yaml:"anchor,omitempty" json:"anchor,omitempty"`
	Fields    []Field      `yaml:"fields" json:"fields"`
	Signature []SampleSpec `yaml:"signature,omitempty" json:"signature,omitempty"`

	index map[string]int
	span  uint64
	hash  uint64
}

// Bound is a convenience for building Min/Max in code.
func Bound(v int64) *int64 {
	return &v
}

// Parse decodes and compiles a YAML layout.
func Parse(data []byte) (*Layout, error) {
	var l Layout
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("failed to parse layout: %w", err)
	}
	if err := l.Compile(); err != nil {
		return nil, err
	}
	return &l, nil
}

// Load reads and compiles a YAML layout file.
func Load(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read layout file: %w", err)
	}
	l, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// Compile checks the schema and builds the lookup tables Validate relies on.
func (l *Layout) Compile() error {
	var errs []error
	if len(l.Fields) == 0 {
		errs = append(errs, errors.New("layout has no fields"))
	}

	l.index = make(map[string]int, len(l.Fields))
	l.span = 0
	for i, f := range l.Fields {
		if f.Name == "" {
			errs = append(errs, fmt.Errorf("field %d has no name", i))
			continue
		}
		if _, dup := l.index[f.Name]; dup {
			errs = append(errs, fmt.Errorf("duplicate field %q", f.Name))
		}
		if f.Type.Size() == 0 {
			errs = append(errs, fmt.Errorf("field %q: unknown type %q", f.Name, f.Type))
		}
		if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
			errs = append(errs, fmt.Errorf("field %q: min %d above max %d", f.Name, *f.Min, *f.Max))
		}
		l.index[f.Name] = i
		if end := f.Offset + uint64(f.Type.Size()); end > l.span {
			l.span = end
		}
	}

	for _, f := range l.Fields {
		for _, r := range f.Relations {
			if !r.Op.Valid() {
				errs = append(errs, fmt.Errorf("field %q: unknown relation %q", f.Name, r.Op))
			}
			if _, ok := l.index[r.Field]; !ok {
				errs = append(errs, fmt.Errorf("field %q: relation to unknown field %q", f.Name, r.Field))
			}
		}
	}

	if l.Anchor != "" {
		if _, ok := l.index[l.Anchor]; !ok {
			errs = append(errs, fmt.Errorf("anchor %q is not a field", l.Anchor))
		}
	}
	if l.Alignment < 0 {
		errs = append(errs, fmt.Errorf("negative alignment %d", l.Alignment))
	}
	for _, s := range l.Signature {
		if s.Size <= 0 {
			errs = append(errs, fmt.Errorf("signature sample at 0x%x has no size", s.Offset))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid layout %q: %w", l.Name, err)
	}

	canonical, err := yaml.Marshal(l)
	if err != nil {
		return fmt.Errorf("failed to hash layout: %w", err)
	}
	l.hash = xxh3.Hash(canonical)
	return nil
}

// Field returns the named field.
func (l *Layout) Field(name string) (Field, bool) {
	i, ok := l.index[name]
	if !ok {
		return Field{}, false
	}
	return l.Fields[i], true
}

// Span is the number of bytes from the base to the end of the last field.
func (l *Layout) Span() uint64 {
	return l.span
}

// Hash fingerprints the schema; cache entries recorded under another hash are stale.
func (l *Layout) Hash() uint64 {
	return l.hash
}

// AnchorField is the field range-scanned when nothing is known about the structure. It falls
// back to the first bounded field.
func (l *Layout) AnchorField() (Field, bool) {
	if l.Anchor != "" {
		return l.Field(l.Anchor)
	}
	for _, f := range l.Fields {
		if f.Min != nil || f.Max != nil {
			return f, true
		}
	}
	return Field{}, false
}

// Step is the scan stride implied by the alignment.
func (l *Layout) Step() int {
	if l.Alignment <= 1 {
		return 1
	}
	return l.Alignment
}
