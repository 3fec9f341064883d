// Package rank orders validated candidates by weighted, declarative heuristics.
package rank

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"memlocate/layout"

	"gopkg.in/yaml.v3"
)

// Condition is one test over a candidate's values. Exactly one form applies, checked in order:
//   - Other set: Field Op Other*Scale
//   - Value set: Field Op Value
//   - otherwise: Min <= Field <= Max, open where nil
type Condition struct {
	Field string    `yaml:"field"`
	Op    layout.Op `yaml:"op,omitempty"`
	Other string    `yaml:"other,omitempty"`
	Scale int64     `yaml:"scale,omitempty"`
	Value *int64    `yaml:"value,omitempty"`
	Min   *int64    `yaml:"min,omitempty"`
	Max   *int64    `yaml:"max,omitempty"`
}

func (c Condition) Eval(values map[string]int64) bool {
	v, ok := values[c.Field]
	if !ok {
		return false
	}

	switch {
	case c.Other != "":
		other, ok := values[c.Other]
		if !ok {
			return false
		}
		scale := c.Scale
		if scale == 0 {
			scale = 1
		}
		return c.Op.Eval(v, other*scale)
	case c.Value != nil:
		return c.Op.Eval(v, *c.Value)
	}

	if c.Min != nil && v < *c.Min {
		return false
	}
	if c.Max != nil && v > *c.Max {
		return false
	}
	return true
}

// Heuristic adds Weight to a candidate's score when When holds.
type Heuristic struct {
	Name   string    `yaml:"name"`
	Weight int       `yaml:"weight"`
	When   Condition `yaml:"when"`
}

// Scored is a candidate with the heuristics it satisfied.
type Scored struct {
	layout.Candidate
	Score   int
	Matched []string
}

// Ranker scores and orders candidates. The zero value ranks by address only.
type Ranker struct {
	Heuristics []Heuristic `yaml:"heuristics"`
	// Dedupe drops candidates whose values repeat an earlier (lower) address
	Dedupe bool `yaml:"dedupe"`
}

// Parse decodes a ranker from YAML.
func Parse(data []byte) (*Ranker, error) {
	var r Ranker
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse heuristics: %w", err)
	}
	return &r, nil
}

// Load reads a ranker from a YAML file.
func Load(path string) (*Ranker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read heuristics file: %w", err)
	}
	return Parse(data)
}

// Check verifies every heuristic refers to fields of l and uses a known operator.
func (r *Ranker) Check(l *layout.Layout) error {
	var errs []error
	for _, h := range r.Heuristics {
		c := h.When
		if _, ok := l.Field(c.Field); !ok {
			errs = append(errs, fmt.Errorf("heuristic %q: unknown field %q", h.Name, c.Field))
		}
		if c.Other != "" {
			if _, ok := l.Field(c.Other); !ok {
				errs = append(errs, fmt.Errorf("heuristic %q: unknown field %q", h.Name, c.Other))
			}
		}
		if (c.Other != "" || c.Value != nil) && !c.Op.Valid() {
			errs = append(errs, fmt.Errorf("heuristic %q: unknown op %q", h.Name, c.Op))
		}
	}
	return errors.Join(errs...)
}

// Score returns the summed weight of the satisfied heuristics and their names.
func (r *Ranker) Score(c layout.Candidate) (int, []string) {
	score := 0
	var matched []string
	for _, h := range r.Heuristics {
		if h.When.Eval(c.Values) {
			score += h.Weight
			matched = append(matched, h.Name)
		}
	}
	return score, matched
}

// Rank returns candidates best first: score descending, then address ascending. The order is
// total, so the result does not depend on the input order.
func (r *Ranker) Rank(cands []layout.Candidate) []Scored {
	sorted := make([]layout.Candidate, len(cands))
	copy(sorted, cands)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Address != sorted[j].Address {
			return sorted[i].Address < sorted[j].Address
		}
		// same address read twice: order by values so the kept one is stable
		return valueKey(sorted[i].Values) < valueKey(sorted[j].Values)
	})

	out := make([]Scored, 0, len(sorted))
	seen := make(map[string]bool)
	var last *layout.Candidate
	for i := range sorted {
		c := sorted[i]
		if last != nil && last.Address == c.Address {
			continue
		}
		last = &sorted[i]

		if r.Dedupe {
			k := valueKey(c.Values)
			if seen[k] {
				continue
			}
			seen[k] = true
		}

		score, matched := r.Score(c)
		out = append(out, Scored{Candidate: c, Score: score, Matched: matched})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Address < out[j].Address
	})
	return out
}

func valueKey(values map[string]int64) string {
	names := make([]string, 0, len(values))
	for n := range values {
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, n := range names {
		fmt.Fprintf(&b, "%s=%d;", n, values[n])
	}
	return b.String()
}
