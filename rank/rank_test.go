package rank

import (
	"math/rand"
	"testing"

	"memlocate/layout"
	"memlocate/process"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const heuristics = `
dedupe: true
heuristics:
  - name: paired max above primary max
    weight: 1000
    when: {field: mp_max, op: gt, other: hp_max}
  - name: primary max above level*5
    weight: 500
    when: {field: hp_max, op: gt, other: level, scale: 5}
  - name: primary max mid-range
    weight: 300
    when: {field: hp_max, min: 1000, max: 10000}
  - name: level differs from primary
    weight: 10
    when: {field: level, op: ne, other: hp}
`

func cand(addr process.ProcessMemoryAddress, hp, hpMax, mp, mpMax, level int64) layout.Candidate {
	return layout.Candidate{Address: addr, Values: map[string]int64{
		"hp": hp, "hp_max": hpMax, "mp": mp, "mp_max": mpMax, "level": level,
	}}
}

func mustRanker(t *testing.T) *Ranker {
	t.Helper()
	r, err := Parse([]byte(heuristics))
	require.NoError(t, err)
	require.Len(t, r.Heuristics, 4)
	return r
}

func TestScore(t *testing.T) {
	r := mustRanker(t)

	score, matched := r.Score(cand(0x1000, 1500, 2000, 900, 2500, 100))
	assert.Equal(t, 1000+500+300+10, score)
	assert.Len(t, matched, 4)

	// hp_max 2000 is not above level*5 = 2000
	score, _ = r.Score(cand(0x1000, 1500, 2000, 900, 900, 400))
	assert.Equal(t, 300+10, score)

	score, matched = r.Score(cand(0x1000, 50, 50, 10, 20, 50))
	assert.Equal(t, 0, score)
	assert.Empty(t, matched)
}

func TestRankOrder(t *testing.T) {
	r := mustRanker(t)
	cands := []layout.Candidate{
		cand(0x3000, 1500, 2000, 900, 900, 400),  // 310
		cand(0x2000, 1500, 2000, 900, 2500, 100), // 1810
		cand(0x1000, 50, 50, 10, 20, 50),         // 0
		cand(0x4000, 1600, 2100, 900, 2500, 100), // 1810, higher address
	}

	got := r.Rank(cands)
	require.Len(t, got, 4)
	assert.Equal(t, []process.ProcessMemoryAddress{0x2000, 0x4000, 0x3000, 0x1000},
		[]process.ProcessMemoryAddress{got[0].Address, got[1].Address, got[2].Address, got[3].Address})
	assert.Equal(t, 1810, got[0].Score)
}

func TestRankDeterministic(t *testing.T) {
	r := mustRanker(t)
	rng := rand.New(rand.NewSource(1))

	var cands []layout.Candidate
	for i := 0; i < 50; i++ {
		cands = append(cands, cand(process.ProcessMemoryAddress(0x1000+rng.Intn(0x100)*8),
			int64(rng.Intn(3000)), int64(rng.Intn(3000)), int64(rng.Intn(3000)), int64(rng.Intn(3000)), int64(rng.Intn(600))))
	}
	want := r.Rank(cands)

	for i := 0; i < 10; i++ {
		shuffled := append([]layout.Candidate(nil), cands...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, r.Rank(shuffled))
	}
}

func TestRankDedupeKeepsLowestAddress(t *testing.T) {
	r := mustRanker(t)
	cands := []layout.Candidate{
		cand(0x9000, 1500, 2000, 900, 2500, 100),
		cand(0x5000, 1500, 2000, 900, 2500, 100),
		cand(0x7000, 1500, 2000, 900, 2500, 100),
	}

	got := r.Rank(cands)
	require.Len(t, got, 1)
	assert.EqualValues(t, 0x5000, got[0].Address)

	r.Dedupe = false
	assert.Len(t, r.Rank(cands), 3)
}

func TestZeroRankerOrdersByAddress(t *testing.T) {
	var r Ranker
	got := r.Rank([]layout.Candidate{cand(0x30, 1, 1, 1, 1, 1), cand(0x10, 2, 2, 2, 2, 2), cand(0x20, 3, 3, 3, 3, 3)})
	require.Len(t, got, 3)
	assert.EqualValues(t, 0x10, got[0].Address)
	assert.EqualValues(t, 0x30, got[2].Address)
}

func TestCheck(t *testing.T) {
	l := &layout.Layout{Fields: []layout.Field{
		{Name: "hp", Offset: 0, Type: layout.I32},
		{Name: "hp_max", Offset: 8, Type: layout.I32},
		{Name: "level", Offset: 0x14, Type: layout.I32},
		{Name: "mp", Offset: 0x620, Type: layout.I32},
		{Name: "mp_max", Offset: 0x628, Type: layout.I32},
	}}
	require.NoError(t, l.Compile())

	r := mustRanker(t)
	assert.NoError(t, r.Check(l))

	r.Heuristics = append(r.Heuristics, Heuristic{Name: "bad", Weight: 1, When: Condition{Field: "mana", Op: layout.GT, Value: layout.Bound(1)}})
	assert.Error(t, r.Check(l))

	r.Heuristics = []Heuristic{{Name: "bad op", When: Condition{Field: "hp", Op: "near", Other: "hp_max"}}}
	assert.Error(t, r.Check(l))
}
