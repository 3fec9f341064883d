package region

import (
	"errors"
	"testing"

	"memlocate/process"
	"memlocate/process/memory_map"
	"memlocate/process_blob"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSpace() *process_blob.ProcessDump {
	d := process_blob.NewProcessDump()
	d.AddRegion(0x400000, make([]byte, 0x2000), "r-xp")
	d.AddRegion(0x402000, make([]byte, 0x1000), "rw-p")
	d.AddRegion(0x10000000, make([]byte, 0x4000), "rw-p")
	d.AddRegion(0x20000000, make([]byte, 0x1000), "---p")
	d.AddRegion(0x30000000, make([]byte, 0x10000), "r--p")
	d.SetImage(0x400000, 0x3000, "/usr/bin/target")
	return d
}

func bases(rs []Region) []process.ProcessMemoryAddress {
	out := make([]process.ProcessMemoryAddress, len(rs))
	for i, r := range rs {
		out[i] = r.Base
	}
	return out
}

func TestRegionsReadableSkipsInaccessible(t *testing.T) {
	e := NewEnumerator(newSpace())

	rs, err := e.List(Readable())
	require.NoError(t, err)
	assert.Equal(t, []process.ProcessMemoryAddress{0x400000, 0x402000, 0x10000000, 0x30000000}, bases(rs))
}

func TestRegionsFilters(t *testing.T) {
	e := NewEnumerator(newSpace())

	tests := []struct {
		name   string
		filter Filter
		want   []process.ProcessMemoryAddress
	}{
		{"writable", Filter{Require: memory_map.ProtRead | memory_map.ProtWrite}, []process.ProcessMemoryAddress{0x402000, 0x10000000}},
		{"no exec", Filter{Require: memory_map.ProtRead, Exclude: memory_map.ProtExec}, []process.ProcessMemoryAddress{0x402000, 0x10000000, 0x30000000}},
		{"bounds", Filter{Require: memory_map.ProtRead, MinBase: 0x1000000, MaxBase: 0x2fffffff}, []process.ProcessMemoryAddress{0x10000000}},
		{"size", Filter{Require: memory_map.ProtRead, MinSize: 0x2000, MaxSize: 0x8000}, []process.ProcessMemoryAddress{0x400000, 0x10000000}},
		{"image only", Filter{Require: memory_map.ProtRead, Scope: ScopeImage}, []process.ProcessMemoryAddress{0x400000, 0x402000}},
		{"heap only", Filter{Require: memory_map.ProtRead, Scope: ScopeExcludeImage}, []process.ProcessMemoryAddress{0x10000000, 0x30000000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs, err := e.List(tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, bases(rs))
		})
	}
}

func TestRegionsRestartable(t *testing.T) {
	d := newSpace()
	e := NewEnumerator(d)
	seq := e.Regions(Readable())

	var first []Region
	for r, err := range seq {
		require.NoError(t, err)
		first = append(first, r)
		if len(first) == 2 {
			break
		}
	}

	var second []Region
	for r, err := range seq {
		require.NoError(t, err)
		second = append(second, r)
	}

	require.Len(t, first, 2)
	require.Len(t, second, 4)
	assert.Equal(t, first, second[:2])

	d.AddRegion(0x50000000, make([]byte, 0x1000), "rw-p")
	rs, err := e.List(Readable())
	require.NoError(t, err)
	assert.Len(t, rs, 5)
}

type brokenQuery struct {
	*process_blob.ProcessDump
	failAt process.ProcessMemoryAddress
}

func (b brokenQuery) QueryRegion(addr process.ProcessMemoryAddress) (memory_map.MemoryMapItem, error) {
	if addr >= b.failAt {
		return memory_map.MemoryMapItem{}, errors.New("access denied")
	}
	return b.ProcessDump.QueryRegion(addr)
}

func TestRegionsEnumerationFailed(t *testing.T) {
	e := NewEnumerator(brokenQuery{ProcessDump: newSpace(), failAt: 0x403000})

	rs, err := e.List(Readable())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEnumerationFailed)
	assert.Len(t, rs, 2, "regions before the failure are still delivered")
}

func TestRegionsProcessLost(t *testing.T) {
	d := newSpace()
	d.LoseAfter(0)

	_, err := NewEnumerator(d).List(Readable())
	require.Error(t, err)
	assert.ErrorIs(t, err, process.ErrProcessLost)
	assert.NotErrorIs(t, err, ErrEnumerationFailed)
}

func TestRegionsMissingImage(t *testing.T) {
	d := process_blob.NewProcessDump()
	d.AddRegion(0x10000000, make([]byte, 0x1000), "rw-p")

	_, err := NewEnumerator(d).List(Filter{Scope: ScopeImage})
	assert.ErrorIs(t, err, ErrEnumerationFailed)
}
