//go:build linux

package memory_map

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const maps = `00400000-0040b000 r-xp 00000000 08:01 1234       /usr/bin/my target
0060a000-0060b000 rw-p 0000a000 08:01 1234       /usr/bin/my target
01c2e000-01c4f000 rw-p 00000000 00:00 0          [heap]
7f1e2c000000-7f1e2c021000 rw-p 00000000 00:00 0
garbage line
7ffd1000-7ffd0000 r--p 00000000 00:00 0
`

func TestParseMaps(t *testing.T) {
	items, err := ParseMaps(strings.NewReader(maps))
	require.NoError(t, err)
	require.Len(t, items, 4, "malformed and inverted ranges are skipped")

	assert.Equal(t, MemoryMapItem{
		Address: 0x400000,
		Size:    0xb000,
		Perms:   "r-xp",
		State:   StateCommitted,
		Path:    "/usr/bin/my target",
	}, items[0])
	assert.Equal(t, "[heap]", items[2].Path)
	assert.Empty(t, items[3].Path)
	assert.True(t, items[3].IsWritable())
}

func TestReadMemoryMapSelf(t *testing.T) {
	items, err := NewLinuxMemoryMap().ReadMemoryMap(os.Getpid())
	require.NoError(t, err)
	assert.NotEmpty(t, items)
}
