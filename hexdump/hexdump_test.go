package hexdump

import (
	"bytes"
	"strings"
	"testing"

	"memlocate/layout"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDumpLine(t *testing.T) {
	var out bytes.Buffer
	Dump(&out, 0x1000, []byte("ABCDEFGHIJKLMNOP\x00\x01"), Options{})

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "0000000000001000  41 42 43 44 45 46 47 48  49 4a 4b 4c 4d 4e 4f 50  |ABCDEFGHIJKLMNOP|", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "0000000000001010  00 01 "))
	assert.True(t, strings.HasSuffix(lines[1], "|..|"))
}

func TestDumpCollapse(t *testing.T) {
	var out bytes.Buffer
	Dump(&out, 0, make([]byte, 64), Options{Collapse: true})

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	// first line, the marker, and the last line which always prints
	require.Len(t, lines, 3)
	assert.Equal(t, "*", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "0000000000000030"))
}

func TestStructureMarksFields(t *testing.T) {
	l, err := layout.Parse([]byte(`
name: rec
fields:
  - {name: a, offset: 0x0, type: u16}
  - {name: b, offset: 0x24, type: i32}
`))
	require.NoError(t, err)

	data := l.Encode(map[string]int64{"a": 0x1234, "b": -1})
	var out bytes.Buffer
	Structure(&out, l, 0x2000, data, Options{Collapse: true})

	text := out.String()
	assert.Contains(t, text, "0000000000002000  34*12*00 ")
	assert.Contains(t, text, "0000000000002020  00 00 00 00 ff*ff*ff*ff*")
	assert.Contains(t, text, "a")
	assert.Contains(t, text, "-1\n")
}
