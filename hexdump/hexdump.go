// Package hexdump renders target memory for humans, with the bytes of known fields marked.
package hexdump

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"memlocate/layout"
	"memlocate/process"

	"github.com/Moonlight-Companies/gologger/coloransi"
)

const bytesPerLine = 16

// Options controls the output.
type Options struct {
	// Color marks field bytes with ANSI colors instead of brackets
	Color bool
	// Collapse replaces runs of identical lines with a single "*", like hexdump(1)
	Collapse bool
}

// span is a named byte range relative to the start of data.
type span struct {
	name  string
	start uint64
	end   uint64
}

// Dump writes data as it would sit at base.
func Dump(w io.Writer, base process.ProcessMemoryAddress, data []byte, opts Options) {
	dump(w, base, data, nil, opts)
}

// Structure writes a layout-sized view of data with every field marked, followed by the decoded
// values. data must hold at least l.Span() bytes.
func Structure(w io.Writer, l *layout.Layout, base process.ProcessMemoryAddress, data []byte, opts Options) {
	spans := make([]span, 0, len(l.Fields))
	for _, f := range l.Fields {
		spans = append(spans, span{name: f.Name, start: f.Offset, end: f.Offset + uint64(f.Type.Size())})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	dump(w, base, data, spans, opts)

	values := l.Decode(data)
	for _, s := range spans {
		fmt.Fprintf(w, "  +0x%04x %-16s %d\n", s.start, s.name, values[s.name])
	}
}

func inSpan(spans []span, off uint64) bool {
	for _, s := range spans {
		if off >= s.start && off < s.end {
			return true
		}
	}
	return false
}

func dump(w io.Writer, base process.ProcessMemoryAddress, data []byte, spans []span, opts Options) {
	var prev []byte
	skipping := false

	for off := 0; off < len(data); off += bytesPerLine {
		end := min(off+bytesPerLine, len(data))
		line := data[off:end]

		// marked lines are never collapsed
		marked := false
		for i := off; i < end; i++ {
			if inSpan(spans, uint64(i)) {
				marked = true
				break
			}
		}
		if opts.Collapse && !marked && prev != nil && bytes.Equal(prev, line) && end < len(data) {
			if !skipping {
				fmt.Fprintln(w, "*")
				skipping = true
			}
			continue
		}
		skipping = false
		prev = line

		formatLine(w, base+process.ProcessMemoryAddress(off), uint64(off), line, spans, opts)
	}
}

func formatLine(w io.Writer, addr process.ProcessMemoryAddress, off uint64, line []byte, spans []span, opts Options) {
	var b strings.Builder
	fmt.Fprintf(&b, "%016x  ", uint64(addr))

	for i := 0; i < bytesPerLine; i++ {
		if i == bytesPerLine/2 {
			b.WriteString(" ")
		}
		if i >= len(line) {
			b.WriteString("   ")
			continue
		}

		cell := fmt.Sprintf("%02x", line[i])
		sep := " "
		if inSpan(spans, off+uint64(i)) {
			if opts.Color {
				cell = coloransi.Color(coloransi.Red, coloransi.ColorOrange, cell)
			} else {
				// plain output marks field bytes with a trailing asterisk
				sep = "*"
			}
		}
		b.WriteString(cell)
		b.WriteString(sep)
	}

	b.WriteString(" |")
	for _, c := range line {
		if c >= 0x20 && c < 0x7f {
			b.WriteByte(c)
		} else {
			b.WriteByte('.')
		}
	}
	b.WriteString("|")
	fmt.Fprintln(w, b.String())
}
