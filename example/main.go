// Command example locates a player record in a synthetic process image, then moves it and
// shows the engine following it through the pointer chain.
package main

import (
	"context"
	_ "embed"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"memlocate/hexdump"
	"memlocate/layout"
	"memlocate/locator"
	"memlocate/process"
	"memlocate/process_blob"
	"memlocate/rank"
)

//go:embed layout.yaml
var layoutYAML []byte

//go:embed heuristics.yaml
var heuristicsYAML []byte

const (
	imageBase = 0x400000
	heapBase  = 0x10000000
	// the image keeps a pointer to the player at this offset
	slot = 0x1230
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	l, err := layout.Parse(layoutYAML)
	if err != nil {
		return err
	}
	r, err := rank.Parse(heuristicsYAML)
	if err != nil {
		return err
	}
	if err := r.Check(l); err != nil {
		return err
	}

	values := map[string]int64{
		"field_a":     1200,
		"field_a_max": 2000,
		"level":       42,
		"field_b":     300,
		"field_b_max": 1000,
	}

	dump := process_blob.NewProcessDump()
	image := make([]byte, 0x2000)
	heap := make([]byte, 0x10000)
	binary.LittleEndian.PutUint64(image[slot:], heapBase+0x3000)
	copy(heap[0x3000:], l.Encode(values))
	dump.AddRegion(imageBase, image, "r--p")
	dump.AddRegion(heapBase, heap, "rw-p")
	dump.SetImage(imageBase, process.ProcessMemorySize(len(image)), "/opt/game/bin/game")

	dir, err := os.MkdirTemp("", "memlocate-example")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	opts := locator.DefaultOptions()
	opts.CachePath = filepath.Join(dir, "cache.json")
	e := locator.New(dump, l, r, opts)

	ctx := context.Background()
	res, err := e.Find(ctx, map[string]int64{"field_a": 1200})
	if err != nil {
		return err
	}
	fmt.Printf("Found %s at %s via %s\n", l.Name, res.Address().ToString(), res.Chain())

	data, err := dump.ReadMemory(res.Address(), process.ProcessMemorySize(l.Span()))
	if err != nil {
		return err
	}
	hexdump.Structure(os.Stdout, l, res.Address(), data, hexdump.Options{Collapse: true})

	// reallocate: the old copy is freed and the image pointer retargeted
	if err := dump.Poke(heapBase+0x3000, make([]byte, l.Span())); err != nil {
		return err
	}
	values["field_a"] = 900
	if err := dump.Poke(heapBase+0x8000, l.Encode(values)); err != nil {
		return err
	}
	ptr := make([]byte, 8)
	binary.LittleEndian.PutUint64(ptr, heapBase+0x8000)
	if err := dump.Poke(imageBase+slot, ptr); err != nil {
		return err
	}

	fmt.Printf("Stale handle still valid: %v\n", res.IsValid())
	all, err := res.ReadAll()
	if err != nil {
		return err
	}
	fmt.Printf("Read through the chain: field_a=%d\n", all["field_a"])

	// a second engine starts from the cache and never scans
	again, err := locator.New(dump, l, r, opts).Find(ctx, nil)
	if err != nil {
		return err
	}
	fmt.Printf("Cached lookup resolved %s\n", again.Address().ToString())
	return nil
}
