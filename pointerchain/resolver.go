package pointerchain

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"memlocate/process"
	"memlocate/process_blob"
	"memlocate/region"
	"memlocate/scan"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// Resolver holds configuration for the search
type Resolver struct {
	proc    process.Process
	enum    *region.Enumerator
	scanner *scan.Scanner
	log     *logger.Logger

	PointerSize   int
	Alignment     int
	MaxBackOffset uint64
	MaxTargets    int
	Filter        region.Filter
	Verify        func(process.ProcessMemoryAddress) bool
	ScanOptions   scan.Options
}

// Option is a function that configures a Resolver
type Option func(*Resolver)

func WithPointerSize(size int) Option {
	return func(r *Resolver) {
		r.PointerSize = size
	}
}

func WithAlignment(align int) Option {
	return func(r *Resolver) {
		r.Alignment = align
	}
}

// WithMaxBackOffset accepts slots pointing up to n bytes below their target, i.e. at the start of
// an enclosing object rather than at the structure itself.
func WithMaxBackOffset(n uint64) Option {
	return func(r *Resolver) {
		r.MaxBackOffset = n
	}
}

// WithMaxTargets caps how many heap slots one level may hand to the next.
func WithMaxTargets(n int) Option {
	return func(r *Resolver) {
		r.MaxTargets = n
	}
}

func WithFilter(f region.Filter) Option {
	return func(r *Resolver) {
		r.Filter = f
	}
}

// WithVerify adds a check of the resolved address on top of the address equality test.
func WithVerify(fn func(process.ProcessMemoryAddress) bool) Option {
	return func(r *Resolver) {
		r.Verify = fn
	}
}

func WithScanOptions(opts scan.Options) Option {
	return func(r *Resolver) {
		r.ScanOptions = opts
	}
}

func New(proc process.Process, options ...Option) *Resolver {
	r := &Resolver{
		proc:          proc,
		enum:          region.NewEnumerator(proc),
		log:           logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "pointerchain")),
		PointerSize:   8,
		MaxBackOffset: 0,
		MaxTargets:    4096,
		Filter:        region.Readable(),
	}
	for _, opt := range options {
		opt(r)
	}
	if r.Alignment <= 0 {
		r.Alignment = r.PointerSize
	}
	r.scanner = scan.NewScanner(proc, r.ScanOptions)
	return r
}

// target is an address being searched for, with the path that leads from it to the structure.
type target struct {
	addr    process.ProcessMemoryAddress
	offsets []uint64
	field   uint64
	root    bool
}

// node is a slot that points at a target.
type node struct {
	slot    process.ProcessMemoryAddress
	offsets []uint64
	field   uint64
}

// FindStaticReferences searches for pointer slots holding structure (or an address up to
// MaxBackOffset below it). If none of them lies inside the main image, the heap slots found become
// the targets of the next level, up to maxIndirection extra levels. Every level is one pass over
// the address space. Only descriptors rooted in the main image and verified live are returned,
// shortest first.
func (r *Resolver) FindStaticReferences(ctx context.Context, structure process.ProcessMemoryAddress, maxIndirection int) ([]Descriptor, error) {
	img, err := r.proc.MainImage()
	if err != nil {
		return nil, fmt.Errorf("main image unknown: %w", err)
	}

	targets := []target{{addr: structure, root: true}}
	visited := map[process.ProcessMemoryAddress]bool{structure: true}

	for level := 0; level <= maxIndirection && len(targets) > 0; level++ {
		nodes, err := r.pass(ctx, targets)
		if err != nil {
			return nil, err
		}

		var static []Descriptor
		var next []target
		for _, n := range nodes {
			if img.Contains(n.slot) {
				d := Descriptor{
					ModuleOffset: uint64(n.slot - img.Base),
					Offsets:      n.offsets,
					FieldOffset:  n.field,
					PointerSize:  r.PointerSize,
				}
				if r.verify(d, img.Base, structure) {
					static = append(static, d)
				} else {
					r.log.Debugln("Discarding chain that does not resolve", d.String())
				}
				continue
			}
			if visited[n.slot] {
				continue
			}
			visited[n.slot] = true
			next = append(next, target{addr: n.slot, offsets: n.offsets, field: n.field})
		}

		r.log.Infoln("Level", level, ":", len(nodes), "slots,", len(static), "static")

		if len(static) > 0 {
			sortDescriptors(static)
			return static, nil
		}

		if len(next) > r.MaxTargets {
			r.log.Warn("Truncating ", len(next), " heap slots to ", r.MaxTargets)
			next = next[:r.MaxTargets]
		}
		targets = next
	}

	return nil, nil
}

func (r *Resolver) verify(d Descriptor, base, structure process.ProcessMemoryAddress) bool {
	addr, err := d.Resolve(r.proc, base)
	if err != nil || addr != structure {
		return false
	}
	return r.Verify == nil || r.Verify(addr)
}

// pass scans the address space once for pointer-sized words that land on, or up to
// MaxBackOffset below, any of the targets.
func (r *Resolver) pass(ctx context.Context, targets []target) ([]node, error) {
	sorted := make([]target, len(targets))
	copy(sorted, targets)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].addr < sorted[j].addr })

	lo := uint64(sorted[0].addr) - min(r.MaxBackOffset, uint64(sorted[0].addr))
	hi := uint64(sorted[len(sorted)-1].addr)

	var (
		mu    sync.Mutex
		nodes []node
	)
	_, err := r.scanner.Walk(ctx, r.enum.Regions(r.Filter), func(ctx context.Context, reg region.Region, blob *process_blob.ProcessBlob) error {
		var local []node
		data := blob.Data()
		for _, off := range scan.FindRange(data, r.PointerSize, r.Alignment, func(v uint64) bool { return v >= lo && v <= hi }) {
			v := scan.Uint(data[off:], r.PointerSize)
			slot := reg.Base + process.ProcessMemoryAddress(off)

			i := sort.Search(len(sorted), func(i int) bool { return uint64(sorted[i].addr) >= v })
			for ; i < len(sorted) && uint64(sorted[i].addr)-v <= r.MaxBackOffset; i++ {
				t := sorted[i]
				if slot == t.addr {
					continue
				}
				d := uint64(t.addr) - v
				n := node{slot: slot, field: t.field}
				if t.root {
					n.field = d
				} else {
					n.offsets = append([]uint64{d}, t.offsets...)
				}
				local = append(local, n)
			}
		}
		if len(local) > 0 {
			mu.Lock()
			nodes = append(nodes, local...)
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// region order depends on scheduling
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].slot != nodes[j].slot {
			return nodes[i].slot < nodes[j].slot
		}
		return fmt.Sprint(nodes[i].offsets, nodes[i].field) < fmt.Sprint(nodes[j].offsets, nodes[j].field)
	})
	return nodes, nil
}

func sortDescriptors(ds []Descriptor) {
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].Depth() != ds[j].Depth() {
			return ds[i].Depth() < ds[j].Depth()
		}
		if ds[i].FieldOffset != ds[j].FieldOffset {
			return ds[i].FieldOffset < ds[j].FieldOffset
		}
		if ds[i].ModuleOffset != ds[j].ModuleOffset {
			return ds[i].ModuleOffset < ds[j].ModuleOffset
		}
		return fmt.Sprint(ds[i].Offsets) < fmt.Sprint(ds[j].Offsets)
	})
}
