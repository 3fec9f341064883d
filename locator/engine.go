// Package locator finds a structure of known layout in a live process and keeps track of it.
//
// Find tries the cache first. On a miss it runs one discovery pass (enumerate, scan, validate,
// rank), re-confirms the best candidate against the live process, derives a pointer chain when
// it can, and only then writes the cache.
package locator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"memlocate/cache"
	"memlocate/layout"
	"memlocate/pointerchain"
	"memlocate/process"
	"memlocate/rank"
	"memlocate/region"
	"memlocate/scan"
	"memlocate/signature"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNoCandidateFound means the pass completed and nothing validated. The structure may
	// simply not exist yet; retry later.
	ErrNoCandidateFound = errors.New("no candidate found")
	// ErrDiscoveryTimedOut means the pass ran past DiscoveryBudget.
	ErrDiscoveryTimedOut = errors.New("discovery timed out")
	// ErrEnumerationFailed means the address space could not be walked.
	ErrEnumerationFailed = region.ErrEnumerationFailed
)

type Options struct {
	Filter region.Filter
	Scan   scan.Options
	// DiscoveryBudget bounds one discovery pass; zero means unbounded
	DiscoveryBudget time.Duration

	// MaxIndirection is the number of heap levels the chain search may climb; negative disables it
	MaxIndirection int
	MaxBackOffset  uint64
	PointerSize    int

	ReadInterval       time.Duration
	RevalidateInterval time.Duration

	// CachePath of "" disables the cache
	CachePath string
}

func DefaultOptions() Options {
	return Options{
		Filter:             region.Readable(),
		DiscoveryBudget:    2 * time.Minute,
		MaxIndirection:     2,
		MaxBackOffset:      0x1000,
		PointerSize:        8,
		ReadInterval:       500 * time.Millisecond,
		RevalidateInterval: 5 * time.Second,
	}
}

type Engine struct {
	proc    process.Process
	layout  *layout.Layout
	ranker  *rank.Ranker
	opts    Options
	enum    *region.Enumerator
	scanner *scan.Scanner
	cache   *cache.Cache
	log     *logger.Logger

	identity process.Identity

	state      atomic.Int32
	generation atomic.Uint64

	scanMu sync.Mutex // one rescan at a time, whatever the key
	sf     singleflight.Group

	mu      sync.Mutex
	current *ResolvedStructure
	hint    signature.Signature // last signature seen, from a discovery or a stale cache entry
}

// New builds an engine over an open process. A nil ranker orders by address only.
func New(proc process.Process, l *layout.Layout, r *rank.Ranker, opts Options) *Engine {
	if r == nil {
		r = &rank.Ranker{}
	}
	if opts.Filter == (region.Filter{}) {
		opts.Filter = region.Readable()
	}
	if opts.PointerSize == 0 {
		opts.PointerSize = 8
	}

	e := &Engine{
		proc:    proc,
		layout:  l,
		ranker:  r,
		opts:    opts,
		enum:    region.NewEnumerator(proc),
		scanner: scan.NewScanner(proc, opts.Scan),
		log:     logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "locator")),
	}
	if opts.CachePath != "" {
		e.cache = cache.New(opts.CachePath, l)
	}

	id, err := process.IdentityOf(proc)
	if err != nil {
		e.log.Warn("Process identity unknown, cached addresses will be trusted only through chains: ", err)
	}
	e.identity = id
	return e
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	old := State(e.state.Swap(int32(s)))
	if old != s {
		e.log.Infoln("State", old.String(), "->", s.String())
	}
}

// Current is the last confirmed structure, or nil.
func (e *Engine) Current() *ResolvedStructure {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

func (e *Engine) checkKnown(known map[string]int64) error {
	var errs []error
	for name := range known {
		if _, ok := e.layout.Field(name); !ok {
			errs = append(errs, fmt.Errorf("layout %q has no field %q", e.layout.Name, name))
		}
	}
	return errors.Join(errs...)
}

func knownKey(known map[string]int64) string {
	names := make([]string, 0, len(known))
	for n := range known {
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, n := range names {
		fmt.Fprintf(&b, "%s=%d;", n, known[n])
	}
	return b.String()
}

// Find returns the structure, optionally narrowed by field values the caller already knows.
// A cached location is used when it revalidates and agrees with known; otherwise one discovery
// pass runs. Concurrent calls share a pass, and passes never overlap.
//
// ErrNoCandidateFound is an expected outcome while the structure does not exist yet.
// process.ErrProcessLost means the target is gone and the engine is useless.
func (e *Engine) Find(ctx context.Context, known map[string]int64) (*ResolvedStructure, error) {
	if err := e.checkKnown(known); err != nil {
		return nil, err
	}
	if err := e.proc.Alive(); err != nil {
		return nil, err
	}

	res, err := e.fromCache(known)
	if err != nil || res != nil {
		return res, err
	}
	return e.rescan(ctx, known)
}

func (e *Engine) rescan(ctx context.Context, known map[string]int64) (*ResolvedStructure, error) {
	v, err, shared := e.sf.Do(knownKey(known), func() (any, error) {
		e.scanMu.Lock()
		defer e.scanMu.Unlock()
		return e.locate(ctx, known)
	})
	if shared {
		e.log.Debugln("Joined a pass already in flight")
	}
	if err != nil {
		return nil, err
	}
	return v.(*ResolvedStructure), nil
}

func (e *Engine) fromCache(known map[string]int64) (*ResolvedStructure, error) {
	if e.cache == nil {
		return nil, nil
	}

	entry, err := e.cache.Load()
	if err != nil {
		e.log.Warn("Cache unreadable: ", err)
		return nil, nil
	}
	if entry == nil {
		return nil, nil
	}
	// even a stale entry remembers what the structure looked like
	if entry.Signature.Intact() {
		e.mu.Lock()
		e.hint = entry.Signature
		e.mu.Unlock()
	}

	cand, err := e.cache.Confirm(entry, cache.Target{Proc: e.proc, Identity: e.identity})
	if err != nil {
		if errors.Is(err, process.ErrProcessLost) {
			return nil, err
		}
		e.log.Infoln("Cached location is stale:", err)
		return nil, nil
	}
	if !cand.Matches(known) {
		e.log.Infoln("Cached structure at", cand.Address.ToString(), "does not match the known values")
		return nil, nil
	}
	e.log.Infoln("Cache hit at", cand.Address.ToString())

	res := &ResolvedStructure{proc: e.proc, layout: e.layout, cand: cand, chain: entry.Chain, sig: entry.Signature}
	e.setState(Located)
	e.promote(res)
	return res, nil
}

// promote makes res current and enters Tracking. Reads started under an older generation are
// discarded by Track.
func (e *Engine) promote(res *ResolvedStructure) {
	e.mu.Lock()
	res.generation = e.generation.Add(1)
	e.current = res
	if !res.sig.IsZero() {
		e.hint = res.sig
	}
	e.mu.Unlock()
	e.setState(Tracking)
}

func (e *Engine) locate(ctx context.Context, known map[string]int64) (*ResolvedStructure, error) {
	e.setState(Scanning)
	res, err := e.discoverAndConfirm(ctx, known)
	if err != nil {
		if e.Current() == nil {
			e.setState(Uninitialized)
		} else {
			e.setState(Invalidated)
		}
		return nil, err
	}
	return res, nil
}

// budget bounds one whole pass, discovery and chain search together.
func (e *Engine) budget(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.DiscoveryBudget <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.opts.DiscoveryBudget)
}

// timedOut maps a budget expiry under a still-live parent to ErrDiscoveryTimedOut.
func (e *Engine) timedOut(parent context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return fmt.Errorf("%w after %s: %v", ErrDiscoveryTimedOut, e.opts.DiscoveryBudget, err)
	}
	return err
}

func (e *Engine) discoverAndConfirm(ctx context.Context, known map[string]int64) (*ResolvedStructure, error) {
	passCtx, cancel := e.budget(ctx)
	defer cancel()

	var ranked []rank.Scored

	e.mu.Lock()
	hint := e.hint
	e.mu.Unlock()

	// content search first when there is nothing else to go on
	if len(known) == 0 && hint.Intact() {
		var err error
		ranked, err = e.discover(passCtx, known, hint)
		if err != nil && !errors.Is(err, ErrNoCandidateFound) {
			return nil, e.timedOut(ctx, err)
		}
		if len(ranked) == 0 {
			e.log.Infoln("Signature not found, falling back to a full scan")
		}
	}
	if len(ranked) == 0 {
		var err error
		if ranked, err = e.discover(passCtx, known, signature.Signature{}); err != nil {
			return nil, e.timedOut(ctx, err)
		}
	}

	best, err := e.confirm(ranked, known)
	if err != nil {
		return nil, err
	}
	e.setState(Located)

	sig, err := signature.Capture(e.proc, best.Address, e.layout.Signature)
	if err != nil {
		e.log.Warn("No signature captured: ", err)
	}

	var chain *pointerchain.Descriptor
	if e.opts.MaxIndirection >= 0 {
		if chain, err = e.chainWithin(ctx, passCtx, best.Address); err != nil {
			return nil, err
		}
	}

	if err := e.proc.Alive(); err != nil {
		return nil, err
	}
	// a cancelled caller never gets a cache write
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &ResolvedStructure{proc: e.proc, layout: e.layout, cand: best, chain: chain, sig: sig}
	if e.cache != nil {
		entry := &cache.Entry{
			CreatedAt: time.Now().UTC(),
			Identity:  e.identity,
			Address:   best.Address,
			Chain:     chain,
			Signature: sig,
		}
		if err := e.cache.Save(entry); err != nil {
			e.log.Warn(err)
		}
	}

	e.promote(res)
	return res, nil
}

// chainWithin runs the chain search under the pass budget. A confirmed address is worth keeping
// without a chain, so running out of budget here only skips the chain; a cancelled caller or a
// lost process still fails the pass.
func (e *Engine) chainWithin(parent, passCtx context.Context, addr process.ProcessMemoryAddress) (*pointerchain.Descriptor, error) {
	chain, err := e.findChain(passCtx, addr)
	if err == nil {
		return chain, nil
	}
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		e.log.Warn("Discovery budget spent before a pointer chain was found, caching the address only")
		return nil, nil
	}
	return nil, err
}

// confirm re-reads the ranked candidates from the live process, best first, and returns the first
// that still validates and matches known.
func (e *Engine) confirm(ranked []rank.Scored, known map[string]int64) (layout.Candidate, error) {
	for _, s := range ranked {
		c, err := e.layout.Validate(e.proc, s.Address)
		if err == nil && c.Matches(known) {
			e.log.Infoln("Confirmed", c.String(), "score", s.Score)
			return c, nil
		}
	}
	if err := e.proc.Alive(); err != nil {
		return layout.Candidate{}, err
	}
	return layout.Candidate{}, fmt.Errorf("%w: %d candidates changed before confirmation", ErrNoCandidateFound, len(ranked))
}

func (e *Engine) findChain(ctx context.Context, addr process.ProcessMemoryAddress) (*pointerchain.Descriptor, error) {
	r := pointerchain.New(e.proc,
		pointerchain.WithPointerSize(e.opts.PointerSize),
		pointerchain.WithMaxBackOffset(e.opts.MaxBackOffset),
		pointerchain.WithScanOptions(e.opts.Scan),
		pointerchain.WithVerify(func(a process.ProcessMemoryAddress) bool {
			_, err := e.layout.Validate(e.proc, a)
			return err == nil
		}),
	)

	chains, err := r.FindStaticReferences(ctx, addr, e.opts.MaxIndirection)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		if errors.Is(err, process.ErrProcessLost) {
			return nil, err
		}
		e.log.Warn("Pointer chain search failed: ", err)
		return nil, nil
	}
	if len(chains) == 0 {
		e.log.Infoln("No static pointer chain within", e.opts.MaxIndirection, "levels")
		return nil, nil
	}
	e.log.Infoln("Pointer chain", chains[0].String(), "of", len(chains))
	return &chains[0], nil
}

// Refine re-reads candidates from an earlier pass and keeps those still valid whose values now
// equal known: the "next scan" after the caller has watched a value change.
func (e *Engine) Refine(ctx context.Context, candidates []layout.Candidate, known map[string]int64) ([]layout.Candidate, error) {
	if err := e.checkKnown(known); err != nil {
		return nil, err
	}

	var out []layout.Candidate
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fresh, err := e.layout.Validate(e.proc, c.Address)
		if err != nil || !fresh.Matches(known) {
			continue
		}
		out = append(out, fresh)
	}
	if err := e.proc.Alive(); err != nil {
		return nil, err
	}
	e.log.Infoln("Refined", len(candidates), "candidates to", len(out))
	return out, nil
}
