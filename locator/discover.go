package locator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"memlocate/layout"
	"memlocate/process"
	"memlocate/process_blob"
	"memlocate/rank"
	"memlocate/region"
	"memlocate/scan"
	"memlocate/signature"

	"github.com/google/uuid"
)

// hitFunc returns the candidate structure bases inside one copied region.
type hitFunc func(blob *process_blob.ProcessBlob) []process.ProcessMemoryAddress

// Discover runs one full pass and returns every validated candidate, best first. It does not use
// or touch the cache and does not change the engine state.
func (e *Engine) Discover(ctx context.Context, known map[string]int64) ([]rank.Scored, error) {
	if err := e.checkKnown(known); err != nil {
		return nil, err
	}
	passCtx, cancel := e.budget(ctx)
	defer cancel()
	ranked, err := e.discover(passCtx, known, signature.Signature{})
	if err != nil {
		return nil, e.timedOut(ctx, err)
	}
	return ranked, nil
}

// hits picks the cheapest way to produce bases: a signature when one is given, a literal search
// for a known value, otherwise a range scan over the anchor field.
func (e *Engine) hits(known map[string]int64, sig signature.Signature) (hitFunc, string, error) {
	step := e.layout.Step()

	if !sig.IsZero() {
		return func(blob *process_blob.ProcessBlob) []process.ProcessMemoryAddress {
			return sig.Scan(blob, e.proc, step)
		}, "signature", nil
	}

	toBases := func(blob *process_blob.ProcessBlob, f layout.Field, offsets []int) []process.ProcessMemoryAddress {
		var out []process.ProcessMemoryAddress
		for _, off := range offsets {
			at := blob.Base() + process.ProcessMemoryAddress(off)
			if uint64(at) < f.Offset {
				continue
			}
			base := at - process.ProcessMemoryAddress(f.Offset)
			if step > 1 && uint64(base)%uint64(step) != 0 {
				continue
			}
			out = append(out, base)
		}
		return out
	}

	// the field stride matches the base stride only if the field offset is itself aligned
	fieldStep := func(f layout.Field) int {
		if step > 1 && f.Offset%uint64(step) == 0 {
			return step
		}
		return 1
	}

	if len(known) > 0 {
		f, ok := e.layout.AnchorField()
		if _, isKnown := known[f.Name]; !ok || !isKnown {
			for _, lf := range e.layout.Fields {
				if _, isKnown := known[lf.Name]; isKnown {
					f = lf
					break
				}
			}
		}
		value := known[f.Name]
		if _, err := scan.Encode(value, f.Type.Size()); err != nil {
			return nil, "", fmt.Errorf("known %s: %w", f.Name, err)
		}
		return func(blob *process_blob.ProcessBlob) []process.ProcessMemoryAddress {
			offsets, _ := scan.FindInt(blob.Data(), value, f.Type.Size(), fieldStep(f))
			return toBases(blob, f, offsets)
		}, fmt.Sprintf("%s=%d", f.Name, value), nil
	}

	f, ok := e.layout.AnchorField()
	if !ok {
		return nil, "", fmt.Errorf("layout %q has no anchor and no value is known", e.layout.Name)
	}
	return func(blob *process_blob.ProcessBlob) []process.ProcessMemoryAddress {
		offsets := scan.FindRange(blob.Data(), f.Type.Size(), fieldStep(f), func(v uint64) bool {
			return f.InDomain(f.Type.FromUint(v))
		})
		return toBases(blob, f, offsets)
	}, "anchor " + f.Name, nil
}

func (e *Engine) discover(ctx context.Context, known map[string]int64, sig signature.Signature) ([]rank.Scored, error) {
	hits, how, err := e.hits(known, sig)
	if err != nil {
		return nil, err
	}

	pass := uuid.New().String()

	e.log.Infoln("Pass", pass, "started, searching by", how)
	start := time.Now()

	var (
		mu    sync.Mutex
		cands []layout.Candidate
	)
	stats, err := e.scanner.Walk(ctx, e.enum.Regions(e.opts.Filter), func(ctx context.Context, r region.Region, blob *process_blob.ProcessBlob) error {
		src := process_blob.Overlay{Blob: blob, Fallback: e.proc}

		var local []layout.Candidate
		for _, base := range hits(blob) {
			c, err := e.layout.Validate(src, base)
			if err != nil || !c.Matches(known) {
				continue
			}
			local = append(local, c)
		}
		if len(local) > 0 {
			mu.Lock()
			cands = append(cands, local...)
			mu.Unlock()
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("pass %s: %w", pass, err)
	}
	// a region copied just before the target exited can still look fine
	if err := e.proc.Alive(); err != nil {
		return nil, err
	}

	ranked := e.ranker.Rank(cands)
	e.log.Infoln("Pass", pass, "done in", time.Since(start).Round(time.Millisecond), ":", stats.String(), ",", len(cands), "valid,", len(ranked), "ranked")

	if len(ranked) == 0 {
		return nil, fmt.Errorf("%w (pass %s, searched by %s)", ErrNoCandidateFound, pass, how)
	}
	return ranked, nil
}
