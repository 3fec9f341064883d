package locator

import (
	"context"
	"errors"
	"time"

	"memlocate/process"
)

// Reading is one periodic read of a tracked structure.
type Reading struct {
	Values     map[string]int64
	Address    process.ProcessMemoryAddress
	Generation uint64
	At         time.Time
}

type rescanResult struct {
	res *ResolvedStructure
	err error
}

// Track finds the structure and then reads it every ReadInterval, handing each reading to fn.
// Every RevalidateInterval the structure is validated again; a failure invalidates the cache and
// starts a rescan in the background. known only narrows the first Find; rescans search without it.
// Reads continue meanwhile, but one that began before a rescan finished is dropped rather than
// delivered. ErrNoCandidateFound during a rescan is retried at the
// next revalidation. Track returns when ctx ends or the process is lost.
func (e *Engine) Track(ctx context.Context, known map[string]int64, fn func(Reading)) error {
	res, err := e.Find(ctx, known)
	if err != nil {
		return err
	}

	readEvery := e.opts.ReadInterval
	if readEvery <= 0 {
		readEvery = DefaultOptions().ReadInterval
	}
	revalidateEvery := e.opts.RevalidateInterval
	if revalidateEvery <= 0 {
		revalidateEvery = DefaultOptions().RevalidateInterval
	}

	readT := time.NewTicker(readEvery)
	defer readT.Stop()
	revalT := time.NewTicker(revalidateEvery)
	defer revalT.Stop()

	rescanCtx, cancelRescan := context.WithCancel(ctx)
	defer cancelRescan()
	done := make(chan rescanResult, 1)
	rescanning := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case r := <-done:
			rescanning = false
			switch {
			case r.err == nil:
				res = r.res
			case errors.Is(r.err, process.ErrProcessLost):
				return r.err
			default:
				e.log.Warn("Rescan failed, retrying at the next revalidation: ", r.err)
			}

		case <-readT.C:
			if e.State() != Tracking {
				continue
			}
			gen := e.generation.Load()
			values, err := res.ReadAll()
			if errors.Is(err, process.ErrProcessLost) {
				return err
			}
			if err != nil {
				e.log.Debugln("Read failed:", err)
				continue
			}
			if e.generation.Load() != gen || res.generation != gen {
				// a rescan finished while we were reading
				continue
			}
			fn(Reading{Values: values, Address: res.locate(), Generation: gen, At: time.Now()})

		case <-revalT.C:
			if rescanning {
				continue
			}
			if e.State() == Tracking && res.IsValid() {
				continue
			}
			if err := e.proc.Alive(); err != nil {
				return err
			}

			e.log.Infoln("Structure at", res.Address().ToString(), "no longer validates")
			e.setState(Invalidated)
			if e.cache != nil {
				if err := e.cache.Invalidate(); err != nil {
					e.log.Warn(err)
				}
			}

			rescanning = true
			go func() {
				// the values known at start have usually moved on since, so the rescan goes by
				// signature and then by anchor range
				r, err := e.rescan(rescanCtx, nil)
				done <- rescanResult{res: r, err: err}
			}()
		}
	}
}
