package scan

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"runtime"
	"sync/atomic"

	"memlocate/process"
	"memlocate/process_blob"
	"memlocate/region"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"golang.org/x/sync/errgroup"
)

// ErrRegionReadFailed marks a region whose contents could not be copied. It is local to the
// region and never ends a pass.
var ErrRegionReadFailed = errors.New("region read failed")

// DefaultMaxRegionSize bounds the regions a pass will copy.
const DefaultMaxRegionSize = 256 * 1024 * 1024

type Options struct {
	// Workers bounds concurrent region reads; zero means runtime.NumCPU()
	Workers int
	// MaxRegionSize skips larger regions; zero means DefaultMaxRegionSize
	MaxRegionSize process.ProcessMemorySize
}

// Stats summarises one pass.
type Stats struct {
	Regions   int64
	Bytes     int64
	Oversized int64
	Failed    int64
}

func (s *Stats) String() string {
	return fmt.Sprintf("%d regions, %d MB, %d oversized, %d failed", s.Regions, s.Bytes/1024/1024, s.Oversized, s.Failed)
}

// RegionFunc is called once per copied region. Returning an error aborts the pass.
type RegionFunc func(ctx context.Context, r region.Region, blob *process_blob.ProcessBlob) error

// Scanner copies regions out of a process and hands them to a RegionFunc on a bounded pool.
type Scanner struct {
	reader process.MemoryReader
	opts   Options
	log    *logger.Logger
}

func NewScanner(reader process.MemoryReader, opts Options) *Scanner {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.MaxRegionSize == 0 {
		opts.MaxRegionSize = DefaultMaxRegionSize
	}
	return &Scanner{
		reader: reader,
		opts:   opts,
		log:    logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "scan")),
	}
}

// Walk consumes regions and runs fn on each one's bytes. Failed region reads are counted and
// skipped. The pass ends early on process.ErrProcessLost, an enumeration error, an error from fn,
// or ctx cancellation; in every case the first such error is returned.
func (s *Scanner) Walk(ctx context.Context, regions iter.Seq2[region.Region, error], fn RegionFunc) (*Stats, error) {
	stats := &Stats{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)

	var enumErr error
	for r, err := range regions {
		if err != nil {
			enumErr = err
			break
		}
		if gctx.Err() != nil {
			break
		}
		if r.Size > s.opts.MaxRegionSize {
			s.log.Debugln("Skipping oversized region", r.String(), r.Size.ToString())
			atomic.AddInt64(&stats.Oversized, 1)
			continue
		}

		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}

			data, err := s.reader.ReadMemory(r.Base, r.Size)
			if err != nil {
				if errors.Is(err, process.ErrProcessLost) {
					return err
				}
				s.log.Debugln(fmt.Errorf("%w at %s: %w", ErrRegionReadFailed, r.Base.ToString(), err))
				atomic.AddInt64(&stats.Failed, 1)
				return nil
			}

			atomic.AddInt64(&stats.Regions, 1)
			atomic.AddInt64(&stats.Bytes, int64(len(data)))
			return fn(gctx, r, process_blob.NewProcessBlob(r.Base, data))
		})
	}

	err := g.Wait()
	if err == nil {
		err = enumErr
	}
	if err == nil {
		err = ctx.Err()
	}
	return stats, err
}
