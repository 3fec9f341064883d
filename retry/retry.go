// Package retry repeats an operation with exponential backoff. The engine itself does one pass per
// call; callers that want to wait for a structure to appear wrap Find with Do.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Config controls the backoff. MaxAttempts of zero retries until ctx ends.
type Config struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	// MaxBackoff caps a single wait; zero means no cap
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// ShouldRetryFunc reports whether err is worth another attempt. Nil retries everything.
type ShouldRetryFunc func(error) bool

// Do calls fn until it succeeds, shouldRetry rejects its error, the attempts run out, or ctx ends.
// onRetry, if set, is told about every failed attempt before the wait.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error, shouldRetry ShouldRetryFunc, onRetry func(attempt int, err error, wait time.Duration)) error {
	var lastErr error

	for attempt := 1; cfg.MaxAttempts == 0 || attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		lastErr = err

		if cfg.MaxAttempts != 0 && attempt == cfg.MaxAttempts {
			break
		}

		wait := Backoff(cfg, attempt)
		if onRetry != nil {
			onRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// Backoff is the wait after the given failed attempt: InitialBackoff * 2^(attempt-1), capped.
func Backoff(cfg Config, attempt int) time.Duration {
	multiplier := math.Pow(2, float64(attempt-1))
	backoff := time.Duration(multiplier * float64(cfg.InitialBackoff))

	if cfg.MaxBackoff > 0 && (backoff > cfg.MaxBackoff || backoff < 0) {
		backoff = cfg.MaxBackoff
	}
	return backoff
}
