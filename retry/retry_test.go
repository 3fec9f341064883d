package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNotYet = errors.New("not yet")

func TestDoSucceedsAfterRetries(t *testing.T) {
	calls := 0
	var waits []time.Duration

	err := Do(context.Background(), Config{MaxAttempts: 5, InitialBackoff: time.Millisecond}, func(context.Context) error {
		calls++
		if calls < 3 {
			return errNotYet
		}
		return nil
	}, nil, func(_ int, _ error, wait time.Duration) {
		waits = append(waits, wait)
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, waits)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0

	err := Do(context.Background(), Config{MaxAttempts: 5, InitialBackoff: time.Millisecond}, func(context.Context) error {
		calls++
		return fatal
	}, func(err error) bool { return errors.Is(err, errNotYet) }, nil)

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestDoExhausted(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{MaxAttempts: 3, InitialBackoff: time.Millisecond}, func(context.Context) error {
		calls++
		return errNotYet
	}, nil, nil)

	assert.ErrorIs(t, err, errNotYet)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestDoContextCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := Do(ctx, Config{InitialBackoff: 5 * time.Millisecond, MaxBackoff: 10 * time.Millisecond}, func(context.Context) error {
		return errNotYet
	}, nil, nil)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBackoffCapped(t *testing.T) {
	cfg := Config{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}
	assert.Equal(t, 100*time.Millisecond, Backoff(cfg, 1))
	assert.Equal(t, 400*time.Millisecond, Backoff(cfg, 3))
	assert.Equal(t, time.Second, Backoff(cfg, 5))
	assert.Equal(t, time.Second, Backoff(cfg, 200))
}
