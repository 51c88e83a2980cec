package chain

import (
	"context"
	"time"

	"github.com/matrixise/chain-portfolio/internal/errdefs"
)

// RetryPolicy is an explicit retry schedule passed to every network call
// site. Only errors classified as transient are retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the upstream schedule: 3 attempts with
// exponential backoff starting at 2s, capped at 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    10 * time.Second,
	}
}

// Do runs fn until it succeeds, returns a non-transient error, or the
// attempt budget is exhausted. The backoff doubles per attempt up to
// MaxDelay and honors context cancellation while sleeping.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.backoff(attempt)):
			case <-ctx.Done():
				return errdefs.Wrap(errdefs.KindTransient, ctx.Err(), "retry interrupted")
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !errdefs.IsTransient(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.BaseDelay << uint(attempt-1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
