package extract

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.ngs.io/terraclimate-extract/internal/domain"
)

// RetryPolicy bounds the attempts made for one remote read.
type RetryPolicy struct {
	MaxAttempts int           // Total attempts including the first.
	MinWait     time.Duration // Lower bound of each backoff.
	MaxWait     time.Duration // Upper bound of each backoff.
}

// DefaultRetryPolicy returns three attempts with 500ms..10s backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		MinWait:     500 * time.Millisecond,
		MaxWait:     10 * time.Second,
	}
}

// Backoff returns the wait before retry number attempt (0-based): exponential
// growth from MinWait capped at MaxWait, with full jitter in [MinWait, cap].
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	base := float64(p.MinWait) * math.Pow(2, float64(attempt))
	maxWait := float64(p.MaxWait)
	if base > maxWait {
		base = maxWait
	}
	minWait := float64(p.MinWait)
	if base <= minWait {
		return p.MinWait
	}
	//nolint:gosec // G404: Jitter does not need a secure source.
	return time.Duration(minWait + rand.Float64()*(base-minWait))
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := domain.Clock().NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.Chan():
		return nil
	}
}
