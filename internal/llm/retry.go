package llm

import (
	"context"
	"time"
)

// RetryPolicy bounds the vision call: attempt n (0-based) runs under
// Timeouts[n] (the last entry repeats) and a failed retryable attempt waits
// Backoff(n) before the next one.
type RetryPolicy struct {
	MaxAttempts int
	Timeouts    []time.Duration
	Backoff     func(attempt int) time.Duration
}

// DefaultRetryPolicy is 3 attempts at 30s/60s/90s with 1s/2s/4s backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Timeouts:    []time.Duration{30 * time.Second, 60 * time.Second, 90 * time.Second},
		Backoff:     ExponentialBackoff(time.Second),
	}
}

// ExponentialBackoff returns base * 2^attempt.
func ExponentialBackoff(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return base << attempt
	}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) timeout(attempt int) time.Duration {
	if len(p.Timeouts) == 0 {
		return 0
	}
	return p.Timeouts[min(attempt, len(p.Timeouts)-1)]
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	if p.Backoff == nil {
		return 0
	}
	return p.Backoff(attempt)
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
