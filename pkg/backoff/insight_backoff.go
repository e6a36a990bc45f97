// Package backoff provides exponential backoff with jitter for retry loops.
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Policy describes an exponential backoff schedule.
type Policy struct {
	BaseDelay   time.Duration // delay before the first retry
	MaxDelay    time.Duration // cap on the computed delay
	MaxAttempts int           // total attempts including the first call
	Jitter      time.Duration // random addition in [0, Jitter) per retry
}

// DefaultPolicy returns the standard retry schedule: 1s base doubling per
// attempt, 500ms jitter, 5 attempts, 30s cap.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 5,
		Jitter:      500 * time.Millisecond,
	}
}

// Delay returns the sleep duration before retry number n (1-based).
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.BaseDelay << (n - 1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(p.Jitter)))
	}
	return d
}

// Retry runs fn until it succeeds, the attempt budget is exhausted, or the
// context is cancelled. shouldRetry decides whether an error is retryable;
// non-retryable errors are returned immediately.
func Retry(ctx context.Context, p Policy, shouldRetry func(error) bool, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay(attempt)):
		}
	}
	return lastErr
}
