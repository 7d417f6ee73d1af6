package llm

import (
	"context"
	"math"
	"time"
)

// RetryPolicy controls retries of transient backend failures. Upstream LLM
// APIs exhibit 429/5xx bursts; exponential backoff rides them out without
// hammering the endpoint. Pure configuration, no mutable state.
type RetryPolicy struct {
	MaxAttempts     int // total attempts, including the first
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
}

// DefaultRetryPolicy returns the standard policy: 3 attempts, 1s initial
// delay doubling up to a 30s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialDelay:    time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
	}
}

// Delay returns the backoff before retrying after attempt k (1-indexed):
// min(initial * base^(k-1), max).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.InitialDelay) * math.Pow(p.ExponentialBase, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Do runs fn up to MaxAttempts times, backing off between attempts. Only
// transient errors are retried; permanent errors and ctx cancellation
// propagate immediately. The backoff sleep itself is ctx-aware so a
// disconnecting session does not hold a goroutine hostage.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !IsTransient(err) || attempt == attempts {
			return err
		}
		select {
		case <-time.After(p.Delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
