package workflow

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy bounds how transient step failures are retried. Failures
// whose kind is not transient never retry regardless of budget.
type RetryPolicy struct {
	// MaxAttempts caps tries per step, first attempt included.
	MaxAttempts int
	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps exponential growth of the wait.
	MaxBackoff time.Duration
	// Multiplier scales the wait after each retry.
	Multiplier float64
}

// DefaultRetryPolicy allows two retries beyond the first attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}
}

// ApplyDefaults fills unset fields from the default policy.
func (p RetryPolicy) ApplyDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = def.MaxBackoff
	}
	if p.Multiplier <= 0 {
		p.Multiplier = def.Multiplier
	}
	return p
}

// Do runs fn until it succeeds, fails with a non-transient kind, or the
// attempt budget runs out. It returns the number of attempts made and the
// last error. Backoff waits are context-aware.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) (int, error) {
	policy := p.ApplyDefaults()
	backoff := policy.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return attempt, nil
		}
		if !KindOf(lastErr).Transient() {
			return attempt, lastErr
		}
		if attempt == policy.MaxAttempts {
			return attempt, lastErr
		}

		select {
		case <-ctx.Done():
			return attempt, fmt.Errorf("retry canceled: %w", ctx.Err())
		case <-time.After(backoff):
		}

		next := time.Duration(float64(backoff) * policy.Multiplier)
		if next > policy.MaxBackoff {
			next = policy.MaxBackoff
		}
		backoff = next
	}

	return policy.MaxAttempts, lastErr
}
