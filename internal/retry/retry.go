// Package retry wraps external-boundary calls (LLM, publish, notify) with
// bounded retries. Errors are classified at the call site: only errors marked
// Transient are retried; everything else is terminal immediately.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Policy bounds retries for one external call.
type Policy struct {
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// DefaultPolicy matches the orchestrator-wide bound of two retries per call.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 2, BackoffInitial: 500 * time.Millisecond, BackoffMax: 30 * time.Second}
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks an error as retryable (timeouts, 5xx-equivalents).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether an error was marked retryable.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// Do invokes fn, retrying transient failures up to MaxRetries times with
// growing jittered backoff. The last error is returned once retries are
// exhausted, unwrapped of its transient marker so callers see it as terminal.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) || attempt >= p.MaxRetries {
			var te *transientError
			if errors.As(lastErr, &te) {
				return te.err
			}
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoffWithJitter(p.BackoffInitial, p.BackoffMax, attempt+1)):
		}
	}
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait/2) + 1))
	return wait/2 + jitter
}
