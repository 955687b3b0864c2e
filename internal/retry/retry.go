// Package retry retries an operation with exponential backoff and jitter.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// PermanentError wraps an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do returns it without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Policy describes how often and how long to retry.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration // doubled after each failure, ±25% jitter
	MaxDelay  time.Duration // 0 means no cap

	// OnRetry is called before each sleep.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Connect suits dependencies that may come up after the service does
// (a database container, a Redis sidecar): about 15s in total.
func Connect(onRetry func(attempt int, err error, wait time.Duration)) Policy {
	return Policy{Attempts: 6, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second, OnRetry: onRetry}
}

// Do calls fn until it succeeds, returns a permanent error, the attempts
// run out, or ctx is done. The last error is returned.
func (p Policy) Do(ctx context.Context, fn func(context.Context) error) error {
	attempts := max(p.Attempts, 1)
	delay := p.BaseDelay

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if attempt >= attempts {
			return err
		}

		wait := jitter(delay)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(err, ctx.Err())
		case <-t.C:
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}

func jitter(d time.Duration) time.Duration {
	q := int64(d / 4)
	if q <= 0 {
		return d
	}
	return d - time.Duration(q) + time.Duration(rand.Int64N(2*q+1))
}
