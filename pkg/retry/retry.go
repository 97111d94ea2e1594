// Package retry provides retry loops with exponential backoff.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int           // 0 retries forever
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
	Jitter      float64 // fraction of the wait, 0-1
}

// DefaultConfig is used for idempotent requests to the bookmark server.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		InitialWait: 200 * time.Millisecond,
		MaxWait:     5 * time.Second,
		Multiplier:  2,
		Jitter:      0.1,
	}
}

// ForeverConfig never gives up; used by long-lived loops such as watchers.
func ForeverConfig() Config {
	return Config{
		InitialWait: time.Second,
		MaxWait:     30 * time.Second,
		Multiplier:  2,
		Jitter:      0.2,
	}
}

// RetryableError marks an error as transient.
type RetryableError struct {
	Err error
}

func (e RetryableError) Error() string { return e.Err.Error() }
func (e RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err so that Do retries it. It returns nil for nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return RetryableError{Err: err}
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool {
	var r RetryableError
	return errors.As(err, &r)
}

// Backoff produces successive wait durations for one retry sequence.
// It is not safe for concurrent use.
type Backoff struct {
	cfg  Config
	next time.Duration
}

// NewBackoff returns a backoff starting at cfg.InitialWait.
func NewBackoff(cfg Config) *Backoff {
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	return &Backoff{cfg: cfg, next: cfg.InitialWait}
}

// Next returns the wait before the next attempt and grows the delay.
func (b *Backoff) Next() time.Duration {
	wait := b.next
	grown := time.Duration(float64(b.next) * b.cfg.Multiplier)
	if b.cfg.MaxWait > 0 && grown > b.cfg.MaxWait {
		grown = b.cfg.MaxWait
	}
	b.next = grown
	if b.cfg.Jitter > 0 {
		wait += time.Duration(float64(wait) * b.cfg.Jitter * (rand.Float64()*2 - 1))
	}
	return wait
}

// Reset starts the sequence over.
func (b *Backoff) Reset() { b.next = b.cfg.InitialWait }

// Wait sleeps for the next backoff delay or until ctx is done.
func (b *Backoff) Wait(ctx context.Context) error {
	t := time.NewTimer(b.Next())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, attempts run
// out or ctx is done.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	_, err := DoWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult is Do for functions that return a value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var zero T
	b := NewBackoff(cfg)
	var lastErr error
	for attempt := 1; cfg.MaxAttempts == 0 || attempt <= cfg.MaxAttempts; attempt++ {
		r, err := fn()
		if err == nil {
			return r, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return zero, err
		}
		if cfg.MaxAttempts != 0 && attempt == cfg.MaxAttempts {
			break
		}
		if err := b.Wait(ctx); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}
