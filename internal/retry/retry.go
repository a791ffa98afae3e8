// Package retry provides configurable retry logic with backoff, used for
// a peer's best-effort calls back to the tracker (e.g. the fire-and-forget
// report_upload after serving a chunk). It is never used for the download
// engine's per-chunk attempt counter, which spec.md §7 fixes at 3 and
// treats as a terminal budget rather than a backoff policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// NonRetryableError wraps an error to stop retrying immediately.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string { return e.Err.Error() }
func (e *NonRetryableError) Unwrap() error { return e.Err }

// NonRetryable marks err as non-retryable; a nil err stays nil.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// Config controls retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts (not retries). Must
	// be at least 1.
	MaxAttempts int

	// Backoff returns the delay before the nth attempt (0-indexed). If
	// nil, defaults to Constant(100ms).
	Backoff func(attempt int) time.Duration
}

// Constant returns a backoff function that always waits d (0 on the
// first attempt).
func Constant(d time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt == 0 {
			return 0
		}
		return d
	}
}

// Do runs fn up to cfg.MaxAttempts times, waiting cfg.Backoff(attempt)
// between attempts, stopping early on a *NonRetryableError or when ctx is
// canceled.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	backoff := cfg.Backoff
	if backoff == nil {
		backoff = Constant(100 * time.Millisecond)
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if d := backoff(attempt); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		var nonRetryable *NonRetryableError
		if errors.As(err, &nonRetryable) {
			return nonRetryable.Err
		}
		lastErr = err
	}
	return fmt.Errorf("retry: exhausted %d attempts: %w", cfg.MaxAttempts, lastErr)
}
