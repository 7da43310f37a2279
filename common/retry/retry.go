// Package retry runs an operation repeatedly with a cancellable backoff.
//
// Usage:
//
//	err := retry.Do(ctx, retry.Config{MaxAttempts: 3, Delay: time.Second, Backoff: retry.Linear}, func(attempt int) error {
//	    return client.Call(ctx)
//	})
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Backoff computes the wait after the given failed attempt (1-based).
type Backoff func(base time.Duration, attempt int) time.Duration

// Linear waits base*attempt: 1x, 2x, 3x...
func Linear(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(attempt)
}

// Exponential waits base, 2*base, 4*base...
func Exponential(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// Config controls the retry behaviour.
type Config struct {
	// MaxAttempts is the total number of attempts including the first.
	// Values below 1 mean a single attempt.
	MaxAttempts int
	// Delay is the base wait fed to Backoff.
	Delay time.Duration
	// MaxDelay caps a single wait. Zero means no cap.
	MaxDelay time.Duration
	// Backoff defaults to Exponential.
	Backoff Backoff
	// ShouldRetry classifies errors. Nil retries every error.
	ShouldRetry func(err error) bool
	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultConfig suits short-lived network calls.
var DefaultConfig = Config{
	MaxAttempts: 3,
	Delay:       500 * time.Millisecond,
	MaxDelay:    10 * time.Second,
}

// Do calls fn until it succeeds, the attempts are exhausted, ShouldRetry
// rejects the error, or ctx is cancelled. fn receives the 1-based attempt
// number. The last error from fn is returned, joined with ctx.Err() when the
// context ended the loop.
func Do(ctx context.Context, cfg Config, fn func(attempt int) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultConfig.Delay
	}
	if cfg.Backoff == nil {
		cfg.Backoff = Exponential
	}
	if cfg.Sleep == nil {
		cfg.Sleep = Sleep
	}
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = func(error) bool { return true }
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(lastErr, err)
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if !shouldRetry(lastErr) || attempt == cfg.MaxAttempts {
			return lastErr
		}

		delay := cfg.Backoff(cfg.Delay, attempt)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
		slog.Debug("retry: attempt failed",
			"attempt", attempt, "max", cfg.MaxAttempts, "err", lastErr, "delay", delay)

		if err := cfg.Sleep(ctx, delay); err != nil {
			return errors.Join(lastErr, err)
		}
	}
	return lastErr
}

// Sleep blocks for d or until ctx is done, returning ctx.Err() in the latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
