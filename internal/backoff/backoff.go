// Package backoff retries an operation with exponential backoff.
//
// The daemon uses it to re-run the open path after a camera disconnect.
package backoff

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Config contains configuration for exponential backoff retries
type Config struct {
	MaxRetries    int           // Maximum number of retry attempts (default: 5)
	RetryDelay    time.Duration // Initial retry delay (default: 1 second)
	MaxRetryDelay time.Duration // Maximum retry delay cap (default: 30 seconds)
}

// DefaultConfig returns the default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxRetries:    5,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// State tracks retries across runs
type State struct {
	CurrentRetries int
	Attempts       atomic.Uint32 // total failed attempts, read concurrently by Stats
}

// AttemptFunc performs one attempt. A nil error ends the run.
type AttemptFunc func(ctx context.Context) error

// RetryableFunc reports whether a failed attempt should be retried.
type RetryableFunc func(err error) bool

// Run calls fn until it succeeds, the retry budget is spent, retryable rejects
// the error, or ctx is done.
//
// Backoff schedule with the default config: 1s, 2s, 4s, 8s, 16s, then give up.
// A nil retryable retries every error.
func Run(ctx context.Context, fn AttemptFunc, retryable RetryableFunc, cfg Config, state *State) error {
	for {
		select {
		case <-ctx.Done():
			slog.Info("backoff: context cancelled, stopping retries")
			return ctx.Err()
		default:
		}

		err := fn(ctx)
		if err == nil {
			state.CurrentRetries = 0
			return nil
		}

		if retryable != nil && !retryable(err) {
			slog.Error("backoff: attempt failed, not retryable", "error", err)
			return err
		}

		state.CurrentRetries++
		state.Attempts.Add(1)

		if state.CurrentRetries > cfg.MaxRetries {
			return fmt.Errorf("backoff: max retries exceeded (%d attempts): %w", cfg.MaxRetries, err)
		}

		delay := Delay(state.CurrentRetries, cfg)

		slog.Warn("backoff: attempt failed, retrying",
			"error", err,
			"attempt", state.CurrentRetries,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			slog.Info("backoff: context cancelled during backoff")
			return ctx.Err()
		}
	}
}

// Delay returns the wait before retry number attempt (1-based).
//
// Formula: retryDelay * 2^(attempt-1), capped at maxRetryDelay.
func Delay(attempt int, cfg Config) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	delay := cfg.RetryDelay * time.Duration(1<<uint(shift))

	if cfg.MaxRetryDelay > 0 && (delay > cfg.MaxRetryDelay || delay <= 0) {
		delay = cfg.MaxRetryDelay
	}
	return delay
}

// Reset clears the retry counter after a successful recovery.
func (s *State) Reset() {
	s.CurrentRetries = 0
	slog.Debug("backoff: retry state reset")
}
