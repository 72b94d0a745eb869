package flow

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig bounds the retries applied to a failing step before the
// failure is surfaced to the caller. No checkpoint is written for a failed
// attempt, so a later Resume re-runs the step from the last-good state.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64

	// Retryable decides whether an error is worth another attempt. Nil
	// retries everything.
	Retryable func(error) bool
}

// DefaultRetryConfig returns the policy used when a graph sets none
// explicitly: a single attempt, no retries.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{MaxAttempts: 1}
}

// runWithRetry executes one step under the retry policy. Backoff sleeps are
// context-aware so a cancelled caller is not held hostage by the policy.
func runWithRetry[S any](ctx context.Context, cfg *RetryConfig, step Step[S], state S) (Delta, error) {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}

	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= attempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		delta, err := step.Run(ctx, state)
		if err == nil {
			return delta, nil
		}
		lastErr = err

		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return nil, err
		}
		if attempt == attempts {
			break
		}

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("retry cancelled during backoff: %w", ctx.Err())
			}
			if cfg.BackoffFactor > 1 {
				delay = time.Duration(float64(delay) * cfg.BackoffFactor)
				if cfg.MaxDelay > 0 {
					delay = min(delay, cfg.MaxDelay)
				}
			}
		}
	}

	if attempts > 1 {
		return nil, fmt.Errorf("max retries (%d) exceeded: %w", attempts, lastErr)
	}
	return nil, lastErr
}
