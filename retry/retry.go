// Package retry provides a small generic retry helper with exponential backoff.
package retry

import (
	"context"
	"time"
)

// Config controls retry behavior.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration

	// Multiplier is applied to the delay after each failed attempt.
	Multiplier float64
}

// DefaultConfig provides sensible defaults for external service calls.
var DefaultConfig = Config{
	MaxAttempts:  3,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	Multiplier:   2.0,
}

// RetryableFunc reports whether an error should be retried.
type RetryableFunc func(error) bool

// WithRetry runs fn until it succeeds, the error is not retryable, the
// attempts run out, or the context is cancelled. The last result and error
// are returned.
func WithRetry[T any](ctx context.Context, cfg Config, retryable RetryableFunc, fn func() (T, error)) (T, error) {
	var result T
	var err error

	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	delay := cfg.InitialDelay
	for attempt := 0; attempt < attempts; attempt++ {
		result, err = fn()
		if err == nil {
			return result, nil
		}
		if retryable != nil && !retryable(err) {
			return result, err
		}
		if attempt == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return result, err
}
