// Package retry runs an operation with exponential backoff.
//
// It is used by the gateway and notification adapters for calls that are
// safe to repeat. Order placement never goes through here.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Config holds configuration for retry behavior.
type Config struct {
	// MaxRetries is the number of retries after the first attempt. Zero means a single attempt.
	MaxRetries int

	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential growth.
	MaxBackoff time.Duration

	// BackoffFactor multiplies the backoff after each retry.
	BackoffFactor float64

	// Jitter adds rand(0, backoff) to every wait.
	Jitter bool
}

// DefaultConfig returns the configuration used when a caller does not care.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         true,
	}
}

// IsRetryableFunc reports whether err should trigger another attempt.
// A nil IsRetryableFunc treats every error as retryable.
type IsRetryableFunc func(error) bool

// OnRetryFunc is invoked before each retry. attempt starts at 1.
type OnRetryFunc func(attempt int, err error, backoff time.Duration)

func (c Config) withDefaults() Config {
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = 2.0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Second
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	return c
}

// Do calls fn until it succeeds, returns a non-retryable error, the retries
// are exhausted or ctx is cancelled.
//
//	listings, err := retry.Do(ctx, cfg, isTransient, nil, func() ([]map[string]any, error) {
//	    return client.fetch(ctx)
//	})
func Do[T any](
	ctx context.Context,
	cfg Config,
	isRetryable IsRetryableFunc,
	onRetry OnRetryFunc,
	fn func() (T, error),
) (T, error) {
	var zero T
	cfg = cfg.withDefaults()

	backoff := cfg.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff
			if cfg.Jitter {
				wait += time.Duration(rand.Int64N(int64(backoff)))
			}
			if onRetry != nil {
				onRetry(attempt, lastErr, wait)
			}

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, fmt.Errorf("context cancelled while retrying: %w", ctx.Err())
			case <-timer.C:
			}

			backoff = min(time.Duration(float64(backoff)*cfg.BackoffFactor), cfg.MaxBackoff)
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if isRetryable != nil && !isRetryable(err) {
			return zero, err
		}
	}

	if cfg.MaxRetries == 0 {
		return zero, lastErr
	}
	return zero, fmt.Errorf("operation failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

// DoVoid is Do for operations without a result.
func DoVoid(
	ctx context.Context,
	cfg Config,
	isRetryable IsRetryableFunc,
	onRetry OnRetryFunc,
	fn func() error,
) error {
	_, err := Do(ctx, cfg, isRetryable, onRetry, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
