package embedder

import (
	"context"
	"time"
)

// RetryConfig configures exponential backoff for embed requests.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryConfig returns the defaults used against a local Ollama.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		Multiplier:  2.0,
	}
}

// retryWithBackoff runs fn until it succeeds or attempts are exhausted.
// Context cancellation stops retrying immediately.
func retryWithBackoff[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	delay := cfg.BaseDelay

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if attempt < cfg.MaxAttempts-1 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
				delay = time.Duration(float64(delay) * cfg.Multiplier)
				if delay > cfg.MaxDelay {
					delay = cfg.MaxDelay
				}
			}
		}
	}
	return zero, lastErr
}
