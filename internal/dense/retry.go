package dense

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig configures retry behavior for embedding calls.
type RetryConfig struct {
	MaxRetries   int           // Retry attempts, not counting the initial call
	InitialDelay time.Duration // Delay before the first retry
	MaxDelay     time.Duration // Cap on the delay between retries
	Multiplier   float64       // Exponential backoff multiplier
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   2,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     4 * time.Second,
		Multiplier:   2.0,
	}
}

// withRetry executes fn with exponential backoff. A false retryable
// return stops immediately; context cancellation wins over the delay.
func withRetry(ctx context.Context, cfg RetryConfig, fn func() (retryable bool, err error)) error {
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		retryable, err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable || attempt >= cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	if lastErr == nil {
		return nil
	}
	return fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}
