package safety

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/ducminhle1904/funding-arb-bot/internal/exchange"
)

// RetryConfig holds configuration for the backoff retry mechanism
type RetryConfig struct {
	MaxRetries    int           `json:"maxRetries"`
	InitialDelay  time.Duration `json:"initialDelay"`
	MaxDelay      time.Duration `json:"maxDelay"`
	BackoffFactor float64       `json:"backoffFactor"`
	JitterEnabled bool          `json:"jitterEnabled"`
}

// DefaultRetryConfig returns the standard retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      time.Minute,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// RetryableFunc represents an operation that can be retried
type RetryableFunc func() error

// Retry executes fn with exponential backoff. Only errors classified as
// retryable (rate limits, transport failures) are retried; everything else
// propagates immediately. The attempt counter is reported through onRetry
// when non-nil.
func Retry(ctx context.Context, fn RetryableFunc, config RetryConfig, onRetry func(attempt int, delay time.Duration, err error)) error {
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == config.MaxRetries {
			break
		}
		if !exchange.IsRetryable(err) {
			return err
		}

		delay := backoffDelay(attempt, config)
		if onRetry != nil {
			onRetry(attempt+1, delay, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("retry exhausted after %d attempts: %w", config.MaxRetries+1, lastErr)
}

// backoffDelay computes the delay before the given zero-based attempt's
// retry: initial × factor^attempt, capped, with optional ±25% jitter.
func backoffDelay(attempt int, config RetryConfig) time.Duration {
	delay := time.Duration(float64(config.InitialDelay) * math.Pow(config.BackoffFactor, float64(attempt)))
	if delay > config.MaxDelay {
		delay = config.MaxDelay
	}
	if config.JitterEnabled {
		jitter := time.Duration(float64(delay) * 0.25 * (2*rand.Float64() - 1))
		delay += jitter
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}
