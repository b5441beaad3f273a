package safety

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/funding-arb-bot/internal/exchange"
)

// TestRetry_SucceedsAfterRateLimits tests that 429-class errors back off 1s, 2s, 4s
// and the fourth call succeeds
func TestRetry_SucceedsAfterRateLimits(t *testing.T) {
	config := RetryConfig{
		MaxRetries:    4,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: false,
	}

	calls := 0
	var delays []time.Duration
	err := Retry(context.Background(), func() error {
		calls++
		if calls <= 3 {
			return exchange.NewVenueError(exchange.VenueAster, exchange.ErrRateLimited, 429, "too many requests")
		}
		return nil
	}, config, func(attempt int, delay time.Duration, err error) {
		delays = append(delays, delay)
	})

	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	require.Len(t, delays, 3)
	assert.Equal(t, 1*time.Millisecond, delays[0])
	assert.Equal(t, 2*time.Millisecond, delays[1])
	assert.Equal(t, 4*time.Millisecond, delays[2])
}

// TestRetry_NonRetryablePropagatesImmediately tests that auth errors are not retried
func TestRetry_NonRetryablePropagatesImmediately(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return exchange.NewVenueError(exchange.VenueBybit, exchange.ErrAuth, 10003, "invalid api key")
	}, DefaultRetryConfig(), nil)

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

// TestRetry_ExhaustionWrapsLastError tests the exhausted-retries error
func TestRetry_ExhaustionWrapsLastError(t *testing.T) {
	config := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2.0}

	rateLimited := exchange.NewVenueError(exchange.VenueAster, exchange.ErrRateLimited, 429, "slow down")
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return rateLimited
	}, config, nil)

	assert.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, errors.Is(err, rateLimited))
}

// TestRetry_ContextCancelStopsWaiting tests prompt exit when the context is cancelled
func TestRetry_ContextCancelStopsWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := RetryConfig{MaxRetries: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, BackoffFactor: 2.0}

	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, func() error {
			return exchange.NewVenueError(exchange.VenueBybit, exchange.ErrRateLimited, 429, "limit")
		}, config, nil)
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

// TestBackoffDelay_CapsAtMax tests the delay ceiling
func TestBackoffDelay_CapsAtMax(t *testing.T) {
	config := RetryConfig{InitialDelay: time.Second, MaxDelay: 3 * time.Second, BackoffFactor: 2.0}
	assert.Equal(t, time.Second, backoffDelay(0, config))
	assert.Equal(t, 2*time.Second, backoffDelay(1, config))
	assert.Equal(t, 3*time.Second, backoffDelay(2, config))
	assert.Equal(t, 3*time.Second, backoffDelay(5, config))
}

// TestBackoffDelay_JitterStaysInBand tests that jitter keeps the delay within 25%
func TestBackoffDelay_JitterStaysInBand(t *testing.T) {
	config := RetryConfig{InitialDelay: time.Second, MaxDelay: time.Minute, BackoffFactor: 2.0, JitterEnabled: true}
	for i := 0; i < 100; i++ {
		d := backoffDelay(0, config)
		assert.GreaterOrEqual(t, d, 750*time.Millisecond)
		assert.LessOrEqual(t, d, 1250*time.Millisecond)
	}
}

// TestPermits_BoundsConcurrency tests that the venue semaphore blocks past the limit
func TestPermits_BoundsConcurrency(t *testing.T) {
	permits := NewPermits(map[exchange.Venue]int{exchange.VenueBybit: 1})

	require.NoError(t, permits.Acquire(context.Background(), exchange.VenueBybit))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := permits.Acquire(ctx, exchange.VenueBybit)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	permits.Release(exchange.VenueBybit)
	require.NoError(t, permits.Acquire(context.Background(), exchange.VenueBybit))
	permits.Release(exchange.VenueBybit)
}

// TestPermits_UnlimitedVenue tests that venues without a limit never block
func TestPermits_UnlimitedVenue(t *testing.T) {
	permits := NewPermits(map[exchange.Venue]int{})
	for i := 0; i < 100; i++ {
		require.NoError(t, permits.Acquire(context.Background(), exchange.VenueAster))
	}
}
