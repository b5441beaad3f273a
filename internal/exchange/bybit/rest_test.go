package bybit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ducminhle1904/funding-arb-bot/internal/exchange"
)

// TestIntervalFromTimestamps_EightHour tests detection from standard 8h settlements
func TestIntervalFromTimestamps_EightHour(t *testing.T) {
	h := int64(60 * 60 * 1000)
	ts := []int64{24 * h, 16 * h, 8 * h, 0}
	assert.Equal(t, 8.0, intervalFromTimestamps(ts))
}

// TestIntervalFromTimestamps_FourHourMode tests that the modal difference wins
// over a single outlier gap
func TestIntervalFromTimestamps_FourHourMode(t *testing.T) {
	h := int64(60 * 60 * 1000)
	ts := []int64{20 * h, 16 * h, 12 * h, 8 * h, 0}
	assert.Equal(t, 4.0, intervalFromTimestamps(ts))
}

// TestIntervalFromTimestamps_InsufficientData tests the 8h default
func TestIntervalFromTimestamps_InsufficientData(t *testing.T) {
	assert.Equal(t, 8.0, intervalFromTimestamps(nil))
	assert.Equal(t, 8.0, intervalFromTimestamps([]int64{123}))
}

// TestClassify_RateLimitCodes tests retCode classification into the failure taxonomy
func TestClassify_RateLimitCodes(t *testing.T) {
	a := &Adapter{}

	err := a.classify(errCodeRateLimitExceeded, "too many visits")
	ve, ok := exchange.AsVenueError(err)
	assert.True(t, ok)
	assert.Equal(t, exchange.ErrRateLimited, ve.Kind)
	assert.True(t, exchange.IsRateLimited(err))

	err = a.classify(errCodeInvalidAPIKey, "invalid api key")
	ve, _ = exchange.AsVenueError(err)
	assert.Equal(t, exchange.ErrAuth, ve.Kind)
	assert.False(t, exchange.IsRetryable(err))

	err = a.classify(errCodeInsufficientBalance, "ab not enough")
	ve, _ = exchange.AsVenueError(err)
	assert.Equal(t, exchange.ErrInsufficientBalance, ve.Kind)
}
