package ticks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestFloorTo_ExactDecimal tests that flooring avoids binary float drift
func TestFloorTo_ExactDecimal(t *testing.T) {
	assert.Equal(t, 4.75, FloorTo(4.756, 0.01))
	assert.Equal(t, 4.75, FloorTo(4.75, 0.01))
	assert.Equal(t, 0.1, FloorTo(0.19999999, 0.1))
	assert.Equal(t, 123.0, FloorTo(123.9, 1.0))
}

// TestCeilTo_RoundsUp tests ceiling to a step
func TestCeilTo_RoundsUp(t *testing.T) {
	assert.Equal(t, 4.76, CeilTo(4.751, 0.01))
	assert.Equal(t, 4.75, CeilTo(4.75, 0.01))
	assert.Equal(t, 0.2, CeilTo(0.10000001, 0.1))
}

// TestRoundTo_HalfUp tests nearest-step rounding with half-up behavior
func TestRoundTo_HalfUp(t *testing.T) {
	assert.Equal(t, 4.76, RoundTo(4.755, 0.01))
	assert.Equal(t, 4.75, RoundTo(4.754, 0.01))
	assert.Equal(t, 100.5, RoundTo(100.47, 0.5))
}

// TestRoundTo_Idempotent tests that rounding an already-rounded value is a no-op
func TestRoundTo_Idempotent(t *testing.T) {
	for _, v := range []float64{0.003, 1.2345, 99.999, 1234.56789} {
		for _, step := range []float64{0.001, 0.01, 0.5, 1.0} {
			once := RoundTo(v, step)
			assert.Equal(t, once, RoundTo(once, step), "v=%v step=%v", v, step)
		}
	}
}

// TestFloorTo_ZeroStep tests that a non-positive step passes the value through
func TestFloorTo_ZeroStep(t *testing.T) {
	assert.Equal(t, 4.756, FloorTo(4.756, 0))
	assert.Equal(t, 4.756, CeilTo(4.756, -1))
}

// TestCoarser_PicksLargerStep tests coarser-step selection across two venues
func TestCoarser_PicksLargerStep(t *testing.T) {
	assert.Equal(t, 0.01, Coarser(0.001, 0.01))
	assert.Equal(t, 0.01, Coarser(0.01, 0.001))
	assert.Equal(t, 1.0, Coarser(1.0, 1.0))
}

// TestPrecision_FromStep tests decimal-place detection from step values
func TestPrecision_FromStep(t *testing.T) {
	assert.Equal(t, 2, Precision(0.01))
	assert.Equal(t, 3, Precision(0.001))
	assert.Equal(t, 0, Precision(1.0))
	assert.Equal(t, 0, Precision(10.0))
	assert.Equal(t, 1, Precision(0.5))
	assert.Equal(t, 0, Precision(0))
}

// TestTruncate_NeverRoundsUp tests that formatting truncates instead of rounding
func TestTruncate_NeverRoundsUp(t *testing.T) {
	assert.Equal(t, "4.75", Truncate(4.759, 2))
	assert.Equal(t, "4.75", Truncate(4.75, 2))
	assert.Equal(t, "4", Truncate(4.9, 0))
	assert.Equal(t, "0.100", Truncate(0.1009, 3))
}

// TestFormatToStep_MatchesStepPrecision tests submission formatting for a venue step
func TestFormatToStep_MatchesStepPrecision(t *testing.T) {
	assert.Equal(t, "4.75", FormatToStep(4.75, 0.01))
	assert.Equal(t, "104", FormatToStep(104.7, 1.0))
	assert.Equal(t, "0.123", FormatToStep(0.12345, 0.001))
}
