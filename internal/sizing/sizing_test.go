package sizing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/funding-arb-bot/internal/exchange"
	"github.com/ducminhle1904/funding-arb-bot/internal/ticks"
)

func meta(lotStep, minNotional float64) *exchange.SymbolMeta {
	return &exchange.SymbolMeta{PriceTick: 0.01, LotStep: lotStep, MinNotional: minNotional}
}

// TestCompute_CapitalFractionColdStart tests the cold-start sizing: balances
// (1000, 1000), leverage 1, fraction 0.5 yields notional 475 and size 4.75
// at mid 100 with 0.01 lot steps
func TestCompute_CapitalFractionColdStart(t *testing.T) {
	out, err := Compute(Inputs{
		CapitalFraction: 0.5,
		Leverage:        1,
		LongVenue:       exchange.VenueAster,
		ShortVenue:      exchange.VenueBybit,
		AvailableLong:   1000,
		AvailableShort:  1000,
		LongMeta:        meta(0.01, 5),
		ShortMeta:       meta(0.01, 5),
		LongMid:         100,
		ShortMid:        100,
	})

	require.NoError(t, err)
	assert.Equal(t, 4.75, out.SizeBase)
	assert.InDelta(t, 475, out.NotionalActual, 1e-9)
	assert.Equal(t, 4.75, out.ShortSellQty)
	assert.False(t, out.WasCapitalLimited)
	assert.Equal(t, 0.01, out.Step)
}

// TestCompute_FixedNotionalCapitalLimited tests that the buffered ceiling
// caps a configured notional and reports the limiting venue
func TestCompute_FixedNotionalCapitalLimited(t *testing.T) {
	out, err := Compute(Inputs{
		NotionalUSD:    5000,
		Leverage:       2,
		LongVenue:      exchange.VenueAster,
		ShortVenue:     exchange.VenueBybit,
		AvailableLong:  1000,
		AvailableShort: 400,
		LongMeta:       meta(0.001, 5),
		ShortMeta:      meta(0.01, 5),
		LongMid:        200,
		ShortMid:       200,
	})

	require.NoError(t, err)
	// ceiling = min(2000, 800) * 0.95 = 760
	assert.True(t, out.WasCapitalLimited)
	assert.Equal(t, exchange.VenueBybit, out.LimitingVenue)
	assert.Equal(t, 3.8, out.SizeBase)
	assert.Equal(t, 0.01, out.Step)
}

// TestCompute_InsufficientCapital tests the $10 floor
func TestCompute_InsufficientCapital(t *testing.T) {
	_, err := Compute(Inputs{
		NotionalUSD:    500,
		Leverage:       1,
		AvailableLong:  8,
		AvailableShort: 8,
		LongMeta:       meta(0.01, 5),
		ShortMeta:      meta(0.01, 5),
		LongMid:        100,
		ShortMid:       100,
	})

	assert.ErrorIs(t, err, ErrInsufficientCapital)
}

// TestCompute_BelowVenueMinimum tests rejection when the floored size fails a
// venue's minimum-notional-derived base quantity
func TestCompute_BelowVenueMinimum(t *testing.T) {
	_, err := Compute(Inputs{
		NotionalUSD:    20,
		Leverage:       1,
		AvailableLong:  1000,
		AvailableShort: 1000,
		LongMeta:       meta(0.01, 5),
		ShortMeta:      meta(0.01, 100), // needs 1.0 base at mid 100
		LongMid:        100,
		ShortMid:       100,
	})

	var belowMin *BelowMinimumError
	require.True(t, errors.As(err, &belowMin))
	assert.Equal(t, 1.0, belowMin.ShortVenueMin)
	assert.Less(t, belowMin.Size, belowMin.ShortVenueMin)
}

// TestCompute_CoarserStepAlignment tests that the size is idempotent under
// both venues' rounding
func TestCompute_CoarserStepAlignment(t *testing.T) {
	out, err := Compute(Inputs{
		NotionalUSD:    333,
		Leverage:       1,
		AvailableLong:  1000,
		AvailableShort: 1000,
		LongMeta:       meta(0.001, 5),
		ShortMeta:      meta(0.1, 5),
		LongMid:        7,
		ShortMid:       7,
	})

	require.NoError(t, err)
	assert.Equal(t, 0.1, out.Step)
	assert.Equal(t, out.SizeBase, ticks.FloorTo(out.SizeBase, 0.001))
	assert.Equal(t, out.SizeBase, ticks.FloorTo(out.SizeBase, 0.1))
}

// TestCompute_SpotPerpReusesExistingHolding tests the single-venue variant:
// the spot buy tops up the existing holding and both legs end exactly equal
func TestCompute_SpotPerpReusesExistingHolding(t *testing.T) {
	out, err := Compute(Inputs{
		NotionalUSD:    500,
		Leverage:       2,
		LongVenue:      exchange.VenueAster,
		ShortVenue:     exchange.VenueAster,
		AvailableLong:  1000,
		AvailableShort: 1000,
		LongMeta:       meta(0.01, 5),
		ShortMeta:      meta(0.01, 5),
		LongMid:        100,
		ShortMid:       100,

		LongIsSpot:      true,
		ExistingHolding: 2.0,
	})

	require.NoError(t, err)
	assert.Equal(t, 5.0, out.ShortSellQty)
	assert.Equal(t, 3.0, out.SpotBuyQty)
	assert.Equal(t, out.ShortSellQty, out.SpotBuyQty+2.0)
	assert.Equal(t, out.ShortSellQty, out.SizeBase)
}

// TestCompute_SpotPerpHoldingCoversAll tests that no spot buy happens when
// the existing holding already covers the target size
func TestCompute_SpotPerpHoldingCoversAll(t *testing.T) {
	out, err := Compute(Inputs{
		NotionalUSD:    300,
		Leverage:       1,
		AvailableLong:  1000,
		AvailableShort: 1000,
		LongMeta:       meta(0.01, 5),
		ShortMeta:      meta(0.01, 5),
		LongMid:        100,
		ShortMid:       100,

		LongIsSpot:      true,
		ExistingHolding: 10.0,
	})

	require.NoError(t, err)
	assert.Equal(t, 0.0, out.SpotBuyQty)
	// the short covers the whole holding so the pair stays delta-neutral
	assert.Equal(t, 10.0, out.ShortSellQty)
	assert.Equal(t, out.ShortSellQty, out.SpotBuyQty+10.0)
}
