// Package sizing computes the largest base-asset quantity that is valid on
// both venues for a delta-neutral pair, under heterogeneous lot steps and
// minimum-notional floors.
package sizing

import (
	"errors"
	"fmt"

	"github.com/ducminhle1904/funding-arb-bot/internal/exchange"
	"github.com/ducminhle1904/funding-arb-bot/internal/ticks"
)

// ErrInsufficientCapital is returned when the deployable notional falls
// below the configured floor.
var ErrInsufficientCapital = errors.New("insufficient capital for a meaningful position")

// BelowMinimumError reports a size that fails one venue's minimum. Both
// minima are included so the operator can see how far off the size is.
type BelowMinimumError struct {
	Size         float64
	LongVenueMin float64
	ShortVenueMin float64
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("size %.8f below venue minimums (long %.8f, short %.8f)",
		e.Size, e.LongVenueMin, e.ShortVenueMin)
}

// Inputs carries everything the sizing algorithm needs. Exactly one of
// NotionalUSD and CapitalFraction drives the desired notional: a fixed USD
// amount, or a fraction of the buffered capital ceiling.
type Inputs struct {
	NotionalUSD     float64
	CapitalFraction float64
	Leverage        int
	FloorUSD        float64

	LongVenue  exchange.Venue
	ShortVenue exchange.Venue

	AvailableLong  float64
	AvailableShort float64

	LongMeta  *exchange.SymbolMeta
	ShortMeta *exchange.SymbolMeta

	LongMid  float64
	ShortMid float64

	// LongIsSpot marks the single-venue spot+perp variant: the long leg is
	// an unmargined spot holding, and ExistingHolding is reused before
	// buying more.
	LongIsSpot      bool
	ExistingHolding float64
}

// Sizing is the computed pair size.
type Sizing struct {
	SizeBase          float64
	NotionalActual    float64
	MidAvg            float64
	Step              float64
	LimitingVenue     exchange.Venue
	WasCapitalLimited bool

	// spot+perp variant fields; SpotBuyQty is zero for cross-venue pairs
	SpotBuyQty   float64
	ShortSellQty float64
}

// Compute runs the sizing algorithm. The returned size is already floored to
// the coarser of the two venue lot steps, so submitting it verbatim to both
// venues yields identical quantities.
func Compute(in Inputs) (*Sizing, error) {
	if in.Leverage < 1 {
		in.Leverage = 1
	}
	floorUSD := in.FloorUSD
	if floorUSD <= 0 {
		floorUSD = 10
	}

	// capital ceiling per venue; the spot leg carries no margin
	maxLong := in.AvailableLong * float64(in.Leverage)
	if in.LongIsSpot {
		maxLong = in.AvailableLong
	}
	maxShort := in.AvailableShort * float64(in.Leverage)

	limiting := in.LongVenue
	if maxShort < maxLong {
		limiting = in.ShortVenue
	}
	ceiling := maxLong
	if maxShort < ceiling {
		ceiling = maxShort
	}
	ceiling *= 0.95

	desired := in.NotionalUSD
	if in.CapitalFraction > 0 {
		desired = in.CapitalFraction * ceiling
	}

	notional := desired
	capitalLimited := false
	if ceiling < notional {
		notional = ceiling
		capitalLimited = true
	}

	if notional < floorUSD {
		return nil, fmt.Errorf("notional $%.2f below $%.2f floor (ceiling $%.2f, limited by %s): %w",
			notional, floorUSD, ceiling, limiting, ErrInsufficientCapital)
	}

	midAvg := (in.LongMid + in.ShortMid) / 2
	if midAvg <= 0 {
		return nil, fmt.Errorf("no usable mid price (long %.8f, short %.8f)", in.LongMid, in.ShortMid)
	}
	sizeIdeal := notional / midAvg

	step := ticks.Coarser(in.LongMeta.LotStep, in.ShortMeta.LotStep)
	sizeFinal := ticks.FloorTo(sizeIdeal, step)

	longMin := minBase(in.LongMeta, in.LongMid)
	shortMin := minBase(in.ShortMeta, in.ShortMid)
	if sizeFinal < longMin || sizeFinal < shortMin {
		return nil, &BelowMinimumError{Size: sizeFinal, LongVenueMin: longMin, ShortVenueMin: shortMin}
	}

	out := &Sizing{
		SizeBase:          sizeFinal,
		NotionalActual:    sizeFinal * midAvg,
		MidAvg:            midAvg,
		Step:              step,
		LimitingVenue:     limiting,
		WasCapitalLimited: capitalLimited,
		ShortSellQty:      sizeFinal,
	}

	if in.LongIsSpot {
		spotBuy := sizeFinal - in.ExistingHolding
		if spotBuy < 0 {
			spotBuy = 0
		}
		spotBuy = ticks.FloorTo(spotBuy, step)
		// recompute the short so both legs are exactly equal after rounding
		shortSell := ticks.FloorTo(in.ExistingHolding+spotBuy, step)
		if shortSell < longMin || shortSell < shortMin {
			return nil, &BelowMinimumError{Size: shortSell, LongVenueMin: longMin, ShortVenueMin: shortMin}
		}
		out.SpotBuyQty = spotBuy
		out.ShortSellQty = shortSell
		out.SizeBase = shortSell
		out.NotionalActual = shortSell * midAvg
	}

	return out, nil
}

// minBase is the smallest tradable base quantity on a venue: at least one
// lot step, and enough to clear the minimum order value at the current mid.
func minBase(meta *exchange.SymbolMeta, mid float64) float64 {
	min := meta.LotStep
	if mid > 0 && meta.MinNotional > 0 {
		if byNotional := meta.MinNotional / mid; byNotional > min {
			min = byNotional
		}
	}
	return min
}
