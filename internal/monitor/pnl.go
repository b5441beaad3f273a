package monitor

import "math"

// LongUnrealizedPnL is the mark-to-market PnL of the long leg.
func LongUnrealizedPnL(entry, mark, size float64) float64 {
	return (mark - entry) * math.Abs(size)
}

// ShortUnrealizedPnL is the mark-to-market PnL of the short leg.
func ShortUnrealizedPnL(entry, mark, size float64) float64 {
	return (entry - mark) * math.Abs(size)
}

// WorstLegPct returns the more negative of the two leg PnLs as a percentage
// of the position's actual notional. This is what the stop-loss threshold is
// compared against: the pair nets to roughly zero, but the losing leg is the
// one marching toward liquidation.
func WorstLegPct(longUPnL, shortUPnL, actualNotional float64) float64 {
	if actualNotional <= 0 {
		return 0
	}
	worst := longUPnL
	if shortUPnL < worst {
		worst = shortUPnL
	}
	return worst / actualNotional * 100
}

// EstimateFees returns the taker fees for crossing both legs once at the
// given notional.
func EstimateFees(notional, takerFeeRate float64) float64 {
	return notional * takerFeeRate * 2
}
