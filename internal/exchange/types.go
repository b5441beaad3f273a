package exchange

import "time"

// Venue identifies one of the two exchanges the engine trades on.
type Venue string

const (
	VenueBybit Venue = "bybit"
	VenueAster Venue = "aster"
)

// OrderSide represents the side of an order
type OrderSide string

const (
	OrderSideBuy  OrderSide = "Buy"
	OrderSideSell OrderSide = "Sell"
)

// Opposite returns the flattening side for a position opened with s.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// BookTicker is the best bid/ask snapshot for a symbol on one venue.
type BookTicker struct {
	Symbol string
	Bid    float64
	Ask    float64
	BidQty float64
	AskQty float64
}

// Mid returns the midpoint of the best bid and ask.
func (b *BookTicker) Mid() float64 {
	return (b.Bid + b.Ask) / 2
}

// FundingSample is a single funding-rate observation.
// Rate is the signed decimal rate per funding period.
type FundingSample struct {
	Symbol      string
	Rate        float64
	PeriodHours float64
	Timestamp   time.Time
}

// APR annualizes the per-period rate as a percentage.
func (f FundingSample) APR() float64 {
	if f.PeriodHours <= 0 {
		return 0
	}
	return f.Rate * (24 / f.PeriodHours) * 365 * 100
}

// SymbolMeta holds the trading rules the engine needs per symbol.
type SymbolMeta struct {
	Symbol               string
	PriceTick            float64
	LotStep              float64
	MinNotional          float64
	FundingIntervalHours float64
}

// Balance is a venue account balance in quote currency (USD terms).
type Balance struct {
	Total     float64
	Available float64
}

// OrderResult is the acknowledgement for a submitted order.
type OrderResult struct {
	OrderID string
	Symbol  string
	Side    OrderSide
	Qty     float64
	Price   float64
	Status  string
}
