package exchange

import (
	"context"
	"time"
)

// Adapter is the capability set the rotation engine requires from each venue.
// All methods accept a context for cancellation and timeouts; implementations
// return *VenueError (possibly wrapped) for venue-side failures.
type Adapter interface {
	// Name returns the venue identifier.
	Name() Venue

	// BestBidAsk returns the current top of book for a symbol.
	BestBidAsk(ctx context.Context, symbol string) (*BookTicker, error)

	// CurrentFundingRate returns the live funding rate and detected period.
	CurrentFundingRate(ctx context.Context, symbol string) (*FundingSample, error)

	// FundingRateHistory returns up to n most recent settled funding samples,
	// newest first.
	FundingRateHistory(ctx context.Context, symbol string, n int) ([]FundingSample, error)

	// FundingIntervalHours returns the funding period for a symbol. Advertised
	// metadata wins; otherwise the modal difference of historical funding
	// timestamps; 8h when neither is available.
	FundingIntervalHours(ctx context.Context, symbol string) (float64, error)

	// QuoteVolume24h returns the rolling 24h quote-currency volume.
	QuoteVolume24h(ctx context.Context, symbol string) (float64, error)

	// SymbolMeta returns tick, lot step, and minimum notional for a symbol.
	SymbolMeta(ctx context.Context, symbol string) (*SymbolMeta, error)

	// AccountBalance returns total and available balance in quote terms.
	AccountBalance(ctx context.Context) (*Balance, error)

	// OpenPositionSize returns the signed base-asset position size for a
	// symbol: positive long, negative short, zero flat.
	OpenPositionSize(ctx context.Context, symbol string) (float64, error)

	// SetLeverage sets the leverage for a symbol. Setting the value already
	// in effect is not an error.
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// GetLeverage returns the current leverage for a symbol.
	GetLeverage(ctx context.Context, symbol string) (int, error)

	// PlaceAggressiveLimit submits a marketable limit order priced crossTicks
	// price ticks through the reference price: above for buys, below for
	// sells. Size and price are formatted to the venue's precision by
	// truncation before submission.
	PlaceAggressiveLimit(ctx context.Context, symbol string, side OrderSide, sizeBase, refPrice float64, crossTicks int) (*OrderResult, error)

	// PlaceMarket submits a market order sized in base asset.
	PlaceMarket(ctx context.Context, symbol string, side OrderSide, sizeBase float64) (*OrderResult, error)

	// PlaceMarketQuote submits a market order sized in quote currency.
	PlaceMarketQuote(ctx context.Context, symbol string, side OrderSide, quoteQty float64) (*OrderResult, error)

	// ClosePosition flattens any open position in the symbol with a
	// reduce-only market order. Closing a flat symbol is a no-op.
	ClosePosition(ctx context.Context, symbol string) error

	// FundingSince returns the cumulative funding received (signed, quote
	// currency) for a symbol since the given time, from the venue's income
	// records.
	FundingSince(ctx context.Context, symbol string, since time.Time) (float64, error)
}

// SpotTrader is the extra surface needed by the single-venue spot+perp
// variant. Only venues with a spot market implement it.
type SpotTrader interface {
	// SpotBalance returns the free spot balance of a base asset.
	SpotBalance(ctx context.Context, asset string) (float64, error)

	// PlaceSpotMarketQuote buys or sells spot sized in quote currency.
	PlaceSpotMarketQuote(ctx context.Context, symbol string, side OrderSide, quoteQty float64) (*OrderResult, error)

	// PlaceSpotMarket buys or sells spot sized in base asset.
	PlaceSpotMarket(ctx context.Context, symbol string, side OrderSide, sizeBase float64) (*OrderResult, error)
}
