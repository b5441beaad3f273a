// Package executor opens and closes the two legs of a delta-neutral pair.
// Both legs are dispatched concurrently as aggressive limit orders and then
// verified against live position sizes, never against order acks alone.
package executor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/ducminhle1904/funding-arb-bot/internal/exchange"
	"github.com/ducminhle1904/funding-arb-bot/internal/safety"
)

const (
	// crossTicks prices the marketable limit deep through the touch so it
	// fills immediately while still bounding slippage.
	crossTicks = 100

	defaultSettleDelay = 2 * time.Second
)

// PartialFillError reports an open or close where exactly one leg ended up
// in the intended terminal state. The bot must not auto-unwind; the
// operator reconciles.
type PartialFillError struct {
	Symbol    string
	Phase     string // "open" or "close"
	LongSize  float64
	ShortSize float64
	LongErr   error
	ShortErr  error
}

func (e *PartialFillError) Error() string {
	return fmt.Sprintf("partial %s on %s: long size %.8f (err=%v), short size %.8f (err=%v)",
		e.Phase, e.Symbol, e.LongSize, e.LongErr, e.ShortSize, e.ShortErr)
}

// BothLegsFailedError reports an open or close where neither leg reached the
// venue. Safe to retry.
type BothLegsFailedError struct {
	Symbol   string
	Phase    string
	LongErr  error
	ShortErr error
}

func (e *BothLegsFailedError) Error() string {
	return fmt.Sprintf("both legs failed to %s %s: long: %v; short: %v",
		e.Phase, e.Symbol, e.LongErr, e.ShortErr)
}

// OpenRequest describes the pair to open. SizeBase is already floored to the
// coarser lot step by the sizing engine.
type OpenRequest struct {
	Symbol     string
	LongVenue  exchange.Venue
	ShortVenue exchange.Venue
	SizeBase   float64
	Leverage   int
	LotStep    float64

	// LongIsSpot switches the long leg to a spot market buy on the short
	// venue's exchange. SpotBuyQty may be zero when an existing holding
	// already covers the leg.
	LongIsSpot bool
	SpotBuyQty float64
}

// OpenResult is the verified outcome of a dual-leg open.
type OpenResult struct {
	Symbol          string
	LongVenue       exchange.Venue
	ShortVenue      exchange.Venue
	LongSize        float64
	ShortSize       float64
	LongEntryPrice  float64
	ShortEntryPrice float64
	OpenedAt        time.Time
}

// CloseResult is the verified outcome of a dual-leg close.
type CloseResult struct {
	Symbol         string
	ExitLongPrice  float64
	ExitShortPrice float64
	ClosedAt       time.Time
}

// Executor drives order placement across the two venues.
type Executor struct {
	venues      map[exchange.Venue]exchange.Adapter
	coord       *safety.Coordinator
	log         zerolog.Logger
	settleDelay time.Duration
}

// New creates an executor over the venue adapters.
func New(venues map[exchange.Venue]exchange.Adapter, coord *safety.Coordinator, log zerolog.Logger) *Executor {
	return &Executor{
		venues:      venues,
		coord:       coord,
		log:         log.With().Str("component", "executor").Logger(),
		settleDelay: defaultSettleDelay,
	}
}

type legOutcome struct {
	price float64
	err   error
}

// Open places both legs concurrently and verifies the fill via live
// position sizes. On a partial fill the successful leg is left standing and
// a PartialFillError is returned.
func (e *Executor) Open(ctx context.Context, req OpenRequest) (*OpenResult, error) {
	long := e.venues[req.LongVenue]
	short := e.venues[req.ShortVenue]

	if err := e.setLeverage(ctx, req); err != nil {
		return nil, err
	}

	longBook, err := long.BestBidAsk(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("long venue book: %w", err)
	}
	shortBook, err := short.BestBidAsk(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("short venue book: %w", err)
	}

	e.log.Info().
		Str("symbol", req.Symbol).
		Float64("size", req.SizeBase).
		Str("long_venue", string(req.LongVenue)).
		Str("short_venue", string(req.ShortVenue)).
		Msg("opening pair")

	longCh := make(chan legOutcome, 1)
	shortCh := make(chan legOutcome, 1)

	go func() {
		var placeErr error
		err := e.coord.Call(ctx, req.LongVenue, "open_long", func() error {
			if req.LongIsSpot {
				placeErr = e.placeSpotBuy(ctx, long, req)
				return placeErr
			}
			_, placeErr = long.PlaceAggressiveLimit(ctx, req.Symbol, exchange.OrderSideBuy, req.SizeBase, longBook.Ask, crossTicks)
			return placeErr
		})
		longCh <- legOutcome{price: longBook.Ask, err: err}
	}()
	go func() {
		err := e.coord.Call(ctx, req.ShortVenue, "open_short", func() error {
			_, err := short.PlaceAggressiveLimit(ctx, req.Symbol, exchange.OrderSideSell, req.SizeBase, shortBook.Bid, crossTicks)
			return err
		})
		shortCh <- legOutcome{price: shortBook.Bid, err: err}
	}()

	longLeg := <-longCh
	shortLeg := <-shortCh

	e.settle(ctx)

	longSize, shortSize, sizeErr := e.liveSizes(ctx, req)
	if sizeErr != nil {
		return nil, fmt.Errorf("verify open sizes on %s: %w", req.Symbol, sizeErr)
	}

	longOpen := longSize > 0
	shortOpen := shortSize < 0

	switch {
	case longOpen && shortOpen:
		if diff := math.Abs(longSize) - math.Abs(shortSize); math.Abs(diff) > req.LotStep {
			return nil, &PartialFillError{
				Symbol: req.Symbol, Phase: "open",
				LongSize: longSize, ShortSize: shortSize,
				LongErr: longLeg.err, ShortErr: shortLeg.err,
			}
		}
	case !longOpen && !shortOpen:
		return nil, &BothLegsFailedError{
			Symbol: req.Symbol, Phase: "open",
			LongErr: longLeg.err, ShortErr: shortLeg.err,
		}
	default:
		return nil, &PartialFillError{
			Symbol: req.Symbol, Phase: "open",
			LongSize: longSize, ShortSize: shortSize,
			LongErr: longLeg.err, ShortErr: shortLeg.err,
		}
	}

	e.log.Info().
		Str("symbol", req.Symbol).
		Float64("long_size", longSize).
		Float64("short_size", shortSize).
		Msg("pair open verified")

	return &OpenResult{
		Symbol:          req.Symbol,
		LongVenue:       req.LongVenue,
		ShortVenue:      req.ShortVenue,
		LongSize:        longSize,
		ShortSize:       shortSize,
		LongEntryPrice:  longLeg.price,
		ShortEntryPrice: shortLeg.price,
		OpenedAt:        time.Now().UTC(),
	}, nil
}

// CloseRequest describes the pair to close. Live sizes are re-read inside
// Close; the request only names where the legs live.
type CloseRequest struct {
	Symbol     string
	LongVenue  exchange.Venue
	ShortVenue exchange.Venue
	LotStep    float64

	LongIsSpot bool
}

// Close reads the authoritative live sizes, dispatches the flattening
// orders concurrently, and verifies both legs end below one lot step.
func (e *Executor) Close(ctx context.Context, req CloseRequest) (*CloseResult, error) {
	long := e.venues[req.LongVenue]
	short := e.venues[req.ShortVenue]

	longSize, shortSize, err := e.liveSizesClose(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("read live sizes for %s: %w", req.Symbol, err)
	}

	longBook, err := long.BestBidAsk(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("long venue book: %w", err)
	}
	shortBook, err := short.BestBidAsk(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("short venue book: %w", err)
	}

	e.log.Info().
		Str("symbol", req.Symbol).
		Float64("long_size", longSize).
		Float64("short_size", shortSize).
		Msg("closing pair")

	longCh := make(chan legOutcome, 1)
	shortCh := make(chan legOutcome, 1)

	go func() {
		if math.Abs(longSize) < req.LotStep {
			longCh <- legOutcome{price: longBook.Bid}
			return
		}
		err := e.coord.Call(ctx, req.LongVenue, "close_long", func() error {
			if req.LongIsSpot {
				return e.placeSpotSell(ctx, long, req.Symbol, longSize)
			}
			_, err := long.PlaceAggressiveLimit(ctx, req.Symbol, exchange.OrderSideSell, math.Abs(longSize), longBook.Bid, crossTicks)
			return err
		})
		longCh <- legOutcome{price: longBook.Bid, err: err}
	}()
	go func() {
		if math.Abs(shortSize) < req.LotStep {
			shortCh <- legOutcome{price: shortBook.Ask}
			return
		}
		err := e.coord.Call(ctx, req.ShortVenue, "close_short", func() error {
			_, err := short.PlaceAggressiveLimit(ctx, req.Symbol, exchange.OrderSideBuy, math.Abs(shortSize), shortBook.Ask, crossTicks)
			return err
		})
		shortCh <- legOutcome{price: shortBook.Ask, err: err}
	}()

	longLeg := <-longCh
	shortLeg := <-shortCh

	e.settle(ctx)

	longAfter, shortAfter, err := e.liveSizesClose(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("verify close sizes on %s: %w", req.Symbol, err)
	}

	longFlat := math.Abs(longAfter) < req.LotStep
	shortFlat := math.Abs(shortAfter) < req.LotStep

	switch {
	case longFlat && shortFlat:
	case !longFlat && !shortFlat:
		return nil, &BothLegsFailedError{
			Symbol: req.Symbol, Phase: "close",
			LongErr: longLeg.err, ShortErr: shortLeg.err,
		}
	default:
		return nil, &PartialFillError{
			Symbol: req.Symbol, Phase: "close",
			LongSize: longAfter, ShortSize: shortAfter,
			LongErr: longLeg.err, ShortErr: shortLeg.err,
		}
	}

	e.log.Info().Str("symbol", req.Symbol).Msg("pair close verified")

	return &CloseResult{
		Symbol:         req.Symbol,
		ExitLongPrice:  longLeg.price,
		ExitShortPrice: shortLeg.price,
		ClosedAt:       time.Now().UTC(),
	}, nil
}

func (e *Executor) setLeverage(ctx context.Context, req OpenRequest) error {
	if !req.LongIsSpot {
		err := e.coord.Call(ctx, req.LongVenue, "set_leverage", func() error {
			return e.venues[req.LongVenue].SetLeverage(ctx, req.Symbol, req.Leverage)
		})
		if err != nil {
			return fmt.Errorf("set leverage on %s: %w", req.LongVenue, err)
		}
	}
	err := e.coord.Call(ctx, req.ShortVenue, "set_leverage", func() error {
		return e.venues[req.ShortVenue].SetLeverage(ctx, req.Symbol, req.Leverage)
	})
	if err != nil {
		return fmt.Errorf("set leverage on %s: %w", req.ShortVenue, err)
	}
	return nil
}

func (e *Executor) placeSpotBuy(ctx context.Context, venue exchange.Adapter, req OpenRequest) error {
	if req.SpotBuyQty <= 0 {
		return nil
	}
	spot, ok := venue.(exchange.SpotTrader)
	if !ok {
		return fmt.Errorf("venue %s does not support spot trading", venue.Name())
	}
	_, err := spot.PlaceSpotMarket(ctx, req.Symbol, exchange.OrderSideBuy, req.SpotBuyQty)
	return err
}

func (e *Executor) placeSpotSell(ctx context.Context, venue exchange.Adapter, symbol string, size float64) error {
	spot, ok := venue.(exchange.SpotTrader)
	if !ok {
		return fmt.Errorf("venue %s does not support spot trading", venue.Name())
	}
	_, err := spot.PlaceSpotMarket(ctx, symbol, exchange.OrderSideSell, math.Abs(size))
	return err
}

// liveSizes reads the long leg size (spot balance for the spot variant) and
// the short leg size concurrently.
func (e *Executor) liveSizes(ctx context.Context, req OpenRequest) (float64, float64, error) {
	return e.readSizes(ctx, req.Symbol, req.LongVenue, req.ShortVenue, req.LongIsSpot)
}

func (e *Executor) liveSizesClose(ctx context.Context, req CloseRequest) (float64, float64, error) {
	return e.readSizes(ctx, req.Symbol, req.LongVenue, req.ShortVenue, req.LongIsSpot)
}

func (e *Executor) readSizes(ctx context.Context, symbol string, longVenue, shortVenue exchange.Venue, longIsSpot bool) (float64, float64, error) {
	type sized struct {
		size float64
		err  error
	}
	longCh := make(chan sized, 1)
	shortCh := make(chan sized, 1)

	go func() {
		var size float64
		err := e.coord.Call(ctx, longVenue, "position_size", func() error {
			var err error
			if longIsSpot {
				spot, ok := e.venues[longVenue].(exchange.SpotTrader)
				if !ok {
					return fmt.Errorf("venue %s does not support spot trading", longVenue)
				}
				size, err = spot.SpotBalance(ctx, BaseAsset(symbol))
				return err
			}
			size, err = e.venues[longVenue].OpenPositionSize(ctx, symbol)
			return err
		})
		longCh <- sized{size: size, err: err}
	}()
	go func() {
		var size float64
		err := e.coord.Call(ctx, shortVenue, "position_size", func() error {
			var err error
			size, err = e.venues[shortVenue].OpenPositionSize(ctx, symbol)
			return err
		})
		shortCh <- sized{size: size, err: err}
	}()

	longRes := <-longCh
	shortRes := <-shortCh
	if longRes.err != nil {
		return 0, 0, longRes.err
	}
	if shortRes.err != nil {
		return 0, 0, shortRes.err
	}
	return longRes.size, shortRes.size, nil
}

func (e *Executor) settle(ctx context.Context) {
	timer := time.NewTimer(e.settleDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// BaseAsset strips the USDT quote suffix to get the spot balance asset.
func BaseAsset(symbol string) string {
	for _, quote := range []string{"USDT", "USDC", "USD"} {
		if len(symbol) > len(quote) && symbol[len(symbol)-len(quote):] == quote {
			return symbol[:len(symbol)-len(quote)]
		}
	}
	return symbol
}

// SizesMatch reports whether two leg sizes agree within one lot step.
// Used by the reconciler too.
func SizesMatch(longSize, shortSize, step float64) bool {
	return math.Abs(math.Abs(longSize)-math.Abs(shortSize)) <= step+1e-12
}
