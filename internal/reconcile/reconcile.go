// Package reconcile diffs the recorded position against live exchange state
// and decides whether to adopt, clear, keep, or halt. It runs before the
// main loop starts and whenever state and exchange disagree.
package reconcile

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ducminhle1904/funding-arb-bot/internal/exchange"
	"github.com/ducminhle1904/funding-arb-bot/internal/executor"
	"github.com/ducminhle1904/funding-arb-bot/internal/safety"
	"github.com/ducminhle1904/funding-arb-bot/internal/state"
)

// Action is what the reconciler did.
type Action string

const (
	ActionNone    Action = "NONE"    // state and exchange agree, nothing live
	ActionKept    Action = "KEPT"    // recorded position confirmed live
	ActionAdopted Action = "ADOPTED" // live hedged pair adopted into state
	ActionCleared Action = "CLEARED" // recorded position gone from exchange
	ActionHalted  Action = "HALTED"  // ambiguous, operator must intervene
)

// Outcome reports the reconciliation result.
type Outcome struct {
	Action Action
	Detail string
}

// liveEntry is one symbol's live sizes across the two venues. spot carries
// the base-asset spot balance, read only when the recorded position marks
// this symbol's long leg as a spot holding.
type liveEntry struct {
	symbol string
	sizeA  float64
	sizeB  float64
	spot   float64
}

// Reconciler compares durable state with live venue positions.
type Reconciler struct {
	venueA exchange.Venue
	venueB exchange.Venue
	venues map[exchange.Venue]exchange.Adapter
	coord  *safety.Coordinator
	states *state.Manager
	log    zerolog.Logger

	// concurrency bounds the universe scan fan-out
	concurrency int
	holdHours   float64
}

// New creates a reconciler. holdHours sets target_close_at on adopted
// positions.
func New(venueA, venueB exchange.Venue, venues map[exchange.Venue]exchange.Adapter, coord *safety.Coordinator, states *state.Manager, holdHours float64, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		venueA:      venueA,
		venueB:      venueB,
		venues:      venues,
		coord:       coord,
		states:      states,
		log:         log.With().Str("component", "reconcile").Logger(),
		concurrency: 4,
		holdHours:   holdHours,
	}
}

// Run executes the reconciliation matrix against the monitored universe.
func (r *Reconciler) Run(ctx context.Context, universe []string) (*Outcome, error) {
	st := r.states.State()
	if st == state.StateOpening || st == state.StateClosing {
		detail := fmt.Sprintf("state file says %s; an order may be in flight, refusing to auto-recover", st)
		if err := r.states.RecordError(fmt.Errorf("%s", detail)); err != nil {
			return nil, err
		}
		return &Outcome{Action: ActionHalted, Detail: detail}, nil
	}

	pos := r.states.Position()
	live, err := r.scanLive(ctx, universe, pos)
	if err != nil {
		return nil, fmt.Errorf("scan live positions: %w", err)
	}

	if pos == nil {
		return r.reconcileIdle(ctx, live)
	}
	return r.reconcileHolding(ctx, pos, live)
}

// scanLive reads both venues' position size for every symbol with bounded
// concurrency and keeps entries where any leg is nonzero. For a recorded
// spot+perp position the long leg lives in the spot wallet, so that symbol
// also gets its spot balance read.
func (r *Reconciler) scanLive(ctx context.Context, universe []string, pos *state.Position) ([]liveEntry, error) {
	sem := make(chan struct{}, r.concurrency)
	results := make([]liveEntry, len(universe))
	errs := make([]error, len(universe))

	var wg sync.WaitGroup
	for i, symbol := range universe {
		wg.Add(1)
		go func(i int, symbol string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			sizeA, errA := r.positionSize(ctx, r.venueA, symbol)
			sizeB, errB := r.positionSize(ctx, r.venueB, symbol)
			if errA != nil {
				errs[i] = fmt.Errorf("%s %s: %w", r.venueA, symbol, errA)
				return
			}
			if errB != nil {
				errs[i] = fmt.Errorf("%s %s: %w", r.venueB, symbol, errB)
				return
			}
			entry := liveEntry{symbol: symbol, sizeA: sizeA, sizeB: sizeB}

			if pos != nil && pos.LongIsSpot && pos.Symbol == symbol {
				spot, errS := r.spotSize(ctx, pos.LongVenue, symbol)
				if errS != nil {
					errs[i] = fmt.Errorf("%s %s spot: %w", pos.LongVenue, symbol, errS)
					return
				}
				entry.spot = spot
			}
			results[i] = entry
		}(i, symbol)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	var live []liveEntry
	for _, entry := range results {
		if entry.sizeA != 0 || entry.sizeB != 0 || entry.spot != 0 {
			live = append(live, entry)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].symbol < live[j].symbol })
	return live, nil
}

func (r *Reconciler) positionSize(ctx context.Context, venue exchange.Venue, symbol string) (float64, error) {
	var size float64
	err := r.coord.Call(ctx, venue, "reconcile_size", func() error {
		var err error
		size, err = r.venues[venue].OpenPositionSize(ctx, symbol)
		return err
	})
	return size, err
}

func (r *Reconciler) spotSize(ctx context.Context, venue exchange.Venue, symbol string) (float64, error) {
	trader, ok := r.venues[venue].(exchange.SpotTrader)
	if !ok {
		return 0, fmt.Errorf("venue %s does not support spot trading", venue)
	}
	var size float64
	err := r.coord.Call(ctx, venue, "reconcile_spot", func() error {
		var err error
		size, err = trader.SpotBalance(ctx, executor.BaseAsset(symbol))
		return err
	})
	return size, err
}

func (r *Reconciler) reconcileIdle(ctx context.Context, live []liveEntry) (*Outcome, error) {
	if len(live) == 0 {
		return &Outcome{Action: ActionNone, Detail: "no live positions, state clean"}, nil
	}

	if len(live) > 1 {
		return r.halt(fmt.Sprintf("state says no position but %d symbols are live: %s", len(live), describeLive(live)))
	}

	entry := live[0]
	hedged, longVenue, shortVenue := r.hedgeDirection(entry)
	if !hedged {
		return r.halt(fmt.Sprintf("state says no position but %s is not a hedged pair: %s", entry.symbol, describeLive(live)))
	}

	step, err := r.coarserStep(ctx, entry.symbol)
	if err != nil {
		return nil, err
	}
	if !executor.SizesMatch(entry.sizeA, entry.sizeB, step) {
		return r.halt(fmt.Sprintf("state says no position but %s legs mismatch beyond one lot step: %s", entry.symbol, describeLive(live)))
	}

	pos, err := r.adopt(ctx, entry, longVenue, shortVenue, step)
	if err != nil {
		return nil, err
	}
	if err := r.states.AdoptPosition(pos); err != nil {
		return nil, err
	}

	r.log.Warn().
		Str("symbol", entry.symbol).
		Float64("size", pos.SizeBase).
		Msg("adopted live position left by a previous run")
	return &Outcome{Action: ActionAdopted, Detail: fmt.Sprintf("adopted %s size %.8f", entry.symbol, pos.SizeBase)}, nil
}

func (r *Reconciler) reconcileHolding(ctx context.Context, pos *state.Position, live []liveEntry) (*Outcome, error) {
	var match *liveEntry
	for i := range live {
		if live[i].symbol == pos.Symbol {
			match = &live[i]
			break
		}
	}

	if match == nil {
		r.log.Warn().Str("symbol", pos.Symbol).Msg("recorded position closed externally, clearing")
		if err := r.states.ClearPosition(); err != nil {
			return nil, err
		}
		return &Outcome{Action: ActionCleared, Detail: fmt.Sprintf("%s no longer live on either venue", pos.Symbol)}, nil
	}

	if len(live) > 1 {
		return r.halt(fmt.Sprintf("holding %s but extra symbols are live: %s", pos.Symbol, describeLive(live)))
	}

	step, err := r.coarserStep(ctx, pos.Symbol)
	if err != nil {
		return nil, err
	}
	longSize, shortSize := match.sizeA, match.sizeB
	if pos.LongIsSpot {
		longSize = match.spot
		shortSize = r.venueSlot(match, pos.ShortVenue)
	}
	if !executor.SizesMatch(longSize, shortSize, step) {
		return r.halt(fmt.Sprintf("holding %s but live sizes mismatch beyond one lot step: %s", pos.Symbol, describeLive(live)))
	}

	// refresh the funding outlook on confirm; the recorded figures are as
	// old as the previous run
	shortRate, netAPR, ferr := r.fundingOutlook(ctx, pos.Symbol, pos.LongVenue, pos.ShortVenue, pos.LongIsSpot)
	if ferr != nil {
		r.log.Warn().Err(ferr).Str("symbol", pos.Symbol).Msg("could not refresh expected funding for confirmed position")
	} else {
		if err := r.states.UpdatePosition(func(p *state.Position) {
			p.ExpectedFundingRatePerPeriod = shortRate
			p.ExpectedNetAPR = netAPR
			p.LotStep = step
		}); err != nil {
			return nil, err
		}
	}

	return &Outcome{Action: ActionKept, Detail: fmt.Sprintf("confirmed %s live on both legs", pos.Symbol)}, nil
}

// venueSlot maps a venue onto its column in a live entry.
func (r *Reconciler) venueSlot(entry *liveEntry, venue exchange.Venue) float64 {
	if venue == r.venueA {
		return entry.sizeA
	}
	return entry.sizeB
}

// hedgeDirection checks the two sizes oppose each other and names the long
// and short venues.
func (r *Reconciler) hedgeDirection(entry liveEntry) (bool, exchange.Venue, exchange.Venue) {
	switch {
	case entry.sizeA > 0 && entry.sizeB < 0:
		return true, r.venueA, r.venueB
	case entry.sizeA < 0 && entry.sizeB > 0:
		return true, r.venueB, r.venueA
	default:
		return false, "", ""
	}
}

// adopt synthesizes a position from live sizes. Entry prices are current
// mids and expected funding comes from current rates; both are marked
// recovered so downstream consumers know they are estimates.
func (r *Reconciler) adopt(ctx context.Context, entry liveEntry, longVenue, shortVenue exchange.Venue, step float64) (*state.Position, error) {
	size := math.Min(math.Abs(entry.sizeA), math.Abs(entry.sizeB))

	var mid float64
	err := r.coord.Call(ctx, longVenue, "adopt_book", func() error {
		book, err := r.venues[longVenue].BestBidAsk(ctx, entry.symbol)
		if err != nil {
			return err
		}
		mid = book.Mid()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch mid for adoption: %w", err)
	}

	shortRate, netAPR, err := r.fundingOutlook(ctx, entry.symbol, longVenue, shortVenue, false)
	if err != nil {
		// funding estimate is best-effort on adoption
		r.log.Warn().Err(err).Str("symbol", entry.symbol).Msg("could not refresh expected funding for adopted position")
	}

	now := time.Now().UTC()
	return &state.Position{
		Symbol:                       entry.symbol,
		LongVenue:                    longVenue,
		ShortVenue:                   shortVenue,
		Leverage:                     1,
		OpenedAt:                     now,
		TargetCloseAt:                now.Add(time.Duration(r.holdHours * float64(time.Hour))),
		SizeBase:                     size,
		LotStep:                      step,
		LongEntryPrice:               mid,
		ShortEntryPrice:              mid,
		ActualNotional:               size * mid,
		ExpectedFundingRatePerPeriod: shortRate,
		ExpectedNetAPR:               netAPR,
		Recovered:                    true,
	}, nil
}

// fundingOutlook reads the venues' current rates and returns the short-leg
// per-period rate and the expected net APR. A spot long leg pays no funding,
// so only the short side counts then.
func (r *Reconciler) fundingOutlook(ctx context.Context, symbol string, longVenue, shortVenue exchange.Venue, longIsSpot bool) (float64, float64, error) {
	var longAPR float64
	if !longIsSpot {
		err := r.coord.Call(ctx, longVenue, "funding_outlook", func() error {
			sample, err := r.venues[longVenue].CurrentFundingRate(ctx, symbol)
			if err != nil {
				return err
			}
			longAPR = sample.APR()
			return nil
		})
		if err != nil {
			return 0, 0, err
		}
	}

	var shortAPR, shortRate float64
	err := r.coord.Call(ctx, shortVenue, "funding_outlook", func() error {
		sample, err := r.venues[shortVenue].CurrentFundingRate(ctx, symbol)
		if err != nil {
			return err
		}
		shortAPR = sample.APR()
		shortRate = sample.Rate
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return shortRate, shortAPR - longAPR, nil
}

func (r *Reconciler) halt(detail string) (*Outcome, error) {
	if err := r.states.RecordError(fmt.Errorf("%s", detail)); err != nil {
		return nil, err
	}
	r.log.Error().Msg(detail)
	return &Outcome{Action: ActionHalted, Detail: detail}, nil
}

func (r *Reconciler) coarserStep(ctx context.Context, symbol string) (float64, error) {
	var stepA, stepB float64
	err := r.coord.Call(ctx, r.venueA, "symbol_meta", func() error {
		meta, err := r.venues[r.venueA].SymbolMeta(ctx, symbol)
		if err != nil {
			return err
		}
		stepA = meta.LotStep
		return nil
	})
	if err != nil {
		return 0, err
	}
	err = r.coord.Call(ctx, r.venueB, "symbol_meta", func() error {
		meta, err := r.venues[r.venueB].SymbolMeta(ctx, symbol)
		if err != nil {
			return err
		}
		stepB = meta.LotStep
		return nil
	})
	if err != nil {
		return 0, err
	}
	return math.Max(stepA, stepB), nil
}

func describeLive(live []liveEntry) string {
	parts := make([]string, len(live))
	for i, entry := range live {
		parts[i] = fmt.Sprintf("%s(a=%.8f b=%.8f)", entry.symbol, entry.sizeA, entry.sizeB)
	}
	return strings.Join(parts, ", ")
}
