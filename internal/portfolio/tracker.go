// Package portfolio tracks cross-venue capital and long-term performance
// against the first observed baseline. Long-term PnL is display-only and
// never drives an exit.
package portfolio

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/ducminhle1904/funding-arb-bot/internal/exchange"
	"github.com/ducminhle1904/funding-arb-bot/internal/safety"
	"github.com/ducminhle1904/funding-arb-bot/internal/state"
)

// LongTermPnL is the running performance against the initial baseline.
type LongTermPnL struct {
	InitialCapital float64
	CurrentCapital float64
	PnLUSD         float64
	PnLPct         float64
	Since          time.Time
}

// Tracker refreshes venue balances into the durable CapitalStatus.
type Tracker struct {
	venueA exchange.Venue
	venueB exchange.Venue
	venues map[exchange.Venue]exchange.Adapter
	coord  *safety.Coordinator
	states *state.Manager
	log    zerolog.Logger

	leverage int
}

// New creates a tracker. leverage feeds the max deployable notional figure.
func New(venueA, venueB exchange.Venue, venues map[exchange.Venue]exchange.Adapter, coord *safety.Coordinator, states *state.Manager, leverage int, log zerolog.Logger) *Tracker {
	if leverage < 1 {
		leverage = 1
	}
	return &Tracker{
		venueA:   venueA,
		venueB:   venueB,
		venues:   venues,
		coord:    coord,
		states:   states,
		log:      log.With().Str("component", "portfolio").Logger(),
		leverage: leverage,
	}
}

// Refresh pulls both venue balances concurrently and persists the capital
// snapshot. The first refresh with a positive total pins the long-term
// baseline.
func (t *Tracker) Refresh(ctx context.Context) (*state.CapitalStatus, error) {
	type balanced struct {
		balance *exchange.Balance
		err     error
	}
	fetch := func(venue exchange.Venue, ch chan<- balanced) {
		var result balanced
		result.err = t.coord.Call(ctx, venue, "account_balance", func() error {
			var err error
			result.balance, err = t.venues[venue].AccountBalance(ctx)
			return err
		})
		ch <- result
	}

	chA := make(chan balanced, 1)
	chB := make(chan balanced, 1)
	go fetch(t.venueA, chA)
	go fetch(t.venueB, chB)

	resA := <-chA
	resB := <-chB
	if resA.err != nil {
		return nil, fmt.Errorf("balance on %s: %w", t.venueA, resA.err)
	}
	if resB.err != nil {
		return nil, fmt.Errorf("balance on %s: %w", t.venueB, resB.err)
	}

	limiting := t.venueA
	minAvailable := resA.balance.Available
	if resB.balance.Available < minAvailable {
		minAvailable = resB.balance.Available
		limiting = t.venueB
	}

	cs := state.CapitalStatus{
		VenueATotal:         resA.balance.Total,
		VenueAAvailable:     resA.balance.Available,
		VenueBTotal:         resB.balance.Total,
		VenueBAvailable:     resB.balance.Available,
		TotalCapital:        resA.balance.Total + resB.balance.Total,
		TotalAvailable:      resA.balance.Available + resB.balance.Available,
		MaxPositionNotional: minAvailable * float64(t.leverage) * 0.95,
		LimitingVenue:       limiting,
	}

	if err := t.states.UpdateCapital(cs); err != nil {
		return nil, err
	}
	updated := t.states.Capital()
	return &updated, nil
}

// LongTerm computes performance against the pinned baseline. Returns false
// until the baseline exists.
func (t *Tracker) LongTerm() (*LongTermPnL, bool) {
	cs := t.states.Capital()
	if cs.InitialTotalCapital == nil || *cs.InitialTotalCapital <= 0 {
		return nil, false
	}

	initial := *cs.InitialTotalCapital
	pnl := cs.TotalCapital - initial
	return &LongTermPnL{
		InitialCapital: initial,
		CurrentCapital: cs.TotalCapital,
		PnLUSD:         pnl,
		PnLPct:         pnl / initial * 100,
		Since:          cs.LastUpdated,
	}, true
}

// RoundUSD trims a USD amount for display.
func RoundUSD(v float64) float64 {
	return math.Round(v*100) / 100
}
