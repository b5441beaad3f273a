// Package monitor watches an open position during HOLDING and decides when
// to close it. Exit rules are evaluated in a fixed order; the first rule to
// fire wins.
package monitor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/ducminhle1904/funding-arb-bot/internal/exchange"
	"github.com/ducminhle1904/funding-arb-bot/internal/executor"
	"github.com/ducminhle1904/funding-arb-bot/internal/safety"
	"github.com/ducminhle1904/funding-arb-bot/internal/scanner"
	"github.com/ducminhle1904/funding-arb-bot/internal/state"
)

// Config holds the exit thresholds.
type Config struct {
	FeeCoverageMultiplier    float64
	MaxPositionAgeHours      float64
	HoldDurationHours        float64
	RotationAPRImprovement   float64 // absolute APR points, default 10
	MinHoldBeforeRotateHours float64 // default 4
	MaxLegImbalancePct       float64 // default 10

	MaintenanceMargin float64
	SafetyBuffer      float64
	TakerFeeRate      float64
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		FeeCoverageMultiplier:    1.5,
		MaxPositionAgeHours:      48,
		HoldDurationHours:        8,
		RotationAPRImprovement:   10,
		MinHoldBeforeRotateHours: 4,
		MaxLegImbalancePct:       10,
		MaintenanceMargin:        DefaultMaintenanceMargin,
		SafetyBuffer:             DefaultSafetyBuffer,
		TakerFeeRate:             0.00055,
	}
}

// TickInput is everything one monitor tick needs beyond the adapters.
type TickInput struct {
	Position *state.Position
	LotStep  float64

	// BestAlternative is the scanner's current best opportunity on a
	// different symbol, nil when none qualifies.
	BestAlternative *scanner.Opportunity
}

// Snapshot is the refreshed view of the position after one tick.
type Snapshot struct {
	LongMark  float64
	ShortMark float64

	LongUPnL  float64
	ShortUPnL float64
	TotalUPnL float64

	WorstLegPct     float64
	FundingReceived float64

	LongLiveSize  float64
	ShortLiveSize float64

	Timestamp time.Time
}

// Decision says the position should close, and why.
type Decision struct {
	Reason state.ExitReason
	Detail string
}

// Monitor evaluates exit rules for the open position.
type Monitor struct {
	venues map[exchange.Venue]exchange.Adapter
	coord  *safety.Coordinator
	log    zerolog.Logger
	cfg    Config

	now func() time.Time
}

// New creates a monitor over the venue adapters.
func New(venues map[exchange.Venue]exchange.Adapter, coord *safety.Coordinator, cfg Config, log zerolog.Logger) *Monitor {
	return &Monitor{
		venues: venues,
		coord:  coord,
		cfg:    cfg,
		log:    log.With().Str("component", "monitor").Logger(),
		now:    time.Now,
	}
}

// Tick refreshes marks, PnL, funding, and live sizes, then evaluates the
// exit rules. A nil Decision means keep holding.
func (m *Monitor) Tick(ctx context.Context, in TickInput) (*Snapshot, *Decision, error) {
	pos := in.Position
	snap, err := m.refresh(ctx, pos)
	if err != nil {
		return nil, nil, err
	}

	if decision := m.Evaluate(snap, in); decision != nil {
		m.log.Info().
			Str("symbol", pos.Symbol).
			Str("reason", string(decision.Reason)).
			Str("detail", decision.Detail).
			Msg("exit rule fired")
		return snap, decision, nil
	}
	return snap, nil, nil
}

// refresh pulls books, live sizes, and funding income from both venues
// concurrently.
func (m *Monitor) refresh(ctx context.Context, pos *state.Position) (*Snapshot, error) {
	long := m.venues[pos.LongVenue]
	short := m.venues[pos.ShortVenue]

	type venueView struct {
		mark    float64
		size    float64
		funding float64
		err     error
	}

	fetch := func(venue exchange.Venue, adapter exchange.Adapter, spot bool, ch chan<- venueView) {
		var view venueView
		view.err = m.coord.Call(ctx, venue, "monitor_refresh", func() error {
			book, err := adapter.BestBidAsk(ctx, pos.Symbol)
			if err != nil {
				return err
			}
			view.mark = book.Mid()

			if spot {
				// the spot leg is an unmargined holding: its size is the
				// spot balance and it pays no funding
				trader, ok := adapter.(exchange.SpotTrader)
				if !ok {
					return fmt.Errorf("venue %s does not support spot trading", venue)
				}
				size, err := trader.SpotBalance(ctx, executor.BaseAsset(pos.Symbol))
				if err != nil {
					return err
				}
				view.size = size
				return nil
			}

			size, err := adapter.OpenPositionSize(ctx, pos.Symbol)
			if err != nil {
				return err
			}
			view.size = size

			funding, err := adapter.FundingSince(ctx, pos.Symbol, pos.OpenedAt)
			if err != nil {
				return err
			}
			view.funding = funding
			return nil
		})
		ch <- view
	}

	longCh := make(chan venueView, 1)
	shortCh := make(chan venueView, 1)
	go fetch(pos.LongVenue, long, pos.LongIsSpot, longCh)
	go fetch(pos.ShortVenue, short, false, shortCh)

	longView := <-longCh
	shortView := <-shortCh
	if longView.err != nil {
		return nil, fmt.Errorf("refresh long venue %s: %w", pos.LongVenue, longView.err)
	}
	if shortView.err != nil {
		return nil, fmt.Errorf("refresh short venue %s: %w", pos.ShortVenue, shortView.err)
	}

	longUPnL := LongUnrealizedPnL(pos.LongEntryPrice, longView.mark, longView.size)
	shortUPnL := ShortUnrealizedPnL(pos.ShortEntryPrice, shortView.mark, shortView.size)

	funding := longView.funding + shortView.funding
	if funding == 0 {
		// income records can lag a settlement; approximate from the expected
		// per-period rate until they land
		funding = estimatedFunding(pos, m.now().UTC())
	}

	return &Snapshot{
		LongMark:        longView.mark,
		ShortMark:       shortView.mark,
		LongUPnL:        longUPnL,
		ShortUPnL:       shortUPnL,
		TotalUPnL:       longUPnL + shortUPnL,
		WorstLegPct:     WorstLegPct(longUPnL, shortUPnL, pos.ActualNotional),
		FundingReceived: funding,
		LongLiveSize:    longView.size,
		ShortLiveSize:   shortView.size,
		Timestamp:       m.now().UTC(),
	}, nil
}

// Evaluate runs the exit rules in order against an already-refreshed
// snapshot. Exposed separately so the rules are testable without adapters.
func (m *Monitor) Evaluate(snap *Snapshot, in TickInput) *Decision {
	pos := in.Position
	now := m.now().UTC()
	ageHours := now.Sub(pos.OpenedAt).Hours()

	// 1. stop loss on the worst leg
	stopPct := EmergencyStopLossPct(pos.Leverage, m.cfg.MaintenanceMargin, m.cfg.SafetyBuffer)
	if snap.WorstLegPct <= stopPct {
		return &Decision{
			Reason: state.ExitStopLoss,
			Detail: fmt.Sprintf("worst leg %.2f%% breached stop %.0f%%", snap.WorstLegPct, stopPct),
		}
	}

	// 2. funding has covered fees with margin
	entryFees := pos.EntryFeesPaid
	if entryFees == 0 {
		entryFees = EstimateFees(pos.ActualNotional, m.cfg.TakerFeeRate) / 2
	}
	exitFees := EstimateFees(pos.ActualNotional, m.cfg.TakerFeeRate) / 2
	required := m.cfg.FeeCoverageMultiplier * (entryFees + exitFees)
	if required > 0 && snap.FundingReceived >= required {
		return &Decision{
			Reason: state.ExitFeeCoverageMet,
			Detail: fmt.Sprintf("funding %.4f >= %.2fx fees %.4f", snap.FundingReceived, m.cfg.FeeCoverageMultiplier, entryFees+exitFees),
		}
	}

	// 3. rotation into a clearly better symbol, but never churn early
	if alt := in.BestAlternative; alt != nil && alt.Symbol != pos.Symbol {
		improvement := alt.NetAPR - pos.ExpectedNetAPR
		if improvement > m.cfg.RotationAPRImprovement && ageHours >= m.cfg.MinHoldBeforeRotateHours {
			return &Decision{
				Reason: state.ExitRotation,
				Detail: fmt.Sprintf("%s offers %.2f APR, +%.2f over current", alt.Symbol, alt.NetAPR, improvement),
			}
		}
	}

	// 4. nominal hold duration reached
	if m.cfg.HoldDurationHours > 0 && !now.Before(pos.TargetCloseAt) {
		return &Decision{
			Reason: state.ExitTargetDurationReached,
			Detail: fmt.Sprintf("held %.1fh of %.1fh target", ageHours, m.cfg.HoldDurationHours),
		}
	}

	// 5. hard age cap
	if m.cfg.MaxPositionAgeHours > 0 && ageHours >= m.cfg.MaxPositionAgeHours {
		return &Decision{
			Reason: state.ExitMaxAgeExceeded,
			Detail: fmt.Sprintf("age %.1fh >= cap %.1fh", ageHours, m.cfg.MaxPositionAgeHours),
		}
	}

	// 6. health: legs drifted apart
	if unhealthy, detail := m.legsUnhealthy(snap, in); unhealthy {
		return &Decision{Reason: state.ExitHealthCheckFailed, Detail: detail}
	}

	return nil
}

// estimatedFunding approximates accrual from the expected per-period rate:
// rate × notional × settled periods since open.
func estimatedFunding(pos *state.Position, now time.Time) float64 {
	period := pos.FundingPeriodHours
	if period <= 0 {
		period = 8
	}
	periods := math.Floor(now.Sub(pos.OpenedAt).Hours() / period)
	if periods <= 0 {
		return 0
	}
	return pos.ExpectedFundingRatePerPeriod * pos.ActualNotional * periods
}

func (m *Monitor) legsUnhealthy(snap *Snapshot, in TickInput) (bool, string) {
	longAbs := math.Abs(snap.LongLiveSize)
	shortAbs := math.Abs(snap.ShortLiveSize)

	if diff := math.Abs(longAbs - shortAbs); diff > in.LotStep {
		larger := math.Max(longAbs, shortAbs)
		imbalancePct := 0.0
		if larger > 0 {
			imbalancePct = diff / larger * 100
		}
		if imbalancePct > m.cfg.MaxLegImbalancePct {
			return true, fmt.Sprintf("leg imbalance %.1f%% (long %.8f, short %.8f)", imbalancePct, snap.LongLiveSize, snap.ShortLiveSize)
		}
		return true, fmt.Sprintf("size mismatch beyond lot step (long %.8f, short %.8f)", snap.LongLiveSize, snap.ShortLiveSize)
	}
	return false, ""
}
