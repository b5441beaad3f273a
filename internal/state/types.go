// Package state holds the bot's durable state: the lifecycle state machine,
// the single open position, completed cycle history, and capital tracking.
// Everything here round-trips through one JSON document on disk.
package state

import (
	"encoding/json"
	"time"

	"github.com/ducminhle1904/funding-arb-bot/internal/exchange"
)

// BotState is the bot's lifecycle state.
type BotState string

const (
	StateIdle      BotState = "IDLE"
	StateAnalyzing BotState = "ANALYZING"
	StateOpening   BotState = "OPENING"
	StateHolding   BotState = "HOLDING"
	StateClosing   BotState = "CLOSING"
	StateWaiting   BotState = "WAITING"
	StateError     BotState = "ERROR"
	StateShutdown  BotState = "SHUTDOWN"
)

// validTransitions encodes the state machine. SHUTDOWN is reachable from
// anywhere and is handled separately in Transition.
var validTransitions = map[BotState][]BotState{
	StateIdle:      {StateAnalyzing},
	StateAnalyzing: {StateOpening, StateWaiting, StateError},
	// OPENING may fall back to ANALYZING when both legs were rejected and
	// nothing reached the venue
	StateOpening: {StateHolding, StateAnalyzing, StateError},
	StateHolding: {StateClosing, StateError},
	StateClosing: {StateWaiting, StateError},
	StateWaiting: {StateIdle},
	StateError:   {StateIdle},
}

// ExitReason explains why a position was closed.
type ExitReason string

const (
	ExitStopLoss              ExitReason = "STOP_LOSS"
	ExitFeeCoverageMet        ExitReason = "FEE_COVERAGE_MET"
	ExitRotation              ExitReason = "ROTATION"
	ExitTargetDurationReached ExitReason = "TARGET_DURATION_REACHED"
	ExitMaxAgeExceeded        ExitReason = "MAX_AGE_EXCEEDED"
	ExitHealthCheckFailed     ExitReason = "HEALTH_CHECK_FAILED"
	ExitShutdown              ExitReason = "SHUTDOWN"
)

// BalanceSnapshot captures per-venue balances at a point in time.
type BalanceSnapshot struct {
	LongVenueTotal      float64   `json:"long_venue_total"`
	LongVenueAvailable  float64   `json:"long_venue_available"`
	ShortVenueTotal     float64   `json:"short_venue_total"`
	ShortVenueAvailable float64   `json:"short_venue_available"`
	Timestamp           time.Time `json:"timestamp"`
}

// PnLBreakdown decomposes a cycle's realized result.
type PnLBreakdown struct {
	FundingReceived float64 `json:"funding_received"`
	PricePnL        float64 `json:"price_pnl"`
	FeesPaid        float64 `json:"fees_paid"`
	NetPnL          float64 `json:"net_pnl"`
}

// Position is the singleton open position. It exists exactly while the bot
// is HOLDING.
type Position struct {
	Symbol     string         `json:"symbol"`
	LongVenue  exchange.Venue `json:"long_venue"`
	ShortVenue exchange.Venue `json:"short_venue"`
	Leverage   int            `json:"leverage"`

	OpenedAt      time.Time `json:"opened_at"`
	TargetCloseAt time.Time `json:"target_close_at"`

	SizeBase           float64        `json:"size_base"`
	LotStep            float64        `json:"lot_step,omitempty"`
	LongEntryPrice     float64        `json:"long_entry_price"`
	ShortEntryPrice    float64        `json:"short_entry_price"`
	ConfiguredNotional float64        `json:"configured_notional"`
	ActualNotional     float64        `json:"actual_notional"`
	WasCapitalLimited  bool           `json:"was_capital_limited"`
	LimitingVenue      exchange.Venue `json:"limiting_venue,omitempty"`

	BalancesBefore *BalanceSnapshot `json:"balances_before,omitempty"`

	ExpectedFundingRatePerPeriod float64 `json:"expected_funding_rate_per_period"`
	FundingPeriodHours           float64 `json:"funding_period_hours,omitempty"`
	ExpectedNetAPR               float64 `json:"expected_net_apr"`

	CumulativeFundingReceived float64   `json:"cumulative_funding_received"`
	EntryFeesPaid             float64   `json:"entry_fees_paid"`
	LastRefreshedPnL          float64   `json:"last_refreshed_pnl"`
	LastRefreshedAt           time.Time `json:"last_refreshed_at,omitempty"`

	StopLossTriggered bool   `json:"stop_loss_triggered"`
	StopLossReason    string `json:"stop_loss_reason,omitempty"`

	// LongIsSpot marks the single-venue variant where the long leg is an
	// unmargined spot holding instead of a perp.
	LongIsSpot bool `json:"long_is_spot,omitempty"`

	// Recovered marks a position adopted by the reconciler rather than
	// opened by the bot. Entry prices are then best-known mids, not fills.
	Recovered bool `json:"recovered,omitempty"`
}

// Age returns how long the position has been open.
func (p *Position) Age(now time.Time) time.Duration {
	return now.Sub(p.OpenedAt)
}

// CompletedCycle is the immutable record of a closed position.
type CompletedCycle struct {
	Position

	ClosedAt       time.Time        `json:"closed_at"`
	DurationHours  float64          `json:"duration_hours"`
	ExitLongPrice  float64          `json:"exit_long_price"`
	ExitShortPrice float64          `json:"exit_short_price"`
	ExitBalances   *BalanceSnapshot `json:"exit_balances,omitempty"`
	RealizedPnL    PnLBreakdown     `json:"realized_pnl_breakdown"`
	ExitReason     ExitReason       `json:"exit_reason"`
}

// SymbolStats aggregates cycle outcomes per symbol.
type SymbolStats struct {
	Cycles   int     `json:"cycles"`
	TotalPnL float64 `json:"total_pnl"`
	AvgPnL   float64 `json:"avg_pnl"`
}

// CumulativeStats aggregates performance across all recorded cycles.
type CumulativeStats struct {
	TotalCycles        int     `json:"total_cycles"`
	SuccessfulCycles   int     `json:"successful_cycles"`
	FailedCycles       int     `json:"failed_cycles"`
	TotalRealizedPnL   float64 `json:"total_realized_pnl"`
	BestCyclePnL       float64 `json:"best_cycle_pnl"`
	WorstCyclePnL      float64 `json:"worst_cycle_pnl"`
	TotalVolumeTraded  float64 `json:"total_volume_traded"`
	TotalHoldTimeHours float64 `json:"total_hold_time_hours"`

	BySymbol map[string]*SymbolStats `json:"by_symbol,omitempty"`

	LastError   string     `json:"last_error,omitempty"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`
}

// CapitalStatus is the latest cross-venue capital snapshot.
type CapitalStatus struct {
	VenueATotal     float64 `json:"venue_a_total"`
	VenueAAvailable float64 `json:"venue_a_available"`
	VenueBTotal     float64 `json:"venue_b_total"`
	VenueBAvailable float64 `json:"venue_b_available"`

	TotalCapital        float64        `json:"total_capital"`
	TotalAvailable      float64        `json:"total_available"`
	MaxPositionNotional float64        `json:"max_position_notional"`
	LimitingVenue       exchange.Venue `json:"limiting_venue,omitempty"`

	// InitialTotalCapital is set on the first refresh with positive total
	// and never rewritten afterwards.
	InitialTotalCapital *float64  `json:"initial_total_capital,omitempty"`
	LastUpdated         time.Time `json:"last_updated"`
}

// Document is the persisted state file.
type Document struct {
	Version         string           `json:"version"`
	State           BotState         `json:"state"`
	CurrentCycle    int              `json:"current_cycle"`
	CurrentPosition *Position        `json:"current_position,omitempty"`
	CapitalStatus   *CapitalStatus   `json:"capital_status,omitempty"`
	CompletedCycles []CompletedCycle `json:"completed_cycles"`
	CumulativeStats *CumulativeStats `json:"cumulative_stats"`
	ConfigSnapshot  json.RawMessage  `json:"config_snapshot,omitempty"`
	LastUpdated     time.Time        `json:"last_updated"`
}
