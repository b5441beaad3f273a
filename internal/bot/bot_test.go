package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/funding-arb-bot/internal/config"
	"github.com/ducminhle1904/funding-arb-bot/internal/exchange"
	"github.com/ducminhle1904/funding-arb-bot/internal/executor"
	"github.com/ducminhle1904/funding-arb-bot/internal/monitoring"
	"github.com/ducminhle1904/funding-arb-bot/internal/safety"
	"github.com/ducminhle1904/funding-arb-bot/internal/scanner"
	"github.com/ducminhle1904/funding-arb-bot/internal/state"
)

// fakeVenue implements just enough of exchange.Adapter and
// exchange.SpotTrader for loop tests. Unimplemented methods panic through
// the embedded nil interfaces.
type fakeVenue struct {
	exchange.Adapter
	exchange.SpotTrader

	name exchange.Venue

	mu        sync.Mutex
	positions map[string]float64
	spot      map[string]float64
	orders    int
	placeErr  error

	balance    exchange.Balance
	fundingErr error
	rate       float64
	funding    float64
}

func (f *fakeVenue) Name() exchange.Venue { return f.name }

func (f *fakeVenue) BestBidAsk(ctx context.Context, symbol string) (*exchange.BookTicker, error) {
	return &exchange.BookTicker{Bid: 99.9, Ask: 100.1}, nil
}

func (f *fakeVenue) OpenPositionSize(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.positions[symbol], nil
}

func (f *fakeVenue) PlaceAggressiveLimit(ctx context.Context, symbol string, side exchange.OrderSide, qty, price float64, crossTicks int) (*exchange.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders++
	if f.placeErr != nil {
		err := f.placeErr
		f.placeErr = nil // fail only the first order
		return nil, err
	}
	if side == exchange.OrderSideBuy {
		f.positions[symbol] += qty
	} else {
		f.positions[symbol] -= qty
	}
	return &exchange.OrderResult{OrderID: "1", Symbol: symbol, Side: side, Qty: qty, Price: price}, nil
}

func (f *fakeVenue) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}

func (f *fakeVenue) SpotBalance(ctx context.Context, asset string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spot[asset], nil
}

func (f *fakeVenue) PlaceSpotMarket(ctx context.Context, symbol string, side exchange.OrderSide, qty float64) (*exchange.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders++
	asset := executor.BaseAsset(symbol)
	if side == exchange.OrderSideBuy {
		f.spot[asset] += qty
	} else {
		f.spot[asset] -= qty
	}
	return &exchange.OrderResult{OrderID: "1", Symbol: symbol, Side: side, Qty: qty}, nil
}

func (f *fakeVenue) AccountBalance(ctx context.Context) (*exchange.Balance, error) {
	return &f.balance, nil
}

func (f *fakeVenue) CurrentFundingRate(ctx context.Context, symbol string) (*exchange.FundingSample, error) {
	if f.fundingErr != nil {
		return nil, f.fundingErr
	}
	return &exchange.FundingSample{Rate: f.rate, PeriodHours: 8}, nil
}

func (f *fakeVenue) FundingRateHistory(ctx context.Context, symbol string, n int) ([]exchange.FundingSample, error) {
	return nil, nil
}

func (f *fakeVenue) QuoteVolume24h(ctx context.Context, symbol string) (float64, error) {
	return 10_000_000, nil
}

func (f *fakeVenue) SymbolMeta(ctx context.Context, symbol string) (*exchange.SymbolMeta, error) {
	return &exchange.SymbolMeta{Symbol: symbol, PriceTick: 0.01, LotStep: 0.1, MinNotional: 5}, nil
}

func (f *fakeVenue) FundingSince(ctx context.Context, symbol string, since time.Time) (float64, error) {
	return f.funding, nil
}

func testConfig() *config.Config {
	return &config.Config{
		CapitalManagement: config.CapitalManagementConfig{CapitalFraction: 0.5, MinNotionalUSD: 10},
		FundingRateStrategy: config.FundingRateStrategyConfig{
			MinFundingAPR: 10, MinVolumeUSD: 1_000_000, MaxSpreadPct: 0.5,
		},
		PositionManagement: config.PositionManagementConfig{
			FeeCoverageMultiplier: 1.5, MaxPositionAgeHours: 48, HoldDurationHours: 8,
			LoopIntervalSeconds: 1, WaitBetweenCyclesMinutes: 5, CheckIntervalSeconds: 1,
			RotationAPRImprovement: 10, MinHoldBeforeRotateHours: 4,
			MaintenanceMargin: 0.005, SafetyBuffer: 0.007, TakerFeeRate: 0.0005,
		},
		LeverageSettings: config.LeverageSettingsConfig{Leverage: 2},
		Universe:         config.UniverseConfig{SymbolsToMonitor: []string{"SOLUSDT"}},
		Reporting:        config.ReportingConfig{ExportDir: "reports"},
	}
}

func newTestBot(t *testing.T, cfg *config.Config, bybit, aster *fakeVenue) *Bot {
	t.Helper()
	return newTestBotAt(t, filepath.Join(t.TempDir(), "state.json"), cfg, bybit, aster)
}

func newTestBotAt(t *testing.T, statePath string, cfg *config.Config, bybit, aster *fakeVenue) *Bot {
	t.Helper()
	states := state.NewManager(statePath, zerolog.Nop())
	require.NoError(t, states.Load())

	coord := safety.NewCoordinator(
		map[exchange.Venue]int{},
		safety.RetryConfig{MaxRetries: 0, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2},
		zerolog.Nop(),
	)

	return New(Deps{
		Config: cfg,
		Log:    zerolog.Nop(),
		States: states,
		VenueA: exchange.VenueBybit,
		VenueB: exchange.VenueAster,
		Venues: map[exchange.Venue]exchange.Adapter{
			exchange.VenueBybit: bybit,
			exchange.VenueAster: aster,
		},
		Coord:  coord,
		Health: monitoring.NewHealthChecker(),
		Out:    io.Discard,
	})
}

func holdingPosition(opened time.Time) *state.Position {
	return &state.Position{
		Symbol:          "SOLUSDT",
		LongVenue:       exchange.VenueBybit,
		ShortVenue:      exchange.VenueAster,
		Leverage:        2,
		OpenedAt:        opened,
		TargetCloseAt:   opened.Add(8 * time.Hour),
		SizeBase:        10,
		LotStep:         0.1,
		LongEntryPrice:  100.0,
		ShortEntryPrice: 100.2,
		ActualNotional:  1000,
		ExpectedNetAPR:  25,
		EntryFeesPaid:   0.5,
	}
}

// TestSleepCtx_CancelInterrupts tests that cancellation cuts a long sleep
// short within roughly one chunk
func TestSleepCtx_CancelInterrupts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	done := sleepCtx(ctx, 30*time.Second)
	assert.False(t, done)
	assert.Less(t, time.Since(start), 2*time.Second)
}

// TestBuildCycle_RealizedBreakdown tests the realized PnL decomposition
func TestBuildCycle_RealizedBreakdown(t *testing.T) {
	bybit := &fakeVenue{name: exchange.VenueBybit, positions: map[string]float64{}}
	aster := &fakeVenue{name: exchange.VenueAster, positions: map[string]float64{}}
	b := newTestBot(t, testConfig(), bybit, aster)

	opened := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	pos := holdingPosition(opened)
	pos.CumulativeFundingReceived = 1.2

	cycle := b.buildCycle(pos, nil, &executor.CloseResult{
		Symbol:         "SOLUSDT",
		ExitLongPrice:  101.0,
		ExitShortPrice: 101.1,
		ClosedAt:       opened.Add(6 * time.Hour),
	}, state.ExitFeeCoverageMet)

	// long (101-100)*10 = +10, short (100.2-101.1)*10 = -9
	assert.InDelta(t, 1.0, cycle.RealizedPnL.PricePnL, 1e-9)
	// entry 0.5 recorded + exit estimate 1000*0.0005*2/2 = 0.5
	assert.InDelta(t, 1.0, cycle.RealizedPnL.FeesPaid, 1e-9)
	assert.InDelta(t, 1.2, cycle.RealizedPnL.FundingReceived, 1e-9)
	assert.InDelta(t, 1.2, cycle.RealizedPnL.NetPnL, 1e-9)
	assert.InDelta(t, 6.0, cycle.DurationHours, 1e-9)
	assert.Equal(t, state.ExitFeeCoverageMet, cycle.ExitReason)
}

// TestAnalyze_NoOpportunitiesEntersCooldown tests that an empty scan moves
// the bot to WAITING with the cooldown armed
func TestAnalyze_NoOpportunitiesEntersCooldown(t *testing.T) {
	bybit := &fakeVenue{
		name:       exchange.VenueBybit,
		positions:  map[string]float64{},
		balance:    exchange.Balance{Total: 500, Available: 500},
		fundingErr: fmt.Errorf("funding endpoint down"),
	}
	aster := &fakeVenue{
		name:      exchange.VenueAster,
		positions: map[string]float64{},
		balance:   exchange.Balance{Total: 500, Available: 480},
		rate:      0.0003,
	}
	b := newTestBot(t, testConfig(), bybit, aster)
	require.NoError(t, b.states.Transition(state.StateAnalyzing))

	require.NoError(t, b.analyze(context.Background()))

	assert.Equal(t, state.StateWaiting, b.states.State())
	assert.False(t, b.waitUntil.IsZero())
	assert.True(t, b.waitUntil.After(time.Now()))
}

// TestClosePosition_RecordsCycleAndCoolsDown tests the full close path:
// both legs flatten, the cycle is recorded, and the bot enters WAITING
func TestClosePosition_RecordsCycleAndCoolsDown(t *testing.T) {
	bybit := &fakeVenue{name: exchange.VenueBybit, positions: map[string]float64{"SOLUSDT": 10}}
	aster := &fakeVenue{name: exchange.VenueAster, positions: map[string]float64{"SOLUSDT": -10}}
	b := newTestBot(t, testConfig(), bybit, aster)

	pos := holdingPosition(time.Now().UTC().Add(-6 * time.Hour))
	require.NoError(t, b.states.AdoptPosition(pos))

	err := b.closePosition(context.Background(), pos, nil, state.ExitTargetDurationReached, "held long enough")
	require.NoError(t, err)

	assert.Equal(t, state.StateWaiting, b.states.State())
	assert.Nil(t, b.states.Position())
	assert.InDelta(t, 0, bybit.positions["SOLUSDT"], 1e-9)
	assert.InDelta(t, 0, aster.positions["SOLUSDT"], 1e-9)

	cycles := b.states.CompletedCycles()
	require.Len(t, cycles, 1)
	assert.Equal(t, state.ExitTargetDurationReached, cycles[0].ExitReason)
	assert.False(t, b.waitUntil.IsZero())
}

// TestClosePosition_RetriesOnceWhenBothLegsRejected tests that a close where
// neither leg reached the venue is retried once before giving up
func TestClosePosition_RetriesOnceWhenBothLegsRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the close retry delay")
	}

	bybit := &fakeVenue{
		name:      exchange.VenueBybit,
		positions: map[string]float64{"SOLUSDT": 10},
		placeErr:  errors.New("matching engine busy"),
	}
	aster := &fakeVenue{
		name:      exchange.VenueAster,
		positions: map[string]float64{"SOLUSDT": -10},
		placeErr:  errors.New("matching engine busy"),
	}
	b := newTestBot(t, testConfig(), bybit, aster)

	pos := holdingPosition(time.Now().UTC().Add(-9 * time.Hour))
	require.NoError(t, b.states.AdoptPosition(pos))

	err := b.closePosition(context.Background(), pos, nil, state.ExitMaxAgeExceeded, "too old")
	require.NoError(t, err)

	assert.Equal(t, state.StateWaiting, b.states.State())
	// first attempt failed on both venues, second flattened
	assert.Equal(t, 2, bybit.orders)
	assert.Equal(t, 2, aster.orders)
}

// TestTryOpen_SpotPerpRoutesBothLegsToOneVenue tests that spot+perp mode
// opens the spot buy and the perp short on the same venue, leaving the
// other venue untouched
func TestTryOpen_SpotPerpRoutesBothLegsToOneVenue(t *testing.T) {
	bybit := &fakeVenue{name: exchange.VenueBybit, positions: map[string]float64{}}
	aster := &fakeVenue{
		name:      exchange.VenueAster,
		positions: map[string]float64{},
		spot:      map[string]float64{},
	}
	cfg := testConfig()
	cfg.Venues.SpotPerpMode = true
	b := newTestBot(t, cfg, bybit, aster)
	require.NoError(t, b.states.Transition(state.StateAnalyzing))

	capital := &state.CapitalStatus{
		VenueATotal: 500, VenueAAvailable: 500,
		VenueBTotal: 500, VenueBAvailable: 480,
		TotalCapital: 1000, TotalAvailable: 980,
		MaxPositionNotional: 960,
		LastUpdated:         time.Now().UTC(),
	}
	opp := &scanner.Opportunity{
		Symbol:            "SOLUSDT",
		LongVenue:         exchange.VenueBybit,
		ShortVenue:        exchange.VenueAster,
		LongAPR:           10.95,
		ShortAPR:          32.85,
		NetAPR:            21.9,
		ShortVenueRate:    0.0003,
		FundingFreqPerDay: 3,
	}

	opened, err := b.tryOpen(context.Background(), opp, capital)
	require.NoError(t, err)
	assert.True(t, opened)
	assert.Equal(t, state.StateHolding, b.states.State())

	pos := b.states.Position()
	require.NotNil(t, pos)
	assert.True(t, pos.LongIsSpot)
	assert.Equal(t, exchange.VenueAster, pos.LongVenue)
	assert.Equal(t, exchange.VenueAster, pos.ShortVenue)
	// the spot leg pays no funding, so the short APR is the whole edge
	assert.Equal(t, 32.85, pos.ExpectedNetAPR)

	assert.Zero(t, bybit.orders)
	assert.InDelta(t, pos.SizeBase, aster.spot["SOL"], 1e-9)
	assert.InDelta(t, -pos.SizeBase, aster.positions["SOLUSDT"], 1e-9)
}

// TestRun_RestartAfterCleanShutdown tests that a state file left in SHUTDOWN
// starts the next run instead of wedging the main loop
func TestRun_RestartAfterCleanShutdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	prev := state.NewManager(path, zerolog.Nop())
	require.NoError(t, prev.Load())
	require.NoError(t, prev.Transition(state.StateShutdown))

	bybit := &fakeVenue{
		name:       exchange.VenueBybit,
		positions:  map[string]float64{},
		balance:    exchange.Balance{Total: 500, Available: 500},
		fundingErr: fmt.Errorf("funding endpoint down"),
	}
	aster := &fakeVenue{
		name:      exchange.VenueAster,
		positions: map[string]float64{},
		balance:   exchange.Balance{Total: 500, Available: 480},
		rate:      0.0003,
	}
	b := newTestBotAt(t, path, testConfig(), bybit, aster)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, b.Run(ctx))
	assert.Equal(t, state.StateShutdown, b.states.State())
}

// TestHoldTick_NoPositionClears tests the defensive path where HOLDING has
// no recorded position
func TestHoldTick_NoPositionClears(t *testing.T) {
	bybit := &fakeVenue{name: exchange.VenueBybit, positions: map[string]float64{}}
	aster := &fakeVenue{name: exchange.VenueAster, positions: map[string]float64{}}
	b := newTestBot(t, testConfig(), bybit, aster)

	require.NoError(t, b.states.Transition(state.StateAnalyzing))
	require.NoError(t, b.states.Transition(state.StateOpening))
	require.NoError(t, b.states.Transition(state.StateHolding))

	require.NoError(t, b.holdTick(context.Background()))
	assert.Equal(t, state.StateIdle, b.states.State())
}
