package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/funding-arb-bot/internal/exchange"
	"github.com/ducminhle1904/funding-arb-bot/internal/safety"
)

// fakeVenue implements the adapter surface the scanner touches.
type fakeVenue struct {
	exchange.Adapter
	venue   exchange.Venue
	rates   map[string]float64
	volumes map[string]float64
	books   map[string]*exchange.BookTicker
	history map[string][]exchange.FundingSample
	slow    map[string]bool
}

func (f *fakeVenue) Name() exchange.Venue { return f.venue }

func (f *fakeVenue) CurrentFundingRate(ctx context.Context, symbol string) (*exchange.FundingSample, error) {
	if f.slow[symbol] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	rate, ok := f.rates[symbol]
	if !ok {
		return nil, exchange.NewVenueError(f.venue, exchange.ErrNotFound, 0, "no funding data")
	}
	return &exchange.FundingSample{Symbol: symbol, Rate: rate, PeriodHours: 8, Timestamp: time.Now()}, nil
}

func (f *fakeVenue) QuoteVolume24h(ctx context.Context, symbol string) (float64, error) {
	return f.volumes[symbol], nil
}

func (f *fakeVenue) BestBidAsk(ctx context.Context, symbol string) (*exchange.BookTicker, error) {
	if book, ok := f.books[symbol]; ok {
		return book, nil
	}
	return &exchange.BookTicker{Symbol: symbol, Bid: 99.9, Ask: 100.1}, nil
}

func (f *fakeVenue) FundingRateHistory(ctx context.Context, symbol string, n int) ([]exchange.FundingSample, error) {
	return f.history[symbol], nil
}

func newTestScanner(venueA, venueB *fakeVenue) *Scanner {
	coord := safety.NewCoordinator(
		map[exchange.Venue]int{},
		safety.RetryConfig{MaxRetries: 0, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2},
		zerolog.Nop(),
	)
	return New(venueA, venueB, coord, zerolog.Nop())
}

func testConfig() Config {
	return Config{
		MinFundingAPR: 10,
		MinVolumeUSD:  1_000_000,
		MaxSpreadPct:  0.15,
		SymbolTimeout: time.Second,
	}
}

// TestScan_ColdStartSelectsBestSymbol tests ranking across three symbols with
// one below threshold and one vetoed by a negative current rate
func TestScan_ColdStartSelectsBestSymbol(t *testing.T) {
	venueA := &fakeVenue{
		venue:   exchange.VenueBybit,
		rates:   map[string]float64{"BTCUSDT": 0.0001, "ETHUSDT": -0.0002, "SOLUSDT": 0.0003},
		volumes: map[string]float64{"BTCUSDT": 5_000_000, "ETHUSDT": 5_000_000, "SOLUSDT": 5_000_000},
	}
	venueB := &fakeVenue{
		venue:   exchange.VenueAster,
		rates:   map[string]float64{"BTCUSDT": 0.00005, "ETHUSDT": 0.0001, "SOLUSDT": 0.0001},
		volumes: map[string]float64{"BTCUSDT": 5_000_000, "ETHUSDT": 5_000_000, "SOLUSDT": 5_000_000},
	}

	result := newTestScanner(venueA, venueB).Scan(context.Background(), []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, testConfig())

	require.Len(t, result.Opportunities, 1)
	best := result.Best()
	assert.Equal(t, "SOLUSDT", best.Symbol)
	assert.Equal(t, exchange.VenueAster, best.LongVenue)
	assert.Equal(t, exchange.VenueBybit, best.ShortVenue)
	assert.InDelta(t, 21.9, best.NetAPR, 0.01)
	assert.Greater(t, best.ShortVenueRate, 0.0)

	reasons := map[string]ExclusionReason{}
	for _, e := range result.Excluded {
		reasons[e.Symbol] = e.Reason
	}
	assert.Equal(t, ReasonBelowAPRThreshold, reasons["BTCUSDT"])
	assert.Equal(t, ReasonNegativeRate, reasons["ETHUSDT"])
}

// TestScan_ShortVenueRateMatchesDirection tests that no emitted opportunity
// has a non-positive current rate on its short venue
func TestScan_ShortVenueRateMatchesDirection(t *testing.T) {
	venueA := &fakeVenue{
		venue:   exchange.VenueBybit,
		rates:   map[string]float64{"AUSDT": 0.0, "BUSDT": 0.0004},
		volumes: map[string]float64{"AUSDT": 9_000_000, "BUSDT": 9_000_000},
	}
	venueB := &fakeVenue{
		venue:   exchange.VenueAster,
		rates:   map[string]float64{"AUSDT": 0.0005, "BUSDT": 0.0001},
		volumes: map[string]float64{"AUSDT": 9_000_000, "BUSDT": 9_000_000},
	}

	result := newTestScanner(venueA, venueB).Scan(context.Background(), []string{"AUSDT", "BUSDT"}, testConfig())

	for _, opp := range result.Opportunities {
		assert.Greater(t, opp.ShortVenueRate, 0.0, "symbol %s", opp.Symbol)
		assert.GreaterOrEqual(t, opp.LongVenueRate, 0.0, "symbol %s", opp.Symbol)
	}
}

// TestScan_VolumeAndSpreadFilters tests the liquidity exclusions
func TestScan_VolumeAndSpreadFilters(t *testing.T) {
	venueA := &fakeVenue{
		venue:   exchange.VenueBybit,
		rates:   map[string]float64{"THINUSDT": 0.0003, "WIDEUSDT": 0.0003},
		volumes: map[string]float64{"THINUSDT": 100_000, "WIDEUSDT": 9_000_000},
		books:   map[string]*exchange.BookTicker{"WIDEUSDT": {Bid: 99.0, Ask: 99.2}},
	}
	venueB := &fakeVenue{
		venue:   exchange.VenueAster,
		rates:   map[string]float64{"THINUSDT": 0.0001, "WIDEUSDT": 0.0001},
		volumes: map[string]float64{"THINUSDT": 100_000, "WIDEUSDT": 9_000_000},
		books:   map[string]*exchange.BookTicker{"WIDEUSDT": {Bid: 101.0, Ask: 101.2}},
	}

	result := newTestScanner(venueA, venueB).Scan(context.Background(), []string{"THINUSDT", "WIDEUSDT"}, testConfig())

	assert.Empty(t, result.Opportunities)
	reasons := map[string]ExclusionReason{}
	for _, e := range result.Excluded {
		reasons[e.Symbol] = e.Reason
	}
	assert.Equal(t, ReasonVolumeTooLow, reasons["THINUSDT"])
	assert.Equal(t, ReasonSpreadTooWide, reasons["WIDEUSDT"])
}

// TestScan_TimeoutExcludesOnlyThatSymbol tests that one slow symbol does not
// stall or poison the rest of the batch
func TestScan_TimeoutExcludesOnlyThatSymbol(t *testing.T) {
	venueA := &fakeVenue{
		venue:   exchange.VenueBybit,
		rates:   map[string]float64{"FASTUSDT": 0.0003, "SLOWUSDT": 0.0003},
		volumes: map[string]float64{"FASTUSDT": 9_000_000, "SLOWUSDT": 9_000_000},
		slow:    map[string]bool{"SLOWUSDT": true},
	}
	venueB := &fakeVenue{
		venue:   exchange.VenueAster,
		rates:   map[string]float64{"FASTUSDT": 0.0001, "SLOWUSDT": 0.0001},
		volumes: map[string]float64{"FASTUSDT": 9_000_000, "SLOWUSDT": 9_000_000},
	}

	config := testConfig()
	config.SymbolTimeout = 100 * time.Millisecond

	result := newTestScanner(venueA, venueB).Scan(context.Background(), []string{"FASTUSDT", "SLOWUSDT"}, config)

	require.Len(t, result.Opportunities, 1)
	assert.Equal(t, "FASTUSDT", result.Opportunities[0].Symbol)
	require.Len(t, result.Excluded, 1)
	assert.Equal(t, "SLOWUSDT", result.Excluded[0].Symbol)
	assert.Equal(t, ReasonTimeout, result.Excluded[0].Reason)
}

// TestScan_DeterministicRanking tests that identical market data yields an
// identical ranking, with volume breaking APR ties
func TestScan_DeterministicRanking(t *testing.T) {
	venueA := &fakeVenue{
		venue:   exchange.VenueBybit,
		rates:   map[string]float64{"AUSDT": 0.0003, "BUSDT": 0.0003, "CUSDT": 0.0004},
		volumes: map[string]float64{"AUSDT": 4_000_000, "BUSDT": 8_000_000, "CUSDT": 4_000_000},
	}
	venueB := &fakeVenue{
		venue:   exchange.VenueAster,
		rates:   map[string]float64{"AUSDT": 0.0001, "BUSDT": 0.0001, "CUSDT": 0.0001},
		volumes: map[string]float64{"AUSDT": 4_000_000, "BUSDT": 8_000_000, "CUSDT": 4_000_000},
	}

	scanner := newTestScanner(venueA, venueB)
	symbols := []string{"AUSDT", "BUSDT", "CUSDT"}

	first := scanner.Scan(context.Background(), symbols, testConfig())
	second := scanner.Scan(context.Background(), symbols, testConfig())

	require.Len(t, first.Opportunities, 3)
	assert.Equal(t, "CUSDT", first.Opportunities[0].Symbol)
	assert.Equal(t, "BUSDT", first.Opportunities[1].Symbol)
	assert.Equal(t, "AUSDT", first.Opportunities[2].Symbol)

	require.Len(t, second.Opportunities, 3)
	for i := range first.Opportunities {
		assert.Equal(t, first.Opportunities[i], second.Opportunities[i])
	}
}

// TestScan_MAWithCurrentSignVeto tests that the MA drives the ranking while a
// non-positive current rate still vetoes
func TestScan_MAWithCurrentSignVeto(t *testing.T) {
	history := func(rates ...float64) []exchange.FundingSample {
		samples := make([]exchange.FundingSample, len(rates))
		for i, r := range rates {
			samples[i] = exchange.FundingSample{Rate: r, PeriodHours: 8}
		}
		return samples
	}

	venueA := &fakeVenue{
		venue:   exchange.VenueBybit,
		rates:   map[string]float64{"MAUSDT": 0.0, "OKUSDT": 0.0004},
		volumes: map[string]float64{"MAUSDT": 9_000_000, "OKUSDT": 9_000_000},
		history: map[string][]exchange.FundingSample{
			"MAUSDT": history(0.0006, 0.0006, 0.0006),
			"OKUSDT": history(0.0004, 0.0004, 0.0004),
		},
	}
	venueB := &fakeVenue{
		venue:   exchange.VenueAster,
		rates:   map[string]float64{"MAUSDT": 0.0001, "OKUSDT": 0.0001},
		volumes: map[string]float64{"MAUSDT": 9_000_000, "OKUSDT": 9_000_000},
		history: map[string][]exchange.FundingSample{
			"MAUSDT": history(0.0001, 0.0001, 0.0001),
			"OKUSDT": history(0.0001, 0.0001, 0.0001),
		},
	}

	config := testConfig()
	config.UseFundingMA = true
	config.FundingMAPeriods = 3

	result := newTestScanner(venueA, venueB).Scan(context.Background(), []string{"MAUSDT", "OKUSDT"}, config)

	// MAUSDT has the best MA but its current short-venue rate is zero
	require.Len(t, result.Opportunities, 1)
	assert.Equal(t, "OKUSDT", result.Opportunities[0].Symbol)
	assert.True(t, result.Opportunities[0].UsingMA)

	require.Len(t, result.Excluded, 1)
	assert.Equal(t, ReasonNegativeRate, result.Excluded[0].Reason)
}

// TestUSD_AdaptiveUnits tests that sub-million amounts are not rounded to
// zero millions in exclusion details
func TestUSD_AdaptiveUnits(t *testing.T) {
	assert.Equal(t, "$250000", usd(250_000))
	assert.Equal(t, "$5M", usd(5_000_000))
	assert.Equal(t, "$1M", usd(1_000_000))
}
