// Package scanner ranks candidate symbols by the net funding APR available
// from a delta-neutral position across the two venues.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ducminhle1904/funding-arb-bot/internal/exchange"
	"github.com/ducminhle1904/funding-arb-bot/internal/safety"
)

// ExclusionReason is the single-line diagnostic for a symbol that did not
// make the ranking.
type ExclusionReason string

const (
	ReasonVolumeTooLow      ExclusionReason = "VOLUME_TOO_LOW"
	ReasonSpreadTooWide     ExclusionReason = "SPREAD_TOO_WIDE"
	ReasonNegativeRate      ExclusionReason = "NEGATIVE_RATE"
	ReasonDataUnavailable   ExclusionReason = "DATA_UNAVAILABLE"
	ReasonTimeout           ExclusionReason = "TIMEOUT"
	ReasonBelowAPRThreshold ExclusionReason = "BELOW_APR_THRESHOLD"
)

// Opportunity is one eligible delta-neutral setup.
type Opportunity struct {
	Symbol               string         `json:"symbol"`
	LongVenue            exchange.Venue `json:"long_venue"`
	ShortVenue           exchange.Venue `json:"short_venue"`
	LongAPR              float64        `json:"long_apr"`
	ShortAPR             float64        `json:"short_apr"`
	NetAPR               float64        `json:"net_apr"`
	Combined24hVolumeUSD float64        `json:"combined_24h_volume_usd"`
	CrossSpreadPct       float64        `json:"cross_spread_pct"`
	FundingFreqPerDay    float64        `json:"funding_freq_per_day"`
	UsingMA              bool           `json:"using_ma"`

	// current (not MA) decimal rates per period, for display and the
	// expected-funding fields of an opened position
	ShortVenueRate float64 `json:"short_venue_rate"`
	LongVenueRate  float64 `json:"long_venue_rate"`
}

// Exclusion records why a symbol was dropped from this scan.
type Exclusion struct {
	Symbol string          `json:"symbol"`
	Reason ExclusionReason `json:"reason"`
	Detail string          `json:"detail,omitempty"`
}

// Result is a completed scan: ranked opportunities plus the excluded list.
type Result struct {
	Opportunities []Opportunity `json:"opportunities"`
	Excluded      []Exclusion   `json:"excluded"`
	ScannedAt     time.Time     `json:"scanned_at"`
}

// Best returns the top-ranked opportunity, or nil when none is eligible.
func (r *Result) Best() *Opportunity {
	if len(r.Opportunities) == 0 {
		return nil
	}
	return &r.Opportunities[0]
}

// BestExcluding returns the top-ranked opportunity for a different symbol,
// used by the hold monitor's rotation rule.
func (r *Result) BestExcluding(symbol string) *Opportunity {
	for i := range r.Opportunities {
		if r.Opportunities[i].Symbol != symbol {
			return &r.Opportunities[i]
		}
	}
	return nil
}

// Config holds the scanner thresholds.
type Config struct {
	MinFundingAPR    float64
	MinVolumeUSD     float64
	MaxSpreadPct     float64
	UseFundingMA     bool
	FundingMAPeriods int
	SymbolTimeout    time.Duration
	StaggerDelay     time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.SymbolTimeout <= 0 {
		out.SymbolTimeout = 90 * time.Second
	}
	if out.StaggerDelay < 0 {
		out.StaggerDelay = 0
	}
	if out.FundingMAPeriods < 2 {
		out.FundingMAPeriods = 2
	}
	return out
}

// Scanner fans out funding, volume, and spread fetches across the candidate
// set under the rate-limit discipline and emits a deterministic ranking.
type Scanner struct {
	venueA exchange.Adapter
	venueB exchange.Adapter
	coord  *safety.Coordinator
	log    zerolog.Logger
}

// New creates a scanner over the two venue adapters.
func New(venueA, venueB exchange.Adapter, coord *safety.Coordinator, log zerolog.Logger) *Scanner {
	return &Scanner{
		venueA: venueA,
		venueB: venueB,
		coord:  coord,
		log:    log.With().Str("component", "scanner").Logger(),
	}
}

// Scan evaluates every candidate symbol concurrently with staggered starts
// and a per-symbol timeout, so one slow symbol never stalls the batch.
func (s *Scanner) Scan(ctx context.Context, symbols []string, config Config) *Result {
	config = config.withDefaults()

	type indexed struct {
		index       int
		opportunity *Opportunity
		exclusion   *Exclusion
	}

	results := make([]indexed, len(symbols))
	var wg sync.WaitGroup
	for i, symbol := range symbols {
		wg.Add(1)
		go func(idx int, symbol string) {
			defer wg.Done()

			if delay := time.Duration(idx) * config.StaggerDelay; delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					results[idx] = indexed{idx, nil, &Exclusion{Symbol: symbol, Reason: ReasonTimeout, Detail: ctx.Err().Error()}}
					return
				}
			}

			symbolCtx, cancel := context.WithTimeout(ctx, config.SymbolTimeout)
			defer cancel()

			opportunity, exclusion := s.scanSymbol(symbolCtx, symbol, config)
			results[idx] = indexed{idx, opportunity, exclusion}
		}(i, symbol)
	}
	wg.Wait()

	result := &Result{ScannedAt: time.Now().UTC()}
	for _, r := range results {
		if r.opportunity != nil {
			result.Opportunities = append(result.Opportunities, *r.opportunity)
		} else if r.exclusion != nil {
			result.Excluded = append(result.Excluded, *r.exclusion)
		}
	}

	// net APR descending, ties by combined volume then symbol
	sort.SliceStable(result.Opportunities, func(i, j int) bool {
		a, b := result.Opportunities[i], result.Opportunities[j]
		if a.NetAPR != b.NetAPR {
			return a.NetAPR > b.NetAPR
		}
		if a.Combined24hVolumeUSD != b.Combined24hVolumeUSD {
			return a.Combined24hVolumeUSD > b.Combined24hVolumeUSD
		}
		return a.Symbol < b.Symbol
	})
	sort.SliceStable(result.Excluded, func(i, j int) bool {
		return result.Excluded[i].Symbol < result.Excluded[j].Symbol
	})

	s.log.Info().
		Int("eligible", len(result.Opportunities)).
		Int("excluded", len(result.Excluded)).
		Msg("scan complete")
	return result
}

// symbolData is everything scanSymbol fetches per venue.
type symbolData struct {
	funding *exchange.FundingSample
	volume  float64
	book    *exchange.BookTicker
	err     error
}

func (s *Scanner) fetchVenue(ctx context.Context, adapter exchange.Adapter, symbol string) symbolData {
	var data symbolData
	venue := adapter.Name()

	if err := s.coord.Call(ctx, venue, "funding", func() error {
		funding, err := adapter.CurrentFundingRate(ctx, symbol)
		data.funding = funding
		return err
	}); err != nil {
		data.err = err
		return data
	}

	if err := s.coord.Call(ctx, venue, "volume", func() error {
		volume, err := adapter.QuoteVolume24h(ctx, symbol)
		data.volume = volume
		return err
	}); err != nil {
		data.err = err
		return data
	}

	if err := s.coord.Call(ctx, venue, "book", func() error {
		book, err := adapter.BestBidAsk(ctx, symbol)
		data.book = book
		return err
	}); err != nil {
		data.err = err
	}
	return data
}

// maRate returns the arithmetic mean of the most recent n historical rates,
// falling back to the current rate when history is unavailable.
func (s *Scanner) maRate(ctx context.Context, adapter exchange.Adapter, symbol string, n int, current float64) float64 {
	var samples []exchange.FundingSample
	err := s.coord.Call(ctx, adapter.Name(), "funding_history", func() error {
		var err error
		samples, err = adapter.FundingRateHistory(ctx, symbol, n)
		return err
	})
	if err != nil || len(samples) == 0 {
		return current
	}
	if len(samples) > n {
		samples = samples[:n]
	}
	sum := 0.0
	for _, sample := range samples {
		sum += sample.Rate
	}
	return sum / float64(len(samples))
}

func (s *Scanner) scanSymbol(ctx context.Context, symbol string, config Config) (*Opportunity, *Exclusion) {
	var dataA, dataB symbolData
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); dataA = s.fetchVenue(ctx, s.venueA, symbol) }()
	go func() { defer wg.Done(); dataB = s.fetchVenue(ctx, s.venueB, symbol) }()
	wg.Wait()

	if err := errors.Join(dataA.err, dataB.err); err != nil {
		reason := ReasonDataUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			reason = ReasonTimeout
		}
		return nil, &Exclusion{Symbol: symbol, Reason: reason, Detail: err.Error()}
	}

	combinedVolume := dataA.volume + dataB.volume
	if combinedVolume < config.MinVolumeUSD {
		return nil, &Exclusion{
			Symbol: symbol,
			Reason: ReasonVolumeTooLow,
			Detail: fmt.Sprintf("%s < %s", usd(combinedVolume), usd(config.MinVolumeUSD)),
		}
	}

	midA, midB := dataA.book.Mid(), dataB.book.Mid()
	avgMid := (midA + midB) / 2
	spreadPct := 0.0
	if avgMid > 0 {
		diff := midA - midB
		if diff < 0 {
			diff = -diff
		}
		spreadPct = diff / avgMid * 100
	}
	if spreadPct > config.MaxSpreadPct {
		return nil, &Exclusion{
			Symbol: symbol,
			Reason: ReasonSpreadTooWide,
			Detail: fmt.Sprintf("%.3f%% > %.2f%%", spreadPct, config.MaxSpreadPct),
		}
	}

	currentRateA, currentRateB := dataA.funding.Rate, dataB.funding.Rate
	decisionRateA, decisionRateB := currentRateA, currentRateB
	if config.UseFundingMA {
		decisionRateA = s.maRate(ctx, s.venueA, symbol, config.FundingMAPeriods, currentRateA)
		decisionRateB = s.maRate(ctx, s.venueB, symbol, config.FundingMAPeriods, currentRateB)
	}

	aprA := exchange.FundingSample{Rate: decisionRateA, PeriodHours: dataA.funding.PeriodHours}.APR()
	aprB := exchange.FundingSample{Rate: decisionRateB, PeriodHours: dataB.funding.PeriodHours}.APR()

	// net APR of "long A, short B" is aprB - aprA and vice versa
	longAShortB := aprB - aprA
	longBShortA := aprA - aprB

	opportunity := &Opportunity{
		Symbol:               symbol,
		Combined24hVolumeUSD: combinedVolume,
		CrossSpreadPct:       spreadPct,
		UsingMA:              config.UseFundingMA,
	}
	if longAShortB >= longBShortA {
		opportunity.LongVenue = s.venueA.Name()
		opportunity.ShortVenue = s.venueB.Name()
		opportunity.NetAPR = longAShortB
		opportunity.LongAPR = aprA
		opportunity.ShortAPR = aprB
		opportunity.LongVenueRate = currentRateA
		opportunity.ShortVenueRate = currentRateB
		opportunity.FundingFreqPerDay = 24 / dataB.funding.PeriodHours
	} else {
		opportunity.LongVenue = s.venueB.Name()
		opportunity.ShortVenue = s.venueA.Name()
		opportunity.NetAPR = longBShortA
		opportunity.LongAPR = aprB
		opportunity.ShortAPR = aprA
		opportunity.LongVenueRate = currentRateB
		opportunity.ShortVenueRate = currentRateA
		opportunity.FundingFreqPerDay = 24 / dataA.funding.PeriodHours
	}

	// The live (not MA) rates decide eligibility: the short leg only earns
	// while its current rate is positive, and a negative current rate on
	// either venue vetoes regardless of the MA ranking.
	if opportunity.ShortVenueRate <= 0 || opportunity.LongVenueRate < 0 {
		return nil, &Exclusion{
			Symbol: symbol,
			Reason: ReasonNegativeRate,
			Detail: fmt.Sprintf("current rates %.6f / %.6f", currentRateA, currentRateB),
		}
	}

	if opportunity.NetAPR < config.MinFundingAPR {
		return nil, &Exclusion{
			Symbol: symbol,
			Reason: ReasonBelowAPRThreshold,
			Detail: fmt.Sprintf("%.2f%% < %.2f%%", opportunity.NetAPR, config.MinFundingAPR),
		}
	}

	return opportunity, nil
}

// usd renders a dollar amount, in millions only once it is large enough to
// read that way.
func usd(v float64) string {
	if v >= 1e6 {
		return fmt.Sprintf("$%.0fM", v/1e6)
	}
	return fmt.Sprintf("$%.0f", v)
}
