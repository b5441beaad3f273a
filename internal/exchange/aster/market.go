package aster

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/ducminhle1904/funding-arb-bot/internal/exchange"
)

// BestBidAsk returns the current top of book for a perp symbol.
func (a *Adapter) BestBidAsk(ctx context.Context, symbol string) (*exchange.BookTicker, error) {
	query := url.Values{}
	query.Set("symbol", symbol)

	payload, err := a.futuresGet(ctx, "/fapi/v1/ticker/bookTicker", query, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get book ticker: %w", err)
	}

	var ticker struct {
		Symbol   string `json:"symbol"`
		BidPrice string `json:"bidPrice"`
		BidQty   string `json:"bidQty"`
		AskPrice string `json:"askPrice"`
		AskQty   string `json:"askQty"`
	}
	if err := json.Unmarshal(payload, &ticker); err != nil {
		return nil, fmt.Errorf("failed to decode book ticker: %w", err)
	}

	bid := parseFloat64(ticker.BidPrice)
	ask := parseFloat64(ticker.AskPrice)
	if bid <= 0 || ask <= 0 {
		return nil, exchange.NewVenueError(exchange.VenueAster, exchange.ErrNotFound, 0,
			fmt.Sprintf("empty book for %s", symbol))
	}

	return &exchange.BookTicker{
		Symbol: symbol,
		Bid:    bid,
		Ask:    ask,
		BidQty: parseFloat64(ticker.BidQty),
		AskQty: parseFloat64(ticker.AskQty),
	}, nil
}

// CurrentFundingRate returns the live funding rate from the premium index
// with the symbol's detected funding period.
func (a *Adapter) CurrentFundingRate(ctx context.Context, symbol string) (*exchange.FundingSample, error) {
	query := url.Values{}
	query.Set("symbol", symbol)

	payload, err := a.futuresGet(ctx, "/fapi/v1/premiumIndex", query, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get premium index: %w", err)
	}

	var premium struct {
		Symbol          string `json:"symbol"`
		LastFundingRate string `json:"lastFundingRate"`
		NextFundingTime int64  `json:"nextFundingTime"`
	}
	if err := json.Unmarshal(payload, &premium); err != nil {
		return nil, fmt.Errorf("failed to decode premium index: %w", err)
	}

	period, err := a.FundingIntervalHours(ctx, symbol)
	if err != nil {
		return nil, err
	}

	return &exchange.FundingSample{
		Symbol:      symbol,
		Rate:        parseFloat64(premium.LastFundingRate),
		PeriodHours: period,
		Timestamp:   time.Now().UTC(),
	}, nil
}

// FundingRateHistory returns up to n most recent settled funding samples,
// newest first.
func (a *Adapter) FundingRateHistory(ctx context.Context, symbol string, n int) ([]exchange.FundingSample, error) {
	if n <= 0 {
		n = 20
	}
	if n > 1000 {
		n = 1000
	}

	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("limit", strconv.Itoa(n))

	payload, err := a.futuresGet(ctx, "/fapi/v1/fundingRate", query, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get funding history: %w", err)
	}

	var rows []struct {
		Symbol      string `json:"symbol"`
		FundingRate string `json:"fundingRate"`
		FundingTime int64  `json:"fundingTime"`
	}
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode funding history: %w", err)
	}

	period := modalIntervalHours(fundingTimes(rows))

	// venue returns oldest first; the contract is newest first
	samples := make([]exchange.FundingSample, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		samples = append(samples, exchange.FundingSample{
			Symbol:      symbol,
			Rate:        parseFloat64(rows[i].FundingRate),
			PeriodHours: period,
			Timestamp:   time.UnixMilli(rows[i].FundingTime).UTC(),
		})
	}
	return samples, nil
}

func fundingTimes(rows []struct {
	Symbol      string `json:"symbol"`
	FundingRate string `json:"fundingRate"`
	FundingTime int64  `json:"fundingTime"`
}) []int64 {
	ts := make([]int64, 0, len(rows))
	for _, row := range rows {
		ts = append(ts, row.FundingTime)
	}
	return ts
}

// modalIntervalHours infers the funding period as the most common difference
// of consecutive settlement timestamps, in hours. Returns 8 when fewer than
// two timestamps are available.
func modalIntervalHours(ts []int64) float64 {
	if len(ts) < 2 {
		return 8
	}
	counts := make(map[int64]int)
	for i := 0; i+1 < len(ts); i++ {
		diff := ts[i+1] - ts[i]
		if diff < 0 {
			diff = -diff
		}
		hours := (diff + 30*60*1000) / (60 * 60 * 1000)
		if hours > 0 {
			counts[hours]++
		}
	}
	var best int64
	bestCount := 0
	for hours, count := range counts {
		if count > bestCount || (count == bestCount && hours < best) {
			best = hours
			bestCount = count
		}
	}
	if best == 0 {
		return 8
	}
	return float64(best)
}

// FundingIntervalHours returns the funding period: the advertised interval
// from fundingInfo when present, otherwise the modal difference of recent
// settlement timestamps, otherwise 8h.
func (a *Adapter) FundingIntervalHours(ctx context.Context, symbol string) (float64, error) {
	if hours := a.meta.fundingInterval(ctx, symbol); hours > 0 {
		return hours, nil
	}

	samples, err := a.FundingRateHistory(ctx, symbol, 10)
	if err != nil {
		return 0, err
	}
	if len(samples) >= 2 {
		return samples[0].PeriodHours, nil
	}
	return 8, nil
}

// QuoteVolume24h returns the rolling 24h quote volume for a perp symbol.
func (a *Adapter) QuoteVolume24h(ctx context.Context, symbol string) (float64, error) {
	query := url.Values{}
	query.Set("symbol", symbol)

	payload, err := a.futuresGet(ctx, "/fapi/v1/ticker/24hr", query, false)
	if err != nil {
		return 0, fmt.Errorf("failed to get 24h ticker: %w", err)
	}

	var ticker struct {
		Symbol      string `json:"symbol"`
		QuoteVolume string `json:"quoteVolume"`
	}
	if err := json.Unmarshal(payload, &ticker); err != nil {
		return 0, fmt.Errorf("failed to decode 24h ticker: %w", err)
	}
	return parseFloat64(ticker.QuoteVolume), nil
}
