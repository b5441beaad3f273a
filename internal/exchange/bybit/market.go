package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ducminhle1904/funding-arb-bot/internal/exchange"
)

// linearTicker is the slice of the v5 ticker payload the engine uses.
type linearTicker struct {
	Symbol          string `json:"symbol"`
	LastPrice       string `json:"lastPrice"`
	Bid1Price       string `json:"bid1Price"`
	Bid1Size        string `json:"bid1Size"`
	Ask1Price       string `json:"ask1Price"`
	Ask1Size        string `json:"ask1Size"`
	FundingRate     string `json:"fundingRate"`
	NextFundingTime string `json:"nextFundingTime"`
	Volume24h       string `json:"volume24h"`
	Turnover24h     string `json:"turnover24h"`
}

// fetchTicker retrieves the full linear ticker for a symbol.
func (a *Adapter) fetchTicker(ctx context.Context, symbol string) (*linearTicker, error) {
	params := map[string]interface{}{
		"category": categoryLinear,
		"symbol":   symbol,
	}

	result, err := a.httpClient.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get tickers: %w", err)
	}

	resultBytes, err := a.serverResult(result)
	if err != nil {
		return nil, err
	}

	var tickerResult struct {
		Category string         `json:"category"`
		List     []linearTicker `json:"list"`
	}
	if err := json.Unmarshal(resultBytes, &tickerResult); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ticker result: %w", err)
	}

	if len(tickerResult.List) == 0 {
		return nil, exchange.NewVenueError(exchange.VenueBybit, exchange.ErrNotFound, 0,
			fmt.Sprintf("no ticker data for %s", symbol))
	}
	return &tickerResult.List[0], nil
}

// BestBidAsk returns the current top of book for a symbol.
func (a *Adapter) BestBidAsk(ctx context.Context, symbol string) (*exchange.BookTicker, error) {
	ticker, err := a.fetchTicker(ctx, symbol)
	if err != nil {
		return nil, err
	}

	bid := parseFloat64(ticker.Bid1Price)
	ask := parseFloat64(ticker.Ask1Price)
	if bid <= 0 || ask <= 0 {
		return nil, exchange.NewVenueError(exchange.VenueBybit, exchange.ErrNotFound, 0,
			fmt.Sprintf("empty book for %s", symbol))
	}

	return &exchange.BookTicker{
		Symbol: symbol,
		Bid:    bid,
		Ask:    ask,
		BidQty: parseFloat64(ticker.Bid1Size),
		AskQty: parseFloat64(ticker.Ask1Size),
	}, nil
}

// CurrentFundingRate returns the live funding rate with the symbol's
// detected funding period.
func (a *Adapter) CurrentFundingRate(ctx context.Context, symbol string) (*exchange.FundingSample, error) {
	ticker, err := a.fetchTicker(ctx, symbol)
	if err != nil {
		return nil, err
	}

	period, err := a.FundingIntervalHours(ctx, symbol)
	if err != nil {
		return nil, err
	}

	return &exchange.FundingSample{
		Symbol:      symbol,
		Rate:        parseFloat64(ticker.FundingRate),
		PeriodHours: period,
		Timestamp:   time.Now().UTC(),
	}, nil
}

// QuoteVolume24h returns the rolling 24h turnover in quote currency.
func (a *Adapter) QuoteVolume24h(ctx context.Context, symbol string) (float64, error) {
	ticker, err := a.fetchTicker(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return parseFloat64(ticker.Turnover24h), nil
}
