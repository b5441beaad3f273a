package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ducminhle1904/funding-arb-bot/internal/exchange"
)

// metaCache caches instrument metadata per symbol. Trading rules change
// rarely, so entries are refreshed at most once per hour.
type metaCache struct {
	adapter *Adapter

	mu      sync.RWMutex
	entries map[string]*metaEntry
	ttl     time.Duration
}

type metaEntry struct {
	meta      *exchange.SymbolMeta
	fetchedAt time.Time
}

func newMetaCache(adapter *Adapter) *metaCache {
	return &metaCache{
		adapter: adapter,
		entries: make(map[string]*metaEntry),
		ttl:     time.Hour,
	}
}

func (m *metaCache) get(ctx context.Context, symbol string) (*exchange.SymbolMeta, error) {
	m.mu.RLock()
	entry, ok := m.entries[symbol]
	m.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < m.ttl {
		return entry.meta, nil
	}

	meta, err := m.adapter.fetchSymbolMeta(ctx, symbol)
	if err != nil {
		// Serve a stale entry over failing the caller
		if ok {
			return entry.meta, nil
		}
		return nil, err
	}

	m.mu.Lock()
	m.entries[symbol] = &metaEntry{meta: meta, fetchedAt: time.Now()}
	m.mu.Unlock()
	return meta, nil
}

// SymbolMeta returns tick size, lot step, minimum notional, and the
// advertised funding interval for a symbol.
func (a *Adapter) SymbolMeta(ctx context.Context, symbol string) (*exchange.SymbolMeta, error) {
	return a.meta.get(ctx, symbol)
}

// FundingIntervalHours returns the funding period. Bybit advertises the
// interval in instrument metadata, so no history fallback is needed here.
func (a *Adapter) FundingIntervalHours(ctx context.Context, symbol string) (float64, error) {
	meta, err := a.meta.get(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if meta.FundingIntervalHours <= 0 {
		return 8, nil
	}
	return meta.FundingIntervalHours, nil
}

// fetchSymbolMeta queries instrument info for one symbol.
func (a *Adapter) fetchSymbolMeta(ctx context.Context, symbol string) (*exchange.SymbolMeta, error) {
	params := map[string]interface{}{
		"category": categoryLinear,
		"symbol":   symbol,
	}

	result, err := a.httpClient.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get instrument info: %w", err)
	}

	resultBytes, err := a.serverResult(result)
	if err != nil {
		return nil, err
	}

	var infoResult struct {
		Category string `json:"category"`
		List     []struct {
			Symbol          string `json:"symbol"`
			FundingInterval int    `json:"fundingInterval"` // minutes
			PriceFilter     struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
			LotSizeFilter struct {
				QtyStep          string `json:"qtyStep"`
				MinOrderQty      string `json:"minOrderQty"`
				MinNotionalValue string `json:"minNotionalValue"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}
	if err := json.Unmarshal(resultBytes, &infoResult); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instrument result: %w", err)
	}

	if len(infoResult.List) == 0 {
		return nil, exchange.NewVenueError(exchange.VenueBybit, exchange.ErrNotFound, 0,
			fmt.Sprintf("instrument %s not found", symbol))
	}

	info := infoResult.List[0]
	return &exchange.SymbolMeta{
		Symbol:               symbol,
		PriceTick:            parseFloat64(info.PriceFilter.TickSize),
		LotStep:              parseFloat64(info.LotSizeFilter.QtyStep),
		MinNotional:          parseFloat64(info.LotSizeFilter.MinNotionalValue),
		FundingIntervalHours: float64(info.FundingInterval) / 60,
	}, nil
}
