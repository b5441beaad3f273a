package aster

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ducminhle1904/funding-arb-bot/internal/exchange"
)

// metaCache caches exchangeInfo filters and advertised funding intervals.
// Both change rarely; entries are refreshed hourly.
type metaCache struct {
	adapter *Adapter

	mu               sync.RWMutex
	symbols          map[string]*exchange.SymbolMeta
	fundingIntervals map[string]float64
	fetchedAt        time.Time
	intervalsAt      time.Time
	ttl              time.Duration
}

func newMetaCache(adapter *Adapter) *metaCache {
	return &metaCache{
		adapter:          adapter,
		symbols:          make(map[string]*exchange.SymbolMeta),
		fundingIntervals: make(map[string]float64),
		ttl:              time.Hour,
	}
}

// SymbolMeta returns tick size, lot step, and minimum notional for a symbol
// from the cached exchangeInfo payload.
func (a *Adapter) SymbolMeta(ctx context.Context, symbol string) (*exchange.SymbolMeta, error) {
	a.meta.mu.RLock()
	meta, ok := a.meta.symbols[symbol]
	fresh := time.Since(a.meta.fetchedAt) < a.meta.ttl
	a.meta.mu.RUnlock()
	if ok && fresh {
		return meta, nil
	}

	if err := a.meta.refreshSymbols(ctx); err != nil {
		if ok {
			return meta, nil
		}
		return nil, err
	}

	a.meta.mu.RLock()
	meta, ok = a.meta.symbols[symbol]
	a.meta.mu.RUnlock()
	if !ok {
		return nil, exchange.NewVenueError(exchange.VenueAster, exchange.ErrNotFound, 0,
			fmt.Sprintf("symbol %s not in exchange info", symbol))
	}
	return meta, nil
}

// refreshSymbols reloads the full futures exchangeInfo payload.
func (m *metaCache) refreshSymbols(ctx context.Context) error {
	payload, err := m.adapter.futuresGet(ctx, "/fapi/v1/exchangeInfo", nil, false)
	if err != nil {
		return fmt.Errorf("failed to get exchange info: %w", err)
	}

	var info struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Status  string `json:"status"`
			Filters []struct {
				FilterType string `json:"filterType"`
				TickSize   string `json:"tickSize"`
				StepSize   string `json:"stepSize"`
				Notional   string `json:"notional"`
				MinQty     string `json:"minQty"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(payload, &info); err != nil {
		return fmt.Errorf("failed to decode exchange info: %w", err)
	}

	symbols := make(map[string]*exchange.SymbolMeta, len(info.Symbols))
	for _, s := range info.Symbols {
		meta := &exchange.SymbolMeta{Symbol: s.Symbol}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				meta.PriceTick = parseFloat64(f.TickSize)
			case "LOT_SIZE":
				meta.LotStep = parseFloat64(f.StepSize)
			case "MIN_NOTIONAL":
				meta.MinNotional = parseFloat64(f.Notional)
			}
		}
		symbols[s.Symbol] = meta
	}

	m.mu.Lock()
	m.symbols = symbols
	m.fetchedAt = time.Now()
	m.mu.Unlock()
	return nil
}

// fundingInterval returns the advertised funding interval in hours, or 0
// when the venue does not advertise one for the symbol.
func (m *metaCache) fundingInterval(ctx context.Context, symbol string) float64 {
	m.mu.RLock()
	hours, ok := m.fundingIntervals[symbol]
	fresh := time.Since(m.intervalsAt) < m.ttl
	m.mu.RUnlock()
	if ok && fresh {
		return hours
	}
	if fresh {
		return 0
	}

	payload, err := m.adapter.futuresGet(ctx, "/fapi/v1/fundingInfo", nil, false)
	if err != nil {
		return 0
	}

	var rows []struct {
		Symbol               string  `json:"symbol"`
		FundingIntervalHours float64 `json:"fundingIntervalHours"`
	}
	if err := json.Unmarshal(payload, &rows); err != nil {
		return 0
	}

	intervals := make(map[string]float64, len(rows))
	for _, row := range rows {
		intervals[row.Symbol] = row.FundingIntervalHours
	}

	m.mu.Lock()
	m.fundingIntervals = intervals
	m.intervalsAt = time.Now()
	m.mu.Unlock()
	return intervals[symbol]
}
