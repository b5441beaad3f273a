package bybit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ducminhle1904/funding-arb-bot/internal/exchange"
)

// positionInfo is the slice of the v5 position payload the engine uses.
type positionInfo struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"` // "Buy", "Sell", or "" when flat
	Size          string `json:"size"`
	AvgPrice      string `json:"avgPrice"`
	Leverage      string `json:"leverage"`
	UnrealisedPnl string `json:"unrealisedPnl"`
}

// fetchPosition returns the one-way-mode position entry for a symbol, or nil
// when the venue reports no entry.
func (a *Adapter) fetchPosition(ctx context.Context, symbol string) (*positionInfo, error) {
	params := map[string]interface{}{
		"category": categoryLinear,
		"symbol":   symbol,
	}

	result, err := a.httpClient.NewUtaBybitServiceWithParams(params).GetPositionList(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get position list: %w", err)
	}

	resultBytes, err := a.serverResult(result)
	if err != nil {
		return nil, err
	}

	var positionResult struct {
		Category string         `json:"category"`
		List     []positionInfo `json:"list"`
	}
	if err := json.Unmarshal(resultBytes, &positionResult); err != nil {
		return nil, fmt.Errorf("failed to unmarshal position result: %w", err)
	}

	if len(positionResult.List) == 0 {
		return nil, nil
	}
	return &positionResult.List[0], nil
}

// OpenPositionSize returns the signed position size for a symbol: positive
// long, negative short, zero flat.
func (a *Adapter) OpenPositionSize(ctx context.Context, symbol string) (float64, error) {
	position, err := a.fetchPosition(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if position == nil {
		return 0, nil
	}

	size := parseFloat64(position.Size)
	if size == 0 {
		return 0, nil
	}
	if position.Side == "Sell" {
		return -size, nil
	}
	return size, nil
}

// SetLeverage sets both buy and sell leverage for a symbol. The venue
// rejects a set to the value already in effect; that is treated as success.
func (a *Adapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := map[string]interface{}{
		"category":     categoryLinear,
		"symbol":       symbol,
		"buyLeverage":  fmt.Sprintf("%d", leverage),
		"sellLeverage": fmt.Sprintf("%d", leverage),
	}

	result, err := a.httpClient.NewUtaBybitServiceWithParams(params).SetPositionLeverage(ctx)
	if err != nil {
		return fmt.Errorf("failed to set leverage: %w", err)
	}

	if _, err := a.serverResult(result); err != nil {
		if ve, ok := exchange.AsVenueError(err); ok && ve.Code == errCodeLeverageNotModified {
			return nil
		}
		return err
	}
	return nil
}

// GetLeverage returns the leverage currently set for a symbol. Flat symbols
// with no position entry report leverage 1.
func (a *Adapter) GetLeverage(ctx context.Context, symbol string) (int, error) {
	position, err := a.fetchPosition(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if position == nil {
		return 1, nil
	}

	leverage := int(parseFloat64(position.Leverage))
	if leverage < 1 {
		leverage = 1
	}
	return leverage, nil
}

// UnrealizedPnl returns the venue-reported unrealized PnL for a symbol, used
// by the realized-PnL-from-snapshot close path.
func (a *Adapter) UnrealizedPnl(ctx context.Context, symbol string) (float64, error) {
	position, err := a.fetchPosition(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if position == nil {
		return 0, nil
	}
	return parseFloat64(position.UnrealisedPnl), nil
}
