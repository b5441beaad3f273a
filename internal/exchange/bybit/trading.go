package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/ducminhle1904/funding-arb-bot/internal/exchange"
	"github.com/ducminhle1904/funding-arb-bot/internal/ticks"
)

// placeOrder submits an order through the SDK and returns the acknowledged
// order ID.
func (a *Adapter) placeOrder(ctx context.Context, apiParams map[string]interface{}) (string, error) {
	result, err := a.httpClient.NewUtaBybitServiceWithParams(apiParams).PlaceOrder(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to place order: %w", err)
	}

	resultBytes, err := a.serverResult(result)
	if err != nil {
		return "", err
	}

	var orderResult struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := json.Unmarshal(resultBytes, &orderResult); err != nil {
		return "", fmt.Errorf("failed to unmarshal order result: %w", err)
	}
	return orderResult.OrderID, nil
}

// PlaceAggressiveLimit submits a marketable limit order priced crossTicks
// ticks through the reference price.
func (a *Adapter) PlaceAggressiveLimit(ctx context.Context, symbol string, side exchange.OrderSide, sizeBase, refPrice float64, crossTicks int) (*exchange.OrderResult, error) {
	meta, err := a.SymbolMeta(ctx, symbol)
	if err != nil {
		return nil, err
	}

	price := refPrice + float64(crossTicks)*meta.PriceTick
	if side == exchange.OrderSideSell {
		price = refPrice - float64(crossTicks)*meta.PriceTick
	}
	if price <= 0 {
		return nil, exchange.NewVenueError(exchange.VenueBybit, exchange.ErrVenueReject, 0,
			fmt.Sprintf("aggressive price %.8f not positive for %s", price, symbol))
	}

	apiParams := map[string]interface{}{
		"category":    categoryLinear,
		"symbol":      symbol,
		"side":        string(side),
		"orderType":   "Limit",
		"qty":         ticks.FormatToStep(sizeBase, meta.LotStep),
		"price":       ticks.FormatToStep(price, meta.PriceTick),
		"timeInForce": "GTC",
	}

	orderID, err := a.placeOrder(ctx, apiParams)
	if err != nil {
		return nil, err
	}

	return &exchange.OrderResult{
		OrderID: orderID,
		Symbol:  symbol,
		Side:    side,
		Qty:     sizeBase,
		Price:   price,
		Status:  "Submitted",
	}, nil
}

// PlaceMarket submits a market order sized in base asset.
func (a *Adapter) PlaceMarket(ctx context.Context, symbol string, side exchange.OrderSide, sizeBase float64) (*exchange.OrderResult, error) {
	meta, err := a.SymbolMeta(ctx, symbol)
	if err != nil {
		return nil, err
	}

	apiParams := map[string]interface{}{
		"category":  categoryLinear,
		"symbol":    symbol,
		"side":      string(side),
		"orderType": "Market",
		"qty":       ticks.FormatToStep(sizeBase, meta.LotStep),
	}

	orderID, err := a.placeOrder(ctx, apiParams)
	if err != nil {
		return nil, err
	}

	return &exchange.OrderResult{
		OrderID: orderID,
		Symbol:  symbol,
		Side:    side,
		Qty:     sizeBase,
		Status:  "Submitted",
	}, nil
}

// PlaceMarketQuote submits a market order sized in quote currency. Linear
// contracts are sized in base asset, so the quote amount is converted at the
// current touch price and floored to the lot step.
func (a *Adapter) PlaceMarketQuote(ctx context.Context, symbol string, side exchange.OrderSide, quoteQty float64) (*exchange.OrderResult, error) {
	book, err := a.BestBidAsk(ctx, symbol)
	if err != nil {
		return nil, err
	}
	meta, err := a.SymbolMeta(ctx, symbol)
	if err != nil {
		return nil, err
	}

	price := book.Ask
	if side == exchange.OrderSideSell {
		price = book.Bid
	}
	sizeBase := ticks.FloorTo(quoteQty/price, meta.LotStep)
	if sizeBase <= 0 {
		return nil, exchange.NewVenueError(exchange.VenueBybit, exchange.ErrMinimumSize, 0,
			fmt.Sprintf("quote qty %.2f converts below lot step for %s", quoteQty, symbol))
	}

	return a.PlaceMarket(ctx, symbol, side, sizeBase)
}

// ClosePosition flattens any open position in the symbol with a reduce-only
// market order. Closing a flat symbol is a no-op.
func (a *Adapter) ClosePosition(ctx context.Context, symbol string) error {
	size, err := a.OpenPositionSize(ctx, symbol)
	if err != nil {
		return err
	}
	if size == 0 {
		return nil
	}

	side := exchange.OrderSideSell
	if size < 0 {
		side = exchange.OrderSideBuy
	}

	meta, err := a.SymbolMeta(ctx, symbol)
	if err != nil {
		return err
	}

	apiParams := map[string]interface{}{
		"category":   categoryLinear,
		"symbol":     symbol,
		"side":       string(side),
		"orderType":  "Market",
		"qty":        ticks.FormatToStep(math.Abs(size), meta.LotStep),
		"reduceOnly": true,
	}

	if _, err := a.placeOrder(ctx, apiParams); err != nil {
		return fmt.Errorf("failed to close %s: %w", symbol, err)
	}
	return nil
}
