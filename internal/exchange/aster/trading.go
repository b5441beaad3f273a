package aster

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"

	"github.com/ducminhle1904/funding-arb-bot/internal/exchange"
	"github.com/ducminhle1904/funding-arb-bot/internal/ticks"
)

// orderAck is the acknowledgement payload for futures and spot orders.
type orderAck struct {
	OrderID     json.Number `json:"orderId"`
	Symbol      string      `json:"symbol"`
	Status      string      `json:"status"`
	ExecutedQty string      `json:"executedQty"`
	AvgPrice    string      `json:"avgPrice"`
}

func (a *Adapter) decodeAck(payload []byte, side exchange.OrderSide, qty float64) (*exchange.OrderResult, error) {
	var ack orderAck
	if err := json.Unmarshal(payload, &ack); err != nil {
		return nil, fmt.Errorf("failed to decode order ack: %w", err)
	}
	return &exchange.OrderResult{
		OrderID: ack.OrderID.String(),
		Symbol:  ack.Symbol,
		Side:    side,
		Qty:     qty,
		Price:   parseFloat64(ack.AvgPrice),
		Status:  ack.Status,
	}, nil
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
		return nil, exchange.NewVenueError(exchange.VenueAster, exchange.ErrVenueReject, 0,
			fmt.Sprintf("aggressive price %.8f not positive for %s", price, symbol))
	}

	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("side", sideParam(side))
	query.Set("type", "LIMIT")
	query.Set("timeInForce", "GTC")
	query.Set("quantity", ticks.FormatToStep(sizeBase, meta.LotStep))
	query.Set("price", ticks.FormatToStep(price, meta.PriceTick))

	payload, err := a.futuresPost(ctx, "/fapi/v1/order", query)
	if err != nil {
		return nil, fmt.Errorf("failed to place order: %w", err)
	}
	return a.decodeAck(payload, side, sizeBase)
}

// PlaceMarket submits a market order sized in base asset.
func (a *Adapter) PlaceMarket(ctx context.Context, symbol string, side exchange.OrderSide, sizeBase float64) (*exchange.OrderResult, error) {
	meta, err := a.SymbolMeta(ctx, symbol)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("side", sideParam(side))
	query.Set("type", "MARKET")
	query.Set("quantity", ticks.FormatToStep(sizeBase, meta.LotStep))

	payload, err := a.futuresPost(ctx, "/fapi/v1/order", query)
	if err != nil {
		return nil, fmt.Errorf("failed to place order: %w", err)
	}
	return a.decodeAck(payload, side, sizeBase)
}

// PlaceMarketQuote submits a market order sized in quote currency, converted
// to base at the current touch price and floored to the lot step.
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
		return nil, exchange.NewVenueError(exchange.VenueAster, exchange.ErrMinimumSize, 0,
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

	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("side", sideParam(side))
	query.Set("type", "MARKET")
	query.Set("quantity", ticks.FormatToStep(math.Abs(size), meta.LotStep))
	query.Set("reduceOnly", "true")

	if _, err := a.futuresPost(ctx, "/fapi/v1/order", query); err != nil {
		return fmt.Errorf("failed to close %s: %w", symbol, err)
	}
	return nil
}

// SpotBalance returns the free spot balance of a base asset.
func (a *Adapter) SpotBalance(ctx context.Context, asset string) (float64, error) {
	payload, err := a.spotGet(ctx, "/api/v1/account", nil, true)
	if err != nil {
		return 0, fmt.Errorf("failed to get spot account: %w", err)
	}

	var account struct {
		Balances []struct {
			Asset string `json:"asset"`
			Free  string `json:"free"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(payload, &account); err != nil {
		return 0, fmt.Errorf("failed to decode spot account: %w", err)
	}

	for _, balance := range account.Balances {
		if balance.Asset == asset {
			return parseFloat64(balance.Free), nil
		}
	}
	return 0, nil
}

// PlaceSpotMarketQuote buys or sells spot sized in quote currency.
func (a *Adapter) PlaceSpotMarketQuote(ctx context.Context, symbol string, side exchange.OrderSide, quoteQty float64) (*exchange.OrderResult, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("side", sideParam(side))
	query.Set("type", "MARKET")
	query.Set("quoteOrderQty", strconv.FormatFloat(quoteQty, 'f', 2, 64))

	payload, err := a.spotPost(ctx, "/api/v1/order", query)
	if err != nil {
		return nil, fmt.Errorf("failed to place spot order: %w", err)
	}
	return a.decodeAck(payload, side, 0)
}

// PlaceSpotMarket buys or sells spot sized in base asset.
func (a *Adapter) PlaceSpotMarket(ctx context.Context, symbol string, side exchange.OrderSide, sizeBase float64) (*exchange.OrderResult, error) {
	meta, err := a.SymbolMeta(ctx, symbol)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("side", sideParam(side))
	query.Set("type", "MARKET")
	query.Set("quantity", ticks.FormatToStep(sizeBase, meta.LotStep))

	payload, err := a.spotPost(ctx, "/api/v1/order", query)
	if err != nil {
		return nil, fmt.Errorf("failed to place spot order: %w", err)
	}
	return a.decodeAck(payload, side, sizeBase)
}
