package aster

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"time"

	"github.com/ducminhle1904/funding-arb-bot/internal/exchange"
)

// AccountBalance returns total margin balance and available balance of the
// futures account in USD terms.
func (a *Adapter) AccountBalance(ctx context.Context) (*exchange.Balance, error) {
	payload, err := a.futuresGet(ctx, "/fapi/v2/account", nil, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	var account struct {
		TotalMarginBalance string `json:"totalMarginBalance"`
		TotalWalletBalance string `json:"totalWalletBalance"`
		AvailableBalance   string `json:"availableBalance"`
	}
	if err := json.Unmarshal(payload, &account); err != nil {
		return nil, fmt.Errorf("failed to decode account: %w", err)
	}

	total := parseFloat64(account.TotalMarginBalance)
	if total == 0 {
		total = parseFloat64(account.TotalWalletBalance)
	}

	return &exchange.Balance{
		Total:     total,
		Available: parseFloat64(account.AvailableBalance),
	}, nil
}

// positionRisk is the slice of the position-risk payload the engine uses.
type positionRisk struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	Leverage         string `json:"leverage"`
	UnRealizedProfit string `json:"unRealizedProfit"`
}

func (a *Adapter) fetchPositionRisk(ctx context.Context, symbol string) (*positionRisk, error) {
	query := url.Values{}
	query.Set("symbol", symbol)

	payload, err := a.futuresGet(ctx, "/fapi/v2/positionRisk", query, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get position risk: %w", err)
	}

	var rows []positionRisk
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode position risk: %w", err)
	}

	for i := range rows {
		if rows[i].Symbol == symbol {
			return &rows[i], nil
		}
	}
	return nil, nil
}

// OpenPositionSize returns the signed position size for a symbol: positive
// long, negative short, zero flat.
func (a *Adapter) OpenPositionSize(ctx context.Context, symbol string) (float64, error) {
	position, err := a.fetchPositionRisk(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if position == nil {
		return 0, nil
	}
	return parseFloat64(position.PositionAmt), nil
}

// SetLeverage sets the leverage for a symbol.
func (a *Adapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("leverage", strconv.Itoa(leverage))

	if _, err := a.futuresPost(ctx, "/fapi/v1/leverage", query); err != nil {
		return fmt.Errorf("failed to set leverage: %w", err)
	}
	return nil
}

// GetLeverage returns the leverage currently set for a symbol.
func (a *Adapter) GetLeverage(ctx context.Context, symbol string) (int, error) {
	position, err := a.fetchPositionRisk(ctx, symbol)
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

// UnrealizedPnl returns the venue-reported unrealized PnL for a symbol.
func (a *Adapter) UnrealizedPnl(ctx context.Context, symbol string) (float64, error) {
	position, err := a.fetchPositionRisk(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if position == nil {
		return 0, nil
	}
	return parseFloat64(position.UnRealizedProfit), nil
}

// FundingSince sums FUNDING_FEE income records for a symbol since the given
// time. Positive values are funding received.
func (a *Adapter) FundingSince(ctx context.Context, symbol string, since time.Time) (float64, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("incomeType", "FUNDING_FEE")
	query.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
	query.Set("limit", "1000")

	payload, err := a.futuresGet(ctx, "/fapi/v1/income", query, true)
	if err != nil {
		return 0, fmt.Errorf("failed to get income history: %w", err)
	}

	var rows []struct {
		Symbol     string `json:"symbol"`
		IncomeType string `json:"incomeType"`
		Income     string `json:"income"`
		Time       int64  `json:"time"`
	}
	if err := json.Unmarshal(payload, &rows); err != nil {
		return 0, fmt.Errorf("failed to decode income history: %w", err)
	}

	total := 0.0
	for _, row := range rows {
		if row.Symbol != symbol || row.IncomeType != "FUNDING_FEE" {
			continue
		}
		income := parseFloat64(row.Income)
		if math.IsNaN(income) {
			continue
		}
		total += income
	}
	return total, nil
}
