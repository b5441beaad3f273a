package bybit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ducminhle1904/funding-arb-bot/internal/exchange"
)

// AccountBalance returns total equity and available balance of the unified
// account in USD terms.
func (a *Adapter) AccountBalance(ctx context.Context) (*exchange.Balance, error) {
	params := map[string]interface{}{
		"accountType": "UNIFIED",
	}

	result, err := a.httpClient.NewUtaBybitServiceWithParams(params).GetAccountWallet(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get account balance: %w", err)
	}

	resultBytes, err := a.serverResult(result)
	if err != nil {
		return nil, err
	}

	var walletResult struct {
		List []struct {
			TotalEquity           string `json:"totalEquity"`
			TotalAvailableBalance string `json:"totalAvailableBalance"`
			TotalWalletBalance    string `json:"totalWalletBalance"`
		} `json:"list"`
	}
	if err := json.Unmarshal(resultBytes, &walletResult); err != nil {
		return nil, fmt.Errorf("failed to unmarshal wallet result: %w", err)
	}

	if len(walletResult.List) == 0 {
		return nil, exchange.NewVenueError(exchange.VenueBybit, exchange.ErrNotFound, 0, "no account data found")
	}

	account := walletResult.List[0]
	total := parseFloat64(account.TotalEquity)
	available := parseFloat64(account.TotalAvailableBalance)
	if available == 0 && total > 0 {
		// Isolated-margin unified accounts report an empty available field
		available = parseFloat64(account.TotalWalletBalance)
	}

	return &exchange.Balance{Total: total, Available: available}, nil
}
