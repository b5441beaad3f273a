// Package bybit implements the venue adapter for Bybit USDT perpetuals on
// the v5 unified trading account API.
package bybit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"

	"github.com/ducminhle1904/funding-arb-bot/internal/exchange"
)

const categoryLinear = "linear"

// Config holds the configuration for the Bybit adapter
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
	Demo      bool // demo trading environment (paper trading)
}

// Adapter implements exchange.Adapter for Bybit. Order placement and account
// reads go through the official SDK; the two endpoints outside the SDK
// surface (funding-rate history, transaction log) use a signed REST fallback
// against the same base URL.
type Adapter struct {
	httpClient *bybit_api.Client
	rest       *http.Client
	baseURL    string
	apiKey     string
	apiSecret  string

	meta *metaCache
}

// NewAdapter creates a Bybit adapter for the configured environment.
func NewAdapter(config Config) *Adapter {
	var baseURL string
	if config.Demo {
		baseURL = "https://api-demo.bybit.com"
	} else if config.Testnet {
		baseURL = bybit_api.TESTNET
	} else {
		baseURL = bybit_api.MAINNET
	}

	httpClient := bybit_api.NewBybitHttpClient(
		config.APIKey,
		config.APISecret,
		bybit_api.WithBaseURL(baseURL),
	)

	a := &Adapter{
		httpClient: httpClient,
		rest:       &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		apiKey:     config.APIKey,
		apiSecret:  config.APISecret,
	}
	a.meta = newMetaCache(a)
	return a
}

// Name returns the venue identifier.
func (a *Adapter) Name() exchange.Venue {
	return exchange.VenueBybit
}

// serverResult validates a ServerResponse and returns its Result re-marshaled
// as JSON for typed decoding.
func (a *Adapter) serverResult(response interface{}) ([]byte, error) {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return nil, fmt.Errorf("invalid response type")
	}

	if serverResp.RetCode != 0 {
		return nil, a.classify(serverResp.RetCode, serverResp.RetMsg)
	}

	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return resultBytes, nil
}

// Common Bybit error codes
const (
	errCodeInvalidAPIKey       = 10003
	errCodeInvalidSignature    = 10004
	errCodeInvalidTimestamp    = 10005
	errCodeRateLimitExceeded   = 10006
	errCodeIPRateLimit         = 10018
	errCodeOrderNotFound       = 110001
	errCodeInsufficientBalance = 110007
	errCodeSymbolNotFound      = 110009
	errCodeInvalidQuantity     = 110020
	errCodeInvalidPrice        = 110021
	errCodeLeverageNotModified = 110043
)

// classify maps a Bybit retCode to the shared failure taxonomy.
func (a *Adapter) classify(retCode int, retMsg string) error {
	kind := exchange.ErrVenueReject
	switch retCode {
	case errCodeRateLimitExceeded, errCodeIPRateLimit:
		kind = exchange.ErrRateLimited
	case errCodeInvalidAPIKey, errCodeInvalidSignature, errCodeInvalidTimestamp:
		kind = exchange.ErrAuth
	case errCodeInsufficientBalance:
		kind = exchange.ErrInsufficientBalance
	case errCodeOrderNotFound, errCodeSymbolNotFound:
		kind = exchange.ErrNotFound
	case errCodeInvalidQuantity, errCodeInvalidPrice:
		kind = exchange.ErrMinimumSize
	}
	return exchange.NewVenueError(exchange.VenueBybit, kind, retCode, retMsg)
}

// parseFloat64 converts a numeric API string to float64, returning 0 for
// empty or malformed values.
func parseFloat64(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// parseInt64 converts a numeric API string to int64, returning 0 for empty
// or malformed values.
func parseInt64(s string) int64 {
	if s == "" {
		return 0
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return i
}
