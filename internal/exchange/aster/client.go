// Package aster implements the venue adapter for Aster, whose perpetual and
// spot APIs follow the Binance wire format. Requests are signed with
// HMAC-SHA256 over the query string and carry the key in X-MBX-APIKEY.
package aster

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ducminhle1904/funding-arb-bot/internal/exchange"
)

const (
	defaultFuturesBaseURL = "https://fapi.asterdex.com"
	defaultSpotBaseURL    = "https://sapi.asterdex.com"
)

// Config holds the configuration for the Aster adapter
type Config struct {
	APIKey         string
	APISecret      string
	FuturesBaseURL string
	SpotBaseURL    string
}

// Adapter implements exchange.Adapter and exchange.SpotTrader for Aster.
// A client-side token bucket keeps request bursts under the venue's weight
// limits before the server ever sees them.
type Adapter struct {
	apiKey         string
	apiSecret      string
	futuresBaseURL string
	spotBaseURL    string
	client         *http.Client
	limiter        *rate.Limiter

	meta *metaCache
}

// NewAdapter creates an Aster adapter.
func NewAdapter(config Config) *Adapter {
	futuresBaseURL := config.FuturesBaseURL
	if futuresBaseURL == "" {
		futuresBaseURL = defaultFuturesBaseURL
	}
	spotBaseURL := config.SpotBaseURL
	if spotBaseURL == "" {
		spotBaseURL = defaultSpotBaseURL
	}

	a := &Adapter{
		apiKey:         config.APIKey,
		apiSecret:      config.APISecret,
		futuresBaseURL: futuresBaseURL,
		spotBaseURL:    spotBaseURL,
		client:         &http.Client{Timeout: 30 * time.Second},
		limiter:        rate.NewLimiter(rate.Limit(8), 16),
	}
	a.meta = newMetaCache(a)
	return a
}

// Name returns the venue identifier.
func (a *Adapter) Name() exchange.Venue {
	return exchange.VenueAster
}

// sign appends timestamp, recvWindow, and the HMAC-SHA256 signature to the
// query values.
func (a *Adapter) sign(query url.Values) url.Values {
	query.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	query.Set("recvWindow", "5000")
	mac := hmac.New(sha256.New, []byte(a.apiSecret))
	mac.Write([]byte(query.Encode()))
	query.Set("signature", hex.EncodeToString(mac.Sum(nil)))
	return query
}

// request performs an HTTP call against one of the two base URLs, signing
// when required, and decodes Binance-style error payloads into the shared
// failure taxonomy.
func (a *Adapter) request(ctx context.Context, method, baseURL, path string, query url.Values, signed bool) ([]byte, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	if query == nil {
		query = url.Values{}
	}
	if signed {
		query = a.sign(query)
	}

	reqURL := baseURL + path
	var body io.Reader
	if method == http.MethodGet || method == http.MethodDelete {
		if encoded := query.Encode(); encoded != "" {
			reqURL += "?" + encoded
		}
	} else {
		body = strings.NewReader(query.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", a.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, exchange.NewVenueError(exchange.VenueAster, exchange.ErrTransport, 0, err.Error())
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, exchange.NewVenueError(exchange.VenueAster, exchange.ErrTransport, 0, err.Error())
	}

	if resp.StatusCode != http.StatusOK {
		return nil, a.classify(resp.StatusCode, payload)
	}
	return payload, nil
}

func (a *Adapter) futuresGet(ctx context.Context, path string, query url.Values, signed bool) ([]byte, error) {
	return a.request(ctx, http.MethodGet, a.futuresBaseURL, path, query, signed)
}

func (a *Adapter) futuresPost(ctx context.Context, path string, query url.Values) ([]byte, error) {
	return a.request(ctx, http.MethodPost, a.futuresBaseURL, path, query, true)
}

func (a *Adapter) spotGet(ctx context.Context, path string, query url.Values, signed bool) ([]byte, error) {
	return a.request(ctx, http.MethodGet, a.spotBaseURL, path, query, signed)
}

func (a *Adapter) spotPost(ctx context.Context, path string, query url.Values) ([]byte, error) {
	return a.request(ctx, http.MethodPost, a.spotBaseURL, path, query, true)
}

// classify maps an HTTP status and Binance-style error body to the shared
// failure taxonomy.
func (a *Adapter) classify(status int, payload []byte) error {
	var apiErr struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	_ = json.Unmarshal(payload, &apiErr)
	msg := apiErr.Msg
	if msg == "" {
		msg = string(payload)
	}

	kind := exchange.ErrVenueReject
	switch {
	case status == http.StatusTooManyRequests || status == 418:
		kind = exchange.ErrRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = exchange.ErrAuth
	case apiErr.Code == -1021 || apiErr.Code == -2014 || apiErr.Code == -2015:
		kind = exchange.ErrAuth
	case apiErr.Code == -2019:
		kind = exchange.ErrInsufficientBalance
	case apiErr.Code == -1013 || apiErr.Code == -4003 || apiErr.Code == -4164:
		kind = exchange.ErrMinimumSize
	case apiErr.Code == -1121:
		kind = exchange.ErrNotFound
	case status >= 500:
		kind = exchange.ErrTransport
	}
	return exchange.NewVenueError(exchange.VenueAster, kind, apiErr.Code, msg)
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

// sideParam maps the shared order side to the venue's wire value.
func sideParam(side exchange.OrderSide) string {
	if side == exchange.OrderSideSell {
		return "SELL"
	}
	return "BUY"
}
