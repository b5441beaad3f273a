package bybit

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
	"time"

	"github.com/ducminhle1904/funding-arb-bot/internal/exchange"
)

const recvWindow = "5000"

// restGet performs a GET against the v5 REST API. Signed requests carry the
// standard X-BAPI headers with an HMAC-SHA256 of
// timestamp + apiKey + recvWindow + queryString.
func (a *Adapter) restGet(ctx context.Context, path string, query url.Values, signed bool) ([]byte, error) {
	reqURL := a.baseURL + path
	encoded := query.Encode()
	if encoded != "" {
		reqURL += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	if signed {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		mac := hmac.New(sha256.New, []byte(a.apiSecret))
		mac.Write([]byte(timestamp + a.apiKey + recvWindow + encoded))
		req.Header.Set("X-BAPI-API-KEY", a.apiKey)
		req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
		req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
		req.Header.Set("X-BAPI-SIGN", hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := a.rest.Do(req)
	if err != nil {
		return nil, exchange.NewVenueError(exchange.VenueBybit, exchange.ErrTransport, 0, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, exchange.NewVenueError(exchange.VenueBybit, exchange.ErrTransport, 0, err.Error())
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, exchange.NewVenueError(exchange.VenueBybit, exchange.ErrRateLimited, resp.StatusCode, string(body))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, exchange.NewVenueError(exchange.VenueBybit, exchange.ErrTransport, resp.StatusCode, string(body))
	}

	var envelope struct {
		RetCode int             `json:"retCode"`
		RetMsg  string          `json:"retMsg"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if envelope.RetCode != 0 {
		return nil, a.classify(envelope.RetCode, envelope.RetMsg)
	}
	return envelope.Result, nil
}

// FundingRateHistory returns up to n most recent settled funding samples,
// newest first.
func (a *Adapter) FundingRateHistory(ctx context.Context, symbol string, n int) ([]exchange.FundingSample, error) {
	if n <= 0 {
		n = 20
	}
	if n > 200 {
		n = 200
	}

	query := url.Values{}
	query.Set("category", categoryLinear)
	query.Set("symbol", symbol)
	query.Set("limit", strconv.Itoa(n))

	result, err := a.restGet(ctx, "/v5/market/funding-rate/history", query, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get funding history: %w", err)
	}

	var historyResult struct {
		Category string `json:"category"`
		List     []struct {
			Symbol               string `json:"symbol"`
			FundingRate          string `json:"fundingRate"`
			FundingRateTimestamp string `json:"fundingRateTimestamp"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &historyResult); err != nil {
		return nil, fmt.Errorf("failed to unmarshal funding history: %w", err)
	}

	period := intervalFromTimestamps(timestampsOf(historyResult.List))
	samples := make([]exchange.FundingSample, 0, len(historyResult.List))
	for _, item := range historyResult.List {
		samples = append(samples, exchange.FundingSample{
			Symbol:      symbol,
			Rate:        parseFloat64(item.FundingRate),
			PeriodHours: period,
			Timestamp:   time.UnixMilli(parseInt64(item.FundingRateTimestamp)).UTC(),
		})
	}
	return samples, nil
}

func timestampsOf(list []struct {
	Symbol               string `json:"symbol"`
	FundingRate          string `json:"fundingRate"`
	FundingRateTimestamp string `json:"fundingRateTimestamp"`
}) []int64 {
	ts := make([]int64, 0, len(list))
	for _, item := range list {
		ts = append(ts, parseInt64(item.FundingRateTimestamp))
	}
	return ts
}

// intervalFromTimestamps infers the funding period as the modal difference
// of consecutive settlement timestamps, in hours. Returns 8 when fewer than
// two timestamps are available.
func intervalFromTimestamps(ts []int64) float64 {
	if len(ts) < 2 {
		return 8
	}
	counts := make(map[int64]int)
	for i := 0; i+1 < len(ts); i++ {
		diff := ts[i] - ts[i+1]
		if diff < 0 {
			diff = -diff
		}
		// bucket to the nearest hour
		hours := (diff + 30*60*1000) / (60 * 60 * 1000)
		if hours > 0 {
			counts[hours]++
		}
	}
	var best int64
	bestCount := 0
	for hours, count := range counts {
		if count > bestCount || (count == bestCount && hours < best) {
			best = hours
			bestCount = count
		}
	}
	if best == 0 {
		return 8
	}
	return float64(best)
}

// FundingSince sums funding settlements for a symbol from the unified
// account transaction log. Positive values are funding received.
func (a *Adapter) FundingSince(ctx context.Context, symbol string, since time.Time) (float64, error) {
	total := 0.0
	cursor := ""

	for page := 0; page < 10; page++ {
		query := url.Values{}
		query.Set("accountType", "UNIFIED")
		query.Set("category", categoryLinear)
		query.Set("currency", "USDT")
		query.Set("type", "SETTLEMENT")
		query.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
		query.Set("limit", "50")
		if cursor != "" {
			query.Set("cursor", cursor)
		}

		result, err := a.restGet(ctx, "/v5/account/transaction-log", query, true)
		if err != nil {
			return 0, fmt.Errorf("failed to get transaction log: %w", err)
		}

		var logResult struct {
			NextPageCursor string `json:"nextPageCursor"`
			List           []struct {
				Symbol          string `json:"symbol"`
				Type            string `json:"type"`
				Funding         string `json:"funding"`
				TransactionTime string `json:"transactionTime"`
			} `json:"list"`
		}
		if err := json.Unmarshal(result, &logResult); err != nil {
			return 0, fmt.Errorf("failed to unmarshal transaction log: %w", err)
		}

		for _, item := range logResult.List {
			if item.Symbol != symbol {
				continue
			}
			total += parseFloat64(item.Funding)
		}

		if logResult.NextPageCursor == "" || len(logResult.List) == 0 {
			break
		}
		cursor = logResult.NextPageCursor
	}

	return total, nil
}
