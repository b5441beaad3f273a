package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cycle metrics
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funding_bot_cycles_total",
			Help: "Completed position cycles by exit reason",
		},
		[]string{"symbol", "exit_reason"},
	)

	cyclePnL = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "funding_bot_cycle_pnl_usd",
			Help:    "Distribution of realized PnL per cycle",
			Buckets: []float64{-50, -20, -10, -5, -1, 0, 1, 5, 10, 20, 50},
		},
		[]string{"symbol"},
	)

	// Position metrics
	positionNotional = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "funding_bot_position_notional_usd",
			Help: "Actual notional of the open position, zero when flat",
		},
	)

	positionNetAPR = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "funding_bot_position_net_apr",
			Help: "Expected net APR of the open position",
		},
		[]string{"symbol"},
	)

	fundingReceived = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "funding_bot_funding_received_usd",
			Help: "Cumulative funding received on the open position",
		},
	)

	positionUPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "funding_bot_position_upnl_usd",
			Help: "Combined unrealized PnL of both legs, zero when flat",
		},
	)

	// Capital metrics
	totalCapital = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "funding_bot_total_capital_usd",
			Help: "Combined capital across both venues",
		},
	)

	longTermPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "funding_bot_long_term_pnl_usd",
			Help: "Capital growth against the pinned initial baseline",
		},
	)

	// Scanner metrics
	scanExclusions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funding_bot_scan_exclusions_total",
			Help: "Symbols excluded from scans by reason",
		},
		[]string{"reason"},
	)

	bestNetAPR = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "funding_bot_best_net_apr",
			Help: "Net APR of the best scanned opportunity",
		},
	)

	// Error metrics
	venueErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funding_bot_venue_errors_total",
			Help: "Venue call failures by error kind",
		},
		[]string{"venue", "kind"},
	)

	retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funding_bot_retries_total",
			Help: "Backoff retries per venue",
		},
		[]string{"venue"},
	)
)

func init() {
	prometheus.MustRegister(cyclesTotal)
	prometheus.MustRegister(cyclePnL)
	prometheus.MustRegister(positionNotional)
	prometheus.MustRegister(positionNetAPR)
	prometheus.MustRegister(fundingReceived)
	prometheus.MustRegister(positionUPnL)
	prometheus.MustRegister(totalCapital)
	prometheus.MustRegister(longTermPnL)
	prometheus.MustRegister(scanExclusions)
	prometheus.MustRegister(bestNetAPR)
	prometheus.MustRegister(venueErrors)
	prometheus.MustRegister(retriesTotal)
}

// Handler returns the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCycle records a completed cycle.
func RecordCycle(symbol, exitReason string, pnl float64) {
	cyclesTotal.WithLabelValues(symbol, exitReason).Inc()
	cyclePnL.WithLabelValues(symbol).Observe(pnl)
}

// UpdatePosition refreshes the open-position gauges.
func UpdatePosition(symbol string, notional, netAPR, funding float64) {
	positionNotional.Set(notional)
	positionNetAPR.WithLabelValues(symbol).Set(netAPR)
	fundingReceived.Set(funding)
}

// UpdateUnrealizedPnL refreshes the combined uPnL gauge.
func UpdateUnrealizedPnL(upnl float64) {
	positionUPnL.Set(upnl)
}

// ClearPosition zeroes the position gauges after a close.
func ClearPosition(symbol string) {
	positionNotional.Set(0)
	positionNetAPR.DeleteLabelValues(symbol)
	fundingReceived.Set(0)
	positionUPnL.Set(0)
}

// UpdateCapital refreshes the combined capital gauge.
func UpdateCapital(total float64) {
	totalCapital.Set(total)
}

// UpdateLongTermPnL refreshes the baseline-growth gauge.
func UpdateLongTermPnL(pnl float64) {
	longTermPnL.Set(pnl)
}

// RecordExclusion counts one excluded symbol.
func RecordExclusion(reason string) {
	scanExclusions.WithLabelValues(reason).Inc()
}

// UpdateBestOpportunity refreshes the best scanned APR.
func UpdateBestOpportunity(netAPR float64) {
	bestNetAPR.Set(netAPR)
}

// RecordVenueError counts one classified venue failure.
func RecordVenueError(venue, kind string) {
	venueErrors.WithLabelValues(venue, kind).Inc()
}

// RecordRetry counts one backoff retry.
func RecordRetry(venue string) {
	retriesTotal.WithLabelValues(venue).Inc()
}
