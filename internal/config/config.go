// Package config loads the bot's JSON configuration. The file is re-read
// before every open attempt so an operator can tune thresholds without a
// restart.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// MaxLeverage is the hard leverage cap; configured values above it are
// clamped with a warning.
const MaxLeverage = 3

// Config is the complete bot configuration.
type Config struct {
	CapitalManagement   CapitalManagementConfig   `json:"capital_management"`
	FundingRateStrategy FundingRateStrategyConfig `json:"funding_rate_strategy"`
	PositionManagement  PositionManagementConfig  `json:"position_management"`
	LeverageSettings    LeverageSettingsConfig    `json:"leverage_settings"`
	Universe            UniverseConfig            `json:"universe"`
	Venues              VenuesConfig              `json:"venues"`
	RateLimits          RateLimitsConfig          `json:"rate_limits"`
	Monitoring          MonitoringConfig          `json:"monitoring"`
	Notifications       *NotificationConfig       `json:"notifications,omitempty"`
	Reporting           ReportingConfig           `json:"reporting"`
}

// CapitalManagementConfig controls how much capital a position deploys.
type CapitalManagementConfig struct {
	CapitalFraction float64 `json:"capital_fraction"` // fraction of the buffered ceiling (0 < x <= 1)
	NotionalUSD     float64 `json:"notional_usd"`     // fixed notional; used when capital_fraction is 0
	MinNotionalUSD  float64 `json:"min_notional_usd"` // floor below which an open is skipped
}

// FundingRateStrategyConfig holds the scanner thresholds.
type FundingRateStrategyConfig struct {
	MinFundingAPR    float64 `json:"min_funding_apr"`    // APR floor (%)
	UseFundingMA     bool    `json:"use_funding_ma"`     // rank by MA of historical rates
	FundingMAPeriods int     `json:"funding_ma_periods"` // samples in the MA, >= 2
	MinVolumeUSD     float64 `json:"min_volume_usd"`     // combined 24h volume floor
	MaxSpreadPct     float64 `json:"max_spread_pct"`     // cross-venue spread ceiling (%)
}

// PositionManagementConfig holds hold and exit timing.
type PositionManagementConfig struct {
	FeeCoverageMultiplier    float64 `json:"fee_coverage_multiplier"`
	MaxPositionAgeHours      float64 `json:"max_position_age_hours"`
	HoldDurationHours        float64 `json:"hold_duration_hours"`
	LoopIntervalSeconds      int     `json:"loop_interval_seconds"`
	WaitBetweenCyclesMinutes int     `json:"wait_between_cycles_minutes"`
	CheckIntervalSeconds     int     `json:"check_interval_seconds"`

	RotationAPRImprovement   float64 `json:"rotation_apr_improvement"`
	MinHoldBeforeRotateHours float64 `json:"min_hold_before_rotate_hours"`

	// CloseOnShutdown flattens the open position before exiting instead of
	// leaving it for the next run to re-adopt.
	CloseOnShutdown bool `json:"close_on_shutdown"`

	MaintenanceMargin float64 `json:"maintenance_margin"`
	SafetyBuffer      float64 `json:"safety_buffer"`
	TakerFeeRate      float64 `json:"taker_fee_rate"`
}

// LeverageSettingsConfig holds the leverage both legs use.
type LeverageSettingsConfig struct {
	Leverage int `json:"leverage"` // clamped to [1..MaxLeverage]
}

// UniverseConfig names the candidate symbols.
type UniverseConfig struct {
	SymbolsToMonitor []string `json:"symbols_to_monitor"`
}

// VenuesConfig carries per-venue endpoint settings. Credentials come from
// the environment, never from this file.
type VenuesConfig struct {
	BybitTestnet       bool   `json:"bybit_testnet"`
	BybitDemo          bool   `json:"bybit_demo"`
	AsterFuturesURL    string `json:"aster_futures_url,omitempty"`
	AsterSpotURL       string `json:"aster_spot_url,omitempty"`
	SpotPerpMode       bool   `json:"spot_perp_mode"`        // single-venue spot+perp variant
	ScannerStaggerMs   int    `json:"scanner_stagger_ms"`    // per-symbol fan-out stagger
	SymbolTimeoutSecs  int    `json:"symbol_timeout_seconds"`
}

// RateLimitsConfig bounds per-venue concurrency and retry behavior.
type RateLimitsConfig struct {
	BybitPermits  int     `json:"bybit_permits"`
	AsterPermits  int     `json:"aster_permits"` // 0 means unbounded
	MaxRetries    int     `json:"max_retries"`
	InitialDelayS float64 `json:"initial_delay_seconds"`
	MaxDelayS     float64 `json:"max_delay_seconds"`
	JitterEnabled bool    `json:"jitter_enabled"`
}

// MonitoringConfig controls the Prometheus endpoint.
type MonitoringConfig struct {
	Enabled    bool   `json:"enabled"`
	ListenAddr string `json:"listen_addr"`
}

// NotificationConfig holds Telegram settings.
type NotificationConfig struct {
	Enabled       bool   `json:"enabled"`
	TelegramToken string `json:"telegram_token,omitempty"`
	TelegramChat  string `json:"telegram_chat,omitempty"`
}

// ReportingConfig controls the cycle history export.
type ReportingConfig struct {
	ExportXLSX bool   `json:"export_xlsx"`
	ExportDir  string `json:"export_dir"`
}

// Load reads, defaults, and validates the configuration file.
func Load(path string, log zerolog.Logger) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	cfg.setDefaults(log)
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) setDefaults(log zerolog.Logger) {
	if c.CapitalManagement.CapitalFraction == 0 && c.CapitalManagement.NotionalUSD == 0 {
		c.CapitalManagement.CapitalFraction = 0.5
	}
	if c.CapitalManagement.MinNotionalUSD == 0 {
		c.CapitalManagement.MinNotionalUSD = 10
	}

	if c.FundingRateStrategy.MinFundingAPR == 0 {
		c.FundingRateStrategy.MinFundingAPR = 10
	}
	if c.FundingRateStrategy.FundingMAPeriods < 2 {
		c.FundingRateStrategy.FundingMAPeriods = 6
	}
	if c.FundingRateStrategy.MinVolumeUSD == 0 {
		c.FundingRateStrategy.MinVolumeUSD = 1_000_000
	}
	if c.FundingRateStrategy.MaxSpreadPct == 0 {
		c.FundingRateStrategy.MaxSpreadPct = 0.15
	}

	pm := &c.PositionManagement
	if pm.FeeCoverageMultiplier == 0 {
		pm.FeeCoverageMultiplier = 1.5
	}
	if pm.MaxPositionAgeHours == 0 {
		pm.MaxPositionAgeHours = 48
	}
	if pm.HoldDurationHours == 0 {
		pm.HoldDurationHours = 8
	}
	if pm.LoopIntervalSeconds == 0 {
		pm.LoopIntervalSeconds = 60
	}
	if pm.WaitBetweenCyclesMinutes == 0 {
		pm.WaitBetweenCyclesMinutes = 5
	}
	if pm.CheckIntervalSeconds == 0 {
		pm.CheckIntervalSeconds = 60
	}
	if pm.RotationAPRImprovement == 0 {
		pm.RotationAPRImprovement = 10
	}
	if pm.MinHoldBeforeRotateHours == 0 {
		pm.MinHoldBeforeRotateHours = 4
	}
	if pm.MaintenanceMargin == 0 {
		pm.MaintenanceMargin = 0.005
	}
	if pm.SafetyBuffer == 0 {
		pm.SafetyBuffer = 0.007
	}
	if pm.TakerFeeRate == 0 {
		pm.TakerFeeRate = 0.00055
	}

	switch {
	case c.LeverageSettings.Leverage == 0:
		c.LeverageSettings.Leverage = 1
	case c.LeverageSettings.Leverage < 1:
		log.Warn().Int("leverage", c.LeverageSettings.Leverage).Msg("leverage below 1, clamping to 1")
		c.LeverageSettings.Leverage = 1
	case c.LeverageSettings.Leverage > MaxLeverage:
		log.Warn().Int("leverage", c.LeverageSettings.Leverage).Int("max", MaxLeverage).Msg("leverage above cap, clamping")
		c.LeverageSettings.Leverage = MaxLeverage
	}

	if len(c.Universe.SymbolsToMonitor) == 0 {
		c.Universe.SymbolsToMonitor = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	}

	if c.Venues.ScannerStaggerMs == 0 {
		c.Venues.ScannerStaggerMs = 750
	}
	if c.Venues.SymbolTimeoutSecs == 0 {
		c.Venues.SymbolTimeoutSecs = 90
	}

	if c.RateLimits.BybitPermits == 0 {
		c.RateLimits.BybitPermits = 2
	}
	if c.RateLimits.MaxRetries == 0 {
		c.RateLimits.MaxRetries = 3
	}
	if c.RateLimits.InitialDelayS == 0 {
		c.RateLimits.InitialDelayS = 1
	}
	if c.RateLimits.MaxDelayS == 0 {
		c.RateLimits.MaxDelayS = 60
	}

	if c.Monitoring.ListenAddr == "" {
		c.Monitoring.ListenAddr = ":9090"
	}
	if c.Reporting.ExportDir == "" {
		c.Reporting.ExportDir = "reports"
	}
}

func (c *Config) validate() error {
	if f := c.CapitalManagement.CapitalFraction; f < 0 || f > 1 {
		return fmt.Errorf("capital_fraction must be in (0, 1], got %v", f)
	}
	if c.CapitalManagement.CapitalFraction == 0 && c.CapitalManagement.NotionalUSD <= 0 {
		return fmt.Errorf("either capital_fraction or notional_usd must be positive")
	}
	if c.FundingRateStrategy.MaxSpreadPct <= 0 {
		return fmt.Errorf("max_spread_pct must be positive")
	}
	if c.PositionManagement.HoldDurationHours > c.PositionManagement.MaxPositionAgeHours {
		return fmt.Errorf("hold_duration_hours %v exceeds max_position_age_hours %v",
			c.PositionManagement.HoldDurationHours, c.PositionManagement.MaxPositionAgeHours)
	}
	for _, symbol := range c.Universe.SymbolsToMonitor {
		if symbol == "" {
			return fmt.Errorf("universe contains an empty symbol")
		}
	}
	return nil
}

// Raw re-marshals the config for the state file's config snapshot.
func (c *Config) Raw() (json.RawMessage, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config snapshot: %w", err)
	}
	return data, nil
}
