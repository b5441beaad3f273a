package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// TestLoad_DefaultsApplied tests that a minimal file gets documented
// defaults
func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, `{"universe":{"symbols_to_monitor":["SOLUSDT"]}}`)

	cfg, err := Load(path, zerolog.Nop())

	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.CapitalManagement.CapitalFraction)
	assert.Equal(t, 10.0, cfg.FundingRateStrategy.MinFundingAPR)
	assert.Equal(t, 1_000_000.0, cfg.FundingRateStrategy.MinVolumeUSD)
	assert.Equal(t, 0.15, cfg.FundingRateStrategy.MaxSpreadPct)
	assert.Equal(t, 1.5, cfg.PositionManagement.FeeCoverageMultiplier)
	assert.Equal(t, 60, cfg.PositionManagement.CheckIntervalSeconds)
	assert.Equal(t, 1, cfg.LeverageSettings.Leverage)
	assert.Equal(t, 2, cfg.RateLimits.BybitPermits)
	assert.Equal(t, 0, cfg.RateLimits.AsterPermits)
	assert.Equal(t, []string{"SOLUSDT"}, cfg.Universe.SymbolsToMonitor)
}

// TestLoad_LeverageClamped tests clamping of out-of-range leverage
func TestLoad_LeverageClamped(t *testing.T) {
	path := writeConfig(t, `{"leverage_settings":{"leverage":10}}`)

	cfg, err := Load(path, zerolog.Nop())

	require.NoError(t, err)
	assert.Equal(t, MaxLeverage, cfg.LeverageSettings.Leverage)
}

// TestLoad_InvalidFractionRejected tests validation of capital_fraction
func TestLoad_InvalidFractionRejected(t *testing.T) {
	path := writeConfig(t, `{"capital_management":{"capital_fraction":1.5}}`)

	_, err := Load(path, zerolog.Nop())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "capital_fraction")
}

// TestLoad_HoldBeyondMaxAgeRejected tests the duration sanity check
func TestLoad_HoldBeyondMaxAgeRejected(t *testing.T) {
	path := writeConfig(t, `{"position_management":{"hold_duration_hours":100,"max_position_age_hours":48}}`)

	_, err := Load(path, zerolog.Nop())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "hold_duration_hours")
}

// TestLoad_MissingFileErrors tests that a missing config is fatal
func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"), zerolog.Nop())
	require.Error(t, err)
}

// TestLoad_FixedNotionalMode tests that fixed notional disables the
// fraction default
func TestLoad_FixedNotionalMode(t *testing.T) {
	path := writeConfig(t, `{"capital_management":{"notional_usd":500}}`)

	cfg, err := Load(path, zerolog.Nop())

	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.CapitalManagement.CapitalFraction)
	assert.Equal(t, 500.0, cfg.CapitalManagement.NotionalUSD)
}
