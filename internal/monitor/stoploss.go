package monitor

import "math"

// Default margin parameters used when the config leaves them unset.
const (
	DefaultMaintenanceMargin = 0.005
	DefaultSafetyBuffer      = 0.007
)

// EmergencyStopLossPct derives the emergency stop-loss threshold from
// leverage. The short perp leg liquidates when price rises roughly
// (1+1/L)/(1+m)-1 above entry; backing off by the safety buffer and scaling
// by the perp share L/(L+1) of the pair's notional gives the worst-leg PnL
// percentage at which the pair must close. The result is floored to the
// most negative whole percent, e.g. -50 at 1x, -33 at 2x, -24 at 3x.
func EmergencyStopLossPct(leverage int, maintenanceMargin, safetyBuffer float64) float64 {
	if leverage < 1 {
		leverage = 1
	}
	if maintenanceMargin <= 0 {
		maintenanceMargin = DefaultMaintenanceMargin
	}
	if safetyBuffer <= 0 {
		safetyBuffer = DefaultSafetyBuffer
	}

	l := float64(leverage)
	sMax := (1+1/l)/(1+maintenanceMargin) - 1 - safetyBuffer
	pnlPctAtStop := -sMax * (l / (l + 1)) * 100
	return math.Floor(pnlPctAtStop)
}
