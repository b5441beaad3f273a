package notifications

import "fmt"

// Message builders for the rotation lifecycle. Kept together so every alert
// channel renders the same text.

// PairOpened announces a freshly opened delta-neutral pair.
func PairOpened(symbol, longVenue, shortVenue string, notional, netAPR float64) string {
	return fmt.Sprintf("Opened %s: long %s / short %s, $%.2f at %.2f%% net APR",
		symbol, longVenue, shortVenue, notional, netAPR)
}

// CycleClosed announces a completed cycle with its realized result.
func CycleClosed(symbol, reason string, netPnL, hours float64, detail string) string {
	return fmt.Sprintf("Closed %s (%s): net $%.4f after %.1fh: %s",
		symbol, reason, netPnL, hours, detail)
}

// ManualActionNeeded flags an open or close that left the venues in a state
// the bot will not touch on its own.
func ManualActionNeeded(phase, symbol string, err error) string {
	return fmt.Sprintf("%s of %s failed, manual reconciliation needed: %v", phase, symbol, err)
}

// PositionAdopted flags a live pair inherited from a previous run.
func PositionAdopted(detail string) string {
	return "Adopted a live position left by a previous run: " + detail
}

// ReconcileHalted flags an ambiguous startup state the operator must resolve.
func ReconcileHalted(detail string) string {
	return "Reconciliation halted: " + detail
}
