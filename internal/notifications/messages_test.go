package notifications

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestMessages_LifecycleText tests the alert wording the rotation loop sends
func TestMessages_LifecycleText(t *testing.T) {
	assert.Equal(t,
		"Opened SOLUSDT: long aster / short bybit, $1000.00 at 25.00% net APR",
		PairOpened("SOLUSDT", "aster", "bybit", 1000, 25))

	assert.Equal(t,
		"Closed SOLUSDT (FEE_COVERAGE_MET): net $1.2000 after 6.0h: funding covered fees",
		CycleClosed("SOLUSDT", "FEE_COVERAGE_MET", 1.2, 6, "funding covered fees"))

	assert.Equal(t,
		"Close of SOLUSDT failed, manual reconciliation needed: partial close",
		ManualActionNeeded("Close", "SOLUSDT", errors.New("partial close")))
}
