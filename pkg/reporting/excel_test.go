package reporting

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/funding-arb-bot/internal/exchange"
	"github.com/ducminhle1904/funding-arb-bot/internal/state"
)

// TestWriteCyclesXLSX tests the workbook round-trip
func TestWriteCyclesXLSX(t *testing.T) {
	opened := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	cycles := []state.CompletedCycle{
		{
			Position: state.Position{
				Symbol:         "SOLUSDT",
				LongVenue:      exchange.VenueAster,
				ShortVenue:     exchange.VenueBybit,
				Leverage:       2,
				OpenedAt:       opened,
				SizeBase:       4.75,
				ActualNotional: 475,
			},
			ClosedAt:      opened.Add(6 * time.Hour),
			DurationHours: 6,
			RealizedPnL:   state.PnLBreakdown{FundingReceived: 1.2, PricePnL: -0.1, FeesPaid: 0.5, NetPnL: 0.6},
			ExitReason:    state.ExitFeeCoverageMet,
		},
	}
	stats := state.CumulativeStats{
		TotalCycles: 1, SuccessfulCycles: 1, TotalRealizedPnL: 0.6,
		BySymbol: map[string]*state.SymbolStats{"SOLUSDT": {Cycles: 1, TotalPnL: 0.6, AvgPnL: 0.6}},
	}

	path := filepath.Join(t.TempDir(), "out", "cycles.xlsx")
	require.NoError(t, NewExcelReporter().WriteCyclesXLSX(cycles, stats, path))

	fx, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer fx.Close()

	symbol, err := fx.GetCellValue("Cycles", "B2")
	require.NoError(t, err)
	assert.Equal(t, "SOLUSDT", symbol)

	reason, err := fx.GetCellValue("Cycles", "O2")
	require.NoError(t, err)
	assert.Equal(t, "FEE_COVERAGE_MET", reason)
}
