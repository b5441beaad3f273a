// Package reporting exports completed cycle history to operator-facing
// files.
package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/funding-arb-bot/internal/state"
)

// ExcelReporter writes the cycle history workbook.
type ExcelReporter struct{}

// NewExcelReporter creates an Excel reporter
func NewExcelReporter() *ExcelReporter {
	return &ExcelReporter{}
}

type excelStyles struct {
	header   int
	currency int
	percent  int
}

// WriteCyclesXLSX writes completed cycles and cumulative stats to an Excel
// workbook at path.
func (r *ExcelReporter) WriteCyclesXLSX(cycles []state.CompletedCycle, stats state.CumulativeStats, path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	fx := excelize.NewFile()
	defer fx.Close()

	const cyclesSheet = "Cycles"
	const summarySheet = "Summary"

	fx.SetSheetName(fx.GetSheetName(0), cyclesSheet)
	fx.NewSheet(summarySheet)

	styles, err := r.createStyles(fx)
	if err != nil {
		return err
	}

	if err := r.writeCyclesSheet(fx, cyclesSheet, cycles, styles); err != nil {
		return err
	}
	if err := r.writeSummarySheet(fx, summarySheet, stats, styles); err != nil {
		return err
	}

	return fx.SaveAs(path)
}

func (r *ExcelReporter) createStyles(fx *excelize.File) (excelStyles, error) {
	var styles excelStyles
	var err error

	styles.header, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF", Family: "Calibri"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"2F4F4F"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return styles, err
	}

	styles.currency, err = fx.NewStyle(&excelize.Style{
		NumFmt:    7,
		Alignment: &excelize.Alignment{Horizontal: "right"},
	})
	if err != nil {
		return styles, err
	}

	styles.percent, err = fx.NewStyle(&excelize.Style{
		NumFmt:    9,
		Alignment: &excelize.Alignment{Horizontal: "right"},
	})
	return styles, err
}

func (r *ExcelReporter) writeCyclesSheet(fx *excelize.File, sheet string, cycles []state.CompletedCycle, styles excelStyles) error {
	headers := []any{
		"#", "Symbol", "Long Venue", "Short Venue", "Leverage",
		"Opened At", "Closed At", "Duration (h)",
		"Size", "Notional", "Funding", "Price PnL", "Fees", "Net PnL",
		"Exit Reason",
	}
	if err := fx.SetSheetRow(sheet, "A1", &headers); err != nil {
		return err
	}
	if err := fx.SetCellStyle(sheet, "A1", "O1", styles.header); err != nil {
		return err
	}

	for i, c := range cycles {
		row := []any{
			i + 1, c.Symbol, string(c.LongVenue), string(c.ShortVenue), c.Leverage,
			c.OpenedAt.UTC().Format(time.RFC3339), c.ClosedAt.UTC().Format(time.RFC3339), c.DurationHours,
			c.SizeBase, c.ActualNotional,
			c.RealizedPnL.FundingReceived, c.RealizedPnL.PricePnL, c.RealizedPnL.FeesPaid, c.RealizedPnL.NetPnL,
			string(c.ExitReason),
		}
		cell := fmt.Sprintf("A%d", i+2)
		if err := fx.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
		start := fmt.Sprintf("J%d", i+2)
		end := fmt.Sprintf("N%d", i+2)
		if err := fx.SetCellStyle(sheet, start, end, styles.currency); err != nil {
			return err
		}
	}

	return fx.SetColWidth(sheet, "A", "O", 16)
}

func (r *ExcelReporter) writeSummarySheet(fx *excelize.File, sheet string, stats state.CumulativeStats, styles excelStyles) error {
	rows := [][]any{
		{"Metric", "Value"},
		{"Total cycles", stats.TotalCycles},
		{"Successful cycles", stats.SuccessfulCycles},
		{"Failed cycles", stats.FailedCycles},
		{"Total realized PnL", stats.TotalRealizedPnL},
		{"Best cycle PnL", stats.BestCyclePnL},
		{"Worst cycle PnL", stats.WorstCyclePnL},
		{"Total volume traded", stats.TotalVolumeTraded},
		{"Total hold time (h)", stats.TotalHoldTimeHours},
	}
	for i := range rows {
		cell := fmt.Sprintf("A%d", i+1)
		if err := fx.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return err
		}
	}
	if err := fx.SetCellStyle(sheet, "A1", "B1", styles.header); err != nil {
		return err
	}

	// per-symbol block below the headline metrics
	base := len(rows) + 2
	if err := fx.SetSheetRow(sheet, fmt.Sprintf("A%d", base), &[]any{"Symbol", "Cycles", "Total PnL", "Avg PnL"}); err != nil {
		return err
	}
	if err := fx.SetCellStyle(sheet, fmt.Sprintf("A%d", base), fmt.Sprintf("D%d", base), styles.header); err != nil {
		return err
	}
	i := 1
	for symbol, sym := range stats.BySymbol {
		row := []any{symbol, sym.Cycles, sym.TotalPnL, sym.AvgPnL}
		if err := fx.SetSheetRow(sheet, fmt.Sprintf("A%d", base+i), &row); err != nil {
			return err
		}
		i++
	}

	return fx.SetColWidth(sheet, "A", "D", 20)
}
