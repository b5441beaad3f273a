// Package display renders operator-facing console tables: scan results,
// the open position, and cumulative performance.
package display

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ducminhle1904/funding-arb-bot/internal/scanner"
	"github.com/ducminhle1904/funding-arb-bot/internal/state"
)

// PrintScanResult renders the funding table: ranked opportunities first,
// then the excluded symbols with their reasons.
func PrintScanResult(out io.Writer, result *scanner.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetTitle("FUNDING OPPORTUNITIES")
	t.SetStyle(table.StyleRounded)

	t.AppendHeader(table.Row{"#", "Symbol", "Long", "Short", "Net APR", "24h Volume", "Spread"})
	for i, opp := range result.Opportunities {
		t.AppendRow(table.Row{
			i + 1,
			opp.Symbol,
			opp.LongVenue,
			opp.ShortVenue,
			fmt.Sprintf("%.2f%%", opp.NetAPR),
			fmt.Sprintf("$%.0fM", opp.Combined24hVolumeUSD/1e6),
			fmt.Sprintf("%.3f%%", opp.CrossSpreadPct),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
	})
	t.Render()

	if len(result.Excluded) > 0 {
		e := table.NewWriter()
		e.SetOutputMirror(out)
		e.SetTitle("EXCLUDED")
		e.SetStyle(table.StyleRounded)
		e.AppendHeader(table.Row{"Symbol", "Reason", "Detail"})
		for _, excl := range result.Excluded {
			e.AppendRow(table.Row{excl.Symbol, excl.Reason, excl.Detail})
		}
		e.Render()
	}
}

// PrintPosition renders the open position with its latest refresh.
func PrintPosition(out io.Writer, pos *state.Position, fundingReceived, totalUPnL float64) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetTitle("OPEN POSITION")
	t.SetStyle(table.StyleRounded)

	age := time.Since(pos.OpenedAt).Round(time.Minute)
	t.AppendRows([]table.Row{
		{"📊 Symbol", pos.Symbol},
		{"📈 Long", fmt.Sprintf("%s @ %.4f", pos.LongVenue, pos.LongEntryPrice)},
		{"📉 Short", fmt.Sprintf("%s @ %.4f", pos.ShortVenue, pos.ShortEntryPrice)},
		{"💰 Notional", fmt.Sprintf("$%.2f (%dx)", pos.ActualNotional, pos.Leverage)},
		{"⚡ Expected APR", fmt.Sprintf("%.2f%%", pos.ExpectedNetAPR)},
		{"💵 Funding received", fmt.Sprintf("$%.4f", fundingReceived)},
		{"📐 Unrealized PnL", fmt.Sprintf("$%.4f", totalUPnL)},
		{"⏰ Age", age.String()},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 20, WidthMax: 20, Align: text.AlignLeft},
		{Number: 2, WidthMin: 28, WidthMax: 40, Align: text.AlignLeft},
	})
	t.Render()
}

// PrintStats renders cumulative performance with the long-term baseline.
func PrintStats(out io.Writer, stats state.CumulativeStats, capital state.CapitalStatus) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetTitle("CUMULATIVE PERFORMANCE")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"Cycles", fmt.Sprintf("%d (%d ok, %d failed)", stats.TotalCycles, stats.SuccessfulCycles, stats.FailedCycles)},
		{"Realized PnL", fmt.Sprintf("$%.4f", stats.TotalRealizedPnL)},
		{"Best / Worst", fmt.Sprintf("$%.4f / $%.4f", stats.BestCyclePnL, stats.WorstCyclePnL)},
		{"Volume traded", fmt.Sprintf("$%.2f", stats.TotalVolumeTraded)},
		{"Hold time", fmt.Sprintf("%.1fh", stats.TotalHoldTimeHours)},
	})

	if capital.InitialTotalCapital != nil && *capital.InitialTotalCapital > 0 {
		pnl := capital.TotalCapital - *capital.InitialTotalCapital
		t.AppendRows([]table.Row{
			{"Total capital", fmt.Sprintf("$%.2f", capital.TotalCapital)},
			{"Long-term PnL", fmt.Sprintf("$%.2f (%.2f%%)", pnl, pnl / *capital.InitialTotalCapital*100)},
		})
	}

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 16, WidthMax: 16, Align: text.AlignLeft},
		{Number: 2, WidthMin: 28, WidthMax: 40, Align: text.AlignLeft},
	})
	t.Render()
}
