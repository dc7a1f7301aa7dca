package backtest

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"anomaly-trader/internal/model"
)

// WriteReport renders the result as console tables: one summary block, one
// exit-reason histogram and one row per trade.
func WriteReport(w io.Writer, r *Result) {
	s := r.Stats

	sum := table.NewWriter()
	sum.SetOutputMirror(w)
	sum.SetTitle(fmt.Sprintf("Backtest %s", r.Symbol))
	sum.AppendRows([]table.Row{
		{"Trades", s.Trades},
		{"Win rate", fmt.Sprintf("%.1f%%", s.WinRate*100)},
		{"Total return", fmt.Sprintf("%+.2f%%", s.TotalReturnPct)},
		{"Avg return", fmt.Sprintf("%+.2f%%", s.AvgReturnPct)},
		{"Avg win", fmt.Sprintf("%+.2f%%", s.AvgWinPct)},
		{"Avg loss", fmt.Sprintf("%+.2f%%", s.AvgLossPct)},
		{"Avg holding", fmtHolding(s.AvgHolding)},
	})
	sum.Render()

	if len(s.ExitReasons) > 0 {
		reasons := table.NewWriter()
		reasons.SetOutputMirror(w)
		reasons.AppendHeader(table.Row{"Exit reason", "Count"})
		keys := make([]string, 0, len(s.ExitReasons))
		for k := range s.ExitReasons {
			keys = append(keys, string(k))
		}
		sort.Strings(keys)
		for _, k := range keys {
			reasons.AppendRow(table.Row{k, s.ExitReasons[model.ExitReason(k)]})
		}
		reasons.Render()
	}

	if len(r.Trades) > 0 {
		tr := table.NewWriter()
		tr.SetOutputMirror(w)
		tr.AppendHeader(table.Row{"Symbol", "Entry", "Exit", "Reason", "PnL %", "Held"})
		for _, t := range r.Trades {
			tr.AppendRow(table.Row{
				t.Symbol,
				fmt.Sprintf("%s @ %.2f", t.EntryTime.Format("2006-01-02"), t.EntryPrice),
				fmt.Sprintf("%s @ %.2f", t.ExitTime.Format("2006-01-02"), t.ExitPrice),
				string(t.ExitReason),
				fmt.Sprintf("%+.2f", t.PnLPct),
				fmtHolding(t.Holding),
			})
		}
		tr.Render()
	}
}

func fmtHolding(d time.Duration) string {
	days := int(d.Hours() / 24)
	if days > 0 {
		return fmt.Sprintf("%dd", days)
	}
	return d.Round(time.Minute).String()
}
