package backtest

import (
	"time"

	"anomaly-trader/internal/model"
)

// Stats are pure reductions over the emitted trade sequence.
type Stats struct {
	Trades int `json:"trades"`
	Wins   int `json:"wins"`
	Losses int `json:"losses"`

	WinRate        float64 `json:"win_rate"`
	TotalReturnPct float64 `json:"total_return_pct"`
	AvgReturnPct   float64 `json:"avg_return_pct"`
	AvgWinPct      float64 `json:"avg_win_pct"`
	AvgLossPct     float64 `json:"avg_loss_pct"`

	AvgHolding  time.Duration               `json:"avg_holding"`
	ExitReasons map[model.ExitReason]int    `json:"exit_reasons"`
}

// ComputeStats reduces a trade sequence to aggregate statistics.
func ComputeStats(trades []model.BacktestTrade) Stats {
	s := Stats{ExitReasons: make(map[model.ExitReason]int)}
	if len(trades) == 0 {
		return s
	}

	var winSum, lossSum float64
	var holdSum time.Duration
	for _, t := range trades {
		s.Trades++
		s.TotalReturnPct += t.PnLPct
		holdSum += t.Holding
		s.ExitReasons[t.ExitReason]++
		if t.Win() {
			s.Wins++
			winSum += t.PnLPct
		} else {
			s.Losses++
			lossSum += t.PnLPct
		}
	}

	n := float64(s.Trades)
	s.WinRate = float64(s.Wins) / n
	s.AvgReturnPct = s.TotalReturnPct / n
	if s.Wins > 0 {
		s.AvgWinPct = winSum / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLossPct = lossSum / float64(s.Losses)
	}
	s.AvgHolding = holdSum / time.Duration(s.Trades)
	return s
}
