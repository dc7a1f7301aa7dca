package model

import "time"

// BacktestTrade is one completed round-trip leg produced by the replay engine.
// Scaled exits produce one trade per leg (the TP1 leg and the remainder leg
// share an entry but have independent exits). Immutable once emitted.
type BacktestTrade struct {
	Symbol     string        `json:"symbol"`
	EntryTime  time.Time     `json:"entry_time"`
	EntryPrice float64       `json:"entry_price"`
	ExitTime   time.Time     `json:"exit_time"`
	ExitPrice  float64       `json:"exit_price"`
	ExitReason ExitReason    `json:"exit_reason"`
	Shares     float64       `json:"shares"`
	PnLPct     float64       `json:"pnl_pct"`
	Holding    time.Duration `json:"holding"`
}

// Win reports whether the trade closed at a profit.
func (t *BacktestTrade) Win() bool {
	return t.PnLPct > 0
}
