package model

import (
	"encoding/json"
	"time"
)

// PositionStatus is the lifecycle state of a Position.
type PositionStatus string

const (
	StatusOpen   PositionStatus = "OPEN"
	StatusClosed PositionStatus = "CLOSED"
)

// ProfitStage tracks scaled profit-taking progress for an open position.
type ProfitStage string

const (
	StageNone   ProfitStage = "NONE"
	StageTP1Hit ProfitStage = "TP1_HIT"
)

// ExitReason identifies which rule closed (or reduced) a position.
type ExitReason string

const (
	ExitStopLoss     ExitReason = "STOP_LOSS"
	ExitTrailingStop ExitReason = "TRAILING_STOP"
	ExitTP1          ExitReason = "TP1"
	ExitTP2          ExitReason = "TP2"
	ExitTimeStop     ExitReason = "TIME_STOP"
	ExitEndOfData    ExitReason = "END_OF_DATA"
)

// Position is a tracked round-trip for one instrument. Shares follow broker
// fill confirmations: the ledger reconciles to the filled quantity, not the
// decided one. Mutated in place by the ledger on every tick; exactly one
// Position exists per round-trip, including across partial exits.
type Position struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	EntryPrice float64   `json:"entry_price"`
	EntryTime  time.Time `json:"entry_time"`
	Shares     float64   `json:"shares"`

	HighestPrice float64 `json:"highest_price"` // highest price since entry
	InitialStop  float64 `json:"initial_stop"`  // entry * (1 - stop_loss_pct)
	TrailingStop float64 `json:"trailing_stop"` // ratchets up, never down
	StopLossPct  float64 `json:"stop_loss_pct"`
	TrailStopPct float64 `json:"trail_stop_pct"`

	Stage  ProfitStage    `json:"stage"`
	Status PositionStatus `json:"status"`
}

// UnrealizedPct returns the unrealized return at price, in percent.
func (p *Position) UnrealizedPct(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice * 100
}

// HoldingPeriod returns how long the position has been held as of now.
func (p *Position) HoldingPeriod(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}

// JSON returns the JSON-encoded position.
func (p *Position) JSON() []byte {
	data, _ := json.Marshal(p)
	return data
}

// ExitDecision is the single decision (if any) the ledger produces for one
// position on one price tick.
type ExitDecision struct {
	PositionID string     `json:"position_id"`
	Symbol     string     `json:"symbol"`
	Reason     ExitReason `json:"reason"`
	Shares     float64    `json:"shares"` // shares to exit (may be partial for TP1)
	Price      float64    `json:"price"`  // price the decision was evaluated at
	TS         time.Time  `json:"ts"`
}

// Partial reports whether the decision leaves the position open.
func (d *ExitDecision) Partial() bool {
	return d.Reason == ExitTP1
}
