package model

import (
	"context"
	"time"
)

// ── Collaborator Port Interfaces ──
// These interfaces decouple the signal/position engine from concrete
// implementations (REST brokers, websocket feeds, SQLite, Redis, Telegram).
// The engine never references a concrete broker SDK type.

// MarketDataSource supplies price bars.
type MarketDataSource interface {
	// LatestBar returns the most recent daily bar for symbol.
	// Returns an error wrapping ErrNotAvailable on transient failure.
	LatestBar(ctx context.Context, symbol string) (Bar, error)

	// HistoricalBars returns bars in [start, end], ordered by timestamp ascending.
	HistoricalBars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error)
}

// Fill confirms an executed order. The broker-reported quantity is
// authoritative: callers reconcile Position shares to it.
type Fill struct {
	OrderID string    `json:"order_id"`
	Symbol  string    `json:"symbol"`
	Shares  float64   `json:"shares"`
	Price   float64   `json:"price"`
	TS      time.Time `json:"ts"`
}

// Broker executes orders and reports account state. Implementations are
// assumed "dumb": they execute whatever they are told, so at-most-once
// submission per signal is the orchestrator's job. idempotencyKey lets the
// broker deduplicate retried submissions on its side.
type Broker interface {
	// SubmitEntry buys ~dollarAmount worth of symbol at market.
	// Returns an error wrapping ErrOrderRejected on refusal.
	SubmitEntry(ctx context.Context, symbol string, dollarAmount float64, idempotencyKey string) (Fill, error)

	// SubmitExit sells shares of symbol at market.
	SubmitExit(ctx context.Context, symbol string, shares float64, idempotencyKey string) (Fill, error)

	// AccountEquity returns current account equity in dollars.
	AccountEquity(ctx context.Context) (float64, error)
}

// OscillatorState is the persisted incremental state of the oscillator for
// one instrument: everything needed to continue the recurrence without
// history.
type OscillatorState struct {
	Symbol    string    `json:"symbol"`
	Period    int       `json:"period"`
	AvgGain   float64   `json:"avg_gain"`
	AvgLoss   float64   `json:"avg_loss"`
	PrevClose float64   `json:"prev_close"`
	Count     int       `json:"count"` // bars consumed, including the seed window
	LastTS    time.Time `json:"last_ts"`
}

// Store persists bars, oscillator states, positions and signals, keyed by
// symbol (and position id). The engine treats it as a per-instrument
// key-value store and never assumes cross-instrument transactions.
type Store interface {
	// WriteBars upserts bars for their symbols.
	WriteBars(ctx context.Context, bars []Bar) error

	// ReadBars returns stored bars for symbol after afterTS, ascending.
	ReadBars(ctx context.Context, symbol string, afterTS time.Time) ([]Bar, error)

	// LoadOscillatorState returns the stored state for symbol, or nil if none.
	LoadOscillatorState(ctx context.Context, symbol string) (*OscillatorState, error)

	// SaveOscillatorState upserts the state for its symbol.
	SaveOscillatorState(ctx context.Context, state OscillatorState) error

	// LoadOpenPositions returns all positions with status OPEN.
	LoadOpenPositions(ctx context.Context) ([]Position, error)

	// SavePosition upserts a position by id.
	SavePosition(ctx context.Context, pos Position) error

	// RecordSignal persists an emitted anomaly signal for audit.
	RecordSignal(ctx context.Context, sig AnomalySignal) error

	// Close releases underlying resources.
	Close() error
}

// Publisher fans out live bars and signals to the hot tier (latest-value
// cache plus pub/sub) for dashboards and other subscribers. Best-effort:
// the durable record lives in Store.
type Publisher interface {
	PublishBar(ctx context.Context, bar Bar) error
	PublishSignal(ctx context.Context, sig AnomalySignal) error
	Close() error
}

// NotifyEvent is what gets delivered to notification channels: either a
// fresh anomaly signal or an executed exit decision.
type NotifyEvent struct {
	Signal *AnomalySignal `json:"signal,omitempty"`
	Exit   *ExitDecision  `json:"exit,omitempty"`
}

// Notifier delivers trading events to an external channel. Fire-and-forget
// from the engine's perspective: failures are logged, never block a cycle.
type Notifier interface {
	Notify(ctx context.Context, event NotifyEvent) error
}
