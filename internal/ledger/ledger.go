// Package ledger owns the set of open positions and their exit state
// machines. It is the source of truth for shares and entry price; broker
// fills only validate (and reconcile) the delta.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"anomaly-trader/internal/model"
)

// Config holds the exit-rule parameters shared by every position.
type Config struct {
	StopLossPct      float64       // initial stop distance below entry
	TrailingStopPct  float64       // trailing stop distance below the high-water mark
	MaxHolding       time.Duration // time stop
	MaxOpenPositions int
}

// TickRefs carries the per-bar reference levels the profit targets test
// against. A zero target disables that rule for the tick (e.g. the moving
// average is not yet seeded).
type TickRefs struct {
	TP1Target float64 // rolling-mean target for the first scaled exit
	TP2Target float64 // secondary threshold for the remainder
}

// Ledger tracks open positions keyed by symbol, at most one per symbol.
type Ledger struct {
	mu        sync.RWMutex
	cfg       Config
	positions map[string]*model.Position
	perf      *PerformanceTracker
}

// New creates an empty ledger.
func New(cfg Config) *Ledger {
	return &Ledger{
		cfg:       cfg,
		positions: make(map[string]*model.Position),
		perf:      NewPerformanceTracker(),
	}
}

// Performance exposes the rolling win/loss tracker for sizing decisions.
func (l *Ledger) Performance() *PerformanceTracker { return l.perf }

// CanOpen checks whether a new position for symbol is allowed.
// Returns false with a reason when not.
func (l *Ledger) CanOpen(symbol string) (bool, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.positions[symbol]; ok {
		return false, fmt.Sprintf("position already open for %s", symbol)
	}
	if l.cfg.MaxOpenPositions > 0 && len(l.positions) >= l.cfg.MaxOpenPositions {
		return false, fmt.Sprintf("open position limit reached (%d)", l.cfg.MaxOpenPositions)
	}
	return true, ""
}

// Open registers a position created from a confirmed entry fill. The fill's
// quantity and price are authoritative. Stops are derived from the config.
func (l *Ledger) Open(id string, fill model.Fill) (*model.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.positions[fill.Symbol]; ok {
		return nil, fmt.Errorf("position already open for %s", fill.Symbol)
	}
	if l.cfg.MaxOpenPositions > 0 && len(l.positions) >= l.cfg.MaxOpenPositions {
		return nil, fmt.Errorf("open position limit reached (%d)", l.cfg.MaxOpenPositions)
	}
	pos := &model.Position{
		ID:           id,
		Symbol:       fill.Symbol,
		EntryPrice:   fill.Price,
		EntryTime:    fill.TS,
		Shares:       fill.Shares,
		HighestPrice: fill.Price,
		InitialStop:  fill.Price * (1 - l.cfg.StopLossPct),
		TrailingStop: fill.Price * (1 - l.cfg.TrailingStopPct),
		StopLossPct:  l.cfg.StopLossPct,
		TrailStopPct: l.cfg.TrailingStopPct,
		Stage:        model.StageNone,
		Status:       model.StatusOpen,
	}
	l.positions[fill.Symbol] = pos
	return pos, nil
}

// Restore re-registers a previously persisted open position, e.g. on restart.
func (l *Ledger) Restore(pos model.Position) error {
	if pos.Status != model.StatusOpen {
		return fmt.Errorf("restore %s: status %s, want OPEN", pos.Symbol, pos.Status)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.positions[pos.Symbol]; ok {
		return fmt.Errorf("position already open for %s", pos.Symbol)
	}
	p := pos
	l.positions[pos.Symbol] = &p
	return nil
}

// Get returns a copy of the open position for symbol.
func (l *Ledger) Get(symbol string) (model.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if p, ok := l.positions[symbol]; ok {
		return *p, true
	}
	return model.Position{}, false
}

// OpenPositions returns a snapshot of all open positions.
func (l *Ledger) OpenPositions() []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	return out
}

// OpenCount returns the number of open positions.
func (l *Ledger) OpenCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}

// Tick advances symbol's position state machine at price/now and returns at
// most one exit decision. Rules run in strict precedence order; the first
// match wins. The trailing stop ratchets even when nothing exits, so the
// position mutates on every tick.
//
// Tick does not remove shares: the caller executes the decision against the
// broker and then calls ApplyExit with the confirmed fill.
func (l *Ledger) Tick(symbol string, price float64, now time.Time, refs TickRefs) *model.ExitDecision {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[symbol]
	if !ok {
		return nil
	}

	decide := func(reason model.ExitReason, shares float64) *model.ExitDecision {
		return &model.ExitDecision{
			PositionID: pos.ID,
			Symbol:     symbol,
			Reason:     reason,
			Shares:     shares,
			Price:      price,
			TS:         now,
		}
	}

	// 1. Initial stop-loss.
	if price <= pos.InitialStop {
		return decide(model.ExitStopLoss, pos.Shares)
	}

	// 2. Trailing stop: ratchet first, then test. The stop never moves down.
	if price > pos.HighestPrice {
		pos.HighestPrice = price
	}
	if trail := pos.HighestPrice * (1 - pos.TrailStopPct); trail > pos.TrailingStop {
		pos.TrailingStop = trail
	}
	if price <= pos.TrailingStop {
		return decide(model.ExitTrailingStop, pos.Shares)
	}

	// 3. First scaled profit target: half off at the reference mean.
	if pos.Stage == model.StageNone && refs.TP1Target > 0 && price >= refs.TP1Target {
		return decide(model.ExitTP1, pos.Shares/2)
	}

	// 4. Second profit target: the remainder, only after TP1.
	if pos.Stage == model.StageTP1Hit && refs.TP2Target > 0 && price >= refs.TP2Target {
		return decide(model.ExitTP2, pos.Shares)
	}

	// 5. Time stop.
	if now.Sub(pos.EntryTime) >= l.cfg.MaxHolding {
		return decide(model.ExitTimeStop, pos.Shares)
	}

	return nil
}

// ApplyExit reconciles a confirmed exit fill into the position. The fill
// quantity is authoritative: a TP1 fill reduces shares and advances the
// stage; any fill that takes shares to zero (or below dust) closes the
// position and records the round-trip result in the performance tracker.
func (l *Ledger) ApplyExit(decision model.ExitDecision, fill model.Fill) (model.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[decision.Symbol]
	if !ok {
		return model.Position{}, fmt.Errorf("apply exit %s: no open position", decision.Symbol)
	}

	pos.Shares -= fill.Shares
	if decision.Reason == model.ExitTP1 {
		pos.Stage = model.StageTP1Hit
	}

	const dust = 1e-9
	if pos.Shares <= dust {
		pos.Shares = 0
		pos.Status = model.StatusClosed
		delete(l.positions, decision.Symbol)
		l.perf.Record(decision.Symbol, fill.Price > pos.EntryPrice)
	}
	return *pos, nil
}
