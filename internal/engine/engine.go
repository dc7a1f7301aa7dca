// Package engine hosts the per-symbol evaluation core shared by the live
// orchestrator and the replay backtester. Both paths feed bars through the
// same Step, so position-lifecycle decisions are identical given the same
// sequence; only fill prices differ between the two.
package engine

import (
	"errors"
	"fmt"

	"anomaly-trader/internal/anomaly"
	"anomaly-trader/internal/indicator"
	"anomaly-trader/internal/ledger"
	"anomaly-trader/internal/model"
	"anomaly-trader/internal/window"
)

// Params configures a SymbolEngine.
type Params struct {
	OscillatorPeriod int
	WindowSize       int
	MinSeverity      float64
	CrossUnderLevel  float64
	TP2OffsetPct     float64 // TP2 threshold sits this fraction above the rolling median
}

// StepResult is everything one bar's evaluation produced.
type StepResult struct {
	Signal model.AnomalySignal
	Exit   *model.ExitDecision // nil when no exit rule fired
	Refs   ledger.TickRefs     // reference levels the tick was evaluated with
}

// SymbolEngine owns all per-symbol evaluation state: the oscillator, the
// rolling window, the TP1 reference mean. Single-threaded per symbol; the
// ledger it ticks is shared and synchronizes internally.
type SymbolEngine struct {
	symbol  string
	params  Params
	rsi     *indicator.RSI
	sma     *indicator.SMA
	win     *window.Window
	det     *anomaly.Detector
	led     *ledger.Ledger
	prevOsc float64
}

// NewSymbolEngine creates an engine for one symbol sharing the given ledger.
func NewSymbolEngine(symbol string, params Params, led *ledger.Ledger) *SymbolEngine {
	return &SymbolEngine{
		symbol: symbol,
		params: params,
		rsi:    indicator.NewRSI(symbol, params.OscillatorPeriod),
		sma:    indicator.NewSMA(params.WindowSize),
		win:    window.New(params.WindowSize),
		det:    anomaly.NewDetector(params.MinSeverity, params.CrossUnderLevel),
		led:    led,
	}
}

// Symbol returns the engine's instrument.
func (e *SymbolEngine) Symbol() string { return e.symbol }

// Warmup seeds the oscillator and window from historical bars, oldest first.
func (e *SymbolEngine) Warmup(bars []model.Bar) error {
	if err := e.rsi.Seed(bars); err != nil {
		return fmt.Errorf("warmup %s: %w", e.symbol, err)
	}
	for _, b := range bars {
		e.win.Push(b)
		e.sma.Update(b.Close)
	}
	e.prevOsc = e.rsi.Value()
	return nil
}

// RestoreOscillator resumes the oscillator from a persisted checkpoint.
func (e *SymbolEngine) RestoreOscillator(state model.OscillatorState) {
	e.rsi = indicator.Restore(state)
	e.prevOsc = e.rsi.Value()
}

// OscillatorState returns the current checkpoint for persistence.
func (e *SymbolEngine) OscillatorState() model.OscillatorState {
	return e.rsi.State()
}

// Step evaluates one bar: advance the oscillator, score the anomaly battery,
// then tick the position state machine at the bar's close. Decisions are
// evaluated at bar close in both the live and replay paths.
//
// An out-of-order bar re-initializes the per-symbol state (a documented data
// gap) and is reported back; the running averages are never silently
// corrupted.
func (e *SymbolEngine) Step(bar model.Bar) (StepResult, error) {
	prevOsc := e.prevOsc
	osc, err := e.rsi.Advance(bar)
	switch {
	case errors.Is(err, model.ErrOutOfOrderBar):
		e.reset()
		return StepResult{}, err
	case errors.Is(err, model.ErrInsufficientData):
		// Still warming up: accumulate window state, no signal yet.
	case err != nil:
		return StepResult{}, err
	}
	oscReady := e.rsi.Ready()
	e.prevOsc = osc

	e.win.Push(bar)
	e.sma.Update(bar.Close)

	sig := e.det.Evaluate(anomaly.Input{
		Bar:            bar,
		Win:            e.win,
		Oscillator:     osc,
		PrevOscillator: prevOsc,
		OscillatorOK:   oscReady,
	})

	refs := e.refs()
	exit := e.led.Tick(e.symbol, bar.Close, bar.TS, refs)

	return StepResult{Signal: sig, Exit: exit, Refs: refs}, nil
}

// refs derives the profit-target reference levels from the current window.
// Zero values disable the corresponding rule until the window is seeded.
func (e *SymbolEngine) refs() ledger.TickRefs {
	var r ledger.TickRefs
	if e.sma.Ready() {
		r.TP1Target = e.sma.Value()
	}
	if e.win.Full() {
		r.TP2Target = e.win.MedianClose() * (1 + e.params.TP2OffsetPct)
	}
	return r
}

// reset discards per-symbol evaluation state after a data gap.
func (e *SymbolEngine) reset() {
	e.rsi = indicator.NewRSI(e.symbol, e.params.OscillatorPeriod)
	e.sma = indicator.NewSMA(e.params.WindowSize)
	e.win = window.New(e.params.WindowSize)
	e.prevOsc = 0
}
