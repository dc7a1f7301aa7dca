package engine

import (
	"errors"
	"testing"
	"time"

	"anomaly-trader/internal/ledger"
	"anomaly-trader/internal/model"
)

var t0 = time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

func ebar(i int, close float64) model.Bar {
	return model.Bar{
		Symbol: "TEST",
		TS:     t0.AddDate(0, 0, i),
		Open:   close,
		High:   close + 0.5,
		Low:    close - 0.5,
		Close:  close,
		Volume: 1000,
	}
}

func testParams() Params {
	return Params{
		OscillatorPeriod: 14,
		WindowSize:       20,
		MinSeverity:      1.0,
		CrossUnderLevel:  30,
		TP2OffsetPct:     0.02,
	}
}

func testLedger() *ledger.Ledger {
	return ledger.New(ledger.Config{
		StopLossPct:      0.05,
		TrailingStopPct:  0.05,
		MaxHolding:       20 * 24 * time.Hour,
		MaxOpenPositions: 6,
	})
}

func flatHistory(n int, close float64) []model.Bar {
	bars := make([]model.Bar, n)
	for i := range bars {
		bars[i] = ebar(i, close)
	}
	return bars
}

func TestStep_ProducesSignalAfterWarmup(t *testing.T) {
	e := NewSymbolEngine("TEST", testParams(), testLedger())
	if err := e.Warmup(flatHistory(25, 100)); err != nil {
		t.Fatalf("Warmup: %v", err)
	}

	// A 5% single-bar crash must come out as an actionable BUY.
	res, err := e.Step(ebar(25, 95))
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res.Signal.Direction != model.DirectionBuy {
		t.Errorf("direction = %s, want BUY (conditions %v)", res.Signal.Direction, res.Signal.Conditions)
	}
	if !res.Signal.HasCondition(model.CondExtremeDrop) {
		t.Errorf("conditions = %v, want extreme_drop", res.Signal.Conditions)
	}
	if res.Exit != nil {
		t.Errorf("no position open, got exit %s", res.Exit.Reason)
	}
}

func TestStep_TicksOpenPosition(t *testing.T) {
	led := testLedger()
	e := NewSymbolEngine("TEST", testParams(), led)
	if err := e.Warmup(flatHistory(25, 100)); err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	if _, err := led.Open("pos-1", model.Fill{Symbol: "TEST", Shares: 10, Price: 100, TS: t0.AddDate(0, 0, 25)}); err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Close at 94 breaches the 5% initial stop (95).
	res, err := e.Step(ebar(26, 94))
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res.Exit == nil || res.Exit.Reason != model.ExitStopLoss {
		t.Fatalf("exit = %+v, want STOP_LOSS", res.Exit)
	}
	if res.Exit.Price != 94 {
		t.Errorf("decision price = %v, want the bar close 94", res.Exit.Price)
	}
}

func TestStep_RefsComeFromWindow(t *testing.T) {
	e := NewSymbolEngine("TEST", testParams(), testLedger())
	if err := e.Warmup(flatHistory(25, 100)); err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	res, err := e.Step(ebar(25, 100))
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res.Refs.TP1Target != 100 {
		t.Errorf("TP1 target = %v, want the 20-bar mean 100", res.Refs.TP1Target)
	}
	if diff := res.Refs.TP2Target - 102; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("TP2 target = %v, want median*1.02 = 102", res.Refs.TP2Target)
	}
}

func TestStep_OutOfOrderResetsState(t *testing.T) {
	e := NewSymbolEngine("TEST", testParams(), testLedger())
	if err := e.Warmup(flatHistory(25, 100)); err != nil {
		t.Fatalf("Warmup: %v", err)
	}

	// A stale bar is rejected and wipes the evaluation state.
	_, err := e.Step(ebar(3, 100))
	if !errors.Is(err, model.ErrOutOfOrderBar) {
		t.Fatalf("err = %v, want ErrOutOfOrderBar", err)
	}

	// The engine is back in warmup: the next bars yield no signal until the
	// oscillator re-seeds.
	res, err := e.Step(ebar(26, 95))
	if err != nil {
		t.Fatalf("Step after reset: %v", err)
	}
	if res.Signal.HasCondition(model.CondRSIOversold) || res.Signal.HasCondition(model.CondRSIOverbought) {
		t.Errorf("oscillator conditions fired while unseeded: %v", res.Signal.Conditions)
	}
}

func TestOscillatorState_RoundTripThroughEngine(t *testing.T) {
	e := NewSymbolEngine("TEST", testParams(), testLedger())
	if err := e.Warmup(flatHistory(25, 100)); err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	state := e.OscillatorState()
	if state.Symbol != "TEST" || state.Period != 14 {
		t.Fatalf("state = %+v", state)
	}

	e2 := NewSymbolEngine("TEST", testParams(), testLedger())
	e2.RestoreOscillator(state)
	for _, b := range flatHistory(25, 100) {
		e2.win.Push(b)
		e2.sma.Update(b.Close)
	}

	b := ebar(25, 103)
	r1, err1 := e.Step(b)
	r2, err2 := e2.Step(b)
	if err1 != nil || err2 != nil {
		t.Fatalf("Step: %v / %v", err1, err2)
	}
	if r1.Signal.Oscillator != r2.Signal.Oscillator {
		t.Errorf("oscillator diverged after restore: %v vs %v", r1.Signal.Oscillator, r2.Signal.Oscillator)
	}
}
