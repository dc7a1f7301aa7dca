package ledger

import (
	"math"
	"testing"
	"time"

	"anomaly-trader/internal/model"
)

var entryTS = time.Date(2024, 6, 3, 20, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		StopLossPct:      0.05,
		TrailingStopPct:  0.05,
		MaxHolding:       20 * 24 * time.Hour,
		MaxOpenPositions: 6,
	}
}

func openAt(t *testing.T, l *Ledger, symbol string, price, shares float64) *model.Position {
	t.Helper()
	pos, err := l.Open("pos-"+symbol, model.Fill{
		OrderID: "ord-" + symbol,
		Symbol:  symbol,
		Shares:  shares,
		Price:   price,
		TS:      entryTS,
	})
	if err != nil {
		t.Fatalf("Open %s: %v", symbol, err)
	}
	return pos
}

func exitFill(d *model.ExitDecision) model.Fill {
	return model.Fill{
		OrderID: "exit-" + d.Symbol,
		Symbol:  d.Symbol,
		Shares:  d.Shares,
		Price:   d.Price,
		TS:      d.TS,
	}
}

func TestTick_StopLossBeatsTrailingStop(t *testing.T) {
	// Entry 100, stop 5% -> 95. Run the price to 110 so the trailing stop
	// ratchets to 104.5, then crash to 90: both stops are breached, but the
	// initial stop-loss has precedence.
	l := New(testConfig())
	openAt(t, l, "AAPL", 100, 10)

	if d := l.Tick("AAPL", 110, entryTS.Add(24*time.Hour), TickRefs{}); d != nil {
		t.Fatalf("tick at 110: unexpected exit %s", d.Reason)
	}
	pos, _ := l.Get("AAPL")
	if math.Abs(pos.TrailingStop-104.5) > 1e-9 {
		t.Fatalf("trailing stop = %.4f, want 104.5", pos.TrailingStop)
	}

	d := l.Tick("AAPL", 90, entryTS.Add(48*time.Hour), TickRefs{})
	if d == nil {
		t.Fatal("tick at 90: no exit decision")
	}
	if d.Reason != model.ExitStopLoss {
		t.Errorf("reason = %s, want STOP_LOSS (precedence over trailing)", d.Reason)
	}
	if d.Shares != 10 {
		t.Errorf("exit shares = %v, want all 10", d.Shares)
	}
}

func TestTick_TrailingStopRatchetsAndFires(t *testing.T) {
	l := New(testConfig())
	openAt(t, l, "MSFT", 100, 10)

	// Ratchet up through rising prices; the stop must never move down.
	prevTrail := 0.0
	for i, price := range []float64{102, 106, 110, 108, 109} {
		now := entryTS.Add(time.Duration(i+1) * 24 * time.Hour)
		if d := l.Tick("MSFT", price, now, TickRefs{}); d != nil {
			t.Fatalf("tick at %.0f: unexpected exit %s", price, d.Reason)
		}
		pos, _ := l.Get("MSFT")
		if pos.TrailingStop < prevTrail {
			t.Fatalf("trailing stop moved down: %.4f -> %.4f", prevTrail, pos.TrailingStop)
		}
		prevTrail = pos.TrailingStop
	}
	// High-water mark is 110, so the stop sits at 104.5.
	if math.Abs(prevTrail-104.5) > 1e-9 {
		t.Fatalf("trailing stop = %.4f, want 104.5", prevTrail)
	}

	d := l.Tick("MSFT", 104, entryTS.Add(6*24*time.Hour), TickRefs{})
	if d == nil || d.Reason != model.ExitTrailingStop {
		t.Fatalf("tick at 104: got %+v, want TRAILING_STOP", d)
	}
	if d.Shares != 10 {
		t.Errorf("exit shares = %v, want all 10", d.Shares)
	}
}

func TestTick_ScaledProfitTargets(t *testing.T) {
	l := New(testConfig())
	openAt(t, l, "NVDA", 100, 10)

	// TP1: half off when price reaches the reference mean.
	d := l.Tick("NVDA", 106, entryTS.Add(24*time.Hour), TickRefs{TP1Target: 105, TP2Target: 112})
	if d == nil || d.Reason != model.ExitTP1 {
		t.Fatalf("tick at 106: got %+v, want TP1", d)
	}
	if d.Shares != 5 {
		t.Errorf("TP1 shares = %v, want half (5)", d.Shares)
	}
	if !d.Partial() {
		t.Error("TP1 decision must be partial")
	}
	pos, err := l.ApplyExit(*d, exitFill(d))
	if err != nil {
		t.Fatalf("ApplyExit TP1: %v", err)
	}
	if pos.Shares != 5 || pos.Stage != model.StageTP1Hit || pos.Status != model.StatusOpen {
		t.Fatalf("after TP1: shares=%v stage=%s status=%s", pos.Shares, pos.Stage, pos.Status)
	}

	// TP1 must not fire twice.
	if d := l.Tick("NVDA", 106, entryTS.Add(36*time.Hour), TickRefs{TP1Target: 105, TP2Target: 112}); d != nil {
		t.Fatalf("second TP1 tick: unexpected %s", d.Reason)
	}

	// TP2 takes the remainder once the secondary threshold is exceeded.
	d = l.Tick("NVDA", 113, entryTS.Add(48*time.Hour), TickRefs{TP1Target: 105, TP2Target: 112})
	if d == nil || d.Reason != model.ExitTP2 {
		t.Fatalf("tick at 113: got %+v, want TP2", d)
	}
	if d.Shares != 5 {
		t.Errorf("TP2 shares = %v, want remaining 5", d.Shares)
	}
	pos, err = l.ApplyExit(*d, exitFill(d))
	if err != nil {
		t.Fatalf("ApplyExit TP2: %v", err)
	}
	if pos.Status != model.StatusClosed || pos.Shares != 0 {
		t.Fatalf("after TP2: status=%s shares=%v, want CLOSED/0", pos.Status, pos.Shares)
	}
	if _, ok := l.Get("NVDA"); ok {
		t.Error("closed position still in ledger")
	}
}

func TestTick_TP2RequiresTP1(t *testing.T) {
	l := New(testConfig())
	openAt(t, l, "AMZN", 100, 10)

	// Price above the TP2 threshold but TP1 reference unavailable: with
	// stage NONE the TP2 rule must stay silent.
	d := l.Tick("AMZN", 113, entryTS.Add(24*time.Hour), TickRefs{TP2Target: 112})
	if d != nil {
		t.Fatalf("got %s, want no exit before TP1", d.Reason)
	}
}

func TestTick_TimeStop(t *testing.T) {
	l := New(testConfig())
	openAt(t, l, "GOOG", 100, 10)

	// Day 19: inside the holding window, price quiet, no exit.
	if d := l.Tick("GOOG", 101, entryTS.Add(19*24*time.Hour), TickRefs{}); d != nil {
		t.Fatalf("day 19: unexpected exit %s", d.Reason)
	}
	// Day 20: the time stop fires for all remaining shares.
	d := l.Tick("GOOG", 101, entryTS.Add(20*24*time.Hour), TickRefs{})
	if d == nil || d.Reason != model.ExitTimeStop {
		t.Fatalf("day 20: got %+v, want TIME_STOP", d)
	}
	if d.Shares != 10 {
		t.Errorf("exit shares = %v, want all 10", d.Shares)
	}
}

func TestTick_ExactlyOneDecisionPerTick(t *testing.T) {
	// A bar that satisfies TP1, TP2 and the time stop at once must still
	// produce a single decision, chosen by precedence.
	cfg := testConfig()
	cfg.MaxHolding = time.Hour
	l := New(cfg)
	openAt(t, l, "META", 100, 10)

	d := l.Tick("META", 120, entryTS.Add(2*time.Hour), TickRefs{TP1Target: 105, TP2Target: 112})
	if d == nil {
		t.Fatal("no decision")
	}
	if d.Reason != model.ExitTP1 {
		t.Errorf("reason = %s, want TP1 ahead of TP2/TIME_STOP", d.Reason)
	}
}

func TestOpen_EnforcesLimits(t *testing.T) {
	cfg := testConfig()
	cfg.MaxOpenPositions = 2
	l := New(cfg)
	openAt(t, l, "A", 100, 1)
	openAt(t, l, "B", 100, 1)

	if ok, reason := l.CanOpen("A"); ok || reason == "" {
		t.Error("CanOpen must refuse a duplicate symbol with a reason")
	}
	if ok, reason := l.CanOpen("C"); ok || reason == "" {
		t.Error("CanOpen must refuse beyond the position limit with a reason")
	}
	if _, err := l.Open("pos-C", model.Fill{Symbol: "C", Shares: 1, Price: 100, TS: entryTS}); err == nil {
		t.Error("Open beyond the limit must error")
	}
}

func TestApplyExit_FillQuantityAuthoritative(t *testing.T) {
	l := New(testConfig())
	openAt(t, l, "TSLA", 100, 10)

	d := l.Tick("TSLA", 106, entryTS.Add(24*time.Hour), TickRefs{TP1Target: 105})
	if d == nil || d.Reason != model.ExitTP1 {
		t.Fatalf("got %+v, want TP1", d)
	}
	// Broker filled 4, not the requested 5: the ledger reconciles to the fill.
	fill := exitFill(d)
	fill.Shares = 4
	pos, err := l.ApplyExit(*d, fill)
	if err != nil {
		t.Fatalf("ApplyExit: %v", err)
	}
	if pos.Shares != 6 {
		t.Errorf("shares = %v, want 6 (10 - broker-reported 4)", pos.Shares)
	}
}

func TestPerformanceMultiplier(t *testing.T) {
	tr := NewPerformanceTracker()
	if m := tr.Multiplier("X"); m != 1.0 {
		t.Errorf("no history: multiplier = %v, want 1.0", m)
	}

	record := func(sym string, wins, losses int) {
		for i := 0; i < wins; i++ {
			tr.Record(sym, true)
		}
		for i := 0; i < losses; i++ {
			tr.Record(sym, false)
		}
	}

	record("HOT", 6, 4) // 0.6
	record("OK", 5, 5)  // 0.5
	record("MEH", 4, 6) // 0.4
	record("BAD", 3, 7) // 0.3

	cases := []struct {
		symbol string
		want   float64
	}{
		{"HOT", 1.2},
		{"OK", 1.0},
		{"MEH", 0.8},
		{"BAD", 0.6},
	}
	for _, c := range cases {
		if m := tr.Multiplier(c.symbol); m != c.want {
			rate, n := tr.WinRate(c.symbol)
			t.Errorf("%s: multiplier = %v, want %v (rate %.2f over %d)", c.symbol, m, c.want, rate, n)
		}
	}
}

func TestPerformanceTracker_RollingWindow(t *testing.T) {
	tr := NewPerformanceTracker()
	// 20 losses, then 20 wins: the window must hold only the wins.
	for i := 0; i < 20; i++ {
		tr.Record("X", false)
	}
	for i := 0; i < 20; i++ {
		tr.Record("X", true)
	}
	rate, n := tr.WinRate("X")
	if n != perfWindow || rate != 1.0 {
		t.Errorf("rate = %.2f over %d, want 1.0 over %d", rate, n, perfWindow)
	}
}
