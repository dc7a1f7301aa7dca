package anomaly

import (
	"math"
	"strings"
	"testing"
	"time"

	"anomaly-trader/internal/model"
	"anomaly-trader/internal/window"
)

func tbar(i int, open, close float64, volume int64) model.Bar {
	hi, lo := close, close
	if open > hi {
		hi = open
	}
	if open < lo {
		lo = open
	}
	return model.Bar{
		Symbol: "TEST",
		TS:     time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
		Open:   open,
		High:   hi + 0.5,
		Low:    lo - 0.5,
		Close:  close,
		Volume: volume,
	}
}

// fillWindow loads n flat bars at the given close so z-score and volume
// baselines are stable, and returns the window plus the next bar index.
func fillWindow(n int, close float64, volume int64) (*window.Window, int) {
	w := window.New(n)
	for i := 0; i < n; i++ {
		w.Push(tbar(i, close, close, volume))
	}
	return w, n
}

func evaluate(t *testing.T, d *Detector, w *window.Window, b model.Bar, osc, prevOsc float64) model.AnomalySignal {
	t.Helper()
	w.Push(b)
	return d.Evaluate(Input{
		Bar:            b,
		Win:            w,
		Oscillator:     osc,
		PrevOscillator: prevOsc,
		OscillatorOK:   true,
	})
}

func TestDetector_QuietBarIsNone(t *testing.T) {
	d := NewDetector(1.0, 30)
	w, i := fillWindow(20, 100, 1000)
	sig := evaluate(t, d, w, tbar(i, 100, 100, 1000), 50, 50)

	if sig.Direction != model.DirectionNone {
		t.Errorf("direction = %s, want NONE", sig.Direction)
	}
	if len(sig.Conditions) != 0 {
		t.Errorf("conditions = %v, want none", sig.Conditions)
	}
	if sig.Reason != "" {
		t.Errorf("quiet bar must not carry a rejection reason, got %q", sig.Reason)
	}
}

func TestDetector_ExtremeDropTagsBuy(t *testing.T) {
	d := NewDetector(1.0, 30)
	w, i := fillWindow(20, 100, 1000)
	// Close falls 5% in one bar: extreme_drop (sev 5/3) and a deeply negative
	// z-score over the near-flat window.
	sig := evaluate(t, d, w, tbar(i, 100, 95, 1000), 45, 50)

	if sig.Direction != model.DirectionBuy {
		t.Errorf("direction = %s, want BUY", sig.Direction)
	}
	if !sig.HasCondition(model.CondExtremeDrop) {
		t.Errorf("conditions = %v, want extreme_drop", sig.Conditions)
	}
	if !sig.HasCondition(model.CondOversold) {
		t.Errorf("conditions = %v, want oversold z-score", sig.Conditions)
	}
	if sig.Severity < 5.0/3.0 {
		t.Errorf("severity = %.3f, want at least |pct|/3 = %.3f", sig.Severity, 5.0/3.0)
	}
	if !sig.Actionable() {
		t.Error("BUY signal above threshold must be actionable")
	}
}

func TestDetector_GapUpTagsSell(t *testing.T) {
	d := NewDetector(1.0, 30)
	w, i := fillWindow(20, 100, 1000)
	// Opens 3% above prior close but closes back flat: gap_up only.
	sig := evaluate(t, d, w, tbar(i, 103, 100, 1000), 55, 54)

	if !sig.HasCondition(model.CondGapUp) {
		t.Fatalf("conditions = %v, want gap_up", sig.Conditions)
	}
	if sig.Direction != model.DirectionSell {
		t.Errorf("direction = %s, want SELL", sig.Direction)
	}
	// gap severity = |gap|/2 = 1.5
	if math.Abs(sig.Severity-1.5) > 0.05 {
		t.Errorf("severity = %.3f, want ~1.5", sig.Severity)
	}
}

func TestDetector_OscillatorExtremes(t *testing.T) {
	d := NewDetector(1.0, 30)

	w, i := fillWindow(20, 100, 1000)
	sig := evaluate(t, d, w, tbar(i, 100, 100, 1000), 18, 32)
	if !sig.HasCondition(model.CondRSIOversold) {
		t.Errorf("conditions = %v, want rsi_oversold", sig.Conditions)
	}
	if !sig.HasCondition(model.CondRSICrossUnder) {
		t.Errorf("conditions = %v, want rsi_cross_under (32 -> 18 through 30)", sig.Conditions)
	}
	// (30-18)/10 + (30-18)/10
	if math.Abs(sig.Severity-2.4) > 1e-9 {
		t.Errorf("severity = %.3f, want 2.4", sig.Severity)
	}
	if sig.Direction != model.DirectionBuy {
		t.Errorf("direction = %s, want BUY", sig.Direction)
	}

	w, i = fillWindow(20, 100, 1000)
	sig = evaluate(t, d, w, tbar(i, 100, 100, 1000), 85, 80)
	if !sig.HasCondition(model.CondRSIOverbought) {
		t.Errorf("conditions = %v, want rsi_overbought", sig.Conditions)
	}
	if sig.Direction != model.DirectionSell {
		t.Errorf("direction = %s, want SELL", sig.Direction)
	}
}

func TestDetector_MixedIsActionable(t *testing.T) {
	d := NewDetector(1.0, 30)
	w, i := fillWindow(20, 100, 1000)
	// Gap down 3% (buy side) but oscillator overbought (sell side).
	sig := evaluate(t, d, w, tbar(i, 97, 99.5, 1000), 75, 74)

	if sig.Direction != model.DirectionMixed {
		t.Fatalf("direction = %s, want MIXED (conditions %v)", sig.Direction, sig.Conditions)
	}
	if !sig.Actionable() {
		t.Error("MIXED must be buy-eligible")
	}
}

func TestDetector_SeverityGateForcesNone(t *testing.T) {
	// Oscillator barely oversold: sev = (30-28)/10 = 0.2 < 1.0.
	d := NewDetector(1.0, 30)
	w, i := fillWindow(20, 100, 1000)
	sig := evaluate(t, d, w, tbar(i, 100, 100, 1000), 28, 31)

	if sig.Direction != model.DirectionNone {
		t.Errorf("direction = %s, want NONE after gating", sig.Direction)
	}
	if len(sig.Conditions) == 0 {
		t.Error("gated signal must keep its contributing conditions")
	}
	if !strings.Contains(sig.Reason, "< threshold") {
		t.Errorf("reason = %q, want a human-readable rejection", sig.Reason)
	}
	if sig.Actionable() {
		t.Error("gated signal must not be actionable")
	}
}

func TestDetector_VolumeSpikeIsDirectionNeutral(t *testing.T) {
	d := NewDetector(0.1, 30)
	w, i := fillWindow(20, 100, 1000)
	// 4x volume on an otherwise quiet bar: tag fires, direction stays NONE.
	sig := evaluate(t, d, w, tbar(i, 100, 100, 4000), 50, 50)

	if !sig.HasCondition(model.CondVolumeSpike) {
		t.Fatalf("conditions = %v, want volume_spike", sig.Conditions)
	}
	if sig.Direction != model.DirectionNone {
		t.Errorf("direction = %s, want NONE (spike alone sets no side)", sig.Direction)
	}
	if sig.Reason != "" {
		t.Errorf("tag-only NONE is not a gating rejection, got reason %q", sig.Reason)
	}
}

func TestDetector_PartialWindowSkipsZScore(t *testing.T) {
	d := NewDetector(0.1, 30)
	w := window.New(20)
	w.Push(tbar(0, 100, 100, 1000))
	b := tbar(1, 100, 95, 1000)
	w.Push(b)
	sig := d.Evaluate(Input{Bar: b, Win: w, Oscillator: 50, PrevOscillator: 50, OscillatorOK: true})

	if sig.HasCondition(model.CondOversold) {
		t.Error("z-score must not fire on a partially filled window")
	}
	if !sig.HasCondition(model.CondExtremeDrop) {
		t.Errorf("conditions = %v, want extreme_drop from the 5%% move", sig.Conditions)
	}
}
