package indicator

import (
	"errors"
	"math"
	"testing"
	"time"

	"anomaly-trader/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

var baseTS = time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC)

func bar(i int, close float64) model.Bar {
	return model.Bar{
		Symbol: "TEST",
		TS:     baseTS.Add(time.Duration(i) * time.Minute),
		Open:   close,
		High:   close + 0.5,
		Low:    close - 0.5,
		Close:  close,
		Volume: 1000,
	}
}

func bars(closes ...float64) []model.Bar {
	out := make([]model.Bar, len(closes))
	for i, c := range closes {
		out[i] = bar(i, c)
	}
	return out
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// fullRSI recomputes RSI from the entire series (SMA seed + Wilder recurrence)
// the textbook way, for cross-checking the incremental path.
func fullRSI(closes []float64, period int) float64 {
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			avgGain += d
		} else {
			avgLoss += -d
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	p := float64(period)
	for i := period + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if d > 0 {
			gain = d
		} else {
			loss = -d
		}
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
	}
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

// ────────────────────────────────────────────────────────────
// RSI Correctness
// ────────────────────────────────────────────────────────────

func TestRSI_AllGains_Exactly100(t *testing.T) {
	// 15 monotonically rising closes, period 14: avgLoss is zero,
	// so the value must be exactly 100.0, not a near-100 float.
	closes := make([]float64, 15)
	for i := range closes {
		closes[i] = 100.0 + float64(i)
	}
	rsi := NewRSI("TEST", 14)
	if err := rsi.Seed(bars(closes...)); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if rsi.Value() != 100.0 {
		t.Errorf("all-gains RSI = %v, want exactly 100.0", rsi.Value())
	}
}

func TestRSI_AllLosses_Zero(t *testing.T) {
	closes := make([]float64, 15)
	for i := range closes {
		closes[i] = 200.0 - float64(i)
	}
	rsi := NewRSI("TEST", 14)
	if err := rsi.Seed(bars(closes...)); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	assertClose(t, "all-losses RSI", rsi.Value(), 0.0, 1e-9)
}

func TestRSI_Bounds(t *testing.T) {
	// A noisy series must keep RSI inside [0, 100] at every step.
	closes := []float64{
		100, 103, 99, 104, 98, 107, 95, 110, 93, 112,
		91, 115, 120, 88, 130, 85, 140, 80, 150, 75,
	}
	rsi := NewRSI("TEST", 14)
	for i, c := range closes {
		v, err := rsi.Advance(bar(i, c))
		if err != nil {
			continue
		}
		if v < 0 || v > 100 {
			t.Errorf("bar %d: RSI %v out of [0, 100]", i, v)
		}
	}
	if !rsi.Ready() {
		t.Error("Ready() = false after 20 bars with period 14")
	}
}

func TestRSI_IncrementalMatchesFullRecompute(t *testing.T) {
	// Seeding on a prefix then advancing bar by bar must agree with a
	// full recompute over the whole series at every step.
	closes := []float64{
		44.34, 44.09, 44.15, 43.61, 44.33, 44.83, 45.10, 45.42,
		45.84, 46.08, 45.89, 46.03, 45.61, 46.28, 46.28, 46.00,
		46.03, 46.41, 46.22, 45.64, 46.21, 46.25, 45.71, 46.45,
	}
	const period = 14

	rsi := NewRSI("TEST", period)
	if err := rsi.Seed(bars(closes[:period+1]...)); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	for i := period + 1; i < len(closes); i++ {
		got, err := rsi.Advance(bar(i, closes[i]))
		if err != nil {
			t.Fatalf("Advance bar %d: %v", i, err)
		}
		want := fullRSI(closes[:i+1], period)
		assertClose(t, "RSI incremental vs full", got, want, 1e-9)
	}
}

func TestRSI_InsufficientData(t *testing.T) {
	rsi := NewRSI("TEST", 14)
	err := rsi.Seed(bars(100, 101, 102))
	if !errors.Is(err, model.ErrInsufficientData) {
		t.Errorf("Seed with 3 bars: err = %v, want ErrInsufficientData", err)
	}

	rsi = NewRSI("TEST", 14)
	for i := 0; i < 14; i++ {
		_, err := rsi.Advance(bar(i, 100+float64(i)))
		if !errors.Is(err, model.ErrInsufficientData) {
			t.Errorf("Advance bar %d: err = %v, want ErrInsufficientData", i, err)
		}
		if rsi.Ready() {
			t.Errorf("Ready() = true at bar %d with period 14", i)
		}
	}
	// Bar 15 (index 14) completes the seed window.
	if _, err := rsi.Advance(bar(14, 120)); err != nil {
		t.Errorf("Advance bar 14: unexpected err %v", err)
	}
	if !rsi.Ready() {
		t.Error("Ready() = false after period+1 bars")
	}
}

func TestRSI_OutOfOrderBarRejected(t *testing.T) {
	closes := make([]float64, 16)
	for i := range closes {
		closes[i] = 100.0 + math.Sin(float64(i))
	}
	rsi := NewRSI("TEST", 14)
	if err := rsi.Seed(bars(closes...)); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	before := rsi.Value()

	// Same timestamp as the last accepted bar.
	stale := bar(len(closes)-1, 99)
	if _, err := rsi.Advance(stale); !errors.Is(err, model.ErrOutOfOrderBar) {
		t.Errorf("duplicate TS: err = %v, want ErrOutOfOrderBar", err)
	}
	// Earlier timestamp.
	older := bar(0, 99)
	if _, err := rsi.Advance(older); !errors.Is(err, model.ErrOutOfOrderBar) {
		t.Errorf("older TS: err = %v, want ErrOutOfOrderBar", err)
	}
	assertClose(t, "value untouched after rejects", rsi.Value(), before, 0)

	// A later bar still advances normally.
	if _, err := rsi.Advance(bar(len(closes), 101)); err != nil {
		t.Errorf("in-order bar after rejects: %v", err)
	}
}

func TestRSI_StateRoundTrip(t *testing.T) {
	closes := []float64{
		44.34, 44.09, 44.15, 43.61, 44.33, 44.83, 45.10, 45.42,
		45.84, 46.08, 45.89, 46.03, 45.61, 46.28, 46.28, 46.00,
	}
	rsi := NewRSI("TEST", 14)
	if err := rsi.Seed(bars(closes...)); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	restored := Restore(rsi.State())

	// Both continue identically on the same future bars.
	future := []float64{46.03, 46.41, 46.22, 45.64}
	for i, c := range future {
		b := bar(len(closes)+i, c)
		want, err1 := rsi.Advance(b)
		got, err2 := restored.Advance(b)
		if err1 != nil || err2 != nil {
			t.Fatalf("Advance: %v / %v", err1, err2)
		}
		assertClose(t, "restored vs original", got, want, 1e-12)
	}
}

func TestRSI_ReseedDiscardsState(t *testing.T) {
	rsi := NewRSI("TEST", 14)
	closes := make([]float64, 16)
	for i := range closes {
		closes[i] = 100 + float64(i%5)
	}
	if err := rsi.Seed(bars(closes...)); err != nil {
		t.Fatalf("first Seed: %v", err)
	}

	// Re-seed with an all-gains series — the old averages must not leak.
	rising := make([]float64, 15)
	for i := range rising {
		rising[i] = 50.0 + float64(i)
	}
	if err := rsi.Seed(bars(rising...)); err != nil {
		t.Fatalf("second Seed: %v", err)
	}
	if rsi.Value() != 100.0 {
		t.Errorf("re-seeded all-gains RSI = %v, want exactly 100.0", rsi.Value())
	}
}

// ────────────────────────────────────────────────────────────
// SMA Correctness
// ────────────────────────────────────────────────────────────

func TestSMA_Correctness_Period3(t *testing.T) {
	// Hand-calculated SMA(3):
	// Prices: 100, 102, 104, 103, 105
	// SMA after bar 3: (100+102+104)/3 = 102.0
	// SMA after bar 4: (102+104+103)/3 = 103.0
	// SMA after bar 5: (104+103+105)/3 = 104.0

	sma := NewSMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 103.0, 104.0}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		sma.Update(p)
		if sma.Ready() != ready[i] {
			t.Errorf("bar %d: Ready()=%v, want %v", i, sma.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "SMA(3)", sma.Value(), expected[i], 0.0001)
		}
	}
}

func TestSMA_Reset(t *testing.T) {
	sma := NewSMA(3)
	for _, p := range []float64{100, 102, 104} {
		sma.Update(p)
	}
	sma.Reset()
	if sma.Ready() {
		t.Error("Ready() = true after Reset")
	}
	for _, p := range []float64{10, 20, 30} {
		sma.Update(p)
	}
	assertClose(t, "SMA after Reset", sma.Value(), 20.0, 0.0001)
}
