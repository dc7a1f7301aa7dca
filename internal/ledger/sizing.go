package ledger

import "sync"

// perfWindow caps the rolling per-symbol result history.
const perfWindow = 20

// PerformanceTracker keeps a rolling win/loss record per symbol and derives
// the position-sizing multiplier from the recent win rate. Updated only when
// a position fully closes.
type PerformanceTracker struct {
	mu      sync.RWMutex
	results map[string][]bool // most recent last, capped at perfWindow
}

// NewPerformanceTracker creates an empty tracker.
func NewPerformanceTracker() *PerformanceTracker {
	return &PerformanceTracker{results: make(map[string][]bool)}
}

// Record appends one round-trip result for symbol.
func (t *PerformanceTracker) Record(symbol string, win bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := append(t.results[symbol], win)
	if len(r) > perfWindow {
		r = r[len(r)-perfWindow:]
	}
	t.results[symbol] = r
}

// WinRate returns the rolling win rate for symbol and the sample count.
func (t *PerformanceTracker) WinRate(symbol string) (float64, int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r := t.results[symbol]
	if len(r) == 0 {
		return 0, 0
	}
	wins := 0
	for _, w := range r {
		if w {
			wins++
		}
	}
	return float64(wins) / float64(len(r)), len(r)
}

// Multiplier maps symbol's rolling win rate to a sizing multiplier.
// A symbol with no completed round-trips sizes at 1.0.
func (t *PerformanceTracker) Multiplier(symbol string) float64 {
	rate, n := t.WinRate(symbol)
	if n == 0 {
		return 1.0
	}
	switch {
	case rate >= 0.6:
		return 1.2
	case rate >= 0.5:
		return 1.0
	case rate >= 0.4:
		return 0.8
	default:
		return 0.6
	}
}
