package indicator

import (
	"fmt"
	"time"

	"anomaly-trader/internal/model"
)

// RSI calculates the Relative Strength Index using Wilder's smoothing method.
// Advance is O(1) per bar — no history scans.
//
// Bars must arrive in strictly increasing timestamp order. A bar at or before
// the last accepted timestamp is rejected with model.ErrOutOfOrderBar and
// leaves the state untouched; the caller decides whether to re-seed.
type RSI struct {
	symbol    string
	period    int
	count     int
	prevClose float64
	avgGain   float64
	avgLoss   float64
	current   float64
	lastTS    time.Time
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(symbol string, period int) *RSI {
	return &RSI{symbol: symbol, period: period}
}

// Seed initializes the indicator from a historical series. It needs at least
// period+1 bars: the first period deltas form the SMA seed, every bar past
// that is folded in with Wilder's recurrence. Any prior state is discarded.
func (r *RSI) Seed(bars []model.Bar) error {
	if len(bars) < r.period+1 {
		return fmt.Errorf("seed %s: have %d bars, need %d: %w",
			r.symbol, len(bars), r.period+1, model.ErrInsufficientData)
	}
	r.count = 0
	r.prevClose = 0
	r.avgGain = 0
	r.avgLoss = 0
	r.current = 0
	r.lastTS = time.Time{}
	for _, b := range bars {
		if _, err := r.Advance(b); err != nil && err != model.ErrInsufficientData {
			return err
		}
	}
	return nil
}

// Advance folds one bar into the indicator and returns the updated value.
// Until period+1 bars have been seen it returns model.ErrInsufficientData.
func (r *RSI) Advance(bar model.Bar) (float64, error) {
	if !r.lastTS.IsZero() && !bar.TS.After(r.lastTS) {
		return r.current, fmt.Errorf("%s: bar %s not after %s: %w",
			r.symbol, bar.TS.Format(time.RFC3339), r.lastTS.Format(time.RFC3339), model.ErrOutOfOrderBar)
	}
	r.lastTS = bar.TS
	r.count++

	if r.count == 1 {
		// First bar — just record the close, no delta yet
		r.prevClose = bar.Close
		return 0, model.ErrInsufficientData
	}

	delta := bar.Close - r.prevClose
	r.prevClose = bar.Close

	gain := 0.0
	loss := 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}

	if r.count <= r.period+1 {
		// Accumulation phase: build initial averages
		r.avgGain += gain
		r.avgLoss += loss

		if r.count == r.period+1 {
			// First RSI value using SMA seed
			r.avgGain /= float64(r.period)
			r.avgLoss /= float64(r.period)
			r.recompute()
			return r.current, nil
		}
		return 0, model.ErrInsufficientData
	}

	// Wilder's smoothing: avgGain = (prevAvgGain * (period-1) + gain) / period
	p := float64(r.period)
	r.avgGain = (r.avgGain*(p-1) + gain) / p
	r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	r.recompute()
	return r.current, nil
}

func (r *RSI) recompute() {
	if r.avgLoss == 0 {
		r.current = 100.0
		return
	}
	rs := r.avgGain / r.avgLoss
	r.current = 100.0 - (100.0 / (1.0 + rs))
}

func (r *RSI) Symbol() string { return r.symbol }
func (r *RSI) Value() float64 { return r.current }
func (r *RSI) Ready() bool    { return r.count > r.period }
func (r *RSI) LastTS() time.Time { return r.lastTS }

// State serializes the oscillator for checkpoint persistence.
func (r *RSI) State() model.OscillatorState {
	return model.OscillatorState{
		Symbol:    r.symbol,
		Period:    r.period,
		Count:     r.count,
		PrevClose: r.prevClose,
		AvgGain:   r.avgGain,
		AvgLoss:   r.avgLoss,
		LastTS:    r.lastTS,
	}
}

// Restore rebuilds an oscillator from a checkpoint. The next Advance continues
// the Wilder recurrence exactly where the checkpointed run left off.
func Restore(state model.OscillatorState) *RSI {
	r := &RSI{
		symbol:    state.Symbol,
		period:    state.Period,
		count:     state.Count,
		prevClose: state.PrevClose,
		avgGain:   state.AvgGain,
		avgLoss:   state.AvgLoss,
		lastTS:    state.LastTS,
	}
	if r.Ready() {
		r.recompute()
	}
	return r
}
