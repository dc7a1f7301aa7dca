// Package anomaly implements the rule-based anomaly condition battery.
// It is deliberately deterministic: no randomness and no online learning,
// so replaying a bar sequence reproduces the exact same signals.
package anomaly

import (
	"fmt"

	"anomaly-trader/internal/model"
	"anomaly-trader/internal/window"
)

// Condition thresholds.
const (
	zScoreThreshold   = 2.0  // standard deviations
	extremeMovePct    = 3.0  // single-bar close-to-close move, percent
	gapPct            = 2.0  // open vs prior close, percent
	oversoldLevel     = 30.0 // oscillator
	overboughtLevel   = 70.0
	volumeSpikeRatio  = 2.0 // bar volume vs rolling mean volume
)

// Detector scores one bar against the condition battery and resolves an
// overall direction. A single Detector serves every instrument; all state
// lives in the inputs.
type Detector struct {
	minSeverity float64
	crossLevel  float64 // oversold level for the cross-under condition
}

// NewDetector creates a detector. minSeverity gates actionability (default
// 1.0); crossLevel is the oscillator level whose downward cross tags a signal.
func NewDetector(minSeverity, crossLevel float64) *Detector {
	return &Detector{minSeverity: minSeverity, crossLevel: crossLevel}
}

// Input carries everything one evaluation needs. Win must already contain
// Bar as its most recent entry, so window statistics include the current
// close the way a rolling series does.
type Input struct {
	Bar model.Bar
	Win *window.Window

	Oscillator     float64 // current oscillator value
	PrevOscillator float64 // value before this bar
	OscillatorOK   bool    // false until the oscillator is seeded
}

// Evaluate runs the full battery and returns a fresh signal. Conditions are
// independent; each contributes zero or one tag plus a severity term, and
// total severity is the sum. A signal whose severity falls short of the
// threshold keeps its tags but is forced to NONE with a rejection reason.
func (d *Detector) Evaluate(in Input) model.AnomalySignal {
	sig := model.AnomalySignal{
		Symbol:         in.Bar.Symbol,
		TS:             in.Bar.TS,
		Direction:      model.DirectionNone,
		ReferencePrice: in.Bar.Close,
		Oscillator:     in.Oscillator,
	}

	var buy, sell bool
	tag := func(name string, sev float64, side model.Direction) {
		sig.Conditions = append(sig.Conditions, name)
		sig.Severity += sev
		switch side {
		case model.DirectionBuy:
			buy = true
		case model.DirectionSell:
			sell = true
		}
	}

	// z-score extreme: close vs the rolling window distribution.
	if in.Win.Full() {
		if sd := in.Win.StdDevClose(); sd > 0 {
			z := (in.Bar.Close - in.Win.MeanClose()) / sd
			if z < -zScoreThreshold {
				tag(model.CondOversold, -z, model.DirectionBuy)
			} else if z > zScoreThreshold {
				tag(model.CondOverbought, z, model.DirectionSell)
			}
		}
	}

	prev, hasPrev := in.Win.Prev()
	if hasPrev && prev.Close != 0 {
		// Extreme single-bar move, close to close.
		pct := (in.Bar.Close - prev.Close) / prev.Close * 100
		if pct < -extremeMovePct {
			tag(model.CondExtremeDrop, -pct/extremeMovePct, model.DirectionBuy)
		} else if pct > extremeMovePct {
			tag(model.CondExtremeRise, pct/extremeMovePct, model.DirectionSell)
		}

		// Gap: today's open vs the prior close.
		gap := (in.Bar.Open - prev.Close) / prev.Close * 100
		if gap < -gapPct {
			tag(model.CondGapDown, -gap/gapPct, model.DirectionBuy)
		} else if gap > gapPct {
			tag(model.CondGapUp, gap/gapPct, model.DirectionSell)
		}
	}

	// Oscillator extremes and the cross-under of the oversold level.
	if in.OscillatorOK {
		if in.Oscillator < oversoldLevel {
			tag(model.CondRSIOversold, (oversoldLevel-in.Oscillator)/10, model.DirectionBuy)
		} else if in.Oscillator > overboughtLevel {
			tag(model.CondRSIOverbought, (in.Oscillator-overboughtLevel)/10, model.DirectionSell)
		}
		if in.PrevOscillator >= d.crossLevel && in.Oscillator < d.crossLevel {
			tag(model.CondRSICrossUnder, (d.crossLevel-in.Oscillator)/10, model.DirectionBuy)
		}
	}

	// Volume spike: direction-neutral, amplifies whatever else fired.
	if mv := in.Win.MeanVolume(); mv > 0 && in.Win.Full() {
		ratio := float64(in.Bar.Volume) / mv
		if ratio >= volumeSpikeRatio {
			tag(model.CondVolumeSpike, (ratio-volumeSpikeRatio)/2, model.DirectionNone)
		}
	}

	switch {
	case buy && sell:
		sig.Direction = model.DirectionMixed
	case buy:
		sig.Direction = model.DirectionBuy
	case sell:
		sig.Direction = model.DirectionSell
	}

	// Severity gate: tags stay visible but the direction is forced to NONE,
	// with a reason so the rejection is observable rather than silent.
	if sig.Direction != model.DirectionNone && sig.Severity < d.minSeverity {
		sig.Reason = fmt.Sprintf("severity %.2f < threshold %.2f", sig.Severity, d.minSeverity)
		sig.Direction = model.DirectionNone
	}

	return sig
}
