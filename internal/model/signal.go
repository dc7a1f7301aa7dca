package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Direction classifies what an anomaly signal suggests doing.
type Direction string

const (
	DirectionBuy   Direction = "BUY"
	DirectionSell  Direction = "SELL"
	DirectionMixed Direction = "MIXED" // both buy- and sell-side conditions fired
	DirectionNone  Direction = "NONE"
)

// Condition tags contributed by the anomaly battery.
const (
	CondOversold      = "oversold"       // z-score below -2
	CondOverbought    = "overbought"     // z-score above +2
	CondExtremeDrop   = "extreme_drop"   // single-bar move below -3%
	CondExtremeRise   = "extreme_rise"   // single-bar move above +3%
	CondGapDown       = "gap_down"       // open gaps below prior close by >2%
	CondGapUp         = "gap_up"         // open gaps above prior close by >2%
	CondRSIOversold   = "rsi_oversold"   // oscillator below 30
	CondRSIOverbought = "rsi_overbought" // oscillator above 70
	CondRSICrossUnder = "rsi_cross_under" // oscillator crossed down through the oversold level
	CondVolumeSpike   = "volume_spike"   // volume at least 2x the rolling mean
)

// AnomalySignal is the result of one detector evaluation. Produced fresh per
// bar; immutable; persisted only for audit.
type AnomalySignal struct {
	Symbol         string    `json:"symbol"`
	TS             time.Time `json:"ts"`
	Direction      Direction `json:"direction"`
	Severity       float64   `json:"severity"`
	Conditions     []string  `json:"conditions"`
	ReferencePrice float64   `json:"reference_price"`
	Oscillator     float64   `json:"oscillator"`

	// Reason explains a forced-NONE direction (e.g. severity below the
	// threshold). Empty for actionable or genuinely quiet signals.
	Reason string `json:"reason,omitempty"`
}

// Actionable reports whether the signal qualifies for an entry. MIXED counts:
// entries take precedence over opportunistic partial-exit sells.
func (s *AnomalySignal) Actionable() bool {
	return s.Direction == DirectionBuy || s.Direction == DirectionMixed
}

// HasCondition reports whether tag is among the contributing conditions.
func (s *AnomalySignal) HasCondition(tag string) bool {
	for _, c := range s.Conditions {
		if c == tag {
			return true
		}
	}
	return false
}

// ConditionSummary renders the contributing tags as a single string.
func (s *AnomalySignal) ConditionSummary() string {
	if len(s.Conditions) == 0 {
		return "none"
	}
	return strings.Join(s.Conditions, ", ")
}

// JSON returns the JSON-encoded signal.
func (s *AnomalySignal) JSON() []byte {
	data, _ := json.Marshal(s)
	return data
}
