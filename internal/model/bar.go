package model

import (
	"encoding/json"
	"time"
)

// Bar is one OHLCV price bar for a single instrument. Immutable once
// recorded; ordered by timestamp per symbol with strictly increasing
// timestamps (the store rejects duplicates, the engine rejects regressions).
type Bar struct {
	Symbol string    `json:"symbol"`
	TS     time.Time `json:"ts"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Mid returns the midpoint of the bar's range.
func (b Bar) Mid() float64 {
	return (b.High + b.Low) / 2
}

// Clamp bounds price to the bar's [low, high] range.
func (b Bar) Clamp(price float64) float64 {
	if price < b.Low {
		return b.Low
	}
	if price > b.High {
		return b.High
	}
	return price
}

// JSON returns the JSON-encoded bar.
func (b Bar) JSON() []byte {
	data, _ := json.Marshal(b)
	return data
}
