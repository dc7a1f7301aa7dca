// Package indicator implements incremental technical indicators.
// All indicators update in O(1) per bar — no history scans on the hot path.
package indicator
