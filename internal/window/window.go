// Package window maintains a rolling bar window with the summary statistics
// the anomaly battery needs: mean/stddev/median of closes and mean volume.
package window

import (
	"math"
	"sort"

	"anomaly-trader/internal/model"
)

// Window is a fixed-capacity rolling view over the most recent bars.
// Push is O(1); the statistics are computed over whatever the window holds.
type Window struct {
	size  int
	bars  []model.Bar // preallocated circular buffer
	idx   int         // current write position
	count int         // total bars received

	sumClose   float64
	sumSqClose float64
	sumVolume  float64
}

// New creates a rolling window of the given size (typically 20).
func New(size int) *Window {
	return &Window{
		size: size,
		bars: make([]model.Bar, size),
	}
}

// Push appends a bar, evicting the oldest when the window is full.
func (w *Window) Push(b model.Bar) {
	if w.count >= w.size {
		old := w.bars[w.idx]
		w.sumClose -= old.Close
		w.sumSqClose -= old.Close * old.Close
		w.sumVolume -= float64(old.Volume)
	}

	w.bars[w.idx] = b
	w.sumClose += b.Close
	w.sumSqClose += b.Close * b.Close
	w.sumVolume += float64(b.Volume)
	w.idx = (w.idx + 1) % w.size
	w.count++
}

// Len returns the number of bars currently held.
func (w *Window) Len() int {
	if w.count < w.size {
		return w.count
	}
	return w.size
}

// Full reports whether the window holds its full capacity of bars.
func (w *Window) Full() bool { return w.count >= w.size }

// MeanClose returns the average close over the held bars.
func (w *Window) MeanClose() float64 {
	n := w.Len()
	if n == 0 {
		return 0
	}
	return w.sumClose / float64(n)
}

// StdDevClose returns the population standard deviation of closes.
func (w *Window) StdDevClose() float64 {
	n := w.Len()
	if n == 0 {
		return 0
	}
	mean := w.sumClose / float64(n)
	variance := w.sumSqClose/float64(n) - mean*mean
	if variance < 0 {
		// Guard against negative variance from float cancellation
		variance = 0
	}
	return math.Sqrt(variance)
}

// MedianClose returns the median close over the held bars.
func (w *Window) MedianClose() float64 {
	n := w.Len()
	if n == 0 {
		return 0
	}
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		closes[i] = w.at(i).Close
	}
	sort.Float64s(closes)
	if n%2 == 1 {
		return closes[n/2]
	}
	return (closes[n/2-1] + closes[n/2]) / 2
}

// MeanVolume returns the average volume over the held bars.
func (w *Window) MeanVolume() float64 {
	n := w.Len()
	if n == 0 {
		return 0
	}
	return w.sumVolume / float64(n)
}

// Last returns the most recently pushed bar and whether one exists.
func (w *Window) Last() (model.Bar, bool) {
	if w.count == 0 {
		return model.Bar{}, false
	}
	return w.bars[(w.idx-1+w.size)%w.size], true
}

// Prev returns the bar pushed before the last one.
func (w *Window) Prev() (model.Bar, bool) {
	if w.Len() < 2 {
		return model.Bar{}, false
	}
	return w.bars[(w.idx-2+w.size)%w.size], true
}

// at returns the i-th oldest held bar (0 = oldest).
func (w *Window) at(i int) model.Bar {
	if w.count < w.size {
		return w.bars[i]
	}
	return w.bars[(w.idx+i)%w.size]
}
