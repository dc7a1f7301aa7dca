package redis

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"anomaly-trader/internal/model"
)

type pendingWrite struct {
	Kind string // "bar" or "signal"
	Data []byte
}

// BufferedPublisher wraps a Cache with a circuit breaker. While the breaker
// is open, writes are buffered in memory and replayed when it closes, so a
// Redis outage degrades the hot tier instead of losing the cycle's output.
// Implements model.Publisher.
type BufferedPublisher struct {
	cache *Cache
	cb    *CircuitBreaker

	mu     sync.Mutex
	buffer []pendingWrite
	maxBuf int

	// Callbacks for metrics wiring.
	OnBuffer func()
	OnFlush  func(count int)
}

// NewBufferedPublisher wraps cache with cb. When the breaker transitions to
// closed, buffered writes are flushed in the background. maxBufferSize <= 0
// means the default of 10000; past it the oldest writes are dropped.
func NewBufferedPublisher(cache *Cache, cb *CircuitBreaker, maxBufferSize int) *BufferedPublisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bp := &BufferedPublisher{
		cache:  cache,
		cb:     cb,
		buffer: make([]pendingWrite, 0, 64),
		maxBuf: maxBufferSize,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go bp.flush()
		}
	}

	return bp
}

// PublishBar writes a bar through the breaker, buffering on open circuit.
func (bp *BufferedPublisher) PublishBar(ctx context.Context, bar model.Bar) error {
	err := bp.cb.Execute(func() error {
		return bp.cache.PublishBar(ctx, bar)
	})
	if err == ErrCircuitOpen {
		bp.bufferWrite("bar", bar)
		return nil // buffered, not lost
	}
	return err
}

// PublishSignal writes a signal through the breaker, buffering on open circuit.
func (bp *BufferedPublisher) PublishSignal(ctx context.Context, sig model.AnomalySignal) error {
	err := bp.cb.Execute(func() error {
		return bp.cache.PublishSignal(ctx, sig)
	})
	if err == ErrCircuitOpen {
		bp.bufferWrite("signal", sig)
		return nil
	}
	return err
}

func (bp *BufferedPublisher) bufferWrite(kind string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[redis] buffer marshal error: %v", err)
		return
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()

	if len(bp.buffer) >= bp.maxBuf {
		bp.buffer = bp.buffer[1:]
	}
	bp.buffer = append(bp.buffer, pendingWrite{Kind: kind, Data: data})

	if bp.OnBuffer != nil {
		bp.OnBuffer()
	}
}

// flush replays buffered writes straight through the cache. Replay errors
// are logged and the write dropped; by then the durable store already has it.
func (bp *BufferedPublisher) flush() {
	bp.mu.Lock()
	if len(bp.buffer) == 0 {
		bp.mu.Unlock()
		return
	}
	toFlush := bp.buffer
	bp.buffer = make([]pendingWrite, 0, 64)
	bp.mu.Unlock()

	ctx := context.Background()
	flushed := 0
	for _, pw := range toFlush {
		switch pw.Kind {
		case "bar":
			var bar model.Bar
			if json.Unmarshal(pw.Data, &bar) == nil {
				if err := bp.cache.PublishBar(ctx, bar); err != nil {
					log.Printf("[redis] flush bar: %v", err)
				}
			}
		case "signal":
			var sig model.AnomalySignal
			if json.Unmarshal(pw.Data, &sig) == nil {
				if err := bp.cache.PublishSignal(ctx, sig); err != nil {
					log.Printf("[redis] flush signal: %v", err)
				}
			}
		}
		flushed++
	}

	log.Printf("[redis] flushed %d buffered writes", flushed)
	if bp.OnFlush != nil {
		bp.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered writes awaiting replay.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.buffer)
}

// Underlying returns the wrapped cache for direct reads.
func (bp *BufferedPublisher) Underlying() *Cache { return bp.cache }

// Close closes the underlying Redis client.
func (bp *BufferedPublisher) Close() error { return bp.cache.Close() }
