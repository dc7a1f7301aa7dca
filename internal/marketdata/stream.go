package marketdata

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"anomaly-trader/internal/model"
	"anomaly-trader/internal/ringbuf"
)

const (
	ringCapacity    = 1024
	heartbeatPeriod = 30 * time.Second
	reconnectBase   = 5 * time.Second
	reconnectMax    = 2 * time.Minute
	reconnectRatio  = 2
	drainIdlePeriod = 50 * time.Millisecond
)

// StreamConfig configures the live bar stream.
type StreamConfig struct {
	URL     string
	APIKey  string
	Symbols []string
}

// Stream keeps a websocket subscription to the provider's bar feed and
// maintains a latest-bar cache per symbol. The read loop pushes raw bars
// into an SPSC ring; a single drain goroutine owns the cache writes.
// Reconnects with exponential backoff until ctx is cancelled.
type Stream struct {
	cfg  StreamConfig
	ring *ringbuf.Ring

	mu     sync.RWMutex
	latest map[string]model.Bar

	// OnReconnect, if set, is called after each dropped connection.
	OnReconnect func()
}

// NewStream builds a stream; Run must be called to connect.
func NewStream(cfg StreamConfig) *Stream {
	return &Stream{
		cfg:    cfg,
		ring:   ringbuf.New(ringCapacity),
		latest: make(map[string]model.Bar, len(cfg.Symbols)),
	}
}

// Latest returns the cached live bar for symbol, if any.
func (s *Stream) Latest(symbol string) (model.Bar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bar, ok := s.latest[symbol]
	return bar, ok
}

// Dropped returns the number of bars lost to a full ring.
func (s *Stream) Dropped() uint64 { return s.ring.Overflow() }

// Run connects, subscribes and consumes until ctx is cancelled. Each
// dropped connection is retried with exponential backoff.
func (s *Stream) Run(ctx context.Context) error {
	go s.drain(ctx)

	backoff := reconnectBase
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("[ws] connection lost: %v, reconnecting in %s", err, backoff)
		if s.OnReconnect != nil {
			s.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= reconnectRatio
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

// consume runs one connection to completion.
func (s *Stream) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := map[string][]string{}
	if s.cfg.APIKey != "" {
		header["X-API-Key"] = []string{s.cfg.APIKey}
	}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := map[string]interface{}{"action": "subscribe", "bars": s.cfg.Symbols}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}
	log.Printf("[ws] connected, subscribed to %d symbols", len(s.cfg.Symbols))

	// Heartbeat pings; the provider closes idle connections.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(heartbeatPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var wb wireBar
		if err := json.Unmarshal(raw, &wb); err != nil {
			log.Printf("[ws] parse error: %v", err)
			continue
		}
		if wb.Symbol == "" {
			continue
		}
		if !s.ring.Push(wb.bar()) {
			log.Printf("[ws] ring full, dropping bar for %s", wb.Symbol)
		}
	}
}

// drain moves bars from the ring into the latest-bar cache. Older bars
// never overwrite newer ones.
func (s *Stream) drain(ctx context.Context) {
	for {
		bar, ok := s.ring.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(drainIdlePeriod):
			}
			continue
		}
		s.mu.Lock()
		if prev, exists := s.latest[bar.Symbol]; !exists || bar.TS.After(prev.TS) {
			s.latest[bar.Symbol] = bar
		}
		s.mu.Unlock()
	}
}

// Hybrid serves LatestBar from the stream cache when the cached bar is
// fresh enough, over REST otherwise. History always goes to REST.
// Implements model.MarketDataSource.
type Hybrid struct {
	rest     *REST
	stream   *Stream
	maxStale time.Duration
}

// NewHybrid combines a REST client with an optional stream. maxStale <= 0
// means one minute.
func NewHybrid(rest *REST, stream *Stream, maxStale time.Duration) *Hybrid {
	if maxStale <= 0 {
		maxStale = time.Minute
	}
	return &Hybrid{rest: rest, stream: stream, maxStale: maxStale}
}

func (h *Hybrid) LatestBar(ctx context.Context, symbol string) (model.Bar, error) {
	if h.stream != nil {
		if bar, ok := h.stream.Latest(symbol); ok && time.Since(bar.TS) <= h.maxStale {
			return bar, nil
		}
	}
	return h.rest.LatestBar(ctx, symbol)
}

func (h *Hybrid) HistoricalBars(ctx context.Context, symbol string, start, end time.Time) ([]model.Bar, error) {
	return h.rest.HistoricalBars(ctx, symbol, start, end)
}
