package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the trading engine.
type Metrics struct {
	CyclesTotal    prometheus.Counter
	CycleDur       prometheus.Histogram
	BarsTotal      prometheus.Counter
	StaleBars      prometheus.Counter
	OutOfOrderBars prometheus.Counter

	SignalsTotal    *prometheus.CounterVec // labels: direction
	SignalsRejected prometheus.Counter     // severity below threshold
	SignalSeverity  prometheus.Histogram

	EntriesTotal   prometheus.Counter
	EntriesSkipped *prometheus.CounterVec // labels: reason (duplicate, limit, open)
	ExitsTotal     *prometheus.CounterVec // labels: reason
	OrdersRejected prometheus.Counter
	OrderRetries   prometheus.Counter
	BrokerCallDur  prometheus.Histogram

	OpenPositions prometheus.Gauge

	RedisWriteDur   prometheus.Histogram
	SQLiteCommitDur prometheus.Histogram

	// Circuit breaker over the Redis hot-path cache
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter

	MarketState prometheus.Gauge // 0=closed, 1=open
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_cycles_total",
			Help: "Total evaluation cycles run",
		}),
		CycleDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trader_cycle_duration_seconds",
			Help:    "Wall time of one full watchlist cycle",
			Buckets: prometheus.DefBuckets,
		}),
		BarsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_bars_total",
			Help: "Total bars consumed across symbols",
		}),
		StaleBars: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_stale_bars_total",
			Help: "Bars skipped because no newer bar was available",
		}),
		OutOfOrderBars: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_out_of_order_bars_total",
			Help: "Bars rejected for non-increasing timestamps (state re-seeded)",
		}),

		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_signals_total",
			Help: "Anomaly signals emitted (by direction)",
		}, []string{"direction"}),
		SignalsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_signals_rejected_total",
			Help: "Signals gated to NONE for severity below the threshold",
		}),
		SignalSeverity: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trader_signal_severity",
			Help:    "Severity of signals with at least one condition",
			Buckets: []float64{0.5, 1, 1.5, 2, 3, 4, 6, 8, 12},
		}),

		EntriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_entries_total",
			Help: "Entry orders filled",
		}),
		EntriesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_entries_skipped_total",
			Help: "Actionable signals that did not become orders (by reason)",
		}, []string{"reason"}),
		ExitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_exits_total",
			Help: "Exit orders filled (by exit reason)",
		}, []string{"reason"}),
		OrdersRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_orders_rejected_total",
			Help: "Orders the broker refused",
		}),
		OrderRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_order_retries_total",
			Help: "Retry attempts against broker/market-data collaborators",
		}),
		BrokerCallDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trader_broker_call_duration_seconds",
			Help:    "Broker API call latency",
			Buckets: prometheus.DefBuckets,
		}),

		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_open_positions",
			Help: "Currently open positions",
		}),

		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trader_redis_write_duration_seconds",
			Help:    "Redis write latency",
			Buckets: prometheus.DefBuckets,
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trader_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_redis_buffered_writes_total",
			Help: "Writes buffered locally during Redis circuit breaker open state",
		}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),
	}

	prometheus.MustRegister(
		m.CyclesTotal,
		m.CycleDur,
		m.BarsTotal,
		m.StaleBars,
		m.OutOfOrderBars,
		m.SignalsTotal,
		m.SignalsRejected,
		m.SignalSeverity,
		m.EntriesTotal,
		m.EntriesSkipped,
		m.ExitsTotal,
		m.OrdersRejected,
		m.OrderRetries,
		m.BrokerCallDur,
		m.OpenPositions,
		m.RedisWriteDur,
		m.SQLiteCommitDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.MarketState,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	BrokerOK       bool      `json:"broker_ok"`
	LastCycleTime  time.Time `json:"last_cycle_time"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetBrokerOK(v bool) {
	h.mu.Lock()
	h.BrokerOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastCycleTime(t time.Time) {
	h.mu.Lock()
	h.LastCycleTime = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.RedisConnected || !h.SQLiteOK || !h.BrokerOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	cycleAge := ""
	if !h.LastCycleTime.IsZero() {
		cycleAge = time.Since(h.LastCycleTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		LastCycleTime   string  `json:"last_cycle_time"`
		CycleAge        string  `json:"cycle_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		BrokerOK        bool    `json:"broker_ok"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		LastCycleTime:   h.LastCycleTime.Format(time.RFC3339),
		CycleAge:        cycleAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		BrokerOK:        h.BrokerOK,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
