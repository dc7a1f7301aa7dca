// cmd/trader runs the live trading loop: market-hours gated cycles that
// poll bars, score anomalies, manage positions and submit orders.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"anomaly-trader/config"
	"anomaly-trader/internal/broker"
	"anomaly-trader/internal/engine"
	"anomaly-trader/internal/ledger"
	"anomaly-trader/internal/logger"
	"anomaly-trader/internal/marketdata"
	"anomaly-trader/internal/metrics"
	"anomaly-trader/internal/notification"
	"anomaly-trader/internal/orchestrator"
	redisstore "anomaly-trader/internal/store/redis"
	sqlitestore "anomaly-trader/internal/store/sqlite"
)

func main() {
	logg := logger.Init("trader", slog.LevelInfo)
	cfg := config.Load()

	symbols := cfg.Symbols()
	if len(symbols) == 0 {
		log.Fatal("[trader] empty watchlist")
	}
	logg.Info("starting", "symbols", symbols)

	// ---- Graceful shutdown ----
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()
	defer func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		metricsSrv.Stop(stopCtx)
	}()

	// ---- Durable store (SQLite) ----
	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	store, err := sqlitestore.New(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[trader] sqlite init failed: %v", err)
	}
	defer store.Close()

	// ---- Hot tier (Redis), degraded to nil on failure ----
	var publisher *redisstore.BufferedPublisher
	cache, err := redisstore.New(redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		logg.Warn("redis init failed, continuing without hot tier", "err", err)
		health.StartLivenessChecker(ctx, nil, store.DB(), 10*time.Second)
	} else {
		cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
		cb.OnStateChange = func(from, to redisstore.State) {
			logg.Warn("redis circuit breaker transition", "from", from.String(), "to", to.String())
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
			}
		}
		publisher = redisstore.NewBufferedPublisher(cache, cb, 10000)
		publisher.OnBuffer = func() { prom.RedisBufferedWrites.Inc() }
		defer publisher.Close()
		health.StartLivenessChecker(ctx, cache.Client(), store.DB(), 10*time.Second)
	}

	// ---- Broker ----
	brk := broker.NewClient(broker.Config{
		BaseURL:    cfg.BrokerBaseURL,
		APIKey:     cfg.BrokerAPIKey,
		ClientCode: cfg.BrokerClientCode,
		Password:   cfg.BrokerPassword,
		TOTPSecret: cfg.BrokerTOTPSecret,
	})
	if equity, err := brk.AccountEquity(ctx); err != nil {
		logg.Warn("broker probe failed", "err", err)
	} else {
		health.SetBrokerOK(true)
		logg.Info("broker session ready", "equity", equity)
	}

	// ---- Market data ----
	rest := marketdata.NewREST(marketdata.RESTConfig{
		BaseURL: cfg.MarketDataBaseURL,
		APIKey:  cfg.MarketDataAPIKey,
	})
	var stream *marketdata.Stream
	if cfg.MarketDataWSURL != "" {
		stream = marketdata.NewStream(marketdata.StreamConfig{
			URL:     cfg.MarketDataWSURL,
			APIKey:  cfg.MarketDataAPIKey,
			Symbols: symbols,
		})
		go stream.Run(ctx)
	}
	source := marketdata.NewHybrid(rest, stream, cfg.CycleInterval)

	// ---- Notifications ----
	var backends []notification.Backend
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if cfg.WebhookURL != "" {
		backends = append(backends, notification.NewWebhook(cfg.WebhookURL))
	}
	if len(backends) == 0 {
		backends = append(backends, notification.NewLogBackend())
	}
	notifier := notification.NewMulti(backends...)

	// ---- Orchestrator ----
	orch := orchestrator.New(orchestrator.Config{
		Symbols: symbols,
		Engine: engine.Params{
			OscillatorPeriod: cfg.OscillatorPeriod,
			WindowSize:       cfg.WindowSize,
			MinSeverity:      cfg.MinSeverity,
			CrossUnderLevel:  cfg.CrossUnderLevel,
			TP2OffsetPct:     cfg.TP2OffsetPct,
		},
		Ledger: ledger.Config{
			StopLossPct:      cfg.StopLossPct,
			TrailingStopPct:  cfg.TrailingStopPct,
			MaxHolding:       cfg.MaxHolding(),
			MaxOpenPositions: cfg.MaxOpenPositions,
		},
		PositionSize:  cfg.PositionSize,
		CycleInterval: cfg.CycleInterval,
	}, source, brk, store, notifier, prom, logg)
	if publisher != nil {
		orch.SetPublisher(publisher)
	}
	orch.SetCycleHook(health.SetLastCycleTime)

	// Enough calendar days to seed the oscillator and fill the window
	// with trading days to spare.
	lookbackBars := cfg.OscillatorPeriod + 1
	if cfg.WindowSize > lookbackBars {
		lookbackBars = cfg.WindowSize
	}
	lookback := time.Duration(lookbackBars*3) * 24 * time.Hour

	if err := orch.Bootstrap(ctx, lookback); err != nil {
		log.Fatalf("[trader] bootstrap failed: %v", err)
	}

	if err := orch.Run(ctx); err != nil && err != context.Canceled {
		logg.Error("orchestrator stopped", "err", err)
	}
	logg.Info("shutdown complete")
}
