// Package orchestrator drives the live trading loop: one evaluation cycle
// per symbol pulls the latest bar, advances the oscillator, scores the
// anomaly battery, executes any exit decision, and submits entries for
// actionable signals. Symbols are evaluated in parallel; all per-symbol
// state is confined to its engine, so the only shared mutable state is the
// ledger and the dedupe registry.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"anomaly-trader/internal/engine"
	"anomaly-trader/internal/ledger"
	"anomaly-trader/internal/logger"
	"anomaly-trader/internal/markethours"
	"anomaly-trader/internal/metrics"
	"anomaly-trader/internal/model"
)

// Config tunes the orchestrator.
type Config struct {
	Symbols       []string
	Engine        engine.Params
	Ledger        ledger.Config
	PositionSize  float64       // base dollar size per entry, scaled by the win-rate multiplier
	CycleInterval time.Duration // live polling cadence
	Parallelism   int           // concurrent symbol evaluations per cycle; <=0 means all
}

// Orchestrator owns one engine per watchlist symbol plus the shared ledger.
type Orchestrator struct {
	cfg     Config
	engines map[string]*engine.SymbolEngine
	led     *ledger.Ledger

	source    model.MarketDataSource
	broker    model.Broker
	store     model.Store
	publisher model.Publisher
	notifier  model.Notifier
	met       *metrics.Metrics
	log       *slog.Logger
	onCycle   func(time.Time)

	mu        sync.Mutex
	lastBarTS map[string]time.Time
	submitted map[string]bool // order dedupe keys, entry and exit
}

// New builds an orchestrator. notifier and met may be nil.
func New(cfg Config, source model.MarketDataSource, broker model.Broker, store model.Store, notifier model.Notifier, met *metrics.Metrics, log *slog.Logger) *Orchestrator {
	led := ledger.New(cfg.Ledger)
	engines := make(map[string]*engine.SymbolEngine, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		engines[s] = engine.NewSymbolEngine(s, cfg.Engine, led)
	}
	return &Orchestrator{
		cfg:       cfg,
		engines:   engines,
		led:       led,
		source:    source,
		broker:    broker,
		store:     store,
		notifier:  notifier,
		met:       met,
		log:       log,
		lastBarTS: make(map[string]time.Time),
		submitted: make(map[string]bool),
	}
}

// Ledger exposes the shared position ledger.
func (o *Orchestrator) Ledger() *ledger.Ledger { return o.led }

// SetPublisher attaches an optional hot-tier publisher (Redis). Must be
// called before Run.
func (o *Orchestrator) SetPublisher(pub model.Publisher) { o.publisher = pub }

// SetCycleHook registers a callback invoked after each completed cycle with
// its start time. Used to feed the liveness probe. Must be called before Run.
func (o *Orchestrator) SetCycleHook(fn func(time.Time)) { o.onCycle = fn }

// Bootstrap warms every engine from history and re-registers persisted open
// positions. Symbols that cannot warm up are logged and left to accumulate
// bars live.
func (o *Orchestrator) Bootstrap(ctx context.Context, lookback time.Duration) error {
	now := time.Now()
	for sym, eng := range o.engines {
		bars, err := o.source.HistoricalBars(ctx, sym, now.Add(-lookback), now)
		if err != nil {
			o.log.Warn("bootstrap: history fetch failed", "symbol", sym, "err", err)
			continue
		}
		if err := eng.Warmup(bars); err != nil {
			o.log.Warn("bootstrap: warmup incomplete", "symbol", sym, "bars", len(bars), "err", err)
			continue
		}
		if len(bars) > 0 {
			o.mu.Lock()
			o.lastBarTS[sym] = bars[len(bars)-1].TS
			o.mu.Unlock()
		}
		o.log.Info("bootstrap: symbol warmed", "symbol", sym, "bars", len(bars))
	}

	if o.store == nil {
		return nil
	}
	open, err := o.store.LoadOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: load open positions: %w", err)
	}
	for _, pos := range open {
		if err := o.led.Restore(pos); err != nil {
			o.log.Warn("bootstrap: position restore failed", "symbol", pos.Symbol, "err", err)
			continue
		}
		o.log.Info("bootstrap: position restored", "symbol", pos.Symbol, "shares", pos.Shares)
	}
	if o.met != nil {
		o.met.OpenPositions.Set(float64(o.led.OpenCount()))
	}
	return nil
}

// Run executes cycles at the configured cadence while the market is open,
// sleeping until the next open otherwise. Cancellation is honored between
// cycles; an in-flight cycle finishes its current symbols first.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.Info("orchestrator starting",
		"symbols", len(o.engines), "interval", o.cfg.CycleInterval.String())
	for {
		now := time.Now()
		if !markethours.IsMarketOpen(now) {
			if o.met != nil {
				o.met.MarketState.Set(0)
			}
			wait := markethours.TimeUntilOpen(now)
			o.log.Info("market closed", "status", markethours.StatusString(now), "sleep", wait.String())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		if o.met != nil {
			o.met.MarketState.Set(1)
		}

		start := time.Now()
		o.RunCycle(ctx)
		if o.met != nil {
			o.met.CycleDur.Observe(time.Since(start).Seconds())
		}
		if o.onCycle != nil {
			o.onCycle(start)
		}

		select {
		case <-ctx.Done():
			o.log.Info("orchestrator stopping")
			return ctx.Err()
		case <-time.After(o.cfg.CycleInterval):
		}
	}
}

// RunCycle evaluates every watchlist symbol once, in parallel. One symbol's
// failure never affects the others; errors are logged per symbol and the
// cycle always completes.
func (o *Orchestrator) RunCycle(ctx context.Context) {
	if o.met != nil {
		o.met.CyclesTotal.Inc()
	}
	g, gctx := errgroup.WithContext(ctx)
	limit := o.cfg.Parallelism
	if limit <= 0 {
		limit = len(o.engines)
	}
	g.SetLimit(limit)

	for sym := range o.engines {
		sym := sym
		g.Go(func() error {
			cctx := logger.WithCycleID(gctx, logger.GenerateCycleID(sym, time.Now()))
			if err := o.evaluateSymbol(cctx, sym); err != nil {
				o.log.Error("cycle: symbol evaluation failed", "symbol", sym, "err", err)
			}
			return nil
		})
	}
	g.Wait()

	if o.met != nil {
		o.met.OpenPositions.Set(float64(o.led.OpenCount()))
	}
}

// evaluateSymbol runs one symbol's cycle: bar fetch, engine step, exit
// execution, entry submission, persistence.
func (o *Orchestrator) evaluateSymbol(ctx context.Context, symbol string) error {
	eng := o.engines[symbol]

	bar, err := o.fetchLatestBar(ctx, symbol)
	if err != nil {
		return err
	}

	// Skip when the provider returned the bar we already processed.
	o.mu.Lock()
	stale := !bar.TS.After(o.lastBarTS[symbol])
	if !stale {
		o.lastBarTS[symbol] = bar.TS
	}
	o.mu.Unlock()
	if stale {
		if o.met != nil {
			o.met.StaleBars.Inc()
		}
		return nil
	}
	if o.met != nil {
		o.met.BarsTotal.Inc()
	}

	res, err := eng.Step(bar)
	if errors.Is(err, model.ErrOutOfOrderBar) {
		if o.met != nil {
			o.met.OutOfOrderBars.Inc()
		}
		o.log.Warn("data gap: engine re-seeded", append(logger.WithCycle(ctx), "symbol", symbol, "err", err)...)
		return nil
	}
	if err != nil {
		return err
	}

	o.persist(ctx, eng, bar, res.Signal)
	o.observeSignal(res.Signal)

	// Exits first: an open position's state machine runs every tick,
	// regardless of whether a fresh signal fired.
	if res.Exit != nil {
		if err := o.executeExit(ctx, *res.Exit); err != nil {
			o.log.Error("exit execution failed", append(logger.WithCycle(ctx),
				"symbol", symbol, "reason", string(res.Exit.Reason), "err", err)...)
		}
		return nil
	}

	if res.Signal.Actionable() {
		return o.maybeEnter(ctx, res.Signal)
	}
	if res.Signal.Reason != "" {
		o.log.Info("signal rejected", append(logger.WithCycle(ctx),
			"symbol", symbol, "severity", res.Signal.Severity, "reason", res.Signal.Reason)...)
	}
	return nil
}

// maybeEnter submits at most one entry order per (symbol, bar timestamp).
func (o *Orchestrator) maybeEnter(ctx context.Context, sig model.AnomalySignal) error {
	key := entryKey(sig.Symbol, sig.TS)
	o.mu.Lock()
	dup := o.submitted[key]
	if !dup {
		o.submitted[key] = true
	}
	o.mu.Unlock()
	if dup {
		o.skipEntry("duplicate", sig.Symbol)
		return nil
	}

	if ok, reason := o.led.CanOpen(sig.Symbol); !ok {
		o.skipEntry("limit", sig.Symbol)
		o.log.Info("entry skipped", append(logger.WithCycle(ctx),
			"symbol", sig.Symbol, "reason", reason)...)
		return nil
	}

	amount := o.cfg.PositionSize * o.led.Performance().Multiplier(sig.Symbol)
	fill, err := o.submitEntry(ctx, sig.Symbol, amount, key)
	if err != nil {
		if errors.Is(err, model.ErrOrderRejected) {
			if o.met != nil {
				o.met.OrdersRejected.Inc()
			}
			o.log.Warn("entry rejected by broker", append(logger.WithCycle(ctx),
				"symbol", sig.Symbol, "err", err)...)
			return nil
		}
		return fmt.Errorf("entry %s: %w", sig.Symbol, err)
	}

	pos, err := o.led.Open(uuid.NewString(), fill)
	if err != nil {
		// Filled but unplaceable (limit race): surfaced loudly, the fill is
		// real and needs manual attention.
		return fmt.Errorf("entry %s: fill for unplaceable position: %w", sig.Symbol, err)
	}
	if o.met != nil {
		o.met.EntriesTotal.Inc()
	}
	o.log.Info("position opened", append(logger.WithCycle(ctx),
		"symbol", pos.Symbol, "shares", pos.Shares, "entry", pos.EntryPrice,
		"stop", pos.InitialStop, "severity", sig.Severity,
		"conditions", sig.ConditionSummary())...)

	if o.store != nil {
		if err := o.store.SavePosition(ctx, *pos); err != nil {
			o.log.Error("position persist failed", "symbol", pos.Symbol, "err", err)
		}
	}
	o.notify(ctx, model.NotifyEvent{Signal: &sig})
	return nil
}

// executeExit submits at most one exit order per decision. A broker
// rejection leaves the position untouched (still OPEN); the ledger only
// changes on a confirmed fill.
func (o *Orchestrator) executeExit(ctx context.Context, d model.ExitDecision) error {
	key := exitKey(d)
	o.mu.Lock()
	dup := o.submitted[key]
	if !dup {
		o.submitted[key] = true
	}
	o.mu.Unlock()
	if dup {
		return nil
	}

	fill, err := o.submitExit(ctx, d.Symbol, d.Shares, key)
	if err != nil {
		if errors.Is(err, model.ErrOrderRejected) {
			if o.met != nil {
				o.met.OrdersRejected.Inc()
			}
			// Allow a later tick to retry this exit.
			o.mu.Lock()
			delete(o.submitted, key)
			o.mu.Unlock()
			o.log.Warn("exit rejected by broker, position stays open",
				append(logger.WithCycle(ctx), "symbol", d.Symbol, "reason", string(d.Reason), "err", err)...)
			return nil
		}
		return err
	}

	pos, err := o.led.ApplyExit(d, fill)
	if err != nil {
		return err
	}
	if o.met != nil {
		o.met.ExitsTotal.WithLabelValues(string(d.Reason)).Inc()
	}
	o.log.Info("exit filled", append(logger.WithCycle(ctx),
		"symbol", d.Symbol, "reason", string(d.Reason), "shares", fill.Shares,
		"price", fill.Price, "status", string(pos.Status))...)

	if o.store != nil {
		if err := o.store.SavePosition(ctx, pos); err != nil {
			o.log.Error("position persist failed", "symbol", d.Symbol, "err", err)
		}
	}
	o.notify(ctx, model.NotifyEvent{Exit: &d})
	return nil
}

// persist writes the bar, oscillator checkpoint and signal to the store.
// Store failures degrade to logs; persistence never blocks trading.
func (o *Orchestrator) persist(ctx context.Context, eng *engine.SymbolEngine, bar model.Bar, sig model.AnomalySignal) {
	if o.store != nil {
		if err := o.store.WriteBars(ctx, []model.Bar{bar}); err != nil {
			o.log.Error("bar persist failed", "symbol", bar.Symbol, "err", err)
		}
		if err := o.store.SaveOscillatorState(ctx, eng.OscillatorState()); err != nil {
			o.log.Error("oscillator persist failed", "symbol", bar.Symbol, "err", err)
		}
		if len(sig.Conditions) > 0 {
			if err := o.store.RecordSignal(ctx, sig); err != nil {
				o.log.Error("signal persist failed", "symbol", bar.Symbol, "err", err)
			}
		}
	}
	if o.publisher != nil {
		start := time.Now()
		if err := o.publisher.PublishBar(ctx, bar); err != nil {
			o.log.Warn("bar publish failed", "symbol", bar.Symbol, "err", err)
		}
		if len(sig.Conditions) > 0 {
			if err := o.publisher.PublishSignal(ctx, sig); err != nil {
				o.log.Warn("signal publish failed", "symbol", bar.Symbol, "err", err)
			}
		}
		if o.met != nil {
			o.met.RedisWriteDur.Observe(time.Since(start).Seconds())
		}
	}
}

func (o *Orchestrator) observeSignal(sig model.AnomalySignal) {
	if o.met == nil {
		return
	}
	if len(sig.Conditions) > 0 {
		o.met.SignalsTotal.WithLabelValues(string(sig.Direction)).Inc()
		o.met.SignalSeverity.Observe(sig.Severity)
	}
	if sig.Reason != "" {
		o.met.SignalsRejected.Inc()
	}
}

func (o *Orchestrator) skipEntry(reason, symbol string) {
	if o.met != nil {
		o.met.EntriesSkipped.WithLabelValues(reason).Inc()
	}
}

func (o *Orchestrator) notify(ctx context.Context, ev model.NotifyEvent) {
	if o.notifier == nil {
		return
	}
	// Fire-and-forget: a slow or failing channel never blocks a cycle.
	go func() {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := o.notifier.Notify(nctx, ev); err != nil {
			o.log.Warn("notification failed", "err", err)
		}
	}()
}

func entryKey(symbol string, ts time.Time) string {
	return fmt.Sprintf("entry:%s:%d", symbol, ts.Unix())
}

func exitKey(d model.ExitDecision) string {
	return fmt.Sprintf("exit:%s:%s:%d", d.PositionID, d.Reason, d.TS.Unix())
}
