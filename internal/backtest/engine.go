// Package backtest replays stored bar sequences through the same evaluation
// core the live loop uses. Broker calls are replaced by pure accounting:
// fills are instantaneous at a deterministic execution price derived from
// the daily bar. Decisions are evaluated at bar close exactly as live;
// only fill prices differ between the two paths.
package backtest

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"anomaly-trader/internal/engine"
	"anomaly-trader/internal/ledger"
	"anomaly-trader/internal/model"
)

// Config tunes a backtest run.
type Config struct {
	Engine       engine.Params
	Ledger       ledger.Config
	PositionSize float64 // dollars per entry before the win-rate multiplier
	CloseWeight  float64 // execution-price blend toward the close, in [0, 1]
}

// Result is everything one replay produced.
type Result struct {
	Symbol string
	Trades []model.BacktestTrade
	Stats  Stats
}

// Engine replays bars for one or more symbols.
type Engine struct {
	cfg Config
}

// New creates a backtest engine.
func New(cfg Config) *Engine {
	if cfg.CloseWeight <= 0 || cfg.CloseWeight > 1 {
		cfg.CloseWeight = 0.7
	}
	return &Engine{cfg: cfg}
}

// ExecPrice derives the simulated fill price from a daily bar: a blend of
// the close and the bar midpoint, weighted toward the close, clamped to the
// bar's range. This is a simulation approximation standing in for intraday
// fill data, not a real fill.
func ExecPrice(b model.Bar, closeWeight float64) float64 {
	p := closeWeight*b.Close + (1-closeWeight)*b.Mid()
	return b.Clamp(p)
}

// Run replays one symbol's bar sequence, oldest first. Any position still
// open after the last bar is closed at the final close with reason
// END_OF_DATA so every entry produces complete round-trip accounting.
func (bt *Engine) Run(symbol string, bars []model.Bar) (*Result, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("backtest %s: no bars", symbol)
	}
	led := ledger.New(bt.cfg.Ledger)
	eng := engine.NewSymbolEngine(symbol, bt.cfg.Engine, led)

	var trades []model.BacktestTrade

	for _, bar := range bars {
		res, err := eng.Step(bar)
		if err != nil {
			// Out-of-order bars re-seed the engine; anything else aborts.
			continue
		}

		if res.Exit != nil {
			trades = append(trades, bt.fillExit(led, *res.Exit, bar))
			continue
		}

		if res.Signal.Actionable() {
			bt.fillEntry(led, res.Signal, bar)
		}
	}

	// Liquidate whatever is left at the last close.
	last := bars[len(bars)-1]
	for _, pos := range led.OpenPositions() {
		d := model.ExitDecision{
			PositionID: pos.ID,
			Symbol:     pos.Symbol,
			Reason:     model.ExitEndOfData,
			Shares:     pos.Shares,
			Price:      last.Close,
			TS:         last.TS,
		}
		fill := model.Fill{OrderID: uuid.NewString(), Symbol: pos.Symbol, Shares: d.Shares, Price: last.Close, TS: last.TS}
		if _, err := led.ApplyExit(d, fill); err == nil {
			trades = append(trades, tradeFor(pos, d, fill))
		}
	}

	return &Result{Symbol: symbol, Trades: trades, Stats: ComputeStats(trades)}, nil
}

// RunAll replays every symbol independently and merges the trades into one
// combined result, symbols in deterministic order.
func (bt *Engine) RunAll(bars map[string][]model.Bar) (*Result, error) {
	symbols := make([]string, 0, len(bars))
	for s := range bars {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	combined := &Result{Symbol: "ALL"}
	for _, s := range symbols {
		r, err := bt.Run(s, bars[s])
		if err != nil {
			return nil, err
		}
		combined.Trades = append(combined.Trades, r.Trades...)
	}
	combined.Stats = ComputeStats(combined.Trades)
	return combined, nil
}

func (bt *Engine) fillEntry(led *ledger.Ledger, sig model.AnomalySignal, bar model.Bar) {
	if ok, _ := led.CanOpen(sig.Symbol); !ok {
		return
	}
	price := ExecPrice(bar, bt.cfg.CloseWeight)
	amount := bt.cfg.PositionSize * led.Performance().Multiplier(sig.Symbol)
	shares := amount / price
	fill := model.Fill{
		OrderID: uuid.NewString(),
		Symbol:  sig.Symbol,
		Shares:  shares,
		Price:   price,
		TS:      bar.TS,
	}
	led.Open(uuid.NewString(), fill)
}

func (bt *Engine) fillExit(led *ledger.Ledger, d model.ExitDecision, bar model.Bar) model.BacktestTrade {
	pos, _ := led.Get(d.Symbol)
	fill := model.Fill{
		OrderID: uuid.NewString(),
		Symbol:  d.Symbol,
		Shares:  d.Shares,
		Price:   ExecPrice(bar, bt.cfg.CloseWeight),
		TS:      d.TS,
	}
	led.ApplyExit(d, fill)
	return tradeFor(pos, d, fill)
}

// tradeFor builds the round-trip leg record for one exit fill.
func tradeFor(pos model.Position, d model.ExitDecision, fill model.Fill) model.BacktestTrade {
	pnl := 0.0
	if pos.EntryPrice > 0 {
		pnl = (fill.Price - pos.EntryPrice) / pos.EntryPrice * 100
	}
	return model.BacktestTrade{
		Symbol:     d.Symbol,
		EntryTime:  pos.EntryTime,
		EntryPrice: pos.EntryPrice,
		ExitTime:   fill.TS,
		ExitPrice:  fill.Price,
		ExitReason: d.Reason,
		Shares:     fill.Shares,
		PnLPct:     pnl,
		Holding:    fill.TS.Sub(pos.EntryTime),
	}
}
