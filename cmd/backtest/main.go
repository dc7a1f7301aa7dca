// cmd/backtest replays stored daily bars through the same engine the live
// loop uses and prints per-trade results plus aggregate stats.
//
// Usage:
//
//	go run ./cmd/backtest --db=data/trader.db --symbols=AAPL,MSFT --days=365
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"anomaly-trader/internal/backtest"
	"anomaly-trader/internal/engine"
	"anomaly-trader/internal/ledger"
	"anomaly-trader/internal/model"
	sqlitestore "anomaly-trader/internal/store/sqlite"
)

func main() {
	dbPath := flag.String("db", "data/trader.db", "path to the SQLite bar store")
	symbolsFlag := flag.String("symbols", "", "comma-separated symbols (required)")
	days := flag.Int("days", 365, "how many calendar days back to replay")
	closeWeight := flag.Float64("close-weight", 0.7, "fill price weight toward the bar close (rest toward the midpoint)")

	period := flag.Int("period", 14, "oscillator period")
	window := flag.Int("window", 20, "rolling window size in bars")
	minSeverity := flag.Float64("min-severity", 1.0, "minimum signal severity")
	positionSize := flag.Float64("size", 1000, "base dollar size per entry")
	stopLoss := flag.Float64("stop", 0.05, "stop-loss fraction below entry")
	trailStop := flag.Float64("trail", 0.05, "trailing-stop fraction below the high")
	tp2Offset := flag.Float64("tp2-offset", 0.02, "TP2 offset above the rolling median")
	maxHoldDays := flag.Int("max-hold", 20, "time stop in days")
	flag.Parse()

	symbols := parseSymbols(*symbolsFlag)
	if len(symbols) == 0 {
		log.Fatal("[backtest] --symbols is required")
	}

	store, err := sqlitestore.New(*dbPath)
	if err != nil {
		log.Fatalf("[backtest] sqlite open failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	after := time.Now().AddDate(0, 0, -*days)

	bars := make(map[string][]model.Bar, len(symbols))
	for _, sym := range symbols {
		b, err := store.ReadBars(ctx, sym, after)
		if err != nil {
			log.Fatalf("[backtest] read bars for %s: %v", sym, err)
		}
		if len(b) == 0 {
			log.Printf("[backtest] no stored bars for %s, skipping", sym)
			continue
		}
		bars[sym] = b
	}
	if len(bars) == 0 {
		log.Fatal("[backtest] nothing to replay")
	}

	bt := backtest.New(backtest.Config{
		Engine: engine.Params{
			OscillatorPeriod: *period,
			WindowSize:       *window,
			MinSeverity:      *minSeverity,
			CrossUnderLevel:  30,
			TP2OffsetPct:     *tp2Offset,
		},
		Ledger: ledger.Config{
			StopLossPct:      *stopLoss,
			TrailingStopPct:  *trailStop,
			MaxHolding:       time.Duration(*maxHoldDays) * 24 * time.Hour,
			MaxOpenPositions: 1, // one position per symbol run
		},
		PositionSize: *positionSize,
		CloseWeight:  *closeWeight,
	})

	result, err := bt.RunAll(bars)
	if err != nil {
		log.Fatalf("[backtest] run failed: %v", err)
	}
	backtest.WriteReport(os.Stdout, result)
}

func parseSymbols(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
