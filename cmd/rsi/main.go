// cmd/rsi prints the oscillator series for one symbol's stored bars.
// Handy for eyeballing warmup behavior and cross-checking signal levels.
//
// Usage:
//
//	go run ./cmd/rsi --db=data/trader.db --symbol=AAPL --period=14
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"anomaly-trader/internal/indicator"
	sqlitestore "anomaly-trader/internal/store/sqlite"
)

func main() {
	dbPath := flag.String("db", "data/trader.db", "path to the SQLite bar store")
	symbol := flag.String("symbol", "", "symbol to compute (required)")
	period := flag.Int("period", 14, "oscillator period")
	days := flag.Int("days", 180, "how many calendar days back to read")
	flag.Parse()

	if *symbol == "" {
		log.Fatal("[rsi] --symbol is required")
	}

	store, err := sqlitestore.New(*dbPath)
	if err != nil {
		log.Fatalf("[rsi] sqlite open failed: %v", err)
	}
	defer store.Close()

	bars, err := store.ReadBars(context.Background(), *symbol, time.Now().AddDate(0, 0, -*days))
	if err != nil {
		log.Fatalf("[rsi] read bars: %v", err)
	}
	if len(bars) <= *period {
		log.Fatalf("[rsi] need more than %d bars, have %d", *period, len(bars))
	}

	rsi := indicator.NewRSI(*symbol, *period)
	for _, bar := range bars {
		value, err := rsi.Advance(bar)
		if err != nil {
			continue // warming up
		}
		marker := ""
		switch {
		case value < 30:
			marker = "  oversold"
		case value > 70:
			marker = "  overbought"
		}
		fmt.Printf("%s  close=%9.2f  rsi=%6.2f%s\n",
			bar.TS.Format("2006-01-02"), bar.Close, value, marker)
	}
}
