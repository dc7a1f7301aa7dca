package broker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"anomaly-trader/internal/model"
)

// Paper simulates order execution without real broker calls. Fills are
// instant at a caller-supplied quote plus configurable slippage, and every
// fill is journaled for inspection. Implements model.Broker.
type Paper struct {
	mu       sync.RWMutex
	quotes   map[string]float64 // symbol -> current price
	fills    []model.Fill
	seen     map[string]model.Fill // idempotency key -> fill already produced
	equity   float64
	orderSeq int64

	slippageBps float64 // e.g. 5 = 0.05%
}

// NewPaper builds a paper broker with startingEquity dollars.
func NewPaper(startingEquity, slippageBps float64) *Paper {
	return &Paper{
		quotes:      make(map[string]float64),
		seen:        make(map[string]model.Fill),
		equity:      startingEquity,
		slippageBps: slippageBps,
	}
}

// SetQuote updates the simulated market price for symbol. Orders for a
// symbol with no quote are rejected.
func (p *Paper) SetQuote(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes[symbol] = price
}

// Fills returns a snapshot of all fills so far.
func (p *Paper) Fills() []model.Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]model.Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}

// SubmitEntry buys ~dollarAmount of symbol at the current quote plus
// slippage. Duplicate idempotency keys return the original fill.
func (p *Paper) SubmitEntry(ctx context.Context, symbol string, dollarAmount float64, idempotencyKey string) (model.Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if fill, ok := p.seen[idempotencyKey]; ok {
		return fill, nil
	}
	quote, ok := p.quotes[symbol]
	if !ok || quote <= 0 {
		return model.Fill{}, model.RejectionError("no quote for " + symbol)
	}
	if dollarAmount > p.equity {
		return model.Fill{}, model.RejectionError(fmt.Sprintf("insufficient equity: need %.2f have %.2f", dollarAmount, p.equity))
	}

	price := quote * (1 + p.slippageBps/10000) // buy higher
	shares := dollarAmount / price
	p.equity -= dollarAmount
	return p.record(symbol, shares, price, idempotencyKey, "BUY"), nil
}

// SubmitExit sells shares of symbol at the current quote minus slippage.
func (p *Paper) SubmitExit(ctx context.Context, symbol string, shares float64, idempotencyKey string) (model.Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if fill, ok := p.seen[idempotencyKey]; ok {
		return fill, nil
	}
	quote, ok := p.quotes[symbol]
	if !ok || quote <= 0 {
		return model.Fill{}, model.RejectionError("no quote for " + symbol)
	}

	price := quote * (1 - p.slippageBps/10000) // sell lower
	p.equity += shares * price
	return p.record(symbol, shares, price, idempotencyKey, "SELL"), nil
}

// AccountEquity returns the simulated cash balance.
func (p *Paper) AccountEquity(ctx context.Context) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.equity, nil
}

// record appends a fill under the held lock.
func (p *Paper) record(symbol string, shares, price float64, key, side string) model.Fill {
	p.orderSeq++
	fill := model.Fill{
		OrderID: fmt.Sprintf("PAPER-%d", p.orderSeq),
		Symbol:  symbol,
		Shares:  shares,
		Price:   price,
		TS:      time.Now().UTC(),
	}
	p.fills = append(p.fills, fill)
	if key != "" {
		p.seen[key] = fill
	}
	log.Printf("[paper] %s %s qty=%.4f price=%.2f order=%s", side, symbol, shares, price, fill.OrderID)
	return fill
}
