package orchestrator

import (
	"context"
	"time"

	"anomaly-trader/internal/model"
)

// Bounded exponential backoff for collaborator I/O. Only errors classified
// transient are retried; permanent errors (rejections, malformed symbols)
// fail fast.
const (
	maxAttempts  = 3
	baseBackoff  = 500 * time.Millisecond
	maxBackoff   = 5 * time.Second
	backoffRatio = 2
)

// withRetry runs fn up to maxAttempts times, backing off between transient
// failures. Respects ctx cancellation during waits.
func (o *Orchestrator) withRetry(ctx context.Context, op string, fn func() error) error {
	backoff := baseBackoff
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !model.IsTransient(err) || attempt == maxAttempts {
			return err
		}
		if o.met != nil {
			o.met.OrderRetries.Inc()
		}
		o.log.Warn("transient failure, retrying", "op", op, "attempt", attempt, "backoff", backoff.String(), "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= backoffRatio
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return err
}

func (o *Orchestrator) fetchLatestBar(ctx context.Context, symbol string) (model.Bar, error) {
	var bar model.Bar
	err := o.withRetry(ctx, "latest_bar", func() error {
		var err error
		bar, err = o.source.LatestBar(ctx, symbol)
		return err
	})
	return bar, err
}

func (o *Orchestrator) submitEntry(ctx context.Context, symbol string, amount float64, idempotencyKey string) (model.Fill, error) {
	var fill model.Fill
	err := o.withRetry(ctx, "submit_entry", func() error {
		start := time.Now()
		var err error
		fill, err = o.broker.SubmitEntry(ctx, symbol, amount, idempotencyKey)
		if o.met != nil {
			o.met.BrokerCallDur.Observe(time.Since(start).Seconds())
		}
		return err
	})
	return fill, err
}

func (o *Orchestrator) submitExit(ctx context.Context, symbol string, shares float64, idempotencyKey string) (model.Fill, error) {
	var fill model.Fill
	err := o.withRetry(ctx, "submit_exit", func() error {
		start := time.Now()
		var err error
		fill, err = o.broker.SubmitExit(ctx, symbol, shares, idempotencyKey)
		if o.met != nil {
			o.met.BrokerCallDur.Observe(time.Since(start).Seconds())
		}
		return err
	})
	return fill, err
}
