// Package notification delivers trading events (anomaly signals, executed
// exits) to external channels: Telegram, generic webhooks, or the log.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"anomaly-trader/internal/model"
)

// AlertLevel is the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert is a rendered notification ready for any backend.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Backend delivers a rendered alert to one channel.
type Backend interface {
	Send(ctx context.Context, alert Alert) error
}

// Multi renders events and fans them out to every configured backend.
// Implements model.Notifier.
type Multi struct {
	backends []Backend
}

// NewMulti builds a fan-out notifier. With no backends every Notify is a
// no-op success.
func NewMulti(backends ...Backend) *Multi {
	return &Multi{backends: backends}
}

// Notify renders the event once and sends it to each backend. All backends
// are attempted; errors are joined.
func (m *Multi) Notify(ctx context.Context, event model.NotifyEvent) error {
	alert, ok := render(event)
	if !ok {
		return nil
	}
	var errs []error
	for _, b := range m.backends {
		if err := b.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// render maps an event to a human-readable alert.
func render(event model.NotifyEvent) (Alert, bool) {
	switch {
	case event.Signal != nil:
		sig := event.Signal
		level := AlertInfo
		if sig.Severity >= 3 {
			level = AlertWarning
		}
		title := fmt.Sprintf("%s signal: %s", sig.Direction, sig.Symbol)
		msg := fmt.Sprintf("price %.2f, severity %.2f\nconditions: %s",
			sig.ReferencePrice, sig.Severity, strings.Join(sig.Conditions, ", "))
		if sig.Oscillator > 0 {
			msg += fmt.Sprintf("\noscillator: %.1f", sig.Oscillator)
		}
		return Alert{Level: level, Title: title, Message: msg}, true

	case event.Exit != nil:
		ex := event.Exit
		level := AlertInfo
		if ex.Reason == model.ExitStopLoss || ex.Reason == model.ExitTrailingStop {
			level = AlertWarning
		}
		title := fmt.Sprintf("exit %s: %s", ex.Symbol, ex.Reason)
		msg := fmt.Sprintf("%.4f shares at %.2f (%s)",
			ex.Shares, ex.Price, ex.TS.Format("2006-01-02 15:04"))
		return Alert{Level: level, Title: title, Message: msg}, true
	}
	return Alert{}, false
}

// LogBackend writes alerts to the process log. Default when no external
// channel is configured.
type LogBackend struct{}

func NewLogBackend() *LogBackend { return &LogBackend{} }

func (n *LogBackend) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}
