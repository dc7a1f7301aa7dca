package model

import (
	"errors"
	"fmt"
)

// Error taxonomy. Computational errors (ErrInsufficientData, ErrOutOfOrderBar)
// are recovered locally by the component that sees them. I/O errors
// (ErrNotAvailable, ErrOrderRejected) propagate to the orchestrator, which
// decides retry vs skip; they never abort a whole cycle.
var (
	// ErrInsufficientData: fewer bars than the oscillator needs to seed its
	// averages. Recoverable by accumulating more history.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrOutOfOrderBar: a bar's timestamp is not strictly greater than the
	// last one processed. The oscillator state must be re-initialized rather
	// than silently corrupting the running averages.
	ErrOutOfOrderBar = errors.New("out-of-order bar")

	// ErrNotAvailable: transient market-data failure. Retried with backoff.
	ErrNotAvailable = errors.New("market data not available")

	// ErrOrderRejected: broker refused an order. Permanent for this attempt;
	// surfaced with the broker's rejection detail, never retried blindly.
	ErrOrderRejected = errors.New("order rejected")
)

// IsTransient reports whether err is worth retrying with backoff.
// Only known-transient kinds qualify: malformed symbols, rejected orders and
// data-shape problems fail fast instead of retrying fruitlessly.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNotAvailable)
}

// RejectionError wraps ErrOrderRejected with the broker's human-readable detail.
func RejectionError(detail string) error {
	return fmt.Errorf("%w: %s", ErrOrderRejected, detail)
}
