package teetime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies provider failures for retry/backoff decisions. All
// provider-originated errors are re-classified into this taxonomy before the
// scheduler makes any retry decision.
type Kind int

const (
	// KindTransient covers network failures, rate limits, 5xx responses and
	// stale browser sessions. Retried with backoff.
	KindTransient Kind = iota
	// KindTerminalAuth means credentials are invalid or expired. Never retried.
	KindTerminalAuth
	// KindTerminalNotFound means the course or facility is misconfigured.
	// Never retried.
	KindTerminalNotFound
	// KindBookingRejected means a slot was found but the transaction was
	// declined, most likely because a competing requester took it. Treated as
	// a transient failure of the tick; the next tick re-runs availability.
	KindBookingRejected
)

func (k Kind) String() string {
	switch k {
	case KindTerminalAuth:
		return "terminal-auth"
	case KindTerminalNotFound:
		return "terminal-not-found"
	case KindBookingRejected:
		return "booking-rejected"
	default:
		return "transient"
	}
}

// Terminal reports whether retrying can ever succeed.
func (k Kind) Terminal() bool {
	return k == KindTerminalAuth || k == KindTerminalNotFound
}

// Error is a classified provider failure.
type Error struct {
	Kind  Kind
	Op    string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

func AuthError(op string, cause error) error {
	return &Error{Kind: KindTerminalAuth, Op: op, Cause: cause}
}

func NotFoundError(op string, cause error) error {
	return &Error{Kind: KindTerminalNotFound, Op: op, Cause: cause}
}

func TransientError(op string, cause error) error {
	return &Error{Kind: KindTransient, Op: op, Cause: cause}
}

func RejectedError(op string, cause error) error {
	return &Error{Kind: KindBookingRejected, Op: op, Cause: cause}
}

// Classify maps any error to its Kind. Unclassified errors default to
// transient so an unknown failure mode never burns the whole retry budget in
// one tick, and context cancellation is treated as transient too (the tick is
// simply re-driven).
func Classify(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindTransient
}

// FromStatus classifies an HTTP response status for REST-backed providers:
// 401/403 terminal-auth, 404 terminal-not-found, 429 and 5xx transient.
func FromStatus(op string, status int) error {
	if status < 400 {
		return nil
	}
	err := fmt.Errorf("http status %d", status)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return AuthError(op, err)
	case status == http.StatusNotFound:
		return NotFoundError(op, err)
	default:
		return TransientError(op, err)
	}
}
