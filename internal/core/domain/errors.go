package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure taxonomy. Component-local failures are
// absorbed into offer/session status rather than propagated as fatal errors;
// these values exist so callers can classify with errors.Is.
var (
	// ErrUnparseable means no plausible price was found in a reply. Callers
	// must route the reply to human review, never drop it.
	ErrUnparseable = errors.New("no plausible offer found in text")

	// ErrDiscoveryUnavailable means supplier discovery could not be reached.
	// A run continues with zero suppliers and reports so.
	ErrDiscoveryUnavailable = errors.New("supplier discovery unavailable")

	// ErrUnknownSession is returned for a session id that does not exist.
	ErrUnknownSession = errors.New("unknown clarification session")

	// ErrSessionComplete is returned when answering a session that already
	// reached a terminal status.
	ErrSessionComplete = errors.New("clarification session already terminal")

	// ErrUnknownThread is returned for a thread id with no recorded offers.
	ErrUnknownThread = errors.New("unknown offer thread")
)

// SendError wraps a per-supplier RFQ send failure.
type SendError struct {
	Supplier string
	Err      error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s failed: %v", e.Supplier, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// StaleTransitionError is returned when a transition carries a counter round
// lower than the one already recorded for the thread. The round counter is
// monotonic; out-of-order replies are rejected, not applied.
type StaleTransitionError struct {
	ThreadID     string
	CurrentRound int
	GotRound     int
}

func (e *StaleTransitionError) Error() string {
	return fmt.Sprintf("stale transition on thread %s: round %d behind recorded round %d",
		e.ThreadID, e.GotRound, e.CurrentRound)
}

// InvalidTransitionError is returned for a status change the state machine
// does not allow, including any automatic transition out of a terminal status.
type InvalidTransitionError struct {
	ThreadID string
	From     NegotiationStatus
	To       NegotiationStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition on thread %s: %s -> %s", e.ThreadID, e.From, e.To)
}
