// Package services defines the business logic for negotiation sessions: the
// per-session state machine, the admin override/handoff channel, and the
// customer-facing transcript. This file centralizes service-level error
// values so they can be consistently returned by service methods and checked
// by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

var (
	// ErrProductNotFound indicates the referenced catalog entry does not exist.
	ErrProductNotFound = errors.New("product not found")

	// ErrSessionNotFound indicates the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrForbidden is returned when a caller acts on a session they do not
	// own. It is deliberately generic: nothing about the session is leaked
	// beyond what the identity boundary already exposed.
	ErrForbidden = errors.New("not allowed")

	// ErrSessionClosed is returned for any message sent to a terminated
	// session. Nothing is appended to the ledger.
	ErrSessionClosed = errors.New("chat has ended")

	// ErrEmptyMessage is returned when a customer or admin message contains
	// no text after trimming.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrTooLong is returned when a message exceeds the configured maximum
	// rune count.
	ErrTooLong = errors.New("message too long")

	// ErrInvalidPrice is returned when an admin price override is not a
	// parseable non-negative decimal. No state changes occur.
	ErrInvalidPrice = errors.New("price must be a non-negative decimal")

	// ErrInvalidState is returned when a session listing filter names an
	// unknown state.
	ErrInvalidState = errors.New("unknown session state")
)
