package b2bua

import (
	"errors"
	"fmt"
)

// Sentinel errors of this package; none of these ever reach the wire —
// every failure manifests as a SIP response per spec.md §7. The
// response itself is chosen from the call table and directory results
// directly; of these sentinels only ErrUnexpectedEvent is produced,
// wrapped in a TransitionError for logging.
var (
	// ErrTargetNotFound indicates the callee is absent from the
	// location directory.
	ErrTargetNotFound = errors.New("b2bua: target not found")

	// ErrCapacityExhausted mirrors calltable.ErrCapacityExhausted as a
	// sentinel of this package. No function here returns it.
	ErrCapacityExhausted = errors.New("b2bua: call table capacity exhausted")

	// ErrUnexpectedEvent indicates an event arrived for a call in a
	// state that has no defined transition for it. Always logged and
	// swallowed, never escalated.
	ErrUnexpectedEvent = errors.New("b2bua: unexpected event for current state")
)

// TransitionError records an event that did not match any row of the
// (state, event) table, for structured logging.
type TransitionError struct {
	CallIndex uint32
	State     fmt.Stringer
	Leg       fmt.Stringer
	Detail    string
}

// Error returns the error message.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("call %d: unexpected event in state %s on %s: %s",
		e.CallIndex, e.State, e.Leg, e.Detail)
}

// Unwrap returns ErrUnexpectedEvent.
func (e *TransitionError) Unwrap() error {
	return ErrUnexpectedEvent
}

// LookupError records a location-directory miss during INVITE routing.
type LookupError struct {
	Callee string
}

// Error returns the error message.
func (e *LookupError) Error() string {
	return fmt.Sprintf("b2bua: callee %q not found in location directory", e.Callee)
}

// Unwrap returns ErrTargetNotFound.
func (e *LookupError) Unwrap() error {
	return ErrTargetNotFound
}
