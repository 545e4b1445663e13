// Package registration implements the registration session client (spec
// §4.7): a semi-persistent, single-outstanding-request pipeline sitting
// on top of a possibly transient chat.Connection. It hides reconnects,
// inactivity-based disconnects, retries, and cancellation from callers.
package registration

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors a ConnectChat implementation's ConnectChat method may
// return, classified by spawnConnectedChat (spec §4.7):
//   - ErrInvalidConnectionConfiguration and a *RetryLaterError are fatal.
//   - ErrAppExpired / ErrDeviceDeregistered are fatal ("should not arise
//     on an unauthenticated socket").
//   - anything else (Timeout, AllAttemptsFailed, WebSocket(_)) is treated
//     as retryable and paced by the chat-transport outcome delay.
var (
	ErrInvalidConnectionConfiguration = errors.New("registration: invalid connection configuration")
	ErrAppExpired                     = errors.New("registration: app expired")
	ErrDeviceDeregistered             = errors.New("registration: device deregistered")

	// ErrTimeout is returned by sendRequest when the per-request timeout
	// elapses (spec §7 "RequestTimedOut").
	ErrTimeout = errors.New("registration: request timed out")
	// ErrNoBoundSession is returned by SubmitRequest before any session
	// has been created or resumed.
	ErrNoBoundSession = errors.New("registration: no bound session")
)

// RetryLaterError is returned when the server asks for a delay before
// retrying (spec §7 "RetryLater(seconds)"). Kept fatal and surfaced to
// the caller rather than triggering internal backoff (spec §9 Open
// Question #3, decided in DESIGN.md): the caller owns the registration
// attempt's overall deadline, not this core.
type RetryLaterError struct{ After time.Duration }

func (e *RetryLaterError) Error() string {
	return fmt.Sprintf("registration: retry later: %s", e.After)
}

// UnknownError surfaces a caller-facing message for conditions outside
// the stable error taxonomy (spec §4.7 "Unknown(msg)").
type UnknownError struct{ Msg string }

func (e *UnknownError) Error() string { return "registration: " + e.Msg }

// UnexpectedError surfaces AppExpired/DeviceDeregistered arriving on an
// unauthenticated socket — conditions that should not occur in practice
// (spec §4.7 "Unexpected(&'static str)").
type UnexpectedError struct{ Msg string }

func (e *UnexpectedError) Error() string { return "registration: unexpected: " + e.Msg }
