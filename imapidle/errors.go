package imapidle

import (
	"errors"
	"fmt"
)

var (
	// ErrCapabilityMissing is returned by Monitor when the server supports
	// neither IDLE nor IMAP4rev2. No connection is opened in this case.
	ErrCapabilityMissing = errors.New("imapidle: server doesn't support IDLE")
	// ErrMessageNotFound is wrapped by Transport.Fetch when a sequence number
	// no longer maps to a message.
	ErrMessageNotFound = errors.New("imapidle: message not found")
	// ErrClosed is returned by Monitor after the Watcher has been closed.
	ErrClosed = errors.New("imapidle: watcher closed")

	errConnLost      = errors.New("imapidle: dedicated connection lost")
	errEmptyResponse = errors.New("imapidle: empty response")
)

// Reason identifies why a monitoring session ended.
type Reason int

const (
	// The dedicated connection reported itself disconnected
	ReasonStreamDisconnected Reason = iota + 1
	// The underlying stream hit EOF or a command timeout
	ReasonStreamUnhealthy
	// The session reached MaxSessionDuration
	ReasonSessionTimeLimitExceeded
	// No change was detected before the configured timeout
	ReasonInactivityTimeout
	// The server didn't send anything for ServerSilenceThreshold
	ReasonServerSilence
	// Any other transport failure
	ReasonReadError
	// IDLE couldn't be restarted after a dispatch pass
	ReasonReentryFailed
)

// String implements fmt.Stringer.
func (r Reason) String() string {
	switch r {
	case ReasonStreamDisconnected:
		return "stream disconnected"
	case ReasonStreamUnhealthy:
		return "stream unhealthy"
	case ReasonSessionTimeLimitExceeded:
		return "session time limit exceeded"
	case ReasonInactivityTimeout:
		return "inactivity timeout"
	case ReasonServerSilence:
		return "server silence"
	case ReasonReadError:
		return "read error"
	case ReasonReentryFailed:
		return "re-entry failed"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// Error is returned by Monitor when a session ends. Every session ends with
// an Error: callers are expected to start a new session.
type Error struct {
	Reason Reason
	// Underlying transport error, if any
	Err error
}

// Error implements the error interface.
func (err *Error) Error() string {
	if err.Err == nil {
		return fmt.Sprintf("imapidle: %v", err.Reason)
	}
	return fmt.Sprintf("imapidle: %v: %v", err.Reason, err.Err)
}

// Unwrap returns the underlying error.
func (err *Error) Unwrap() error {
	return err.Err
}
