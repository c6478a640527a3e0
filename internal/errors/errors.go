// Package errors provides the classified failure taxonomy for the client.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind is a machine-readable failure class.
type Kind string

const (
	// KindUnknown represents an unclassified failure.
	KindUnknown Kind = "UNKNOWN"

	// KindNetwork is a transport-level failure before any HTTP status.
	KindNetwork Kind = "NETWORK_FAILURE"

	// KindServer is a 5xx or server-asserted internal failure.
	KindServer Kind = "SERVER_ERROR"

	// KindClient is a 4xx other than auth, or an unparseable success body.
	KindClient Kind = "CLIENT_ERROR"

	// KindAuthExpired is a 401 or server-asserted session/token invalidity.
	KindAuthExpired Kind = "AUTH_EXPIRED"

	// KindValidation is local input rejection before any I/O.
	KindValidation Kind = "VALIDATION_ERROR"

	// KindRateLimited is a local throttle trip, resolved without I/O.
	KindRateLimited Kind = "RATE_LIMITED"

	// KindConnectionFatal is a WebSocket auth rejection or retry-ceiling
	// exhaustion; never auto-retried.
	KindConnectionFatal Kind = "CONNECTION_FATAL"
)

// Error is a classified client failure.
type Error struct {
	Kind    Kind
	Status  int // HTTP status when one was observed, else 0
	Message string
	Err     error
}

// New creates a classified error with a user-presentable message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a classified error around an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithStatus attaches the observed HTTP status code.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("%s (status %d): %v", e.Message, e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// GetKind extracts the failure class from any error.
// Returns KindUnknown if the error is not a classified error.
func GetKind(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind checks if the error has the specified failure class.
func IsKind(err error, kind Kind) bool {
	return GetKind(err) == kind
}

// Recoverable reports whether retrying the same operation could succeed
// without the user changing anything first.
func Recoverable(err error) bool {
	switch GetKind(err) {
	case KindNetwork, KindServer, KindRateLimited:
		return true
	default:
		return false
	}
}
