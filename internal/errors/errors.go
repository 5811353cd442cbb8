package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and HTTP mapping
type Kind string

const (
	KindNotConnected     Kind = "NOT_CONNECTED"
	KindInvalidState     Kind = "INVALID_STATE"
	KindEmailNotVerified Kind = "EMAIL_NOT_VERIFIED"
	KindRemoteService    Kind = "REMOTE_SERVICE"
	KindNotFound         Kind = "NOT_FOUND"
	KindDecode           Kind = "DECODE"
	KindValidation       Kind = "VALIDATION"
)

// Sentinel errors, one per kind. Match with errors.Is.
var (
	ErrNotConnected     = errors.New("google account not connected")
	ErrInvalidState     = errors.New("invalid authorization state")
	ErrEmailNotVerified = errors.New("google account email not verified")
	ErrRemoteService    = errors.New("remote document service error")
	ErrNotFound         = errors.New("not found")
	ErrDecode           = errors.New("malformed operation")
	ErrValidation       = errors.New("validation failed")
)

var sentinels = map[Kind]error{
	KindNotConnected:     ErrNotConnected,
	KindInvalidState:     ErrInvalidState,
	KindEmailNotVerified: ErrEmailNotVerified,
	KindRemoteService:    ErrRemoteService,
	KindNotFound:         ErrNotFound,
	KindDecode:           ErrDecode,
	KindValidation:       ErrValidation,
}

// Error is the typed error carried through the worker. Op names the
// operation that failed ("ledger.apply_event", "credentials.refresh").
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = sentinels[e.Kind].Error()
	}
	prefix := string(e.Kind)
	if e.Op != "" {
		prefix = e.Op + " [" + prefix + "]"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, msg)
}

// Unwrap allows errors.Is and errors.As to see the cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind
func (e *Error) Is(target error) bool {
	if s, ok := sentinels[e.Kind]; ok && s == target {
		return true
	}
	return false
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates an error of the given kind
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap creates an error of the given kind around cause
func Wrap(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// NotConnected creates a NOT_CONNECTED error
func NotConnected(op string, userID int64) *Error {
	return New(KindNotConnected, op, fmt.Sprintf("user %d has no usable google credential", userID)).
		WithContext("user_id", userID)
}

// InvalidState creates an INVALID_STATE error
func InvalidState(op, reason string) *Error {
	return New(KindInvalidState, op, "authorization state rejected: "+reason)
}

// EmailNotVerified creates an EMAIL_NOT_VERIFIED error
func EmailNotVerified(op, email string) *Error {
	return New(KindEmailNotVerified, op, fmt.Sprintf("email %q is not verified", email))
}

// Remote wraps a gateway failure
func Remote(op string, cause error) *Error {
	return Wrap(KindRemoteService, op, cause)
}

// NotFound creates a NOT_FOUND error for a named resource
func NotFound(op, resource string) *Error {
	return New(KindNotFound, op, resource+" not found").WithContext("resource", resource)
}

// Decode wraps a payload or attribute decoding failure
func Decode(op string, cause error) *Error {
	return Wrap(KindDecode, op, cause)
}

// Validation creates a VALIDATION error
func Validation(op string, cause error) *Error {
	return Wrap(KindValidation, op, cause)
}

// KindOf returns the kind of the first *Error in the chain, or "" if none
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsTerminal reports whether err makes a message undeliverable: it is dropped,
// never retried.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrDecode) || errors.Is(err, ErrValidation)
}
