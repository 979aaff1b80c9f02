package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by how the owning worker must react to it:
// requeue, drop, skip silently, or abort startup.
type Kind string

const (
	KindTransient      Kind = "TRANSIENT"       // infra unavailable, retry or requeue
	KindNotFound       Kind = "NOT_FOUND"       // missing downstream entity, log and skip
	KindMalformedEvent Kind = "MALFORMED_EVENT" // event missing required fields, log and drop
	KindConflict       Kind = "CONFLICT"        // work already done, silently skip
	KindFatalConfig    Kind = "FATAL_CONFIG"    // missing startup configuration, abort
)

type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func Transient(msg string, cause error) *Error {
	return &Error{Kind: KindTransient, Message: msg, Cause: cause}
}

func NotFound(msg string, cause error) *Error {
	return &Error{Kind: KindNotFound, Message: msg, Cause: cause}
}

func MalformedEvent(msg string, cause error) *Error {
	return &Error{Kind: KindMalformedEvent, Message: msg, Cause: cause}
}

func Conflict(msg string, cause error) *Error {
	return &Error{Kind: KindConflict, Message: msg, Cause: cause}
}

func FatalConfig(msg string, cause error) *Error {
	return &Error{Kind: KindFatalConfig, Message: msg, Cause: cause}
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

func IsTransient(err error) bool { return IsKind(err, KindTransient) }
func IsNotFound(err error) bool  { return IsKind(err, KindNotFound) }
func IsConflict(err error) bool  { return IsKind(err, KindConflict) }
func IsMalformed(err error) bool { return IsKind(err, KindMalformedEvent) }
