// Package apperr classifies failures of the dispatch and lifecycle core.
//
// Adapters, stores and services wrap their errors in an *Error carrying a
// Kind. Queue workers use the kind to decide between retry and terminal
// failure; HTTP handlers use it to pick a status code.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is one category of the error taxonomy.
type Kind string

const (
	// KindChannelUnavailable means the channel session is not connected or the platform is unreachable.
	KindChannelUnavailable Kind = "channel_unavailable"
	// KindInvalidPayload means the content was rejected (size, format, empty body).
	KindInvalidPayload Kind = "invalid_payload"
	// KindConfiguration means an unknown channel, a missing default connection or a malformed flow.
	KindConfiguration Kind = "configuration"
	// KindConflict means a duplicate open/pending ticket was attempted.
	KindConflict Kind = "conflict"
	// KindNotFound means a referenced ticket, message, contact or step does not exist.
	KindNotFound Kind = "not_found"
	// KindInvalidState means the entity is not in a state that allows the operation.
	KindInvalidState Kind = "invalid_state"
)

// Error is a classified error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
	// ExistingID is set for KindConflict and names the entity the caller should redirect to.
	ExistingID string
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.ExistingID != "" {
		b.WriteString(" (existing ")
		b.WriteString(e.ExistingID)
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so sentinels like ErrNotFound work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.ExistingID == "" && t.Kind == e.Kind
}

// Sentinels usable with errors.Is.
var (
	ErrChannelUnavailable = &Error{Kind: KindChannelUnavailable}
	ErrInvalidPayload     = &Error{Kind: KindInvalidPayload}
	ErrConfiguration      = &Error{Kind: KindConfiguration}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrInvalidState       = &Error{Kind: KindInvalidState}
)

// New wraps err with a kind and operation name.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a classified error from a format string.
func Newf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Conflict reports a duplicate whose surviving entity is existingID.
func Conflict(op, existingID string) *Error {
	return &Error{Kind: KindConflict, Op: op, ExistingID: existingID}
}

// KindOf returns the kind of the first classified error in the chain, or "" when unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ExistingID returns the id carried by a conflict error.
func ExistingID(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindConflict {
		return e.ExistingID
	}
	return ""
}

// Retryable reports whether retrying the operation can succeed.
// Unclassified errors are treated as transient.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case "", KindChannelUnavailable:
		return true
	default:
		return false
	}
}

func IsChannelUnavailable(err error) bool { return KindOf(err) == KindChannelUnavailable }
func IsInvalidPayload(err error) bool     { return KindOf(err) == KindInvalidPayload }
func IsConfiguration(err error) bool      { return KindOf(err) == KindConfiguration }
func IsConflict(err error) bool           { return KindOf(err) == KindConflict }
func IsNotFound(err error) bool           { return KindOf(err) == KindNotFound }
func IsInvalidState(err error) bool       { return KindOf(err) == KindInvalidState }
