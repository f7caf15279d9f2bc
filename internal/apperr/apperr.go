// Package apperr defines the error kinds surfaced by the split and retrieval
// services. Callers decide on a response by inspecting the Kind of an error,
// never its message.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	// KindInvalidInput covers malformed requests and non-positive durations.
	KindInvalidInput Kind = "invalid_input"
	// KindUpstreamFetch covers an unreachable source URL or a non-2xx response.
	KindUpstreamFetch Kind = "upstream_fetch"
	// KindEncoding covers a codec failure on any window.
	KindEncoding Kind = "encoding"
	// KindNotFound covers an unknown session, an out-of-range chunk number,
	// or an artifact missing from storage.
	KindNotFound Kind = "not_found"
	// KindInternal covers everything else.
	KindInternal Kind = "internal"
)

// Error carries a Kind, the operation that failed, a human-readable message
// and the underlying cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind. It lets callers
// write errors.Is(err, apperr.NotFound).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Op == "" && t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Kind sentinels usable with errors.Is.
var (
	InvalidInput  = &Error{Kind: KindInvalidInput}
	UpstreamFetch = &Error{Kind: KindUpstreamFetch}
	Encoding      = &Error{Kind: KindEncoding}
	NotFound      = &Error{Kind: KindNotFound}
	Internal      = &Error{Kind: KindInternal}
)

// New returns an *Error of the given kind.
func New(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// NewInvalidInput wraps err as an invalid input failure.
func NewInvalidInput(op, message string, err error) *Error {
	return New(KindInvalidInput, op, message, err)
}

// NewUpstreamFetch wraps err as an upstream fetch failure.
func NewUpstreamFetch(op string, err error) *Error {
	return New(KindUpstreamFetch, op, "fetch source audio", err)
}

// NewEncoding wraps err as an encoding failure.
func NewEncoding(op, message string, err error) *Error {
	return New(KindEncoding, op, message, err)
}

// NewNotFound returns a not-found failure with a client-facing message.
func NewNotFound(op, message string) *Error {
	return New(KindNotFound, op, message, nil)
}

// NewInternal wraps err as an internal failure.
func NewInternal(op string, err error) *Error {
	return New(KindInternal, op, "", err)
}

// KindOf returns the Kind of the outermost *Error in err's chain.
// A nil error has no kind; unclassified errors are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the client-facing message of err. A not-found *Error
// yields its bare Message; any other error yields the full error string,
// which keeps the op and cause visible to callers.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" && e.Kind == KindNotFound {
		return e.Message
	}
	return err.Error()
}
