// Package errs defines the runtime's error-kind taxonomy. Each kind is a
// distinct type satisfying error, constructed with a New<Kind> helper and
// discriminated at component boundaries with errors.As rather than string
// matching. Gateway-internal retry/failover decisions still classify raw
// provider errors by string (see internal/gateway/breaker.go) — that
// classifier feeds into LLMFailure rather than replacing it.
package errs

import (
	"errors"
	"fmt"
)

// Kind discriminates the five runtime error taxonomies.
type Kind string

const (
	KindLLMFailure    Kind = "llm_failure"
	KindToolFailure   Kind = "tool_failure"
	KindSessionFault  Kind = "session_fault"
	KindScheduleFault Kind = "schedule_fault"
	KindTransientIO   Kind = "transient_io"
)

// Error is the common shape of every typed error in the runtime.
type Error struct {
	Kind    Kind
	Op      string // component/operation that raised it, e.g. "gateway.Complete"
	Message string
	Err     error // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, errs.KindLLMFailure)-style matching via a kind
// sentinel comparison, in addition to errors.As(err, &*errs.Error).
func (e *Error) Is(target error) bool {
	if k, ok := target.(kindSentinel); ok {
		return e.Kind == Kind(k)
	}
	return false
}

type kindSentinel Kind

func (k kindSentinel) Error() string { return string(k) }

// Sentinel values usable with errors.Is, e.g. errors.Is(err, errs.LLMFailure).
var (
	LLMFailure    error = kindSentinel(KindLLMFailure)
	ToolFailure   error = kindSentinel(KindToolFailure)
	SessionFault  error = kindSentinel(KindSessionFault)
	ScheduleFault error = kindSentinel(KindScheduleFault)
	TransientIO   error = kindSentinel(KindTransientIO)
)

func newErr(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: cause}
}

// NewLLMFailure wraps a provider/gateway-level failure: HTTP errors,
// timeouts, malformed responses, or an open circuit breaker.
func NewLLMFailure(op, message string, cause error) *Error {
	return newErr(KindLLMFailure, op, message, cause)
}

// NewToolFailure wraps a tool-execution failure: unknown tool, bad
// arguments, handler error, or timeout.
func NewToolFailure(op, message string, cause error) *Error {
	return newErr(KindToolFailure, op, message, cause)
}

// NewSessionFault wraps a Session Store violation: deleting an active
// session, exceeding the creation rate limit, or a not-found lookup.
func NewSessionFault(op, message string, cause error) *Error {
	return newErr(KindSessionFault, op, message, cause)
}

// NewScheduleFault wraps a Scheduler-level failure: bad schedule syntax,
// job validation, or a dispatch error surfaced through job history.
func NewScheduleFault(op, message string, cause error) *Error {
	return newErr(KindScheduleFault, op, message, cause)
}

// NewTransientIO wraps a retryable infrastructure failure: DB connection
// loss, a WebSocket write error, or a filesystem read miss on a cache
// refresh — conditions expected to clear on retry.
func NewTransientIO(op, message string, cause error) *Error {
	return newErr(KindTransientIO, op, message, cause)
}

// IsKind reports whether err (or any error it wraps) carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
