// Package rpcerr implements the failure taxonomy used by the RPC engine to
// classify errors raised on either side of a call: LOGIC (caller
// attributable), FATAL (engine attributable) and ETC (rehydrated, unknown
// origin). It is a thin classification layered on top of go.bryk.io/pkg/errors
// so the stack-capture, cause chains and `%+v` formatting the rest of the
// module relies on keep working unchanged.
package rpcerr

import (
	"fmt"

	bkerrors "go.bryk.io/pkg/errors"
)

// Kind classifies the origin of an error crossing the wire.
type Kind string

const (
	// Logic marks errors attributable to the caller, e.g. a malformed
	// request that fails schema validation.
	Logic Kind = "LOGIC"

	// Fatal marks errors attributable to the engine itself, e.g. a
	// timed-out call or a programming mistake such as a missing replyTo.
	Fatal Kind = "FATAL"

	// ETC marks errors reconstructed on the caller side whose original
	// `errorType` could not be recognized.
	ETC Kind = "ETC"
)

// Error is the typed failure value raised by handlers and reconstructed by
// callers after a failed `invoke`. It carries everything ErrorShape needs
// on the wire plus the stack trace and cause chain `go.bryk.io/pkg/errors`
// natively provides.
type Error struct {
	cause      error
	Kind       Kind
	Name       string
	Number     int
	Key        string
	Code       string
	DebugMsg   string
	StatusCode int
	OccurredIn string
	Extra      map[string]interface{}
}

// New returns a root error of the given kind. The stacktrace points to the
// line of code that called this function.
func New(kind Kind, key string, number int, statusCode int, msg string) *Error {
	root := bkerrors.New(msg)
	if be, ok := root.(*bkerrors.Error); ok {
		be.SetTag("errorType", string(kind))
		be.SetTag("errorKey", key)
		be.SetTag("errorNumber", number)
		be.SetTag("statusCode", statusCode)
	}
	return &Error{
		cause:      root,
		Kind:       kind,
		Name:       key,
		Number:     number,
		Key:        key,
		StatusCode: statusCode,
	}
}

// Newf is a formatted variant of New.
func Newf(kind Kind, key string, number int, statusCode int, format string, args ...interface{}) *Error {
	return New(kind, key, number, statusCode, fmt.Sprintf(format, args...))
}

// Wrap adapts an arbitrary error raised by a user handler into an ETC
// error, preserving its message and, when available, its stacktrace.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	root := bkerrors.Wrap(err, "")
	return &Error{
		cause:      root,
		Kind:       ETC,
		Name:       "ETCError",
		StatusCode: 500,
	}
}

// Error implements the `error` interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return e.cause.Error()
	}
	return fmt.Sprintf("%s: %s", e.Key, e.DebugMsg)
}

// Unwrap exposes the underlying `go.bryk.io/pkg/errors` cause so callers
// can keep using `errors.Is`/`errors.As`/`errors.Cause` as usual.
func (e *Error) Unwrap() error {
	return e.cause
}

// StackTrace implements `bkerrors.HasStack`.
func (e *Error) StackTrace() []bkerrors.StackFrame {
	var hs bkerrors.HasStack
	if e.cause != nil && bkerrors.As(e.cause, &hs) {
		return hs.StackTrace()
	}
	return nil
}

// WithExtra merges additional debugging context into the error, matching
// §4.4 step 9: non-503 handler failures get `{island, name, req}` stamped
// before being reported back to the caller.
func (e *Error) WithExtra(extra map[string]interface{}) *Error {
	if e.Extra == nil {
		e.Extra = make(map[string]interface{}, len(extra))
	}
	for k, v := range extra {
		e.Extra[k] = v
	}
	return e
}

// Is503 reports whether the error carries the "requeue" status code used
// by the consume envelope (§4.6/§7) to decide between a discard-with-reply
// and a delayed nack.
func (e *Error) Is503() bool {
	return e.StatusCode == 503
}
