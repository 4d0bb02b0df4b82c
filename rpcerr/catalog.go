package rpcerr

import (
	"fmt"
	"time"
)

// Well-known error keys raised directly by the engine. Handler code raises
// its own LOGIC/FATAL/ETC values; these cover the failures the engine itself
// is responsible for detecting.
const (
	KeyRPCTimeout           = "F0023_RPC_TIMEOUT"
	KeyExecTimeout          = "F0024_RPC_EXEC_TIMEOUT"
	KeyNoSubscriber         = "F0025_NO_SUBSCRIBER"
	KeyMissingReplyTo       = "F0026_MISSING_REPLY_TO"
	KeyUndecodableReply     = "F0027_UNDECODABLE_REPLY"
	KeyWrongParameterSchema = "L0002_WRONG_PARAMETER_SCHEMA"
)

// RPCTimeout is raised on the caller side when no reply arrives within
// RPC_WAIT_TIMEOUT_MS for the given procedure.
func RPCTimeout(procedure string, timeout time.Duration) *Error {
	return Newf(Fatal, KeyRPCTimeout, 23, 504,
		"rpc call to %q timed out after %s", procedure, timeout)
}

// ExecTimeout is raised on the callee side when hook+handler execution
// exceeds RPC_EXEC_TIMEOUT_MS for the given procedure.
func ExecTimeout(procedure string, timeout time.Duration) *Error {
	return Newf(Fatal, KeyExecTimeout, 24, 500,
		"handler for %q exceeded execution timeout %s", procedure, timeout)
}

// NoSubscriber describes a request published to a procedure queue with no
// registered consumer. The engine itself never raises it: nothing in this
// module watches publisher returns or calls this constructor.
func NoSubscriber(procedure string) *Error {
	return Newf(Fatal, KeyNoSubscriber, 25, 503,
		"no subscriber is currently registered for %q", procedure)
}

// MissingReplyTo is raised when an inbound request envelope has no replyTo
// queue, making a reply impossible; the message is discarded rather than
// requeued.
func MissingReplyTo(procedure string) *Error {
	return Newf(Fatal, KeyMissingReplyTo, 26, 400,
		"request for %q is missing a replyTo queue", procedure)
}

// UndecodableReply is surfaced by invoke when a reply envelope cannot be
// decoded, instead of letting callers observe a bare decode failure.
func UndecodableReply(procedure string, cause error) *Error {
	e := Newf(Fatal, KeyUndecodableReply, 27, 502,
		"received an undecodable reply for %q", procedure)
	if cause != nil {
		e.DebugMsg = cause.Error()
	}
	return e
}

// WrongParameterSchema is raised when an inbound request body fails the
// handler's registered schema validator.
func WrongParameterSchema(procedure string, cause error) *Error {
	e := Newf(Logic, KeyWrongParameterSchema, 2, 400,
		"request body for %q does not match the expected schema", procedure)
	if cause != nil {
		e.DebugMsg = cause.Error()
	}
	return e
}

// Occurred stamps the error with the service instance it was raised in,
// matching §4.4 step 9's `occurredIn` field.
func (e *Error) Occurred(island string) *Error {
	e.OccurredIn = island
	return e
}

func init() {
	// Guard against accidental key collisions as the catalog grows.
	seen := map[string]bool{}
	for _, k := range []string{
		KeyRPCTimeout, KeyExecTimeout, KeyNoSubscriber,
		KeyMissingReplyTo, KeyUndecodableReply, KeyWrongParameterSchema,
	} {
		if seen[k] {
			panic(fmt.Sprintf("rpcerr: duplicate catalog key %q", k))
		}
		seen[k] = true
	}
}
