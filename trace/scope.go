// Package trace carries the engine's request-trace identifier (the
// "tattoo") and the procedure context it is currently flowing through. The
// original implementation relied on a host-provided namespace that
// auto-propagates values across async boundaries; here the scope is an
// explicit, immutable value threaded through context.Context so propagation
// across goroutines and RPC hops never depends on hidden global state.
package trace

import "context"

// Type distinguishes the two kinds of work a scope can describe.
type Type string

const (
	// RPC marks a scope entered inside a registered handler for an
	// internal-only procedure.
	RPC Type = "rpc"

	// Endpoint marks a scope entered inside a registered handler for a
	// procedure reached from an external edge. It is handled exactly like
	// RPC except for which hook chains run.
	Endpoint Type = "endpoint"
)

// Scope is the immutable `{tattoo, context, type}` record attached to the
// current logical task. It is never mutated in place; derivations produce
// a new value.
type Scope struct {
	// Tattoo is the end-to-end request-trace identifier. It is generated
	// once at the root of a call chain and forwarded unchanged by every
	// nested invoke.
	Tattoo string

	// Context is the name of the procedure or endpoint currently
	// executing.
	Context string

	// Type reports whether this scope belongs to an RPC handler or an
	// endpoint handler.
	Type Type
}

type scopeKey struct{}

// With attaches scope to ctx, returning a derived context. Nested `invoke`
// calls read this value back out to forward the same tattoo downstream.
func With(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// From reads the scope attached to ctx. The second return value is false
// when no scope has been entered yet, i.e. tattoo/context/type are all
// "undefined" in the language of the component design, which remains a
// permitted state for a top-level `invoke` call made outside a handler.
func From(ctx context.Context) (Scope, bool) {
	scope, ok := ctx.Value(scopeKey{}).(Scope)
	return scope, ok
}

// Tattoo returns the tattoo carried by ctx's scope, or an empty string if
// none is set.
func Tattoo(ctx context.Context) string {
	scope, ok := From(ctx)
	if !ok {
		return ""
	}
	return scope.Tattoo
}

// Inherit builds the scope for a nested call: it reuses the parent's
// tattoo when present, otherwise mints a fresh one, and always reports the
// new procedure name and type being entered.
func Inherit(ctx context.Context, newTattoo func() string, procedure string, typ Type) Scope {
	if parent, ok := From(ctx); ok && parent.Tattoo != "" {
		return Scope{Tattoo: parent.Tattoo, Context: procedure, Type: typ}
	}
	return Scope{Tattoo: newTattoo(), Context: procedure, Type: typ}
}
