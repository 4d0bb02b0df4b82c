// Package hooks implements the engine's pre/post/error transformer
// pipeline: an ordered, per-kind chain of async functions run around every
// handler invocation. The registry is a plain map from hook kind to an
// ordered slice of transformers rather than an enum indexed into a shared
// bag, so each variant's fold is independently type-safe and the zero
// value (no hooks registered) is always the identity transform.
package hooks

import (
	"context"
	"sync"

	"github.com/haandol/island/trace"
)

// Type enumerates the points in the request/handler lifecycle a hook can
// attach to. Endpoint and RPC calls run distinct chains so a host can, for
// example, attach authentication only to endpoint-reachable procedures.
type Type string

const (
	PreEndpoint        Type = "PRE_ENDPOINT"
	PostEndpoint       Type = "POST_ENDPOINT"
	PreRPC             Type = "PRE_RPC"
	PostRPC            Type = "POST_RPC"
	PreEndpointError   Type = "PRE_ENDPOINT_ERROR"
	PostEndpointError  Type = "POST_ENDPOINT_ERROR"
	PreRPCError        Type = "PRE_RPC_ERROR"
	PostRPCError       Type = "POST_RPC_ERROR"
)

// Hook transforms a value flowing through the pipeline. It receives the
// current scope via ctx (see package trace) so it can inspect the tattoo
// or procedure name without a separate parameter.
type Hook func(ctx context.Context, value interface{}) (interface{}, error)

// Registry holds the ordered hook chains for every Type. The zero value is
// not usable; construct with NewRegistry.
type Registry struct {
	mu     sync.RWMutex
	chains map[Type][]Hook
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{chains: make(map[Type][]Hook)}
}

// Register appends hook to the end of the chain for kind t.
func (r *Registry) Register(t Type, hook Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains[t] = append(r.chains[t], hook)
}

// Do runs the chain registered for t as a left-fold over value:
// value_{i+1} = hook_i(value_i). An empty chain returns value unchanged.
// The first hook to error short-circuits the fold; its error is returned
// alongside whatever value had been produced so far.
func (r *Registry) Do(ctx context.Context, t Type, value interface{}) (interface{}, error) {
	r.mu.RLock()
	chain := make([]Hook, len(r.chains[t]))
	copy(chain, r.chains[t])
	r.mu.RUnlock()

	var err error
	for _, h := range chain {
		value, err = h(ctx, value)
		if err != nil {
			return value, err
		}
	}
	return value, nil
}

// Purge clears every registered hook chain. It intentionally does not
// touch any live consumer: purge resets hooks only, matching the engine's
// documented scope for test isolation between registrations.
func (r *Registry) Purge() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains = make(map[Type][]Hook)
}

// PreFor returns the pre-handler hook kind for the given call type.
func PreFor(t trace.Type) Type {
	if t == trace.Endpoint {
		return PreEndpoint
	}
	return PreRPC
}

// PostFor returns the post-handler hook kind for the given call type.
func PostFor(t trace.Type) Type {
	if t == trace.Endpoint {
		return PostEndpoint
	}
	return PostRPC
}

// PreErrorFor returns the pre-error hook kind for the given call type.
func PreErrorFor(t trace.Type) Type {
	if t == trace.Endpoint {
		return PreEndpointError
	}
	return PreRPCError
}

// PostErrorFor returns the post-error hook kind for the given call type.
func PostErrorFor(t trace.Type) Type {
	if t == trace.Endpoint {
		return PostEndpointError
	}
	return PostRPCError
}
