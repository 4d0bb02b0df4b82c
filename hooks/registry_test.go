package hooks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/haandol/island/trace"
)

func appender(suffix string) Hook {
	return func(_ context.Context, value interface{}) (interface{}, error) {
		return value.(string) + suffix, nil
	}
}

func TestDoIsIdentityOnEmptyChain(t *testing.T) {
	r := NewRegistry()
	out, err := r.Do(context.Background(), PreRPC, "v")
	assert.NoError(t, err)
	assert.Equal(t, "v", out)
}

func TestDoFoldsLeftToRight(t *testing.T) {
	r := NewRegistry()
	r.Register(PreRPC, appender("1"))
	r.Register(PreRPC, appender("2"))
	r.Register(PreRPC, appender("3"))

	out, err := r.Do(context.Background(), PreRPC, "v")
	assert.NoError(t, err)
	assert.Equal(t, "v123", out)
}

func TestDoShortCircuitsOnError(t *testing.T) {
	r := NewRegistry()
	r.Register(PreRPC, appender("1"))
	r.Register(PreRPC, func(_ context.Context, value interface{}) (interface{}, error) {
		return value, assert.AnError
	})
	r.Register(PreRPC, appender("3"))

	out, err := r.Do(context.Background(), PreRPC, "v")
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, "v1", out)
}

func TestPurgeClearsAllChains(t *testing.T) {
	r := NewRegistry()
	r.Register(PreRPC, appender("1"))
	r.Purge()

	out, err := r.Do(context.Background(), PreRPC, "v")
	assert.NoError(t, err)
	assert.Equal(t, "v", out)
}

func TestForHelpersSelectByCallType(t *testing.T) {
	assert.Equal(t, PreRPC, PreFor(trace.RPC))
	assert.Equal(t, PreEndpoint, PreFor(trace.Endpoint))
	assert.Equal(t, PostRPC, PostFor(trace.RPC))
	assert.Equal(t, PostEndpoint, PostFor(trace.Endpoint))
	assert.Equal(t, PreRPCError, PreErrorFor(trace.RPC))
	assert.Equal(t, PreEndpointError, PreErrorFor(trace.Endpoint))
	assert.Equal(t, PostRPCError, PostErrorFor(trace.RPC))
	assert.Equal(t, PostEndpointError, PostErrorFor(trace.Endpoint))
}
