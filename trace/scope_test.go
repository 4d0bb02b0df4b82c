package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithAndFrom(t *testing.T) {
	_, ok := From(context.Background())
	assert.False(t, ok)

	scope := Scope{Tattoo: "T1", Context: "echo", Type: RPC}
	ctx := With(context.Background(), scope)

	got, ok := From(ctx)
	assert.True(t, ok)
	assert.Equal(t, scope, got)
	assert.Equal(t, "T1", Tattoo(ctx))
}

func TestInheritReusesParentTattoo(t *testing.T) {
	parent := With(context.Background(), Scope{Tattoo: "T1", Context: "chain_a", Type: RPC})
	minted := false
	next := func() string {
		minted = true
		return "should-not-be-used"
	}

	child := Inherit(parent, next, "chain_b", RPC)
	assert.Equal(t, "T1", child.Tattoo)
	assert.False(t, minted)
}

func TestInheritMintsFreshTattooWithoutParent(t *testing.T) {
	next := func() string { return "fresh-tattoo" }
	child := Inherit(context.Background(), next, "echo", RPC)
	assert.Equal(t, "fresh-tattoo", child.Tattoo)
}
