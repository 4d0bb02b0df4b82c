package rpc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	xlog "go.bryk.io/pkg/log"

	"github.com/haandol/island/amqp"
	"github.com/haandol/island/codec"
)

func newTestService() *Service {
	return &Service{
		Name:    "test-island",
		cfg:     LoadConfig(),
		log:     xlog.Discard(),
		pending: make(map[string]*pendingRequest),
	}
}

func TestDispatchReplyKnownCorrelationId(t *testing.T) {
	s := newTestService()

	received := make(chan codec.Envelope, 1)
	s.pending["cid-1"] = &pendingRequest{
		executor: func(env codec.Envelope) { received <- env },
		timer:    time.NewTimer(time.Minute),
	}

	body := codec.Marshal(codec.EncodeResult("ok"))
	s.dispatchReply(amqp.Delivery{CorrelationId: "cid-1", Body: body})

	_, stillPending := s.pending["cid-1"]
	assert.False(t, stillPending)

	select {
	case env := <-received:
		assert.True(t, env.Result)
		assert.Equal(t, "ok", env.Body)
	default:
		t.Fatal("executor was not invoked")
	}
}

func TestDispatchReplyUnknownCorrelationId(t *testing.T) {
	s := newTestService()
	assert.NotPanics(t, func() {
		s.dispatchReply(amqp.Delivery{CorrelationId: "ghost", Body: []byte(`{}`)})
	})
	assert.Empty(t, s.pending)
}
