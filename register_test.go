package rpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	driver "github.com/rabbitmq/amqp091-go"

	"github.com/haandol/island/amqp"
	"github.com/haandol/island/codec"
	"github.com/haandol/island/hooks"
	"github.com/haandol/island/rpcerr"
	"github.com/haandol/island/schema"
	"github.com/haandol/island/trace"
)

func newRegisterTestService(cfg Config) *Service {
	s := newTestService()
	s.cfg = cfg
	s.Hooks = hooks.NewRegistry()
	s.ctx = context.Background()
	return s
}

func TestRunHandlerEchoesRequest(t *testing.T) {
	s := newRegisterTestService(LoadConfig())
	rec := &consumerRecord{
		queue:    "echo",
		callType: trace.RPC,
		handler: func(ctx context.Context, req interface{}) (interface{}, error) {
			return req, nil
		},
	}

	body, err := codec.MarshalValue(map[string]interface{}{"value": "hi"})
	assert.NoError(t, err)

	d := amqp.Delivery{
		Body:          body,
		ReplyTo:       "rpc.res.caller",
		CorrelationId: "cid-echo",
		Headers:       driver.Table{"tattoo": "T-echo"},
	}

	outcome := s.runHandler(rec, d)
	assert.False(t, outcome.requeue)
	assert.NotNil(t, outcome.reply)
	assert.True(t, outcome.reply.Result)
}

func TestRunHandlerMissingReplyTo(t *testing.T) {
	s := newRegisterTestService(LoadConfig())
	rec := &consumerRecord{queue: "echo", callType: trace.RPC, handler: func(ctx context.Context, req interface{}) (interface{}, error) {
		return req, nil
	}}

	d := amqp.Delivery{Body: []byte(`{}`), CorrelationId: "cid-noreply"}
	outcome := s.runHandler(rec, d)
	assert.False(t, outcome.requeue)
	assert.Nil(t, outcome.reply)
}

func TestRunHandlerExecTimeout(t *testing.T) {
	cfg := LoadConfig()
	cfg.ExecTimeout = time.Millisecond
	s := newRegisterTestService(cfg)

	rec := &consumerRecord{
		queue:    "slow",
		callType: trace.RPC,
		handler: func(ctx context.Context, req interface{}) (interface{}, error) {
			time.Sleep(50 * time.Millisecond)
			return req, nil
		},
	}

	d := amqp.Delivery{
		Body:          []byte(`{}`),
		ReplyTo:       "rpc.res.caller",
		CorrelationId: "cid-slow",
	}

	outcome := s.runHandler(rec, d)
	assert.False(t, outcome.requeue)
	assert.NotNil(t, outcome.reply)
	assert.False(t, outcome.reply.Result)

	wireErr := codec.DecodeError(*outcome.reply)
	assert.Equal(t, rpcerr.KeyExecTimeout, wireErr.Key)
}

func TestRunHandlerSuppresses503AsRequeue(t *testing.T) {
	s := newRegisterTestService(LoadConfig())
	statusErr := rpcerr.New(rpcerr.Fatal, "F0099_BUSY", 99, 503, "overloaded")
	rec := &consumerRecord{
		queue:    "busy",
		callType: trace.RPC,
		handler: func(ctx context.Context, req interface{}) (interface{}, error) {
			return nil, statusErr
		},
	}

	d := amqp.Delivery{
		Body:          []byte(`{}`),
		ReplyTo:       "rpc.res.caller",
		CorrelationId: "cid-busy",
	}

	outcome := s.runHandler(rec, d)
	assert.True(t, outcome.requeue)
	assert.Nil(t, outcome.reply)
}

func TestRunHandlerWrapsPlainError(t *testing.T) {
	s := newRegisterTestService(LoadConfig())
	rec := &consumerRecord{
		queue:    "fails",
		callType: trace.RPC,
		handler: func(ctx context.Context, req interface{}) (interface{}, error) {
			return nil, errors.New("boom")
		},
	}

	d := amqp.Delivery{
		Body:          []byte(`{}`),
		ReplyTo:       "rpc.res.caller",
		CorrelationId: "cid-fails",
	}

	outcome := s.runHandler(rec, d)
	assert.False(t, outcome.requeue)
	assert.NotNil(t, outcome.reply)
	wireErr := codec.DecodeError(*outcome.reply)
	assert.Equal(t, rpcerr.ETC, wireErr.Kind)
}

// TestRunHandlerRejectsInvalidMapSchema exercises the S5 scenario end to
// end: a request body that decodes to {"n":"x"} fails a MapValidator
// rule requiring "n" to be numeric, and is rejected with
// L0002_WRONG_PARAMETER_SCHEMA before the handler ever runs.
func TestRunHandlerRejectsInvalidMapSchema(t *testing.T) {
	s := newRegisterTestService(LoadConfig())
	rec := &consumerRecord{
		queue:    "validate",
		callType: trace.RPC,
		regOpts: RegisterOptions{
			InputGuard: schema.Guard{
				Validator: schema.NewMapValidator(map[string]interface{}{
					"n": "required,numeric",
				}),
			},
		},
		handler: func(ctx context.Context, req interface{}) (interface{}, error) {
			t.Fatal("handler should not run for an invalid request")
			return nil, nil
		},
	}

	body, err := codec.MarshalValue(map[string]interface{}{"n": "x"})
	assert.NoError(t, err)

	d := amqp.Delivery{
		Body:          body,
		ReplyTo:       "rpc.res.caller",
		CorrelationId: "cid-validate",
	}

	outcome := s.runHandler(rec, d)
	assert.False(t, outcome.requeue)
	assert.NotNil(t, outcome.reply)
	assert.False(t, outcome.reply.Result)

	wireErr := codec.DecodeError(*outcome.reply)
	assert.Equal(t, rpcerr.Logic, wireErr.Kind)
	assert.Equal(t, rpcerr.KeyWrongParameterSchema, wireErr.Key)
}

type fakeAcknowledger struct {
	acked    bool
	nacked   bool
	requeued bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error { f.acked = true; return nil }
func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.nacked = true
	f.requeued = requeue
	return nil
}
func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error { return nil }

func TestHandleDeliveryAcksWhenReplyToMissing(t *testing.T) {
	s := newRegisterTestService(LoadConfig())
	rec := &consumerRecord{
		queue:    "echo",
		callType: trace.RPC,
		handler: func(ctx context.Context, req interface{}) (interface{}, error) {
			return req, nil
		},
	}
	s.consumers = map[string]*consumerRecord{"echo": rec}

	ack := &fakeAcknowledger{}
	d := amqp.Delivery{
		Body:          []byte(`{}`),
		ReplyTo:       "",
		CorrelationId: "cid-ack",
		Acknowledger:  ack,
	}

	s.handleDelivery("echo", d)
	assert.True(t, ack.acked)
}

func TestHandleDeliveryNacksWhenUnregistered(t *testing.T) {
	s := newRegisterTestService(LoadConfig())
	s.consumers = map[string]*consumerRecord{}

	ack := &fakeAcknowledger{}
	d := amqp.Delivery{Acknowledger: ack}

	s.handleDelivery("ghost", d)
	assert.True(t, ack.nacked)
	assert.False(t, ack.requeued)
}
