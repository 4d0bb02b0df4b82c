package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	driver "github.com/rabbitmq/amqp091-go"

	"github.com/haandol/island/amqp"
	"github.com/haandol/island/codec"
	"github.com/haandol/island/rpcerr"
	"github.com/haandol/island/trace"
)

// InvokeOptions configures a single call to Invoke.
type InvokeOptions struct {
	// WithRawData additionally returns the decoded envelope alongside
	// the unmarshalled body, for callers that need the version/result
	// bits (§4.3 step 6b).
	WithRawData bool
}

// InvokeOption mutates InvokeOptions.
type InvokeOption func(*InvokeOptions)

// WithRawData enables InvokeOptions.WithRawData.
func WithRawData() InvokeOption {
	return func(o *InvokeOptions) { o.WithRawData = true }
}

// InvokeResult is what a successful Invoke call resolves with: the
// decoded body, and optionally the raw envelope it was decoded from.
type InvokeResult struct {
	Body interface{}
	Raw  codec.Envelope
}

// Invoke is the §4.3 request issuer: it allocates a correlation id, arms
// a wait timer, publishes the request and awaits the reply (or fails).
func (s *Service) Invoke(ctx context.Context, name string, msg interface{}, opts ...InvokeOption) (InvokeResult, error) {
	var invOpts InvokeOptions
	for _, o := range opts {
		o(&invOpts)
	}

	// Step 1: read the current trace scope. Absent is permitted; a
	// fresh tattoo is then minted as the root of a new call chain.
	scope, _ := trace.From(ctx)
	tattoo := scope.Tattoo
	if tattoo == "" {
		tattoo = uuid.NewString()
	}

	// Step 2: mint a fresh correlation id.
	correlationID := uuid.NewString()

	resultCh := make(chan codec.Envelope, 1)
	timeoutCh := make(chan error, 1)

	// Step 3: install the executor and arm the wait timer *before*
	// anything is published, so no reply can race ahead of its entry
	// (ordering guarantee, §4.3).
	timer := time.AfterFunc(s.cfg.WaitTimeout, func() {
		s.mu.Lock()
		_, stillPending := s.pending[correlationID]
		delete(s.pending, correlationID)
		s.mu.Unlock()
		if stillPending {
			timeoutCh <- rpcerr.RPCTimeout(name, s.cfg.WaitTimeout)
		}
	})
	s.mu.Lock()
	s.pending[correlationID] = &pendingRequest{
		executor: func(env codec.Envelope) { resultCh <- env },
		timer:    timer,
	}
	s.mu.Unlock()

	// Step 4: publish the request.
	body, err := codec.MarshalValue(msg)
	if err != nil {
		s.clearPending(correlationID)
		return InvokeResult{}, attachTattoo(err, tattoo)
	}

	out := s.requestProducer.Message(body)
	out.Headers = driver.Table{
		"tattoo": tattoo,
		"from":   s.fromHeaders(scope.Context, string(scope.Type)).Values(),
	}
	out.CorrelationId = correlationID
	out.ReplyTo = s.replyQueue
	out.Expiration = fmt.Sprintf("%d", s.cfg.WaitTimeout.Milliseconds())

	// Step 5: a publish failure clears the executor/timer synchronously
	// and fails the call with the underlying broker error.
	if _, err := s.publisher.Push(out, amqp.MessageOptions{RoutingKey: name}); err != nil {
		s.clearPending(correlationID)
		return InvokeResult{}, attachTattoo(err, tattoo)
	}

	// Step 6: await the promise.
	select {
	case env := <-resultCh:
		return decodeInvokeResult(name, env, invOpts)
	case err := <-timeoutCh:
		return InvokeResult{}, err
	case <-ctx.Done():
		s.clearPending(correlationID)
		return InvokeResult{}, ctx.Err()
	}
}

func (s *Service) clearPending(correlationID string) {
	s.mu.Lock()
	if p, ok := s.pending[correlationID]; ok {
		p.timer.Stop()
		delete(s.pending, correlationID)
	}
	s.mu.Unlock()
}

func decodeInvokeResult(name string, env codec.Envelope, opts InvokeOptions) (InvokeResult, error) {
	if env.Version == codec.UndecodableVersion {
		return InvokeResult{}, rpcerr.UndecodableReply(name, nil)
	}
	if !env.Result {
		return InvokeResult{Raw: env}, codec.DecodeError(env)
	}
	res := InvokeResult{Body: env.Body}
	if opts.WithRawData {
		res.Raw = env
	}
	return res, nil
}

// attachTattoo stamps the call's tattoo onto an error raised before or
// during publish, per §4.3 step 7.
func attachTattoo(err error, tattoo string) error {
	if err == nil {
		return nil
	}
	if re, ok := err.(*rpcerr.Error); ok {
		return re.WithExtra(map[string]interface{}{"tattoo": tattoo})
	}
	return rpcerr.Wrap(err).WithExtra(map[string]interface{}{"tattoo": tattoo})
}
