package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	driver "github.com/rabbitmq/amqp091-go"
	xlog "go.bryk.io/pkg/log"

	"github.com/haandol/island/amqp"
	"github.com/haandol/island/codec"
	"github.com/haandol/island/hooks"
	"github.com/haandol/island/rpcerr"
	"github.com/haandol/island/schema"
	"github.com/haandol/island/trace"
)

// RegisterOptions configures a single registered procedure, matching the
// optional `rpcOptions` parameter of §4.4.
type RegisterOptions struct {
	// InputGuard sanitizes/validates the decoded request before the
	// handler runs (§4.4 step 4).
	InputGuard schema.Guard

	// OutputGuard sanitizes/validates the handler's result before it is
	// encoded (§4.4 step 7).
	OutputGuard schema.Guard
}

// consumerRecord is the §3 "Consumer record" tuple: everything needed to
// pause, resume or unregister a procedure (queue name, consumer tag,
// handler, consumer options). It deliberately has no channel field: every
// procedure registered on a Service is consumed over the single AMQP
// channel owned by Service.consumer (service.go), with each procedure
// getting its own consumer tag (subID) rather than its own channel. This
// mirrors the teacher's own Consumer, which is built around one
// session/channel multiplexing any number of Subscribe calls — and is the
// AMQP-idiomatic choice besides: channels are cheap virtual connections
// meant to be reused by many consumer tags, not opened one-per-consumer.
// PauseProcedure/ResumeProcedure/UnregisterProcedure operate on the
// consumer tag accordingly; there is no channel to "release back to a
// pool" because none was borrowed.
type consumerRecord struct {
	queue    string
	subID    string
	callType trace.Type
	subOpts  amqp.SubscribeOptions
	handler  Handler
	regOpts  RegisterOptions
}

// deliveryOutcome is the result of running a single delivery through the
// handler envelope: either a reply to send, or a signal to requeue.
type deliveryOutcome struct {
	reply   *codec.Envelope
	requeue bool
}

// Register declares the procedure queue for name — non-durable, with a
// server-side expiry per §3 — and binds a consumer that wraps handler
// with trace scope entry, the hook pipeline, schema guards and the exec
// timeout (§4.4).
func (s *Service) Register(name string, handler Handler, callType trace.Type, opts ...RegisterOptions) error {
	var regOpts RegisterOptions
	if len(opts) > 0 {
		regOpts = opts[0]
	}

	if _, err := s.consumer.AddQueue(amqp.Queue{
		Name:       name,
		Durable:    false,
		AutoDelete: false,
		Arguments: map[string]interface{}{
			"x-expires": s.cfg.QueueExpiry().Milliseconds(),
		},
	}); err != nil {
		return fmt.Errorf("rpc: declaring procedure queue %q: %w", name, err)
	}

	subOpts := amqp.SubscribeOptions{Queue: name}
	deliveries, subID, err := s.consumer.Subscribe(subOpts)
	if err != nil {
		return fmt.Errorf("rpc: subscribing to %q: %w", name, err)
	}

	rec := &consumerRecord{
		queue:    name,
		subID:    subID,
		callType: callType,
		subOpts:  subOpts,
		handler:  handler,
		regOpts:  regOpts,
	}
	s.mu.Lock()
	s.consumers[name] = rec
	s.mu.Unlock()

	go s.consume(name, deliveries)
	return nil
}

// consume is the §4.6 generic consume envelope: it treats every delivery
// as an independent task and applies a uniform ack/nack policy around
// whatever the handler envelope decides.
func (s *Service) consume(name string, deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		d := d
		go s.handleDelivery(name, d)
	}
}

func (s *Service) handleDelivery(name string, d amqp.Delivery) {
	s.mu.Lock()
	rec, ok := s.consumers[name]
	s.mu.Unlock()
	if !ok {
		// The procedure was unregistered between dispatch and delivery;
		// there is no handler left to run it against.
		_ = d.Nack(false, false)
		return
	}

	outcome := s.runHandler(rec, d)

	if outcome.requeue {
		// Defer the nack so a handler returning statusCode=503 doesn't
		// hot-loop redeliveries against the broker.
		go func() {
			time.Sleep(time.Second)
			_ = d.Nack(false, true)
		}()
		return
	}

	if outcome.reply != nil {
		s.sendReply(d, *outcome.reply)
	}
	_ = d.Ack(false)
}

// runHandler enters the trace scope, bounds the whole envelope with the
// exec timeout, and runs the handler body in its own goroutine so a
// timeout can be observed even if the handler ignores ctx cancellation.
func (s *Service) runHandler(rec *consumerRecord, d amqp.Delivery) deliveryOutcome {
	if d.ReplyTo == "" {
		err := rpcerr.MissingReplyTo(rec.queue).Occurred(s.Name)
		s.log.WithField("queue", rec.queue).Error(err.Error())
		return deliveryOutcome{}
	}

	scope := trace.Scope{
		Tattoo:  headerString(d.Headers, "tattoo"),
		Context: rec.queue,
		Type:    rec.callType,
	}
	if scope.Tattoo == "" {
		scope.Tattoo = uuid.NewString()
	}

	s.log.WithFields(xlog.Fields{
		"tattoo":  scope.Tattoo,
		"context": rec.queue,
		"island":  s.Name,
		"type":    string(rec.callType),
		"size":    len(d.Body),
	}).Debug("rpc request received")

	ctx, cancel := context.WithTimeout(trace.With(s.ctx, scope), s.cfg.ExecTimeout)
	defer cancel()

	resultCh := make(chan deliveryOutcome, 1)
	go func() {
		resultCh <- s.runHandlerBody(ctx, rec, d, scope)
	}()

	select {
	case out := <-resultCh:
		return out
	case <-ctx.Done():
		return s.handlerFailure(ctx, rec, d, scope, rpcerr.ExecTimeout(rec.queue, s.cfg.ExecTimeout))
	}
}

func (s *Service) runHandlerBody(ctx context.Context, rec *consumerRecord, d amqp.Delivery, scope trace.Scope) deliveryOutcome {
	req, err := codec.DecodeValue(d.Body, s.reviver)
	if err != nil {
		return s.handlerFailure(ctx, rec, d, scope, rpcerr.WrongParameterSchema(rec.queue, err))
	}

	if rec.regOpts.InputGuard.Sanitizer != nil || rec.regOpts.InputGuard.Validator != nil {
		sanitized, gerr := rec.regOpts.InputGuard.Apply(req)
		if gerr != nil {
			return s.handlerFailure(ctx, rec, d, scope, rpcerr.WrongParameterSchema(rec.queue, gerr))
		}
		req = sanitized
	}

	req, herr := s.Hooks.Do(ctx, hooks.PreFor(rec.callType), req)
	if herr != nil {
		return s.handlerFailure(ctx, rec, d, scope, herr)
	}

	result, herr := rec.handler(ctx, req)
	if herr != nil {
		return s.handlerFailure(ctx, rec, d, scope, herr)
	}

	result, herr = s.Hooks.Do(ctx, hooks.PostFor(rec.callType), result)
	if herr != nil {
		return s.handlerFailure(ctx, rec, d, scope, herr)
	}

	if rec.regOpts.OutputGuard.Sanitizer != nil || rec.regOpts.OutputGuard.Validator != nil {
		sanitized, gerr := rec.regOpts.OutputGuard.Apply(result)
		if gerr != nil {
			return s.handlerFailure(ctx, rec, d, scope, rpcerr.WrongParameterSchema(rec.queue, gerr))
		}
		result = sanitized
	}

	env := codec.EncodeResult(result)
	return deliveryOutcome{reply: &env}
}

// handlerFailure implements §4.4 step 9: run the pre-error hook, suppress
// the reply for statusCode=503 (so the caller of handleDelivery nacks
// instead), otherwise stamp debugging extras, log, encode the error reply
// and run the post-error hook. The reply is returned, not sent: the
// post-error hook has already run by the time handleDelivery sends it.
func (s *Service) handlerFailure(ctx context.Context, rec *consumerRecord, d amqp.Delivery, scope trace.Scope, cause error) deliveryOutcome {
	e := rpcerr.Wrap(cause)

	if transformed, herr := s.Hooks.Do(ctx, hooks.PreErrorFor(rec.callType), e); herr == nil {
		if te, ok := transformed.(*rpcerr.Error); ok {
			e = te
		}
	}

	if e.Is503() {
		return deliveryOutcome{requeue: true}
	}

	e.WithExtra(map[string]interface{}{
		"island": s.Name,
		"name":   rec.queue,
		"req":    string(d.Body),
	})
	s.log.WithFields(xlog.Fields{
		"error":  e.Error(),
		"tattoo": scope.Tattoo,
		"queue":  rec.queue,
	}).Error("rpc handler failed")

	env := codec.EncodeError(e, s.Name)
	_, _ = s.Hooks.Do(ctx, hooks.PostErrorFor(rec.callType), e)
	return deliveryOutcome{reply: &env}
}

// sendReply encodes env and publishes it to the delivery's replyTo queue,
// copying correlationId and headers through (§4.4 step 8).
func (s *Service) sendReply(d amqp.Delivery, env codec.Envelope) {
	msg := s.replyProducer.Message(codec.Marshal(env))
	msg.Headers = d.Headers
	msg.CorrelationId = d.CorrelationId
	if _, err := s.publisher.Push(msg, amqp.MessageOptions{RoutingKey: d.ReplyTo}); err != nil {
		s.log.WithField("error", err.Error()).Error("failed to send rpc reply")
	}
}

func headerString(headers driver.Table, key string) string {
	if headers == nil {
		return ""
	}
	v, ok := headers[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// PauseProcedure cancels the consumer tag for name so the broker stops
// dispatch, keeping the record and channel intact (§4.7 pause).
func (s *Service) PauseProcedure(name string) error {
	s.mu.Lock()
	rec, ok := s.consumers[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("rpc: no consumer registered for %q", name)
	}
	return s.consumer.CloseSubscription(rec.subID)
}

// ResumeProcedure re-subscribes name using its saved handler and options
// (§4.7 resume).
func (s *Service) ResumeProcedure(name string) error {
	s.mu.Lock()
	rec, ok := s.consumers[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("rpc: no consumer registered for %q", name)
	}

	deliveries, subID, err := s.consumer.Subscribe(rec.subOpts)
	if err != nil {
		return err
	}

	s.mu.Lock()
	rec.subID = subID
	s.mu.Unlock()

	go s.consume(name, deliveries)
	return nil
}

// UnregisterProcedure cancels the consumer tag and drops the record
// (§4.7 unregister). All procedures on this Service share the single AMQP
// channel owned by Service.consumer — see the consumerRecord doc comment
// — so there is no separate per-procedure channel to release; cancelling
// the consumer tag is what actually stops the broker from dispatching to
// this procedure.
func (s *Service) UnregisterProcedure(name string) error {
	s.mu.Lock()
	rec, ok := s.consumers[name]
	if ok {
		delete(s.consumers, name)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.consumer.CloseSubscription(rec.subID)
}

// Purge resets the hook registry only. It does not cancel live consumers
// — purge is documented as hook-only here rather than extended to also
// tear down registrations (§4.5, §9).
func (s *Service) Purge() {
	s.Hooks.Purge()
}
