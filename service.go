// Package rpc implements the broker-mediated RPC engine: a response
// multiplexer, a request issuer (invoke), a handler registrar (register),
// a hook pipeline, a wire codec, and lifecycle management atop an AMQP
// 0-9-1 style broker.
package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	xlog "go.bryk.io/pkg/log"
	"go.bryk.io/pkg/metadata"

	"github.com/haandol/island/amqp"
	"github.com/haandol/island/codec"
	"github.com/haandol/island/hooks"
)

// Handler is the user-supplied function registered for a procedure name.
// It runs inside the trace scope entered by register (§4.4 step 3).
type Handler func(ctx context.Context, req interface{}) (interface{}, error)

// pendingRequest is the §3 "Pending request" tuple: an executor and the
// timer guarding it. Exactly one of {executor invoked, timer fires} ever
// happens for a given entry; both are removed together.
type pendingRequest struct {
	executor func(env codec.Envelope)
	timer    *time.Timer
}

// Service is one deployed RPC engine instance — an "island" in this
// system's own vocabulary. It owns a private reply queue, the
// correlation-id-keyed pending table (one executor and one timer per
// entry), a hook registry, and a table of
// active handler consumers keyed by procedure name.
type Service struct {
	Name string
	cfg  Config
	log  xlog.Logger

	publisher *amqp.Publisher
	consumer  *amqp.Consumer

	// requestProducer/replyProducer stamp the outbound request and reply
	// messages with consistent AppId/ContentType/MessageId/Timestamp
	// instead of building amqp091-go.Publishing values ad hoc at each
	// call site (SPEC_FULL.md §C).
	requestProducer *amqp.Producer
	replyProducer   *amqp.Producer

	replyQueue string

	Hooks *hooks.Registry

	mu        sync.Mutex
	pending   map[string]*pendingRequest
	consumers map[string]*consumerRecord

	reviver codec.Reviver

	ready chan bool
	pause chan bool

	ctx  context.Context
	halt context.CancelFunc
}

// Option configures a Service at construction time.
type Option func(*Service) error

// WithLogger sets the logger used across the service and its underlying
// publisher/consumer sessions. Discarded by default.
func WithLogger(l xlog.Logger) Option {
	return func(s *Service) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// WithConfig overrides the environment-derived Config.
func WithConfig(cfg Config) Option {
	return func(s *Service) error {
		s.cfg = cfg
		return nil
	}
}

// WithReviver installs a decode reviver (§4.1, §6). Ignored when the
// resolved Config has NoReviver set.
func WithReviver(r codec.Reviver) Option {
	return func(s *Service) error {
		s.reviver = r
		return nil
	}
}

// WithNoReviver disables the decode reviver for this instance regardless
// of the RPC_NO_REVIVER environment variable, matching the `{noReviver:
// bool}` initialization option of §6.
func WithNoReviver() Option {
	return func(s *Service) error {
		s.cfg.NoReviver = true
		return nil
	}
}

// NewService connects to addr and returns a ready-to-use Service: its
// private reply queue is declared and its response multiplexer is
// already consuming (§4.2).
func NewService(name, addr string, options ...Option) (*Service, error) {
	s := &Service{
		Name:      name,
		cfg:       LoadConfig(),
		log:       xlog.Discard(),
		Hooks:     hooks.NewRegistry(),
		pending:   make(map[string]*pendingRequest),
		consumers: make(map[string]*consumerRecord),
		ready:     make(chan bool, 1),
		pause:     make(chan bool, 1),
	}
	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.cfg.NoReviver {
		s.reviver = nil
	}

	s.ctx, s.halt = context.WithCancel(context.Background())

	pub, err := amqp.NewPublisher(addr,
		amqp.WithName(name+"-pub"),
		amqp.WithLogger(s.log),
		amqp.WithPrefetch(s.cfg.Prefetch, 0))
	if err != nil {
		return nil, fmt.Errorf("rpc: connecting publisher: %w", err)
	}

	con, err := amqp.NewConsumer(addr,
		amqp.WithName(name+"-con"),
		amqp.WithLogger(s.log),
		amqp.WithPrefetch(s.cfg.Prefetch, 0))
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("rpc: connecting consumer: %w", err)
	}

	s.publisher = pub
	s.consumer = con
	s.replyQueue = fmt.Sprintf("rpc.res.%s.%s.%s", name, s.cfg.Hostname, uuid.NewString())
	s.requestProducer = &amqp.Producer{
		AppID:       name,
		ContentType: "application/json",
		MessageType: "rpc.request",
		SetID:       true,
		SetTime:     true,
	}
	s.replyProducer = &amqp.Producer{
		AppID:       name,
		ContentType: "application/json",
		MessageType: "rpc.reply",
		SetID:       true,
		SetTime:     true,
	}

	// Both sessions connect in the background; wait until they are usable
	// before declaring and consuming the reply queue.
	<-pub.Ready()
	<-con.Ready()

	if _, err := con.AddQueue(amqp.Queue{
		Name:       s.replyQueue,
		Durable:    false,
		AutoDelete: true,
		Exclusive:  true,
	}); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("rpc: declaring reply queue: %w", err)
	}

	deliveries, _, err := con.Subscribe(amqp.SubscribeOptions{Queue: s.replyQueue})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("rpc: subscribing to reply queue: %w", err)
	}
	go s.multiplex(deliveries)
	go s.forwardConnectivity()

	return s, nil
}

// Ready notifies when the service's broker connections are usable.
func (s *Service) Ready() <-chan bool { return s.ready }

// Pause notifies when the service's broker connections become
// unavailable, i.e. the whole connection dropped — distinct from a
// single procedure being paused via PauseProcedure(name) (§4.7).
func (s *Service) Pause() <-chan bool { return s.pause }

// Close tears down the service: the response multiplexer, every
// registered consumer, and the underlying publisher/consumer sessions.
func (s *Service) Close() error {
	s.halt()

	s.mu.Lock()
	for name, rec := range s.consumers {
		if rec.subID != "" {
			_ = s.consumer.CloseSubscription(rec.subID)
		}
		delete(s.consumers, name)
	}
	for id, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, id)
	}
	s.mu.Unlock()

	var firstErr error
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			firstErr = err
		}
	}
	if s.consumer != nil {
		if err := s.consumer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// forwardConnectivity merges the publisher's and consumer's ready/pause
// notifications into the service's own, so a caller sees one signal for
// "the broker connection is usable" regardless of which session noticed
// first.
func (s *Service) forwardConnectivity() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case v, ok := <-s.consumer.Ready():
			if !ok {
				return
			}
			s.broadcast(v)
		case _, ok := <-s.consumer.Pause():
			if !ok {
				return
			}
			s.broadcast(false)
		case v, ok := <-s.publisher.Ready():
			if !ok {
				return
			}
			s.broadcast(v)
		case _, ok := <-s.publisher.Pause():
			if !ok {
				return
			}
			s.broadcast(false)
		}
	}
}

func (s *Service) broadcast(ready bool) {
	ch := s.pause
	if ready {
		ch = s.ready
	}
	select {
	case ch <- true:
	default:
	}
}

// Dispatcher returns a batch-publish sink bound to this service's
// publisher connection, for callers that want to fire many invoke-less,
// fire-and-forget "endpoint" notifications without going through the RPC
// correlation machinery (SPEC_FULL.md §C). The returned Dispatcher stays
// open until ctx is cancelled or the service's publisher closes.
func (s *Service) Dispatcher(ctx context.Context, safe bool, opts amqp.MessageOptions) *amqp.Dispatcher {
	return s.publisher.GetDispatcher(ctx, safe, opts)
}

// fromHeaders builds the outbound `headers.from` map (§4.3 step 4).
func (s *Service) fromHeaders(procedure, typ string) metadata.MD {
	md := metadata.New()
	md.Set("node", s.cfg.Hostname)
	md.Set("context", procedure)
	md.Set("island", s.Name)
	md.Set("type", typ)
	return md
}
