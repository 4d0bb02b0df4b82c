package rpc

import (
	xlog "go.bryk.io/pkg/log"

	"github.com/haandol/island/amqp"
	"github.com/haandol/island/codec"
)

// multiplex is the §4.2 response multiplexer: it consumes the private
// reply queue and routes every inbound message to the pending executor
// matching its correlationId. Replies are acknowledged unconditionally,
// since a reply is idempotent from the broker's point of view.
func (s *Service) multiplex(deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		s.dispatchReply(d)
		_ = d.Ack(false)
	}
}

func (s *Service) dispatchReply(d amqp.Delivery) {
	s.mu.Lock()
	p, ok := s.pending[d.CorrelationId]
	if ok {
		delete(s.pending, d.CorrelationId)
	}
	s.mu.Unlock()

	if !ok {
		// Either the wait timeout already fired, or this correlation id
		// was never ours; either way it is logged and dropped, not an
		// error (§3 Pending request invariant d).
		s.log.WithFields(xlog.Fields{
			"correlationId": d.CorrelationId,
		}).Warning("rpc reply for unknown or already-settled correlation id")
		return
	}

	p.timer.Stop()
	env := codec.Decode(d.Body, s.log)
	env = codec.Revive(env, s.reviver)
	p.executor(env)
}
