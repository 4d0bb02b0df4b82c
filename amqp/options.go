package amqp

import (
	"crypto/tls"

	xlog "go.bryk.io/pkg/log"
)

// Option instances provide a functional-style mechanism to adjust the
// settings and behavior of a session instance.
type Option func(s *session) error

// WithName sets a custom identifier for the session instance. If not
// set, publishers are automatically named as "publisher-*" and
// consumers as "consumer-*".
func WithName(name string) Option {
	return func(s *session) error {
		s.mu.Lock()
		s.name = name
		s.mu.Unlock()
		return nil
	}
}

// WithTLS enables secure communications (AMQPS) using the provided TLS
// settings. A nil value disables TLS verification requirements beyond
// what the broker's certificate chain already provides.
func WithTLS(conf *tls.Config) Option {
	return func(s *session) error {
		s.mu.Lock()
		s.tlsConf = conf
		s.mu.Unlock()
		return nil
	}
}

// WithLogger sets the log handler used by the session instance. Logs
// are discarded by default.
func WithLogger(logger xlog.Logger) Option {
	return func(s *session) error {
		if logger == nil {
			return nil
		}
		s.mu.Lock()
		s.log = logger
		s.mu.Unlock()
		return nil
	}
}

// WithPrefetch adjusts how many messages ("count") and/or bytes ("size")
// the broker will deliver to the session's channel before requiring an
// acknowledgement for previously delivered messages.
func WithPrefetch(count, size int) Option {
	return func(s *session) error {
		s.mu.Lock()
		s.prefetchCount = count
		s.prefetchSize = size
		s.mu.Unlock()
		return nil
	}
}

// WithTopology loads an existing topology declaration to be enforced
// every time the session connects (or reconnects) to the broker. Missing
// entities are created; existing ones are verified to match.
func WithTopology(t Topology) Option {
	return func(s *session) error {
		s.mu.Lock()
		s.topology = t
		s.mu.Unlock()
		return nil
	}
}
