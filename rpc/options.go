package rpc

import (
	"log/slog"
	"strings"
	"time"

	"github.com/c360/natsrpc/codec"
	"github.com/c360/natsrpc/errors"
	"github.com/c360/natsrpc/event"
	"github.com/c360/natsrpc/metric"
	"github.com/c360/natsrpc/pkg/telemetry"
)

// DefaultTimeout is the inactivity deadline used when neither the call nor
// the service sets one.
const DefaultTimeout = 30 * time.Second

// RequestOptions tune a single request. Zero fields inherit the service
// defaults.
type RequestOptions struct {
	// Timeout is the inactivity deadline, renewed by every ack and update.
	// Negative disables it.
	Timeout time.Duration
	// MaxWait bounds the total wait regardless of activity. Negative means
	// unbounded.
	MaxWait time.Duration
	// Reply overrides the generated reply address.
	Reply string
}

// merge resolves o against the service defaults.
func (o RequestOptions) merge(def RequestOptions) RequestOptions {
	if o.Timeout == 0 {
		o.Timeout = def.Timeout
	}
	if o.MaxWait == 0 {
		o.MaxWait = def.MaxWait
	}
	if o.Reply == "" {
		o.Reply = def.Reply
	}
	return o
}

// SubscribeOptions tune a subscription.
type SubscribeOptions struct {
	// NoAck disables the automatic ack sent before the handler runs.
	NoAck bool
	// NoPrefix subscribes to subject as given, ignoring the service prefix.
	NoPrefix bool
	// Max unsubscribes after Max messages. Zero means no limit.
	Max int
	// Queue joins a queue group.
	Queue string
}

// Option configures a Service.
type Option func(*Service) error

// WithCodec sets the payload codec.
func WithCodec(c codec.Codec) Option {
	return func(s *Service) error {
		if c == nil {
			return errors.WrapInvalid(errors.ErrMissingConfig, "Service", "WithCodec", "codec is nil")
		}
		s.codec = c
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithEvents sets the sink for subscription events.
func WithEvents(sink event.Sink) Option {
	return func(s *Service) error {
		if sink != nil {
			s.events = sink
		}
		return nil
	}
}

// WithMetrics enables request and subscription metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(s *Service) error {
		s.metrics = m
		return nil
	}
}

// WithTracer enables request and handler spans.
func WithTracer(t *telemetry.Tracer) Option {
	return func(s *Service) error {
		s.tracer = t
		return nil
	}
}

// WithRequestDefaults sets the options every request inherits.
func WithRequestDefaults(def RequestOptions) Option {
	return func(s *Service) error {
		if def.Timeout == 0 {
			def.Timeout = DefaultTimeout
		}
		if def.MaxWait == 0 {
			def.MaxWait = -1
		}
		s.defaults = def
		return nil
	}
}

// WithSubscribePrefix sets the prefix prepended to subscribed subjects and
// stripped before handlers see them.
func WithSubscribePrefix(prefix string) Option {
	return func(s *Service) error {
		if strings.ContainsAny(prefix, " \t\r\n*>") {
			return errors.WrapInvalid(errors.ErrInvalidSubject, "Service", "WithSubscribePrefix", "validate prefix "+prefix)
		}
		s.prefix = prefix
		return nil
	}
}
