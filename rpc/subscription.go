package rpc

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/natsrpc/codec"
	"github.com/c360/natsrpc/errors"
	"github.com/c360/natsrpc/event"
	"github.com/c360/natsrpc/metric"
	"github.com/c360/natsrpc/natsclient"
	"github.com/c360/natsrpc/pkg/telemetry"
)

// Stream errors other than the end of the subscription are retried in a
// burst, then at most once per streamErrorInterval.
const (
	streamErrorInterval = 100 * time.Millisecond
	streamErrorBurst    = 5
)

func newStreamErrorLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(streamErrorInterval), streamErrorBurst)
}

// Message is an inbound message as the application sees it.
type Message struct {
	// Subject is the subject the message arrived on, without the
	// subscription prefix.
	Subject string
	// Reply is the reply address, empty for one-way notifications.
	Reply string
	// Payload is the payload decoded into a generic value.
	Payload any
	// Data is the raw payload.
	Data []byte

	codec codec.Codec
}

// Decode decodes the raw payload into v.
func (m *Message) Decode(v any) error {
	return m.codec.Unmarshal(m.Data, v)
}

// MessageHandler processes one inbound message. reply is nil when the
// message carries no reply address. A returned error is reported as a
// subscribe_message_error event; it does not stop the subscription.
type MessageHandler func(ctx context.Context, msg *Message, reply *Handler) error

// Subscription delivers messages to a MessageHandler one at a time until
// it is unsubscribed, its context ends, Max messages have been delivered or
// the connection closes.
type Subscription struct {
	svc     *Service
	conn    natsclient.Conn
	sub     natsclient.Subscription
	subject string
	strip   string
	opts    SubscribeOptions
	fn      MessageHandler

	cancel    context.CancelFunc
	done      chan struct{}
	delivered atomic.Int64
}

// Subject returns the subscribed subject, including any prefix.
func (s *Subscription) Subject() string { return s.subject }

// Delivered returns the number of messages received so far.
func (s *Subscription) Delivered() int64 { return s.delivered.Load() }

// Done is closed when the delivery loop has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Unsubscribe stops delivery. A message being handled is allowed to finish.
func (s *Subscription) Unsubscribe() error {
	s.cancel()
	return s.sub.Unsubscribe()
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)
	defer s.svc.forget(s)
	defer func() { _ = s.sub.Unsubscribe() }()

	limiter := newStreamErrorLimiter()
	for {
		msg, err := s.sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, errors.ErrSubscriptionEnded) {
				s.svc.logger.Debug("Subscription ended", "subject", s.subject, "delivered", s.delivered.Load())
				return
			}
			s.svc.emit(event.SubscribeConnectionError, s.subject, err)
			_ = limiter.Wait(ctx)
			continue
		}

		s.delivered.Add(1)
		s.dispatch(ctx, msg)
	}
}

func (s *Subscription) dispatch(ctx context.Context, msg *natsclient.Msg) {
	svc := s.svc
	subject := msg.Subject
	if s.strip != "" {
		subject = strings.TrimPrefix(subject, s.strip)
	}

	ctx, span := svc.tracer.StartHandle(ctx, svc.client.Namespace(), subject)

	var reply *Handler
	if msg.Reply != "" {
		reply = svc.handler(s.conn, msg.Reply)
	}

	m := &Message{Subject: subject, Reply: msg.Reply, Data: msg.Data, codec: svc.codec}
	if err := svc.codec.Unmarshal(msg.Data, &m.Payload); err != nil {
		svc.metrics.RecordSubscriptionMessage(svc.client.Namespace(), metric.MessageDecodeError)
		svc.emit(event.SubscribeMessageError, msg.Subject, err)
		if reply != nil {
			if rerr := reply.Respond(err, nil); rerr != nil {
				svc.logger.Warn("Failed to answer undecodable message", "subject", msg.Subject, "error", rerr)
			}
		}
		telemetry.EndSpan(span, metric.MessageDecodeError, err)
		return
	}

	if reply != nil && !s.opts.NoAck {
		if err := reply.Ack(0); err != nil {
			svc.logger.Warn("Failed to send automatic ack", "subject", msg.Subject, "error", err)
		}
	}

	if err := s.invoke(ctx, m, reply); err != nil {
		svc.metrics.RecordSubscriptionMessage(svc.client.Namespace(), metric.MessageHandlerError)
		svc.emit(event.SubscribeMessageError, msg.Subject, err)
		telemetry.EndSpan(span, metric.MessageHandlerError, err)
		return
	}

	svc.metrics.RecordSubscriptionMessage(svc.client.Namespace(), metric.MessageDispatched)
	telemetry.EndSpan(span, metric.MessageDispatched, nil)
}

// invoke calls the handler, turning a panic into an error.
func (s *Subscription) invoke(ctx context.Context, m *Message, reply *Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.svc.logger.Error("Message handler panicked", "subject", m.Subject, "panic", r, "stack", string(debug.Stack()))
			err = errors.WrapFatal(fmt.Errorf("handler panic: %v", r), "Subscription", "invoke", "handle "+m.Subject)
		}
	}()

	if err := s.fn(ctx, m, reply); err != nil {
		return errors.Wrap(err, "Subscription", "invoke", "handle "+m.Subject)
	}
	return nil
}
