package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/natsrpc/codec"
	"github.com/c360/natsrpc/errors"
	"github.com/c360/natsrpc/event"
	"github.com/c360/natsrpc/metric"
	"github.com/c360/natsrpc/natsclient"
	"github.com/c360/natsrpc/pkg/telemetry"
)

// Service is the request/reply API for one namespace. It shares the
// connection managed by its natsclient.Client among all requests and
// subscriptions.
type Service struct {
	client   *natsclient.Client
	codec    codec.Codec
	logger   *slog.Logger
	events   event.Sink
	metrics  *metric.Metrics
	tracer   *telemetry.Tracer
	defaults RequestOptions
	prefix   string

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// New creates a Service on top of client.
func New(client *natsclient.Client, opts ...Option) (*Service, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Service", "New", "client is required")
	}

	s := &Service{
		client:   client,
		codec:    codec.Default(),
		logger:   slog.Default(),
		events:   event.Discard,
		defaults: RequestOptions{Timeout: DefaultTimeout, MaxWait: -1},
		subs:     make(map[*Subscription]struct{}),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, errors.WrapInvalid(err, "Service", "New", "apply option")
		}
	}

	s.logger = s.logger.With("component", "rpc", "namespace", client.Namespace())
	return s, nil
}

// Client returns the connection manager.
func (s *Service) Client() *natsclient.Client { return s.client }

// Defaults returns the options every request inherits.
func (s *Service) Defaults() RequestOptions { return s.defaults }

// Prefix returns the subscribe prefix.
func (s *Service) Prefix() string { return s.prefix }

// Connect establishes the connection ahead of first use.
func (s *Service) Connect(ctx context.Context) error {
	_, err := s.client.Connect(ctx)
	return err
}

// Request sends payload on subject and calls onResponse once with the
// terminal outcome. onUpdate, when non-nil, receives every update.
func (s *Service) Request(ctx context.Context, subject string, payload any, opts RequestOptions,
	onResponse ResponseFunc, onUpdate SignalFunc) *Call {
	return s.Call(ctx, subject, payload, opts, ObserverFuncs{Response: onResponse, Update: onUpdate})
}

// Call sends payload on subject and reports every signal to obs. It never
// blocks; the returned Call resolves asynchronously. Cancelling ctx cancels
// the call.
func (s *Service) Call(ctx context.Context, subject string, payload any, opts RequestOptions, obs Observer) *Call {
	c := newCall(ctx, s, subject, opts, obs)
	s.metrics.AddInflight(c.namespace, 1)

	data, err := s.codec.Marshal(payload)
	if err != nil {
		go c.finish(errors.WrapInvalid(err, "Service", "Call", "encode payload"), nil)
		return c
	}

	go c.run(s.client, data)
	return c
}

// RequestSync sends payload and waits for the terminal outcome.
func (s *Service) RequestSync(ctx context.Context, subject string, payload any, opts RequestOptions) (json.RawMessage, error) {
	c := s.Call(ctx, subject, payload, opts, nil)
	<-c.Done()
	return c.Result()
}

// Publish sends payload on subject without expecting a reply.
func (s *Service) Publish(ctx context.Context, subject string, payload any) error {
	data, err := s.codec.Marshal(payload)
	if err != nil {
		return errors.WrapInvalid(err, "Service", "Publish", "encode payload")
	}

	conn, err := s.client.Connect(ctx)
	if err != nil {
		return errors.WrapTransient(errors.Join(errors.ErrPublish, err), "Service", "Publish", "connect")
	}

	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Service", "Publish", "publish "+subject)
	}
	return nil
}

// Subscribe delivers messages on subject to fn until the subscription is
// unsubscribed or ctx ends. The service prefix is prepended to subject
// unless opts.NoPrefix is set, and stripped again before fn sees it.
func (s *Service) Subscribe(ctx context.Context, subject string, opts SubscribeOptions, fn MessageHandler) (*Subscription, error) {
	if fn == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Service", "Subscribe", "handler is required")
	}

	full, strip := subject, ""
	if s.prefix != "" && !opts.NoPrefix {
		full, strip = s.prefix+subject, s.prefix
	}

	conn, err := s.client.Connect(ctx)
	if err != nil {
		s.emit(event.SubscribeConnectionError, full, err)
		return nil, errors.WrapTransient(err, "Service", "Subscribe", "connect")
	}

	sub, err := conn.Subscribe(full, natsclient.SubscribeOptions{Queue: opts.Queue, Max: opts.Max})
	if err != nil {
		s.emit(event.SubscribeConnectionError, full, err)
		return nil, errors.Wrap(err, "Service", "Subscribe", "subscribe "+full)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	subscription := &Subscription{
		svc:     s,
		conn:    conn,
		sub:     sub,
		subject: full,
		strip:   strip,
		opts:    opts,
		fn:      fn,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	s.subs[subscription] = struct{}{}
	s.mu.Unlock()

	s.logger.Debug("Subscribed", "subject", full, "queue", opts.Queue, "max", opts.Max, "no_ack", opts.NoAck)
	go subscription.run(loopCtx)

	return subscription, nil
}

// Shutdown drains the connection and waits for the subscription loops to
// finish. ctx bounds the whole operation.
func (s *Service) Shutdown(ctx context.Context) error {
	err := s.client.Shutdown(ctx)

	s.mu.Lock()
	pending := make([]*Subscription, 0, len(s.subs))
	for sub := range s.subs {
		pending = append(pending, sub)
	}
	s.mu.Unlock()

	for _, sub := range pending {
		select {
		case <-sub.Done():
		case <-ctx.Done():
			sub.cancel()
			return errors.WrapTransient(ctx.Err(), "Service", "Shutdown", "await subscriptions")
		}
	}
	return err
}

func (s *Service) forget(sub *Subscription) {
	sub.cancel()
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
}

func (s *Service) handler(conn natsclient.Conn, reply string) *Handler {
	h := NewHandler(conn, reply)
	h.namespace = s.client.Namespace()
	h.metrics = s.metrics
	return h
}

func (s *Service) emit(t event.Type, subject string, err error) {
	s.logger.Debug("Subscription error", "event", string(t), "subject", subject, "error", err)
	s.events.Emit(event.Event{
		Type:      t,
		Namespace: s.client.Namespace(),
		Subject:   subject,
		Err:       err,
		Time:      time.Now(),
	})
}
