package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/c360/natsrpc/codec"
	"github.com/c360/natsrpc/errors"
	"github.com/c360/natsrpc/metric"
	"github.com/c360/natsrpc/natsclient"
	"github.com/c360/natsrpc/pkg/telemetry"
)

// ResponseFunc receives the terminal outcome of a request.
type ResponseFunc func(err error, results json.RawMessage)

// SignalFunc receives the results of an intermediate signal.
type SignalFunc func(results json.RawMessage)

// Observer receives the signals of one request. All methods are called from
// the request's own goroutine, in frame order; OnResponse is called exactly
// once and nothing is called after it.
type Observer interface {
	OnAck(results json.RawMessage)
	OnUpdate(results json.RawMessage)
	OnResponse(err error, results json.RawMessage)
}

// ObserverFuncs adapts functions to an Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Ack      SignalFunc
	Update   SignalFunc
	Response ResponseFunc
}

// OnAck calls o.Ack.
func (o ObserverFuncs) OnAck(results json.RawMessage) {
	if o.Ack != nil {
		o.Ack(results)
	}
}

// OnUpdate calls o.Update.
func (o ObserverFuncs) OnUpdate(results json.RawMessage) {
	if o.Update != nil {
		o.Update(results)
	}
}

// OnResponse calls o.Response.
func (o ObserverFuncs) OnResponse(err error, results json.RawMessage) {
	if o.Response != nil {
		o.Response(err, results)
	}
}

// Call is one in-flight request. It owns its reply subscription and both
// timers, and resolves exactly once: on a response frame, on deadline or
// maxWait expiry, on a publish failure, or on cancellation.
type Call struct {
	id        string
	subject   string
	namespace string
	opts      RequestOptions
	obs       Observer
	started   time.Time

	logger  *slog.Logger
	metrics *metric.Metrics
	span    trace.Span

	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}
	once   sync.Once

	mu       sync.Mutex
	inbox    string
	deadline *time.Timer
	maxWait  *time.Timer
	gen      uint64
	err      error
	results  json.RawMessage
}

func newCall(ctx context.Context, s *Service, subject string, opts RequestOptions, obs Observer) *Call {
	if obs == nil {
		obs = ObserverFuncs{}
	}

	c := &Call{
		id:        uuid.NewString(),
		subject:   subject,
		namespace: s.client.Namespace(),
		opts:      opts.merge(s.defaults),
		obs:       obs,
		started:   time.Now(),
		metrics:   s.metrics,
		done:      make(chan struct{}),
	}
	c.logger = s.logger.With("call_id", c.id, "subject", subject)

	ctx, c.span = s.tracer.StartRequest(ctx, c.namespace, subject, c.id)
	c.ctx, c.cancel = context.WithCancelCause(ctx)
	return c
}

// ID returns the call's correlation id, used in logs and spans.
func (c *Call) ID() string { return c.id }

// Subject returns the request subject.
func (c *Call) Subject() string { return c.subject }

// Options returns the options in effect after merging the service defaults.
func (c *Call) Options() RequestOptions { return c.opts }

// Inbox returns the reply address, or "" before it has been subscribed.
func (c *Call) Inbox() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inbox
}

// Done is closed after the call has resolved and OnResponse has returned.
func (c *Call) Done() <-chan struct{} { return c.done }

// Result returns the terminal outcome. It is only meaningful once Done is
// closed.
func (c *Call) Result() (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.results, c.err
}

// Wait blocks until the call resolves or ctx is done. A ctx that ends first
// does not cancel the call.
func (c *Call) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-c.done:
		return c.Result()
	case <-ctx.Done():
		return nil, errors.WrapTransient(ctx.Err(), "Call", "Wait", "await response")
	}
}

// Decode waits for the call and decodes its results into v. A null result
// leaves v untouched.
func (c *Call) Decode(ctx context.Context, v any) error {
	results, err := c.Wait(ctx)
	if err != nil {
		return err
	}
	if results == nil {
		return nil
	}
	return codec.JSON{}.Unmarshal(results, v)
}

// Cancel stops the call. It resolves with errors.ErrCanceled unless it has
// already resolved, in which case it does nothing.
func (c *Call) Cancel() {
	c.cancel(errors.ErrCanceled)
}

// run drives the call from connect to resolution. Every observer callback
// is made from here.
func (c *Call) run(client *natsclient.Client, data []byte) {
	c.startTimers()

	conn, err := client.Connect(c.ctx)
	if err != nil {
		if c.ctx.Err() != nil {
			c.finish(c.stopCause(), nil)
			return
		}
		c.finish(errors.WrapTransient(errors.Join(errors.ErrPublish, err), "Call", "run", "connect"), nil)
		return
	}

	inbox := c.opts.Reply
	if inbox == "" {
		inbox = conn.NewInbox()
	}

	sub, err := conn.Subscribe(inbox, natsclient.SubscribeOptions{})
	if err != nil {
		c.finish(errors.WrapTransient(errors.Join(errors.ErrPublish, err), "Call", "run", "subscribe "+inbox), nil)
		return
	}
	defer func() { _ = sub.Unsubscribe() }()

	c.mu.Lock()
	c.inbox = inbox
	c.mu.Unlock()

	if err := conn.PublishRequest(c.subject, inbox, data); err != nil {
		if !errors.Is(err, errors.ErrPublish) && !errors.Is(err, errors.ErrNoResponders) {
			err = errors.Join(errors.ErrPublish, err)
		}
		c.finish(errors.WrapTransient(err, "Call", "run", "publish request"), nil)
		return
	}
	c.logger.Debug("Request published", "inbox", inbox)

	c.loop(sub)
}

func (c *Call) loop(sub natsclient.Subscription) {
	limiter := newStreamErrorLimiter()
	for {
		msg, err := sub.Next(c.ctx)
		if c.ctx.Err() != nil {
			c.finish(c.stopCause(), nil)
			return
		}
		if err != nil {
			if errors.Is(err, errors.ErrNoResponders) {
				c.finish(errors.WrapTransient(err, "Call", "loop", "publish "+c.subject), nil)
				return
			}
			if errors.Is(err, errors.ErrSubscriptionEnded) {
				c.finish(errors.WrapTransient(errors.Join(errors.ErrConnectionLost, err), "Call", "loop", "await response"), nil)
				return
			}
			c.logger.Warn("Reply stream error", "error", err)
			_ = limiter.Wait(c.ctx)
			continue
		}

		if msg.NoResponders {
			c.finish(errors.WrapTransient(errors.ErrNoResponders, "Call", "loop", "publish "+c.subject), nil)
			return
		}

		f, err := decodeFrame(msg.Data)
		if err != nil {
			c.logger.Warn("Invalid frame received for request", "error", err)
			continue
		}

		switch f.Type {
		case FrameAck:
			c.metrics.RecordSignal(c.namespace, metric.DirectionReceived, string(f.Type))
			override := f.Override()
			telemetry.RecordSignal(c.span, string(f.Type), override.Milliseconds())
			c.resetDeadline(override)
			c.obs.OnAck(f.Results)
		case FrameUpdate:
			c.metrics.RecordSignal(c.namespace, metric.DirectionReceived, string(f.Type))
			telemetry.RecordSignal(c.span, string(f.Type), 0)
			c.resetDeadline(0)
			c.obs.OnUpdate(f.Results)
		case FrameResponse:
			c.metrics.RecordSignal(c.namespace, metric.DirectionReceived, string(f.Type))
			results, err := f.Outcome()
			c.finish(err, results)
			return
		default:
			c.logger.Warn("Invalid frame type received for request", "type", f.Type)
		}
	}
}

// startTimers arms the inactivity deadline and the maxWait ceiling.
func (c *Call) startTimers() {
	c.resetDeadline(0)

	if c.opts.MaxWait > 0 {
		limit := c.opts.MaxWait
		c.mu.Lock()
		c.maxWait = time.AfterFunc(limit, func() {
			c.cancel(errors.WrapTransient(errors.ErrTimeout, "Call", "maxWait", "await response within "+limit.String()))
		})
		c.mu.Unlock()
	}
}

// resetDeadline replaces the inactivity timer. An override applies to this
// window only. A disabled deadline stays disabled.
func (c *Call) resetDeadline(override time.Duration) {
	if c.opts.Timeout <= 0 {
		return
	}

	window := c.opts.Timeout
	if override > 0 {
		window = override
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.deadline != nil {
		c.deadline.Stop()
	}
	c.gen++
	gen := c.gen
	c.deadline = time.AfterFunc(window, func() {
		c.mu.Lock()
		stale := gen != c.gen
		c.mu.Unlock()
		if stale {
			return
		}
		c.cancel(errors.WrapTransient(errors.ErrTimeout, "Call", "deadline", "await signal within "+window.String()))
	})
}

// stopCause maps the cancellation of c.ctx to the call's error.
func (c *Call) stopCause() error {
	cause := context.Cause(c.ctx)
	switch {
	case errors.Is(cause, errors.ErrTimeout):
		return cause
	case errors.Is(cause, errors.ErrCanceled):
		return errors.WrapTransient(cause, "Call", "Cancel", "cancel request")
	default:
		return errors.WrapTransient(errors.Join(errors.ErrCanceled, cause), "Call", "run", "await response")
	}
}

func (c *Call) finish(err error, results json.RawMessage) {
	c.once.Do(func() {
		c.mu.Lock()
		if c.deadline != nil {
			c.deadline.Stop()
		}
		if c.maxWait != nil {
			c.maxWait.Stop()
		}
		c.gen++
		c.err = err
		c.results = results
		c.mu.Unlock()

		c.cancel(nil)

		outcome := outcomeOf(err)
		elapsed := time.Since(c.started)
		c.metrics.RecordRequest(c.namespace, outcome, elapsed)
		c.metrics.AddInflight(c.namespace, -1)
		telemetry.EndSpan(c.span, outcome, err)

		if err != nil {
			c.logger.Debug("Request failed", "outcome", outcome, "error", err, "elapsed", elapsed)
		} else {
			c.logger.Debug("Request completed", "elapsed", elapsed)
		}

		c.obs.OnResponse(err, results)
		close(c.done)
	})
}

func outcomeOf(err error) string {
	var remote *errors.RemoteError
	switch {
	case err == nil:
		return metric.OutcomeSuccess
	case errors.As(err, &remote):
		if remote.Code == errors.CodeDecode {
			return metric.OutcomeDecodeError
		}
		return metric.OutcomeApplicationError
	case errors.Is(err, errors.ErrTimeout):
		return metric.OutcomeTimeout
	case errors.Is(err, errors.ErrNoResponders):
		return metric.OutcomeNoResponders
	case errors.Is(err, errors.ErrCanceled):
		return metric.OutcomeCanceled
	case errors.Is(err, errors.ErrConnectionLost):
		return metric.OutcomeConnectionLost
	case errors.Is(err, errors.ErrDecode):
		return metric.OutcomeDecodeError
	case errors.Is(err, errors.ErrPublish):
		return metric.OutcomePublishError
	default:
		return metric.OutcomeApplicationError
	}
}
