package natsclient

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/natsrpc/errors"
)

// ConnOptions configures a connection to a NATS server.
type ConnOptions struct {
	URLs     []string
	Name     string
	Username string
	Password string
	Token    string
	// CredsFile is a NATS user credentials file (JWT plus NKey seed).
	CredsFile string
	TLS       *tls.Config

	MaxReconnects int
	ReconnectWait time.Duration
	PingInterval  time.Duration
	Timeout       time.Duration
	DrainTimeout  time.Duration
}

// DefaultConnOptions returns the connection settings used when none are configured.
func DefaultConnOptions() ConnOptions {
	return ConnOptions{
		URLs:          []string{nats.DefaultURL},
		MaxReconnects: -1, // infinite by default
		ReconnectWait: 2 * time.Second,
		PingInterval:  30 * time.Second,
		Timeout:       5 * time.Second,
		DrainTimeout:  30 * time.Second,
	}
}

// NATSDialer returns a Dialer that connects to a NATS server.
func NATSDialer(opts ConnOptions) Dialer {
	return func(ctx context.Context) (Conn, error) {
		return DialNATS(ctx, opts)
	}
}

// DialNATS connects to NATS. The connection reconnects on its own according
// to opts; status changes are reported on Status.
func DialNATS(ctx context.Context, opts ConnOptions) (Conn, error) {
	c := &natsConn{
		flush:  opts.Timeout,
		status: make(chan StatusEvent, statusBuffer),
		closed: make(chan struct{}),
	}

	url := strings.Join(opts.URLs, ",")
	if url == "" {
		url = nats.DefaultURL
	}

	type result struct {
		nc  *nats.Conn
		err error
	}
	done := make(chan result, 1)
	go func() {
		nc, err := nats.Connect(url, c.buildConnectionOptions(opts)...)
		done <- result{nc, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, errors.WrapTransient(r.err, "natsConn", "Dial", "establish connection")
		}
		c.nc = r.nc
		return c, nil
	case <-ctx.Done():
		// Late successes are closed so the socket does not leak.
		go func() {
			if r := <-done; r.nc != nil {
				r.nc.Close()
			}
		}()
		return nil, errors.WrapTransient(ctx.Err(), "natsConn", "Dial", "connection cancelled")
	}
}

// natsConn adapts *nats.Conn to Conn.
type natsConn struct {
	nc     *nats.Conn
	status chan StatusEvent
	flush  time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

// buildConnectionOptions builds NATS connection options from ConnOptions
func (c *natsConn) buildConnectionOptions(o ConnOptions) []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(o.MaxReconnects),
		nats.ReconnectWait(o.ReconnectWait),
		nats.PingInterval(o.PingInterval),
		nats.Timeout(o.Timeout),
		nats.DrainTimeout(o.DrainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleError),
	}

	if o.Username != "" && o.Password != "" {
		opts = append(opts, nats.UserInfo(o.Username, o.Password))
	}
	if o.Token != "" {
		opts = append(opts, nats.Token(o.Token))
	}
	if o.CredsFile != "" {
		opts = append(opts, nats.UserCredentials(o.CredsFile))
	}
	if o.TLS != nil {
		opts = append(opts, nats.Secure(o.TLS))
	}
	if o.Name != "" {
		opts = append(opts, nats.Name(o.Name))
	}

	return opts
}

func (c *natsConn) pushStatus(ev StatusEvent) {
	select {
	case c.status <- ev:
	default:
	}
}

// Event handlers for NATS connection
func (c *natsConn) handleDisconnect(nc *nats.Conn, err error) {
	// nats.go reports a disconnect while closing too; that is not a reconnect cycle.
	if nc.IsClosed() || nc.IsDraining() {
		return
	}
	c.pushStatus(StatusEvent{Type: StatusDisconnect, Err: err})
}

func (c *natsConn) handleReconnect(_ *nats.Conn) {
	c.pushStatus(StatusEvent{Type: StatusReconnect})
}

func (c *natsConn) handleClosed(_ *nats.Conn) {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *natsConn) handleError(_ *nats.Conn, _ *nats.Subscription, err error) {
	if isPermissionViolation(err) {
		c.pushStatus(StatusEvent{Type: StatusPermissionError, Err: errors.Join(errors.ErrPermissionDenied, err)})
		return
	}
	c.pushStatus(StatusEvent{Type: StatusAsyncError, Err: err})
}

// isPermissionViolation matches the -ERR the server sends for a denied
// publish or subscribe. nats.go reports it as a plain error carrying the
// server text, not as nats.ErrPermissionViolation.
func isPermissionViolation(err error) bool {
	if err == nil {
		return false
	}
	return stderrors.Is(err, nats.ErrPermissionViolation) ||
		strings.Contains(strings.ToLower(err.Error()), "permissions violation")
}

func (c *natsConn) Publish(subject string, data []byte) error {
	if err := c.nc.Publish(subject, data); err != nil {
		return errors.Join(errors.ErrPublish, err)
	}
	return nil
}

func (c *natsConn) PublishRequest(subject, reply string, data []byte) error {
	if err := c.nc.PublishRequest(subject, reply, data); err != nil {
		return errors.Join(errors.ErrPublish, err)
	}
	return nil
}

func (c *natsConn) Subscribe(subject string, opts SubscribeOptions) (Subscription, error) {
	var (
		sub *nats.Subscription
		err error
	)
	if opts.Queue != "" {
		sub, err = c.nc.QueueSubscribeSync(subject, opts.Queue)
	} else {
		sub, err = c.nc.SubscribeSync(subject)
	}
	if err != nil {
		return nil, mapSubscribeError(err, subject)
	}

	if opts.Max > 0 {
		if err := sub.AutoUnsubscribe(opts.Max); err != nil {
			_ = sub.Unsubscribe()
			return nil, mapSubscribeError(err, subject)
		}
	}

	// While reconnecting the SUB is buffered and replayed by nats.go.
	if c.nc.IsConnected() && c.flush > 0 {
		if err := c.nc.FlushTimeout(c.flush); err != nil {
			_ = sub.Unsubscribe()
			return nil, errors.WrapTransient(err, "natsConn", "Subscribe", "confirm subscription to "+subject)
		}
	}

	return &natsSubscription{sub: sub}, nil
}

func mapSubscribeError(err error, subject string) error {
	if stderrors.Is(err, nats.ErrBadSubject) {
		return errors.WrapInvalid(errors.Join(errors.ErrInvalidSubject, err), "natsConn", "Subscribe", "subscribe to "+subject)
	}
	if stderrors.Is(err, nats.ErrConnectionClosed) || stderrors.Is(err, nats.ErrConnectionDraining) {
		return errors.WrapFatal(errors.Join(errors.ErrClosed, err), "natsConn", "Subscribe", "subscribe to "+subject)
	}
	return errors.WrapTransient(err, "natsConn", "Subscribe", "subscribe to "+subject)
}

func (c *natsConn) NewInbox() string { return c.nc.NewInbox() }

func (c *natsConn) Drain() error {
	if err := c.nc.Drain(); err != nil {
		return errors.WrapTransient(err, "natsConn", "Drain", "drain connection")
	}
	return nil
}

func (c *natsConn) Close() {
	c.nc.Close()
	// ClosedHandler fires asynchronously; Closed must not depend on it.
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *natsConn) Closed() <-chan struct{}    { return c.closed }
func (c *natsConn) Status() <-chan StatusEvent { return c.status }

// natsSubscription adapts a synchronous *nats.Subscription.
type natsSubscription struct {
	sub *nats.Subscription
}

const (
	statusHdr    = "Status"
	noResponders = "503"
)

func (s *natsSubscription) Subject() string { return s.sub.Subject }

func (s *natsSubscription) Next(ctx context.Context) (*Msg, error) {
	m, err := s.sub.NextMsgWithContext(ctx)
	return translateNext(ctx, s.sub.Subject, m, err)
}

// translateNext maps what nats.go hands back from a synchronous
// subscription onto the facade. nats.go consumes the 503 status message a
// server sends to a request inbox and returns nats.ErrNoResponders instead;
// older paths deliver the status message itself. Both become a Msg with
// NoResponders set.
func translateNext(ctx context.Context, subject string, m *nats.Msg, err error) (*Msg, error) {
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case stderrors.Is(err, nats.ErrNoResponders):
			return &Msg{Subject: subject, NoResponders: true}, nil
		case stderrors.Is(err, nats.ErrMaxMessages),
			stderrors.Is(err, nats.ErrBadSubscription),
			stderrors.Is(err, nats.ErrConnectionClosed):
			return nil, errors.Join(errors.ErrSubscriptionEnded, err)
		default:
			return nil, errors.WrapTransient(err, "natsSubscription", "Next", "receive message")
		}
	}

	msg := &Msg{Subject: m.Subject, Reply: m.Reply, Data: m.Data}
	if len(m.Data) == 0 && m.Header != nil && m.Header.Get(statusHdr) == noResponders {
		msg.NoResponders = true
	}
	return msg, nil
}

func (s *natsSubscription) Unsubscribe() error {
	if err := s.sub.Unsubscribe(); err != nil && !stderrors.Is(err, nats.ErrBadSubscription) {
		return errors.WrapTransient(err, "natsSubscription", "Unsubscribe", "unsubscribe "+s.sub.Subject)
	}
	return nil
}
