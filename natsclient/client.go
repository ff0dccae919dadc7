// Package natsclient manages the lifetime of a single NATS connection per
// namespace: lazy or eager establishment, single-flight dialing and a
// draining shutdown.
package natsclient

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/c360/natsrpc/errors"
	"github.com/c360/natsrpc/event"
	"github.com/c360/natsrpc/metric"
	"github.com/c360/natsrpc/pkg/retry"
)

// ConnectionStatus represents the lifecycle state of the managed connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusUnconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusDraining
	StatusClosed
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusUnconnected:
		return "unconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDraining:
		return "draining"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// connectKey is the single-flight key shared by dials and Shutdown.
const connectKey = "connect"

// Client owns the connection for one namespace. At most one dial is in
// flight at any time; every caller that needs the connection while a dial
// is pending waits for that same dial.
type Client struct {
	namespace string
	dial      Dialer
	lazy      bool
	retry     retry.Config

	logger  *slog.Logger
	events  event.Sink
	metrics *metric.Metrics

	status atomic.Value // stores ConnectionStatus
	flight singleflight.Group

	mu       sync.Mutex
	conn     Conn
	started  bool
	shutdown bool
	done     chan struct{}
	err      error
}

// NewClient creates a Client that opens connections with dial.
func NewClient(dial Dialer, opts ...ClientOption) (*Client, error) {
	if dial == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "NewClient", "dialer is required")
	}

	c := &Client{
		namespace: "default",
		dial:      dial,
		lazy:      true,
		retry:     retry.DefaultConfig(),
		logger:    slog.Default(),
		events:    event.Discard,
		done:      make(chan struct{}),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.logger = c.logger.With("component", "natsclient", "namespace", c.namespace)
	c.setStatus(StatusUnconnected)

	return c, nil
}

// Namespace returns the namespace this client serves.
func (m *Client) Namespace() string {
	return m.namespace
}

// Lazy reports whether the first connection is deferred until first use.
func (m *Client) Lazy() bool {
	return m.lazy
}

// Status returns the current connection status
func (m *Client) Status() ConnectionStatus {
	val := m.status.Load()
	if val == nil {
		return StatusUnconnected
	}
	return val.(ConnectionStatus)
}

// IsHealthy returns true if the connection is established
func (m *Client) IsHealthy() bool {
	return m.Status() == StatusConnected
}

// Done is closed once Shutdown has completed.
func (m *Client) Done() <-chan struct{} {
	return m.done
}

func (m *Client) setStatus(status ConnectionStatus) {
	m.status.Store(status)
	m.metrics.SetConnectionState(m.namespace, int(status))
}

// Start applies the startup policy. In lazy mode it returns immediately and
// the first Connect dials. Otherwise it dials now, retrying according to
// the configured retry policy. Start is a no-op after the first call.
func (m *Client) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	if m.lazy {
		m.logger.Debug("Lazy connection mode, deferring dial until first use")
		return nil
	}

	cfg := m.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = func(attempt int, err error, next time.Duration) {
			m.logger.Warn("NATS connect failed, retrying", "attempt", attempt, "error", err, "backoff", next)
		}
	}

	err := retry.Do(ctx, cfg, func() error {
		_, err := m.Connect(ctx)
		if errors.Is(err, errors.ErrClosed) {
			return retry.NonRetryable(err)
		}
		return err
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "Start", "establish eager connection")
	}
	return nil
}

// Connect returns the live connection, dialing if there is none. Concurrent
// callers share one dial and observe the same outcome. ctx bounds only how
// long this caller waits; the dial itself continues for the others.
func (m *Client) Connect(ctx context.Context) (Conn, error) {
	m.mu.Lock()
	if m.conn != nil {
		conn := m.conn
		m.mu.Unlock()
		return conn, nil
	}
	if m.shutdown {
		m.mu.Unlock()
		return nil, errors.WrapFatal(errors.ErrClosed, "Client", "Connect", "client is shut down")
	}
	ch := m.flight.DoChan(connectKey, m.dialOnce)
	m.mu.Unlock()

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		conn, _ := res.Val.(Conn)
		if conn == nil {
			return nil, errors.WrapFatal(errors.ErrClosed, "Client", "Connect", "client is shut down")
		}
		return conn, nil
	case <-ctx.Done():
		return nil, errors.WrapTransient(ctx.Err(), "Client", "Connect", "await connection")
	}
}

// dialOnce is the body of the single-flight connect. It is never run
// concurrently with itself or with Shutdown's join.
func (m *Client) dialOnce() (any, error) {
	m.setStatus(StatusConnecting)
	m.logger.Info("Connecting to NATS")

	start := time.Now()
	conn, err := m.dial(context.Background())
	m.metrics.RecordConnectAttempt(m.namespace, err)

	if err != nil {
		m.setStatus(StatusUnconnected)
		m.logger.Warn("NATS connection attempt failed", "error", err, "elapsed", time.Since(start))
		m.events.Emit(event.Event{Type: event.Error, Namespace: m.namespace, Err: err})
		return nil, errors.WrapTransient(err, "Client", "Connect", "establish connection")
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	m.setStatus(StatusConnected)

	go m.watch(conn)

	m.logger.Info("Connected to NATS", "elapsed", time.Since(start))
	m.events.Emit(event.Event{Type: event.Connected, Namespace: m.namespace})

	return conn, nil
}

// watch forwards transport status for conn until it closes. A connection
// that closes on its own returns the client to unconnected so the next
// Connect dials again.
func (m *Client) watch(conn Conn) {
	status := conn.Status()
	for {
		select {
		case ev := <-status:
			m.forward(ev)
		case <-conn.Closed():
			m.mu.Lock()
			lost := m.conn == conn && !m.shutdown
			if lost {
				m.conn = nil
			}
			m.mu.Unlock()

			if lost {
				m.setStatus(StatusUnconnected)
				m.logger.Warn("NATS connection closed unexpectedly")
				m.events.Emit(event.Event{Type: event.Close, Namespace: m.namespace, Err: errors.ErrConnectionLost})
			}
			return
		}
	}
}

func (m *Client) forward(ev StatusEvent) {
	switch ev.Type {
	case StatusDisconnect:
		m.events.Emit(event.Event{Type: event.Reconnecting, Namespace: m.namespace, Err: ev.Err})
	case StatusReconnect:
		m.metrics.RecordReconnect(m.namespace)
		m.events.Emit(event.Event{Type: event.Reconnected, Namespace: m.namespace})
	case StatusPermissionError:
		m.logger.Warn("NATS permission error", "error", ev.Err)
		m.events.Emit(event.Event{Type: event.PermissionError, Namespace: m.namespace, Err: ev.Err})
	case StatusAsyncError:
		m.events.Emit(event.Event{Type: event.Error, Namespace: m.namespace, Err: ev.Err})
	}
}

// Shutdown closes the connection gracefully. A dial in flight is awaited
// first, bounded only by that dial's own failure path. If no connection
// exists the client closes without draining. Otherwise the connection is
// drained; ctx bounds the wait, after which it is closed outright.
// Shutdown runs once; later calls wait for the first to finish.
func (m *Client) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		select {
		case <-m.done:
			return m.err
		case <-ctx.Done():
			return errors.WrapTransient(ctx.Err(), "Client", "Shutdown", "await shutdown")
		}
	}
	m.shutdown = true
	// Joins a pending dial without starting a new one.
	ch := m.flight.DoChan(connectKey, m.current)
	m.mu.Unlock()

	<-ch

	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	var err error
	if conn == nil {
		m.logger.Info("No NATS connection established, closing without drain")
	} else {
		m.setStatus(StatusDraining)
		m.logger.Info("Draining NATS connection")
		err = m.drain(ctx, conn)
	}

	m.setStatus(StatusClosed)
	m.events.Emit(event.Event{Type: event.Close, Namespace: m.namespace})

	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
	close(m.done)

	return err
}

func (m *Client) current() (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn, nil
}

func (m *Client) drain(ctx context.Context, conn Conn) error {
	if err := conn.Drain(); err != nil {
		m.logger.Warn("NATS drain failed, closing", "error", err)
		conn.Close()
		return nil
	}

	select {
	case <-conn.Closed():
		return nil
	case <-ctx.Done():
		conn.Close()
		return errors.WrapTransient(ctx.Err(), "Client", "Shutdown", "drain connection")
	}
}
