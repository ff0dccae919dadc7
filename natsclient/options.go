package natsclient

import (
	"fmt"
	"log/slog"

	"github.com/c360/natsrpc/event"
	"github.com/c360/natsrpc/metric"
	"github.com/c360/natsrpc/pkg/retry"
)

// ClientOption is a functional option for configuring the Client
type ClientOption func(*Client) error

// WithNamespace sets the namespace label used in logs, events and metrics
func WithNamespace(ns string) ClientOption {
	return func(c *Client) error {
		if ns == "" {
			return fmt.Errorf("namespace must not be empty")
		}
		c.namespace = ns
		return nil
	}
}

// WithLazy defers the first dial until a caller needs the connection.
// Lazy is the default; WithLazy(false) makes Start dial eagerly.
func WithLazy(lazy bool) ClientOption {
	return func(c *Client) error {
		c.lazy = lazy
		return nil
	}
}

// WithConnectRetry sets the retry policy Start uses for eager connections
func WithConnectRetry(cfg retry.Config) ClientOption {
	return func(c *Client) error {
		c.retry = cfg
		return nil
	}
}

// WithLogger sets a custom logger for the client
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// WithEvents routes lifecycle events to sink
func WithEvents(sink event.Sink) ClientOption {
	return func(c *Client) error {
		if sink == nil {
			sink = event.Discard
		}
		c.events = sink
		return nil
	}
}

// WithMetrics records connection metrics. A nil value disables them.
func WithMetrics(metrics *metric.Metrics) ClientOption {
	return func(c *Client) error {
		c.metrics = metrics
		return nil
	}
}
