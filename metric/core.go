package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Request outcomes recorded in requests_total and request_duration_seconds.
const (
	OutcomeSuccess          = "success"
	OutcomeApplicationError = "application_error"
	OutcomeTimeout          = "timeout"
	OutcomeNoResponders     = "no_responders"
	OutcomePublishError     = "publish_error"
	OutcomeDecodeError      = "decode_error"
	OutcomeCanceled         = "canceled"
	OutcomeConnectionLost   = "connection_lost"
)

// Signal directions for the signals_total counter.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// Subscription message results.
const (
	MessageDispatched   = "dispatched"
	MessageDecodeError  = "decode_error"
	MessageHandlerError = "handler_error"
)

// Metrics holds the request/reply metrics. All methods are safe on a nil
// receiver so that components can run without metrics.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInflight *prometheus.GaugeVec
	SignalsTotal     *prometheus.CounterVec
	SubscriptionMsgs *prometheus.CounterVec

	ConnectionState *prometheus.GaugeVec
	ConnectAttempts *prometheus.CounterVec
	Reconnects      *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "natsrpc",
				Subsystem: "request",
				Name:      "total",
				Help:      "Total number of progressive requests by terminal outcome",
			},
			[]string{"namespace", "outcome"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "natsrpc",
				Subsystem: "request",
				Name:      "duration_seconds",
				Help:      "Time from request publish to terminal resolution",
				Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"namespace", "outcome"},
		),

		RequestsInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "natsrpc",
				Subsystem: "request",
				Name:      "inflight",
				Help:      "Requests awaiting a terminal signal",
			},
			[]string{"namespace"},
		),

		SignalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "natsrpc",
				Subsystem: "signal",
				Name:      "total",
				Help:      "Reply frames by direction and type (ack, update, response)",
			},
			[]string{"namespace", "direction", "type"},
		),

		SubscriptionMsgs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "natsrpc",
				Subsystem: "subscription",
				Name:      "messages_total",
				Help:      "Messages received by subscriptions by dispatch result",
			},
			[]string{"namespace", "result"},
		),

		ConnectionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "natsrpc",
				Subsystem: "connection",
				Name:      "state",
				Help:      "Connection state (0=unconnected, 1=connecting, 2=connected, 3=draining, 4=closed)",
			},
			[]string{"namespace"},
		),

		ConnectAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "natsrpc",
				Subsystem: "connection",
				Name:      "attempts_total",
				Help:      "Dial attempts by result",
			},
			[]string{"namespace", "result"},
		),

		Reconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "natsrpc",
				Subsystem: "connection",
				Name:      "reconnects_total",
				Help:      "Transport-level reconnections",
			},
			[]string{"namespace"},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.RequestsTotal,
		c.RequestDuration,
		c.RequestsInflight,
		c.SignalsTotal,
		c.SubscriptionMsgs,
		c.ConnectionState,
		c.ConnectAttempts,
		c.Reconnects,
	}
}

// RecordRequest records a resolved request
func (c *Metrics) RecordRequest(namespace, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.RequestsTotal.WithLabelValues(namespace, outcome).Inc()
	c.RequestDuration.WithLabelValues(namespace, outcome).Observe(duration.Seconds())
}

// AddInflight adjusts the in-flight request gauge
func (c *Metrics) AddInflight(namespace string, delta float64) {
	if c == nil {
		return
	}
	c.RequestsInflight.WithLabelValues(namespace).Add(delta)
}

// RecordSignal counts a reply frame
func (c *Metrics) RecordSignal(namespace, direction, signalType string) {
	if c == nil {
		return
	}
	c.SignalsTotal.WithLabelValues(namespace, direction, signalType).Inc()
}

// RecordSubscriptionMessage counts a message seen by a subscription
func (c *Metrics) RecordSubscriptionMessage(namespace, result string) {
	if c == nil {
		return
	}
	c.SubscriptionMsgs.WithLabelValues(namespace, result).Inc()
}

// SetConnectionState updates the connection state gauge
func (c *Metrics) SetConnectionState(namespace string, state int) {
	if c == nil {
		return
	}
	c.ConnectionState.WithLabelValues(namespace).Set(float64(state))
}

// RecordConnectAttempt counts a dial and its result
func (c *Metrics) RecordConnectAttempt(namespace string, err error) {
	if c == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.ConnectAttempts.WithLabelValues(namespace, result).Inc()
}

// RecordReconnect increments reconnection counter
func (c *Metrics) RecordReconnect(namespace string) {
	if c == nil {
		return
	}
	c.Reconnects.WithLabelValues(namespace).Inc()
}
