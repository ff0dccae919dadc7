// Package natsclient owns the NATS connection behind a natsrpc namespace.
//
// # Overview
//
// The package has two layers. The transport facade (Conn, Subscription,
// Msg) is the narrow pub/sub surface the request/reply protocol needs:
// publish with an optional reply address, pull-style subscriptions with
// queue groups and auto-unsubscribe, unique inboxes, drain and status
// reporting. DialNATS implements it on nats.go; Network implements it in
// memory for tests and single-process use.
//
// Client manages the lifetime of one Conn:
//
//	Unconnected → Connecting → Connected → Draining → Closed
//	      ↑____________|___________|
//
// # Single-Flight Dialing
//
// Connect dials when no connection exists. Concurrent callers share one
// dial through golang.org/x/sync/singleflight and observe the same result.
// A failed dial is not cached; the next caller dials again.
//
// # Startup Policy
//
// In lazy mode (the default) Start does nothing and the first Connect
// dials. With WithLazy(false) Start dials immediately, retrying according
// to WithConnectRetry.
//
// # Shutdown
//
// Shutdown first joins any dial in flight without starting a new one, so a
// connection that is still being established is drained rather than
// leaked. If no connection exists the client closes without draining.
// Otherwise it drains and waits for the transport to close.
//
// # Basic Usage
//
//	client, err := natsclient.NewClient(
//	    natsclient.NATSDialer(natsclient.DefaultConnOptions()),
//	    natsclient.WithNamespace("jobs"),
//	    natsclient.WithLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Start(ctx); err != nil {
//	    return err
//	}
//	defer client.Shutdown(context.Background())
//
//	conn, err := client.Connect(ctx)
//
// # Events and Metrics
//
// Status changes reported by the transport are forwarded to the event.Sink
// given with WithEvents (reconnecting, reconnected, error) and counted in
// the metric.Metrics given with WithMetrics. A connection that closes on
// its own emits a close event carrying errors.ErrConnectionLost and the
// next Connect dials again.
//
// # Testing
//
// Unit tests use NewNetwork. Tests built with the integration tag start a
// real server in a container via NewTestServer.
package natsclient
