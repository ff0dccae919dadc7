// Package natsrpc provides progressive request/reply over NATS.
//
// A request is answered by a stream of signal frames rather than a single
// reply: the responder may ack (optionally extending the caller's deadline),
// send any number of updates, and finishes with exactly one response. The
// caller's inactivity deadline is renewed by every ack and update, so long
// running work stays alive for as long as it keeps reporting progress.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│            rpc.Service              │  Request / Call, Subscribe,
//	│   (correlator, reply handler,       │  Publish, Shutdown
//	│    subscription adapter)            │
//	└─────────────────────────────────────┘
//	           ↓ one per namespace
//	┌─────────────────────────────────────┐
//	│         natsclient.Client           │  lazy or eager connect,
//	│   (connection lifecycle manager)    │  single-flight dial, drain
//	└─────────────────────────────────────┘
//	           ↓ natsclient.Conn
//	┌─────────────────────────────────────┐
//	│    NATS server  /  in-memory net    │
//	└─────────────────────────────────────┘
//
// # Packages
//
//   - rpc: signal frames, the request correlator (Call), the reply
//     Handler and the subscription adapter, behind rpc.Service
//   - natsclient: the transport facade, the NATS dialer, an in-memory
//     network for tests and the per-namespace connection manager
//   - config: layered JSON, YAML and TOML configuration
//   - errors: classified errors, protocol error kinds and the wire error
//   - event, health: lifecycle events and per-namespace health
//   - metric: Prometheus metrics and the /metrics and /health endpoint
//   - codec: payload serialization
//   - pkg/retry, pkg/tlsutil, pkg/telemetry: backoff, TLS setup and spans
//
// The natsrpc command in cmd/natsrpc runs a demo responder and sends
// requests from the shell.
//
// # Quick Start
//
//	client, _ := natsclient.NewClient(natsclient.NATSDialer(natsclient.DefaultConnOptions()),
//	    natsclient.WithNamespace("jobs"))
//	svc, _ := rpc.New(client)
//	defer svc.Shutdown(ctx)
//
//	results, err := svc.RequestSync(ctx, "jobs.run", job, rpc.RequestOptions{Timeout: 5 * time.Second})
package natsrpc
