// Package metric provides Prometheus metrics for natsrpc and an HTTP server
// that exposes them.
//
// # Core Metrics
//
// NewMetricsRegistry registers the request/reply metrics (type Metrics)
// together with the Go runtime and process collectors:
//
//	natsrpc_request_total{namespace,outcome}
//	natsrpc_request_duration_seconds{namespace,outcome}
//	natsrpc_request_inflight{namespace}
//	natsrpc_signal_total{namespace,direction,type}
//	natsrpc_subscription_messages_total{namespace,result}
//	natsrpc_connection_state{namespace}
//	natsrpc_connection_attempts_total{namespace,result}
//	natsrpc_connection_reconnects_total{namespace}
//
// Every Record method is a no-op on a nil *Metrics, so components accept an
// optional metrics value without guarding each call.
//
// # Application Metrics
//
// Applications register their own collectors through MetricsRegistrar:
//
//	completed := prometheus.NewCounter(prometheus.CounterOpts{
//	    Name: "jobs_completed_total",
//	    Help: "Jobs completed by the worker",
//	})
//	if err := registry.Register("worker", "jobs_completed_total", completed); err != nil {
//	    return err
//	}
//
// # HTTP Server
//
//	server := metric.NewServer(":9090", "/metrics", registry, healthCheck)
//	go func() {
//	    if err := server.Start(); err != nil {
//	        logger.Error("metrics server failed", "error", err)
//	    }
//	}()
//	defer server.Stop()
//
// The /health endpoint answers 200 while healthCheck returns nil and 503
// otherwise.
package metric
