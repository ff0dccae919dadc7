// Package health tracks connection health per namespace.
//
// A Monitor is fed lifecycle events from an event.Emitter and keeps one
// Status per namespace:
//
//	events, stop := emitter.Listen(64)
//	defer stop()
//	monitor := health.NewMonitor()
//	go monitor.Track(ctx, events)
//
//	if s := monitor.Aggregate("natsrpc"); s.IsUnhealthy() {
//	    log.Printf("unhealthy: %s", s.Message)
//	}
//
// connected and reconnected mark a namespace healthy; reconnecting, error
// and subscribe_connection_error mark it degraded; close marks it
// unhealthy. The aggregate is unhealthy if any namespace is, degraded if
// any is degraded, and healthy otherwise. Messages are sanitized of URLs,
// paths, addresses and credentials before they are stored.
package health
