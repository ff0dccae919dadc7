// Package telemetry creates OpenTelemetry spans for natsrpc.
//
// Each request is one client span from publish to terminal response, with
// an event per ack or update. Each message handled by a subscription is one
// server span. Spans go to the provider registered with otel.SetTracerProvider;
// with none registered they are no-ops.
//
//	tracer := telemetry.NewTracer("github.com/c360/natsrpc")
//	ctx, span := tracer.StartRequest(ctx, "jobs", "jobs.run", callID)
//	defer telemetry.EndSpan(span, outcome, err)
package telemetry
