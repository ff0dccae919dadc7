// Package telemetry wraps OpenTelemetry tracing for request/reply calls.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Attribute keys set on natsrpc spans.
const (
	AttrNamespace = attribute.Key("natsrpc.namespace")
	AttrSubject   = attribute.Key("messaging.destination.name")
	AttrCallID    = attribute.Key("natsrpc.call_id")
	AttrOutcome   = attribute.Key("natsrpc.outcome")
	AttrSignal    = attribute.Key("natsrpc.signal")
	AttrOverride  = attribute.Key("natsrpc.ack_override_ms")
)

// Tracer creates the spans for requests and handled messages. A nil
// *Tracer is valid and records nothing.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer returns a Tracer backed by the globally registered provider.
func NewTracer(name string) *Tracer {
	return &Tracer{tracer: otel.Tracer(name)}
}

// NewTracerFrom wraps an existing trace.Tracer.
func NewTracerFrom(t trace.Tracer) *Tracer {
	if t == nil {
		t = noop.NewTracerProvider().Tracer("")
	}
	return &Tracer{tracer: t}
}

func (t *Tracer) get() trace.Tracer {
	if t == nil || t.tracer == nil {
		return noop.NewTracerProvider().Tracer("")
	}
	return t.tracer
}

// StartRequest starts the client span covering one request from publish
// to terminal response.
func (t *Tracer) StartRequest(ctx context.Context, namespace, subject, callID string) (context.Context, trace.Span) {
	return t.get().Start(ctx, "natsrpc.request "+subject,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrNamespace.String(namespace),
			AttrSubject.String(subject),
			AttrCallID.String(callID),
		),
	)
}

// StartHandle starts the server span covering one inbound message.
func (t *Tracer) StartHandle(ctx context.Context, namespace, subject string) (context.Context, trace.Span) {
	return t.get().Start(ctx, "natsrpc.handle "+subject,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			AttrNamespace.String(namespace),
			AttrSubject.String(subject),
		),
	)
}

// RecordSignal adds an event for an intermediate signal.
func RecordSignal(span trace.Span, signal string, overrideMS int64) {
	attrs := []attribute.KeyValue{AttrSignal.String(signal)}
	if overrideMS > 0 {
		attrs = append(attrs, AttrOverride.Int64(overrideMS))
	}
	span.AddEvent("signal", trace.WithAttributes(attrs...))
}

// EndSpan sets the outcome and status and ends span.
func EndSpan(span trace.Span, outcome string, err error) {
	span.SetAttributes(AttrOutcome.String(outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
