package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope for service spans.
const TracerName = "sessiond/services/iam"

// StartSpan creates a new span for a service operation.
//
//	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerName, "iam.Refresh")
//	defer span.End()
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError records an error on the span and sets the span status to error.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// AddEvent adds a named event to the span with optional attributes.
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Span attribute keys
const (
	AttrUserID      = "user.id"
	AttrAuthMethod  = "auth.method"
	AttrAuthResult  = "auth.result"
	AttrTokenSource = "auth.token_source"
)

// EventTokenReuse marks a replayed refresh token on the refresh span.
const EventTokenReuse = "refresh_token_reuse"
