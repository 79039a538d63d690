package observability

import (
	"context"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an OpenTelemetry tracer with hub span helpers.
type Tracer struct {
	tracer      trace.Tracer
	serviceName string
}

// NewTracer creates a new Tracer using the given TracerProvider.
func NewTracer(tp trace.TracerProvider, serviceName string) *Tracer {
	return &Tracer{
		tracer:      tp.Tracer(TracerName),
		serviceName: serviceName,
	}
}

// StartSpan starts a new span with the given name and attributes.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartSync starts the span of one sync request.
func (t *Tracer) StartSync(ctx context.Context, clientID string, taskCount int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "entityhub.sync", trace.WithAttributes(
		ClientIDAttr(clientID),
		TaskCountAttr(taskCount),
	))
}

// StartTask starts the span of one task of a sync request.
func (t *Tracer) StartTask(ctx context.Context, task string, index int, container string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		TaskAttr(task),
		attribute.Int(AttrTaskIndex, index),
	}
	if container != "" {
		attrs = append(attrs, ContainerAttr(container))
	}
	return t.tracer.Start(ctx, "entityhub.task", trace.WithAttributes(attrs...))
}

// StartDelivery starts a span for pushing events to a subscriber.
func (t *Tracer) StartDelivery(ctx context.Context, clientID string, events int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "entityhub.deliver", trace.WithAttributes(
		ClientIDAttr(clientID),
		attribute.Int(AttrEventCount, events),
	))
}

// StartRequest starts a span for an HTTP request.
func (t *Tracer) StartRequest(ctx context.Context, r *http.Request) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "entityhub.http", trace.WithAttributes(
		attribute.String("http.method", r.Method),
		attribute.String("http.route", r.URL.Path),
	), trace.WithSpanKind(trace.SpanKindServer))
}

// StartDBQuery starts a span for a database statement.
func (t *Tracer) StartDBQuery(ctx context.Context, operation string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "db.query", trace.WithAttributes(
		attribute.String("db.operation", operation),
	))
}

// SetHTTPStatus sets the HTTP status code on the current span.
func (t *Tracer) SetHTTPStatus(ctx context.Context, statusCode int) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.Int("http.status_code", statusCode))
	if statusCode >= 400 {
		span.SetStatus(codes.Error, http.StatusText(statusCode))
	}
}

// RecordError records an error on the span.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// LoggerWithTrace returns a logger enriched with trace context.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return logger
	}
	return logger.With(
		slog.String(LogFieldTraceID, span.SpanContext().TraceID().String()),
		slog.String(LogFieldSpanID, span.SpanContext().SpanID().String()),
	)
}
