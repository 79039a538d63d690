package observability

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func TestNewTracer(t *testing.T) {
	tracer := NewTracer(tracenoop.NewTracerProvider(), "test-service")
	if tracer == nil {
		t.Fatal("NewTracer() should return non-nil tracer")
	}
	if tracer.serviceName != "test-service" {
		t.Errorf("serviceName = %q, want %q", tracer.serviceName, "test-service")
	}
}

func TestTracerSpans(t *testing.T) {
	tracer := NewTracer(tracenoop.NewTracerProvider(), "test-service")
	ctx := context.Background()

	starts := map[string]func() (context.Context, trace.Span){
		"sync": func() (context.Context, trace.Span) {
			return tracer.StartSync(ctx, "client-1", 3)
		},
		"task": func() (context.Context, trace.Span) {
			return tracer.StartTask(ctx, "query", 0, "users")
		},
		"task without container": func() (context.Context, trace.Span) {
			return tracer.StartTask(ctx, "message", 1, "")
		},
		"delivery": func() (context.Context, trace.Span) {
			return tracer.StartDelivery(ctx, "client-1", 2)
		},
		"db": func() (context.Context, trace.Span) {
			return tracer.StartDBQuery(ctx, "SELECT")
		},
		"request": func() (context.Context, trace.Span) {
			return tracer.StartRequest(ctx, httptest.NewRequest(http.MethodPost, "/sync", nil))
		},
	}
	for name, start := range starts {
		t.Run(name, func(t *testing.T) {
			spanCtx, span := start()
			defer span.End()
			if spanCtx == nil {
				t.Error("expected non-nil context")
			}
		})
	}
}

func TestTracerStatusAndErrors(t *testing.T) {
	tracer := NewNoopTracer()
	ctx, span := tracer.StartSpan(context.Background(), "test")
	defer span.End()

	// should not panic
	tracer.SetHTTPStatus(ctx, http.StatusOK)
	tracer.SetHTTPStatus(ctx, http.StatusInternalServerError)
	tracer.RecordError(span, errors.New("failed"))
	tracer.RecordError(span, nil)
}

func TestLoggerWithTrace(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// without a valid span context the logger is returned unchanged
	if got := LoggerWithTrace(context.Background(), logger); got != logger {
		t.Error("expected the same logger without trace context")
	}
}
