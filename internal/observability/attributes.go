// Package observability provides OpenTelemetry-based instrumentation for the hub.
//
// It supports distributed tracing, metrics collection, and enhanced structured logging.
//
// All observability features are opt-in. When not configured, no-op implementations
// are used.
package observability

import "go.opentelemetry.io/otel/attribute"

// Instrumentation identity constants
const (
	// TracerName is the instrumentation name for tracing.
	TracerName = "github.com/nlstn/go-entityhub"
	// MeterName is the instrumentation name for metrics.
	MeterName = "github.com/nlstn/go-entityhub"
)

// Hub attribute keys.
const (
	AttrContainer = "entityhub.container"
	AttrEntityKey = "entityhub.entity_key"
	AttrTask      = "entityhub.task"
	AttrTaskIndex = "entityhub.task.index"
	AttrClientID  = "entityhub.client_id"

	AttrFilter      = "entityhub.filter"
	AttrResultCount = "entityhub.result.count"
	AttrTaskCount   = "entityhub.task.count"
	AttrEventCount  = "entityhub.event.count"

	AttrErrorType = "entityhub.error.type"
)

// Log field keys for structured logging with trace context.
const (
	LogFieldContainer = "container"
	LogFieldTask      = "task"
	LogFieldClientID  = "client"
	LogFieldTraceID   = "trace_id"
	LogFieldSpanID    = "span_id"
	LogFieldDuration  = "duration_ms"
	LogFieldError     = "error"
)

// ContainerAttr creates an attribute for the container name.
func ContainerAttr(name string) attribute.KeyValue {
	return attribute.String(AttrContainer, name)
}

// EntityKeyAttr creates an attribute for the entity key.
func EntityKeyAttr(key string) attribute.KeyValue {
	return attribute.String(AttrEntityKey, key)
}

// TaskAttr creates an attribute for the task type.
func TaskAttr(task string) attribute.KeyValue {
	return attribute.String(AttrTask, task)
}

func ClientIDAttr(id string) attribute.KeyValue {
	return attribute.String(AttrClientID, id)
}

// FilterAttr creates an attribute for the rendered filter of a query.
func FilterAttr(filter string) attribute.KeyValue {
	return attribute.String(AttrFilter, filter)
}

func ResultCountAttr(count int) attribute.KeyValue {
	return attribute.Int(AttrResultCount, count)
}

func TaskCountAttr(count int) attribute.KeyValue {
	return attribute.Int(AttrTaskCount, count)
}
