package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the hub metric instruments.
type Metrics struct {
	taskCount        metric.Int64Counter
	taskDuration     metric.Float64Histogram
	queryResultCount metric.Int64Histogram
	eventCount       metric.Int64Counter
	errorCount       metric.Int64Counter
	syncSize         metric.Int64Histogram
	requestDuration  metric.Float64Histogram
	dbQueryDuration  metric.Float64Histogram
}

type instrument struct {
	name, description, unit string
}

var (
	taskCountInstrument        = instrument{"entityhub.task.count", "Total number of executed tasks", "{task}"}
	taskDurationInstrument     = instrument{"entityhub.task.duration", "Duration of task execution in milliseconds", "ms"}
	queryResultCountInstrument = instrument{"entityhub.query.result.count", "Number of entities returned by query tasks", "{entity}"}
	eventCountInstrument       = instrument{"entityhub.event.count", "Total number of change events published", "{event}"}
	errorCountInstrument       = instrument{"entityhub.error.count", "Total number of failed tasks", "{error}"}
	syncSizeInstrument         = instrument{"entityhub.sync.size", "Number of tasks in a sync request", "{task}"}
	requestDurationInstrument  = instrument{"entityhub.http.duration", "Duration of HTTP requests in milliseconds", "ms"}
	dbQueryDurationInstrument  = instrument{"entityhub.db.query.duration", "Duration of database statements in milliseconds", "ms"}
)

// NewMetrics creates a new Metrics instance with the given MeterProvider.
// Instruments that fail to register with their options fall back to bare ones.
func NewMetrics(mp metric.MeterProvider) *Metrics {
	meter := mp.Meter(MeterName)
	return &Metrics{
		taskCount:        counter(meter, taskCountInstrument),
		taskDuration:     histogram(meter, taskDurationInstrument),
		queryResultCount: intHistogram(meter, queryResultCountInstrument),
		eventCount:       counter(meter, eventCountInstrument),
		errorCount:       counter(meter, errorCountInstrument),
		syncSize:         intHistogram(meter, syncSizeInstrument),
		requestDuration:  histogram(meter, requestDurationInstrument),
		dbQueryDuration:  histogram(meter, dbQueryDurationInstrument),
	}
}

func counter(meter metric.Meter, in instrument) metric.Int64Counter {
	c, err := meter.Int64Counter(in.name, metric.WithDescription(in.description), metric.WithUnit(in.unit))
	if err != nil {
		c, _ = meter.Int64Counter(in.name) //nolint:errcheck
	}
	return c
}

func histogram(meter metric.Meter, in instrument) metric.Float64Histogram {
	h, err := meter.Float64Histogram(in.name, metric.WithDescription(in.description), metric.WithUnit(in.unit))
	if err != nil {
		h, _ = meter.Float64Histogram(in.name) //nolint:errcheck
	}
	return h
}

func intHistogram(meter metric.Meter, in instrument) metric.Int64Histogram {
	h, err := meter.Int64Histogram(in.name, metric.WithDescription(in.description), metric.WithUnit(in.unit))
	if err != nil {
		h, _ = meter.Int64Histogram(in.name) //nolint:errcheck
	}
	return h
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// RecordTask records a completed task.
func (m *Metrics) RecordTask(ctx context.Context, task, container string, duration time.Duration, failed bool) {
	attrs := metric.WithAttributes(
		TaskAttr(task),
		ContainerAttr(container),
		attribute.Bool("entityhub.task.failed", failed),
	)
	m.taskCount.Add(ctx, 1, attrs)
	m.taskDuration.Record(ctx, milliseconds(duration), attrs)
}

// RecordQueryResult records the number of entities returned by a query task.
func (m *Metrics) RecordQueryResult(ctx context.Context, container string, count int) {
	m.queryResultCount.Record(ctx, int64(count), metric.WithAttributes(ContainerAttr(container)))
}

// RecordEvents records published change events.
func (m *Metrics) RecordEvents(ctx context.Context, container string, count int) {
	m.eventCount.Add(ctx, int64(count), metric.WithAttributes(ContainerAttr(container)))
}

// RecordError records a task failure.
func (m *Metrics) RecordError(ctx context.Context, task, container, errorType string) {
	m.errorCount.Add(ctx, 1, metric.WithAttributes(
		TaskAttr(task),
		ContainerAttr(container),
		attribute.String(AttrErrorType, errorType),
	))
}

// RecordSyncSize records the number of tasks in a sync request.
func (m *Metrics) RecordSyncSize(ctx context.Context, size int) {
	m.syncSize.Record(ctx, int64(size))
}

// RecordRequest records a completed HTTP request.
func (m *Metrics) RecordRequest(ctx context.Context, route string, statusCode int, duration time.Duration) {
	m.requestDuration.Record(ctx, milliseconds(duration), metric.WithAttributes(
		attribute.String("http.route", route),
		attribute.Int("http.status_code", statusCode),
	))
}

// RecordDBQuery records the duration of a database statement.
func (m *Metrics) RecordDBQuery(ctx context.Context, operation string, duration time.Duration) {
	m.dbQueryDuration.Record(ctx, milliseconds(duration), metric.WithAttributes(attribute.String("db.operation", operation)))
}
