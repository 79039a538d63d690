package observability

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	servertiming "github.com/mitchellh/go-server-timing"
)

// ServerTimingMetric wraps the server-timing library's Metric type.
type ServerTimingMetric struct {
	metric *servertiming.Metric
}

// Stop stops the timing metric.
func (m *ServerTimingMetric) Stop() {
	if m != nil && m.metric != nil {
		m.metric.Stop()
	}
}

// StartServerTiming starts a server-timing metric with the given name. The
// returned metric is a no-op when the context carries no timing header.
func StartServerTiming(ctx context.Context, name string) *ServerTimingMetric {
	return StartServerTimingWithDesc(ctx, name, "")
}

// StartServerTimingWithDesc starts a server-timing metric with a description.
func StartServerTimingWithDesc(ctx context.Context, name, description string) *ServerTimingMetric {
	timing := servertiming.FromContext(ctx)
	if timing == nil {
		return &ServerTimingMetric{}
	}
	metric := timing.NewMetric(name)
	if description != "" {
		metric = metric.WithDesc(description)
	}
	return &ServerTimingMetric{metric: metric.Start()}
}

// DBTimeAccumulator sums the duration of database statements of one request.
type DBTimeAccumulator struct {
	total atomic.Int64
}

func (a *DBTimeAccumulator) Add(d time.Duration) {
	a.total.Add(int64(d))
}

func (a *DBTimeAccumulator) Duration() time.Duration {
	return time.Duration(a.total.Load())
}

type dbTimeKey struct{}

// WithDBTimeAccumulator returns a context carrying a new accumulator.
func WithDBTimeAccumulator(ctx context.Context) context.Context {
	return context.WithValue(ctx, dbTimeKey{}, &DBTimeAccumulator{})
}

// DBTimeAccumulatorFromContext returns the accumulator of ctx, or nil.
func DBTimeAccumulatorFromContext(ctx context.Context) *DBTimeAccumulator {
	acc, _ := ctx.Value(dbTimeKey{}).(*DBTimeAccumulator)
	return acc
}

// AddDBTime adds d to the accumulator of ctx, if there is one.
func AddDBTime(ctx context.Context, d time.Duration) {
	if acc := DBTimeAccumulatorFromContext(ctx); acc != nil {
		acc.Add(d)
	}
}

// RecordDBTiming adds the accumulated database time as the "db" metric. It
// must be called before the response header is written.
func RecordDBTiming(ctx context.Context) {
	timing := servertiming.FromContext(ctx)
	acc := DBTimeAccumulatorFromContext(ctx)
	if timing == nil || acc == nil {
		return
	}
	metric := timing.NewMetric("db").WithDesc("database")
	metric.Duration = acc.Duration()
}

// ServerTimingMiddleware adds the Server-Timing header to responses when it is enabled.
func ServerTimingMiddleware(cfg *Config) func(http.Handler) http.Handler {
	if !cfg.ServerTimingEnabled() {
		return func(next http.Handler) http.Handler {
			return next
		}
	}
	return func(next http.Handler) http.Handler {
		withAccumulator := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithDBTimeAccumulator(r.Context())))
		})
		return servertiming.Middleware(withAccumulator, nil)
	}
}
