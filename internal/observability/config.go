package observability

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Config selects what the hub reports about sync requests, tasks and storage.
// Leave a provider nil to switch its signal off. Create Configs with NewConfig,
// or call Initialize after filling the fields by hand.
type Config struct {
	// ServiceName and ServiceVersion label the spans of the hub.
	ServiceName    string
	ServiceVersion string

	// EnableServerTiming adds a Server-Timing header to /sync responses.
	EnableServerTiming bool
	// EnableFilterTracing records the rendered filter of query tasks.
	EnableFilterTracing bool
	// EnableDetailedDBTracing opens one span per SQL statement of SQL containers.
	EnableDetailedDBTracing bool

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider

	tracer  *Tracer
	metrics *Metrics
}

// Option changes one setting of a Config.
type Option func(*Config)

// WithServiceName overrides the default service name "entityhub".
func WithServiceName(name string) Option {
	return func(c *Config) {
		c.ServiceName = name
	}
}

func WithServiceVersion(version string) Option {
	return func(c *Config) {
		c.ServiceVersion = version
	}
}

func WithServerTiming() Option {
	return func(c *Config) {
		c.EnableServerTiming = true
	}
}

func WithFilterTracing() Option {
	return func(c *Config) {
		c.EnableFilterTracing = true
	}
}

// WithDetailedDBTracing only has an effect together with a tracer provider.
func WithDetailedDBTracing() Option {
	return func(c *Config) {
		c.EnableDetailedDBTracing = true
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Config) {
		c.TracerProvider = tp
	}
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Config) {
		c.MeterProvider = mp
	}
}

// NewConfig applies opts to the defaults and initializes the result.
func NewConfig(opts ...Option) *Config {
	c := &Config{ServiceName: "entityhub"}
	for _, opt := range opts {
		opt(c)
	}
	c.Initialize()
	return c
}

// Initialize builds the tracer and the instruments from the providers. Missing
// providers get no-op implementations.
func (c *Config) Initialize() {
	c.tracer = NewNoopTracer()
	if c.TracerProvider != nil {
		c.tracer = NewTracer(c.TracerProvider, c.ServiceName)
	}
	c.metrics = NewNoopMetrics()
	if c.MeterProvider != nil {
		c.metrics = NewMetrics(c.MeterProvider)
	}
}

// Tracer never returns nil, not even for a nil Config.
func (c *Config) Tracer() *Tracer {
	if c == nil || c.tracer == nil {
		return NewNoopTracer()
	}
	return c.tracer
}

// Metrics never returns nil, not even for a nil Config.
func (c *Config) Metrics() *Metrics {
	if c == nil || c.metrics == nil {
		return NewNoopMetrics()
	}
	return c.metrics
}

// IsEnabled reports whether c has a tracer or a meter provider.
func (c *Config) IsEnabled() bool {
	if c == nil {
		return false
	}
	return c.TracerProvider != nil || c.MeterProvider != nil
}

func (c *Config) ServerTimingEnabled() bool {
	return c != nil && c.EnableServerTiming
}
