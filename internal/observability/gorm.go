package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const (
	gormSpanKey        = "entityhub:gorm:span"
	gormStartTimeKey   = "entityhub:gorm:start"
	gormTimingStartKey = "entityhub:gorm:timing_start"
	gormTracingName    = "entityhub_tracing"
	gormTimingName     = "entityhub_server_timing"
)

type registerFunc func(name string, fn func(*gorm.DB)) error

// gormStage is one gorm processor with the statement kind it executes.
type gormStage struct {
	name      string
	operation string
	before    registerFunc
	after     registerFunc
}

func gormStages(db *gorm.DB) []gormStage {
	cb := db.Callback()
	return []gormStage{
		{"query", "SELECT", cb.Query().Before("gorm:query").Register, cb.Query().After("gorm:query").Register},
		{"create", "INSERT", cb.Create().Before("gorm:create").Register, cb.Create().After("gorm:create").Register},
		{"update", "UPDATE", cb.Update().Before("gorm:update").Register, cb.Update().After("gorm:update").Register},
		{"delete", "DELETE", cb.Delete().Before("gorm:delete").Register, cb.Delete().After("gorm:delete").Register},
		{"row", "ROW", cb.Row().Before("gorm:row").Register, cb.Row().After("gorm:row").Register},
		{"raw", "RAW", cb.Raw().Before("gorm:raw").Register, cb.Raw().After("gorm:raw").Register},
	}
}

// RegisterGORMCallbacks registers callbacks that trace every database
// statement. It does nothing unless tracing and detailed DB tracing are enabled.
func RegisterGORMCallbacks(db *gorm.DB, cfg *Config) error {
	if cfg == nil || cfg.TracerProvider == nil || !cfg.EnableDetailedDBTracing {
		return nil
	}
	tracer := cfg.Tracer()
	metrics := cfg.Metrics()

	for _, stage := range gormStages(db) {
		spanName := "db." + stage.name
		operation := stage.operation
		if err := stage.before(gormTracingName+":before_"+stage.name, func(db *gorm.DB) {
			startSpan(db, tracer, spanName)
		}); err != nil {
			return err
		}
		if err := stage.after(gormTracingName+":after_"+stage.name, func(db *gorm.DB) {
			endSpan(db, tracer, metrics, operation)
		}); err != nil {
			return err
		}
	}
	return nil
}

// RegisterServerTimingCallbacks registers callbacks that add the duration of
// every statement to the DBTimeAccumulator of the statement's context.
func RegisterServerTimingCallbacks(db *gorm.DB) error {
	for _, stage := range gormStages(db) {
		if err := stage.before(gormTimingName+":before_"+stage.name, beforeTiming); err != nil {
			return err
		}
		if err := stage.after(gormTimingName+":after_"+stage.name, afterTiming); err != nil {
			return err
		}
	}
	return nil
}

func beforeTiming(db *gorm.DB) {
	db.InstanceSet(gormTimingStartKey, time.Now())
}

func afterTiming(db *gorm.DB) {
	start, ok := instanceTime(db, gormTimingStartKey)
	if !ok {
		return
	}
	if db.Statement != nil && db.Statement.Context != nil {
		AddDBTime(db.Statement.Context, time.Since(start))
	}
}

func instanceTime(db *gorm.DB, key string) (time.Time, bool) {
	v, ok := db.InstanceGet(key)
	if !ok {
		return time.Time{}, false
	}
	t, ok := v.(time.Time)
	return t, ok
}

func startSpan(db *gorm.DB, tracer *Tracer, spanName string) {
	ctx := db.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracer.StartSpan(ctx, spanName,
		attribute.String("db.system", db.Dialector.Name()),
	)

	db.Statement.Context = ctx
	db.InstanceSet(gormSpanKey, span)
	db.InstanceSet(gormStartTimeKey, time.Now())
}

func endSpan(db *gorm.DB, tracer *Tracer, metrics *Metrics, operation string) {
	v, ok := db.InstanceGet(gormSpanKey)
	if !ok {
		return
	}
	span, ok := v.(trace.Span)
	if !ok {
		return
	}
	defer span.End()

	if db.Statement != nil {
		if table := db.Statement.Table; table != "" {
			span.SetAttributes(attribute.String("db.sql.table", table))
		}
		span.SetAttributes(attribute.Int64("db.rows_affected", db.RowsAffected))
	}
	tracer.RecordError(span, db.Error)

	if start, ok := instanceTime(db, gormStartTimeKey); ok {
		metrics.RecordDBQuery(db.Statement.Context, operation, time.Since(start))
	}
}
