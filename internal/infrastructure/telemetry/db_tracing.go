package telemetry

import (
	"context"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig holds configuration for database tracing.
type DBTracingConfig struct {
	Enabled         bool
	SlowQueryThresh time.Duration
	DBSystem        string
}

// DefaultDBTracingConfig returns default configuration for database tracing.
func DefaultDBTracingConfig() DBTracingConfig {
	return DBTracingConfig{
		SlowQueryThresh: 200 * time.Millisecond,
		DBSystem:        "postgresql",
	}
}

type queryStartKey struct{}

// RegisterDBTracing installs otelgorm on db with query variables stripped and
// flags statements slower than the threshold on their span and in the log.
func RegisterDBTracing(db *gorm.DB, cfg DBTracingConfig, logger *zap.Logger) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.SlowQueryThresh <= 0 {
		cfg.SlowQueryThresh = DefaultDBTracingConfig().SlowQueryThresh
	}
	plugin := otelgorm.NewPlugin(otelgorm.WithDBName(cfg.DBSystem), otelgorm.WithoutQueryVariables())
	if err := db.Use(plugin); err != nil {
		return err
	}

	before := func(tx *gorm.DB) {
		if tx.Statement.Context != nil {
			tx.Statement.Context = context.WithValue(tx.Statement.Context, queryStartKey{}, time.Now())
		}
	}
	after := func(tx *gorm.DB) {
		if tx.Statement.Context == nil {
			return
		}
		start, ok := tx.Statement.Context.Value(queryStartKey{}).(time.Time)
		if !ok {
			return
		}
		elapsed := time.Since(start)
		if elapsed < cfg.SlowQueryThresh {
			return
		}
		span := trace.SpanFromContext(tx.Statement.Context)
		span.SetAttributes(
			attribute.Bool("db.slow_query", true),
			attribute.Int64("db.duration_ms", elapsed.Milliseconds()),
		)
		logger.Warn("Slow query",
			zap.String("table", tx.Statement.Table),
			zap.Duration("duration", elapsed),
			zap.Int64("rows", tx.RowsAffected))
	}

	cb := db.Callback()
	steps := []func() error{
		func() error { return cb.Create().Before("gorm:create").Register("usagebill:timing_before_create", before) },
		func() error { return cb.Query().Before("gorm:query").Register("usagebill:timing_before_query", before) },
		func() error { return cb.Update().Before("gorm:update").Register("usagebill:timing_before_update", before) },
		func() error { return cb.Delete().Before("gorm:delete").Register("usagebill:timing_before_delete", before) },
		func() error { return cb.Row().Before("gorm:row").Register("usagebill:timing_before_row", before) },
		func() error { return cb.Raw().Before("gorm:raw").Register("usagebill:timing_before_raw", before) },
		func() error { return cb.Create().After("gorm:create").Register("usagebill:slow_query_create", after) },
		func() error { return cb.Query().After("gorm:query").Register("usagebill:slow_query_query", after) },
		func() error { return cb.Update().After("gorm:update").Register("usagebill:slow_query_update", after) },
		func() error { return cb.Delete().After("gorm:delete").Register("usagebill:slow_query_delete", after) },
		func() error { return cb.Row().After("gorm:row").Register("usagebill:slow_query_row", after) },
		func() error { return cb.Raw().After("gorm:raw").Register("usagebill:slow_query_raw", after) },
	}
	for _, register := range steps {
		if err := register(); err != nil {
			return err
		}
	}

	logger.Info("Database tracing enabled",
		zap.Duration("slow_query_threshold", cfg.SlowQueryThresh),
		zap.String("db_system", cfg.DBSystem))
	return nil
}
