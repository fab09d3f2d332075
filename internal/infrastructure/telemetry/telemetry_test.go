package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/usagebill/backend/internal/infrastructure/config"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestSetup_Disabled(t *testing.T) {
	cfg := &config.Config{}
	cfg.Telemetry.ServiceName = "usagebill"

	p, err := Setup(context.Background(), cfg, "test", zap.NewNop())
	require.NoError(t, err)
	assert.False(t, p.Tracer.IsEnabled())
	assert.False(t, p.Logs.IsEnabled())
	assert.False(t, p.Profiler.IsEnabled())
	assert.NotNil(t, p.Meter.Meter("test"))
	assert.NotNil(t, p.Tracer.Tracer("test"))

	assert.NoError(t, p.Shutdown(context.Background()))
	assert.NoError(t, p.Profiler.Stop(), "stop is idempotent")
}

func TestNewProfiler_Validation(t *testing.T) {
	_, err := NewProfiler(ProfilerConfig{Enabled: true, ApplicationName: "usagebill"}, zap.NewNop())
	assert.Error(t, err)
	_, err = NewProfiler(ProfilerConfig{Enabled: true, ServerAddress: "http://pyroscope:4040"}, zap.NewNop())
	assert.Error(t, err)
}

func TestSamplerFor(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), samplerFor(1).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), samplerFor(0).Description())
	assert.Contains(t, samplerFor(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.TelemetryConfig{
		Enabled:           true,
		CollectorEndpoint: "otel:4317",
		SamplingRatio:     0.5,
		ServiceName:       "usagebill",
		Insecure:          true,
	}, "1.2.3")
	assert.Equal(t, "otel:4317", cfg.CollectorEndpoint)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.True(t, cfg.Insecure)
}

// ============================================================================
// Logs bridge
// ============================================================================

func TestBridge_DisabledReturnsSameLogger(t *testing.T) {
	logger := zap.NewNop()
	assert.Same(t, logger, Bridge(logger, &LoggerProvider{}, "usagebill"))
	assert.Same(t, logger, Bridge(logger, nil, "usagebill"))
}

func TestNewZapOTELCore_Disabled(t *testing.T) {
	core := NewZapOTELCore(&LoggerProvider{}, "usagebill", zapcore.InfoLevel)
	assert.False(t, core.Enabled(zapcore.ErrorLevel))
}

func TestLevelFilterCore(t *testing.T) {
	inner, logs := observer.New(zapcore.DebugLevel)
	core := &levelFilterCore{Core: inner, minLevel: zapcore.WarnLevel}
	logger := zap.New(core).With(zap.String("component", "test"))

	logger.Info("dropped")
	logger.Warn("kept")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "kept", entry.Message)
	assert.Equal(t, "test", entry.ContextMap()["component"])
}

// ============================================================================
// DB tracing
// ============================================================================

func TestRegisterDBTracing(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, RegisterDBTracing(db, DBTracingConfig{}, zap.NewNop()), "disabled is a no-op")
	assert.Nil(t, db.Callback().Query().Get("usagebill:slow_query_query"))

	core, logs := observer.New(zapcore.WarnLevel)
	require.NoError(t, RegisterDBTracing(db, DBTracingConfig{
		Enabled:         true,
		SlowQueryThresh: time.Nanosecond,
		DBSystem:        "sqlite",
	}, zap.New(core)))
	assert.NotNil(t, db.Callback().Query().Get("usagebill:slow_query_query"))

	type row struct {
		ID   uint
		Name string
	}
	require.NoError(t, db.AutoMigrate(&row{}))
	require.NoError(t, db.WithContext(context.Background()).Create(&row{Name: "a"}).Error)
	assert.GreaterOrEqual(t, logs.FilterMessage("Slow query").Len(), 1)
}
