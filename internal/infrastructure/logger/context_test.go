package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	log := zap.NewExample()
	ctx := WithContext(context.Background(), log)
	assert.Same(t, log, FromContext(ctx))
}

func TestContextIDs(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	ctx := WithContext(context.Background(), zap.New(core))
	ctx = WithRunID(ctx, "run-7")
	ctx = WithTenantID(ctx, "T1")
	ctx = WithRequestID(ctx, "req-1")

	assert.Equal(t, "run-7", GetRunID(ctx))
	assert.Equal(t, "T1", GetTenantID(ctx))
	assert.Equal(t, "req-1", GetRequestID(ctx))

	FromContext(ctx).Info("Window transformed")
	logs := recorded.All()
	require.Len(t, logs, 1)
	fields := logs[0].ContextMap()
	assert.Equal(t, "run-7", fields["run_id"])
	assert.Equal(t, "T1", fields["tenant_id"])
	assert.Equal(t, "req-1", fields["request_id"])
}

func TestContextIDs_Missing(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRunID(ctx))
	assert.Empty(t, GetTenantID(ctx))
	assert.Empty(t, GetRequestID(ctx))
}

func TestL_TraceCorrelation(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	ctx := WithContext(context.Background(), zap.New(core))

	L(ctx).Info("no span")

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	L(trace.ContextWithSpanContext(ctx, sc)).Info("with span")

	logs := recorded.All()
	require.Len(t, logs, 2)
	assert.NotContains(t, logs[0].ContextMap(), "trace_id")
	assert.Equal(t, traceID.String(), logs[1].ContextMap()["trace_id"])
	assert.Equal(t, spanID.String(), logs[1].ContextMap()["span_id"])
}
