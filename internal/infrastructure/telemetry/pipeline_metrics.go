package telemetry

import (
	"context"
	"fmt"
	"time"

	appbilling "github.com/usagebill/backend/internal/application/billing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Attribute keys for pipeline metrics
var (
	AttrStatus    = attribute.Key("status")
	AttrStage     = attribute.Key("stage")
	AttrErrorKind = attribute.Key("error_kind")
	AttrRunKind   = attribute.Key("run_kind")
)

// PipelineMetrics records cycle and window outcomes as OpenTelemetry
// instruments. It is registered on the pipeline as a cycle observer.
type PipelineMetrics struct {
	windows        metric.Int64Counter
	entries        metric.Int64Counter
	droppedEvents  metric.Int64Counter
	windowDuration metric.Float64Histogram
	cycleDuration  metric.Float64Histogram
	cycles         metric.Int64Counter
}

// NewPipelineMetrics creates the instruments on meter
func NewPipelineMetrics(meter metric.Meter) (*PipelineMetrics, error) {
	if meter == nil {
		return nil, fmt.Errorf("telemetry: meter is nil")
	}
	m := &PipelineMetrics{}
	var err error
	if m.windows, err = meter.Int64Counter("usagebill.pipeline.windows",
		metric.WithDescription("Tenant windows processed, by status"),
		metric.WithUnit("{window}")); err != nil {
		return nil, err
	}
	if m.entries, err = meter.Int64Counter("usagebill.pipeline.entries",
		metric.WithDescription("Usage entries produced by the transformer"),
		metric.WithUnit("{entry}")); err != nil {
		return nil, err
	}
	if m.droppedEvents, err = meter.Int64Counter("usagebill.pipeline.dropped_events",
		metric.WithDescription("Events discarded during normalization"),
		metric.WithUnit("{event}")); err != nil {
		return nil, err
	}
	if m.windowDuration, err = meter.Float64Histogram("usagebill.pipeline.window.duration",
		metric.WithDescription("Time spent on one tenant window"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60)); err != nil {
		return nil, err
	}
	if m.cycleDuration, err = meter.Float64Histogram("usagebill.pipeline.cycle.duration",
		metric.WithDescription("Time spent on one pipeline run"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 15, 30, 60, 120, 300, 600, 1800)); err != nil {
		return nil, err
	}
	if m.cycles, err = meter.Int64Counter("usagebill.pipeline.cycles",
		metric.WithDescription("Pipeline runs, by kind and whether any window failed"),
		metric.WithUnit("{run}")); err != nil {
		return nil, err
	}
	return m, nil
}

var _ appbilling.CycleObserver = (*PipelineMetrics)(nil)

// CycleStarted implements appbilling.CycleObserver
func (m *PipelineMetrics) CycleStarted(context.Context, string, time.Time) {}

// WindowProcessed implements appbilling.CycleObserver
func (m *PipelineMetrics) WindowProcessed(ctx context.Context, r appbilling.WindowResult) {
	attrs := []attribute.KeyValue{AttrStatus.String(string(r.Status))}
	if r.Stage != "" {
		attrs = append(attrs, AttrStage.String(r.Stage))
	}
	if r.ErrorKind != "" {
		attrs = append(attrs, AttrErrorKind.String(string(r.ErrorKind)))
	}
	set := metric.WithAttributes(attrs...)

	m.windows.Add(ctx, 1, set)
	m.windowDuration.Record(ctx, r.Duration.Seconds(), set)
	if r.Entries > 0 {
		m.entries.Add(ctx, int64(r.Entries))
	}
	if r.Dropped > 0 {
		m.droppedEvents.Add(ctx, int64(r.Dropped))
	}
}

// CycleFinished implements appbilling.CycleObserver
func (m *PipelineMetrics) CycleFinished(ctx context.Context, s *appbilling.RunSummary) {
	status := "ok"
	if s.HasFailures() {
		status = "failed"
	}
	set := metric.WithAttributes(AttrRunKind.String(s.Kind), AttrStatus.String(status))
	m.cycles.Add(ctx, 1, set)
	m.cycleDuration.Record(ctx, s.Duration().Seconds(), set)
}
