package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	appbilling "github.com/usagebill/backend/internal/application/billing"
)

// CollectorExporter publishes collector progress and per-tenant usage on a
// Prometheus registry
type CollectorExporter struct {
	registry        *prometheus.Registry
	lastRunStart    prometheus.Gauge
	lastRunEnd      prometheus.Gauge
	lastRunDuration prometheus.Gauge
	usageTotal      *prometheus.CounterVec
	windowsTotal    *prometheus.CounterVec
}

// NewCollectorExporter creates the exporter with its own registry, which also
// carries the Go runtime and process collectors
func NewCollectorExporter() *CollectorExporter {
	e := &CollectorExporter{
		registry: prometheus.NewRegistry(),
		lastRunStart: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "usagebill_collector_last_run_start",
			Help: "Unix time the last collection run started",
		}),
		lastRunEnd: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "usagebill_collector_last_run_end",
			Help: "Unix time the last collection run finished",
		}),
		lastRunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "usagebill_collector_last_run_duration_seconds",
			Help: "Duration of the last collection run in seconds",
		}),
		usageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usagebill_collector_usage_total",
			Help: "Usage quantity transformed per tenant and metric",
		}, []string{"tenant", "metric"}),
		windowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usagebill_collector_windows_total",
			Help: "Tenant windows processed, by status",
		}, []string{"status"}),
	}
	e.registry.MustRegister(
		e.lastRunStart,
		e.lastRunEnd,
		e.lastRunDuration,
		e.usageTotal,
		e.windowsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return e
}

var _ appbilling.CycleObserver = (*CollectorExporter)(nil)

// Registry exposes the registry for tests and extra collectors
func (e *CollectorExporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the registry in the Prometheus text format
func (e *CollectorExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{Registry: e.registry})
}

// CycleStarted implements appbilling.CycleObserver
func (e *CollectorExporter) CycleStarted(_ context.Context, _ string, at time.Time) {
	e.lastRunStart.Set(float64(at.Unix()))
}

// WindowProcessed implements appbilling.CycleObserver
func (e *CollectorExporter) WindowProcessed(_ context.Context, r appbilling.WindowResult) {
	e.windowsTotal.WithLabelValues(string(r.Status)).Inc()
	for _, entry := range r.Usage {
		qty := entry.Quantity.InexactFloat64()
		if qty <= 0 {
			continue
		}
		e.usageTotal.WithLabelValues(entry.TenantID, entry.Metric).Add(qty)
	}
}

// CycleFinished implements appbilling.CycleObserver
func (e *CollectorExporter) CycleFinished(_ context.Context, s *appbilling.RunSummary) {
	e.lastRunEnd.Set(float64(s.FinishedAt.Unix()))
	e.lastRunDuration.Set(s.Duration().Seconds())
}
