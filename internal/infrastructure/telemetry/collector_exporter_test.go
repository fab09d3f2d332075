package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appbilling "github.com/usagebill/backend/internal/application/billing"
	"github.com/usagebill/backend/internal/domain/billing"
)

func TestCollectorExporter_ObservesCycle(t *testing.T) {
	ctx := context.Background()
	e := NewCollectorExporter()

	start := time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC)
	e.CycleStarted(ctx, "run-1", start)
	e.WindowProcessed(ctx, appbilling.WindowResult{
		TenantID: "tenant-a",
		Status:   appbilling.WindowSucceeded,
		Usage: []billing.UsageEntry{
			{TenantID: "tenant-a", Metric: "instance_hours", Quantity: decimal.RequireFromString("1.5")},
			{TenantID: "tenant-a", Metric: "instance_hours", Quantity: decimal.RequireFromString("0.5")},
			{TenantID: "tenant-a", Metric: "storage", Quantity: decimal.Zero},
		},
	})
	e.WindowProcessed(ctx, appbilling.WindowResult{TenantID: "tenant-b", Status: appbilling.WindowNotReady})
	e.CycleFinished(ctx, &appbilling.RunSummary{StartedAt: start, FinishedAt: start.Add(90 * time.Second)})

	assert.Equal(t, float64(start.Unix()), testutil.ToFloat64(e.lastRunStart))
	assert.Equal(t, float64(start.Add(90*time.Second).Unix()), testutil.ToFloat64(e.lastRunEnd))
	assert.Equal(t, 90.0, testutil.ToFloat64(e.lastRunDuration))
	assert.Equal(t, 2.0, testutil.ToFloat64(e.usageTotal.WithLabelValues("tenant-a", "instance_hours")))
	assert.Equal(t, 1, testutil.CollectAndCount(e.usageTotal), "zero quantities are not exported")
	assert.Equal(t, 1.0, testutil.ToFloat64(e.windowsTotal.WithLabelValues("not_ready")))
}

func TestCollectorExporter_Handler(t *testing.T) {
	e := NewCollectorExporter()
	e.CycleStarted(context.Background(), "run-1", time.Unix(1717200000, 0))

	srv := httptest.NewServer(e.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "usagebill_collector_last_run_start ")
	assert.Contains(t, string(body), "go_goroutines")
}
