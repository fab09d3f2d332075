package billing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	day1        = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	notProrated = false
)

func testPolicyConfig() PolicyConfig {
	return PolicyConfig{
		Granularity:     GranularityDaily,
		DefaultTimezone: "UTC",
		DefaultRegion:   "nz-hlz-1",
		RegionMapping:   map[string]string{"nz-hlz-1": "hlz", "nz-por-1": "por"},
		TaxRate:         decimal.RequireFromString("0.15"),
		MetricRules: []MetricRule{
			{Metric: "network.outgoing.bytes", Kind: MetricKindCounter, Aggregation: AggregationDeltaSum, Unit: "byte"},
			{Metric: "volume.size", Kind: MetricKindGauge, Aggregation: AggregationTimeWeightedAvg, Unit: "gigabyte", SampleInterval: time.Hour},
			{Metric: "instance.vcpus", Kind: MetricKindGauge, Aggregation: AggregationMax, Unit: "vcpu", Proratable: &notProrated},
			{Metric: "memory.usage", Kind: MetricKindGauge, Aggregation: AggregationLast, Unit: "megabyte", SampleInterval: time.Hour},
			{Metric: "image.upload", Kind: MetricKindDiscrete, Aggregation: AggregationCount, Unit: "upload"},
			{Metric: "api.requests", Kind: MetricKindDiscrete, Aggregation: AggregationSum, Unit: "request"},
		},
		MappingRules: []MappingRule{
			{ResourceType: "*", Metric: "network.outgoing.bytes", ProductCode: "n1.egress"},
			{ResourceType: "volume", Metric: "volume.size", ProductCode: "b1.standard"},
			{ResourceType: "snapshot", Metric: "volume.size", ProductCode: "b1.snapshot"},
			{ResourceType: "instance", Metric: "instance.vcpus", ProductCode: "c1.vcpu"},
			{ResourceType: "instance", Metric: "memory.usage", ProductCode: "c1.memory"},
			{ResourceType: "*", Metric: "image.upload", ProductCode: "i1.upload"},
			{ResourceType: "*", Metric: "api.requests", ProductCode: "a1.requests"},
		},
	}
}

func newTestPolicy(t *testing.T, mutate ...func(*PolicyConfig)) *Policy {
	t.Helper()
	cfg := testPolicyConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	p, err := NewPolicy(cfg, day1)
	require.NoError(t, err)
	return p
}

func dailyWindow(t *testing.T) BillingWindow {
	t.Helper()
	w, err := WindowAt(GranularityDaily, "UTC", day1)
	require.NoError(t, err)
	return w
}

func event(resource, resourceType, metric string, value string, at time.Time) UsageEvent {
	return UsageEvent{
		TenantID:     "T1",
		ResourceID:   resource,
		ResourceType: resourceType,
		Metric:       metric,
		Value:        decimal.RequireFromString(value),
		SampleTime:   at,
		Source:       "openstack",
		RecordedAt:   at,
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
