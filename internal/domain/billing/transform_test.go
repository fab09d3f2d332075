package billing

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformEvents_DailyCounter(t *testing.T) {
	window := dailyWindow(t)
	out := TransformEvents(TransformInput{
		TenantID: "T1",
		Window:   window,
		Policy:   newTestPolicy(t),
		Events: []UsageEvent{
			event("i-1", "instance", "network.outgoing.bytes", "180", day1.Add(23*time.Hour+59*time.Minute)),
			event("i-1", "instance", "network.outgoing.bytes", "100", day1),
		},
	})

	require.False(t, out.Skipped)
	require.Len(t, out.Entries, 1)
	entry := out.Entries[0]
	assert.Equal(t, "80.000000000", entry.Quantity.StringFixed(QuantityScale))
	assert.Equal(t, "n1.egress", entry.ProductCode)
	assert.Equal(t, "byte", entry.Unit)
	assert.Equal(t, AggregationDeltaSum, entry.Aggregation)
	assert.Equal(t, 2, entry.Provenance.EventCount)
	assert.Equal(t, day1, entry.Provenance.FirstSample)
	assert.Equal(t, []string{"openstack"}, entry.Provenance.Sources)
	assert.Empty(t, out.Issues)
	assert.Equal(t, ContentHash("T1", window, out.Entries), out.ContentHash)
}

func TestTransformEvents_IgnoredTenant(t *testing.T) {
	t.Run("ignore list", func(t *testing.T) {
		policy := newTestPolicy(t, func(c *PolicyConfig) { c.IgnoreTenants = []string{"T1"} })
		out := TransformEvents(TransformInput{
			TenantID: "T1",
			Window:   dailyWindow(t),
			Policy:   policy,
			Events:   []UsageEvent{event("i-1", "instance", "network.outgoing.bytes", "1", day1)},
		})
		assert.True(t, out.Skipped)
		assert.Empty(t, out.Entries)
		assert.Empty(t, out.ContentHash)
	})

	t.Run("not in include list", func(t *testing.T) {
		policy := newTestPolicy(t, func(c *PolicyConfig) { c.IncludeTenants = []string{"T2"} })
		out := TransformEvents(TransformInput{TenantID: "T1", Window: dailyWindow(t), Policy: policy})
		assert.True(t, out.Skipped)
	})
}

func TestTransformEvents_DropsInvalidEvents(t *testing.T) {
	policy := newTestPolicy(t, func(c *PolicyConfig) { c.TrustSources = []string{"^openstack$"} })

	outside := event("vol-1", "volume", "volume.size", "1", day1.Add(25*time.Hour))
	foreign := event("vol-1", "volume", "volume.size", "1", day1.Add(time.Hour))
	foreign.TenantID = "T2"
	missing := event("vol-1", "volume", "", "1", day1.Add(time.Hour))
	untrusted := event("vol-1", "volume", "volume.size", "1", day1.Add(2*time.Hour))
	untrusted.Source = "spoofed"
	wrongUnit := event("i-1", "instance", "network.outgoing.bytes", "1", day1)
	wrongUnit.Unit = "kilobyte"
	malformed := event("vol-2", "volume", "volume.size", "0", day1.Add(3*time.Hour))
	malformed.Metadata = map[string]string{MalformedKey: "volume: not a number"}

	out := TransformEvents(TransformInput{
		TenantID: "T1",
		Window:   dailyWindow(t),
		Policy:   policy,
		Events:   []UsageEvent{outside, foreign, missing, untrusted, wrongUnit, malformed},
	})

	assert.Equal(t, 6, out.DroppedEvents)
	assert.Empty(t, out.Entries)
	reasons := map[string]int{}
	for _, issue := range out.Issues {
		assert.Equal(t, KindValidation, issue.Kind)
		reasons[issue.Reason] += issue.Count
	}
	assert.Equal(t, map[string]int{
		ReasonOutsideWindow:   1,
		ReasonTenantMismatch:  1,
		ReasonMissingField:    1,
		ReasonUntrustedSource: 1,
		ReasonUnitMismatch:    1,
		ReasonMalformedSample: 1,
	}, reasons)
}

func TestTransformEvents_ConfigurationGaps(t *testing.T) {
	policy := newTestPolicy(t, func(c *PolicyConfig) { c.IgnoreProducts = []string{"c1.vcpu"} })

	out := TransformEvents(TransformInput{
		TenantID: "T1",
		Window:   dailyWindow(t),
		Policy:   policy,
		Events: []UsageEvent{
			event("x-1", "thing", "unknown.metric", "1", day1),
			event("bk-1", "backup", "volume.size", "1", day1),
			event("i-1", "instance", "instance.vcpus", "2", day1),
			event("vol-1", "volume", "volume.size", "10", day1),
		},
	})

	require.Len(t, out.Entries, 1, "only the mapped volume survives")
	assert.Equal(t, "vol-1", out.Entries[0].ResourceID)

	require.Len(t, out.Issues, 2)
	assert.Equal(t, KindConfigurationGap, out.Issues[0].Kind)
	assert.Equal(t, ReasonNoMetricRule, out.Issues[0].Reason)
	assert.Equal(t, ReasonNoProductMapping, out.Issues[1].Reason)
	assert.Equal(t, "bk-1", out.Issues[1].ResourceID)

	require.Len(t, out.Excluded, 1)
	assert.Equal(t, "c1.vcpu", out.Excluded[0].ProductCode)
	assert.Equal(t, ReasonIgnoredProduct, out.Excluded[0].Reason)
}

func TestTransformEvents_TenantProductIgnore(t *testing.T) {
	policy := newTestPolicy(t, func(c *PolicyConfig) {
		c.Tenants = map[string]TenantSettings{"T1": {IgnoreProducts: []string{"b1.standard"}}}
	})

	out := TransformEvents(TransformInput{
		TenantID: "T1",
		Window:   dailyWindow(t),
		Policy:   policy,
		Events:   []UsageEvent{event("vol-1", "volume", "volume.size", "10", day1)},
	})

	assert.Empty(t, out.Entries)
	assert.Len(t, out.Excluded, 1)
}

func TestTransformEvents_SortedAndStable(t *testing.T) {
	out := TransformEvents(TransformInput{
		TenantID: "T1",
		Window:   dailyWindow(t),
		Policy:   newTestPolicy(t),
		Events: []UsageEvent{
			event("vol-2", "volume", "volume.size", "10", day1),
			event("i-1", "instance", "memory.usage", "512", day1),
			event("i-1", "instance", "instance.vcpus", "2", day1),
			event("vol-1", "volume", "volume.size", "10", day1),
		},
	})

	require.Len(t, out.Entries, 4)
	var keys []string
	for _, e := range out.Entries {
		keys = append(keys, e.ResourceID+"/"+e.Metric)
	}
	assert.Equal(t, []string{"i-1/instance.vcpus", "i-1/memory.usage", "vol-1/volume.size", "vol-2/volume.size"}, keys)
}

func TestTransformEvents_DeterministicUnderReordering(t *testing.T) {
	faker := gofakeit.New(42)
	policy := newTestPolicy(t)
	window := dailyWindow(t)

	metrics := []struct{ resourceType, metric string }{
		{"instance", "network.outgoing.bytes"},
		{"volume", "volume.size"},
		{"instance", "instance.vcpus"},
		{"instance", "memory.usage"},
		{"image", "image.upload"},
	}

	var events []UsageEvent
	for i := 0; i < 400; i++ {
		m := metrics[faker.IntRange(0, len(metrics)-1)]
		at := day1.Add(time.Duration(faker.IntRange(0, 86399)) * time.Second)
		e := UsageEvent{
			TenantID:     "T1",
			ResourceID:   fmt.Sprintf("res-%d", faker.IntRange(1, 6)),
			ResourceType: m.resourceType,
			Metric:       m.metric,
			Value:        decimal.NewFromInt(int64(faker.IntRange(0, 5000))),
			SampleTime:   at,
			Source:       []string{"ceilometer", "gnocchi"}[faker.IntRange(0, 1)],
			Revision:     int64(faker.IntRange(0, 2)),
			RecordedAt:   at.Add(time.Duration(faker.IntRange(0, 60)) * time.Second),
		}
		events = append(events, e)
		if faker.IntRange(0, 9) == 0 {
			events = append(events, e)
		}
		if faker.IntRange(0, 9) == 0 {
			conflict := e
			conflict.Value = e.Value.Add(decimal.NewFromInt(1))
			conflict.Revision = int64(faker.IntRange(0, 2))
			events = append(events, conflict)
		}
	}

	baseline := TransformEvents(TransformInput{TenantID: "T1", Window: window, Policy: policy, Events: events})
	baselineJSON, err := json.Marshal(baseline.Entries)
	require.NoError(t, err)
	require.NotEmpty(t, baseline.Entries)

	for i := 0; i < 10; i++ {
		shuffled := make([]UsageEvent, len(events))
		copy(shuffled, events)
		faker.ShuffleAnySlice(shuffled)

		out := TransformEvents(TransformInput{TenantID: "T1", Window: window, Policy: policy, Events: shuffled})
		outJSON, err := json.Marshal(out.Entries)
		require.NoError(t, err)

		assert.Equal(t, baseline.ContentHash, out.ContentHash)
		assert.Equal(t, string(baselineJSON), string(outJSON))
		assert.Equal(t, baseline.Issues, out.Issues)
	}
}

func TestTransformEvents_DuplicatesDoNotChangeQuantities(t *testing.T) {
	policy := newTestPolicy(t)
	window := dailyWindow(t)
	events := hourlySamples("vol-1", "volume", "volume.size", "10", 0, 24)

	single := TransformEvents(TransformInput{TenantID: "T1", Window: window, Policy: policy, Events: events})
	doubled := TransformEvents(TransformInput{TenantID: "T1", Window: window, Policy: policy, Events: append(append([]UsageEvent{}, events...), events...)})

	assert.Equal(t, single.ContentHash, doubled.ContentHash)
	assert.Equal(t, 24, doubled.Entries[0].Provenance.Duplicates)
	assert.Equal(t, 0, single.Entries[0].Provenance.Duplicates)
}

func TestTransformEvents_RedundantSourceTagCountsOnce(t *testing.T) {
	policy := newTestPolicy(t)
	window := dailyWindow(t)
	at := day1.Add(3 * time.Hour)

	for _, tc := range []struct {
		metric, value, want string
	}{
		{"image.upload", "1", "1.000000000"},
		{"api.requests", "5", "5.000000000"},
	} {
		t.Run(tc.metric, func(t *testing.T) {
			e := event("r-1", "image", tc.metric, tc.value, at)
			tagged := e
			tagged.Source = "ceilometer"

			single := TransformEvents(TransformInput{TenantID: "T1", Window: window, Policy: policy, Events: []UsageEvent{e}})
			both := TransformEvents(TransformInput{TenantID: "T1", Window: window, Policy: policy, Events: []UsageEvent{e, tagged}})

			require.Len(t, both.Entries, 1)
			assert.Equal(t, tc.want, both.Entries[0].Quantity.StringFixed(QuantityScale))
			assert.Equal(t, single.ContentHash, both.ContentHash)
			assert.Equal(t, 1, both.Entries[0].Provenance.EventCount)
			assert.Equal(t, []string{"openstack"}, both.Entries[0].Provenance.RedundantSources)
		})
	}
}
