package collector

import (
	"github.com/tidwall/gjson"
	"github.com/usagebill/backend/internal/domain/billing"
)

// ceilometerNormalizer reads Ceilometer v2 samples:
//
//	{"id": "...", "meter": "instance", "project_id": "...", "resource_id": "...",
//	 "timestamp": "2015-01-01T12:00:00", "recorded_at": "2015-01-01T12:00:00",
//	 "source": "openstack", "type": "gauge", "unit": "instance", "volume": 1.0,
//	 "metadata": {"flavor": "c1.c1r1", ...}}
type ceilometerNormalizer struct{}

func (ceilometerNormalizer) Backend() string { return BackendCeilometer }

func (ceilometerNormalizer) Normalize(raw gjson.Result) billing.UsageEvent {
	if !raw.IsObject() {
		return markMalformed(billing.UsageEvent{}, []string{"sample is not an object"})
	}

	metadata := raw.Get("metadata")
	if !metadata.Exists() {
		metadata = raw.Get("resource_metadata")
	}
	e := billing.UsageEvent{
		TenantID:     raw.Get("project_id").Str,
		ResourceID:   raw.Get("resource_id").Str,
		ResourceType: metadata.Get("resource_type").Str,
		Metric:       raw.Get("meter").Str,
		Unit:         raw.Get("unit").Str,
		Source:       raw.Get("source").Str,
		Metadata:     stringMap(metadata, "resource_type"),
	}
	if e.Metric == "" {
		e.Metric = raw.Get("counter_name").Str
	}

	var problems []string
	if ts, err := parseTimestamp(raw.Get("timestamp")); err != nil {
		problems = append(problems, err.Error())
	} else {
		e.SampleTime = ts
		e.RecordedAt = ts
	}
	if rec := raw.Get("recorded_at"); rec.Exists() {
		if t, err := parseTimestamp(rec); err == nil {
			e.RecordedAt = t
		}
	}

	volume := raw.Get("volume")
	if !volume.Exists() {
		volume = raw.Get("counter_volume")
	}
	if v, err := parseValue(volume); err != nil {
		problems = append(problems, "volume: "+err.Error())
	} else {
		e.Value = v
	}
	return markMalformed(e, problems)
}
