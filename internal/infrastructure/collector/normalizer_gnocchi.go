package collector

import (
	"github.com/tidwall/gjson"
	"github.com/usagebill/backend/internal/domain/billing"
)

// gnocchiNormalizer reads measures flattened with their metric and resource:
//
//	{"timestamp": "2024-01-01T00:00:00+00:00", "granularity": 3600, "value": 2.0,
//	 "revision": 3, "recorded_at": "...", "source": "openstack",
//	 "metric": {"id": "...", "name": "volume.size", "unit": "GB"},
//	 "resource": {"id": "...", "type": "volume", "project_id": "...",
//	              "original_resource_id": "...", "display_name": "..."}}
type gnocchiNormalizer struct{}

func (gnocchiNormalizer) Backend() string { return BackendGnocchi }

func (gnocchiNormalizer) Normalize(raw gjson.Result) billing.UsageEvent {
	if !raw.IsObject() {
		return markMalformed(billing.UsageEvent{}, []string{"measure is not an object"})
	}

	resource := raw.Get("resource")
	metric := raw.Get("metric")
	e := billing.UsageEvent{
		TenantID:     resource.Get("project_id").Str,
		ResourceID:   resource.Get("original_resource_id").Str,
		ResourceType: resource.Get("type").Str,
		Metric:       metric.Get("name").Str,
		Unit:         metric.Get("unit").Str,
		Source:       raw.Get("source").Str,
		Revision:     raw.Get("revision").Int(),
		Metadata: stringMap(resource,
			"id", "type", "project_id", "original_resource_id",
			"user_id", "created_by_user_id", "created_by_project_id",
			"started_at", "ended_at", "revision_start", "revision_end"),
	}
	if e.ResourceID == "" {
		e.ResourceID = resource.Get("id").Str
	}
	if e.Source == "" {
		e.Source = BackendGnocchi
	}

	var problems []string
	if ts, err := parseTimestamp(raw.Get("timestamp")); err != nil {
		problems = append(problems, err.Error())
	} else {
		e.SampleTime = ts
		e.RecordedAt = ts
	}
	for _, path := range []string{"recorded_at", "resource.revision_start"} {
		if v := raw.Get(path); v.Exists() {
			if t, err := parseTimestamp(v); err == nil {
				e.RecordedAt = t
				break
			}
		}
	}

	if v, err := parseValue(raw.Get("value")); err != nil {
		problems = append(problems, "value: "+err.Error())
	} else {
		e.Value = v
	}
	return markMalformed(e, problems)
}
