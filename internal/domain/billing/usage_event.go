package billing

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// UsageEvent is an immutable, normalized usage sample.
// Revision and RecordedAt are the source-reported write order of the sample
// and only matter when two samples share a dedup key.
type UsageEvent struct {
	TenantID     string
	ResourceID   string
	ResourceType string
	Metric       string
	Value        decimal.Decimal
	Unit         string
	SampleTime   time.Time
	Source       string
	Revision     int64
	RecordedAt   time.Time
	Metadata     map[string]string
}

// MalformedKey is set in Metadata by normalizers on samples they could not
// fully decode. The transformer drops such events as validation issues.
const MalformedKey = "usagebill.malformed"

// DedupKey identifies a sample for deduplication
type DedupKey struct {
	ResourceID string
	Metric     string
	SampleTime int64 // unix nanoseconds
	Source     string
}

// DedupKey returns the deduplication key of the event
func (e UsageEvent) DedupKey() DedupKey {
	return DedupKey{
		ResourceID: e.ResourceID,
		Metric:     e.Metric,
		SampleTime: e.SampleTime.UnixNano(),
		Source:     e.Source,
	}
}

// SeriesKey identifies the (resource, metric) series an event belongs to
type SeriesKey struct {
	ResourceID string
	Metric     string
}

// SeriesKey returns the series the event contributes to
func (e UsageEvent) SeriesKey() SeriesKey {
	return SeriesKey{ResourceID: e.ResourceID, Metric: e.Metric}
}

// validate checks the event against the tenant and window it is being
// transformed for. It returns an issue reason or "".
func (e UsageEvent) validate(tenantID string, window BillingWindow) string {
	switch {
	case e.Metadata[MalformedKey] != "":
		return ReasonMalformedSample
	case e.ResourceID == "" || e.Metric == "" || e.SampleTime.IsZero():
		return ReasonMissingField
	case e.TenantID != tenantID:
		return ReasonTenantMismatch
	case !window.Contains(e.SampleTime):
		return ReasonOutsideWindow
	}
	return ""
}

// compareEvents orders events sharing a dedup key. It returns a positive
// value when a supersedes b: higher revision, then later recorded time, then
// larger value. Remaining ties fall back to descriptive fields so the order is
// total and independent of arrival order.
func compareEvents(a, b UsageEvent) int {
	switch {
	case a.Revision != b.Revision:
		if a.Revision > b.Revision {
			return 1
		}
		return -1
	case !a.RecordedAt.Equal(b.RecordedAt):
		if a.RecordedAt.After(b.RecordedAt) {
			return 1
		}
		return -1
	}
	if c := a.Value.Cmp(b.Value); c != 0 {
		return c
	}
	if c := strings.Compare(a.ResourceType, b.ResourceType); c != 0 {
		return c
	}
	if c := strings.Compare(a.Unit, b.Unit); c != 0 {
		return c
	}
	return strings.Compare(canonicalMetadata(a.Metadata), canonicalMetadata(b.Metadata))
}

func canonicalMetadata(md map[string]string) string {
	if len(md) == 0 {
		return ""
	}
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(md[k])
		b.WriteByte(';')
	}
	return b.String()
}
