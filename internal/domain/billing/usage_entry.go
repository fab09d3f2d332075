package billing

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// internalPrecision is the scale used for intermediate division
	internalPrecision = 18
	// QuantityScale is the fixed scale of UsageEntry quantities
	QuantityScale = 9
)

// Provenance records how a UsageEntry was derived. RedundantSources are
// source tags whose samples repeated another source's identical sample.
type Provenance struct {
	EventCount       int               `json:"event_count"`
	FirstSample      time.Time         `json:"first_sample"`
	LastSample       time.Time         `json:"last_sample"`
	Duplicates       int               `json:"duplicates"`
	Discarded        []DiscardedSample `json:"discarded,omitempty"`
	Sources          []string          `json:"sources"`
	RedundantSources []string          `json:"redundant_sources,omitempty"`
}

// UsageEntry is the aggregated usage of one resource metric over a window
type UsageEntry struct {
	TenantID     string          `json:"tenant_id"`
	Window       BillingWindow   `json:"window"`
	ResourceID   string          `json:"resource_id"`
	ResourceType string          `json:"resource_type"`
	Metric       string          `json:"metric"`
	ProductCode  string          `json:"product_code"`
	Quantity     decimal.Decimal `json:"quantity"`
	Unit         string          `json:"unit"`
	Aggregation  AggregationFunc `json:"aggregation"`
	Coverage     decimal.Decimal `json:"coverage"`
	Prorated     bool            `json:"prorated"`
	Provenance   Provenance      `json:"provenance"`
}

// SortEntries orders entries canonically by resource, metric and product
func SortEntries(entries []UsageEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].ResourceID != entries[j].ResourceID {
			return entries[i].ResourceID < entries[j].ResourceID
		}
		if entries[i].Metric != entries[j].Metric {
			return entries[i].Metric < entries[j].Metric
		}
		return entries[i].ProductCode < entries[j].ProductCode
	})
}
