package billing

import (
	"sort"
)

// TransformInput is the raw material of one tenant window
type TransformInput struct {
	TenantID string
	Window   BillingWindow
	Events   []UsageEvent
	Policy   *Policy
}

// TransformOutput is the deterministic result of transforming a window
type TransformOutput struct {
	Entries     []UsageEntry
	ContentHash string
	Issues      []Issue
	// Excluded lists series left out by product ignore policy
	Excluded      []SkippedEntry
	DroppedEvents int
	// Skipped is set when the tenant is ignored and nothing was computed
	Skipped bool
}

type issueKey struct {
	kind     ErrorKind
	reason   string
	resource string
	metric   string
}

type issueSet struct {
	order  []issueKey
	issues map[issueKey]*Issue
}

func (s *issueSet) add(kind ErrorKind, reason, resource, metric, product, detail string) {
	if s.issues == nil {
		s.issues = make(map[issueKey]*Issue)
	}
	k := issueKey{kind: kind, reason: reason, resource: resource, metric: metric}
	if existing, ok := s.issues[k]; ok {
		existing.Count++
		return
	}
	s.order = append(s.order, k)
	s.issues[k] = &Issue{
		Kind: kind, Reason: reason, ResourceID: resource, Metric: metric,
		ProductCode: product, Detail: detail, Count: 1,
	}
}

func (s *issueSet) list() []Issue {
	out := make([]Issue, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, *s.issues[k])
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		if a.ResourceID != b.ResourceID {
			return a.ResourceID < b.ResourceID
		}
		return a.Metric < b.Metric
	})
	return out
}

// TransformEvents validates, deduplicates and aggregates a window's events
// into usage entries. It has no side effects and its output depends only on
// the set of input events, never on their order.
func TransformEvents(in TransformInput) TransformOutput {
	if in.Policy.IsTenantIgnored(in.TenantID) {
		return TransformOutput{Skipped: true, Entries: []UsageEntry{}}
	}

	var issues issueSet
	out := TransformOutput{Entries: []UsageEntry{}}

	valid := make([]UsageEvent, 0, len(in.Events))
	for _, e := range in.Events {
		reason := e.validate(in.TenantID, in.Window)
		if reason == "" && !in.Policy.IsTrustedSource(e.Source) {
			reason = ReasonUntrustedSource
		}
		if reason == "" {
			if rule, ok := in.Policy.Metrics().Rule(e.Metric); ok && rule.Unit != "" && e.Unit != "" && e.Unit != rule.Unit {
				reason = ReasonUnitMismatch
			}
		}
		if reason != "" {
			out.DroppedEvents++
			issues.add(KindValidation, reason, e.ResourceID, e.Metric, "", "")
			continue
		}
		valid = append(valid, e)
	}

	dedup := Deduplicate(valid)
	for _, series := range groupSeries(dedup.Events) {
		key := series[0].SeriesKey()
		rules := in.Policy.Metrics().RulesFor(key.Metric)
		if len(rules) == 0 {
			issues.add(KindConfigurationGap, ReasonNoMetricRule, key.ResourceID, key.Metric, "", "")
			continue
		}
		for _, rule := range rules {
			entries, ok := seriesEntries(in, rule, series, &issues)
			if !ok {
				continue
			}
			for _, entry := range entries {
				if in.Policy.Mapping().IsIgnored(in.TenantID, entry.ProductCode) {
					out.Excluded = append(out.Excluded, SkippedEntry{
						ResourceID: key.ResourceID, Metric: entry.Metric, ProductCode: entry.ProductCode,
						Reason: ReasonIgnoredProduct,
					})
					continue
				}
				entry.Provenance.Duplicates = dedup.Duplicates[key]
				entry.Provenance.Discarded = dedup.Discarded[key]
				entry.Provenance.RedundantSources = dedup.Redundant[key]
				out.Entries = append(out.Entries, entry)
			}
		}
	}

	SortEntries(out.Entries)
	out.Issues = issues.list()
	out.ContentHash = ContentHash(in.TenantID, in.Window, out.Entries)
	return out
}

// seriesEntries applies one rule to a series. ok is false when the series
// has no product mapping for the rule.
func seriesEntries(in TransformInput, rule MetricRule, series []UsageEvent, issues *issueSet) ([]UsageEntry, bool) {
	first, last := series[0], series[len(series)-1]
	resourceID := first.ResourceID
	resourceType := seriesResourceType(series)
	if rule.ResourceType != "" && resourceType == "" {
		resourceType = rule.ResourceType
	}
	target, ok := in.Policy.Mapping().Target(resourceType, rule.Metric)
	if !ok {
		issues.add(KindConfigurationGap, ReasonNoProductMapping, resourceID, rule.Metric, "", resourceType)
		return nil, false
	}

	unit := rule.Unit
	if unit == "" {
		unit = last.Unit
	}
	entry := func(product string, agg aggregateResult) UsageEntry {
		return UsageEntry{
			TenantID:     in.TenantID,
			Window:       in.Window,
			ResourceID:   resourceID,
			ResourceType: resourceType,
			Metric:       rule.Metric,
			ProductCode:  product,
			Quantity:     agg.quantity.RoundBank(QuantityScale),
			Unit:         unit,
			Aggregation:  rule.Aggregation,
			Coverage:     agg.coverage.RoundBank(QuantityScale),
			Prorated:     agg.prorated,
			Provenance: Provenance{
				EventCount:  len(series),
				FirstSample: first.SampleTime.UTC(),
				LastSample:  last.SampleTime.UTC(),
				Sources:     seriesSources(series),
			},
		}
	}

	if rule.Aggregation == AggregationUptime {
		shares := uptimeShares(rule, target, in.Window, series)
		entries := make([]UsageEntry, 0, len(shares))
		for _, s := range shares {
			entries = append(entries, entry(target.Product(s.key), aggregateResult{quantity: s.quantity, coverage: decimalOne}))
		}
		return entries, true
	}
	if rule.Aggregation == AggregationFromImage {
		if _, booted := fromImage(rule, in.Window, series); !booted {
			return nil, true
		}
	}

	product := target.Code
	if target.Keyed() {
		value := seriesMetadata(series, target.From)
		if value == "" {
			issues.add(KindConfigurationGap, ReasonNoProductMapping, resourceID, rule.Metric, "", "metadata."+target.From)
			return nil, false
		}
		product = target.Product(value)
	}
	return []UsageEntry{entry(product, aggregate(rule, in.Window, series))}, true
}

// seriesMetadata returns the latest non-empty value of a metadata key
func seriesMetadata(series []UsageEvent, key string) string {
	for i := len(series) - 1; i >= 0; i-- {
		if v := series[i].Metadata[key]; v != "" {
			return v
		}
	}
	return ""
}

// groupSeries splits sorted events into runs of one (resource, metric)
func groupSeries(events []UsageEvent) [][]UsageEvent {
	var groups [][]UsageEvent
	start := 0
	for i := 1; i <= len(events); i++ {
		if i == len(events) || events[i].SeriesKey() != events[start].SeriesKey() {
			groups = append(groups, events[start:i])
			start = i
		}
	}
	return groups
}

// seriesResourceType returns the resource type of the latest sample that has one
func seriesResourceType(series []UsageEvent) string {
	for i := len(series) - 1; i >= 0; i-- {
		if series[i].ResourceType != "" {
			return series[i].ResourceType
		}
	}
	return ""
}

func seriesSources(series []UsageEvent) []string {
	seen := make(map[string]struct{})
	var sources []string
	for _, e := range series {
		if _, ok := seen[e.Source]; ok {
			continue
		}
		seen[e.Source] = struct{}{}
		sources = append(sources, e.Source)
	}
	sort.Strings(sources)
	return sources
}
