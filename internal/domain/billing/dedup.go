package billing

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DiscardedSample is a conflicting sample that lost last-write-wins resolution
type DiscardedSample struct {
	Source      string          `json:"source"`
	SampleTime  time.Time       `json:"sample_time"`
	Value       decimal.Decimal `json:"value"`
	Revision    int64           `json:"revision"`
	RecordedAt  time.Time       `json:"recorded_at"`
	WinnerValue decimal.Decimal `json:"winner_value"`
}

// DedupResult is the outcome of deduplicating an event set
type DedupResult struct {
	// Events holds one winning event per dedup key, ordered by series, then
	// sample time, then source.
	Events []UsageEvent
	// Duplicates counts exact duplicates dropped per series
	Duplicates map[SeriesKey]int
	// Discarded holds conflicting losers per series
	Discarded map[SeriesKey][]DiscardedSample
	// Redundant lists, per series, the source tags whose samples repeated
	// another source's sample at the same instant with the same value.
	Redundant map[SeriesKey][]string
}

// Deduplicate collapses events sharing a dedup key. Same key and same value
// is an exact duplicate; same key with a different value is a conflict that
// the superseding event wins. Winners that then differ only in their source
// tag are collapsed into one sample. The result does not depend on input
// order.
func Deduplicate(events []UsageEvent) DedupResult {
	groups := make(map[DedupKey][]UsageEvent, len(events))
	for _, e := range events {
		k := e.DedupKey()
		groups[k] = append(groups[k], e)
	}

	result := DedupResult{
		Events:     make([]UsageEvent, 0, len(groups)),
		Duplicates: make(map[SeriesKey]int),
		Discarded:  make(map[SeriesKey][]DiscardedSample),
		Redundant:  make(map[SeriesKey][]string),
	}

	for _, group := range groups {
		sort.SliceStable(group, func(i, j int) bool {
			return compareEvents(group[i], group[j]) > 0
		})
		winner := group[0]
		series := winner.SeriesKey()
		seen := []decimal.Decimal{winner.Value}
		for _, e := range group[1:] {
			if containsValue(seen, e.Value) {
				result.Duplicates[series]++
				continue
			}
			seen = append(seen, e.Value)
			result.Discarded[series] = append(result.Discarded[series], DiscardedSample{
				Source:      e.Source,
				SampleTime:  e.SampleTime.UTC(),
				Value:       e.Value,
				Revision:    e.Revision,
				RecordedAt:  e.RecordedAt.UTC(),
				WinnerValue: winner.Value,
			})
		}
		result.Events = append(result.Events, winner)
	}

	result.Events = collapseRedundant(result.Events, result.Redundant)
	sortEvents(result.Events)
	for series, discarded := range result.Discarded {
		sort.SliceStable(discarded, func(i, j int) bool {
			a, b := discarded[i], discarded[j]
			if !a.SampleTime.Equal(b.SampleTime) {
				return a.SampleTime.Before(b.SampleTime)
			}
			if a.Source != b.Source {
				return a.Source < b.Source
			}
			return a.Value.LessThan(b.Value)
		})
		result.Discarded[series] = discarded
	}
	return result
}

// collapseRedundant keeps one sample per (series, sample time, value). The
// superseding sample survives, with the lowest source tag breaking ties; the
// other tags are recorded in redundant.
func collapseRedundant(events []UsageEvent, redundant map[SeriesKey][]string) []UsageEvent {
	type instant struct {
		series SeriesKey
		at     int64
	}
	groups := make(map[instant][]UsageEvent, len(events))
	for _, e := range events {
		k := instant{series: e.SeriesKey(), at: e.SampleTime.UnixNano()}
		groups[k] = append(groups[k], e)
	}

	out := make([]UsageEvent, 0, len(events))
	for k, group := range groups {
		if len(group) == 1 {
			out = append(out, group[0])
			continue
		}
		sort.SliceStable(group, func(i, j int) bool {
			if c := compareEvents(group[i], group[j]); c != 0 {
				return c > 0
			}
			return group[i].Source < group[j].Source
		})
		var kept []UsageEvent
		for _, e := range group {
			if containsEventValue(kept, e.Value) {
				redundant[k.series] = appendUnique(redundant[k.series], e.Source)
				continue
			}
			kept = append(kept, e)
		}
		out = append(out, kept...)
	}
	for series, sources := range redundant {
		sort.Strings(sources)
		redundant[series] = sources
	}
	return out
}

func containsEventValue(events []UsageEvent, v decimal.Decimal) bool {
	for _, e := range events {
		if e.Value.Equal(v) {
			return true
		}
	}
	return false
}

func appendUnique(values []string, v string) []string {
	for _, s := range values {
		if s == v {
			return values
		}
	}
	return append(values, v)
}

func containsValue(values []decimal.Decimal, v decimal.Decimal) bool {
	for _, s := range values {
		if s.Equal(v) {
			return true
		}
	}
	return false
}

// sortEvents orders deduplicated events by series, sample time and source
func sortEvents(events []UsageEvent) {
	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if c := strings.Compare(a.ResourceID, b.ResourceID); c != 0 {
			return c < 0
		}
		if c := strings.Compare(a.Metric, b.Metric); c != 0 {
			return c < 0
		}
		if !a.SampleTime.Equal(b.SampleTime) {
			return a.SampleTime.Before(b.SampleTime)
		}
		return a.Source < b.Source
	})
}
