package billing

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/usagebill/backend/internal/domain/shared"
)

// MetricKind is the sampling nature of a metric
type MetricKind string

const (
	// MetricKindCounter is a monotonically increasing cumulative value
	MetricKindCounter MetricKind = "counter"
	// MetricKindGauge is an instantaneous level
	MetricKindGauge MetricKind = "gauge"
	// MetricKindDiscrete is a stream of independent occurrences
	MetricKindDiscrete MetricKind = "discrete"
	// MetricKindState is a series of status samples whose metadata, not
	// value, carries the usage
	MetricKindState MetricKind = "state"
)

// IsValid returns true if the kind is known
func (k MetricKind) IsValid() bool {
	switch k {
	case MetricKindCounter, MetricKindGauge, MetricKindDiscrete, MetricKindState:
		return true
	}
	return false
}

// AggregationFunc reduces a series of samples to one quantity
type AggregationFunc string

const (
	AggregationDeltaSum        AggregationFunc = "delta_sum"
	AggregationTimeWeightedAvg AggregationFunc = "time_weighted_avg"
	AggregationMax             AggregationFunc = "max"
	AggregationLast            AggregationFunc = "last"
	AggregationCount           AggregationFunc = "count"
	AggregationSum             AggregationFunc = "sum"
	// AggregationUptime splits the window between the products a resource
	// was sampled as while in a tracked state
	AggregationUptime AggregationFunc = "uptime"
	// AggregationFromImage bills the largest sampled size for every whole
	// hour of the window, unless the resource was not booted from an image
	AggregationFromImage AggregationFunc = "from_image"
	// AggregationActiveHours bills whole window hours while a 0/1 status
	// gauge reported active
	AggregationActiveHours AggregationFunc = "active_hours"
)

// ValidFor reports whether the aggregation may be applied to the metric kind
func (a AggregationFunc) ValidFor(kind MetricKind) bool {
	switch kind {
	case MetricKindCounter:
		return a == AggregationDeltaSum
	case MetricKindGauge:
		return a == AggregationTimeWeightedAvg || a == AggregationMax || a == AggregationLast ||
			a == AggregationActiveHours
	case MetricKindDiscrete:
		return a == AggregationCount || a == AggregationSum
	case MetricKindState:
		return a == AggregationUptime || a == AggregationFromImage
	}
	return false
}

// isGauge reports whether the aggregation treats samples as a step function
func (a AggregationFunc) isGauge() bool {
	return a == AggregationTimeWeightedAvg || a == AggregationMax || a == AggregationLast
}

// MetricRule is the static aggregation configuration of one metric
type MetricRule struct {
	Metric       string          `yaml:"metric" json:"metric"`
	Kind         MetricKind      `yaml:"kind" json:"kind"`
	Aggregation  AggregationFunc `yaml:"aggregation" json:"aggregation"`
	Unit         string          `yaml:"unit" json:"unit"`
	Proratable   *bool           `yaml:"proratable,omitempty" json:"proratable,omitempty"`
	ResourceType string          `yaml:"resource_type,omitempty" json:"resource_type,omitempty"`
	// SampleInterval bounds how long the last gauge sample is held.
	// Zero holds it until the window end.
	SampleInterval time.Duration `yaml:"sample_interval,omitempty" json:"sample_interval,omitempty"`

	// DerivedFrom computes this metric from the samples of another one.
	DerivedFrom   string   `yaml:"derived_from,omitempty" json:"derived_from,omitempty"`
	TrackedStates []string `yaml:"tracked_states,omitempty" json:"tracked_states,omitempty"`
	// StateKeys are the metadata keys holding the status, first present wins.
	StateKeys  []string `yaml:"state_keys,omitempty" json:"state_keys,omitempty"`
	ImageKeys  []string `yaml:"image_keys,omitempty" json:"image_keys,omitempty"`
	NoneValues []string `yaml:"none_values,omitempty" json:"none_values,omitempty"`
	SizeKeys   []string `yaml:"size_keys,omitempty" json:"size_keys,omitempty"`
}

var defaultStateKeys = []string{"status", "state"}

// SourceMetric is the metric whose samples feed the rule
func (r MetricRule) SourceMetric() string {
	if r.DerivedFrom != "" {
		return r.DerivedFrom
	}
	return r.Metric
}

func (r MetricRule) stateKeys() []string {
	if len(r.StateKeys) == 0 {
		return defaultStateKeys
	}
	return r.StateKeys
}

// IsProratable returns the proration flag, defaulting to true
func (r MetricRule) IsProratable() bool {
	return r.Proratable == nil || *r.Proratable
}

// Validate checks the rule
func (r MetricRule) Validate() error {
	if r.Metric == "" {
		return shared.NewDomainError("INVALID_METRIC_RULE", "metric name cannot be empty")
	}
	if !r.Kind.IsValid() {
		return shared.NewDomainError("INVALID_METRIC_RULE", fmt.Sprintf("metric %s: unknown kind %q", r.Metric, r.Kind))
	}
	if !r.Aggregation.ValidFor(r.Kind) {
		return shared.NewDomainError("INVALID_METRIC_RULE",
			fmt.Sprintf("metric %s: aggregation %q cannot be used for %s metrics", r.Metric, r.Aggregation, r.Kind))
	}
	if r.SampleInterval < 0 {
		return shared.NewDomainError("INVALID_METRIC_RULE", fmt.Sprintf("metric %s: negative sample interval", r.Metric))
	}
	if r.DerivedFrom == r.Metric {
		return shared.NewDomainError("INVALID_METRIC_RULE", fmt.Sprintf("metric %s cannot be derived from itself", r.Metric))
	}
	switch r.Aggregation {
	case AggregationUptime:
		if len(r.TrackedStates) == 0 {
			return shared.NewDomainError("INVALID_METRIC_RULE", fmt.Sprintf("metric %s: uptime needs tracked_states", r.Metric))
		}
	case AggregationFromImage:
		if len(r.ImageKeys) == 0 || len(r.SizeKeys) == 0 {
			return shared.NewDomainError("INVALID_METRIC_RULE",
				fmt.Sprintf("metric %s: from_image needs image_keys and size_keys", r.Metric))
		}
	}
	return nil
}

// AggregationTable maps metric names to their rules. Derived rules are
// indexed by the metric they read from.
type AggregationTable struct {
	rules   map[string]MetricRule
	derived map[string][]MetricRule
}

// NewAggregationTable builds a table from rules, rejecting invalid or
// duplicated metrics
func NewAggregationTable(rules []MetricRule) (*AggregationTable, error) {
	t := &AggregationTable{
		rules:   make(map[string]MetricRule, len(rules)),
		derived: make(map[string][]MetricRule),
	}
	names := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if _, dup := names[r.Metric]; dup {
			return nil, shared.NewDomainError("INVALID_METRIC_RULE", fmt.Sprintf("metric %s configured twice", r.Metric))
		}
		names[r.Metric] = struct{}{}
		if r.DerivedFrom != "" {
			t.derived[r.DerivedFrom] = append(t.derived[r.DerivedFrom], r)
			continue
		}
		t.rules[r.Metric] = r
	}
	for _, list := range t.derived {
		sort.Slice(list, func(i, j int) bool { return list[i].Metric < list[j].Metric })
	}
	return t, nil
}

// Rule returns the rule for a metric
func (t *AggregationTable) Rule(metric string) (MetricRule, bool) {
	if t == nil {
		return MetricRule{}, false
	}
	r, ok := t.rules[metric]
	return r, ok
}

// Derived returns the rules computed from a metric's samples, by name
func (t *AggregationTable) Derived(metric string) []MetricRule {
	if t == nil {
		return nil
	}
	return t.derived[metric]
}

// RulesFor returns every rule fed by a metric: its own rule first, then
// the derived ones
func (t *AggregationTable) RulesFor(metric string) []MetricRule {
	var out []MetricRule
	if r, ok := t.Rule(metric); ok {
		out = append(out, r)
	}
	return append(out, t.Derived(metric)...)
}

// Len returns the number of configured metrics
func (t *AggregationTable) Len() int {
	if t == nil {
		return 0
	}
	n := len(t.rules)
	for _, list := range t.derived {
		n += len(list)
	}
	return n
}

// aggregateResult is the reduction of one series over a window
type aggregateResult struct {
	quantity decimal.Decimal
	coverage decimal.Decimal
	prorated bool
}

var decimalOne = decimal.NewFromInt(1)

// aggregate reduces the time-ordered samples of one series. samples must be
// non-empty, deduplicated and inside the window.
func aggregate(rule MetricRule, window BillingWindow, samples []UsageEvent) aggregateResult {
	switch rule.Aggregation {
	case AggregationDeltaSum:
		return aggregateResult{quantity: deltaSum(samples), coverage: decimalOne}
	case AggregationCount:
		return aggregateResult{quantity: decimal.NewFromInt(int64(len(samples))), coverage: decimalOne}
	case AggregationSum:
		total := decimal.Zero
		for _, s := range samples {
			total = total.Add(s.Value)
		}
		return aggregateResult{quantity: total, coverage: decimalOne}
	case AggregationActiveHours:
		return aggregateResult{quantity: activeHours(window, samples), coverage: decimalOne}
	case AggregationFromImage:
		q, _ := fromImage(rule, window, samples)
		return aggregateResult{quantity: q, coverage: decimalOne}
	}

	return aggregateGauge(rule, window, samples)
}

// deltaSum adds positive steps between consecutive counter readings. A
// decrease is a counter reset and contributes nothing.
func deltaSum(samples []UsageEvent) decimal.Decimal {
	total := decimal.Zero
	for i := 1; i < len(samples); i++ {
		d := samples[i].Value.Sub(samples[i-1].Value)
		if d.IsPositive() {
			total = total.Add(d)
		}
	}
	return total
}

// aggregateGauge treats samples as a step function. Each sample holds until
// the next one; the last holds until the window end or for one sample
// interval, whichever is earlier.
func aggregateGauge(rule MetricRule, window BillingWindow, samples []UsageEvent) aggregateResult {
	windowNanos := decimal.NewFromInt(window.Duration().Nanoseconds())

	integral := decimal.Zero
	held := time.Duration(0)
	peak := samples[0].Value
	for i, s := range samples {
		until := window.End
		if i+1 < len(samples) {
			until = samples[i+1].SampleTime
		} else if rule.SampleInterval > 0 {
			if limit := s.SampleTime.Add(rule.SampleInterval); limit.Before(until) {
				until = limit
			}
		}
		span := until.Sub(s.SampleTime)
		if span > 0 {
			held += span
			integral = integral.Add(s.Value.Mul(decimal.NewFromInt(span.Nanoseconds())))
		}
		if s.Value.GreaterThan(peak) {
			peak = s.Value
		}
	}

	coverage := decimal.NewFromInt(held.Nanoseconds()).DivRound(windowNanos, internalPrecision)
	if coverage.GreaterThan(decimalOne) {
		coverage = decimalOne
	}
	prorate := rule.IsProratable()

	var quantity decimal.Decimal
	switch rule.Aggregation {
	case AggregationTimeWeightedAvg:
		if prorate {
			quantity = integral.DivRound(windowNanos, internalPrecision)
		} else if held > 0 {
			quantity = integral.DivRound(decimal.NewFromInt(held.Nanoseconds()), internalPrecision)
		} else {
			quantity = samples[len(samples)-1].Value
		}
	case AggregationMax:
		quantity = peak
		if prorate {
			quantity = quantity.Mul(coverage)
		}
	default: // last
		quantity = samples[len(samples)-1].Value
		if prorate {
			quantity = quantity.Mul(coverage)
		}
	}

	return aggregateResult{quantity: quantity, coverage: coverage, prorated: prorate && coverage.LessThan(decimalOne)}
}
