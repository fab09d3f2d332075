package billing

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/usagebill/backend/internal/domain/shared"
)

// TenantSettings are per-tenant overrides of the global policy
type TenantSettings struct {
	Timezone       string
	Region         string
	IgnoreProducts []string
}

// PolicyConfig is the raw input of a Policy
type PolicyConfig struct {
	Granularity     Granularity
	DefaultTimezone string
	DefaultRegion   string
	IncludeTenants  []string
	IgnoreTenants   []string
	Tenants         map[string]TenantSettings
	RegionMapping   map[string]string
	TaxRate         decimal.Decimal
	TaxRates        map[string]decimal.Decimal
	TrustSources    []string
	IgnoreProducts  []string
	MetricRules     []MetricRule
	MappingRules    []MappingRule
	ConversionRules []ConversionRule
}

// Policy is an immutable configuration snapshot used for one pipeline run
type Policy struct {
	granularity     Granularity
	defaultTimezone string
	defaultRegion   string
	include         map[string]struct{}
	ignore          map[string]struct{}
	tenants         map[string]TenantSettings
	regionMapping   map[string]string
	taxRate         decimal.Decimal
	taxRates        map[string]decimal.Decimal
	trustSources    []*regexp.Regexp
	metrics         *AggregationTable
	mapping         *ProductMapping
	conversions     *ConversionTable
	loadedAt        time.Time
}

// NewPolicy validates cfg and builds a snapshot
func NewPolicy(cfg PolicyConfig, loadedAt time.Time) (*Policy, error) {
	if cfg.Granularity == "" {
		cfg.Granularity = GranularityDaily
	}
	if !cfg.Granularity.IsValid() {
		return nil, shared.NewDomainError("INVALID_POLICY", fmt.Sprintf("unsupported granularity %q", cfg.Granularity))
	}
	if cfg.DefaultTimezone == "" {
		cfg.DefaultTimezone = "UTC"
	}
	if len(cfg.IncludeTenants) > 0 && len(cfg.IgnoreTenants) > 0 {
		return nil, shared.NewDomainError("INVALID_POLICY", "include and ignore tenant lists are mutually exclusive")
	}
	if cfg.TaxRate.IsNegative() || cfg.TaxRate.GreaterThan(decimalOne) {
		return nil, shared.NewDomainError("INVALID_POLICY", "tax rate must be between 0 and 1")
	}
	for region, rate := range cfg.TaxRates {
		if rate.IsNegative() || rate.GreaterThan(decimalOne) {
			return nil, shared.NewDomainError("INVALID_POLICY", fmt.Sprintf("tax rate of region %s must be between 0 and 1", region))
		}
	}

	zones := []string{cfg.DefaultTimezone}
	tenantIgnore := make(map[string][]string, len(cfg.Tenants))
	for tenant, ts := range cfg.Tenants {
		if ts.Timezone != "" {
			zones = append(zones, ts.Timezone)
		}
		if len(ts.IgnoreProducts) > 0 {
			tenantIgnore[tenant] = ts.IgnoreProducts
		}
	}
	for _, tz := range zones {
		if _, err := time.LoadLocation(tz); err != nil {
			return nil, shared.NewDomainError("INVALID_POLICY", fmt.Sprintf("unknown timezone %q", tz))
		}
	}

	p := &Policy{
		granularity:     cfg.Granularity,
		defaultTimezone: cfg.DefaultTimezone,
		defaultRegion:   cfg.DefaultRegion,
		include:         toSet(cfg.IncludeTenants),
		ignore:          toSet(cfg.IgnoreTenants),
		tenants:         cfg.Tenants,
		regionMapping:   cfg.RegionMapping,
		taxRate:         cfg.TaxRate,
		taxRates:        cfg.TaxRates,
		loadedAt:        loadedAt,
	}
	for _, pattern := range cfg.TrustSources {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, shared.NewDomainError("INVALID_POLICY", fmt.Sprintf("invalid trust source pattern %q: %v", pattern, err))
		}
		p.trustSources = append(p.trustSources, re)
	}

	var err error
	if p.metrics, err = NewAggregationTable(cfg.MetricRules); err != nil {
		return nil, err
	}
	if p.mapping, err = NewProductMapping(cfg.MappingRules, cfg.IgnoreProducts, tenantIgnore); err != nil {
		return nil, err
	}
	custom, err := NewConversionTable(cfg.ConversionRules)
	if err != nil {
		return nil, err
	}
	p.conversions = DefaultConversionTable().Merge(custom)
	return p, nil
}

// Granularity returns the billing window granularity
func (p *Policy) Granularity() Granularity { return p.granularity }

// Metrics returns the aggregation table
func (p *Policy) Metrics() *AggregationTable { return p.metrics }

// Mapping returns the product mapping
func (p *Policy) Mapping() *ProductMapping { return p.mapping }

// Conversions returns the unit conversion table
func (p *Policy) Conversions() *ConversionTable { return p.conversions }

// LoadedAt returns when the snapshot was built
func (p *Policy) LoadedAt() time.Time { return p.loadedAt }

// IsTenantIgnored reports whether the tenant is excluded from processing
func (p *Policy) IsTenantIgnored(tenantID string) bool {
	if len(p.include) > 0 {
		_, ok := p.include[tenantID]
		return !ok
	}
	_, ok := p.ignore[tenantID]
	return ok
}

// FilterTenants drops ignored tenants, preserving order
func (p *Policy) FilterTenants(tenants []string) []string {
	out := make([]string, 0, len(tenants))
	for _, t := range tenants {
		if !p.IsTenantIgnored(t) {
			out = append(out, t)
		}
	}
	return out
}

// IncludedTenants returns the configured include list, sorted
func (p *Policy) IncludedTenants() []string {
	out := make([]string, 0, len(p.include))
	for t := range p.include {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// TimezoneFor returns the timezone whose boundaries align the tenant's windows
func (p *Policy) TimezoneFor(tenantID string) string {
	if ts, ok := p.tenants[tenantID]; ok && ts.Timezone != "" {
		return ts.Timezone
	}
	return p.defaultTimezone
}

// WindowAt returns the tenant's window containing t
func (p *Policy) WindowAt(tenantID string, t time.Time) (BillingWindow, error) {
	return WindowAt(p.granularity, p.TimezoneFor(tenantID), t)
}

// RegionFor returns the tenant's region
func (p *Policy) RegionFor(tenantID string) string {
	if ts, ok := p.tenants[tenantID]; ok && ts.Region != "" {
		return ts.Region
	}
	return p.defaultRegion
}

// BackendRegion maps a tenant region to the pricing backend's region key
func (p *Policy) BackendRegion(region string) (string, bool) {
	key, ok := p.regionMapping[region]
	return key, ok && key != ""
}

// TaxRateFor returns the tax rate of a backend region
func (p *Policy) TaxRateFor(backendRegion string) decimal.Decimal {
	if rate, ok := p.taxRates[backendRegion]; ok {
		return rate
	}
	return p.taxRate
}

// IsTrustedSource reports whether samples from source may be billed. With
// no patterns configured every source is trusted.
func (p *Policy) IsTrustedSource(source string) bool {
	if len(p.trustSources) == 0 {
		return true
	}
	for _, re := range p.trustSources {
		if re.MatchString(source) {
			return true
		}
	}
	return false
}

// ParseRegionMapping parses "region:key,region:key"
func ParseRegionMapping(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range splitPairs(s) {
		k, v, ok := strings.Cut(pair, ":")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return nil, shared.NewDomainError("INVALID_REGION_MAPPING", fmt.Sprintf("malformed region mapping %q", pair))
		}
		if _, dup := out[k]; dup {
			return nil, shared.NewDomainError("INVALID_REGION_MAPPING", fmt.Sprintf("region %s mapped twice", k))
		}
		out[k] = v
	}
	return out, nil
}

// ParseRateMapping parses "region:rate,region:rate"
func ParseRateMapping(s string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	for _, pair := range splitPairs(s) {
		k, v, ok := strings.Cut(pair, ":")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, shared.NewDomainError("INVALID_RATE_MAPPING", fmt.Sprintf("malformed rate mapping %q", pair))
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return nil, shared.NewDomainError("INVALID_RATE_MAPPING", fmt.Sprintf("invalid rate for %s: %v", k, err))
		}
		out[k] = rate
	}
	return out, nil
}

func splitPairs(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
