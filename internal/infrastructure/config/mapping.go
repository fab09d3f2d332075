package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/usagebill/backend/internal/domain/billing"
	"gopkg.in/yaml.v3"
)

// MappingFile is the on-disk layout of pipeline.mapping_file
type MappingFile struct {
	Metrics     []metricDoc     `yaml:"metrics"`
	Products    []mappingDoc    `yaml:"products"`
	Conversions []conversionDoc `yaml:"conversions"`
}

type metricDoc struct {
	Metric         string   `yaml:"metric"`
	Kind           string   `yaml:"kind"`
	Aggregation    string   `yaml:"aggregation"`
	Unit           string   `yaml:"unit"`
	Proratable     *bool    `yaml:"proratable"`
	ResourceType   string   `yaml:"resource_type"`
	SampleInterval string   `yaml:"sample_interval"`
	DerivedFrom    string   `yaml:"derived_from"`
	TrackedStates  []string `yaml:"tracked_states"`
	StateKeys      []string `yaml:"state_keys"`
	ImageKeys      []string `yaml:"image_keys"`
	NoneValues     []string `yaml:"none_values"`
	SizeKeys       []string `yaml:"size_keys"`
}

type mappingDoc struct {
	ResourceType string `yaml:"resource_type"`
	Metric       string `yaml:"metric"`
	Product      string `yaml:"product"`
	ProductFrom  string `yaml:"product_from"`
	Prefix       string `yaml:"prefix"`
}

// metadataPrefix is optional in product_from values
const metadataPrefix = "metadata."

type conversionDoc struct {
	From        string `yaml:"from"`
	To          string `yaml:"to"`
	Numerator   string `yaml:"numerator"`
	Denominator string `yaml:"denominator"`
	Per         string `yaml:"per"`
	Scale       *int32 `yaml:"scale"`
	Rounding    string `yaml:"rounding"`
}

// Rules holds the decoded tables of a mapping file
type Rules struct {
	Metrics     []billing.MetricRule
	Products    []billing.MappingRule
	Conversions []billing.ConversionRule
}

// LoadMappingFile reads and decodes the mapping file at path
func LoadMappingFile(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping file: %w", err)
	}
	return ParseMapping(data)
}

// ParseMapping decodes mapping YAML. Unknown keys are rejected.
func ParseMapping(data []byte) (*Rules, error) {
	var doc MappingFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode mapping file: %w", err)
	}

	rules := &Rules{}
	for i, m := range doc.Metrics {
		rule := billing.MetricRule{
			Metric:        m.Metric,
			Kind:          billing.MetricKind(m.Kind),
			Aggregation:   billing.AggregationFunc(m.Aggregation),
			Unit:          m.Unit,
			Proratable:    m.Proratable,
			ResourceType:  m.ResourceType,
			DerivedFrom:   m.DerivedFrom,
			TrackedStates: m.TrackedStates,
			StateKeys:     m.StateKeys,
			ImageKeys:     m.ImageKeys,
			NoneValues:    m.NoneValues,
			SizeKeys:      m.SizeKeys,
		}
		if m.SampleInterval != "" {
			d, err := time.ParseDuration(m.SampleInterval)
			if err != nil {
				return nil, fmt.Errorf("metrics[%d].sample_interval: %w", i, err)
			}
			rule.SampleInterval = d
		}
		rules.Metrics = append(rules.Metrics, rule)
	}

	for _, p := range doc.Products {
		rules.Products = append(rules.Products, billing.MappingRule{
			ResourceType: p.ResourceType,
			Metric:       p.Metric,
			ProductCode:  p.Product,
			ProductFrom:  strings.TrimPrefix(p.ProductFrom, metadataPrefix),
			Prefix:       p.Prefix,
		})
	}

	for i, c := range doc.Conversions {
		rule, err := c.toRule()
		if err != nil {
			return nil, fmt.Errorf("conversions[%d]: %w", i, err)
		}
		rules.Conversions = append(rules.Conversions, rule)
	}
	return rules, nil
}

func (c conversionDoc) toRule() (billing.ConversionRule, error) {
	rule := billing.ConversionRule{
		From:        c.From,
		To:          c.To,
		Per:         c.Per,
		Numerator:   decimal.NewFromInt(1),
		Denominator: decimal.NewFromInt(1),
		Scale:       billing.DefaultLineItemScale,
		Rounding:    billing.DefaultRoundingMode,
	}
	var err error
	if c.Numerator != "" {
		if rule.Numerator, err = decimal.NewFromString(c.Numerator); err != nil {
			return rule, fmt.Errorf("numerator: %w", err)
		}
	}
	if c.Denominator != "" {
		if rule.Denominator, err = decimal.NewFromString(c.Denominator); err != nil {
			return rule, fmt.Errorf("denominator: %w", err)
		}
	}
	if c.Scale != nil {
		rule.Scale = *c.Scale
	}
	if c.Rounding != "" {
		if rule.Rounding, err = billing.ParseRoundingMode(c.Rounding); err != nil {
			return rule, err
		}
	}
	return rule, nil
}

// PolicyConfig combines the loaded configuration and mapping rules
func (c *Config) PolicyConfig(rules *Rules) (billing.PolicyConfig, error) {
	granularity, err := billing.ParseGranularity(c.Pipeline.Granularity)
	if err != nil {
		return billing.PolicyConfig{}, err
	}
	pc := billing.PolicyConfig{
		Granularity:     granularity,
		DefaultTimezone: c.Pipeline.DefaultTimezone,
		DefaultRegion:   c.Pipeline.DefaultRegion,
		IncludeTenants:  c.Tenants.Include,
		IgnoreTenants:   c.Tenants.Ignore,
		Tenants:         c.Tenants.Settings,
		RegionMapping:   c.Pricing.RegionMapping,
		TaxRate:         c.Pricing.TaxRate,
		TaxRates:        c.Pricing.TaxRates,
		TrustSources:    c.Collector.TrustSources,
		IgnoreProducts:  c.Pricing.IgnoreProducts,
	}
	if rules != nil {
		pc.MetricRules = rules.Metrics
		pc.MappingRules = rules.Products
		pc.ConversionRules = rules.Conversions
	}
	return pc, nil
}

// BuildPolicy loads the mapping file named by the configuration and builds
// an immutable policy snapshot
func BuildPolicy(cfg *Config, loadedAt time.Time) (*billing.Policy, error) {
	rules, err := LoadMappingFile(cfg.Pipeline.MappingFile)
	if err != nil {
		return nil, err
	}
	pc, err := cfg.PolicyConfig(rules)
	if err != nil {
		return nil, err
	}
	return billing.NewPolicy(pc, loadedAt)
}
