package billing

import (
	"fmt"

	"github.com/usagebill/backend/internal/domain/shared"
)

// WildcardResourceType matches any resource type in a mapping rule
const WildcardResourceType = "*"

// MappingRule maps a (resource type, metric) pair to a product code. A rule
// with ProductFrom takes the code from that sample metadata key instead,
// prefixed with Prefix, so one series can bill several products.
type MappingRule struct {
	ResourceType string `yaml:"resource_type" json:"resource_type"`
	Metric       string `yaml:"metric" json:"metric"`
	ProductCode  string `yaml:"product,omitempty" json:"product,omitempty"`
	ProductFrom  string `yaml:"product_from,omitempty" json:"product_from,omitempty"`
	Prefix       string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
}

// ProductTarget is the product side of a mapping rule
type ProductTarget struct {
	Code   string
	From   string
	Prefix string
}

// Keyed reports whether the product code is read from sample metadata
func (t ProductTarget) Keyed() bool {
	return t.From != ""
}

// Product returns the product code for a metadata value of a keyed target,
// or the static code
func (t ProductTarget) Product(value string) string {
	if !t.Keyed() {
		return t.Code
	}
	return t.Prefix + value
}

func (t ProductTarget) String() string {
	if t.Keyed() {
		return t.Prefix + "<metadata." + t.From + ">"
	}
	return t.Code
}

type mappingKey struct {
	resourceType string
	metric       string
}

// ProductMapping resolves product codes and product ignore policy
type ProductMapping struct {
	rules         map[mappingKey]ProductTarget
	ignored       map[string]struct{}
	tenantIgnored map[string]map[string]struct{}
}

// NewProductMapping builds a mapping. globalIgnore applies to every tenant,
// tenantIgnore adds per-tenant ignore sets.
func NewProductMapping(rules []MappingRule, globalIgnore []string, tenantIgnore map[string][]string) (*ProductMapping, error) {
	m := &ProductMapping{
		rules:         make(map[mappingKey]ProductTarget, len(rules)),
		ignored:       toSet(globalIgnore),
		tenantIgnored: make(map[string]map[string]struct{}, len(tenantIgnore)),
	}
	for _, r := range rules {
		if r.Metric == "" || (r.ProductCode == "") == (r.ProductFrom == "") {
			return nil, shared.NewDomainError("INVALID_PRODUCT_MAPPING",
				"mapping rules need a metric and exactly one of product or product_from")
		}
		if r.Prefix != "" && r.ProductFrom == "" {
			return nil, shared.NewDomainError("INVALID_PRODUCT_MAPPING",
				fmt.Sprintf("%s: prefix only applies to product_from rules", r.Metric))
		}
		rt := r.ResourceType
		if rt == "" {
			rt = WildcardResourceType
		}
		k := mappingKey{resourceType: rt, metric: r.Metric}
		target := ProductTarget{Code: r.ProductCode, From: r.ProductFrom, Prefix: r.Prefix}
		if existing, dup := m.rules[k]; dup && existing != target {
			return nil, shared.NewDomainError("INVALID_PRODUCT_MAPPING",
				fmt.Sprintf("%s/%s maps to both %s and %s", rt, r.Metric, existing, target))
		}
		m.rules[k] = target
	}
	for tenant, codes := range tenantIgnore {
		m.tenantIgnored[tenant] = toSet(codes)
	}
	return m, nil
}

// Target returns the mapping rule for a resource type and metric. An exact
// resource type rule wins over a wildcard rule.
func (m *ProductMapping) Target(resourceType, metric string) (ProductTarget, bool) {
	if m == nil {
		return ProductTarget{}, false
	}
	if t, ok := m.rules[mappingKey{resourceType: resourceType, metric: metric}]; ok {
		return t, true
	}
	t, ok := m.rules[mappingKey{resourceType: WildcardResourceType, metric: metric}]
	return t, ok
}

// Resolve returns the static product for a resource type and metric. Keyed
// rules do not resolve; their code was fixed when the entry was built.
func (m *ProductMapping) Resolve(resourceType, metric string) (string, bool) {
	t, ok := m.Target(resourceType, metric)
	if !ok || t.Keyed() {
		return "", false
	}
	return t.Code, true
}

// IsIgnored reports whether the product is ignored globally or for the tenant
func (m *ProductMapping) IsIgnored(tenantID, productCode string) bool {
	if m == nil {
		return false
	}
	if _, ok := m.ignored[productCode]; ok {
		return true
	}
	_, ok := m.tenantIgnored[tenantID][productCode]
	return ok
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}
