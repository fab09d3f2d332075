package billing

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ReferenceNone is recorded for quotations that had nothing to submit
const ReferenceNone = "none"

// ResourceQuantity is one resource's share of a line item
type ResourceQuantity struct {
	ResourceID string          `json:"resource_id"`
	Metric     string          `json:"metric"`
	Quantity   decimal.Decimal `json:"quantity"`
}

// LineItem is a priced-by-reference quantity of one product
type LineItem struct {
	TenantID     string             `json:"tenant_id"`
	Window       BillingWindow      `json:"window"`
	ProductCode  string             `json:"product_code"`
	ProductName  string             `json:"product_name,omitempty"`
	Category     string             `json:"category,omitempty"`
	Quantity     decimal.Decimal    `json:"quantity"`
	Unit         string             `json:"unit"`
	UnitPriceRef string             `json:"unit_price_ref"`
	TaxRate      decimal.Decimal    `json:"tax_rate"`
	Resources    []ResourceQuantity `json:"resources"`
}

// SkippedEntry is a usage entry left out of a quotation
type SkippedEntry struct {
	ResourceID  string    `json:"resource_id"`
	Metric      string    `json:"metric"`
	ProductCode string    `json:"product_code,omitempty"`
	Reason      string    `json:"reason"`
	Kind        ErrorKind `json:"kind,omitempty"`
}

// Quotation is the set of line items submitted for one tenant window
type Quotation struct {
	TenantID       string         `json:"tenant_id"`
	Window         BillingWindow  `json:"window"`
	Region         string         `json:"region"`
	BackendRegion  string         `json:"backend_region"`
	ContentHash    string         `json:"content_hash"`
	IdempotencyKey string         `json:"idempotency_key"`
	Reference      string         `json:"reference,omitempty"`
	LineItems      []LineItem     `json:"line_items"`
	Skipped        []SkippedEntry `json:"skipped,omitempty"`
	SubmittedAt    *time.Time     `json:"submitted_at,omitempty"`
}

// IsEmpty reports whether the quotation has no line items
func (q *Quotation) IsEmpty() bool {
	return q == nil || len(q.LineItems) == 0
}

// CategorySummary groups line items of one product category
type CategorySummary struct {
	Title     string     `json:"title"`
	LineItems []LineItem `json:"line_items"`
}

// Breakdown groups line items by category in title order. Items without a
// category are grouped under "Other".
func (q *Quotation) Breakdown() []CategorySummary {
	if q.IsEmpty() {
		return nil
	}
	caser := cases.Title(language.Und)
	groups := make(map[string][]LineItem)
	for _, item := range q.LineItems {
		title := "Other"
		if item.Category != "" {
			title = caser.String(item.Category)
		}
		groups[title] = append(groups[title], item)
	}
	summaries := make([]CategorySummary, 0, len(groups))
	for title, items := range groups {
		summaries = append(summaries, CategorySummary{Title: title, LineItems: items})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Title < summaries[j].Title })
	return summaries
}

// RatingInput carries everything needed to price a window. Every field comes
// from the run's immutable snapshot.
type RatingInput struct {
	TenantID      string
	Window        BillingWindow
	Region        string
	BackendRegion string
	TaxRate       decimal.Decimal
	ContentHash   string
	Epoch         int
	Entries       []UsageEntry
	Catalog       *Catalog
	Mapping       *ProductMapping
	Conversions   *ConversionTable
}

type productGroup struct {
	product   Product
	rule      ConversionRule
	total     decimal.Decimal
	resources []ResourceQuantity
}

// BuildQuotation converts and groups entries into line items. Converted
// quantities are summed exactly per product and rounded once.
func BuildQuotation(in RatingInput) *Quotation {
	q := &Quotation{
		TenantID:       in.TenantID,
		Window:         in.Window,
		Region:         in.Region,
		BackendRegion:  in.BackendRegion,
		ContentHash:    in.ContentHash,
		IdempotencyKey: QuotationKey(in.TenantID, in.Window, in.ContentHash, in.Epoch),
		LineItems:      []LineItem{},
	}

	groups := make(map[string]*productGroup)
	for _, e := range in.Entries {
		code := e.ProductCode
		if resolved, ok := in.Mapping.Resolve(e.ResourceType, e.Metric); ok {
			code = resolved
		}
		skip := func(reason string, kind ErrorKind) {
			q.Skipped = append(q.Skipped, SkippedEntry{
				ResourceID: e.ResourceID, Metric: e.Metric, ProductCode: code, Reason: reason, Kind: kind,
			})
		}
		if code == "" {
			skip(ReasonNoProductMapping, KindConfigurationGap)
			continue
		}
		if in.Mapping.IsIgnored(in.TenantID, code) {
			skip(ReasonIgnoredProduct, "")
			continue
		}
		product, ok := in.Catalog.Lookup(in.BackendRegion, code)
		if !ok {
			skip(ReasonUnknownProduct, KindConfigurationGap)
			continue
		}
		unit := product.Unit
		if unit == "" {
			unit = e.Unit
		}
		rule, ok := in.Conversions.Lookup(e.Unit, unit)
		if !ok {
			skip(ReasonNoConversion, KindConfigurationGap)
			continue
		}

		g, exists := groups[code]
		if !exists {
			g = &productGroup{product: product, rule: rule, total: decimal.Zero}
			g.product.Unit = unit
			groups[code] = g
		}
		converted := rule.Apply(e.Quantity, in.Window)
		g.total = g.total.Add(converted)
		g.resources = append(g.resources, ResourceQuantity{
			ResourceID: e.ResourceID,
			Metric:     e.Metric,
			Quantity:   converted.RoundBank(QuantityScale),
		})
	}

	codes := make([]string, 0, len(groups))
	for code := range groups {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		g := groups[code]
		sort.SliceStable(g.resources, func(i, j int) bool {
			if g.resources[i].ResourceID != g.resources[j].ResourceID {
				return g.resources[i].ResourceID < g.resources[j].ResourceID
			}
			return g.resources[i].Metric < g.resources[j].Metric
		})
		q.LineItems = append(q.LineItems, LineItem{
			TenantID:     in.TenantID,
			Window:       in.Window,
			ProductCode:  code,
			ProductName:  g.product.Name,
			Category:     g.product.Category,
			Quantity:     g.rule.Round(g.total),
			Unit:         g.product.Unit,
			UnitPriceRef: g.product.PriceRef,
			TaxRate:      in.TaxRate,
			Resources:    g.resources,
		})
	}

	sort.SliceStable(q.Skipped, func(i, j int) bool {
		if q.Skipped[i].ResourceID != q.Skipped[j].ResourceID {
			return q.Skipped[i].ResourceID < q.Skipped[j].ResourceID
		}
		return q.Skipped[i].Metric < q.Skipped[j].Metric
	})
	return q
}
