package erp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/usagebill/backend/internal/domain/billing"
	"go.uber.org/zap"
)

// Metadata keys written to Stripe objects
const (
	stripeMetaTenant      = "tenant_id"
	stripeMetaCode        = "code"
	stripeMetaCategory    = "category"
	stripeMetaRegion      = "region"
	stripeMetaUnit        = "unit"
	stripeMetaWindowStart = "window_start"
	stripeMetaWindowEnd   = "window_end"
	stripeMetaHash        = "content_hash"
	stripeMetaKey         = "idempotency_key"
	stripeMetaQuantity    = "quantity"
	stripeMetaTaxRate     = "tax_rate"
)

// StripeBackend prices usage with Stripe. Active prices form the catalog and
// a quotation becomes a draft invoice with one invoice item per line.
type StripeBackend struct {
	api    *client.API
	config *StripeConfig
	logger *zap.Logger
}

// StripeOption configures a StripeBackend
type StripeOption func(*stripeOptions)

type stripeOptions struct {
	backend stripe.Backend
	logger  *zap.Logger
}

// WithStripeBackend routes every API call through b
func WithStripeBackend(b stripe.Backend) StripeOption {
	return func(o *stripeOptions) {
		o.backend = b
	}
}

// WithStripeLogger sets the driver logger
func WithStripeLogger(logger *zap.Logger) StripeOption {
	return func(o *stripeOptions) {
		o.logger = logger
	}
}

// NewStripeBackend creates the Stripe driver
func NewStripeBackend(cfg *StripeConfig, opts ...StripeOption) (*StripeBackend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := stripeOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	var backends *stripe.Backends
	if o.backend != nil {
		backends = &stripe.Backends{API: o.backend, Connect: o.backend, Uploads: o.backend}
	}
	api := &client.API{}
	api.Init(cfg.SecretKey, backends)

	return &StripeBackend{api: api, config: cfg, logger: o.logger}, nil
}

var _ billing.PricingBackend = (*StripeBackend)(nil)

// Name implements billing.PricingBackend
func (s *StripeBackend) Name() string {
	return DriverStripe
}

// GetCatalog lists active prices with their products. A price is sold under
// its lookup key, or the product's "code" metadata when it has none.
func (s *StripeBackend) GetCatalog(ctx context.Context) (*billing.Catalog, error) {
	params := &stripe.PriceListParams{Active: stripe.Bool(true)}
	params.Context = ctx
	params.Limit = stripe.Int64(100)
	params.AddExpand("data.product")

	var products []billing.Product
	skipped := 0
	it := s.api.Prices.List(params)
	for it.Next() {
		p, ok := productFromPrice(it.Price())
		if !ok {
			skipped++
			continue
		}
		products = append(products, p)
	}
	if err := it.Err(); err != nil {
		s.logger.Error("Failed to list Stripe prices", zap.Error(err))
		return nil, classifyStripeError("catalog", err)
	}

	s.logger.Debug("Loaded Stripe catalog",
		zap.Int("products", len(products)),
		zap.Int("skipped_prices", skipped))
	return billing.NewCatalog(products, time.Now().UTC()), nil
}

func productFromPrice(p *stripe.Price) (billing.Product, bool) {
	if p == nil {
		return billing.Product{}, false
	}
	prod := p.Product
	if prod != nil && prod.Deleted {
		return billing.Product{}, false
	}
	code := p.LookupKey
	if code == "" && prod != nil {
		code = prod.Metadata[stripeMetaCode]
	}
	if code == "" {
		return billing.Product{}, false
	}

	out := billing.Product{
		Code:     code,
		PriceRef: p.ID,
		Region:   strings.ToLower(p.Metadata[stripeMetaRegion]),
		Unit:     p.Metadata[stripeMetaUnit],
	}
	if prod != nil {
		out.Name = prod.Name
		out.Category = prod.Metadata[stripeMetaCategory]
		if out.Unit == "" {
			out.Unit = prod.UnitLabel
		}
	}
	return out, true
}

// SubmitQuotation creates a draft invoice for the tenant's customer. Every
// request carries a key derived from idempotencyKey so a retried submission
// replays the original objects instead of creating new ones.
func (s *StripeBackend) SubmitQuotation(ctx context.Context, q *billing.Quotation, idempotencyKey string) (string, error) {
	if q.IsEmpty() {
		return billing.ReferenceNone, nil
	}

	customerID, err := s.customerFor(ctx, q.TenantID)
	if err != nil {
		return "", err
	}

	invParams := &stripe.InvoiceParams{
		Customer:                    stripe.String(customerID),
		AutoAdvance:                 stripe.Bool(false),
		Currency:                    stripe.String(s.config.DefaultCurrency),
		PendingInvoiceItemsBehavior: stripe.String("exclude"),
		Description:                 stripe.String(fmt.Sprintf("Usage %s", q.Window)),
		Metadata: map[string]string{
			stripeMetaTenant:      q.TenantID,
			stripeMetaWindowStart: q.Window.Start.UTC().Format(time.RFC3339),
			stripeMetaWindowEnd:   q.Window.End.UTC().Format(time.RFC3339),
			stripeMetaHash:        q.ContentHash,
			stripeMetaKey:         idempotencyKey,
			stripeMetaRegion:      q.Region,
		},
	}
	invParams.Context = ctx
	invParams.SetIdempotencyKey(idempotencyKey + "-invoice")

	inv, err := s.api.Invoices.New(invParams)
	if err != nil {
		s.logger.Error("Failed to create Stripe invoice",
			zap.String("tenant_id", q.TenantID),
			zap.Error(err))
		return "", classifyStripeError("submit", err)
	}

	for i, item := range q.LineItems {
		// Stripe quantities are whole units
		qty := item.Quantity.Ceil().IntPart()
		if qty <= 0 {
			continue
		}
		params := &stripe.InvoiceItemParams{
			Customer:    stripe.String(customerID),
			Invoice:     stripe.String(inv.ID),
			Price:       stripe.String(item.UnitPriceRef),
			Quantity:    stripe.Int64(qty),
			Description: stripe.String(itemDescription(item)),
			Metadata: map[string]string{
				stripeMetaCode:     item.ProductCode,
				stripeMetaQuantity: item.Quantity.String(),
				stripeMetaUnit:     item.Unit,
				stripeMetaTaxRate:  item.TaxRate.String(),
			},
		}
		params.Context = ctx
		params.SetIdempotencyKey(fmt.Sprintf("%s-item-%d", idempotencyKey, i))
		if _, err := s.api.InvoiceItems.New(params); err != nil {
			s.logger.Error("Failed to add Stripe invoice item",
				zap.String("tenant_id", q.TenantID),
				zap.String("invoice_id", inv.ID),
				zap.String("product_code", item.ProductCode),
				zap.Error(err))
			return "", classifyStripeError("submit", err)
		}
	}

	s.logger.Info("Created Stripe draft invoice",
		zap.String("tenant_id", q.TenantID),
		zap.String("invoice_id", inv.ID),
		zap.Int("line_items", len(q.LineItems)))
	return inv.ID, nil
}

func itemDescription(item billing.LineItem) string {
	name := item.ProductName
	if name == "" {
		name = item.ProductCode
	}
	return fmt.Sprintf("%s (%s %s)", name, item.Quantity.String(), item.Unit)
}

func (s *StripeBackend) customerFor(ctx context.Context, tenantID string) (string, error) {
	params := &stripe.CustomerSearchParams{}
	params.Context = ctx
	params.Query = fmt.Sprintf("metadata['%s']:'%s'", stripeMetaTenant, strings.ReplaceAll(tenantID, "'", `\'`))

	it := s.api.Customers.Search(params)
	for it.Next() {
		if c := it.Customer(); c != nil && !c.Deleted {
			return c.ID, nil
		}
	}
	if err := it.Err(); err != nil {
		return "", classifyStripeError("submit", err)
	}
	return "", billing.NewQuotationRejected("submit", fmt.Errorf("%w %s", ErrUnknownCustomer, tenantID))
}

// classifyStripeError maps rate limits and server faults to transient errors
// and every other API error to a rejection
func classifyStripeError(op string, err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return transient(op, err)
	}
	if se.HTTPStatusCode == 429 || se.HTTPStatusCode >= 500 || se.Type == stripe.ErrorTypeAPI {
		return transient(op, err)
	}
	return billing.NewQuotationRejected(op, err)
}
