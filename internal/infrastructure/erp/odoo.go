package erp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/usagebill/backend/internal/domain/billing"
	"github.com/usagebill/backend/internal/infrastructure/config"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Product categories that never appear in the catalog
var odooHiddenCategories = map[string]bool{
	"discounts":    true,
	"sla discount": true,
}

// Products of these categories are sold in every region
var odooGlobalCategories = map[string]bool{
	"object storage": true,
}

// OdooConfig holds the Odoo driver settings
type OdooConfig struct {
	URL      string
	Database string
	Username string
	Password string
	Timeout  time.Duration
}

// OdooConfigFrom converts the loaded configuration section
func OdooConfigFrom(cfg config.OdooConfig) *OdooConfig {
	return &OdooConfig{
		URL:      cfg.URL,
		Database: cfg.Database,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  cfg.Timeout,
	}
}

// Validate validates the Odoo configuration
func (c *OdooConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("odoo: url is required")
	}
	if !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
		return fmt.Errorf("odoo: url must be http or https, got %q", c.URL)
	}
	if c.Database == "" || c.Username == "" {
		return fmt.Errorf("odoo: database and username are required")
	}
	return nil
}

// OdooBackend prices usage with Odoo. Saleable products form the catalog and
// a quotation becomes a sale order of the project's owner.
type OdooBackend struct {
	rpc    *odooRPC
	logger *zap.Logger
}

// OdooOption configures an OdooBackend
type OdooOption func(*odooOptions)

type odooOptions struct {
	client *http.Client
	logger *zap.Logger
}

// WithOdooHTTPClient replaces the instrumented default client
func WithOdooHTTPClient(c *http.Client) OdooOption {
	return func(o *odooOptions) {
		o.client = c
	}
}

// WithOdooLogger sets the driver logger
func WithOdooLogger(logger *zap.Logger) OdooOption {
	return func(o *odooOptions) {
		o.logger = logger
	}
}

// NewOdooBackend creates the Odoo driver. Login happens on first use.
func NewOdooBackend(cfg *OdooConfig, opts ...OdooOption) (*OdooBackend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := odooOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		o.client = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	return &OdooBackend{
		rpc: &odooRPC{
			endpoint: strings.TrimRight(cfg.URL, "/") + "/jsonrpc",
			database: cfg.Database,
			username: cfg.Username,
			password: cfg.Password,
			client:   o.client,
		},
		logger: o.logger,
	}, nil
}

var _ billing.PricingBackend = (*OdooBackend)(nil)

// Name implements billing.PricingBackend
func (b *OdooBackend) Name() string {
	return DriverOdoo
}

// ============================================================================
// Catalog
// ============================================================================

// many2one decodes Odoo's [id, "name"] pairs, which are false when unset
type many2one struct {
	ID   int64
	Name string
}

func (m *many2one) UnmarshalJSON(data []byte) error {
	if string(data) == "false" || string(data) == "null" {
		*m = many2one{}
		return nil
	}
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil || len(pair) != 2 {
		return fmt.Errorf("odoo: invalid many2one %s", data)
	}
	if err := json.Unmarshal(pair[0], &m.ID); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &m.Name)
}

// odooString decodes text fields, which are false when empty
type odooString string

func (s *odooString) UnmarshalJSON(data []byte) error {
	if string(data) == "false" || string(data) == "null" {
		*s = ""
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = odooString(v)
	return nil
}

type odooProduct struct {
	ID          int64      `json:"id"`
	Category    many2one   `json:"categ_id"`
	DisplayName odooString `json:"display_name"`
	DefaultCode odooString `json:"default_code"`
}

// GetCatalog reads every active, saleable product in one call. Regional
// products are named "[unit] REGION.code"; global categories have no region.
func (b *OdooBackend) GetCatalog(ctx context.Context) (*billing.Catalog, error) {
	var rows []odooProduct
	err := b.rpc.execute(ctx, "product.product", "search_read",
		[]any{[]any{
			[]any{"sale_ok", "=", true},
			[]any{"active", "=", true},
		}},
		map[string]any{"fields": []string{"categ_id", "display_name", "default_code"}},
		&rows)
	if err != nil {
		b.logger.Error("Failed to load Odoo products", zap.Error(err))
		if billing.IsRetryable(err) {
			return nil, err
		}
		return nil, fmt.Errorf("load odoo products: %w", err)
	}

	products := make([]billing.Product, 0, len(rows))
	for _, row := range rows {
		if p, ok := productFromOdoo(row); ok {
			products = append(products, p)
		}
	}
	b.logger.Debug("Loaded Odoo catalog",
		zap.Int("products", len(products)),
		zap.Int("rows", len(rows)))
	return billing.NewCatalog(products, time.Now().UTC()), nil
}

func productFromOdoo(row odooProduct) (billing.Product, bool) {
	category := row.Category.Name
	if i := strings.LastIndex(category, "/"); i >= 0 {
		category = category[i+1:]
	}
	category = strings.TrimSpace(category)
	lower := strings.ToLower(category)
	if odooHiddenCategories[lower] {
		return billing.Product{}, false
	}

	unit := string(row.DefaultCode)
	name := strings.TrimSpace(strings.TrimPrefix(string(row.DisplayName), "["+unit+"]"))
	if name == "" {
		return billing.Product{}, false
	}

	region, code := "", name
	if !odooGlobalCategories[lower] {
		region, code = splitRegion(name)
	}
	return billing.Product{
		Code:     strings.ToLower(code),
		Name:     name,
		Category: lower,
		Unit:     unit,
		PriceRef: strconv.FormatInt(row.ID, 10),
		Region:   region,
	}, true
}

// splitRegion splits "NZ-HLZ-1.c1.c1r1" into "nz-hlz-1" and "c1.c1r1". Names
// without an upper case prefix have no region.
func splitRegion(name string) (string, string) {
	prefix, rest, ok := strings.Cut(name, ".")
	if !ok || rest == "" {
		return "", name
	}
	hasLetter := false
	for _, r := range prefix {
		if unicode.IsLower(r) || unicode.IsSpace(r) {
			return "", name
		}
		if unicode.IsLetter(r) {
			hasLetter = true
		}
	}
	if !hasLetter {
		return "", name
	}
	return strings.ToLower(prefix), rest
}

// ============================================================================
// Quotations
// ============================================================================

type odooOrder struct {
	ID   int64      `json:"id"`
	Name odooString `json:"name"`
}

type odooProject struct {
	ID    int64    `json:"id"`
	Owner many2one `json:"owner"`
}

// SubmitQuotation creates a sale order whose client reference is the
// idempotency key. An order already carrying the key is returned as is.
func (b *OdooBackend) SubmitQuotation(ctx context.Context, q *billing.Quotation, idempotencyKey string) (string, error) {
	if q.IsEmpty() {
		return billing.ReferenceNone, nil
	}

	if ref, err := b.findOrder(ctx, idempotencyKey); err != nil {
		return "", classifyOdooError("submit", err)
	} else if ref != "" {
		b.logger.Info("Odoo sale order already exists",
			zap.String("tenant_id", q.TenantID),
			zap.String("reference", ref))
		return ref, nil
	}

	partnerID, err := b.projectOwner(ctx, q.TenantID)
	if err != nil {
		return "", classifyOdooError("submit", err)
	}

	lines := make([]any, 0, len(q.LineItems))
	for _, item := range q.LineItems {
		productID, err := strconv.ParseInt(item.UnitPriceRef, 10, 64)
		if err != nil {
			return "", rejected("submit", "product %s has no odoo product id (%q)", item.ProductCode, item.UnitPriceRef)
		}
		lines = append(lines, []any{0, 0, map[string]any{
			"product_id":      productID,
			"product_uom_qty": json.Number(item.Quantity.String()),
			"name":            itemDescription(item),
		}})
	}

	order := map[string]any{
		"partner_id":       partnerID,
		"client_order_ref": idempotencyKey,
		"origin":           fmt.Sprintf("%s %s", q.TenantID, q.Window),
		"note":             fmt.Sprintf("Region %s, content %s", q.Region, q.ContentHash),
		"order_line":       lines,
	}
	var orderID int64
	if err := b.rpc.execute(ctx, "sale.order", "create", []any{order}, nil, &orderID); err != nil {
		b.logger.Error("Failed to create Odoo sale order",
			zap.String("tenant_id", q.TenantID),
			zap.Error(err))
		return "", classifyOdooError("submit", err)
	}

	var created []odooOrder
	if err := b.rpc.execute(ctx, "sale.order", "read", []any{[]int64{orderID}},
		map[string]any{"fields": []string{"name"}}, &created); err != nil {
		return "", classifyOdooError("submit", err)
	}
	ref := strconv.FormatInt(orderID, 10)
	if len(created) == 1 && created[0].Name != "" {
		ref = string(created[0].Name)
	}

	b.logger.Info("Created Odoo sale order",
		zap.String("tenant_id", q.TenantID),
		zap.String("reference", ref),
		zap.Int("line_items", len(lines)))
	return ref, nil
}

func (b *OdooBackend) findOrder(ctx context.Context, idempotencyKey string) (string, error) {
	var orders []odooOrder
	err := b.rpc.execute(ctx, "sale.order", "search_read",
		[]any{[]any{[]any{"client_order_ref", "=", idempotencyKey}}},
		map[string]any{"fields": []string{"name"}, "limit": 1},
		&orders)
	if err != nil || len(orders) == 0 {
		return "", err
	}
	return string(orders[0].Name), nil
}

func (b *OdooBackend) projectOwner(ctx context.Context, tenantID string) (int64, error) {
	var projects []odooProject
	err := b.rpc.execute(ctx, "openstack.project", "search_read",
		[]any{[]any{[]any{"os_id", "=", tenantID}}},
		map[string]any{"fields": []string{"owner"}, "limit": 1},
		&projects)
	if err != nil {
		return 0, err
	}
	if len(projects) == 0 || projects[0].Owner.ID == 0 {
		return 0, billing.NewQuotationRejected("submit", fmt.Errorf("%w %s", ErrUnknownCustomer, tenantID))
	}
	return projects[0].Owner.ID, nil
}
