package erp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/usagebill/backend/internal/domain/billing"
	"go.uber.org/zap"
)

// productsFile is the document read by the jsonfile driver
type productsFile struct {
	Products []billing.Product `json:"products"`
}

// JSONFileBackend reads its catalog from a local JSON file and hands every
// quotation to an archiver. It serves dry runs and installations without an ERP.
type JSONFileBackend struct {
	path     string
	archiver billing.QuotationArchiver
	logger   *zap.Logger
}

// NewJSONFileBackend creates the jsonfile driver
func NewJSONFileBackend(productsPath string, archiver billing.QuotationArchiver, logger *zap.Logger) (*JSONFileBackend, error) {
	if productsPath == "" {
		return nil, fmt.Errorf("jsonfile: products file path is required")
	}
	if archiver == nil {
		return nil, fmt.Errorf("jsonfile: an archiver is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JSONFileBackend{path: productsPath, archiver: archiver, logger: logger}, nil
}

var _ billing.PricingBackend = (*JSONFileBackend)(nil)

// Name implements billing.PricingBackend
func (b *JSONFileBackend) Name() string {
	return DriverJSONFile
}

// GetCatalog reads the products file. The file is read on every call; the
// catalog cache decides how often that happens.
func (b *JSONFileBackend) GetCatalog(_ context.Context) (*billing.Catalog, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		return nil, fmt.Errorf("jsonfile: read products: %w", err)
	}
	var doc productsFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("jsonfile: parse %s: %w", b.path, err)
	}

	seen := make(map[string]bool, len(doc.Products))
	for i := range doc.Products {
		p := &doc.Products[i]
		p.Region = strings.ToLower(p.Region)
		if p.Code == "" {
			return nil, fmt.Errorf("jsonfile: product %d has no code", i)
		}
		if p.PriceRef == "" {
			p.PriceRef = p.Code
		}
		id := p.Region + "/" + p.Code
		if seen[id] {
			return nil, fmt.Errorf("jsonfile: duplicate product %s in region %q", p.Code, p.Region)
		}
		seen[id] = true
	}
	return billing.NewCatalog(doc.Products, time.Now().UTC()), nil
}

// SubmitQuotation archives the quotation and returns its location
func (b *JSONFileBackend) SubmitQuotation(ctx context.Context, q *billing.Quotation, idempotencyKey string) (string, error) {
	if q.IsEmpty() {
		return billing.ReferenceNone, nil
	}
	stored := *q
	stored.IdempotencyKey = idempotencyKey

	ref, err := b.archiver.Archive(ctx, &stored)
	if err != nil {
		if billing.KindOf(err) != "" {
			return "", err
		}
		return "", transient("submit", err)
	}
	b.logger.Info("Stored quotation",
		zap.String("tenant_id", q.TenantID),
		zap.String("reference", ref),
		zap.Int("line_items", len(q.LineItems)))
	return ref, nil
}
