package billing

import (
	"context"
	"time"
)

// ---------------------------------------------------------------------------
// Metering source
// ---------------------------------------------------------------------------

// TimeRange is a half-open [Start, End) interval of sample times
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// UsageSource reads normalized usage events from the metering backend
type UsageSource interface {
	// ListTenants returns every tenant known to the metering backend
	ListTenants(ctx context.Context) ([]string, error)

	// Collect returns all events of a tenant with sample times inside the window
	Collect(ctx context.Context, tenantID string, window BillingWindow) ([]UsageEvent, error)
}

// ---------------------------------------------------------------------------
// Pricing backend
// ---------------------------------------------------------------------------

// PricingBackend is the write-only rating sink with its own product catalog
type PricingBackend interface {
	// Name identifies the driver in logs and metrics
	Name() string

	// GetCatalog returns the products known to the backend
	GetCatalog(ctx context.Context) (*Catalog, error)

	// SubmitQuotation submits a quotation and returns the backend's reference.
	// Submitting twice with the same idempotency key must not create a
	// second document.
	SubmitQuotation(ctx context.Context, q *Quotation, idempotencyKey string) (string, error)
}

// QuotationArchiver keeps a copy of every rated quotation
type QuotationArchiver interface {
	Archive(ctx context.Context, q *Quotation) (string, error)
}
