package resilience

import (
	"context"

	"github.com/usagebill/backend/internal/domain/billing"
)

// PricingBackend retries and limits every call to a pricing driver.
// SubmitQuotation is safe to retry because drivers deduplicate on the
// idempotency key.
type PricingBackend struct {
	inner   billing.PricingBackend
	retry   *Retryer
	limiter *Limiter
}

// NewPricingBackend wraps inner
func NewPricingBackend(inner billing.PricingBackend, retry *Retryer, limiter *Limiter) *PricingBackend {
	if limiter == nil {
		limiter = NewLimiter(inner.Name(), LimitConfig{})
	}
	return &PricingBackend{inner: inner, retry: retry, limiter: limiter}
}

var _ billing.PricingBackend = (*PricingBackend)(nil)

// Name implements billing.PricingBackend
func (p *PricingBackend) Name() string {
	return p.inner.Name()
}

// GetCatalog implements billing.PricingBackend
func (p *PricingBackend) GetCatalog(ctx context.Context) (*billing.Catalog, error) {
	var catalog *billing.Catalog
	err := p.retry.Do(ctx, p.inner.Name()+".catalog", func(ctx context.Context) error {
		return p.limiter.Do(ctx, func(ctx context.Context) error {
			var err error
			catalog, err = p.inner.GetCatalog(ctx)
			return err
		})
	})
	return catalog, err
}

// SubmitQuotation implements billing.PricingBackend
func (p *PricingBackend) SubmitQuotation(ctx context.Context, q *billing.Quotation, idempotencyKey string) (string, error) {
	var reference string
	err := p.retry.Do(ctx, p.inner.Name()+".submit", func(ctx context.Context) error {
		return p.limiter.Do(ctx, func(ctx context.Context) error {
			var err error
			reference, err = p.inner.SubmitQuotation(ctx, q, idempotencyKey)
			return err
		})
	})
	return reference, err
}
