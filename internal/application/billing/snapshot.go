package billing

import (
	"context"
	"time"

	domain "github.com/usagebill/backend/internal/domain/billing"
)

// PolicySource hands out the current configuration snapshot. The returned
// policy must never be mutated; reloads replace it.
type PolicySource interface {
	Current() *domain.Policy
}

// CatalogProvider returns the pricing catalog, possibly from a cache
type CatalogProvider interface {
	Catalog(ctx context.Context) (*domain.Catalog, error)
}

// Snapshot is the immutable policy and catalog a run works against
type Snapshot struct {
	RunID   string
	Policy  *domain.Policy
	Catalog *domain.Catalog
	// CatalogErr is set when the catalog could not be fetched. Transform
	// still runs; rating fails as transient.
	CatalogErr error
	TakenAt    time.Time
}

// StaticPolicy is a PolicySource that always returns the same policy
type StaticPolicy struct {
	Policy *domain.Policy
}

// Current implements PolicySource
func (s StaticPolicy) Current() *domain.Policy {
	return s.Policy
}
