package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/usagebill/backend/internal/domain/billing"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const defaultCatalogTTL = 15 * time.Minute

// CatalogSource fetches the pricing catalog from the backend
type CatalogSource interface {
	Name() string
	GetCatalog(ctx context.Context) (*billing.Catalog, error)
}

// CatalogCache serves the pricing catalog from an expiring LRU so a run
// reads one consistent catalog and the backend is asked at most once per TTL
type CatalogCache struct {
	source CatalogSource
	lru    *expirable.LRU[string, *billing.Catalog]
	group  singleflight.Group
	logger *zap.Logger

	// Stats for monitoring
	hits   atomic.Int64
	misses atomic.Int64
}

// CatalogCacheOption is a functional option for configuring the cache
type CatalogCacheOption func(*catalogCacheOptions)

type catalogCacheOptions struct {
	ttl    time.Duration
	logger *zap.Logger
}

// WithCatalogTTL sets how long a fetched catalog stays valid
func WithCatalogTTL(ttl time.Duration) CatalogCacheOption {
	return func(o *catalogCacheOptions) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithCatalogLogger sets the logger for the cache
func WithCatalogLogger(logger *zap.Logger) CatalogCacheOption {
	return func(o *catalogCacheOptions) {
		o.logger = logger
	}
}

// NewCatalogCache creates a catalog cache in front of source
func NewCatalogCache(source CatalogSource, opts ...CatalogCacheOption) *CatalogCache {
	o := catalogCacheOptions{ttl: defaultCatalogTTL, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &CatalogCache{
		source: source,
		lru:    expirable.NewLRU[string, *billing.Catalog](4, nil, o.ttl),
		logger: o.logger,
	}
}

// Catalog returns the cached catalog, fetching it when absent or expired.
// Concurrent misses share one fetch.
func (c *CatalogCache) Catalog(ctx context.Context) (*billing.Catalog, error) {
	key := c.source.Name()
	if catalog, ok := c.lru.Get(key); ok {
		c.hits.Add(1)
		return catalog, nil
	}
	c.misses.Add(1)

	v, err, _ := c.group.Do(key, func() (any, error) {
		catalog, err := c.source.GetCatalog(ctx)
		if err != nil {
			return nil, err
		}
		c.lru.Add(key, catalog)
		c.logger.Info("Pricing catalog refreshed",
			zap.String("backend", key),
			zap.Int("products", catalog.Len()))
		return catalog, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*billing.Catalog), nil
}

// Invalidate drops the cached catalog
func (c *CatalogCache) Invalidate() {
	c.lru.Purge()
}

// Stats returns cache hits and misses
func (c *CatalogCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
