package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/usagebill/backend/internal/domain/billing"
	"go.uber.org/zap/zaptest"
)

type countingSource struct {
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (s *countingSource) Name() string { return "test" }

func (s *countingSource) GetCatalog(ctx context.Context) (*billing.Catalog, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return nil, s.err
	}
	return billing.NewCatalog([]billing.Product{{Code: "c1.c1r1", Unit: "hour"}}, time.Now()), nil
}

func TestCatalogCache(t *testing.T) {
	ctx := context.Background()

	t.Run("fetches once within the TTL", func(t *testing.T) {
		src := &countingSource{}
		c := NewCatalogCache(src, WithCatalogTTL(time.Minute), WithCatalogLogger(zaptest.NewLogger(t)))

		first, err := c.Catalog(ctx)
		require.NoError(t, err)
		second, err := c.Catalog(ctx)
		require.NoError(t, err)

		assert.Same(t, first, second)
		assert.Equal(t, int32(1), src.calls.Load())
		hits, misses := c.Stats()
		assert.Equal(t, int64(1), hits)
		assert.Equal(t, int64(1), misses)
	})

	t.Run("refetches after expiry", func(t *testing.T) {
		src := &countingSource{}
		c := NewCatalogCache(src, WithCatalogTTL(20*time.Millisecond))

		_, err := c.Catalog(ctx)
		require.NoError(t, err)
		time.Sleep(60 * time.Millisecond)
		_, err = c.Catalog(ctx)
		require.NoError(t, err)

		assert.Equal(t, int32(2), src.calls.Load())
	})

	t.Run("errors are not cached", func(t *testing.T) {
		src := &countingSource{err: errors.New("backend down")}
		c := NewCatalogCache(src)

		_, err := c.Catalog(ctx)
		require.Error(t, err)
		src.err = nil
		catalog, err := c.Catalog(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, catalog.Len())
	})

	t.Run("concurrent misses share one fetch", func(t *testing.T) {
		src := &countingSource{delay: 50 * time.Millisecond}
		c := NewCatalogCache(src)

		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := c.Catalog(ctx)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), src.calls.Load())
	})

	t.Run("invalidate forces a refetch", func(t *testing.T) {
		src := &countingSource{}
		c := NewCatalogCache(src)
		_, _ = c.Catalog(ctx)
		c.Invalidate()
		_, _ = c.Catalog(ctx)
		assert.Equal(t, int32(2), src.calls.Load())
	})
}
