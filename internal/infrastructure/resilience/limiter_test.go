package resilience

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/usagebill/backend/internal/domain/billing"
)

func TestLimiter_MaxInFlight(t *testing.T) {
	l := NewLimiter("odoo", LimitConfig{MaxInFlight: 2})
	ctx := context.Background()

	var current, peak atomic.Int64
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Do(ctx, func(context.Context) error {
				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				current.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int64(2))
	assert.Equal(t, "odoo", l.Name())
}

func TestLimiter_RateWaitPastDeadlineIsTransient(t *testing.T) {
	l := NewLimiter("gnocchi", LimitConfig{RatePerSecond: 0.001, Burst: 1})

	release, err := l.Acquire(context.Background())
	require.NoError(t, err)
	release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx)
	assert.ErrorIs(t, err, billing.ErrTransientIO)
}

func TestLimiter_Unlimited(t *testing.T) {
	l := NewLimiter("jsonfile", LimitConfig{})
	for range 100 {
		release, err := l.Acquire(context.Background())
		require.NoError(t, err)
		release()
	}
}
