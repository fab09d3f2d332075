package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domain "github.com/usagebill/backend/internal/domain/billing"
	"github.com/usagebill/backend/internal/infrastructure/cache"
	"github.com/usagebill/backend/internal/infrastructure/persistence/memory"
	"go.uber.org/zap/zaptest"
)

func TestTransformService_Transform(t *testing.T) {
	ctx := context.Background()
	window := dayWindow(t, jan1)
	key := window.Key("T1")

	t.Run("first run writes revision 1", func(t *testing.T) {
		ledger := memory.NewLedgerRepository()
		svc := NewTransformService(ledger, zaptest.NewLogger(t))

		result, err := svc.Transform(ctx, testPolicy(t), "T1", window, egressDay("T1", jan1))
		require.NoError(t, err)

		assert.True(t, result.LedgerWritten)
		assert.Equal(t, int64(1), result.Revision)
		require.Len(t, result.Entries, 1)
		assert.Equal(t, "80", result.Entries[0].Quantity.String())

		head, err := ledger.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, domain.StageTransformed, head.Stage)
		assert.Equal(t, result.ContentHash, head.ContentHash)
	})

	t.Run("rerun with the same events is a no-op", func(t *testing.T) {
		ledger := memory.NewLedgerRepository()
		svc := NewTransformService(ledger, zaptest.NewLogger(t))
		policy := testPolicy(t)

		first, err := svc.Transform(ctx, policy, "T1", window, egressDay("T1", jan1))
		require.NoError(t, err)
		second, err := svc.Transform(ctx, policy, "T1", window, egressDay("T1", jan1))
		require.NoError(t, err)

		assert.False(t, second.LedgerWritten)
		assert.Equal(t, first.ContentHash, second.ContentHash)
		history, err := ledger.History(ctx, key)
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})

	t.Run("changed events append a new transformed revision", func(t *testing.T) {
		ledger := memory.NewLedgerRepository()
		svc := NewTransformService(ledger, zaptest.NewLogger(t))
		policy := testPolicy(t)

		_, err := svc.Transform(ctx, policy, "T1", window, egressDay("T1", jan1))
		require.NoError(t, err)

		late := append(egressDay("T1", jan1), usage("T1", "i-1", "instance", "network.outgoing.bytes", "200", jan1.Add(23*time.Hour+30*time.Minute)))
		result, err := svc.Transform(ctx, policy, "T1", window, late)
		require.NoError(t, err)

		assert.True(t, result.LedgerWritten)
		assert.Equal(t, int64(2), result.Revision)
		assert.Equal(t, "100", result.Entries[0].Quantity.String())
	})

	t.Run("rated window with different content is a ledger conflict", func(t *testing.T) {
		ledger := memory.NewLedgerRepository()
		svc := NewTransformService(ledger, zaptest.NewLogger(t))
		policy := testPolicy(t)

		_, err := svc.Transform(ctx, policy, "T1", window, egressDay("T1", jan1))
		require.NoError(t, err)
		markRated(t, ledger, key)

		late := append(egressDay("T1", jan1), usage("T1", "i-1", "instance", "network.outgoing.bytes", "200", jan1.Add(23*time.Hour+30*time.Minute)))
		_, err = svc.Transform(ctx, policy, "T1", window, late)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrLedgerConflict)

		history, err := ledger.History(ctx, key)
		require.NoError(t, err)
		assert.Len(t, history, 2, "conflict must not mutate the ledger")
		assert.Equal(t, domain.StageRated, history[1].Stage)
	})

	t.Run("rated window with the same content is a no-op", func(t *testing.T) {
		ledger := memory.NewLedgerRepository()
		svc := NewTransformService(ledger, zaptest.NewLogger(t))
		policy := testPolicy(t)

		_, err := svc.Transform(ctx, policy, "T1", window, egressDay("T1", jan1))
		require.NoError(t, err)
		markRated(t, ledger, key)

		result, err := svc.Transform(ctx, policy, "T1", window, egressDay("T1", jan1))
		require.NoError(t, err)
		assert.False(t, result.LedgerWritten)
		assert.Equal(t, int64(2), result.Revision)
	})

	t.Run("ignored tenant is skipped without touching the ledger", func(t *testing.T) {
		ledger := memory.NewLedgerRepository()
		svc := NewTransformService(ledger, zaptest.NewLogger(t))
		policy := testPolicy(t, func(c *domain.PolicyConfig) { c.IgnoreTenants = []string{"T1"} })

		result, err := svc.Transform(ctx, policy, "T1", window, egressDay("T1", jan1))
		require.NoError(t, err)
		assert.True(t, result.Skipped)
		assert.Empty(t, result.Entries)

		_, err = ledger.Get(ctx, key)
		assert.Error(t, err)
	})

	t.Run("concurrent writer with identical content is absorbed", func(t *testing.T) {
		inner := memory.NewLedgerRepository()
		racer := &racingLedger{LedgerRepository: inner}
		svc := NewTransformService(racer, zaptest.NewLogger(t))
		policy := testPolicy(t)

		// the racer writes the same entry set just before our swap lands
		racer.before = func() {
			other := NewTransformService(inner, zaptest.NewLogger(t))
			_, err := other.Transform(ctx, policy, "T1", window, egressDay("T1", jan1))
			require.NoError(t, err)
		}

		result, err := svc.Transform(ctx, policy, "T1", window, egressDay("T1", jan1))
		require.NoError(t, err)
		assert.False(t, result.LedgerWritten)
		assert.Equal(t, int64(1), result.Revision)
	})

	t.Run("concurrent writer with different content is a conflict", func(t *testing.T) {
		inner := memory.NewLedgerRepository()
		racer := &racingLedger{LedgerRepository: inner}
		svc := NewTransformService(racer, zaptest.NewLogger(t))
		policy := testPolicy(t)

		racer.before = func() {
			other := NewTransformService(inner, zaptest.NewLogger(t))
			_, err := other.Transform(ctx, policy, "T1", window, egressDay("T1", jan1)[:1])
			require.NoError(t, err)
		}

		_, err := svc.Transform(ctx, policy, "T1", window, egressDay("T1", jan1))
		assert.ErrorIs(t, err, domain.ErrLedgerConflict)
		assert.Contains(t, err.Error(), "is transformed with content")
	})

	t.Run("invalid window is rejected", func(t *testing.T) {
		svc := NewTransformService(memory.NewLedgerRepository(), zaptest.NewLogger(t))
		_, err := svc.Transform(ctx, testPolicy(t), "T1", domain.BillingWindow{}, nil)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestTransformService_WindowLock(t *testing.T) {
	ctx := context.Background()
	window := dayWindow(t, jan1)
	key := window.Key("T1")
	locker := cache.NewInMemoryLocker()
	ledger := memory.NewLedgerRepository()
	svc := NewTransformService(ledger, zaptest.NewLogger(t)).WithLocker(locker, time.Minute)

	lock, err := locker.TryLock(ctx, windowLockKey(key), time.Minute)
	require.NoError(t, err)

	_, err = svc.Transform(ctx, testPolicy(t), "T1", window, egressDay("T1", jan1))
	assert.ErrorIs(t, err, domain.ErrNotReady)
	_, err = ledger.Get(ctx, key)
	assert.Error(t, err, "nothing is written while the window is being rated")

	require.NoError(t, lock.Release(ctx))
	result, err := svc.Transform(ctx, testPolicy(t), "T1", window, egressDay("T1", jan1))
	require.NoError(t, err)
	assert.True(t, result.LedgerWritten)
	assert.False(t, locker.Held(windowLockKey(key)))
}

// racingLedger runs before ahead of the first CompareAndSwap
type racingLedger struct {
	domain.LedgerRepository
	before func()
	fired  bool
}

func (r *racingLedger) CompareAndSwap(ctx context.Context, key domain.WindowKey, expected domain.Expectation, next *domain.LedgerRecord) error {
	if !r.fired && r.before != nil {
		r.fired = true
		r.before()
	}
	return r.LedgerRepository.CompareAndSwap(ctx, key, expected, next)
}

func markRated(t *testing.T, ledger domain.LedgerRepository, key domain.WindowKey) {
	t.Helper()
	ctx := context.Background()
	head, err := ledger.Get(ctx, key)
	require.NoError(t, err)
	next, err := head.MarkRated(&domain.Quotation{TenantID: key.TenantID}, "Q-1", time.Now())
	require.NoError(t, err)
	require.NoError(t, ledger.CompareAndSwap(ctx, key, domain.ExpectHead(head), next))
}
