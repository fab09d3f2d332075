package billing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domain "github.com/usagebill/backend/internal/domain/billing"
	"github.com/usagebill/backend/internal/domain/shared"
	"github.com/usagebill/backend/internal/infrastructure/persistence/memory"
	"go.uber.org/zap/zaptest"
)

func TestLedgerService(t *testing.T) {
	ctx := context.Background()
	window := dayWindow(t, jan1)
	key := window.Key("T1")

	setup := func(t *testing.T) (*LedgerService, *memory.LedgerRepository) {
		ledger := memory.NewLedgerRepository()
		_, err := NewTransformService(ledger, zaptest.NewLogger(t)).
			Transform(ctx, testPolicy(t), "T1", window, egressDay("T1", jan1))
		require.NoError(t, err)
		return NewLedgerService(ledger, zaptest.NewLogger(t)), ledger
	}

	t.Run("override reopens a rated window", func(t *testing.T) {
		svc, ledger := setup(t)
		markRated(t, ledger, key)

		rec, err := svc.Override(ctx, OverrideRequest{Key: key, Reason: "wrong flavor mapping", Actor: "alice"})
		require.NoError(t, err)
		assert.Equal(t, domain.StageTransformed, rec.Stage)
		assert.Equal(t, int64(3), rec.Revision)
		assert.Equal(t, 1, rec.Epoch)
		require.NotNil(t, rec.Override)
		assert.Equal(t, "Q-1", rec.Override.PreviousReference)

		history, err := svc.History(ctx, key)
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, domain.StageRated, history[1].Stage)
	})

	t.Run("override of an unrated window is refused", func(t *testing.T) {
		svc, _ := setup(t)
		_, err := svc.Override(ctx, OverrideRequest{Key: key, Reason: "r", Actor: "a"})
		require.Error(t, err)
		var de *shared.DomainError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, "INVALID_STATE", de.Code)
	})

	t.Run("override requires reason and actor", func(t *testing.T) {
		svc, ledger := setup(t)
		markRated(t, ledger, key)
		_, err := svc.Override(ctx, OverrideRequest{Key: key})
		assert.Error(t, err)
	})

	t.Run("unknown window", func(t *testing.T) {
		svc, _ := setup(t)
		_, err := svc.Get(ctx, dayWindow(t, jan2).Key("T1"))
		assert.ErrorIs(t, err, shared.ErrNotFound)
		_, err = svc.History(ctx, dayWindow(t, jan2).Key("T1"))
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("list filters by stage", func(t *testing.T) {
		svc, _ := setup(t)
		records, total, err := svc.List(ctx, domain.LedgerFilter{Stage: domain.StageTransformed})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, records, 1)
		assert.Equal(t, "T1", records[0].TenantID)

		_, total, err = svc.List(ctx, domain.LedgerFilter{Stage: domain.StageRated})
		require.NoError(t, err)
		assert.Zero(t, total)
	})

	t.Run("invalid key", func(t *testing.T) {
		svc, _ := setup(t)
		_, err := svc.Get(ctx, domain.WindowKey{})
		assert.Error(t, err)
	})
}
