package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	domain "github.com/usagebill/backend/internal/domain/billing"
	"github.com/usagebill/backend/internal/infrastructure/cache"
	"github.com/usagebill/backend/internal/infrastructure/persistence/memory"
	"go.uber.org/zap/zaptest"
)

type ratingFixture struct {
	ledger  *memory.LedgerRepository
	backend *mockPricingBackend
	locker  *cache.InMemoryLocker
	rater   *RatingService
	window  domain.BillingWindow
	key     domain.WindowKey
}

func newRatingFixture(t *testing.T) *ratingFixture {
	t.Helper()
	ledger := memory.NewLedgerRepository()
	backend := new(mockPricingBackend)
	locker := cache.NewInMemoryLocker()
	window := dayWindow(t, jan1)
	return &ratingFixture{
		ledger:  ledger,
		backend: backend,
		locker:  locker,
		rater:   NewRatingService(ledger, backend, locker, zaptest.NewLogger(t), DefaultRatingConfig()),
		window:  window,
		key:     window.Key("T1"),
	}
}

func (f *ratingFixture) transform(t *testing.T, policy *domain.Policy, events []domain.UsageEvent) *TransformResult {
	t.Helper()
	svc := NewTransformService(f.ledger, zaptest.NewLogger(t))
	result, err := svc.Transform(context.Background(), policy, "T1", f.window, events)
	require.NoError(t, err)
	return result
}

func TestRatingService_Rate(t *testing.T) {
	ctx := context.Background()

	t.Run("window without a ledger record is not ready", func(t *testing.T) {
		f := newRatingFixture(t)
		_, err := f.rater.Rate(ctx, testSnapshot(t, testPolicy(t)), "T1", f.window)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrNotReady)
		f.backend.AssertNotCalled(t, "SubmitQuotation", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("daily counter scenario submits one line item once", func(t *testing.T) {
		f := newRatingFixture(t)
		policy := testPolicy(t)
		transformed := f.transform(t, policy, egressDay("T1", jan1))

		f.backend.On("SubmitQuotation", mock.Anything, mock.MatchedBy(func(q *domain.Quotation) bool {
			return len(q.LineItems) == 1 && q.ContentHash == transformed.ContentHash
		}), mock.AnythingOfType("string")).Return("SO-100", nil).Once()

		q, err := f.rater.Rate(ctx, testSnapshot(t, policy), "T1", f.window)
		require.NoError(t, err)
		assert.Equal(t, "SO-100", q.Reference)
		require.Len(t, q.LineItems, 1)
		assert.Equal(t, "n1.egress", q.LineItems[0].ProductCode)
		assert.Equal(t, "0.078125", q.LineItems[0].Quantity.String())
		assert.NotEmpty(t, q.IdempotencyKey)
		f.backend.AssertCalled(t, "SubmitQuotation", mock.Anything, mock.Anything, q.IdempotencyKey)

		head, err := f.ledger.Get(ctx, f.key)
		require.NoError(t, err)
		assert.Equal(t, domain.StageRated, head.Stage)
		assert.Equal(t, int64(2), head.Revision)
		assert.Equal(t, "SO-100", head.ExternalReference)

		// rerun returns the stored quotation without a second submission
		again, err := f.rater.Rate(ctx, testSnapshot(t, policy), "T1", f.window)
		require.NoError(t, err)
		assert.Equal(t, "SO-100", again.Reference)
		f.backend.AssertNumberOfCalls(t, "SubmitQuotation", 1)
		assert.False(t, f.locker.Held(windowLockKey(f.key)))
	})

	t.Run("held lock reports rating in progress", func(t *testing.T) {
		f := newRatingFixture(t)
		policy := testPolicy(t)
		f.transform(t, policy, egressDay("T1", jan1))

		_, err := f.locker.TryLock(ctx, windowLockKey(f.key), time.Minute)
		require.NoError(t, err)

		_, err = f.rater.Rate(ctx, testSnapshot(t, policy), "T1", f.window)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrNotReady)
		assert.Contains(t, err.Error(), "in progress")
		f.backend.AssertNotCalled(t, "SubmitQuotation", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unmapped region fails closed", func(t *testing.T) {
		f := newRatingFixture(t)
		policy := testPolicy(t, func(c *domain.PolicyConfig) { c.DefaultRegion = "au-syd-1" })
		f.transform(t, policy, egressDay("T1", jan1))

		_, err := f.rater.Rate(ctx, testSnapshot(t, policy), "T1", f.window)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrUnmappedRegion)
		assert.ErrorIs(t, err, domain.ErrConfigurationGap)
		f.backend.AssertNotCalled(t, "SubmitQuotation", mock.Anything, mock.Anything, mock.Anything)

		head, err := f.ledger.Get(ctx, f.key)
		require.NoError(t, err)
		assert.Equal(t, domain.StageTransformed, head.Stage)
	})

	t.Run("backend failure leaves the ledger untouched", func(t *testing.T) {
		f := newRatingFixture(t)
		policy := testPolicy(t)
		f.transform(t, policy, egressDay("T1", jan1))
		f.backend.On("SubmitQuotation", mock.Anything, mock.Anything, mock.Anything).
			Return("", errors.New("connection reset")).Once()

		_, err := f.rater.Rate(ctx, testSnapshot(t, policy), "T1", f.window)
		require.Error(t, err)
		assert.True(t, domain.IsRetryable(err))

		history, err := f.ledger.History(ctx, f.key)
		require.NoError(t, err)
		assert.Len(t, history, 1)
		assert.False(t, f.locker.Held(windowLockKey(f.key)), "lock must be released after a failure")
	})

	t.Run("backend rejection keeps its kind", func(t *testing.T) {
		f := newRatingFixture(t)
		policy := testPolicy(t)
		f.transform(t, policy, egressDay("T1", jan1))
		f.backend.On("SubmitQuotation", mock.Anything, mock.Anything, mock.Anything).
			Return("", domain.NewQuotationRejected("submit", errors.New("period closed"))).Once()

		_, err := f.rater.Rate(ctx, testSnapshot(t, policy), "T1", f.window)
		assert.ErrorIs(t, err, domain.ErrQuotationRejected)
		assert.False(t, domain.IsRetryable(err))
	})

	t.Run("everything skipped is rated without calling the backend", func(t *testing.T) {
		f := newRatingFixture(t)
		policy := testPolicy(t)
		f.transform(t, policy, egressDay("T1", jan1))
		snap := testSnapshot(t, policy)
		snap.Catalog = domain.NewCatalog(nil, jan1)

		q, err := f.rater.Rate(ctx, snap, "T1", f.window)
		require.NoError(t, err)
		assert.Equal(t, domain.ReferenceNone, q.Reference)
		assert.Empty(t, q.LineItems)
		require.Len(t, q.Skipped, 1)
		assert.Equal(t, domain.ReasonUnknownProduct, q.Skipped[0].Reason)
		f.backend.AssertNotCalled(t, "SubmitQuotation", mock.Anything, mock.Anything, mock.Anything)

		head, err := f.ledger.Get(ctx, f.key)
		require.NoError(t, err)
		assert.Equal(t, domain.StageRated, head.Stage)
		assert.Equal(t, domain.ReferenceNone, head.ExternalReference)
	})

	t.Run("ignored products are skipped", func(t *testing.T) {
		f := newRatingFixture(t)
		policy := testPolicy(t)
		events := append(egressDay("T1", jan1),
			usage("T1", "i-1", "instance", "instance.vcpus", "2", jan1.Add(time.Hour)))
		f.transform(t, policy, events)

		ignoring := testPolicy(t, func(c *domain.PolicyConfig) { c.IgnoreProducts = []string{"c1.vcpu"} })
		f.backend.On("SubmitQuotation", mock.Anything, mock.Anything, mock.Anything).Return("SO-7", nil).Once()

		q, err := f.rater.Rate(ctx, testSnapshot(t, ignoring), "T1", f.window)
		require.NoError(t, err)
		require.Len(t, q.LineItems, 1)
		assert.Equal(t, "n1.egress", q.LineItems[0].ProductCode)
		require.Len(t, q.Skipped, 1)
		assert.Equal(t, domain.ReasonIgnoredProduct, q.Skipped[0].Reason)
	})

	t.Run("missing catalog is transient", func(t *testing.T) {
		f := newRatingFixture(t)
		policy := testPolicy(t)
		f.transform(t, policy, egressDay("T1", jan1))
		snap := testSnapshot(t, policy)
		snap.Catalog = nil
		snap.CatalogErr = errors.New("odoo unavailable")

		_, err := f.rater.Rate(ctx, snap, "T1", f.window)
		assert.True(t, domain.IsRetryable(err))
	})

	t.Run("reopened window is submitted with a fresh idempotency key", func(t *testing.T) {
		f := newRatingFixture(t)
		policy := testPolicy(t)
		f.transform(t, policy, egressDay("T1", jan1))

		var keys []string
		f.backend.On("SubmitQuotation", mock.Anything, mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { keys = append(keys, args.String(2)) }).
			Return("SO-1", nil).Twice()

		_, err := f.rater.Rate(ctx, testSnapshot(t, policy), "T1", f.window)
		require.NoError(t, err)

		ledgerSvc := NewLedgerService(f.ledger, zaptest.NewLogger(t))
		_, err = ledgerSvc.Override(ctx, OverrideRequest{Key: f.key, Reason: "customer dispute", Actor: "ops"})
		require.NoError(t, err)

		_, err = f.rater.Rate(ctx, testSnapshot(t, policy), "T1", f.window)
		require.NoError(t, err)

		require.Len(t, keys, 2)
		assert.NotEqual(t, keys[0], keys[1])
	})
}

func TestRatingService_TransformDuringSubmission(t *testing.T) {
	ctx := context.Background()
	late := usage("T1", "i-1", "instance", "network.outgoing.bytes", "250", jan1.Add(23*time.Hour+30*time.Minute))

	t.Run("transform waits for the window lock", func(t *testing.T) {
		f := newRatingFixture(t)
		policy := testPolicy(t)
		transformed := f.transform(t, policy, egressDay("T1", jan1))
		transformer := NewTransformService(f.ledger, zaptest.NewLogger(t)).WithLocker(f.locker, time.Minute)

		var transformErr error
		f.backend.On("SubmitQuotation", mock.Anything, mock.Anything, mock.Anything).
			Run(func(mock.Arguments) {
				_, transformErr = transformer.Transform(ctx, policy, "T1", f.window, append(egressDay("T1", jan1), late))
			}).
			Return("SO-1", nil).Once()

		q, err := f.rater.Rate(ctx, testSnapshot(t, policy), "T1", f.window)
		require.NoError(t, err)
		assert.Equal(t, "SO-1", q.Reference)
		assert.ErrorIs(t, transformErr, domain.ErrNotReady)

		head, err := f.ledger.Get(ctx, f.key)
		require.NoError(t, err)
		assert.Equal(t, domain.StageRated, head.Stage)
		assert.Equal(t, transformed.ContentHash, head.ContentHash)

		// the late sample now needs an override
		_, err = transformer.Transform(ctx, policy, "T1", f.window, append(egressDay("T1", jan1), late))
		assert.ErrorIs(t, err, domain.ErrLedgerConflict)
		assert.Contains(t, err.Error(), "is rated with content")
		f.backend.AssertNumberOfCalls(t, "SubmitQuotation", 1)
	})

	t.Run("submitted reference is recorded over a newer transform", func(t *testing.T) {
		f := newRatingFixture(t)
		policy := testPolicy(t)
		transformed := f.transform(t, policy, egressDay("T1", jan1))

		f.backend.On("SubmitQuotation", mock.Anything, mock.Anything, mock.Anything).
			Run(func(mock.Arguments) {
				f.transform(t, policy, append(egressDay("T1", jan1), late))
			}).
			Return("SO-1", nil).Once()

		q, err := f.rater.Rate(ctx, testSnapshot(t, policy), "T1", f.window)
		require.NoError(t, err)
		assert.Equal(t, "SO-1", q.Reference)

		head, err := f.ledger.Get(ctx, f.key)
		require.NoError(t, err)
		assert.Equal(t, domain.StageRated, head.Stage)
		assert.Equal(t, "SO-1", head.ExternalReference)
		assert.Equal(t, transformed.ContentHash, head.ContentHash, "the ledger holds what was submitted")
		assert.Equal(t, int64(3), head.Revision)

		again, err := f.rater.Rate(ctx, testSnapshot(t, policy), "T1", f.window)
		require.NoError(t, err)
		assert.Equal(t, "SO-1", again.Reference)
		f.backend.AssertNumberOfCalls(t, "SubmitQuotation", 1)
	})
}

func TestRatingService_ConcurrentRate(t *testing.T) {
	ctx := context.Background()
	f := newRatingFixture(t)
	policy := testPolicy(t)
	f.transform(t, policy, egressDay("T1", jan1))
	f.backend.On("SubmitQuotation", mock.Anything, mock.Anything, mock.Anything).
		After(20*time.Millisecond).
		Return("SO-1", nil).Once()

	const workers = 8
	snap := testSnapshot(t, policy)
	start := make(chan struct{})
	refs := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			q, err := f.rater.Rate(ctx, snap, "T1", f.window)
			if err == nil {
				refs[i] = q.Reference
			}
			errs[i] = err
		}(i)
	}
	close(start)
	wg.Wait()

	rated := 0
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			assert.ErrorIs(t, errs[i], domain.ErrNotReady)
			assert.Contains(t, errs[i].Error(), "in progress")
			continue
		}
		rated++
		assert.Equal(t, "SO-1", refs[i])
	}
	assert.GreaterOrEqual(t, rated, 1)
	f.backend.AssertNumberOfCalls(t, "SubmitQuotation", 1)

	history, err := f.ledger.History(ctx, f.key)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.StageRated, history[1].Stage)
	assert.False(t, f.locker.Held(windowLockKey(f.key)))
}
