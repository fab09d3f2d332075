package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/usagebill/backend/internal/domain/billing"
)

type mockPricingBackend struct {
	mock.Mock
}

func (m *mockPricingBackend) Name() string { return "mock" }

func (m *mockPricingBackend) GetCatalog(ctx context.Context) (*billing.Catalog, error) {
	args := m.Called(ctx)
	if c := args.Get(0); c != nil {
		return c.(*billing.Catalog), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPricingBackend) SubmitQuotation(ctx context.Context, q *billing.Quotation, key string) (string, error) {
	args := m.Called(ctx, q, key)
	return args.String(0), args.Error(1)
}

func TestPricingBackend(t *testing.T) {
	ctx := context.Background()
	retry, _ := fastRetryer(3)
	unavailable := billing.NewTransientError("odoo", errors.New("connection refused"))

	t.Run("submit is retried with the same idempotency key", func(t *testing.T) {
		inner := new(mockPricingBackend)
		q := &billing.Quotation{TenantID: "T1"}
		inner.On("SubmitQuotation", mock.Anything, q, "key-1").Return("", unavailable).Once()
		inner.On("SubmitQuotation", mock.Anything, q, "key-1").Return("SO-9", nil).Once()

		p := NewPricingBackend(inner, retry, nil)
		ref, err := p.SubmitQuotation(ctx, q, "key-1")
		require.NoError(t, err)
		assert.Equal(t, "SO-9", ref)
		assert.Equal(t, "mock", p.Name())
		inner.AssertExpectations(t)
	})

	t.Run("rejection surfaces immediately", func(t *testing.T) {
		inner := new(mockPricingBackend)
		rejected := billing.NewQuotationRejected("odoo", errors.New("period closed"))
		inner.On("SubmitQuotation", mock.Anything, mock.Anything, "key-2").Return("", rejected).Once()

		p := NewPricingBackend(inner, retry, NewLimiter("mock", LimitConfig{MaxInFlight: 1}))
		_, err := p.SubmitQuotation(ctx, &billing.Quotation{}, "key-2")
		assert.ErrorIs(t, err, billing.ErrQuotationRejected)
		inner.AssertNumberOfCalls(t, "SubmitQuotation", 1)
	})

	t.Run("catalog exhausts retries", func(t *testing.T) {
		inner := new(mockPricingBackend)
		inner.On("GetCatalog", mock.Anything).Return(nil, unavailable)

		p := NewPricingBackend(inner, retry, nil)
		_, err := p.GetCatalog(ctx)
		assert.ErrorIs(t, err, billing.ErrTransientIO)
		inner.AssertNumberOfCalls(t, "GetCatalog", 3)
	})

	t.Run("catalog", func(t *testing.T) {
		inner := new(mockPricingBackend)
		catalog := billing.NewCatalog([]billing.Product{{Code: "c1.c1r1"}}, time.Now())
		inner.On("GetCatalog", mock.Anything).Return(catalog, nil)

		got, err := NewPricingBackend(inner, retry, nil).GetCatalog(ctx)
		require.NoError(t, err)
		assert.Same(t, catalog, got)
	})
}
