package collector

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/tidwall/gjson"
	"github.com/usagebill/backend/internal/domain/billing"
	"github.com/usagebill/backend/internal/infrastructure/resilience"
	"go.uber.org/zap"
)

// Source is the billing.UsageSource backed by the metering API
type Source struct {
	client     *Client
	normalizer Normalizer
	retry      *resilience.Retryer
	logger     *zap.Logger
}

// NewSource creates a usage source; the normalizer is chosen by the client's backend
func NewSource(client *Client, retry *resilience.Retryer, logger *zap.Logger) (*Source, error) {
	normalizer, err := NormalizerFor(client.Backend())
	if err != nil {
		return nil, err
	}
	return &Source{client: client, normalizer: normalizer, retry: retry, logger: logger}, nil
}

var _ billing.UsageSource = (*Source)(nil)

// ListTenants implements billing.UsageSource
func (s *Source) ListTenants(ctx context.Context) ([]string, error) {
	var tenants []string
	err := s.retry.Do(ctx, "list_tenants", func(ctx context.Context) error {
		var err error
		tenants, err = s.client.ListTenants(ctx)
		return err
	})
	return tenants, err
}

// Collect implements billing.UsageSource. Each page is retried on its own.
func (s *Source) Collect(ctx context.Context, tenantID string, window billing.BillingWindow) ([]billing.UsageEvent, error) {
	start := time.Now()
	stream := s.client.Stream(tenantID, billing.TimeRange{Start: window.Start, End: window.End})

	var events []billing.UsageEvent
	for {
		var records []gjson.Result
		err := s.retry.Do(ctx, "collect", func(ctx context.Context) error {
			var err error
			records, err = stream.Next(ctx)
			return err
		})
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.logger.Warn("Sample collection interrupted",
				zap.String("tenant_id", tenantID),
				zap.String("window", window.String()),
				zap.Int("pages", stream.Pages()),
				zap.String("cursor", stream.Cursor()),
				zap.Error(err))
			return nil, err
		}
		for _, raw := range records {
			events = append(events, s.normalizer.Normalize(raw))
		}
	}

	s.logger.Debug("Samples collected",
		zap.String("tenant_id", tenantID),
		zap.String("window", window.String()),
		zap.String("backend", s.normalizer.Backend()),
		zap.Int("pages", stream.Pages()),
		zap.Int("events", len(events)),
		zap.Duration("duration", time.Since(start)))
	return events, nil
}
