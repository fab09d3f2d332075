package erp

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/usagebill/backend/internal/domain/billing"
	"github.com/usagebill/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// NewArchiver returns the S3 archiver when a bucket is configured and a
// directory next to the products file otherwise
func NewArchiver(ctx context.Context, cfg *config.Config, logger *zap.Logger) (billing.QuotationArchiver, error) {
	if cfg.Storage.Bucket == "" {
		dir := filepath.Join(filepath.Dir(cfg.JSONFile.ProductsFilePath), cfg.Storage.Prefix)
		logger.Debug("Archiving quotations to local directory", zap.String("dir", dir))
		return NewDirArchiver(dir), nil
	}
	archiver, err := NewS3Archiver(ctx, &cfg.Storage, WithArchiverLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := archiver.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return archiver, nil
}

// New creates the configured pricing driver. archiver is only used by the
// jsonfile driver and may be nil for the others.
func New(cfg *config.Config, archiver billing.QuotationArchiver, logger *zap.Logger) (billing.PricingBackend, error) {
	logger = logger.With(zap.String("pricing_driver", cfg.Pricing.Driver))
	switch cfg.Pricing.Driver {
	case DriverOdoo:
		return NewOdooBackend(OdooConfigFrom(cfg.Odoo), WithOdooLogger(logger))
	case DriverStripe:
		return NewStripeBackend(StripeConfigFrom(cfg.Stripe), WithStripeLogger(logger))
	case DriverJSONFile:
		return NewJSONFileBackend(cfg.JSONFile.ProductsFilePath, archiver, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Pricing.Driver)
	}
}
