package billing

import (
	"context"
	"errors"
	"time"

	domain "github.com/usagebill/backend/internal/domain/billing"
	"github.com/usagebill/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// RatingConfig contains configuration for the rating service
type RatingConfig struct {
	// LockTTL bounds how long a crashed worker can block a window
	LockTTL time.Duration
}

// DefaultRatingConfig returns default configuration
func DefaultRatingConfig() RatingConfig {
	return RatingConfig{LockTTL: 5 * time.Minute}
}

// RatingService prices transformed windows through the pricing backend and
// records the result in the ledger
type RatingService struct {
	ledger   domain.LedgerRepository
	backend  domain.PricingBackend
	locker   shared.Locker
	archiver domain.QuotationArchiver
	logger   *zap.Logger
	config   RatingConfig
	now      func() time.Time
}

// NewRatingService creates a new RatingService
func NewRatingService(
	ledger domain.LedgerRepository,
	backend domain.PricingBackend,
	locker shared.Locker,
	logger *zap.Logger,
	config RatingConfig,
) *RatingService {
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultRatingConfig().LockTTL
	}
	return &RatingService{
		ledger:  ledger,
		backend: backend,
		locker:  locker,
		logger:  logger,
		config:  config,
		now:     time.Now,
	}
}

// WithArchiver keeps a copy of every submitted quotation
func (s *RatingService) WithArchiver(a domain.QuotationArchiver) *RatingService {
	s.archiver = a
	return s
}

// maxRecordAttempts bounds how often Rate chases a head that moved while
// the quotation was being submitted
const maxRecordAttempts = 3

// windowLockKey is held by Rate and Transform for the same window
func windowLockKey(key domain.WindowKey) string {
	return "usagebill:window:" + key.String()
}

// Rate submits the quotation of a transformed window exactly once. A window
// that is already rated returns its stored quotation.
func (s *RatingService) Rate(ctx context.Context, snap *Snapshot, tenantID string, window domain.BillingWindow) (*domain.Quotation, error) {
	key := window.Key(tenantID)
	if err := key.Validate(); err != nil {
		return nil, domain.NewValidationError("rate", "%v", err)
	}

	head, err := loadHead(ctx, s.ledger, key)
	if err != nil {
		return nil, err
	}
	if head == nil {
		return nil, domain.NewNotReady("rate", "window %s has not been transformed", key)
	}
	if head.Stage == domain.StageRated {
		return storedQuotation(head), nil
	}

	lock, err := s.locker.TryLock(ctx, windowLockKey(key), s.config.LockTTL)
	if errors.Is(err, shared.ErrLockHeld) {
		return nil, domain.NewRatingInProgress(key)
	}
	if err != nil {
		return nil, domain.NewTransientError("lock", err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("Failed to release window lock",
				zap.String("lock", lock.Key()),
				zap.Error(err))
		}
	}()

	// the head may have moved while the lock was contended
	if head, err = loadHead(ctx, s.ledger, key); err != nil {
		return nil, err
	}
	if head == nil {
		return nil, domain.NewNotReady("rate", "window %s has not been transformed", key)
	}
	if head.Stage == domain.StageRated {
		return storedQuotation(head), nil
	}

	q, err := s.quote(snap, head)
	if err != nil {
		return nil, err
	}

	reference := domain.ReferenceNone
	if !q.IsEmpty() {
		reference, err = s.backend.SubmitQuotation(ctx, q, q.IdempotencyKey)
		if err != nil {
			s.logger.Error("Quotation submission failed",
				zap.String("tenant_id", tenantID),
				zap.String("window", window.String()),
				zap.String("backend", s.backend.Name()),
				zap.Error(err))
			return nil, classifyBackendError(err)
		}
	}
	submittedAt := s.now().UTC()
	q.Reference = reference
	q.SubmittedAt = &submittedAt

	next, err := head.MarkRated(q, reference, submittedAt)
	if err != nil {
		return nil, domain.NewValidationError("rate", "%v", err)
	}
	recorded, err := s.record(ctx, key, head, next)
	if err != nil {
		if reference != domain.ReferenceNone {
			s.logger.Error("Submitted quotation could not be recorded",
				zap.String("tenant_id", tenantID),
				zap.String("window", window.String()),
				zap.String("reference", reference),
				zap.String("idempotency_key", q.IdempotencyKey),
				zap.Error(err))
		}
		return nil, err
	}
	if recorded != next {
		return storedQuotation(recorded), nil
	}

	s.logger.Info("Window rated",
		zap.String("tenant_id", tenantID),
		zap.String("window", window.String()),
		zap.String("reference", reference),
		zap.Int("line_items", len(q.LineItems)),
		zap.Int("skipped", len(q.Skipped)),
		zap.Int64("revision", recorded.Revision))

	if s.archiver != nil && !q.IsEmpty() {
		if location, err := s.archiver.Archive(ctx, q); err != nil {
			s.logger.Warn("Failed to archive quotation",
				zap.String("tenant_id", tenantID),
				zap.String("reference", reference),
				zap.Error(err))
		} else {
			s.logger.Debug("Quotation archived", zap.String("location", location))
		}
	}
	return q, nil
}

// record appends the rated revision after head. A submitted quotation is
// binding, so when a transform slipped in after head the rated revision is
// appended after it anyway and carries the content that was submitted. The
// returned record is next, or the rated head another writer already stored
// for the same content.
func (s *RatingService) record(ctx context.Context, key domain.WindowKey, head, next *domain.LedgerRecord) (*domain.LedgerRecord, error) {
	expected := domain.ExpectHead(head)
	for attempt := 1; ; attempt++ {
		err := s.ledger.CompareAndSwap(ctx, key, expected, next)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, domain.ErrLedgerCASConflict) {
			return nil, domain.NewTransientError("ledger", err)
		}

		current, err := loadHead(ctx, s.ledger, key)
		if err != nil {
			return nil, err
		}
		if current != nil && current.Stage == domain.StageRated && current.ContentHash == next.ContentHash {
			return current, nil
		}
		if current == nil || current.Stage != domain.StageTransformed || attempt == maxRecordAttempts {
			return nil, domain.NewLedgerConflict(key, stageOf(current), hashOf(current), next.ContentHash)
		}

		s.logger.Warn("Window transformed again during submission, recording the submitted content",
			zap.String("window", key.String()),
			zap.String("submitted_hash", next.ContentHash),
			zap.String("head_hash", current.ContentHash),
			zap.Int64("head_revision", current.Revision))
		expected = domain.ExpectHead(current)
		next.Revision = expected.NextRevision()
	}
}

// quote builds the quotation of a transformed head from the run snapshot
func (s *RatingService) quote(snap *Snapshot, head *domain.LedgerRecord) (*domain.Quotation, error) {
	if snap == nil || snap.Policy == nil {
		return nil, domain.NewConfigurationGap("rate", "no configuration snapshot")
	}
	if snap.Catalog == nil {
		if snap.CatalogErr != nil {
			return nil, domain.NewTransientError("catalog", snap.CatalogErr)
		}
		return nil, domain.NewTransientError("catalog", errors.New("pricing catalog unavailable"))
	}

	policy := snap.Policy
	region := policy.RegionFor(head.TenantID)
	backendRegion, ok := policy.BackendRegion(region)
	if !ok {
		return nil, domain.NewUnmappedRegion(head.TenantID, region)
	}

	return domain.BuildQuotation(domain.RatingInput{
		TenantID:      head.TenantID,
		Window:        head.Window,
		Region:        region,
		BackendRegion: backendRegion,
		TaxRate:       policy.TaxRateFor(backendRegion),
		ContentHash:   head.ContentHash,
		Epoch:         head.Epoch,
		Entries:       head.Entries,
		Catalog:       snap.Catalog,
		Mapping:       policy.Mapping(),
		Conversions:   policy.Conversions(),
	}), nil
}

func storedQuotation(rec *domain.LedgerRecord) *domain.Quotation {
	if rec.Quotation != nil {
		q := *rec.Quotation
		q.Reference = rec.ExternalReference
		return &q
	}
	return &domain.Quotation{
		TenantID:    rec.TenantID,
		Window:      rec.Window,
		ContentHash: rec.ContentHash,
		Reference:   rec.ExternalReference,
		LineItems:   []domain.LineItem{},
	}
}

// classifyBackendError keeps pipeline errors and treats anything else as transient
func classifyBackendError(err error) error {
	if domain.KindOf(err) != "" {
		return err
	}
	return domain.NewTransientError("submit", err)
}
