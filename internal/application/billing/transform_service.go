package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/usagebill/backend/internal/domain/billing"
	"github.com/usagebill/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// TransformResult is the outcome of transforming one tenant window
type TransformResult struct {
	TenantID      string
	Window        domain.BillingWindow
	Entries       []domain.UsageEntry
	ContentHash   string
	Issues        []domain.Issue
	Excluded      []domain.SkippedEntry
	DroppedEvents int
	// Skipped is set for ignored tenants; nothing was computed or written
	Skipped bool
	// LedgerWritten is set when a new revision was appended
	LedgerWritten bool
	Revision      int64
}

// TransformService turns collected events into usage entries and records
// them in the window ledger
type TransformService struct {
	ledger  domain.LedgerRepository
	locker  shared.Locker
	lockTTL time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewTransformService creates a new TransformService
func NewTransformService(ledger domain.LedgerRepository, logger *zap.Logger) *TransformService {
	return &TransformService{
		ledger: ledger,
		logger: logger,
		now:    time.Now,
	}
}

// WithLocker makes Transform hold the window lock that Rate takes, so a
// window is never rewritten while its quotation is being submitted
func (s *TransformService) WithLocker(locker shared.Locker, ttl time.Duration) *TransformService {
	if ttl <= 0 {
		ttl = DefaultRatingConfig().LockTTL
	}
	s.locker = locker
	s.lockTTL = ttl
	return s
}

// Transform aggregates the events of a tenant window and writes the
// transformed revision. Re-running with the same events is a no-op; a window
// that was already rated with different content is a ledger conflict, and a
// window whose rating is in flight is not ready.
func (s *TransformService) Transform(
	ctx context.Context,
	policy *domain.Policy,
	tenantID string,
	window domain.BillingWindow,
	events []domain.UsageEvent,
) (*TransformResult, error) {
	if err := window.Validate(); err != nil {
		return nil, domain.NewValidationError("transform", "%v", err)
	}

	out := domain.TransformEvents(domain.TransformInput{
		TenantID: tenantID,
		Window:   window,
		Events:   events,
		Policy:   policy,
	})
	result := &TransformResult{
		TenantID:      tenantID,
		Window:        window,
		Entries:       out.Entries,
		ContentHash:   out.ContentHash,
		Issues:        out.Issues,
		Excluded:      out.Excluded,
		DroppedEvents: out.DroppedEvents,
		Skipped:       out.Skipped,
	}
	if out.Skipped {
		s.logger.Debug("Tenant ignored by policy, skipping transform",
			zap.String("tenant_id", tenantID),
			zap.String("window", window.String()))
		return result, nil
	}

	key := window.Key(tenantID)
	if s.locker != nil {
		lock, err := s.locker.TryLock(ctx, windowLockKey(key), s.lockTTL)
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
	}

	head, err := s.head(ctx, key)
	if err != nil {
		return nil, err
	}

	written, revision, err := s.write(ctx, key, head, result)
	if errors.Is(err, domain.ErrLedgerCASConflict) {
		// one re-read: a concurrent writer with identical content is a no-op
		head, err = s.head(ctx, key)
		if err != nil {
			return nil, err
		}
		if head != nil && head.ContentHash == result.ContentHash {
			written, revision, err = false, head.Revision, nil
		} else {
			err = domain.NewLedgerConflict(key, stageOf(head), hashOf(head), result.ContentHash)
		}
	}
	if err != nil {
		return nil, err
	}

	result.LedgerWritten = written
	result.Revision = revision
	s.logger.Info("Window transformed",
		zap.String("tenant_id", tenantID),
		zap.String("window", window.String()),
		zap.Int("entries", len(result.Entries)),
		zap.Int("dropped_events", result.DroppedEvents),
		zap.Int("issues", len(result.Issues)),
		zap.Int64("revision", revision),
		zap.Bool("ledger_written", written))
	return result, nil
}

// write applies the ledger decision table for a transformed entry set
func (s *TransformService) write(ctx context.Context, key domain.WindowKey, head *domain.LedgerRecord, result *TransformResult) (bool, int64, error) {
	switch {
	case head == nil:
	case head.ContentHash == result.ContentHash:
		return false, head.Revision, nil
	case head.Stage == domain.StageRated:
		return false, head.Revision, domain.NewLedgerConflict(key, head.Stage, head.ContentHash, result.ContentHash)
	}

	next, err := domain.NewTransformedRecord(result.TenantID, result.Window, result.Entries, result.ContentHash, result.Issues, s.now())
	if err != nil {
		return false, 0, domain.NewValidationError("transform", "%v", err)
	}
	expected := domain.ExpectHead(head)
	next.Revision = expected.NextRevision()
	if head != nil {
		next.Epoch = head.Epoch
	}

	if err := s.ledger.CompareAndSwap(ctx, key, expected, next); err != nil {
		if errors.Is(err, domain.ErrLedgerCASConflict) {
			return false, 0, err
		}
		return false, 0, domain.NewTransientError("ledger", err)
	}
	return true, next.Revision, nil
}

func (s *TransformService) head(ctx context.Context, key domain.WindowKey) (*domain.LedgerRecord, error) {
	return loadHead(ctx, s.ledger, key)
}

// loadHead returns the head record or nil when the window is absent
func loadHead(ctx context.Context, ledger domain.LedgerRepository, key domain.WindowKey) (*domain.LedgerRecord, error) {
	head, err := ledger.Get(ctx, key)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewTransientError("ledger", fmt.Errorf("read %s: %w", key, err))
	}
	return head, nil
}

func hashOf(r *domain.LedgerRecord) string {
	if r == nil {
		return ""
	}
	return r.ContentHash
}

func stageOf(r *domain.LedgerRecord) domain.Stage {
	if r == nil {
		return ""
	}
	return r.Stage
}
