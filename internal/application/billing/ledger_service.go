package billing

import (
	"context"
	"errors"
	"time"

	domain "github.com/usagebill/backend/internal/domain/billing"
	"github.com/usagebill/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// LedgerService exposes ledger queries and manual overrides to operators
type LedgerService struct {
	ledger domain.LedgerRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewLedgerService creates a new LedgerService
func NewLedgerService(ledger domain.LedgerRepository, logger *zap.Logger) *LedgerService {
	return &LedgerService{
		ledger: ledger,
		logger: logger,
		now:    time.Now,
	}
}

// OverrideRequest asks for a rated window to be reopened
type OverrideRequest struct {
	Key    domain.WindowKey
	Reason string
	Actor  string
}

// Get returns the head record of a window
func (s *LedgerService) Get(ctx context.Context, key domain.WindowKey) (*domain.LedgerRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, shared.NewDomainError("INVALID_INPUT", err.Error())
	}
	return s.ledger.Get(ctx, key)
}

// History returns the full audit trail of a window
func (s *LedgerService) History(ctx context.Context, key domain.WindowKey) ([]*domain.LedgerRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, shared.NewDomainError("INVALID_INPUT", err.Error())
	}
	records, err := s.ledger.History(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, shared.ErrNotFound
	}
	return records, nil
}

// List returns a page of ledger heads
func (s *LedgerService) List(ctx context.Context, filter domain.LedgerFilter) ([]*domain.LedgerRecord, int64, error) {
	return s.ledger.List(ctx, filter.Normalize())
}

// Override reopens a rated window. The appended transformed revision keeps
// the previous entries so the next transform can replace them.
func (s *LedgerService) Override(ctx context.Context, req OverrideRequest) (*domain.LedgerRecord, error) {
	if err := req.Key.Validate(); err != nil {
		return nil, shared.NewDomainError("INVALID_INPUT", err.Error())
	}
	head, err := s.ledger.Get(ctx, req.Key)
	if err != nil {
		return nil, err
	}
	next, err := head.Reopen(req.Reason, req.Actor, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.ledger.CompareAndSwap(ctx, req.Key, domain.ExpectHead(head), next); err != nil {
		if errors.Is(err, domain.ErrLedgerCASConflict) {
			return nil, shared.NewDomainError("CONCURRENT_MODIFICATION", "window changed while reopening, retry the override")
		}
		return nil, err
	}

	s.logger.Warn("Window reopened by override",
		zap.String("tenant_id", req.Key.TenantID),
		zap.String("window", req.Key.String()),
		zap.String("actor", req.Actor),
		zap.String("reason", req.Reason),
		zap.String("previous_reference", head.ExternalReference),
		zap.Int64("revision", next.Revision),
		zap.Int("epoch", next.Epoch))
	return next, nil
}
