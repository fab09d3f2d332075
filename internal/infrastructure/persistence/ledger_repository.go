package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/usagebill/backend/internal/domain/billing"
	"github.com/usagebill/backend/internal/domain/shared"
	"github.com/usagebill/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// headCondition keeps only the highest revision of every window
const headCondition = `ledger_records.revision = (
	SELECT MAX(r2.revision) FROM ledger_records r2
	WHERE r2.tenant_id = ledger_records.tenant_id
	AND r2.window_start = ledger_records.window_start
	AND r2.window_end = ledger_records.window_end)`

// GormLedgerRepository implements billing.LedgerRepository on an
// append-only ledger_records table
type GormLedgerRepository struct {
	db *gorm.DB
}

// NewGormLedgerRepository creates a new ledger repository
func NewGormLedgerRepository(db *gorm.DB) *GormLedgerRepository {
	return &GormLedgerRepository{db: db}
}

var _ billing.LedgerRepository = (*GormLedgerRepository)(nil)

func windowScope(key billing.WindowKey) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("tenant_id = ? AND window_start = ? AND window_end = ?",
			key.TenantID, key.Start.UTC(), key.End.UTC())
	}
}

// Get returns the head revision of a window
func (r *GormLedgerRepository) Get(ctx context.Context, key billing.WindowKey) (*billing.LedgerRecord, error) {
	head, err := r.head(r.db.WithContext(ctx), key)
	if err != nil {
		return nil, err
	}
	if head == nil {
		return nil, shared.ErrNotFound
	}
	return head.ToDomain()
}

func (r *GormLedgerRepository) head(db *gorm.DB, key billing.WindowKey) (*models.LedgerRecordModel, error) {
	var model models.LedgerRecordModel
	err := db.Scopes(windowScope(key)).Order("revision DESC").Limit(1).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load ledger head %s: %w", key, err)
	}
	return &model, nil
}

// CompareAndSwap appends next as revision expected+1. The head check and the
// insert share a transaction; a concurrent writer that inserts the same
// revision first makes the insert fail on the unique index.
func (r *GormLedgerRepository) CompareAndSwap(ctx context.Context, key billing.WindowKey, expected billing.Expectation, next *billing.LedgerRecord) error {
	model, err := models.LedgerRecordModelFromDomain(next)
	if err != nil {
		return fmt.Errorf("encode ledger record: %w", err)
	}
	model.TenantID = key.TenantID
	model.WindowStart = key.Start.UTC()
	model.WindowEnd = key.End.UTC()
	model.Revision = expected.NextRevision()
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		headModel, err := r.head(tx, key)
		if err != nil {
			return err
		}
		var head *billing.LedgerRecord
		if headModel != nil {
			if head, err = headModel.ToDomain(); err != nil {
				return err
			}
		}
		if !expected.Matches(head) {
			return billing.ErrLedgerCASConflict
		}
		if err := billing.CheckTransition(head, next); err != nil {
			return err
		}
		if err := tx.Create(model).Error; err != nil {
			if isUniqueViolation(err) {
				return billing.ErrLedgerCASConflict
			}
			return fmt.Errorf("append ledger record %s: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	next.Revision = model.Revision
	return nil
}

// ListPending returns keys whose head is in stage and completed before the given time, oldest first
func (r *GormLedgerRepository) ListPending(ctx context.Context, stage billing.Stage, before time.Time, limit int) ([]billing.WindowKey, error) {
	var rows []models.LedgerRecordModel
	q := r.db.WithContext(ctx).
		Select("tenant_id", "window_start", "window_end").
		Where(headCondition).
		Where("stage = ? AND completed_at < ?", string(stage), before.UTC()).
		Order("completed_at ASC, tenant_id ASC, window_start ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list pending %s windows: %w", stage, err)
	}
	keys := make([]billing.WindowKey, len(rows))
	for i, row := range rows {
		keys[i] = billing.WindowKey{TenantID: row.TenantID, Start: row.WindowStart.UTC(), End: row.WindowEnd.UTC()}
	}
	return keys, nil
}

// History returns every revision of a window in revision order
func (r *GormLedgerRepository) History(ctx context.Context, key billing.WindowKey) ([]*billing.LedgerRecord, error) {
	var rows []models.LedgerRecordModel
	if err := r.db.WithContext(ctx).Scopes(windowScope(key)).Order("revision ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load ledger history %s: %w", key, err)
	}
	return toDomainRecords(rows)
}

// LatestForTenant returns the head of the tenant's most recent window
func (r *GormLedgerRepository) LatestForTenant(ctx context.Context, tenantID string) (*billing.LedgerRecord, error) {
	var model models.LedgerRecordModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("window_end DESC, revision DESC").
		Limit(1).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load latest window of %s: %w", tenantID, err)
	}
	return model.ToDomain()
}

// List returns heads matching the filter, newest window first
func (r *GormLedgerRepository) List(ctx context.Context, filter billing.LedgerFilter) ([]*billing.LedgerRecord, int64, error) {
	filter = filter.Normalize()

	q := r.db.WithContext(ctx).Model(&models.LedgerRecordModel{}).Where(headCondition)
	if filter.TenantID != "" {
		q = q.Where("tenant_id = ?", filter.TenantID)
	}
	if filter.Stage != "" {
		q = q.Where("stage = ?", string(filter.Stage))
	}
	if filter.From != nil {
		q = q.Where("window_start >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		q = q.Where("window_end <= ?", filter.To.UTC())
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count ledger heads: %w", err)
	}

	var rows []models.LedgerRecordModel
	err := q.Order("window_start DESC, tenant_id ASC").
		Offset((filter.Page - 1) * filter.PageSize).
		Limit(filter.PageSize).
		Find(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list ledger heads: %w", err)
	}
	records, err := toDomainRecords(rows)
	return records, total, err
}

func toDomainRecords(rows []models.LedgerRecordModel) ([]*billing.LedgerRecord, error) {
	out := make([]*billing.LedgerRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].ToDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// isUniqueViolation detects a duplicate key both with and without gorm's
// error translation
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLSTATE 23505") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
