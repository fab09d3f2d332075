// Package memory provides in-process repository implementations for tests
// and dry runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/usagebill/backend/internal/domain/billing"
	"github.com/usagebill/backend/internal/domain/shared"
)

// LedgerRepository is a billing.LedgerRepository held in memory
type LedgerRepository struct {
	mu      sync.RWMutex
	windows map[billing.WindowKey][]*billing.LedgerRecord
}

// NewLedgerRepository creates an empty in-memory ledger
func NewLedgerRepository() *LedgerRepository {
	return &LedgerRepository{windows: make(map[billing.WindowKey][]*billing.LedgerRecord)}
}

func normalizeKey(key billing.WindowKey) billing.WindowKey {
	key.Start = key.Start.UTC()
	key.End = key.End.UTC()
	return key
}

// Get returns the head revision of a window
func (r *LedgerRepository) Get(ctx context.Context, key billing.WindowKey) (*billing.LedgerRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	revisions := r.windows[normalizeKey(key)]
	if len(revisions) == 0 {
		return nil, shared.ErrNotFound
	}
	return copyRecord(revisions[len(revisions)-1]), nil
}

// CompareAndSwap appends next when the head matches expected
func (r *LedgerRepository) CompareAndSwap(ctx context.Context, key billing.WindowKey, expected billing.Expectation, next *billing.LedgerRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key = normalizeKey(key)

	r.mu.Lock()
	defer r.mu.Unlock()

	revisions := r.windows[key]
	var head *billing.LedgerRecord
	if len(revisions) > 0 {
		head = revisions[len(revisions)-1]
	}
	if !expected.Matches(head) {
		return billing.ErrLedgerCASConflict
	}
	if err := billing.CheckTransition(head, next); err != nil {
		return err
	}

	stored := copyRecord(next)
	stored.Revision = expected.NextRevision()
	stored.TenantID = key.TenantID
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	r.windows[key] = append(revisions, stored)
	next.Revision = stored.Revision
	return nil
}

// ListPending returns keys whose head is in stage and completed before the given time
func (r *LedgerRepository) ListPending(ctx context.Context, stage billing.Stage, before time.Time, limit int) ([]billing.WindowKey, error) {
	r.mu.RLock()
	heads := make([]*billing.LedgerRecord, 0)
	for _, revisions := range r.windows {
		head := revisions[len(revisions)-1]
		if head.Stage == stage && head.CompletedAt.Before(before) {
			heads = append(heads, head)
		}
	}
	r.mu.RUnlock()

	sort.Slice(heads, func(i, j int) bool {
		if !heads[i].CompletedAt.Equal(heads[j].CompletedAt) {
			return heads[i].CompletedAt.Before(heads[j].CompletedAt)
		}
		return heads[i].Key().String() < heads[j].Key().String()
	})
	if limit > 0 && len(heads) > limit {
		heads = heads[:limit]
	}
	keys := make([]billing.WindowKey, len(heads))
	for i, h := range heads {
		keys[i] = h.Key()
	}
	return keys, nil
}

// History returns every revision of a window
func (r *LedgerRepository) History(ctx context.Context, key billing.WindowKey) ([]*billing.LedgerRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	revisions := r.windows[normalizeKey(key)]
	out := make([]*billing.LedgerRecord, len(revisions))
	for i, rec := range revisions {
		out[i] = copyRecord(rec)
	}
	return out, nil
}

// LatestForTenant returns the head of the tenant's most recent window
func (r *LedgerRepository) LatestForTenant(ctx context.Context, tenantID string) (*billing.LedgerRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *billing.LedgerRecord
	for key, revisions := range r.windows {
		if key.TenantID != tenantID {
			continue
		}
		head := revisions[len(revisions)-1]
		if latest == nil || head.Window.End.After(latest.Window.End) {
			latest = head
		}
	}
	if latest == nil {
		return nil, shared.ErrNotFound
	}
	return copyRecord(latest), nil
}

// List returns heads matching the filter, newest window first
func (r *LedgerRepository) List(ctx context.Context, filter billing.LedgerFilter) ([]*billing.LedgerRecord, int64, error) {
	filter = filter.Normalize()

	r.mu.RLock()
	var matched []*billing.LedgerRecord
	for key, revisions := range r.windows {
		head := revisions[len(revisions)-1]
		if filter.TenantID != "" && key.TenantID != filter.TenantID {
			continue
		}
		if filter.Stage != "" && head.Stage != filter.Stage {
			continue
		}
		if filter.From != nil && key.Start.Before(*filter.From) {
			continue
		}
		if filter.To != nil && key.End.After(*filter.To) {
			continue
		}
		matched = append(matched, head)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Window.Start.Equal(matched[j].Window.Start) {
			return matched[i].Window.Start.After(matched[j].Window.Start)
		}
		return matched[i].TenantID < matched[j].TenantID
	})

	total := int64(len(matched))
	offset := (filter.Page - 1) * filter.PageSize
	if offset >= len(matched) {
		return []*billing.LedgerRecord{}, total, nil
	}
	end := min(offset+filter.PageSize, len(matched))
	out := make([]*billing.LedgerRecord, 0, end-offset)
	for _, rec := range matched[offset:end] {
		out = append(out, copyRecord(rec))
	}
	return out, total, nil
}

// copyRecord isolates stored records from callers. Entries and the
// quotation are treated as immutable once written.
func copyRecord(rec *billing.LedgerRecord) *billing.LedgerRecord {
	c := *rec
	return &c
}
