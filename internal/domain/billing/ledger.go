package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/usagebill/backend/internal/domain/shared"
)

// Stage is the pipeline stage a ledger revision records
type Stage string

const (
	StageTransformed Stage = "transformed"
	StageRated       Stage = "rated"
)

// IsValid returns true if the stage is known
func (s Stage) IsValid() bool {
	return s == StageTransformed || s == StageRated
}

// String returns the string representation of Stage
func (s Stage) String() string {
	return string(s)
}

// ErrLedgerCASConflict is returned when the ledger head no longer matches
// the expectation of a CompareAndSwap
var ErrLedgerCASConflict = errors.New("ledger head changed concurrently")

// OverrideInfo records a manual reopen of a rated window
type OverrideInfo struct {
	Reason            string    `json:"reason"`
	Actor             string    `json:"actor"`
	At                time.Time `json:"at"`
	PreviousReference string    `json:"previous_reference,omitempty"`
	PreviousRevision  int64     `json:"previous_revision"`
}

// LedgerRecord is one immutable revision of a tenant window's state.
// Records are only ever appended.
type LedgerRecord struct {
	ID                uuid.UUID
	TenantID          string
	Window            BillingWindow
	Stage             Stage
	Revision          int64
	ContentHash       string
	CompletedAt       time.Time
	ExternalReference string
	Entries           []UsageEntry
	Quotation         *Quotation
	Issues            []Issue
	Override          *OverrideInfo
	// Epoch counts overrides in the window's history. It salts the
	// quotation idempotency key so a reopened window is submitted afresh.
	Epoch     int
	CreatedAt time.Time
}

// Key returns the ledger key of the record
func (r *LedgerRecord) Key() WindowKey {
	return r.Window.Key(r.TenantID)
}

// NewTransformedRecord creates the next transformed revision for a window
func NewTransformedRecord(tenantID string, window BillingWindow, entries []UsageEntry, contentHash string, issues []Issue, now time.Time) (*LedgerRecord, error) {
	if tenantID == "" {
		return nil, shared.NewDomainError("INVALID_TENANT", "tenant ID cannot be empty")
	}
	if err := window.Validate(); err != nil {
		return nil, err
	}
	if contentHash == "" {
		return nil, shared.NewDomainError("INVALID_CONTENT_HASH", "content hash cannot be empty")
	}
	return &LedgerRecord{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Window:      window,
		Stage:       StageTransformed,
		ContentHash: contentHash,
		CompletedAt: now.UTC(),
		Entries:     entries,
		Issues:      issues,
		CreatedAt:   now.UTC(),
	}, nil
}

// MarkRated derives the rated revision that follows r
func (r *LedgerRecord) MarkRated(q *Quotation, reference string, now time.Time) (*LedgerRecord, error) {
	if r.Stage != StageTransformed {
		return nil, shared.NewDomainError("INVALID_STATE", fmt.Sprintf("cannot rate a %s record", r.Stage))
	}
	if reference == "" {
		return nil, shared.NewDomainError("INVALID_REFERENCE", "external reference cannot be empty")
	}
	next := r.successor(now)
	next.Stage = StageRated
	next.ExternalReference = reference
	next.Quotation = q
	return next, nil
}

// Reopen derives a transformed revision that follows a rated record, so the
// window can be transformed and rated again
func (r *LedgerRecord) Reopen(reason, actor string, now time.Time) (*LedgerRecord, error) {
	if r.Stage != StageRated {
		return nil, shared.NewDomainError("INVALID_STATE", "only rated windows can be reopened")
	}
	if reason == "" || actor == "" {
		return nil, shared.NewDomainError("INVALID_OVERRIDE", "override requires a reason and an actor")
	}
	next := r.successor(now)
	next.Stage = StageTransformed
	next.Override = &OverrideInfo{
		Reason:            reason,
		Actor:             actor,
		At:                now.UTC(),
		PreviousReference: r.ExternalReference,
		PreviousRevision:  r.Revision,
	}
	next.Epoch++
	return next, nil
}

func (r *LedgerRecord) successor(now time.Time) *LedgerRecord {
	return &LedgerRecord{
		ID:          uuid.New(),
		TenantID:    r.TenantID,
		Window:      r.Window,
		Stage:       r.Stage,
		Revision:    r.Revision + 1,
		ContentHash: r.ContentHash,
		CompletedAt: now.UTC(),
		Entries:     r.Entries,
		Issues:      r.Issues,
		Epoch:       r.Epoch,
		CreatedAt:   now.UTC(),
	}
}

// Expectation describes the head a CompareAndSwap requires
type Expectation struct {
	Absent   bool
	Stage    Stage
	Revision int64
}

// ExpectAbsent expects no record for the key
func ExpectAbsent() Expectation {
	return Expectation{Absent: true}
}

// ExpectHead expects head to still be the current revision
func ExpectHead(head *LedgerRecord) Expectation {
	if head == nil {
		return ExpectAbsent()
	}
	return Expectation{Stage: head.Stage, Revision: head.Revision}
}

// Matches reports whether head satisfies the expectation
func (e Expectation) Matches(head *LedgerRecord) bool {
	if e.Absent {
		return head == nil
	}
	return head != nil && head.Stage == e.Stage && head.Revision == e.Revision
}

// NextRevision returns the revision a successful swap appends
func (e Expectation) NextRevision() int64 {
	if e.Absent {
		return 1
	}
	return e.Revision + 1
}

// String formats the expectation for errors and logs
func (e Expectation) String() string {
	if e.Absent {
		return "absent"
	}
	return fmt.Sprintf("%s@%d", e.Stage, e.Revision)
}

// CheckTransition validates appending next after head. A rated window moves
// back to transformed only through an override.
func CheckTransition(head, next *LedgerRecord) error {
	if next == nil || !next.Stage.IsValid() {
		return shared.NewDomainError("INVALID_STATE", "next ledger record has no valid stage")
	}
	if head == nil {
		if next.Stage != StageTransformed {
			return shared.NewDomainError("INVALID_STATE", "first ledger revision must be transformed")
		}
		return nil
	}
	if head.Stage == StageRated && next.Stage == StageTransformed && next.Override == nil {
		return shared.NewDomainError("INVALID_STATE", "rated window can only be reopened by an override")
	}
	if head.Stage == StageRated && next.Stage == StageRated {
		return shared.NewDomainError("INVALID_STATE", "window is already rated")
	}
	return nil
}

// LedgerFilter selects ledger heads for listing
type LedgerFilter struct {
	TenantID string
	Stage    Stage
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

// Normalize applies paging defaults
func (f LedgerFilter) Normalize() LedgerFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = 50
	}
	if f.PageSize > 500 {
		f.PageSize = 500
	}
	return f
}

// LedgerRepository is the durable, append-only window ledger
type LedgerRepository interface {
	// Get returns the head revision of a window, or shared.ErrNotFound
	Get(ctx context.Context, key WindowKey) (*LedgerRecord, error)

	// CompareAndSwap appends next as the revision after the expected head.
	// Returns ErrLedgerCASConflict when the head does not match.
	CompareAndSwap(ctx context.Context, key WindowKey, expected Expectation, next *LedgerRecord) error

	// ListPending returns keys whose head is in stage and completed before the given time, oldest first
	ListPending(ctx context.Context, stage Stage, before time.Time, limit int) ([]WindowKey, error)

	// History returns every revision of a window in revision order
	History(ctx context.Context, key WindowKey) ([]*LedgerRecord, error)

	// LatestForTenant returns the head of the tenant's most recent window, or shared.ErrNotFound
	LatestForTenant(ctx context.Context, tenantID string) (*LedgerRecord, error)

	// List returns heads matching the filter and the total count
	List(ctx context.Context, filter LedgerFilter) ([]*LedgerRecord, int64, error)
}
