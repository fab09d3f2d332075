package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/usagebill/backend/internal/domain/billing"
	"gorm.io/datatypes"
)

// LedgerRecordModel is one append-only revision of a tenant window.
// (tenant_id, window_start, window_end, revision) is unique, which is what
// makes a concurrent CompareAndSwap lose.
type LedgerRecordModel struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey"`
	TenantID          string         `gorm:"type:varchar(255);not null;uniqueIndex:uq_ledger_window_revision,priority:1;index:idx_ledger_tenant_end,priority:1"`
	WindowStart       time.Time      `gorm:"not null;uniqueIndex:uq_ledger_window_revision,priority:2"`
	WindowEnd         time.Time      `gorm:"not null;uniqueIndex:uq_ledger_window_revision,priority:3;index:idx_ledger_tenant_end,priority:2"`
	Granularity       string         `gorm:"type:varchar(20);not null"`
	Timezone          string         `gorm:"type:varchar(64);not null"`
	Revision          int64          `gorm:"not null;uniqueIndex:uq_ledger_window_revision,priority:4"`
	Stage             string         `gorm:"type:varchar(20);not null;index:idx_ledger_stage_completed,priority:1"`
	ContentHash       string         `gorm:"type:varchar(64);not null"`
	CompletedAt       time.Time      `gorm:"not null;index:idx_ledger_stage_completed,priority:2"`
	ExternalReference string         `gorm:"type:varchar(255)"`
	Entries           datatypes.JSON `gorm:"not null"`
	Quotation         datatypes.JSON
	Issues            datatypes.JSON
	Override          datatypes.JSON
	Epoch             int       `gorm:"not null;default:0"`
	CreatedAt         time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (LedgerRecordModel) TableName() string {
	return "ledger_records"
}

// ToDomain converts the model into a ledger record
func (m *LedgerRecordModel) ToDomain() (*billing.LedgerRecord, error) {
	rec := &billing.LedgerRecord{
		ID:       m.ID,
		TenantID: m.TenantID,
		Window: billing.BillingWindow{
			Start:       m.WindowStart.UTC(),
			End:         m.WindowEnd.UTC(),
			Granularity: billing.Granularity(m.Granularity),
			Timezone:    m.Timezone,
		},
		Stage:             billing.Stage(m.Stage),
		Revision:          m.Revision,
		ContentHash:       m.ContentHash,
		CompletedAt:       m.CompletedAt.UTC(),
		ExternalReference: m.ExternalReference,
		Epoch:             m.Epoch,
		CreatedAt:         m.CreatedAt.UTC(),
	}
	if err := unmarshalJSON(m.Entries, &rec.Entries); err != nil {
		return nil, fmt.Errorf("ledger record %s entries: %w", m.ID, err)
	}
	if err := unmarshalJSON(m.Issues, &rec.Issues); err != nil {
		return nil, fmt.Errorf("ledger record %s issues: %w", m.ID, err)
	}
	if len(m.Quotation) > 0 {
		rec.Quotation = &billing.Quotation{}
		if err := json.Unmarshal(m.Quotation, rec.Quotation); err != nil {
			return nil, fmt.Errorf("ledger record %s quotation: %w", m.ID, err)
		}
	}
	if len(m.Override) > 0 {
		rec.Override = &billing.OverrideInfo{}
		if err := json.Unmarshal(m.Override, rec.Override); err != nil {
			return nil, fmt.Errorf("ledger record %s override: %w", m.ID, err)
		}
	}
	return rec, nil
}

// LedgerRecordModelFromDomain creates a model from a ledger record
func LedgerRecordModelFromDomain(rec *billing.LedgerRecord) (*LedgerRecordModel, error) {
	m := &LedgerRecordModel{
		ID:                rec.ID,
		TenantID:          rec.TenantID,
		WindowStart:       rec.Window.Start.UTC(),
		WindowEnd:         rec.Window.End.UTC(),
		Granularity:       string(rec.Window.Granularity),
		Timezone:          rec.Window.Timezone,
		Revision:          rec.Revision,
		Stage:             string(rec.Stage),
		ContentHash:       rec.ContentHash,
		CompletedAt:       rec.CompletedAt.UTC(),
		ExternalReference: rec.ExternalReference,
		Epoch:             rec.Epoch,
		CreatedAt:         rec.CreatedAt.UTC(),
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	entries := rec.Entries
	if entries == nil {
		entries = []billing.UsageEntry{}
	}
	var err error
	if m.Entries, err = json.Marshal(entries); err != nil {
		return nil, err
	}
	if len(rec.Issues) > 0 {
		if m.Issues, err = json.Marshal(rec.Issues); err != nil {
			return nil, err
		}
	}
	if rec.Quotation != nil {
		if m.Quotation, err = json.Marshal(rec.Quotation); err != nil {
			return nil, err
		}
	}
	if rec.Override != nil {
		if m.Override, err = json.Marshal(rec.Override); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func unmarshalJSON(data datatypes.JSON, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, v)
}
