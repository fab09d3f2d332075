package dto

import (
	"time"

	appbilling "github.com/usagebill/backend/internal/application/billing"
	"github.com/usagebill/backend/internal/domain/billing"
)

// LedgerRecordResponse is one ledger revision of a tenant window
type LedgerRecordResponse struct {
	ID                string                `json:"id"`
	TenantID          string                `json:"tenant_id"`
	Window            billing.BillingWindow `json:"window"`
	Stage             string                `json:"stage"`
	Revision          int64                 `json:"revision"`
	Epoch             int                   `json:"epoch"`
	ContentHash       string                `json:"content_hash"`
	CompletedAt       time.Time             `json:"completed_at"`
	ExternalReference string                `json:"external_reference,omitempty"`
	EntryCount        int                   `json:"entry_count"`
	Entries           []billing.UsageEntry  `json:"entries,omitempty"`
	Quotation         *billing.Quotation    `json:"quotation,omitempty"`
	Issues            []billing.Issue       `json:"issues,omitempty"`
	Override          *billing.OverrideInfo `json:"override,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
}

// ToLedgerRecordResponse converts a ledger record. Entries are only
// included when withEntries is set.
func ToLedgerRecordResponse(r *billing.LedgerRecord, withEntries bool) LedgerRecordResponse {
	resp := LedgerRecordResponse{
		ID:                r.ID.String(),
		TenantID:          r.TenantID,
		Window:            r.Window,
		Stage:             r.Stage.String(),
		Revision:          r.Revision,
		Epoch:             r.Epoch,
		ContentHash:       r.ContentHash,
		CompletedAt:       r.CompletedAt,
		ExternalReference: r.ExternalReference,
		EntryCount:        len(r.Entries),
		Quotation:         r.Quotation,
		Issues:            r.Issues,
		Override:          r.Override,
		CreatedAt:         r.CreatedAt,
	}
	if withEntries {
		resp.Entries = r.Entries
	}
	return resp
}

// ToLedgerRecordResponses converts a list of records without their entries
func ToLedgerRecordResponses(records []*billing.LedgerRecord) []LedgerRecordResponse {
	out := make([]LedgerRecordResponse, 0, len(records))
	for _, r := range records {
		out = append(out, ToLedgerRecordResponse(r, false))
	}
	return out
}

// LedgerListQuery is the query string of GET /ledger
type LedgerListQuery struct {
	TenantID string     `form:"tenant_id" binding:"omitempty,max=128"`
	Stage    string     `form:"stage" binding:"omitempty,oneof=transformed rated"`
	From     *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To       *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Page     int        `form:"page" binding:"omitempty,min=1"`
	PageSize int        `form:"page_size" binding:"omitempty,min=1,max=500"`
}

// Filter converts the query to a normalized ledger filter
func (q LedgerListQuery) Filter() billing.LedgerFilter {
	return billing.LedgerFilter{
		TenantID: q.TenantID,
		Stage:    billing.Stage(q.Stage),
		From:     q.From,
		To:       q.To,
		Page:     q.Page,
		PageSize: q.PageSize,
	}.Normalize()
}

// WindowKeyURI binds the window path parameters
type WindowKeyURI struct {
	TenantID string `uri:"tenant" binding:"required"`
	Start    string `uri:"start" binding:"required"`
	End      string `uri:"end" binding:"required"`
}

// Key parses the RFC 3339 window bounds
func (u WindowKeyURI) Key() (billing.WindowKey, error) {
	start, err := time.Parse(time.RFC3339, u.Start)
	if err != nil {
		return billing.WindowKey{}, err
	}
	end, err := time.Parse(time.RFC3339, u.End)
	if err != nil {
		return billing.WindowKey{}, err
	}
	return billing.WindowKey{TenantID: u.TenantID, Start: start.UTC(), End: end.UTC()}, nil
}

// OverrideRequest reopens a rated window
type OverrideRequest struct {
	Reason string `json:"reason" binding:"required,min=3,max=500"`
}

// RunRequest triggers a pipeline run
type RunRequest struct {
	Kind    string   `json:"kind" binding:"required,oneof=cycle sweep"`
	Tenants []string `json:"tenants" binding:"omitempty,dive,required,max=128"`
	Async   bool     `json:"async"`
}

// RunSummaryResponse reports a finished synchronous run
type RunSummaryResponse struct {
	RunID      string                          `json:"run_id"`
	Kind       string                          `json:"kind"`
	StartedAt  time.Time                       `json:"started_at"`
	FinishedAt time.Time                       `json:"finished_at"`
	DurationMS int64                           `json:"duration_ms"`
	Tenants    int                             `json:"tenants"`
	Counts     map[appbilling.WindowStatus]int `json:"counts"`
	Windows    []appbilling.WindowResult       `json:"windows"`
}

// ToRunSummaryResponse converts a run summary
func ToRunSummaryResponse(s *appbilling.RunSummary) RunSummaryResponse {
	return RunSummaryResponse{
		RunID:      s.RunID,
		Kind:       s.Kind,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		DurationMS: s.Duration().Milliseconds(),
		Tenants:    s.Tenants,
		Counts:     s.Counts(),
		Windows:    s.Windows,
	}
}

// JobResponse reports a queued asynchronous run
type JobResponse struct {
	JobID       string    `json:"job_id"`
	Kind        string    `json:"kind"`
	Status      string    `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`
}
