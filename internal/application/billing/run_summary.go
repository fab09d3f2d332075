package billing

import (
	"context"
	"time"

	domain "github.com/usagebill/backend/internal/domain/billing"
)

// WindowStatus is the outcome of one tenant window in a run
type WindowStatus string

const (
	WindowSucceeded WindowStatus = "succeeded"
	WindowSkipped   WindowStatus = "skipped"
	WindowFailed    WindowStatus = "failed"
	WindowNotReady  WindowStatus = "not_ready"
)

// WindowResult reports what happened to one tenant window
type WindowResult struct {
	TenantID  string                `json:"tenant_id"`
	Window    domain.BillingWindow  `json:"window"`
	Status    WindowStatus          `json:"status"`
	Stage     string                `json:"stage,omitempty"`
	Entries   int                   `json:"entries"`
	Dropped   int                   `json:"dropped_events,omitempty"`
	Revision  int64                 `json:"revision,omitempty"`
	Reference string                `json:"reference,omitempty"`
	Skipped   []domain.SkippedEntry `json:"skipped,omitempty"`
	Issues    []domain.Issue        `json:"issues,omitempty"`
	ErrorKind domain.ErrorKind      `json:"error_kind,omitempty"`
	Error     string                `json:"error,omitempty"`
	Duration  time.Duration         `json:"duration"`

	// Usage is the transformed entry set, kept for observers only
	Usage []domain.UsageEntry `json:"-"`
}

// fail records err on the result, classifying not-ready errors separately
func (r *WindowResult) fail(stage string, err error) {
	r.Stage = stage
	r.Error = err.Error()
	r.ErrorKind = domain.KindOf(err)
	r.Status = WindowFailed
	if r.ErrorKind == domain.KindNotReady {
		r.Status = WindowNotReady
	}
}

// RunSummary aggregates the results of one pipeline cycle or sweep
type RunSummary struct {
	RunID      string         `json:"run_id"`
	Kind       string         `json:"kind"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Tenants    int            `json:"tenants"`
	Windows    []WindowResult `json:"windows"`
}

// Run kinds
const (
	RunKindCycle  = "cycle"
	RunKindSweep  = "sweep"
	RunKindManual = "manual"
)

// Counts returns the number of windows per status
func (s *RunSummary) Counts() map[WindowStatus]int {
	counts := make(map[WindowStatus]int, 4)
	for _, w := range s.Windows {
		counts[w.Status]++
	}
	return counts
}

// HasFailures reports whether any window failed
func (s *RunSummary) HasFailures() bool {
	for _, w := range s.Windows {
		if w.Status == WindowFailed {
			return true
		}
	}
	return false
}

// Duration returns how long the run took
func (s *RunSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// RunLogRepository persists run summaries for audit
type RunLogRepository interface {
	Save(ctx context.Context, summary *RunSummary) error
	Recent(ctx context.Context, limit int) ([]*RunSummary, error)
}

// CycleObserver is notified about pipeline progress
type CycleObserver interface {
	CycleStarted(ctx context.Context, runID string, at time.Time)
	WindowProcessed(ctx context.Context, result WindowResult)
	CycleFinished(ctx context.Context, summary *RunSummary)
}
