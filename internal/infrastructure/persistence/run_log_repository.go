package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/usagebill/backend/internal/application/billing"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PipelineRunModel is the audit row of one pipeline run
type PipelineRunModel struct {
	RunID      string         `gorm:"type:varchar(64);primaryKey"`
	Kind       string         `gorm:"type:varchar(20);not null"`
	StartedAt  time.Time      `gorm:"not null;index"`
	FinishedAt time.Time      `gorm:"not null"`
	Tenants    int            `gorm:"not null;default:0"`
	Succeeded  int            `gorm:"not null;default:0"`
	Failed     int            `gorm:"not null;default:0"`
	NotReady   int            `gorm:"not null;default:0"`
	Skipped    int            `gorm:"not null;default:0"`
	Windows    datatypes.JSON `gorm:"not null"`
}

// TableName returns the table name for GORM
func (PipelineRunModel) TableName() string {
	return "pipeline_runs"
}

// RunLogRepository stores run summaries in pipeline_runs
type RunLogRepository struct {
	db *gorm.DB
}

// NewRunLogRepository creates a new run log repository
func NewRunLogRepository(db *gorm.DB) *RunLogRepository {
	return &RunLogRepository{db: db}
}

var _ billing.RunLogRepository = (*RunLogRepository)(nil)

// Save upserts the summary of a run
func (r *RunLogRepository) Save(ctx context.Context, summary *billing.RunSummary) error {
	windows := summary.Windows
	if windows == nil {
		windows = []billing.WindowResult{}
	}
	data, err := json.Marshal(windows)
	if err != nil {
		return fmt.Errorf("encode run windows: %w", err)
	}
	counts := summary.Counts()
	model := &PipelineRunModel{
		RunID:      summary.RunID,
		Kind:       summary.Kind,
		StartedAt:  summary.StartedAt.UTC(),
		FinishedAt: summary.FinishedAt.UTC(),
		Tenants:    summary.Tenants,
		Succeeded:  counts[billing.WindowSucceeded],
		Failed:     counts[billing.WindowFailed],
		NotReady:   counts[billing.WindowNotReady],
		Skipped:    counts[billing.WindowSkipped],
		Windows:    data,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(model).Error
}

// Recent returns the latest run summaries, newest first
func (r *RunLogRepository) Recent(ctx context.Context, limit int) ([]*billing.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []PipelineRunModel
	if err := r.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load recent runs: %w", err)
	}
	out := make([]*billing.RunSummary, 0, len(rows))
	for _, row := range rows {
		summary := &billing.RunSummary{
			RunID:      row.RunID,
			Kind:       row.Kind,
			StartedAt:  row.StartedAt.UTC(),
			FinishedAt: row.FinishedAt.UTC(),
			Tenants:    row.Tenants,
		}
		if len(row.Windows) > 0 {
			if err := json.Unmarshal(row.Windows, &summary.Windows); err != nil {
				return nil, fmt.Errorf("decode run %s: %w", row.RunID, err)
			}
		}
		out = append(out, summary)
	}
	return out, nil
}
