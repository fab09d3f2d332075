package scheduler

import (
	"context"

	appbilling "github.com/usagebill/backend/internal/application/billing"
	"go.uber.org/zap"
)

// Pipeline is the part of the pipeline service the jobs drive
type Pipeline interface {
	RunCycle(ctx context.Context, opts appbilling.RunOptions) (*appbilling.RunSummary, error)
	Sweep(ctx context.Context) (*appbilling.RunSummary, error)
}

// PipelineExecutor runs collect-cycle and rating-sweep jobs. Window failures
// are reported in the run summary and picked up by later runs; only a run
// that could not start fails the job.
type PipelineExecutor struct {
	pipeline Pipeline
	logger   *zap.Logger
}

// NewPipelineExecutor creates an executor for p
func NewPipelineExecutor(p Pipeline, logger *zap.Logger) *PipelineExecutor {
	return &PipelineExecutor{pipeline: p, logger: logger}
}

var _ JobExecutor = (*PipelineExecutor)(nil)

// Execute implements JobExecutor
func (e *PipelineExecutor) Execute(ctx context.Context, job *Job) error {
	var (
		summary *appbilling.RunSummary
		err     error
	)
	switch job.Kind {
	case JobCollectCycle:
		summary, err = e.pipeline.RunCycle(ctx, appbilling.RunOptions{})
	case JobRatingSweep:
		summary, err = e.pipeline.Sweep(ctx)
	default:
		return ErrInvalidJobKind
	}
	if err != nil {
		return err
	}

	counts := summary.Counts()
	e.logger.Info("Pipeline job finished",
		zap.String("job_id", job.ID.String()),
		zap.String("kind", string(job.Kind)),
		zap.String("run_id", summary.RunID),
		zap.Int("succeeded", counts[appbilling.WindowSucceeded]),
		zap.Int("skipped", counts[appbilling.WindowSkipped]),
		zap.Int("not_ready", counts[appbilling.WindowNotReady]),
		zap.Int("failed", counts[appbilling.WindowFailed]),
		zap.Duration("duration", summary.Duration()),
	)
	return nil
}
