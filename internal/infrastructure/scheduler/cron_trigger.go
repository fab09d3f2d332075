package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// JobSubmitter accepts jobs by kind
type JobSubmitter interface {
	Submit(kind JobKind) (*Job, error)
}

// CronTriggerConfig holds the cron expressions for each job kind. An empty
// expression disables that trigger.
type CronTriggerConfig struct {
	CycleCron string
	SweepCron string
	Location  *time.Location
}

// CronTrigger submits collect-cycle and rating-sweep jobs on their schedules
type CronTrigger struct {
	config    CronTriggerConfig
	submitter JobSubmitter
	logger    *zap.Logger

	mu        sync.Mutex
	cron      *cron.Cron
	isRunning bool
}

// NewCronTrigger parses the schedules and returns a stopped trigger
func NewCronTrigger(cfg CronTriggerConfig, submitter JobSubmitter, logger *zap.Logger) (*CronTrigger, error) {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger{logger: logger}),
		cron.WithChain(cron.Recover(cronLogger{logger: logger})),
	)
	t := &CronTrigger{config: cfg, submitter: submitter, logger: logger, cron: c}

	for _, entry := range []struct {
		spec string
		kind JobKind
	}{
		{cfg.CycleCron, JobCollectCycle},
		{cfg.SweepCron, JobRatingSweep},
	} {
		if entry.spec == "" {
			continue
		}
		kind := entry.kind
		if _, err := c.AddFunc(entry.spec, func() { t.fire(kind) }); err != nil {
			return nil, fmt.Errorf("%w: %s schedule %q: %v", ErrInvalidConfig, kind, entry.spec, err)
		}
	}
	return t, nil
}

func (t *CronTrigger) fire(kind JobKind) {
	job, err := t.submitter.Submit(kind)
	switch {
	case errors.Is(err, ErrJobAlreadyQueued):
		t.logger.Info("Skipping trigger, previous job still active",
			zap.String("kind", string(kind)),
			zap.String("job_id", job.ID.String()))
	case err != nil:
		t.logger.Error("Failed to submit scheduled job", zap.String("kind", string(kind)), zap.Error(err))
	default:
		t.logger.Info("Triggered scheduled job",
			zap.String("kind", string(kind)),
			zap.String("job_id", job.ID.String()))
	}
}

// Start starts the cron loop
func (t *CronTrigger) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isRunning {
		return
	}
	t.isRunning = true
	t.cron.Start()

	t.logger.Info("Cron trigger started",
		zap.String("cycle_cron", t.config.CycleCron),
		zap.String("sweep_cron", t.config.SweepCron),
	)
}

// Stop stops the cron loop and waits for a firing trigger to return
func (t *CronTrigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = false
	t.mu.Unlock()

	select {
	case <-t.cron.Stop().Done():
		t.logger.Info("Cron trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the next activation time of each configured trigger
func (t *CronTrigger) Next() map[JobKind]time.Time {
	next := make(map[JobKind]time.Time, 2)
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	now := time.Now().In(t.cron.Location())
	if sched, err := parser.Parse(t.config.CycleCron); err == nil {
		next[JobCollectCycle] = sched.Next(now)
	}
	if sched, err := parser.Parse(t.config.SweepCron); err == nil {
		next[JobRatingSweep] = sched.Next(now)
	}
	return next
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
