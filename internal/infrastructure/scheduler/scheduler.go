// Package scheduler runs pipeline jobs on a bounded worker pool fed by cron
// triggers.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/usagebill/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// JobStatus represents the status of a scheduled job
type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailed  JobStatus = "FAILED"
)

// JobKind names the pipeline operation a job runs
type JobKind string

const (
	JobCollectCycle JobKind = "collect-cycle"
	JobRatingSweep  JobKind = "rating-sweep"
)

// Valid reports whether k is a known job kind
func (k JobKind) Valid() bool {
	return k == JobCollectCycle || k == JobRatingSweep
}

// Job is one queued pipeline run
type Job struct {
	ID          uuid.UUID
	Kind        JobKind
	Status      JobStatus
	Error       string
	SubmittedAt time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	RetryCount  int
	MaxRetries  int
}

// NewJob creates a pending job
func NewJob(kind JobKind, maxRetries int) *Job {
	return &Job{
		ID:          uuid.New(),
		Kind:        kind,
		Status:      JobStatusPending,
		SubmittedAt: time.Now(),
		MaxRetries:  maxRetries,
	}
}

// Start marks the job as running
func (j *Job) Start() {
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.Error = ""
}

// Complete marks the job as successful
func (j *Job) Complete() {
	now := time.Now()
	j.Status = JobStatusSuccess
	j.CompletedAt = &now
}

// Fail marks the job as failed
func (j *Job) Fail(err string) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.CompletedAt = &now
	j.Error = err
}

// ShouldRetry returns true if the job should be retried
func (j *Job) ShouldRetry() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// JobExecutor runs a job
type JobExecutor interface {
	Execute(ctx context.Context, job *Job) error
}

// Config holds worker pool configuration
type Config struct {
	MaxConcurrentJobs int
	QueueSize         int
	JobTimeout        time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
}

// DefaultConfig returns default scheduler configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrentJobs: 2,
		QueueSize:         16,
		JobTimeout:        30 * time.Minute,
		RetryAttempts:     3,
		RetryDelay:        5 * time.Minute,
	}
}

// ConfigFrom maps the scheduler section, keeping defaults for unset fields
func ConfigFrom(cfg config.SchedulerConfig) Config {
	c := DefaultConfig()
	if cfg.MaxConcurrentJobs > 0 {
		c.MaxConcurrentJobs = cfg.MaxConcurrentJobs
	}
	if cfg.JobTimeout > 0 {
		c.JobTimeout = cfg.JobTimeout
	}
	if cfg.RetryAttempts >= 0 {
		c.RetryAttempts = cfg.RetryAttempts
	}
	if cfg.RetryDelay > 0 {
		c.RetryDelay = cfg.RetryDelay
	}
	return c
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.MaxConcurrentJobs <= 0 || c.QueueSize <= 0 || c.JobTimeout <= 0 {
		return fmt.Errorf("%w: workers, queue size and job timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// Scheduler is a bounded worker pool. At most one job of each kind is queued
// or running at a time; a failed job is resubmitted after RetryDelay until
// its retries run out.
type Scheduler struct {
	config   Config
	executor JobExecutor
	logger   *zap.Logger

	jobs      chan *Job
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	active    map[JobKind]*Job
	retries   map[uuid.UUID]*time.Timer
}

// NewScheduler creates a new scheduler instance
func NewScheduler(cfg Config, executor JobExecutor, logger *zap.Logger) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{
		config:   cfg,
		executor: executor,
		logger:   logger,
		jobs:     make(chan *Job, cfg.QueueSize),
		active:   make(map[JobKind]*Job),
		retries:  make(map[uuid.UUID]*time.Timer),
	}, nil
}

// Start starts the workers
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}
	s.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	for i := 0; i < s.config.MaxConcurrentJobs; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	s.logger.Info("Job scheduler started",
		zap.Int("workers", s.config.MaxConcurrentJobs),
		zap.Duration("job_timeout", s.config.JobTimeout),
	)
	return nil
}

// Stop cancels running jobs and waits for the workers to exit
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	for id, timer := range s.retries {
		timer.Stop()
		delete(s.retries, id)
	}
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Job scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Job scheduler stop timed out")
		return ctx.Err()
	}
}

// Submit queues a new job of the given kind
func (s *Scheduler) Submit(kind JobKind) (*Job, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidJobKind, kind)
	}
	job := NewJob(kind, s.config.RetryAttempts)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return nil, ErrSchedulerNotRunning
	}
	if existing, ok := s.active[kind]; ok {
		s.logger.Debug("Job already queued",
			zap.String("kind", string(kind)),
			zap.String("job_id", existing.ID.String()))
		return existing, ErrJobAlreadyQueued
	}
	if err := s.enqueueLocked(job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Scheduler) enqueueLocked(job *Job) error {
	select {
	case s.jobs <- job:
		s.active[job.Kind] = job
		s.logger.Debug("Job submitted",
			zap.String("job_id", job.ID.String()),
			zap.String("kind", string(job.Kind)),
			zap.Int("retry_count", job.RetryCount))
		return nil
	default:
		return ErrJobQueueFull
	}
}

// Active returns the queued or running job of kind, if any
func (s *Scheduler) Active(kind JobKind) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.active[kind]
	return job, ok
}

func (s *Scheduler) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.jobs:
			s.processJob(ctx, job, workerID)
		}
	}
}

func (s *Scheduler) processJob(ctx context.Context, job *Job, workerID int) {
	job.Start()
	s.logger.Info("Processing job",
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID.String()),
		zap.String("kind", string(job.Kind)),
	)

	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	err := s.executor.Execute(jobCtx, job)
	cancel()

	if err == nil {
		job.Complete()
		s.release(job)
		s.logger.Info("Job completed successfully",
			zap.String("job_id", job.ID.String()),
			zap.String("kind", string(job.Kind)),
			zap.Duration("duration", job.CompletedAt.Sub(*job.StartedAt)),
		)
		return
	}

	job.Fail(err.Error())
	s.logger.Error("Job failed",
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID.String()),
		zap.String("kind", string(job.Kind)),
		zap.Int("retry_count", job.RetryCount),
		zap.Error(err),
	)
	if !job.ShouldRetry() || ctx.Err() != nil {
		s.release(job)
		return
	}
	s.scheduleRetry(job)
}

// scheduleRetry keeps the job active and requeues it after RetryDelay
func (s *Scheduler) scheduleRetry(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		delete(s.active, job.Kind)
		return
	}
	job.RetryCount++
	job.Status = JobStatusPending
	s.retries[job.ID] = time.AfterFunc(s.config.RetryDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.retries, job.ID)
		if !s.isRunning {
			delete(s.active, job.Kind)
			return
		}
		delete(s.active, job.Kind)
		if err := s.enqueueLocked(job); err != nil {
			s.logger.Warn("Failed to re-queue job for retry",
				zap.String("job_id", job.ID.String()),
				zap.Error(err))
		}
	})
	s.logger.Info("Job scheduled for retry",
		zap.String("job_id", job.ID.String()),
		zap.Int("retry_count", job.RetryCount),
		zap.Int("max_retries", job.MaxRetries),
		zap.Duration("delay", s.config.RetryDelay),
	)
}

func (s *Scheduler) release(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[job.Kind] == job {
		delete(s.active, job.Kind)
	}
}
