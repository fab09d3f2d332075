package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	appbilling "github.com/usagebill/backend/internal/application/billing"
	"github.com/usagebill/backend/internal/infrastructure/scheduler"
	"github.com/usagebill/backend/internal/interfaces/http/dto"
	"github.com/usagebill/backend/internal/interfaces/http/middleware"
)

// RunTrigger runs the pipeline synchronously
type RunTrigger interface {
	RunCycle(ctx context.Context, opts appbilling.RunOptions) (*appbilling.RunSummary, error)
	Sweep(ctx context.Context) (*appbilling.RunSummary, error)
}

// JobQueue queues pipeline runs on the worker pool
type JobQueue interface {
	Submit(kind scheduler.JobKind) (*scheduler.Job, error)
}

// RunHandler triggers pipeline runs on demand
type RunHandler struct {
	BaseHandler
	pipeline RunTrigger
	jobs     JobQueue
}

// NewRunHandler creates a new RunHandler. jobs may be nil when the
// scheduler is disabled, in which case async runs are rejected.
func NewRunHandler(pipeline RunTrigger, jobs JobQueue) *RunHandler {
	return &RunHandler{pipeline: pipeline, jobs: jobs}
}

// Trigger godoc
// @ID           triggerRun
//
//	@Summary		Trigger a pipeline run
//	@Description	Runs a cycle or sweep synchronously, or queues it on the worker pool when async is set
//	@Tags			runs
//	@Accept			json
//	@Produce		json
//	@Param			request	body		dto.RunRequest	true	"Run request"
//	@Success		200		{object}	APIResponse[dto.RunSummaryResponse]
//	@Success		202		{object}	APIResponse[dto.JobResponse]
//	@Failure		400		{object}	ErrorResponse
//	@Failure		401		{object}	ErrorResponse
//	@Failure		403		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Security		BearerAuth
//	@Router			/api/v1/runs [post]
func (h *RunHandler) Trigger(c *gin.Context) {
	var req dto.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	if req.Async {
		h.enqueue(c, req)
		return
	}

	var (
		summary *appbilling.RunSummary
		err     error
	)
	switch req.Kind {
	case appbilling.RunKindSweep:
		if len(req.Tenants) > 0 {
			h.BadRequest(c, "a sweep covers every pending window and takes no tenants")
			return
		}
		summary, err = h.pipeline.Sweep(c.Request.Context())
	default:
		summary, err = h.pipeline.RunCycle(c.Request.Context(), appbilling.RunOptions{Tenants: req.Tenants})
	}
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.ToRunSummaryResponse(summary))
}

func (h *RunHandler) enqueue(c *gin.Context, req dto.RunRequest) {
	if h.jobs == nil {
		h.Error(c, http.StatusServiceUnavailable, dto.ErrCodeUnavailable, "scheduler is disabled, run synchronously instead")
		return
	}
	if len(req.Tenants) > 0 {
		h.BadRequest(c, "async runs cover every tenant")
		return
	}

	kind := scheduler.JobCollectCycle
	if req.Kind == appbilling.RunKindSweep {
		kind = scheduler.JobRatingSweep
	}
	job, err := h.jobs.Submit(kind)
	status := "queued"
	switch {
	case errors.Is(err, scheduler.ErrJobAlreadyQueued):
		status = "already_queued"
	case errors.Is(err, scheduler.ErrJobQueueFull):
		h.Error(c, http.StatusServiceUnavailable, dto.ErrCodeUnavailable, "job queue is full")
		return
	case err != nil:
		h.HandleError(c, err)
		return
	}
	h.Accepted(c, dto.JobResponse{
		JobID:       job.ID.String(),
		Kind:        string(job.Kind),
		Status:      status,
		SubmittedAt: job.SubmittedAt,
	})
}
