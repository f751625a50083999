// Package service contains the business logic for managing and executing
// sync jobs.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/setalabs/blingsync/internal/core"
	"github.com/setalabs/blingsync/internal/domain/model"
	apperrors "github.com/setalabs/blingsync/internal/errors"
	"github.com/setalabs/blingsync/internal/mapper"
	"github.com/setalabs/blingsync/internal/observability/metrics"
	"github.com/setalabs/blingsync/internal/observability/statsd"
)

// SyncServiceOptions groups dependencies for SyncService.
type SyncServiceOptions struct {
	Repo       core.SyncJobRepository // Required: sync job repository
	Dispatcher core.SyncDispatcher    // Required: async execution boundary
	Logger     *slog.Logger           // Optional: structured logger
	Metrics    statsd.Sink            // Optional: metrics sink (StatsD-compatible)
}

// SyncService provides the request-facing operations of the sync job
// lifecycle: starting, inspecting, and cancelling jobs. Execution itself
// happens in ExecutorService behind the dispatcher.
type SyncService struct {
	repo       core.SyncJobRepository
	dispatcher core.SyncDispatcher
	logger     *slog.Logger
	metrics    statsd.Sink
}

// NewSyncService constructs a new SyncService.
func NewSyncService(opts SyncServiceOptions) (*SyncService, error) {
	if opts.Repo == nil {
		return nil, errors.New("SyncJobRepository is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("SyncDispatcher is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &SyncService{
		repo:       opts.Repo,
		dispatcher: opts.Dispatcher,
		logger:     logger.With("component", "sync_service"),
		metrics:    opts.Metrics,
	}, nil
}

// MustNewSyncService constructs a new SyncService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewSyncService(opts SyncServiceOptions) *SyncService {
	svc, err := NewSyncService(opts)
	if err != nil {
		panic(fmt.Sprintf("failed to create SyncService: %v", err))
	}
	return svc
}

// Start creates a pending job and hands it to the dispatcher. The repository
// enforces the single-active-job guard, so two racing starts for the same
// tenant and kind resolve to one created job and one conflict error.
func (s *SyncService) Start(ctx context.Context, req *model.CreateSyncJobRequest) (*model.SyncJob, error) {
	if req == nil {
		return nil, apperrors.Validation("create sync job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	// Reject bad filter expressions at submission, not mid-execution.
	if _, err := mapper.NewFilter(req.Options.Filter); err != nil {
		return nil, err
	}

	job, err := s.repo.Create(ctx, req)
	if err != nil {
		return nil, err
	}

	s.dispatcher.Dispatch(job.ID)

	s.logger.InfoContext(ctx, "sync job started",
		"job_id", job.ID, "tenant_id", job.TenantID, "kind", job.Kind,
		"requested_by", job.RequestedBy)
	metrics.EmitSyncLifecycle(s.metrics, metrics.SyncMetric{
		Kind:       job.Kind,
		Transition: "created",
		Result:     metrics.ResultSuccess,
	})
	return job, nil
}

// Get returns one job scoped to the tenant.
func (s *SyncService) Get(ctx context.Context, tenantID, id string) (*model.SyncJob, error) {
	if err := validateJobID(id); err != nil {
		return nil, err
	}
	return s.repo.GetForTenant(ctx, tenantID, id)
}

// List returns one page of the tenant's jobs.
func (s *SyncService) List(ctx context.Context, opts *model.SyncJobListOptions) (*model.SyncJobPage, error) {
	return s.repo.List(ctx, opts)
}

// ListActive returns the tenant's pending and running jobs.
func (s *SyncService) ListActive(ctx context.Context, tenantID string) ([]*model.SyncJob, error) {
	return s.repo.ListActive(ctx, tenantID)
}

// Cancel requests cancellation of an active job. A pending job is cancelled
// immediately; a running job is flagged and stops at its next page boundary.
// Cancelling a terminal job is an invalid transition.
func (s *SyncService) Cancel(ctx context.Context, tenantID, id string) (*model.SyncJob, error) {
	if err := validateJobID(id); err != nil {
		return nil, err
	}
	job, err := s.repo.GetForTenant(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, apperrors.InvalidTransitionf(
			"job %s is already %s and cannot be cancelled", job.ID, job.Status)
	}

	if job.Status == model.SyncStatusPending {
		cancelled, transitionErr := s.repo.Transition(ctx, id, model.SyncStatusCancelled, core.TransitionPatch{
			SetFinishedAt: true,
		})
		if transitionErr == nil {
			s.logger.InfoContext(ctx, "pending sync job cancelled",
				"job_id", id, "tenant_id", tenantID)
			metrics.EmitSyncLifecycle(s.metrics, metrics.SyncMetric{
				Kind:       job.Kind,
				Transition: "cancelled",
				Result:     metrics.ResultCancelled,
			})
			return cancelled, nil
		}
		if !apperrors.IsInvalidTransition(transitionErr) {
			return nil, transitionErr
		}
		// The job raced into running; fall through to cooperative cancellation.
	}

	flagged, err := s.repo.RequestCancel(ctx, id)
	if err != nil {
		return nil, err
	}
	if !flagged {
		return nil, apperrors.InvalidTransitionf(
			"job %s finished before cancellation could be requested", id)
	}

	s.logger.InfoContext(ctx, "sync job cancellation requested",
		"job_id", id, "tenant_id", tenantID)
	return s.repo.GetForTenant(ctx, tenantID, id)
}

// validateJobID rejects malformed IDs before they reach the database, where
// a bad uuid literal would surface as an opaque query error.
func validateJobID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperrors.Validationf("job id %q is not a valid UUID", id)
	}
	return nil
}
