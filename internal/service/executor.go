package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/setalabs/blingsync/internal/core"
	"github.com/setalabs/blingsync/internal/domain/model"
	apperrors "github.com/setalabs/blingsync/internal/errors"
	"github.com/setalabs/blingsync/internal/mapper"
	"github.com/setalabs/blingsync/internal/observability/metrics"
	"github.com/setalabs/blingsync/internal/observability/statsd"
	"github.com/setalabs/blingsync/internal/util"
)

// kindOutcome is the result of running one concrete kind within a job.
type kindOutcome int

const (
	outcomeCompleted kindOutcome = iota
	outcomeFailed
	outcomeCancelled
)

// ExecutorServiceOptions groups dependencies for ExecutorService.
type ExecutorServiceOptions struct {
	Repo        core.SyncJobRepository // Required: sync job repository
	Mirror      core.MirrorWriter      // Required: mirror table writer
	Client      core.BlingClient       // Required: Bling page fetcher
	Checkpoints core.CheckpointCache   // Optional: incremental-window cache
	Logger      *slog.Logger           // Optional: structured logger
	Metrics     statsd.Sink            // Optional: metrics sink (StatsD-compatible)
}

// ExecutorService runs one sync job end to end: claims it, pages through the
// Bling collections it covers, mirrors the records, and records the outcome.
//
// Error handling is layered. A failure affecting one record is absorbed into
// the error counter; a failure affecting one kind fails that kind's summary
// but lets sibling kinds run; only the aggregate decides the job's final
// status. Cancellation is cooperative and checked between pages.
type ExecutorService struct {
	repo        core.SyncJobRepository
	mirror      core.MirrorWriter
	client      core.BlingClient
	checkpoints core.CheckpointCache
	logger      *slog.Logger
	metrics     statsd.Sink
}

// NewExecutorService constructs a new ExecutorService.
func NewExecutorService(opts ExecutorServiceOptions) (*ExecutorService, error) {
	if opts.Repo == nil {
		return nil, errors.New("SyncJobRepository is required")
	}
	if opts.Mirror == nil {
		return nil, errors.New("MirrorWriter is required")
	}
	if opts.Client == nil {
		return nil, errors.New("BlingClient is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ExecutorService{
		repo:        opts.Repo,
		mirror:      opts.Mirror,
		client:      opts.Client,
		checkpoints: opts.Checkpoints,
		logger:      logger.With("component", "sync_executor"),
		metrics:     opts.Metrics,
	}, nil
}

// Execute runs the job with the given id. It is safe to call for a job that
// was cancelled or reaped in the meantime; the guarded transitions make the
// stale execution a no-op.
func (s *ExecutorService) Execute(ctx context.Context, jobID string) error {
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load sync job %s: %w", jobID, err)
	}
	if job.Status.Terminal() {
		// Cancelled or reaped before we got here.
		return nil
	}

	if job.CancelRequested {
		return s.finishCancelledBeforeStart(ctx, job)
	}

	job, err = s.repo.Transition(ctx, jobID, model.SyncStatusRunning, core.TransitionPatch{})
	if err != nil {
		if apperrors.IsInvalidTransition(err) {
			s.logger.InfoContext(ctx, "sync job no longer startable", "job_id", jobID)
			return nil
		}
		return fmt.Errorf("start sync job %s: %w", jobID, err)
	}

	filter, err := mapper.NewFilter(job.Options.Filter)
	if err != nil {
		return s.finish(ctx, job, model.SyncStatusFailed, nil, err.Error(), time.Time{})
	}

	start := time.Now()
	s.logger.InfoContext(ctx, "sync job running",
		"job_id", job.ID, "tenant_id", job.TenantID, "kind", job.Kind,
		"force_full", job.Options.ForceFullSync)

	summaries := make(map[string]*model.KindSummary)
	var kindErrs []string
	cancelled := false

	for _, kind := range job.Kind.Expand() {
		summary, outcome := s.runKind(ctx, job, kind, filter)
		summaries[string(kind)] = summary

		switch outcome {
		case outcomeCancelled:
			cancelled = true
		case outcomeFailed:
			kindErrs = append(kindErrs, fmt.Sprintf("%s: %s", kind, summary.Error))
		case outcomeCompleted:
		}
		if cancelled {
			// Cancellation stops the whole job, remaining kinds never start.
			break
		}
	}

	if ctx.Err() != nil && !cancelled {
		// Shutdown mid-job: leave the row running for the reaper rather than
		// recording a misleading terminal status.
		s.logger.WarnContext(ctx, "sync job interrupted by shutdown", "job_id", job.ID)
		return ctx.Err()
	}

	// Terminal rows carry result xor error_message: completed gets the
	// summary, failed gets the message, cancelled gets neither. Stats keep
	// the partial progress in every case.
	final := model.SyncStatusCompleted
	errMsg := ""
	var result []byte
	switch {
	case cancelled:
		final = model.SyncStatusCancelled
	case len(kindErrs) > 0:
		final = model.SyncStatusFailed
		errMsg = strings.Join(kindErrs, "; ")
	default:
		if encoded, err := json.Marshal(map[string]any{"kinds": summaries}); err == nil {
			result = encoded
		}
	}

	return s.finish(ctx, job, final, result, errMsg, start)
}

// finishCancelledBeforeStart terminates a pending job whose cancellation
// arrived before execution.
func (s *ExecutorService) finishCancelledBeforeStart(ctx context.Context, job *model.SyncJob) error {
	_, err := s.repo.Transition(ctx, job.ID, model.SyncStatusCancelled, core.TransitionPatch{
		SetFinishedAt: true,
	})
	if err != nil && !apperrors.IsInvalidTransition(err) {
		return err
	}
	metrics.EmitSyncLifecycle(s.metrics, metrics.SyncMetric{
		Kind:       job.Kind,
		Transition: "cancelled",
		Result:     metrics.ResultCancelled,
	})
	return nil
}

// finish records the job's terminal status and emits lifecycle telemetry.
func (s *ExecutorService) finish(
	ctx context.Context,
	job *model.SyncJob,
	final model.SyncStatus,
	result []byte,
	errMsg string,
	start time.Time,
) error {
	patch := core.TransitionPatch{Result: result, SetFinishedAt: true}
	if errMsg != "" {
		patch.ErrorMessage = &errMsg
	}

	finished, err := s.repo.Transition(ctx, job.ID, final, patch)
	if err != nil {
		if apperrors.IsInvalidTransition(err) {
			// A concurrent cancel or the reaper already terminated the job.
			s.logger.InfoContext(ctx, "sync job already terminal", "job_id", job.ID)
			return nil
		}
		return fmt.Errorf("finish sync job %s: %w", job.ID, err)
	}

	if final == model.SyncStatusCompleted {
		s.invalidateCheckpoints(ctx, job)
	}

	var duration time.Duration
	if !start.IsZero() {
		duration = time.Since(start)
	}
	outcome := metrics.ResultSuccess
	switch final {
	case model.SyncStatusFailed:
		outcome = metrics.ResultError
	case model.SyncStatusCancelled:
		outcome = metrics.ResultCancelled
	}
	metrics.EmitSyncLifecycle(s.metrics, metrics.SyncMetric{
		Kind:       job.Kind,
		Transition: string(final),
		Result:     outcome,
		Stats:      finished.Stats,
		Duration:   duration,
	})

	s.logger.InfoContext(ctx, "sync job finished",
		"job_id", job.ID, "tenant_id", job.TenantID, "status", finished.Status,
		"total", finished.Stats.TotalProcessed, "successful", finished.Stats.Successful,
		"errors", finished.Stats.Errors, "duration", util.FormatSyncDuration(duration))
	return nil
}

// runKind pages through one Bling collection and mirrors its records.
func (s *ExecutorService) runKind(
	ctx context.Context,
	job *model.SyncJob,
	kind model.SyncKind,
	filter *mapper.Filter,
) (*model.KindSummary, kindOutcome) {
	summary := &model.KindSummary{}

	var changedSince *time.Time
	if !job.Options.ForceFullSync {
		changedSince = s.incrementalWindow(ctx, job.TenantID, kind)
	}

	for page := 1; ; page++ {
		requested, err := s.repo.CancelRequested(ctx, job.ID)
		if err != nil {
			summary.Error = "check cancellation: " + err.Error()
			return summary, outcomeFailed
		}
		if requested {
			return summary, outcomeCancelled
		}

		fetched, err := s.client.FetchPage(ctx, core.PageRequest{
			TenantID:     job.TenantID,
			Kind:         kind,
			Page:         page,
			PageSize:     job.Options.PageSize,
			ChangedSince: changedSince,
		})
		if err != nil {
			summary.Error = err.Error()
			return summary, outcomeFailed
		}

		delta := s.mirrorPage(ctx, job, kind, filter, fetched.Records, summary)
		summary.Pages++
		summary.TotalProcessed += delta.TotalProcessed
		summary.Successful += delta.Successful
		summary.Errors += delta.Errors

		if err := s.repo.IncrementStats(ctx, job.ID, delta); err != nil {
			if apperrors.IsInvalidTransition(err) {
				// The job left running under us, almost certainly the reaper.
				return summary, outcomeCancelled
			}
			summary.Error = "record progress: " + err.Error()
			return summary, outcomeFailed
		}

		if !fetched.HasMore {
			return summary, outcomeCompleted
		}
	}
}

// mirrorPage maps and upserts one page of records. Per-record failures are
// absorbed into the error counter so one bad record never sinks the page.
func (s *ExecutorService) mirrorPage(
	ctx context.Context,
	job *model.SyncJob,
	kind model.SyncKind,
	filter *mapper.Filter,
	records []core.RawRecord,
	summary *model.KindSummary,
) model.SyncStats {
	var delta model.SyncStats
	for _, raw := range records {
		delta.TotalProcessed++

		match, err := filter.Match(raw)
		if err != nil {
			delta.Errors++
			s.logger.WarnContext(ctx, "record filter failed",
				"job_id", job.ID, "kind", kind, "error", err)
			continue
		}
		if !match {
			summary.Skipped++
			continue
		}

		if err := mapper.Upsert(ctx, s.mirror, kind, job.TenantID, raw); err != nil {
			delta.Errors++
			s.logger.WarnContext(ctx, "record sync failed",
				"job_id", job.ID, "kind", kind,
				"field", apperrors.GetField(err), "error", err)
			continue
		}
		delta.Successful++
	}
	return delta
}

// incrementalWindow resolves the changed-since instant for a tenant and kind,
// preferring the cache and falling back to the database. Failures degrade to
// a full sync rather than failing the job.
func (s *ExecutorService) incrementalWindow(ctx context.Context, tenantID string, kind model.SyncKind) *time.Time {
	if s.checkpoints != nil {
		at, hit, err := s.checkpoints.Get(ctx, tenantID, kind)
		if err != nil {
			s.logger.WarnContext(ctx, "checkpoint cache read failed",
				"tenant_id", tenantID, "kind", kind, "error", err)
		} else if hit {
			return at
		}
	}

	at, err := s.repo.LastCompletedAt(ctx, tenantID, kind)
	if err != nil {
		s.logger.WarnContext(ctx, "incremental window lookup failed, doing full sync",
			"tenant_id", tenantID, "kind", kind, "error", err)
		return nil
	}

	if s.checkpoints != nil {
		if err := s.checkpoints.Set(ctx, tenantID, kind, at); err != nil {
			s.logger.WarnContext(ctx, "checkpoint cache write failed",
				"tenant_id", tenantID, "kind", kind, "error", err)
		}
	}
	return at
}

// invalidateCheckpoints drops cached windows after a successful sync so the
// next job sees the new completion time.
func (s *ExecutorService) invalidateCheckpoints(ctx context.Context, job *model.SyncJob) {
	if s.checkpoints == nil {
		return
	}
	for _, kind := range job.Kind.Expand() {
		if err := s.checkpoints.Invalidate(ctx, job.TenantID, kind); err != nil {
			s.logger.WarnContext(ctx, "checkpoint invalidation failed",
				"tenant_id", job.TenantID, "kind", kind, "error", err)
		}
	}
}
