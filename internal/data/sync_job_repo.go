package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/setalabs/blingsync/internal/core"
	"github.com/setalabs/blingsync/internal/data/pgxutil"
	"github.com/setalabs/blingsync/internal/domain/model"
	apperrors "github.com/setalabs/blingsync/internal/errors"
)

// RepoConfig holds configuration options for the data-layer repositories.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// SyncJobRepo provides Postgres persistence for sync jobs. The
// one-active-job-per-tenant-per-kind guard lives in a partial unique index,
// so Create surfaces a conflict instead of racing a read-then-insert.
type SyncJobRepo struct {
	DB           *sql.DB
	cfg          RepoConfig
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewSyncJobRepo creates a new SyncJobRepo with the given database connection and configuration.
func NewSyncJobRepo(db *sql.DB, cfg RepoConfig) *SyncJobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &SyncJobRepo{
		DB:           db,
		cfg:          cfg,
		timeProvider: tp,
		logger:       logger,
	}
}

const syncJobColumns = `
  id,
  tenant_id,
  kind,
  status,
  requested_by,
  options,
  stats_total,
  stats_successful,
  stats_errors,
  result,
  error_message,
  cancel_requested,
  started_at,
  finished_at,
  last_progress_at,
  created_at,
  updated_at
`

// Create inserts a new pending sync job. When an active job of the same kind
// already exists for the tenant, the partial unique index rejects the insert
// and a conflict error is returned.
func (r *SyncJobRepo) Create(ctx context.Context, req *model.CreateSyncJobRequest) (*model.SyncJob, error) {
	if req == nil {
		return nil, apperrors.Validation("create sync job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	options, err := json.Marshal(req.Options)
	if err != nil {
		return nil, fmt.Errorf("marshal sync options: %w", err)
	}

	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO sync_jobs (tenant_id, kind, status, requested_by, options)
		VALUES ($1, $2, 'pending', $3, $4)
		RETURNING `+syncJobColumns,
		req.TenantID, req.Kind, req.RequestedBy, options,
	)

	job, scanErr := scanSyncJobFromRow(row)
	if scanErr != nil {
		mapped := apperrors.MapDBError(scanErr)
		if apperrors.IsConflict(mapped) {
			return nil, apperrors.Conflictf(
				"an active %s sync already exists for tenant %s", req.Kind, req.TenantID)
		}
		return nil, mapped
	}

	r.logger.InfoContext(ctx, "sync job created",
		"job_id", job.ID, "tenant_id", job.TenantID, "kind", job.Kind)
	return job, nil
}

// GetByID fetches a single job regardless of tenant. Intended for internal
// callers (runner, reaper); HTTP handlers go through GetForTenant.
func (r *SyncJobRepo) GetByID(ctx context.Context, id string) (*model.SyncJob, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperrors.Validation("job id is required")
	}

	row := r.DB.QueryRowContext(ctx,
		`SELECT `+syncJobColumns+` FROM sync_jobs WHERE id = $1`, id)

	job, err := scanSyncJobFromRow(row)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return job, nil
}

// GetForTenant fetches a single job scoped to the given tenant. A job owned
// by another tenant reads as not found.
func (r *SyncJobRepo) GetForTenant(ctx context.Context, tenantID, id string) (*model.SyncJob, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, apperrors.Validation("tenant id is required")
	}
	if strings.TrimSpace(id) == "" {
		return nil, apperrors.Validation("job id is required")
	}

	row := r.DB.QueryRowContext(ctx,
		`SELECT `+syncJobColumns+` FROM sync_jobs WHERE id = $1 AND tenant_id = $2`, id, tenantID)

	job, err := scanSyncJobFromRow(row)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return job, nil
}

// transitionSources maps a target status to the statuses it may be entered from.
func transitionSources(next model.SyncStatus) []string {
	var sources []string
	for _, s := range []model.SyncStatus{
		model.SyncStatusPending,
		model.SyncStatusRunning,
	} {
		if s.CanTransitionTo(next) {
			sources = append(sources, string(s))
		}
	}
	return sources
}

// Transition moves a job to the next status with a single conditional UPDATE.
// The status predicate makes concurrent transitions safe: whichever writer
// commits first wins and the loser observes an invalid-transition error,
// so a cancelled job is never overwritten by a late completed or failed.
func (r *SyncJobRepo) Transition(
	ctx context.Context,
	id string,
	next model.SyncStatus,
	patch core.TransitionPatch,
) (*model.SyncJob, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperrors.Validation("job id is required")
	}
	if !next.Valid() {
		return nil, apperrors.Validationf("invalid target status %q", next)
	}

	sources := transitionSources(next)
	if len(sources) == 0 {
		return nil, apperrors.InvalidTransitionf("status %q is not a reachable target", next)
	}

	now := r.timeProvider.Now().UTC()

	var job *model.SyncJob
	txErr := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			row := tx.QueryRowContext(ctx, `
				UPDATE sync_jobs
				SET status = $2,
				    result = COALESCE($3, result),
				    error_message = COALESCE($4, error_message),
				    finished_at = CASE WHEN $5 THEN $6 ELSE finished_at END,
				    last_progress_at = $6,
				    updated_at = $6
				WHERE id = $1 AND status = ANY($7::text[])
				RETURNING `+syncJobColumns,
				id, next, nullableJSON(patch.Result), patch.ErrorMessage,
				patch.SetFinishedAt, now, pqStringArray(sources),
			)

			updated, scanErr := scanSyncJobFromRow(row)
			if scanErr == nil {
				job = updated
				return nil
			}
			if mapped := apperrors.MapDBError(scanErr); !apperrors.IsNotFound(mapped) {
				return mapped
			}

			// No row matched: distinguish a missing job from an illegal move.
			var current model.SyncStatus
			if err := tx.QueryRowContext(ctx,
				`SELECT status FROM sync_jobs WHERE id = $1`, id,
			).Scan(&current); err != nil {
				return apperrors.MapDBError(err)
			}
			return apperrors.InvalidTransitionf(
				"cannot transition job %s from %s to %s", id, current, next)
		},
	})
	if txErr != nil {
		return nil, txErr
	}

	r.logger.InfoContext(ctx, "sync job transitioned",
		"job_id", job.ID, "tenant_id", job.TenantID, "status", job.Status)
	return job, nil
}

// IncrementStats atomically adds a progress delta to a running job's counters
// and refreshes last_progress_at so the reaper sees the job as live. The
// counters only ever grow; the check constraint enforces the accounting
// invariant at the database level.
func (r *SyncJobRepo) IncrementStats(ctx context.Context, id string, delta model.SyncStats) error {
	if strings.TrimSpace(id) == "" {
		return apperrors.Validation("job id is required")
	}
	if delta.TotalProcessed < 0 || delta.Successful < 0 || delta.Errors < 0 {
		return apperrors.Validation("stats delta must be non-negative")
	}

	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE sync_jobs
		SET stats_total = stats_total + $2,
		    stats_successful = stats_successful + $3,
		    stats_errors = stats_errors + $4,
		    last_progress_at = $5,
		    updated_at = $5
		WHERE id = $1 AND status = 'running'`,
		id, delta.TotalProcessed, delta.Successful, delta.Errors, now,
	)
	if err != nil {
		return apperrors.MapDBError(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return apperrors.InvalidTransitionf("stats update requires a running job (id %s)", id)
	}
	return nil
}

// RequestCancel flags an active job for cooperative cancellation. The flag is
// persisted rather than held in memory so it reaches an executor in another
// process. Returns false when the job is already terminal.
func (r *SyncJobRepo) RequestCancel(ctx context.Context, id string) (bool, error) {
	if strings.TrimSpace(id) == "" {
		return false, apperrors.Validation("job id is required")
	}

	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE sync_jobs
		SET cancel_requested = TRUE,
		    updated_at = $2
		WHERE id = $1 AND status IN ('pending', 'running')`,
		id, now,
	)
	if err != nil {
		return false, apperrors.MapDBError(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// CancelRequested reads the persisted cancellation flag. The executor polls
// this at page boundaries.
func (r *SyncJobRepo) CancelRequested(ctx context.Context, id string) (bool, error) {
	if strings.TrimSpace(id) == "" {
		return false, apperrors.Validation("job id is required")
	}

	var requested bool
	err := r.DB.QueryRowContext(ctx,
		`SELECT cancel_requested FROM sync_jobs WHERE id = $1`, id,
	).Scan(&requested)
	if err != nil {
		return false, apperrors.MapDBError(err)
	}
	return requested, nil
}

// pqStringArray renders a slice of enum words as a Postgres text[] literal.
// The inputs come from our own status constants, never from callers.
func pqStringArray(values []string) string {
	return "{" + strings.Join(values, ",") + "}"
}

// nullableJSON converts an optional JSON document into a value the driver
// writes as NULL when absent, so COALESCE keeps the stored column.
func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

type syncJobRowScanner interface {
	Scan(dest ...any) error
}

type syncJobRowData struct {
	options, result []byte
	errorMessage    sql.NullString
	finishedAt      sql.NullTime
}

func (d *syncJobRowData) scanInto(scanner syncJobRowScanner, job *model.SyncJob) error {
	return scanner.Scan(
		&job.ID,
		&job.TenantID,
		&job.Kind,
		&job.Status,
		&job.RequestedBy,
		&d.options,
		&job.Stats.TotalProcessed,
		&job.Stats.Successful,
		&job.Stats.Errors,
		&d.result,
		&d.errorMessage,
		&job.CancelRequested,
		&job.StartedAt,
		&d.finishedAt,
		&job.LastProgressAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
}

func (d *syncJobRowData) apply(job *model.SyncJob) error {
	if len(d.options) > 0 {
		if err := json.Unmarshal(d.options, &job.Options); err != nil {
			return fmt.Errorf("unmarshal sync options: %w", err)
		}
	}
	if len(d.result) > 0 {
		job.Result = append(json.RawMessage(nil), d.result...)
	}
	job.ErrorMessage = cloneNullableString(d.errorMessage)
	job.FinishedAt = cloneNullableTime(d.finishedAt)
	return nil
}

func scanSyncJobFromRow(scanner syncJobRowScanner) (*model.SyncJob, error) {
	job := &model.SyncJob{}
	var data syncJobRowData
	if err := data.scanInto(scanner, job); err != nil {
		return nil, err
	}
	if err := data.apply(job); err != nil {
		return nil, err
	}
	return job, nil
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
