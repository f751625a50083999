package data

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/setalabs/blingsync/internal/domain/model"
	apperrors "github.com/setalabs/blingsync/internal/errors"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// buildListQuery assembles the filtered SELECT and its COUNT twin from the
// list options. Both share the same WHERE clause so totals match the page.
func buildListQuery(opts *model.SyncJobListOptions) (listSQL, countSQL string, args []any) {
	var conditions []string
	add := func(cond string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	add("tenant_id = $%d", opts.TenantID)
	if opts.Status != nil {
		add("status = $%d", *opts.Status)
	}
	if opts.Kind != nil {
		add("kind = $%d", *opts.Kind)
	}
	if s := strings.TrimSpace(opts.Search); s != "" {
		args = append(args, "%"+s+"%")
		n := len(args)
		conditions = append(conditions, fmt.Sprintf(
			"(id::text ILIKE $%d OR requested_by ILIKE $%d OR error_message ILIKE $%d)", n, n, n))
	}

	where := " WHERE " + strings.Join(conditions, " AND ")
	countSQL = "SELECT COUNT(*) FROM sync_jobs" + where

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	args = append(args, limit, offset)
	listSQL = fmt.Sprintf(
		"SELECT %s FROM sync_jobs%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		syncJobColumns, where, len(args)-1, len(args))
	return listSQL, countSQL, args
}

// List returns one page of a tenant's jobs, newest first, with the total
// count of rows matching the same filters.
func (r *SyncJobRepo) List(ctx context.Context, opts *model.SyncJobListOptions) (*model.SyncJobPage, error) {
	if opts == nil || strings.TrimSpace(opts.TenantID) == "" {
		return nil, apperrors.Validation("tenant id is required")
	}
	if opts.Status != nil && !opts.Status.Valid() {
		return nil, apperrors.Validationf("invalid status filter %q", *opts.Status)
	}
	if opts.Kind != nil && !opts.Kind.Valid() {
		return nil, apperrors.Validationf("invalid kind filter %q", *opts.Kind)
	}

	listSQL, countSQL, args := buildListQuery(opts)
	countArgs := args[:len(args)-2]

	var total int
	if err := r.DB.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, apperrors.MapDBError(err)
	}

	rows, err := r.DB.QueryContext(ctx, listSQL, args...)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer rows.Close()

	jobs := make([]*model.SyncJob, 0)
	for rows.Next() {
		job, scanErr := scanSyncJobFromRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan sync job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.MapDBError(err)
	}

	return &model.SyncJobPage{Jobs: jobs, Total: total}, nil
}

// ListActive returns the tenant's pending and running jobs, oldest first.
// The partial unique index caps this at one job per kind.
func (r *SyncJobRepo) ListActive(ctx context.Context, tenantID string) ([]*model.SyncJob, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, apperrors.Validation("tenant id is required")
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+syncJobColumns+`
		FROM sync_jobs
		WHERE tenant_id = $1 AND status IN ('pending', 'running')
		ORDER BY created_at ASC`,
		tenantID,
	)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer rows.Close()

	jobs := make([]*model.SyncJob, 0)
	for rows.Next() {
		job, scanErr := scanSyncJobFromRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan sync job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return jobs, nil
}

// LastCompletedAt returns when the tenant's data of the given kind last
// finished a successful sync, or nil if it never has. Jobs of kind "all"
// count for every concrete kind because they cover the same entities.
func (r *SyncJobRepo) LastCompletedAt(ctx context.Context, tenantID string, kind model.SyncKind) (*time.Time, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, apperrors.Validation("tenant id is required")
	}
	if !kind.Valid() {
		return nil, apperrors.Validationf("invalid kind %q", kind)
	}

	var finishedAt *time.Time
	err := r.DB.QueryRowContext(ctx, `
		SELECT MAX(finished_at)
		FROM sync_jobs
		WHERE tenant_id = $1
		  AND (kind = $2 OR kind = 'all')
		  AND status = 'completed'`,
		tenantID, kind,
	).Scan(&finishedAt)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return finishedAt, nil
}

// ListPendingIDs returns pending jobs created before now minus olderThan,
// oldest first. The delay keeps the runner from racing the in-process
// dispatch that normally picks the job up immediately after creation.
func (r *SyncJobRepo) ListPendingIDs(ctx context.Context, olderThan time.Duration, limit int) ([]string, error) {
	if limit < 1 {
		limit = 1
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT id
		FROM sync_jobs
		WHERE status = 'pending'
		  AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`,
		r.timeProvider.Now().Add(-olderThan), limit,
	)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer rows.Close()

	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending job id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return ids, nil
}
