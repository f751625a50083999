package data

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/setalabs/blingsync/internal/errors"
	"github.com/setalabs/blingsync/internal/util"
)

// Reaper queries. Both fail jobs in batches so one sweep never holds a large
// row lock, and both record why the job was failed in error_message.

// FailStaleRunningJobs fails running jobs whose executor stopped reporting
// progress, typically after a crash or deploy. Staleness is judged on
// last_progress_at, which IncrementStats refreshes on every page.
func (r *SyncJobRepo) FailStaleRunningJobs(ctx context.Context, maxIdle time.Duration, batchSize int) (int64, error) {
	if maxIdle <= 0 {
		return 0, apperrors.Validation("max idle must be positive")
	}
	if batchSize <= 0 {
		return 0, apperrors.Validation("batch size must be positive")
	}

	now := r.timeProvider.Now().UTC()
	cutoff := now.Add(-maxIdle)

	res, err := r.DB.ExecContext(ctx, `
		UPDATE sync_jobs
		SET status = 'failed',
		    error_message = 'job abandoned: no progress for ' || $4 || ', failed by reaper',
		    finished_at = $2,
		    last_progress_at = $2,
		    updated_at = $2
		WHERE id IN (
			SELECT id FROM sync_jobs
			WHERE status = 'running' AND last_progress_at < $1
			ORDER BY last_progress_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)`,
		cutoff, now, batchSize, util.FormatSyncDuration(maxIdle),
	)
	if err != nil {
		return 0, apperrors.MapDBError(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		r.logger.WarnContext(ctx, "failed stale running jobs",
			"count", affected, "max_idle", maxIdle.String())
	}
	return affected, nil
}

// FailStalePendingJobs fails pending jobs that were never picked up, which
// happens when the process dies between creating the row and dispatching it.
func (r *SyncJobRepo) FailStalePendingJobs(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	if maxAge <= 0 {
		return 0, apperrors.Validation("max age must be positive")
	}
	if batchSize <= 0 {
		return 0, apperrors.Validation("batch size must be positive")
	}

	now := r.timeProvider.Now().UTC()
	cutoff := now.Add(-maxAge)

	res, err := r.DB.ExecContext(ctx, `
		UPDATE sync_jobs
		SET status = 'failed',
		    error_message = 'job never started: pending for more than ' || $4 || ', failed by reaper',
		    finished_at = $2,
		    last_progress_at = $2,
		    updated_at = $2
		WHERE id IN (
			SELECT id FROM sync_jobs
			WHERE status = 'pending' AND created_at < $1
			ORDER BY created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)`,
		cutoff, now, batchSize, util.FormatSyncDuration(maxAge),
	)
	if err != nil {
		return 0, apperrors.MapDBError(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		r.logger.WarnContext(ctx, "failed stale pending jobs",
			"count", affected, "max_age", maxAge.String())
	}
	return affected, nil
}
