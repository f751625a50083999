package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	"github.com/setalabs/blingsync/config"
	"github.com/setalabs/blingsync/internal/core"
	"github.com/setalabs/blingsync/internal/observability/statsd"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo    core.ReaperRepository // Required: reaper repository
	Config  config.ReaperConfig   // Required: reaper configuration
	Logger  *slog.Logger          // Optional: structured logger
	Metrics statsd.Sink           // Optional: metrics sink (StatsD-compatible)
}

// ReaperService fails jobs abandoned by dead processes.
//
// Running jobs stop refreshing last_progress_at when their executor dies, and
// pending jobs are orphaned when dispatch never happens. Both would otherwise
// hold the per-tenant-per-kind slot forever and block new syncs.
type ReaperService struct {
	repo    core.ReaperRepository
	config  config.ReaperConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("ReaperRepository is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ReaperService{
		repo:    opts.Repo,
		config:  opts.Config,
		logger:  logger.With("component", "reaper_service"),
		metrics: opts.Metrics,
	}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting reaper service",
		"interval", s.config.Interval,
		"running_max_idle", s.config.RunningMaxIdle,
		"pending_max_age", s.config.PendingMaxAge)

	// Jitter the first sweep so multiple instances don't stampede together.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// waitWithJitter adds a random delay up to 10% of the interval.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// If crypto/rand fails, skip jitter rather than failing startup.
		return
	}
	jitter := time.Duration(int64(binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)))

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

// sweep runs both cleanup passes. Errors are logged, not returned; one failed
// sweep should not stop the loop.
func (s *ReaperService) sweep(ctx context.Context) {
	running, err := s.repo.FailStaleRunningJobs(ctx, s.config.RunningMaxIdle, s.config.BatchSize)
	s.record(ctx, "running", running, err)

	pending, err := s.repo.FailStalePendingJobs(ctx, s.config.PendingMaxAge, s.config.BatchSize)
	s.record(ctx, "pending", pending, err)
}

func (s *ReaperService) record(ctx context.Context, phase string, count int64, err error) {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		s.logger.ErrorContext(ctx, "reaper sweep failed", "phase", phase, "error", err)
		if s.metrics != nil {
			s.metrics.Count("reaper.errors", 1, map[string]string{"phase": phase})
		}
		return
	}
	if s.metrics != nil && count > 0 {
		s.metrics.Count("reaper.failed_jobs", count, map[string]string{"phase": phase})
	}
}
