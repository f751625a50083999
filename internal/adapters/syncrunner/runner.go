// Package syncrunner is the asynchronous execution boundary between the HTTP
// layer and the sync executor. Dispatch returns immediately; jobs run on
// background goroutines with bounded concurrency.
package syncrunner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/setalabs/blingsync/config"
	"github.com/setalabs/blingsync/internal/core"
)

// Executor runs one sync job to completion.
type Executor interface {
	Execute(ctx context.Context, jobID string) error
}

// Options configures the sync runner adapter.
type Options struct {
	Executor Executor                // Required: the job executor
	Config   config.SyncRunnerConfig // Required: concurrency and timeout settings
	Scanner  core.PendingScanner     // Optional: enables the pending-job pickup loop
	Logger   *slog.Logger            // Optional: structured logger
}

// Runner implements core.SyncDispatcher. Jobs execute on a context detached
// from the originating HTTP request, so a client disconnect never kills a
// running sync.
type Runner struct {
	executor Executor
	scanner  core.PendingScanner
	cfg      config.SyncRunnerConfig
	logger   *slog.Logger

	sem    chan struct{}
	wg     sync.WaitGroup
	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewRunner constructs a Runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Executor == nil {
		return nil, errors.New("Executor is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base, cancel := context.WithCancel(context.Background())
	return &Runner{
		executor: opts.Executor,
		scanner:  opts.Scanner,
		cfg:      opts.Config,
		logger:   logger.With("component", "sync_runner"),
		sem:      make(chan struct{}, opts.Config.MaxConcurrent),
		base:     base,
		cancel:   cancel,
	}, nil
}

// Dispatch schedules the job for execution and returns immediately. A job
// dispatched during shutdown is dropped; the reaper fails its pending row.
func (r *Runner) Dispatch(jobID string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Warn("dispatch during shutdown dropped", "job_id", jobID)
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(jobID)
}

func (r *Runner) run(jobID string) {
	defer r.wg.Done()

	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-r.base.Done():
		r.logger.Warn("job not started, runner stopping", "job_id", jobID)
		return
	}

	ctx, cancel := context.WithTimeout(r.base, r.cfg.JobTimeout)
	defer cancel()

	if err := r.executor.Execute(ctx, jobID); err != nil {
		r.logger.Error("sync job execution failed", "job_id", jobID, "error", err)
	}
}

// Run polls for pending jobs that never reached a runner, typically because
// the process that accepted them died before dispatching, and dispatches
// them here. It blocks until ctx is cancelled. A nil scanner makes Run a
// no-op so embedded setups can skip the loop.
func (r *Runner) Run(ctx context.Context) error {
	if r.scanner == nil {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	r.logger.Info("pending job pickup started",
		"poll_interval", r.cfg.PollInterval, "pickup_delay", r.cfg.PickupDelay)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.pickup(ctx)
		}
	}
}

func (r *Runner) pickup(ctx context.Context) {
	ids, err := r.scanner.ListPendingIDs(ctx, r.cfg.PickupDelay, r.cfg.PickupBatch)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		r.logger.Error("pending job scan failed", "error", err)
		return
	}
	for _, id := range ids {
		r.logger.Info("picking up stranded pending job", "job_id", id)
		r.Dispatch(id)
	}
}

// Shutdown stops accepting jobs and waits up to the shutdown grace for
// in-flight jobs, then cancels them. Abandoned rows are left for the reaper.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}
