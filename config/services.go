package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP API server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeSyncRunner runs the sync job executor.
	ServiceModeSyncRunner ServiceMode = "sync-runner"
	// ServiceModeReaper runs the stale job reaper.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeSyncRunner,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeSyncRunner, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, sync-runner, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// SyncRunnerConfig contains sync executor configuration.
type SyncRunnerConfig struct {
	// MaxConcurrent caps how many jobs this process executes at once.
	MaxConcurrent int `env:"SYNC_RUNNER_MAX_CONCURRENT" envDefault:"4"`

	// JobTimeout bounds one job execution end to end.
	JobTimeout time.Duration `env:"SYNC_RUNNER_JOB_TIMEOUT" envDefault:"30m"`

	// ShutdownGrace is how long shutdown waits for in-flight jobs before
	// abandoning them to the reaper.
	ShutdownGrace time.Duration `env:"SYNC_RUNNER_SHUTDOWN_GRACE" envDefault:"30s"`

	// CheckpointTTL is how long cached incremental-window checkpoints live.
	CheckpointTTL time.Duration `env:"SYNC_RUNNER_CHECKPOINT_TTL" envDefault:"1h"`

	// PollInterval is how often the runner scans for pending jobs whose
	// dispatch was lost.
	PollInterval time.Duration `env:"SYNC_RUNNER_POLL_INTERVAL" envDefault:"15s"`

	// PickupDelay is how old a pending job must be before the poller takes
	// it, leaving room for the in-process dispatch to win.
	PickupDelay time.Duration `env:"SYNC_RUNNER_PICKUP_DELAY" envDefault:"10s"`

	// PickupBatch caps jobs picked up per poll.
	PickupBatch int `env:"SYNC_RUNNER_PICKUP_BATCH" envDefault:"10"`
}

// Sanitize applies guardrails to sync runner configuration values.
func (s *SyncRunnerConfig) Sanitize() {
	if s.MaxConcurrent < 1 {
		s.MaxConcurrent = 1
	}
	if s.JobTimeout <= 0 {
		s.JobTimeout = 30 * time.Minute
	}
	if s.ShutdownGrace <= 0 {
		s.ShutdownGrace = 30 * time.Second
	}
	if s.CheckpointTTL <= 0 {
		s.CheckpointTTL = time.Hour
	}
	if s.PollInterval <= 0 {
		s.PollInterval = 15 * time.Second
	}
	if s.PickupDelay <= 0 {
		s.PickupDelay = 10 * time.Second
	}
	if s.PickupBatch < 1 {
		s.PickupBatch = 1
	}
}

// ReaperConfig contains reaper service configuration.
type ReaperConfig struct {
	// Interval is the sweep interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"1m"`

	// RunningMaxIdle is how long a running job may go without progress
	// before it is considered abandoned.
	RunningMaxIdle time.Duration `env:"REAPER_RUNNING_MAX_IDLE" envDefault:"10m"`

	// PendingMaxAge is how long a pending job may wait before it is
	// considered lost.
	PendingMaxAge time.Duration `env:"REAPER_PENDING_MAX_AGE" envDefault:"15m"`

	// BatchSize caps rows failed per sweep per query.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"100"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if r.Interval <= 0 {
		r.Interval = time.Minute
	}
	if r.RunningMaxIdle <= 0 {
		r.RunningMaxIdle = 10 * time.Minute
	}
	if r.PendingMaxAge <= 0 {
		r.PendingMaxAge = 15 * time.Minute
	}
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
}
