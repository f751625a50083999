package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/setalabs/blingsync/config"
	"github.com/setalabs/blingsync/internal/adapters/syncrunner"
	"github.com/setalabs/blingsync/internal/bling"
	"github.com/setalabs/blingsync/internal/data"
	"github.com/setalabs/blingsync/internal/observability/statsd"
	"github.com/setalabs/blingsync/internal/ratelimit"
	"github.com/setalabs/blingsync/internal/service"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Syncs    *service.SyncService
	Executor *service.ExecutorService
	Reaper   *service.ReaperService
	Runner   *syncrunner.Runner
	Metrics  *statsd.Client
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// NewServices wires repositories, the Bling client, and the services.
func NewServices(deps *ServiceDeps) (*ServiceContainer, error) {
	if deps == nil || deps.Config == nil || deps.DB == nil || deps.RedisClient == nil {
		return nil, errors.New("config, database, and redis are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	var metricsSink *statsd.Client
	if cfg.Observability.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Observability.Metrics.StatsdAddress,
			Prefix:  "blingsync",
			Logger:  logger,
		})
		if err != nil {
			logger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	repoCfg := data.RepoConfig{Logger: logger}
	jobRepo := data.NewSyncJobRepo(deps.DB, repoCfg)
	mirrorRepo := data.NewMirrorRepo(deps.DB, repoCfg)
	credRepo := data.NewCredentialRepo(deps.DB)
	checkpoints := data.NewRedisCheckpointCache(deps.RedisClient, cfg.SyncRunner.CheckpointTTL)

	limiter := ratelimit.NewTokenBucket(deps.RedisClient, ratelimit.Config{
		Capacity:        cfg.Bling.Burst,
		RefillPerSecond: cfg.Bling.RequestsPerSecond,
	})

	tokens := bling.NewTokenProvider(bling.AuthConfig{
		TokenURL:     cfg.Bling.TokenURL,
		ClientID:     cfg.Bling.ClientID,
		ClientSecret: cfg.Bling.ClientSecret,
	}, credRepo)

	blingClient := bling.NewClient(nil, tokens, limiter, bling.ClientConfig{
		BaseURL:     cfg.Bling.BaseURL,
		PageSize:    cfg.Bling.PageSize,
		MaxRetries:  cfg.Bling.MaxRetries,
		BackoffBase: cfg.Bling.BackoffBase,
		BackoffMax:  cfg.Bling.BackoffMax,
		Logger:      logger,
	})

	executor, err := service.NewExecutorService(service.ExecutorServiceOptions{
		Repo:        jobRepo,
		Mirror:      mirrorRepo,
		Client:      blingClient,
		Checkpoints: checkpoints,
		Logger:      logger,
		Metrics:     metricsSink,
	})
	if err != nil {
		return nil, fmt.Errorf("create executor service: %w", err)
	}

	runner, err := syncrunner.NewRunner(syncrunner.Options{
		Executor: executor,
		Config:   cfg.SyncRunner,
		Scanner:  jobRepo,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create sync runner: %w", err)
	}

	syncs, err := service.NewSyncService(service.SyncServiceOptions{
		Repo:       jobRepo,
		Dispatcher: runner,
		Logger:     logger,
		Metrics:    metricsSink,
	})
	if err != nil {
		return nil, fmt.Errorf("create sync service: %w", err)
	}

	reaper, err := service.NewReaperService(service.ReaperServiceOptions{
		Repo:    jobRepo,
		Config:  cfg.Reaper,
		Logger:  logger,
		Metrics: metricsSink,
	})
	if err != nil {
		return nil, fmt.Errorf("create reaper service: %w", err)
	}

	return &ServiceContainer{
		Syncs:    syncs,
		Executor: executor,
		Reaper:   reaper,
		Runner:   runner,
		Metrics:  metricsSink,
	}, nil
}

// Run starts the enabled services and blocks until a shutdown signal arrives
// or a service fails. Shutdown order matters: the HTTP server stops accepting
// work first, then the runner drains in-flight jobs, then the reaper stops.
func Run(cfg *config.AppConfig, services *ServiceContainer, logger *slog.Logger) error {
	if cfg == nil || services == nil {
		return errors.New("config and services are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	enabled, err := cfg.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	var server *http.Server
	if enabled[config.ServiceModeHTTP] {
		server = NewHTTPServer(cfg, services, logger)
		g.Go(func() error {
			logger.Info("starting HTTP server", "addr", cfg.HTTP.Addr)
			if serveErr := server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", serveErr)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	if enabled[config.ServiceModeReaper] {
		g.Go(func() error {
			return services.Reaper.Run(gctx)
		})
	}

	if enabled[config.ServiceModeSyncRunner] {
		g.Go(func() error {
			return services.Runner.Run(gctx)
		})
	}

	// Every mode drains the runner on shutdown: even an http-only process
	// dispatches jobs in-process when it accepts them.
	g.Go(func() error {
		<-gctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.SyncRunner.ShutdownGrace)
		defer cancel()
		if drainErr := services.Runner.Shutdown(drainCtx); drainErr != nil {
			logger.Warn("sync runner drain incomplete, reaper will recover abandoned jobs",
				"error", drainErr)
		}
		return nil
	})

	err = g.Wait()

	if services.Metrics != nil {
		if closeErr := services.Metrics.Close(); closeErr != nil {
			logger.Warn("close metrics client failed", "error", closeErr)
		}
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("all services stopped")
	return nil
}
