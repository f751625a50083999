package bootstrap

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/setalabs/blingsync/config"
	httpx "github.com/setalabs/blingsync/internal/http"
)

// NewHTTPServer builds the API server. The caller owns its lifecycle;
// Run starts it and shuts it down with the rest of the services.
func NewHTTPServer(cfg *config.AppConfig, services *ServiceContainer, logger *slog.Logger) *http.Server {
	if logger == nil {
		logger = slog.Default()
	}

	router := httpx.NewRouter(httpx.RouterServices{
		Syncs:  services.Syncs,
		Logger: logger,
	})

	addr := cfg.HTTP.Addr
	if addr == "" {
		addr = ":8080"
	}

	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
}
