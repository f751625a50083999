package httpx

import (
	"log/slog"
	"net/http"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Syncs  SyncsService
	Logger *slog.Logger // Optional: request and panic logging
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	syncHandlers := &SyncHandlers{Svc: services.Syncs}
	registerSyncRoutes(mux, syncHandlers)

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	return Chain(mux, Recover(logger), Logging(logger))
}

func registerSyncRoutes(mux *http.ServeMux, h *SyncHandlers) {
	tenant := RequireTenant()
	mux.Handle("POST /api/syncs", tenant(http.HandlerFunc(h.CreateSync)))
	mux.Handle("GET /api/syncs", tenant(http.HandlerFunc(h.ListSyncs)))
	mux.Handle("GET /api/syncs/active", tenant(http.HandlerFunc(h.ListActiveSyncs)))
	mux.Handle("GET /api/syncs/{id}", tenant(http.HandlerFunc(h.GetSync)))
	mux.Handle("DELETE /api/syncs/{id}", tenant(http.HandlerFunc(h.CancelSync)))
}
