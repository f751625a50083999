package httpx

import (
	"context"
	"net/http"
	"strconv"

	"github.com/setalabs/blingsync/internal/domain/model"
)

// SyncsService is the surface of the sync service the handlers use. Narrowed
// to an interface so handler tests can run on a stub.
type SyncsService interface {
	Start(ctx context.Context, req *model.CreateSyncJobRequest) (*model.SyncJob, error)
	Get(ctx context.Context, tenantID, id string) (*model.SyncJob, error)
	List(ctx context.Context, opts *model.SyncJobListOptions) (*model.SyncJobPage, error)
	ListActive(ctx context.Context, tenantID string) ([]*model.SyncJob, error)
	Cancel(ctx context.Context, tenantID, id string) (*model.SyncJob, error)
}

// SyncHandlers provides HTTP handlers for sync job operations.
type SyncHandlers struct {
	Svc SyncsService
}

// createSyncRequest is the request body for starting a sync. Tenant identity
// comes from the header, never from the body.
type createSyncRequest struct {
	Kind        model.SyncKind    `json:"kind"`
	RequestedBy string            `json:"requested_by"`
	Options     model.SyncOptions `json:"options"`
}

// CreateSync handles POST /api/syncs.
func (h *SyncHandlers) CreateSync(w http.ResponseWriter, r *http.Request) {
	var body createSyncRequest
	if !DecodeJSON(w, r, &body) {
		return
	}

	job, err := h.Svc.Start(r.Context(), &model.CreateSyncJobRequest{
		TenantID:    TenantID(r.Context()),
		Kind:        body.Kind,
		RequestedBy: body.RequestedBy,
		Options:     body.Options,
	})
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, job)
}

// GetSync handles GET /api/syncs/{id}.
func (h *SyncHandlers) GetSync(w http.ResponseWriter, r *http.Request) {
	job, err := h.Svc.Get(r.Context(), TenantID(r.Context()), r.PathValue("id"))
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// ListSyncs handles GET /api/syncs.
func (h *SyncHandlers) ListSyncs(w http.ResponseWriter, r *http.Request) {
	opts := &model.SyncJobListOptions{
		TenantID: TenantID(r.Context()),
		Search:   r.URL.Query().Get("search"),
		Limit:    parseIntQuery(r, "limit", 0),
		Offset:   parseIntQuery(r, "offset", 0),
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status := model.SyncStatus(v)
		opts.Status = &status
	}
	if v := r.URL.Query().Get("kind"); v != "" {
		kind := model.SyncKind(v)
		opts.Kind = &kind
	}

	page, err := h.Svc.List(r.Context(), opts)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, page)
}

// ListActiveSyncs handles GET /api/syncs/active.
func (h *SyncHandlers) ListActiveSyncs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.Svc.ListActive(r.Context(), TenantID(r.Context()))
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// CancelSync handles DELETE /api/syncs/{id}.
func (h *SyncHandlers) CancelSync(w http.ResponseWriter, r *http.Request) {
	job, err := h.Svc.Cancel(r.Context(), TenantID(r.Context()), r.PathValue("id"))
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, job)
}

func parseIntQuery(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
