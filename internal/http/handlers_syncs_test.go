package httpx

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/setalabs/blingsync/internal/domain/model"
	apperrors "github.com/setalabs/blingsync/internal/errors"
)

const testJobID = "7a7e44bc-9f10-4a9e-8f14-3f2b8a6f1c01"

// stubSyncsService scripts responses for handler tests.
type stubSyncsService struct {
	startFn      func(ctx context.Context, req *model.CreateSyncJobRequest) (*model.SyncJob, error)
	getFn        func(ctx context.Context, tenantID, id string) (*model.SyncJob, error)
	listFn       func(ctx context.Context, opts *model.SyncJobListOptions) (*model.SyncJobPage, error)
	listActiveFn func(ctx context.Context, tenantID string) ([]*model.SyncJob, error)
	cancelFn     func(ctx context.Context, tenantID, id string) (*model.SyncJob, error)
}

func (s *stubSyncsService) Start(ctx context.Context, req *model.CreateSyncJobRequest) (*model.SyncJob, error) {
	return s.startFn(ctx, req)
}

func (s *stubSyncsService) Get(ctx context.Context, tenantID, id string) (*model.SyncJob, error) {
	return s.getFn(ctx, tenantID, id)
}

func (s *stubSyncsService) List(ctx context.Context, opts *model.SyncJobListOptions) (*model.SyncJobPage, error) {
	return s.listFn(ctx, opts)
}

func (s *stubSyncsService) ListActive(ctx context.Context, tenantID string) ([]*model.SyncJob, error) {
	return s.listActiveFn(ctx, tenantID)
}

func (s *stubSyncsService) Cancel(ctx context.Context, tenantID, id string) (*model.SyncJob, error) {
	return s.cancelFn(ctx, tenantID, id)
}

func newTestRouter(svc SyncsService) http.Handler {
	return NewRouter(RouterServices{Syncs: svc, Logger: slog.Default()})
}

func doRequest(t *testing.T, handler http.Handler, method, path, tenant, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if tenant != "" {
		req.Header.Set(TenantHeader, tenant)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateSync(t *testing.T) {
	t.Run("creates a job from body and header", func(t *testing.T) {
		svc := &stubSyncsService{
			startFn: func(_ context.Context, req *model.CreateSyncJobRequest) (*model.SyncJob, error) {
				assert.Equal(t, "tenant-1", req.TenantID, "tenant must come from the header")
				assert.Equal(t, model.SyncKindOrders, req.Kind)
				assert.Equal(t, "ops", req.RequestedBy)
				assert.True(t, req.Options.ForceFullSync)
				return &model.SyncJob{ID: testJobID, TenantID: req.TenantID, Kind: req.Kind, Status: model.SyncStatusPending}, nil
			},
		}
		router := newTestRouter(svc)

		rec := doRequest(t, router, http.MethodPost, "/api/syncs", "tenant-1",
			`{"kind": "orders", "requested_by": "ops", "options": {"force_full_sync": true}}`)

		assert.Equal(t, http.StatusCreated, rec.Code)
		var job model.SyncJob
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
		assert.Equal(t, testJobID, job.ID)
	})

	t.Run("missing tenant header is a 400", func(t *testing.T) {
		router := newTestRouter(&stubSyncsService{})
		rec := doRequest(t, router, http.MethodPost, "/api/syncs", "", `{"kind": "orders"}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "missing_tenant")
	})

	t.Run("unknown body fields are rejected", func(t *testing.T) {
		router := newTestRouter(&stubSyncsService{})
		rec := doRequest(t, router, http.MethodPost, "/api/syncs", "tenant-1",
			`{"kind": "orders", "tenant_id": "spoofed"}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("active job conflict is a 409", func(t *testing.T) {
		svc := &stubSyncsService{
			startFn: func(context.Context, *model.CreateSyncJobRequest) (*model.SyncJob, error) {
				return nil, apperrors.Conflict("an active orders sync already exists for tenant tenant-1")
			},
		}
		router := newTestRouter(svc)

		rec := doRequest(t, router, http.MethodPost, "/api/syncs", "tenant-1", `{"kind": "orders", "requested_by": "ops"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("validation failure is a 400", func(t *testing.T) {
		svc := &stubSyncsService{
			startFn: func(context.Context, *model.CreateSyncJobRequest) (*model.SyncJob, error) {
				return nil, apperrors.Validation("invalid sync kind")
			},
		}
		router := newTestRouter(svc)

		rec := doRequest(t, router, http.MethodPost, "/api/syncs", "tenant-1", `{"kind": "invoices"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetSync(t *testing.T) {
	t.Run("returns the job", func(t *testing.T) {
		svc := &stubSyncsService{
			getFn: func(_ context.Context, tenantID, id string) (*model.SyncJob, error) {
				assert.Equal(t, "tenant-1", tenantID)
				assert.Equal(t, testJobID, id)
				return &model.SyncJob{ID: id, Status: model.SyncStatusRunning}, nil
			},
		}
		router := newTestRouter(svc)

		rec := doRequest(t, router, http.MethodGet, "/api/syncs/"+testJobID, "tenant-1", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unknown job is a 404", func(t *testing.T) {
		svc := &stubSyncsService{
			getFn: func(context.Context, string, string) (*model.SyncJob, error) {
				return nil, apperrors.NotFound("sync job not found")
			},
		}
		router := newTestRouter(svc)

		rec := doRequest(t, router, http.MethodGet, "/api/syncs/"+testJobID, "tenant-1", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestListSyncs(t *testing.T) {
	t.Run("parses filters and pagination from the query", func(t *testing.T) {
		svc := &stubSyncsService{
			listFn: func(_ context.Context, opts *model.SyncJobListOptions) (*model.SyncJobPage, error) {
				assert.Equal(t, "tenant-1", opts.TenantID)
				require.NotNil(t, opts.Status)
				assert.Equal(t, model.SyncStatusFailed, *opts.Status)
				require.NotNil(t, opts.Kind)
				assert.Equal(t, model.SyncKindOrders, *opts.Kind)
				assert.Equal(t, "reaper", opts.Search)
				assert.Equal(t, 10, opts.Limit)
				assert.Equal(t, 20, opts.Offset)
				return &model.SyncJobPage{Jobs: []*model.SyncJob{}, Total: 0}, nil
			},
		}
		router := newTestRouter(svc)

		rec := doRequest(t, router, http.MethodGet,
			"/api/syncs?status=failed&kind=orders&search=reaper&limit=10&offset=20", "tenant-1", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("invalid status filter is a 400", func(t *testing.T) {
		svc := &stubSyncsService{
			listFn: func(context.Context, *model.SyncJobListOptions) (*model.SyncJobPage, error) {
				return nil, apperrors.Validation(`invalid status filter "done"`)
			},
		}
		router := newTestRouter(svc)

		rec := doRequest(t, router, http.MethodGet, "/api/syncs?status=done", "tenant-1", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestListActiveSyncs(t *testing.T) {
	svc := &stubSyncsService{
		listActiveFn: func(_ context.Context, tenantID string) ([]*model.SyncJob, error) {
			assert.Equal(t, "tenant-1", tenantID)
			return []*model.SyncJob{{ID: testJobID, Status: model.SyncStatusRunning}}, nil
		},
	}
	router := newTestRouter(svc)

	rec := doRequest(t, router, http.MethodGet, "/api/syncs/active", "tenant-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Jobs []*model.SyncJob `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Jobs, 1)
	assert.Equal(t, testJobID, body.Jobs[0].ID)
}

func TestCancelSync(t *testing.T) {
	t.Run("accepted cancellation is a 202", func(t *testing.T) {
		svc := &stubSyncsService{
			cancelFn: func(_ context.Context, _, id string) (*model.SyncJob, error) {
				return &model.SyncJob{ID: id, Status: model.SyncStatusRunning, CancelRequested: true}, nil
			},
		}
		router := newTestRouter(svc)

		rec := doRequest(t, router, http.MethodDelete, "/api/syncs/"+testJobID, "tenant-1", "")
		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("cancelling a terminal job is a 409", func(t *testing.T) {
		svc := &stubSyncsService{
			cancelFn: func(context.Context, string, string) (*model.SyncJob, error) {
				return nil, apperrors.InvalidTransition("job is already completed")
			},
		}
		router := newTestRouter(svc)

		rec := doRequest(t, router, http.MethodDelete, "/api/syncs/"+testJobID, "tenant-1", "")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(&stubSyncsService{})
	rec := doRequest(t, router, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok"}`, rec.Body.String())
}
