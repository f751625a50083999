package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/setalabs/blingsync/internal/core"
	"github.com/setalabs/blingsync/internal/domain/model"
	apperrors "github.com/setalabs/blingsync/internal/errors"
	"github.com/setalabs/blingsync/internal/testutil"
)

const testJobID = "0b91a3a4-6a51-4c8e-9c54-1f6f36c5f8e2"

// mockJobRepo is a hand-rolled repository mock for SyncService tests.
type mockJobRepo struct {
	createFn        func(ctx context.Context, req *model.CreateSyncJobRequest) (*model.SyncJob, error)
	getForTenantFn  func(ctx context.Context, tenantID, id string) (*model.SyncJob, error)
	transitionFn    func(ctx context.Context, id string, next model.SyncStatus, patch core.TransitionPatch) (*model.SyncJob, error)
	requestCancelFn func(ctx context.Context, id string) (bool, error)

	transitionCalls    int
	requestCancelCalls int
}

func (m *mockJobRepo) Create(ctx context.Context, req *model.CreateSyncJobRequest) (*model.SyncJob, error) {
	return m.createFn(ctx, req)
}

func (m *mockJobRepo) GetByID(context.Context, string) (*model.SyncJob, error) {
	panic("not used by SyncService")
}

func (m *mockJobRepo) GetForTenant(ctx context.Context, tenantID, id string) (*model.SyncJob, error) {
	return m.getForTenantFn(ctx, tenantID, id)
}

func (m *mockJobRepo) List(context.Context, *model.SyncJobListOptions) (*model.SyncJobPage, error) {
	return &model.SyncJobPage{Jobs: []*model.SyncJob{}}, nil
}

func (m *mockJobRepo) ListActive(context.Context, string) ([]*model.SyncJob, error) {
	return nil, nil
}

func (m *mockJobRepo) Transition(ctx context.Context, id string, next model.SyncStatus, patch core.TransitionPatch) (*model.SyncJob, error) {
	m.transitionCalls++
	return m.transitionFn(ctx, id, next, patch)
}

func (m *mockJobRepo) IncrementStats(context.Context, string, model.SyncStats) error {
	return nil
}

func (m *mockJobRepo) RequestCancel(ctx context.Context, id string) (bool, error) {
	m.requestCancelCalls++
	return m.requestCancelFn(ctx, id)
}

func (m *mockJobRepo) CancelRequested(context.Context, string) (bool, error) {
	return false, nil
}

func (m *mockJobRepo) LastCompletedAt(context.Context, string, model.SyncKind) (*time.Time, error) {
	return nil, nil
}

// mockDispatcher records dispatched job IDs.
type mockDispatcher struct {
	dispatched []string
}

func (m *mockDispatcher) Dispatch(jobID string) {
	m.dispatched = append(m.dispatched, jobID)
}

func newTestSyncService(t *testing.T, repo *mockJobRepo, dispatcher *mockDispatcher) *SyncService {
	t.Helper()
	svc, err := NewSyncService(SyncServiceOptions{
		Repo:       repo,
		Dispatcher: dispatcher,
		Logger:     slog.Default(),
	})
	require.NoError(t, err)
	return svc
}

func TestNewSyncService(t *testing.T) {
	t.Run("requires repo", func(t *testing.T) {
		_, err := NewSyncService(SyncServiceOptions{Dispatcher: &mockDispatcher{}})
		assert.Error(t, err)
	})

	t.Run("requires dispatcher", func(t *testing.T) {
		_, err := NewSyncService(SyncServiceOptions{Repo: &mockJobRepo{}})
		assert.Error(t, err)
	})
}

func TestSyncServiceStart(t *testing.T) {
	t.Run("creates and dispatches the job", func(t *testing.T) {
		repo := &mockJobRepo{
			createFn: func(_ context.Context, req *model.CreateSyncJobRequest) (*model.SyncJob, error) {
				return &model.SyncJob{
					ID:       testJobID,
					TenantID: req.TenantID,
					Kind:     req.Kind,
					Status:   model.SyncStatusPending,
				}, nil
			},
		}
		dispatcher := &mockDispatcher{}
		svc := newTestSyncService(t, repo, dispatcher)

		job, err := svc.Start(context.Background(), testutil.NewSyncJobRequest().Build())
		require.NoError(t, err)
		assert.Equal(t, model.SyncStatusPending, job.Status)
		assert.Equal(t, []string{testJobID}, dispatcher.dispatched)
	})

	t.Run("rejects nil request", func(t *testing.T) {
		svc := newTestSyncService(t, &mockJobRepo{}, &mockDispatcher{})
		_, err := svc.Start(context.Background(), nil)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("rejects invalid kind", func(t *testing.T) {
		svc := newTestSyncService(t, &mockJobRepo{}, &mockDispatcher{})
		req := testutil.NewSyncJobRequest().WithKind("invoices").Build()
		_, err := svc.Start(context.Background(), req)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("rejects malformed filter before creating the job", func(t *testing.T) {
		dispatcher := &mockDispatcher{}
		svc := newTestSyncService(t, &mockJobRepo{}, dispatcher)

		req := testutil.NewSyncJobRequest().WithFilter("total >").Build()
		_, err := svc.Start(context.Background(), req)
		assert.True(t, apperrors.IsValidation(err))
		assert.Empty(t, dispatcher.dispatched)
	})

	t.Run("propagates the single-active-job conflict", func(t *testing.T) {
		repo := &mockJobRepo{
			createFn: func(context.Context, *model.CreateSyncJobRequest) (*model.SyncJob, error) {
				return nil, apperrors.Conflict("an active orders sync already exists for tenant tenant-1")
			},
		}
		dispatcher := &mockDispatcher{}
		svc := newTestSyncService(t, repo, dispatcher)

		_, err := svc.Start(context.Background(), testutil.NewSyncJobRequest().Build())
		assert.True(t, apperrors.IsConflict(err))
		assert.Empty(t, dispatcher.dispatched)
	})
}

func TestSyncServiceGet(t *testing.T) {
	t.Run("rejects malformed job id without touching the repo", func(t *testing.T) {
		svc := newTestSyncService(t, &mockJobRepo{}, &mockDispatcher{})
		_, err := svc.Get(context.Background(), "tenant-1", "not-a-uuid")
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("scopes the lookup to the tenant", func(t *testing.T) {
		repo := &mockJobRepo{
			getForTenantFn: func(_ context.Context, tenantID, id string) (*model.SyncJob, error) {
				assert.Equal(t, "tenant-1", tenantID)
				return &model.SyncJob{ID: id, TenantID: tenantID}, nil
			},
		}
		svc := newTestSyncService(t, repo, &mockDispatcher{})

		job, err := svc.Get(context.Background(), "tenant-1", testJobID)
		require.NoError(t, err)
		assert.Equal(t, testJobID, job.ID)
	})
}

func TestSyncServiceCancel(t *testing.T) {
	t.Run("terminal job is an invalid transition", func(t *testing.T) {
		repo := &mockJobRepo{
			getForTenantFn: func(_ context.Context, _, id string) (*model.SyncJob, error) {
				return &model.SyncJob{ID: id, Status: model.SyncStatusCompleted}, nil
			},
		}
		svc := newTestSyncService(t, repo, &mockDispatcher{})

		_, err := svc.Cancel(context.Background(), "tenant-1", testJobID)
		assert.True(t, apperrors.IsInvalidTransition(err))
		assert.Zero(t, repo.transitionCalls)
		assert.Zero(t, repo.requestCancelCalls)
	})

	t.Run("pending job is cancelled immediately", func(t *testing.T) {
		repo := &mockJobRepo{
			getForTenantFn: func(_ context.Context, _, id string) (*model.SyncJob, error) {
				return &model.SyncJob{ID: id, Status: model.SyncStatusPending}, nil
			},
			transitionFn: func(_ context.Context, id string, next model.SyncStatus, patch core.TransitionPatch) (*model.SyncJob, error) {
				assert.Equal(t, model.SyncStatusCancelled, next)
				assert.True(t, patch.SetFinishedAt)
				assert.Nil(t, patch.ErrorMessage, "cancelled jobs carry no error message")
				return &model.SyncJob{ID: id, Status: model.SyncStatusCancelled}, nil
			},
		}
		svc := newTestSyncService(t, repo, &mockDispatcher{})

		job, err := svc.Cancel(context.Background(), "tenant-1", testJobID)
		require.NoError(t, err)
		assert.Equal(t, model.SyncStatusCancelled, job.Status)
		assert.Zero(t, repo.requestCancelCalls)
	})

	t.Run("running job gets the cooperative flag", func(t *testing.T) {
		repo := &mockJobRepo{
			getForTenantFn: func(_ context.Context, _, id string) (*model.SyncJob, error) {
				return &model.SyncJob{ID: id, Status: model.SyncStatusRunning, CancelRequested: true}, nil
			},
			requestCancelFn: func(context.Context, string) (bool, error) {
				return true, nil
			},
		}
		svc := newTestSyncService(t, repo, &mockDispatcher{})

		job, err := svc.Cancel(context.Background(), "tenant-1", testJobID)
		require.NoError(t, err)
		assert.True(t, job.CancelRequested)
		assert.Equal(t, 1, repo.requestCancelCalls)
		assert.Zero(t, repo.transitionCalls)
	})

	t.Run("pending job racing into running falls through to the flag", func(t *testing.T) {
		repo := &mockJobRepo{
			getForTenantFn: func(_ context.Context, _, id string) (*model.SyncJob, error) {
				return &model.SyncJob{ID: id, Status: model.SyncStatusPending}, nil
			},
			transitionFn: func(context.Context, string, model.SyncStatus, core.TransitionPatch) (*model.SyncJob, error) {
				return nil, apperrors.InvalidTransition("job is running")
			},
			requestCancelFn: func(context.Context, string) (bool, error) {
				return true, nil
			},
		}
		svc := newTestSyncService(t, repo, &mockDispatcher{})

		_, err := svc.Cancel(context.Background(), "tenant-1", testJobID)
		require.NoError(t, err)
		assert.Equal(t, 1, repo.transitionCalls)
		assert.Equal(t, 1, repo.requestCancelCalls)
	})

	t.Run("job finishing during cancel is an invalid transition", func(t *testing.T) {
		repo := &mockJobRepo{
			getForTenantFn: func(_ context.Context, _, id string) (*model.SyncJob, error) {
				return &model.SyncJob{ID: id, Status: model.SyncStatusRunning}, nil
			},
			requestCancelFn: func(context.Context, string) (bool, error) {
				return false, nil
			},
		}
		svc := newTestSyncService(t, repo, &mockDispatcher{})

		_, err := svc.Cancel(context.Background(), "tenant-1", testJobID)
		assert.True(t, apperrors.IsInvalidTransition(err))
	})
}
