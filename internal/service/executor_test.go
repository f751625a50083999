package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/setalabs/blingsync/internal/core"
	"github.com/setalabs/blingsync/internal/domain/model"
	apperrors "github.com/setalabs/blingsync/internal/errors"
)

// fakeExecRepo is an in-memory repository holding a single job, with the
// same guarded transition semantics as the real store.
type fakeExecRepo struct {
	mu  sync.Mutex
	job *model.SyncJob

	// cancelAfterChecks flips CancelRequested to true once that many checks
	// have happened, simulating a cancel arriving mid-run.
	cancelAfterChecks int
	cancelChecks      int

	lastCompleted   map[model.SyncKind]*time.Time
	lastCompletedFn int
}

func newFakeExecRepo(job *model.SyncJob) *fakeExecRepo {
	return &fakeExecRepo{job: job, cancelAfterChecks: -1}
}

func (r *fakeExecRepo) snapshot() model.SyncJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.job
}

func (r *fakeExecRepo) Create(context.Context, *model.CreateSyncJobRequest) (*model.SyncJob, error) {
	panic("not used by ExecutorService")
}

func (r *fakeExecRepo) GetByID(_ context.Context, id string) (*model.SyncJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.job == nil || r.job.ID != id {
		return nil, apperrors.NotFoundf("sync job %s not found", id)
	}
	copied := *r.job
	return &copied, nil
}

func (r *fakeExecRepo) GetForTenant(context.Context, string, string) (*model.SyncJob, error) {
	panic("not used by ExecutorService")
}

func (r *fakeExecRepo) List(context.Context, *model.SyncJobListOptions) (*model.SyncJobPage, error) {
	panic("not used by ExecutorService")
}

func (r *fakeExecRepo) ListActive(context.Context, string) ([]*model.SyncJob, error) {
	panic("not used by ExecutorService")
}

func (r *fakeExecRepo) Transition(_ context.Context, id string, next model.SyncStatus, patch core.TransitionPatch) (*model.SyncJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.job == nil || r.job.ID != id {
		return nil, apperrors.NotFoundf("sync job %s not found", id)
	}
	if !r.job.Status.CanTransitionTo(next) {
		return nil, apperrors.InvalidTransitionf("cannot move %s job to %s", r.job.Status, next)
	}
	r.job.Status = next
	if patch.Result != nil {
		r.job.Result = patch.Result
	}
	if patch.ErrorMessage != nil {
		r.job.ErrorMessage = patch.ErrorMessage
	}
	if patch.SetFinishedAt {
		now := time.Now()
		r.job.FinishedAt = &now
	}
	copied := *r.job
	return &copied, nil
}

func (r *fakeExecRepo) IncrementStats(_ context.Context, id string, delta model.SyncStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.job == nil || r.job.ID != id {
		return apperrors.NotFoundf("sync job %s not found", id)
	}
	if r.job.Status != model.SyncStatusRunning {
		return apperrors.InvalidTransitionf("job %s is %s, not running", id, r.job.Status)
	}
	r.job.Stats = r.job.Stats.Add(delta)
	r.job.LastProgressAt = time.Now()
	return nil
}

func (r *fakeExecRepo) RequestCancel(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.job == nil || r.job.ID != id || r.job.Status.Terminal() {
		return false, nil
	}
	r.job.CancelRequested = true
	return true, nil
}

func (r *fakeExecRepo) CancelRequested(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelChecks++
	if r.cancelAfterChecks >= 0 && r.cancelChecks > r.cancelAfterChecks {
		r.job.CancelRequested = true
	}
	return r.job.CancelRequested, nil
}

func (r *fakeExecRepo) LastCompletedAt(_ context.Context, _ string, kind model.SyncKind) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastCompletedFn++
	return r.lastCompleted[kind], nil
}

// fakeBlingClient serves scripted pages per kind and records requests.
type fakeBlingClient struct {
	mu       sync.Mutex
	pages    map[model.SyncKind][]core.Page
	fetchErr map[model.SyncKind]error
	requests []core.PageRequest
}

func (c *fakeBlingClient) FetchPage(_ context.Context, req core.PageRequest) (*core.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)

	if err := c.fetchErr[req.Kind]; err != nil {
		return nil, err
	}
	kindPages := c.pages[req.Kind]
	if req.Page < 1 || req.Page > len(kindPages) {
		return &core.Page{}, nil
	}
	page := kindPages[req.Page-1]
	return &page, nil
}

// fakeMirror counts upserts and can fail specific external IDs.
type fakeMirror struct {
	mu      sync.Mutex
	orders  []int64
	failIDs map[int64]bool
}

func (m *fakeMirror) UpsertOrder(_ context.Context, o *model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIDs[o.ExternalID] {
		return errors.New("write refused")
	}
	m.orders = append(m.orders, o.ExternalID)
	return nil
}

func (m *fakeMirror) UpsertProduct(context.Context, *model.Product) error { return nil }

func (m *fakeMirror) UpsertCustomer(context.Context, *model.Customer) error { return nil }

// fakeCheckpoints is an in-memory checkpoint cache.
type fakeCheckpoints struct {
	mu          sync.Mutex
	entries     map[string]*time.Time
	gets        int
	invalidated []string
}

func newFakeCheckpoints() *fakeCheckpoints {
	return &fakeCheckpoints{entries: make(map[string]*time.Time)}
}

func checkpointMapKey(tenantID string, kind model.SyncKind) string {
	return tenantID + ":" + string(kind)
}

func (c *fakeCheckpoints) Get(_ context.Context, tenantID string, kind model.SyncKind) (*time.Time, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	at, ok := c.entries[checkpointMapKey(tenantID, kind)]
	return at, ok, nil
}

func (c *fakeCheckpoints) Set(_ context.Context, tenantID string, kind model.SyncKind, at *time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[checkpointMapKey(tenantID, kind)] = at
	return nil
}

func (c *fakeCheckpoints) Invalidate(_ context.Context, tenantID string, kind model.SyncKind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := checkpointMapKey(tenantID, kind)
	delete(c.entries, key)
	c.invalidated = append(c.invalidated, key)
	return nil
}

func pendingJob(kind model.SyncKind) *model.SyncJob {
	return &model.SyncJob{
		ID:       testJobID,
		TenantID: "tenant-1",
		Kind:     kind,
		Status:   model.SyncStatusPending,
	}
}

func orderRecord(id int) core.RawRecord {
	return core.RawRecord(`{"id": ` + strconv.Itoa(id) + `, "numero": "PED", "total": 10}`)
}

func newTestExecutor(t *testing.T, repo core.SyncJobRepository, client core.BlingClient, mirror core.MirrorWriter, checkpoints core.CheckpointCache) *ExecutorService {
	t.Helper()
	svc, err := NewExecutorService(ExecutorServiceOptions{
		Repo:        repo,
		Mirror:      mirror,
		Client:      client,
		Checkpoints: checkpoints,
		Logger:      slog.Default(),
	})
	require.NoError(t, err)
	return svc
}

func TestExecutorExecute(t *testing.T) {
	t.Run("pages through the collection and completes", func(t *testing.T) {
		repo := newFakeExecRepo(pendingJob(model.SyncKindOrders))
		client := &fakeBlingClient{pages: map[model.SyncKind][]core.Page{
			model.SyncKindOrders: {
				{Records: []core.RawRecord{orderRecord(1), orderRecord(2)}, HasMore: true},
				{Records: []core.RawRecord{orderRecord(3)}, HasMore: false},
			},
		}}
		mirror := &fakeMirror{}
		checkpoints := newFakeCheckpoints()
		svc := newTestExecutor(t, repo, client, mirror, checkpoints)

		require.NoError(t, svc.Execute(context.Background(), testJobID))

		job := repo.snapshot()
		assert.Equal(t, model.SyncStatusCompleted, job.Status)
		assert.Equal(t, 3, job.Stats.TotalProcessed)
		assert.Equal(t, 3, job.Stats.Successful)
		assert.Zero(t, job.Stats.Errors)
		assert.NotNil(t, job.FinishedAt)
		assert.Len(t, mirror.orders, 3)

		var result struct {
			Kinds map[string]model.KindSummary `json:"kinds"`
		}
		require.NoError(t, json.Unmarshal(job.Result, &result))
		assert.Equal(t, 2, result.Kinds["orders"].Pages)

		assert.Contains(t, checkpoints.invalidated, "tenant-1:orders")
	})

	t.Run("absorbs per-record failures into the error counter", func(t *testing.T) {
		repo := newFakeExecRepo(pendingJob(model.SyncKindOrders))
		client := &fakeBlingClient{pages: map[model.SyncKind][]core.Page{
			model.SyncKindOrders: {
				{Records: []core.RawRecord{
					orderRecord(1),
					core.RawRecord(`{"numero": "no-id"}`),
					orderRecord(2),
				}},
			},
		}}
		mirror := &fakeMirror{failIDs: map[int64]bool{2: true}}
		svc := newTestExecutor(t, repo, client, mirror, nil)

		require.NoError(t, svc.Execute(context.Background(), testJobID))

		job := repo.snapshot()
		assert.Equal(t, model.SyncStatusCompleted, job.Status, "record failures never fail the job")
		assert.Equal(t, 3, job.Stats.TotalProcessed)
		assert.Equal(t, 1, job.Stats.Successful)
		assert.Equal(t, 2, job.Stats.Errors)
	})

	t.Run("filter skips non-matching records", func(t *testing.T) {
		job := pendingJob(model.SyncKindOrders)
		job.Options.Filter = "total > `50`"
		repo := newFakeExecRepo(job)
		client := &fakeBlingClient{pages: map[model.SyncKind][]core.Page{
			model.SyncKindOrders: {
				{Records: []core.RawRecord{
					core.RawRecord(`{"id": 1, "total": 100}`),
					core.RawRecord(`{"id": 2, "total": 10}`),
				}},
			},
		}}
		mirror := &fakeMirror{}
		svc := newTestExecutor(t, repo, client, mirror, nil)

		require.NoError(t, svc.Execute(context.Background(), testJobID))

		finished := repo.snapshot()
		assert.Equal(t, model.SyncStatusCompleted, finished.Status)
		assert.Equal(t, 2, finished.Stats.TotalProcessed)
		assert.Equal(t, 1, finished.Stats.Successful)
		assert.Zero(t, finished.Stats.Errors)
		assert.Equal(t, []int64{1}, mirror.orders)

		var result struct {
			Kinds map[string]model.KindSummary `json:"kinds"`
		}
		require.NoError(t, json.Unmarshal(finished.Result, &result))
		assert.Equal(t, 1, result.Kinds["orders"].Skipped)
	})

	t.Run("fetch failure fails the job with the kind named", func(t *testing.T) {
		repo := newFakeExecRepo(pendingJob(model.SyncKindOrders))
		client := &fakeBlingClient{fetchErr: map[model.SyncKind]error{
			model.SyncKindOrders: apperrors.TransientAPI("bling returned 503", nil),
		}}
		svc := newTestExecutor(t, repo, client, &fakeMirror{}, nil)

		require.NoError(t, svc.Execute(context.Background(), testJobID))

		job := repo.snapshot()
		assert.Equal(t, model.SyncStatusFailed, job.Status)
		require.NotNil(t, job.ErrorMessage)
		assert.Contains(t, *job.ErrorMessage, "orders")
	})

	t.Run("one failing kind does not abort its siblings", func(t *testing.T) {
		repo := newFakeExecRepo(pendingJob(model.SyncKindAll))
		client := &fakeBlingClient{
			pages: map[model.SyncKind][]core.Page{
				model.SyncKindProducts:  {{Records: []core.RawRecord{core.RawRecord(`{"id": 1}`)}}},
				model.SyncKindCustomers: {{Records: []core.RawRecord{core.RawRecord(`{"id": 2}`)}}},
			},
			fetchErr: map[model.SyncKind]error{
				model.SyncKindOrders: apperrors.TransientAPI("bling returned 502", nil),
			},
		}
		svc := newTestExecutor(t, repo, client, &fakeMirror{}, nil)

		require.NoError(t, svc.Execute(context.Background(), testJobID))

		job := repo.snapshot()
		assert.Equal(t, model.SyncStatusFailed, job.Status, "worst outcome wins")
		assert.Equal(t, 2, job.Stats.Successful, "products and customers still ran")
		assert.Nil(t, job.Result, "failed jobs carry the error message, not a result")
		require.NotNil(t, job.ErrorMessage)
		assert.Contains(t, *job.ErrorMessage, "orders")
	})

	t.Run("cancellation stops at the next page boundary", func(t *testing.T) {
		repo := newFakeExecRepo(pendingJob(model.SyncKindAll))
		// The first check (orders page 1) passes, the second sees the cancel.
		repo.cancelAfterChecks = 1
		client := &fakeBlingClient{pages: map[model.SyncKind][]core.Page{
			model.SyncKindOrders: {
				{Records: []core.RawRecord{orderRecord(1)}, HasMore: true},
				{Records: []core.RawRecord{orderRecord(2)}, HasMore: false},
			},
		}}
		svc := newTestExecutor(t, repo, client, &fakeMirror{}, nil)

		require.NoError(t, svc.Execute(context.Background(), testJobID))

		job := repo.snapshot()
		assert.Equal(t, model.SyncStatusCancelled, job.Status)
		assert.Equal(t, 1, job.Stats.TotalProcessed, "first page landed before the cancel")
		for _, req := range client.requests {
			assert.Equal(t, model.SyncKindOrders, req.Kind, "later kinds never start after a cancel")
		}
	})

	t.Run("cancel requested before start finishes without executing", func(t *testing.T) {
		job := pendingJob(model.SyncKindOrders)
		job.CancelRequested = true
		repo := newFakeExecRepo(job)
		client := &fakeBlingClient{}
		svc := newTestExecutor(t, repo, client, &fakeMirror{}, nil)

		require.NoError(t, svc.Execute(context.Background(), testJobID))

		finished := repo.snapshot()
		assert.Equal(t, model.SyncStatusCancelled, finished.Status)
		assert.Empty(t, client.requests)
	})

	t.Run("terminal job is a no-op", func(t *testing.T) {
		job := pendingJob(model.SyncKindOrders)
		job.Status = model.SyncStatusCancelled
		repo := newFakeExecRepo(job)
		client := &fakeBlingClient{}
		svc := newTestExecutor(t, repo, client, &fakeMirror{}, nil)

		require.NoError(t, svc.Execute(context.Background(), testJobID))
		assert.Empty(t, client.requests)
	})

	t.Run("unknown job surfaces the lookup error", func(t *testing.T) {
		repo := newFakeExecRepo(pendingJob(model.SyncKindOrders))
		svc := newTestExecutor(t, repo, &fakeBlingClient{}, &fakeMirror{}, nil)

		err := svc.Execute(context.Background(), "4dfd9af7-40ca-4a29-9c2f-111111111111")
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestExecutorIncrementalWindow(t *testing.T) {
	t.Run("changed-since comes from the last completed sync", func(t *testing.T) {
		last := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
		repo := newFakeExecRepo(pendingJob(model.SyncKindOrders))
		repo.lastCompleted = map[model.SyncKind]*time.Time{model.SyncKindOrders: &last}
		client := &fakeBlingClient{pages: map[model.SyncKind][]core.Page{
			model.SyncKindOrders: {{Records: nil, HasMore: false}},
		}}
		checkpoints := newFakeCheckpoints()
		svc := newTestExecutor(t, repo, client, &fakeMirror{}, checkpoints)

		require.NoError(t, svc.Execute(context.Background(), testJobID))

		require.NotEmpty(t, client.requests)
		require.NotNil(t, client.requests[0].ChangedSince)
		assert.True(t, last.Equal(*client.requests[0].ChangedSince))

		_, hit := checkpoints.entries[checkpointMapKey("tenant-1", model.SyncKindOrders)]
		assert.False(t, hit, "completion invalidates the cached window")
	})

	t.Run("force full sync skips the window entirely", func(t *testing.T) {
		last := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
		job := pendingJob(model.SyncKindOrders)
		job.Options.ForceFullSync = true
		repo := newFakeExecRepo(job)
		repo.lastCompleted = map[model.SyncKind]*time.Time{model.SyncKindOrders: &last}
		client := &fakeBlingClient{pages: map[model.SyncKind][]core.Page{
			model.SyncKindOrders: {{Records: nil, HasMore: false}},
		}}
		svc := newTestExecutor(t, repo, client, &fakeMirror{}, newFakeCheckpoints())

		require.NoError(t, svc.Execute(context.Background(), testJobID))

		require.NotEmpty(t, client.requests)
		assert.Nil(t, client.requests[0].ChangedSince)
		assert.Zero(t, repo.lastCompletedFn, "no window lookup on a forced full sync")
	})

	t.Run("cache hit avoids the database lookup", func(t *testing.T) {
		cachedAt := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)
		repo := newFakeExecRepo(pendingJob(model.SyncKindOrders))
		client := &fakeBlingClient{pages: map[model.SyncKind][]core.Page{
			model.SyncKindOrders: {{Records: nil, HasMore: false}},
		}}
		checkpoints := newFakeCheckpoints()
		checkpoints.entries[checkpointMapKey("tenant-1", model.SyncKindOrders)] = &cachedAt
		svc := newTestExecutor(t, repo, client, &fakeMirror{}, checkpoints)

		require.NoError(t, svc.Execute(context.Background(), testJobID))

		require.NotEmpty(t, client.requests)
		require.NotNil(t, client.requests[0].ChangedSince)
		assert.True(t, cachedAt.Equal(*client.requests[0].ChangedSince))
		assert.Zero(t, repo.lastCompletedFn)
	})

	t.Run("never synced means a full fetch", func(t *testing.T) {
		repo := newFakeExecRepo(pendingJob(model.SyncKindOrders))
		client := &fakeBlingClient{pages: map[model.SyncKind][]core.Page{
			model.SyncKindOrders: {{Records: nil, HasMore: false}},
		}}
		svc := newTestExecutor(t, repo, client, &fakeMirror{}, nil)

		require.NoError(t, svc.Execute(context.Background(), testJobID))

		require.NotEmpty(t, client.requests)
		assert.Nil(t, client.requests[0].ChangedSince)
	})
}
