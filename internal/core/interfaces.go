// Package core contains the port interfaces between the service layer and its
// collaborators (store, Bling client, mapper, runner).
package core

import (
	"context"
	"time"

	"github.com/setalabs/blingsync/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// Service implementations should depend on these interfaces, not concrete implementations.

// TransitionPatch carries the optional fields written together with a status change.
type TransitionPatch struct {
	Result       []byte
	ErrorMessage *string
	// SetFinishedAt stamps finished_at; set for every terminal transition.
	SetFinishedAt bool
}

// SyncJobRepository defines the interface for sync job persistence.
// Create enforces the one-active-job-per-tenant-per-kind guard; Transition is
// a conditional update that fails when the change is illegal from the current
// status; IncrementStats is an atomic counter addition safe under concurrency.
type SyncJobRepository interface {
	Create(ctx context.Context, req *model.CreateSyncJobRequest) (*model.SyncJob, error)
	GetByID(ctx context.Context, id string) (*model.SyncJob, error)
	GetForTenant(ctx context.Context, tenantID, id string) (*model.SyncJob, error)
	List(ctx context.Context, opts *model.SyncJobListOptions) (*model.SyncJobPage, error)
	ListActive(ctx context.Context, tenantID string) ([]*model.SyncJob, error)
	Transition(ctx context.Context, id string, next model.SyncStatus, patch TransitionPatch) (*model.SyncJob, error)
	IncrementStats(ctx context.Context, id string, delta model.SyncStats) error
	RequestCancel(ctx context.Context, id string) (bool, error)
	CancelRequested(ctx context.Context, id string) (bool, error)
	LastCompletedAt(ctx context.Context, tenantID string, kind model.SyncKind) (*time.Time, error)
}

// PendingScanner lists pending jobs awaiting dispatch. The runner polls this
// to pick up jobs whose dispatch was lost, for example when the creating
// process died between insert and execution.
type PendingScanner interface {
	ListPendingIDs(ctx context.Context, olderThan time.Duration, limit int) ([]string, error)
}

// ReaperRepository defines the cleanup operations the reaper service needs.
type ReaperRepository interface {
	FailStaleRunningJobs(ctx context.Context, maxIdle time.Duration, batchSize int) (int64, error)
	FailStalePendingJobs(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
}

// MirrorWriter upserts mapped Bling records into the local mirror tables,
// keyed by (tenant_id, external_id).
type MirrorWriter interface {
	UpsertOrder(ctx context.Context, o *model.Order) error
	UpsertProduct(ctx context.Context, p *model.Product) error
	UpsertCustomer(ctx context.Context, c *model.Customer) error
}

// CredentialRepository resolves the per-tenant Bling refresh token.
type CredentialRepository interface {
	RefreshToken(ctx context.Context, tenantID string) (string, error)
}

// RawRecord is one record exactly as returned by the Bling API.
type RawRecord []byte

// Page is one page of raw records plus the pagination continuation signal.
type Page struct {
	Records []RawRecord
	HasMore bool
}

// PageRequest describes one Bling page fetch.
type PageRequest struct {
	TenantID string
	Kind     model.SyncKind
	// Page is the 1-based page number.
	Page int
	// PageSize caps records per page.
	PageSize int
	// ChangedSince restricts results to records modified after this instant;
	// nil requests the full collection.
	ChangedSince *time.Time
}

// BlingClient fetches pages of raw records from the Bling API with rate
// limiting and retries applied internally.
type BlingClient interface {
	FetchPage(ctx context.Context, req PageRequest) (*Page, error)
}

// CheckpointCache caches the last-successful-sync instant per tenant and kind
// so the incremental-window lookup stays off the hot path.
type CheckpointCache interface {
	Get(ctx context.Context, tenantID string, kind model.SyncKind) (*time.Time, bool, error)
	Set(ctx context.Context, tenantID string, kind model.SyncKind, at *time.Time) error
	Invalidate(ctx context.Context, tenantID string, kind model.SyncKind) error
}

// SyncDispatcher hands a created job to the asynchronous execution boundary.
// Implementations must not block on job completion.
type SyncDispatcher interface {
	Dispatch(jobID string)
}
