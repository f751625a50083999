// Package model defines the core data types and structures used throughout the blingsync job system.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SyncKind represents the Bling entity category a sync job covers.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type SyncKind string

// SyncStatus represents the current status of a sync job.
type SyncStatus string

const (
	// SyncKindOrders synchronizes Bling sales orders.
	SyncKindOrders SyncKind = "orders"
	// SyncKindProducts synchronizes the Bling product catalog.
	SyncKindProducts SyncKind = "products"
	// SyncKindCustomers synchronizes Bling contacts.
	SyncKindCustomers SyncKind = "customers"
	// SyncKindAll expands into a sequential run of orders, products, and customers.
	SyncKindAll SyncKind = "all"

	// SyncStatusPending indicates a job is waiting to be picked up by the runner.
	SyncStatusPending SyncStatus = "pending"
	// SyncStatusRunning indicates a job is currently executing.
	SyncStatusRunning SyncStatus = "running"
	// SyncStatusCompleted indicates a job finished; partial record errors do not change this.
	SyncStatusCompleted SyncStatus = "completed"
	// SyncStatusFailed indicates a job aborted with an unrecoverable error.
	SyncStatusFailed SyncStatus = "failed"
	// SyncStatusCancelled indicates a job was cancelled before finishing.
	SyncStatusCancelled SyncStatus = "cancelled"
)

// UnmarshalText implements encoding.TextUnmarshaler for SyncKind to allow env parsing.
func (k *SyncKind) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	sk := SyncKind(v)
	if sk.Valid() {
		*k = sk
		return nil
	}
	return fmt.Errorf("invalid SyncKind: %q", v)
}

// Valid returns true if the SyncKind is valid.
func (k SyncKind) Valid() bool {
	return k == SyncKindOrders || k == SyncKindProducts || k == SyncKindCustomers || k == SyncKindAll
}

// Expand returns the concrete kinds a job of this kind executes, in order.
func (k SyncKind) Expand() []SyncKind {
	if k == SyncKindAll {
		return []SyncKind{SyncKindOrders, SyncKindProducts, SyncKindCustomers}
	}
	return []SyncKind{k}
}

// Valid returns true if the SyncStatus is valid.
func (s SyncStatus) Valid() bool {
	return s == SyncStatusPending || s == SyncStatusRunning || s == SyncStatusCompleted ||
		s == SyncStatusFailed || s == SyncStatusCancelled
}

// Terminal returns true once no further transitions are permitted.
func (s SyncStatus) Terminal() bool {
	return s == SyncStatusCompleted || s == SyncStatusFailed || s == SyncStatusCancelled
}

// CanTransitionTo reports whether moving from s to next is a legal state change.
// pending may move to running, cancelled, or failed (reaper); running may move
// to any terminal status; terminal states are frozen.
func (s SyncStatus) CanTransitionTo(next SyncStatus) bool {
	switch s {
	case SyncStatusPending:
		return next == SyncStatusRunning || next == SyncStatusCancelled || next == SyncStatusFailed
	case SyncStatusRunning:
		return next == SyncStatusCompleted || next == SyncStatusFailed || next == SyncStatusCancelled
	default:
		return false
	}
}

// SyncStats holds the monotonically non-decreasing progress counters of a job.
// Successful + Errors never exceeds TotalProcessed; filtered-out records count
// toward TotalProcessed only.
type SyncStats struct {
	TotalProcessed int `json:"total_processed" db:"stats_total"`
	Successful     int `json:"successful"      db:"stats_successful"`
	Errors         int `json:"errors"          db:"stats_errors"`
}

// Add returns the element-wise sum of two stats deltas.
func (s SyncStats) Add(d SyncStats) SyncStats {
	return SyncStats{
		TotalProcessed: s.TotalProcessed + d.TotalProcessed,
		Successful:     s.Successful + d.Successful,
		Errors:         s.Errors + d.Errors,
	}
}

// Consistent returns true while the counter invariant holds.
func (s SyncStats) Consistent() bool {
	return s.TotalProcessed >= 0 && s.Successful >= 0 && s.Errors >= 0 &&
		s.Successful+s.Errors <= s.TotalProcessed
}

// SyncOptions are the caller-supplied parameters governing execution.
type SyncOptions struct {
	// ForceFullSync bypasses the incremental "changed since last successful sync" window.
	ForceFullSync bool `json:"force_full_sync,omitempty"`
	// Filter is an optional JMESPath expression evaluated against each raw
	// record; records it does not match are skipped.
	Filter string `json:"filter,omitempty"`
	// PageSize overrides the configured Bling page size when positive.
	PageSize int `json:"page_size,omitempty"`
}

// KindSummary describes the outcome of one concrete kind within a job.
type KindSummary struct {
	TotalProcessed int    `json:"total_processed"`
	Successful     int    `json:"successful"`
	Errors         int    `json:"errors"`
	Skipped        int    `json:"skipped"`
	Pages          int    `json:"pages"`
	Error          string `json:"error,omitempty"`
}

// SyncJob represents one tracked unit of synchronization work against Bling.
type SyncJob struct {
	ID              string          `json:"id"                         db:"id"`
	TenantID        string          `json:"tenant_id"                  db:"tenant_id"`
	Kind            SyncKind        `json:"kind"                       db:"kind"`
	Status          SyncStatus      `json:"status"                     db:"status"`
	RequestedBy     string          `json:"requested_by"               db:"requested_by"`
	Options         SyncOptions     `json:"options"                    db:"options"`
	Stats           SyncStats       `json:"stats"`
	Result          json.RawMessage `json:"result,omitempty"           db:"result"`
	ErrorMessage    *string         `json:"error_message,omitempty"    db:"error_message"`
	CancelRequested bool            `json:"cancel_requested"           db:"cancel_requested"`
	StartedAt       time.Time       `json:"started_at"                 db:"started_at"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"      db:"finished_at"`
	LastProgressAt  time.Time       `json:"last_progress_at"           db:"last_progress_at"`
	CreatedAt       time.Time       `json:"created_at"                 db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"                 db:"updated_at"`
}

// Active returns true while the job occupies the per-tenant-per-kind slot.
func (j *SyncJob) Active() bool {
	return j.Status == SyncStatusPending || j.Status == SyncStatusRunning
}

// CreateSyncJobRequest represents a request to create a new sync job.
type CreateSyncJobRequest struct {
	TenantID    string      `json:"tenant_id"`
	Kind        SyncKind    `json:"kind"`
	RequestedBy string      `json:"requested_by"`
	Options     SyncOptions `json:"options,omitempty"`
}

// Validate validates the CreateSyncJobRequest fields.
func (r *CreateSyncJobRequest) Validate() error {
	if strings.TrimSpace(r.TenantID) == "" {
		return errors.New("tenant id is required")
	}
	if !r.Kind.Valid() {
		return errors.New("invalid sync kind")
	}
	if strings.TrimSpace(r.RequestedBy) == "" {
		return errors.New("requested_by is required")
	}
	if r.Options.PageSize < 0 {
		return errors.New("page size must be >= 0")
	}
	return nil
}

// SyncJobListOptions holds filters and pagination for listing a tenant's jobs.
type SyncJobListOptions struct {
	TenantID string
	Status   *SyncStatus
	Kind     *SyncKind
	// Search matches against job id, requested_by, and error_message.
	Search string
	Limit  int
	Offset int
}

// SyncJobPage is one page of list results together with the total match count.
type SyncJobPage struct {
	Jobs  []*SyncJob `json:"jobs"`
	Total int        `json:"total"`
}
