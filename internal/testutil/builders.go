package testutil

import (
	"github.com/setalabs/blingsync/internal/domain/model"
)

// SyncJobRequestBuilder provides a fluent interface for building
// CreateSyncJobRequest objects for testing.
type SyncJobRequestBuilder struct {
	req *model.CreateSyncJobRequest
}

// NewSyncJobRequest creates a builder with sensible defaults.
func NewSyncJobRequest() *SyncJobRequestBuilder {
	return &SyncJobRequestBuilder{
		req: &model.CreateSyncJobRequest{
			TenantID:    "tenant-1",
			Kind:        model.SyncKindOrders,
			RequestedBy: "tests",
		},
	}
}

// WithTenant sets the tenant ID.
func (b *SyncJobRequestBuilder) WithTenant(tenantID string) *SyncJobRequestBuilder {
	b.req.TenantID = tenantID
	return b
}

// WithKind sets the sync kind.
func (b *SyncJobRequestBuilder) WithKind(kind model.SyncKind) *SyncJobRequestBuilder {
	b.req.Kind = kind
	return b
}

// WithRequestedBy sets the requesting principal.
func (b *SyncJobRequestBuilder) WithRequestedBy(requestedBy string) *SyncJobRequestBuilder {
	b.req.RequestedBy = requestedBy
	return b
}

// WithOptions sets the sync options.
func (b *SyncJobRequestBuilder) WithOptions(opts model.SyncOptions) *SyncJobRequestBuilder {
	b.req.Options = opts
	return b
}

// WithFilter sets a JMESPath filter expression on the options.
func (b *SyncJobRequestBuilder) WithFilter(expr string) *SyncJobRequestBuilder {
	b.req.Options.Filter = expr
	return b
}

// WithForceFullSync marks the request as a full rather than incremental sync.
func (b *SyncJobRequestBuilder) WithForceFullSync() *SyncJobRequestBuilder {
	b.req.Options.ForceFullSync = true
	return b
}

// Build returns the assembled request.
func (b *SyncJobRequestBuilder) Build() *model.CreateSyncJobRequest {
	return b.req
}
