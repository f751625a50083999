package data

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/setalabs/blingsync/internal/domain/model"
	apperrors "github.com/setalabs/blingsync/internal/errors"
)

// MirrorRepo writes mapped Bling records into the local mirror tables. Every
// write is an upsert on (tenant_id, external_id), so replaying a page after a
// retry or a forced full sync converges instead of duplicating rows.
type MirrorRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewMirrorRepo creates a new MirrorRepo with the given database connection and configuration.
func NewMirrorRepo(db *sql.DB, cfg RepoConfig) *MirrorRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &MirrorRepo{
		DB:           db,
		timeProvider: tp,
		logger:       logger,
	}
}

// UpsertOrder inserts or refreshes one order mirror row.
func (r *MirrorRepo) UpsertOrder(ctx context.Context, o *model.Order) error {
	if o == nil {
		return apperrors.Validation("order is required")
	}

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO orders (tenant_id, external_id, number, total, contact_name, issued_at, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, external_id) DO UPDATE
		SET number = EXCLUDED.number,
		    total = EXCLUDED.total,
		    contact_name = EXCLUDED.contact_name,
		    issued_at = EXCLUDED.issued_at,
		    synced_at = EXCLUDED.synced_at`,
		o.TenantID, o.ExternalID, o.Number, o.Total, o.ContactName, o.IssuedAt,
		r.timeProvider.Now().UTC(),
	)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}

// UpsertProduct inserts or refreshes one product mirror row.
func (r *MirrorRepo) UpsertProduct(ctx context.Context, p *model.Product) error {
	if p == nil {
		return apperrors.Validation("product is required")
	}

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO products (tenant_id, external_id, code, name, price, stock, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, external_id) DO UPDATE
		SET code = EXCLUDED.code,
		    name = EXCLUDED.name,
		    price = EXCLUDED.price,
		    stock = EXCLUDED.stock,
		    synced_at = EXCLUDED.synced_at`,
		p.TenantID, p.ExternalID, p.Code, p.Name, p.Price, p.Stock,
		r.timeProvider.Now().UTC(),
	)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}

// UpsertCustomer inserts or refreshes one customer mirror row.
func (r *MirrorRepo) UpsertCustomer(ctx context.Context, c *model.Customer) error {
	if c == nil {
		return apperrors.Validation("customer is required")
	}

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO customers (tenant_id, external_id, name, document, email, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, external_id) DO UPDATE
		SET name = EXCLUDED.name,
		    document = EXCLUDED.document,
		    email = EXCLUDED.email,
		    synced_at = EXCLUDED.synced_at`,
		c.TenantID, c.ExternalID, c.Name, c.Document, c.Email,
		r.timeProvider.Now().UTC(),
	)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}
