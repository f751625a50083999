package data

import (
	"context"
	"database/sql"
	"strings"

	apperrors "github.com/setalabs/blingsync/internal/errors"
)

// CredentialRepo resolves per-tenant Bling refresh tokens. Tokens are
// provisioned out of band during tenant onboarding.
type CredentialRepo struct {
	DB *sql.DB
}

// NewCredentialRepo creates a new CredentialRepo with the given database connection.
func NewCredentialRepo(db *sql.DB) *CredentialRepo {
	return &CredentialRepo{DB: db}
}

// RefreshToken returns the tenant's Bling refresh token. A missing row means
// the tenant was never connected to Bling and reads as an auth error so the
// job fails with a clear message instead of a retry loop.
func (r *CredentialRepo) RefreshToken(ctx context.Context, tenantID string) (string, error) {
	if strings.TrimSpace(tenantID) == "" {
		return "", apperrors.Validation("tenant id is required")
	}

	var token string
	err := r.DB.QueryRowContext(ctx,
		`SELECT refresh_token FROM tenant_credentials WHERE tenant_id = $1`, tenantID,
	).Scan(&token)
	if err != nil {
		mapped := apperrors.MapDBError(err)
		if apperrors.IsNotFound(mapped) {
			return "", apperrors.Auth("tenant has no Bling credentials: " + tenantID)
		}
		return "", mapped
	}
	return token, nil
}

// UpsertRefreshToken stores or replaces the tenant's refresh token. Bling
// rotates refresh tokens on every exchange, so onboarding and token rotation
// both go through this.
func (r *CredentialRepo) UpsertRefreshToken(ctx context.Context, tenantID, token string) error {
	if strings.TrimSpace(tenantID) == "" {
		return apperrors.Validation("tenant id is required")
	}
	if strings.TrimSpace(token) == "" {
		return apperrors.Validation("refresh token is required")
	}

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO tenant_credentials (tenant_id, refresh_token, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (tenant_id) DO UPDATE
		SET refresh_token = EXCLUDED.refresh_token,
		    updated_at = now()`,
		tenantID, token,
	)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}
