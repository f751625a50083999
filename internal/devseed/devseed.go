// Package devseed populates a development database with tenants so the API
// can be exercised without running real Bling onboarding.
package devseed

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/setalabs/blingsync/internal/data"
)

type seedTenant struct {
	TenantID     string
	RefreshToken string
}

func defaultTenants() []seedTenant {
	return []seedTenant{
		{TenantID: "dev-tenant", RefreshToken: "dev-refresh-token-1"},
		{TenantID: "dev-tenant-2", RefreshToken: "dev-refresh-token-2"},
	}
}

// Run seeds development tenant credentials. Existing tenants are updated in
// place, so the command is safe to run repeatedly.
func Run(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	creds := data.NewCredentialRepo(db)
	failures := 0
	for _, tenant := range defaultTenants() {
		if err := creds.UpsertRefreshToken(ctx, tenant.TenantID, tenant.RefreshToken); err != nil {
			logger.ErrorContext(ctx, "failed to seed tenant credentials",
				"tenant_id", tenant.TenantID, "error", err)
			failures++
			continue
		}
		logger.InfoContext(ctx, "seeded tenant credentials", "tenant_id", tenant.TenantID)
	}

	if failures > 0 {
		return fmt.Errorf("%d seed errors; check logs", failures)
	}
	return nil
}
