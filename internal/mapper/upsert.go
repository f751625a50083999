package mapper

import (
	"context"

	"github.com/setalabs/blingsync/internal/core"
	"github.com/setalabs/blingsync/internal/domain/model"
	apperrors "github.com/setalabs/blingsync/internal/errors"
)

// Upsert maps one raw record for the given kind and writes it through the
// mirror writer. Mapping failures come back as mapping errors; the caller
// decides whether they count against the job or just the record.
func Upsert(ctx context.Context, w core.MirrorWriter, kind model.SyncKind, tenantID string, raw core.RawRecord) error {
	switch kind {
	case model.SyncKindOrders:
		order, err := MapOrder(tenantID, raw)
		if err != nil {
			return err
		}
		return w.UpsertOrder(ctx, order)
	case model.SyncKindProducts:
		product, err := MapProduct(tenantID, raw)
		if err != nil {
			return err
		}
		return w.UpsertProduct(ctx, product)
	case model.SyncKindCustomers:
		customer, err := MapCustomer(tenantID, raw)
		if err != nil {
			return err
		}
		return w.UpsertCustomer(ctx, customer)
	default:
		return apperrors.Validationf("kind %q has no record mapping", kind)
	}
}
