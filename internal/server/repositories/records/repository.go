// Package records persists reconciled client records in PostgreSQL.
package records

import (
	"context"

	"github.com/shilei2024/foodai/internal/server/models"
)

type Repository interface {
	// Save upserts rec unless the stored row already carries
	// rec.LastItemID. It reports whether a row was written.
	Save(ctx context.Context, rec *models.SyncedRecord) (bool, error)
	Get(ctx context.Context, collection, recordID string) (*models.SyncedRecord, error)
	// MarkApplied logs item. It reports false when the item id was
	// already logged.
	MarkApplied(ctx context.Context, item *models.AppliedItem) (bool, error)
}
