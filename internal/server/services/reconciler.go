// Package services implements the reconciler server's use cases: issuing
// access tokens and applying client mutations to the database.
package services

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/shilei2024/foodai/internal/common"
	"github.com/shilei2024/foodai/internal/dbx"
	"github.com/shilei2024/foodai/internal/logging"
	pb "github.com/shilei2024/foodai/internal/proto"
	"github.com/shilei2024/foodai/internal/server/models"
	"github.com/shilei2024/foodai/internal/server/repositories/repomanager"
)

// Operations accepted by Apply.
const (
	OperationAdd    = "add"
	OperationUpdate = "update"
	OperationDelete = "delete"
)

// DB is the connection Apply runs its transaction on; *sql.DB satisfies it.
type DB interface {
	dbx.DBTX
	dbx.TxBeginner
}

type ReconcilerService struct {
	db          DB
	repomanager repomanager.RepositoryManager
	clock       clockwork.Clock
	logger      logging.Logger
}

func NewReconcilerService(db DB, rm repomanager.RepositoryManager, clock clockwork.Clock, logger logging.Logger) *ReconcilerService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ReconcilerService{
		db:          db,
		repomanager: rm,
		clock:       clock,
		logger:      logger.With("module", "reconciler_service"),
	}
}

// Apply stores the effect of m. Each item id takes effect at most once:
// a replayed item is logged as a no-op even when newer items for the same
// record were applied in between. It reports whether anything changed.
func (s *ReconcilerService) Apply(ctx context.Context, clientID string, m pb.Mutation) (bool, error) {
	if err := validate(m); err != nil {
		return false, err
	}

	now := s.clock.Now().UTC()
	rec := &models.SyncedRecord{
		Collection: m.Collection,
		RecordID:   m.RecordID(),
		Payload:    m.Payload,
		Deleted:    m.Operation == OperationDelete,
		LastItemID: m.ItemID,
		UpdatedAt:  now,
	}
	if rec.Deleted {
		rec.Payload = nil
	}

	var changed bool
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Records(tx)

		first, err := repo.MarkApplied(ctx, &models.AppliedItem{
			ItemID:     m.ItemID,
			ClientID:   clientID,
			Collection: m.Collection,
			RecordID:   rec.RecordID,
			Operation:  m.Operation,
			AppliedAt:  now,
		})
		if err != nil || !first {
			return err
		}

		changed, err = repo.Save(ctx, rec)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("apply %s %s/%s: %w", m.Operation, m.Collection, rec.RecordID, err)
	}

	s.logger.Debug(ctx, "Mutation applied",
		"client", clientID, "item", m.ItemID, "operation", m.Operation,
		"collection", m.Collection, "record", rec.RecordID, "changed", changed)
	return changed, nil
}

func validate(m pb.Mutation) error {
	if m.ItemID == "" {
		return common.NewValidationError("item_id", "is required")
	}
	if m.Collection == "" {
		return common.NewValidationError("collection", "is required")
	}
	switch m.Operation {
	case OperationAdd, OperationUpdate, OperationDelete:
	default:
		return common.NewValidationError("operation", fmt.Sprintf("%q is not supported", m.Operation))
	}
	if m.RecordID() == "" {
		return common.NewValidationError("payload.id", "is required")
	}
	return nil
}
