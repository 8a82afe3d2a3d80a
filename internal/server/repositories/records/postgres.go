package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/shilei2024/foodai/internal/common"
	"github.com/shilei2024/foodai/internal/dbx"
	"github.com/shilei2024/foodai/internal/server/models"
)

const (
	table        = "synced_records"
	appliedTable = "applied_items"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Save(ctx context.Context, rec *models.SyncedRecord) (bool, error) {
	payload := rec.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("encode payload of %s/%s: %w", rec.Collection, rec.RecordID, err)
	}

	query, args, err := psql.Insert(table).
		Columns("collection", "record_id", "payload", "deleted", "last_item_id", "updated_at").
		Values(rec.Collection, rec.RecordID, string(body), rec.Deleted, rec.LastItemID, rec.UpdatedAt).
		Suffix(`ON CONFLICT (collection, record_id) DO UPDATE SET
			payload = EXCLUDED.payload,
			deleted = EXCLUDED.deleted,
			last_item_id = EXCLUDED.last_item_id,
			updated_at = EXCLUDED.updated_at
			WHERE synced_records.last_item_id <> EXCLUDED.last_item_id`).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build upsert: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, common.StorageError("upsert synced record", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, common.StorageError("upsert synced record", err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) Get(ctx context.Context, collection, recordID string) (*models.SyncedRecord, error) {
	query, args, err := psql.Select("payload", "deleted", "last_item_id", "updated_at").
		From(table).
		Where(sq.Eq{"collection": collection, "record_id": recordID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rec := &models.SyncedRecord{Collection: collection, RecordID: recordID}
	var body []byte
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&body, &rec.Deleted, &rec.LastItemID, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, common.StorageError("get synced record", err)
	}
	if err := json.Unmarshal(body, &rec.Payload); err != nil {
		return nil, fmt.Errorf("decode payload of %s/%s: %w", collection, recordID, err)
	}
	return rec, nil
}

func (r *PostgresRepository) MarkApplied(ctx context.Context, item *models.AppliedItem) (bool, error) {
	query, args, err := psql.Insert(appliedTable).
		Columns("item_id", "client_id", "collection", "record_id", "operation", "applied_at").
		Values(item.ItemID, item.ClientID, item.Collection, item.RecordID, item.Operation, item.AppliedAt).
		Suffix("ON CONFLICT (item_id) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, common.StorageError("log applied item", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, common.StorageError("log applied item", err)
	}
	return n > 0, nil
}
