package repomanager

import (
	"context"
	"database/sql"

	"github.com/shilei2024/foodai/internal/dbx"
	"github.com/shilei2024/foodai/internal/server/repositories/records"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Records(db dbx.DBTX) records.Repository
}
