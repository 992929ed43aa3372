package repository

import (
	"context"
	"database/sql"
	_ "embed"

	"github.com/pesio-ai/be-proc-requisitions/internal/database"
	"github.com/pesio-ai/be-proc-requisitions/internal/errors"
)

//go:embed migrations/postgres.sql
var postgresSchema string

//go:embed migrations/sqlite.sql
var sqliteSchema string

// MigratePostgres creates the requisition schema if it does not exist.
func MigratePostgres(ctx context.Context, db *database.DB) error {
	if _, err := db.Exec(ctx, postgresSchema); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to apply postgres schema")
	}
	return nil
}

// MigrateSQLite creates the requisition schema if it does not exist.
func MigrateSQLite(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to apply sqlite schema")
	}
	return nil
}
