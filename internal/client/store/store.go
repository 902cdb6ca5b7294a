// Package store opens the client's embedded SQLite database and brings its
// schema up to date. Schema changes are forward-only and applied by goose at
// startup; each migration runs in its own transaction, so a crash mid-step
// leaves the previous schema version intact. Re-opening an already migrated
// database is a no-op.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cellatlas/cellsync/internal/client/migrations"
	"github.com/pressly/goose/v3"
)

// Open opens (or creates) the database at dsn and applies pending
// migrations. The caller owns the returned handle.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Serialize writers instead of failing fast on a locked database.
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
