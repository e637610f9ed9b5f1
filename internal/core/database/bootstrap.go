package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	schemaVersion = 1
	// arbitrary key serialising concurrent bootstraps of the same database
	bootstrapLockKey = 727_001

	// EmbeddingDimensions is the width of document_chunks.embedding in scripts/initdb.sql.
	EmbeddingDimensions = 768
)

//go:embed scripts/initdb.sql
var initSQL string

// EnsureBootstrapped applies scripts/initdb.sql unless agentica_meta already
// records schemaVersion. Concurrent callers wait on an advisory lock.
func EnsureBootstrapped(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	applied, err := schemaApplied(ctx, db)
	if err != nil {
		return err
	}
	if applied {
		logrus.WithField("version", schemaVersion).Debug("database schema up to date")
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bootstrap: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, bootstrapLockKey); err != nil {
		return fmt.Errorf("bootstrap lock: %w", err)
	}
	logrus.WithField("version", schemaVersion).Info("applying database schema")
	if _, err := tx.ExecContext(ctx, initSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return tx.Commit()
}

// schemaApplied reports whether the meta table exists and holds schemaVersion.
func schemaApplied(ctx context.Context, db *sql.DB) (bool, error) {
	var table sql.NullString
	if err := db.QueryRowContext(ctx, `SELECT to_regclass('agentica_meta')::text`).Scan(&table); err != nil {
		return false, fmt.Errorf("schema check: %w", err)
	}
	if !table.Valid {
		return false, nil
	}

	var ok bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM agentica_meta WHERE version = $1)`, schemaVersion).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("schema version check: %w", err)
	}
	return ok, nil
}
