package localdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNewerSchema is returned when a file was written by a newer binary.
var ErrNewerSchema = errors.New("database schema is newer than this build")

// Migration upgrades a partition to Version. Versions start at 1 and only move forward.
type Migration struct {
	Version int
	Stmts   []string
}

// Schema names the collections stored in a partition and how to build them.
type Schema struct {
	Name       string
	Migrations []Migration
}

// Version returns the highest version the schema knows.
func (s Schema) Version() int {
	v := 0
	for _, m := range s.Migrations {
		if m.Version > v {
			v = m.Version
		}
	}
	return v
}

func (s Schema) validate() error {
	for i, m := range s.Migrations {
		if m.Version != i+1 {
			return fmt.Errorf("schema %s: migration %d has version %d", s.Name, i+1, m.Version)
		}
	}
	return nil
}

func migrate(ctx context.Context, db *sql.DB, schema Schema, logger *slog.Logger) error {
	var current int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	target := schema.Version()
	if current > target {
		return fmt.Errorf("%w: file at %d, build at %d", ErrNewerSchema, current, target)
	}
	for _, m := range schema.Migrations[current:] {
		if err := applyMigration(ctx, db, m); err != nil {
			return err
		}
		logger.Info("applied migration", "schema", schema.Name, "version", m.Version)
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m Migration) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.Version, err)
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()
	for _, stmt := range m.Stmts {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", m.Version, err)
		}
	}
	// PRAGMA does not take parameters.
	if _, err = tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
		return fmt.Errorf("stamp version %d: %w", m.Version, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.Version, err)
	}
	return nil
}
