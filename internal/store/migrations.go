package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is a single schema change. Apply receives the dialect so one
// migration can carry both SQLite and PostgreSQL DDL.
type migration struct {
	Version int
	Name    string
	Apply   func(ctx context.Context, tx *sql.Tx, d Dialect) error
}

// MigrationRunner applies pending migrations to the shared store database.
type MigrationRunner struct {
	db         *sql.DB
	dialect    Dialect
	migrations []migration
}

// NewMigrationRunner creates a MigrationRunner with all registered migrations.
func NewMigrationRunner(db *sql.DB, d Dialect) *MigrationRunner {
	return &MigrationRunner{
		db:      db,
		dialect: d,
		migrations: []migration{
			{Version: 1, Name: "pending_items", Apply: migrateV001},
			{Version: 2, Name: "store_metadata", Apply: migrateV002},
		},
	}
}

// Run applies every migration that hasn't been recorded yet, in order.
func (r *MigrationRunner) Run(ctx context.Context) error {
	if r.dialect == DialectSQLite {
		if _, err := r.db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
			return fmt.Errorf("set WAL mode: %w", err)
		}
	}

	if _, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	for _, m := range r.migrations {
		applied, err := r.isApplied(ctx, m.Version)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if applied {
			continue
		}
		if err := r.apply(ctx, m); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// Version returns the highest applied migration version.
func (r *MigrationRunner) Version(ctx context.Context) (int, error) {
	var v sql.NullInt64
	if err := r.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&v); err != nil {
		return 0, err
	}
	return int(v.Int64), nil
}

func (r *MigrationRunner) isApplied(ctx context.Context, version int) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		rebind(r.dialect, "SELECT COUNT(*) FROM schema_migrations WHERE version = ?"), version,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// apply executes a migration inside a transaction and records it. A second
// process racing the same migration fails on the schema_migrations primary
// key and rolls back.
func (r *MigrationRunner) apply(ctx context.Context, m migration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := m.Apply(ctx, tx, r.dialect); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		rebind(r.dialect, "INSERT INTO schema_migrations (version, name) VALUES (?, ?)"),
		m.Version, m.Name,
	); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}

	return tx.Commit()
}

func migrateV001(ctx context.Context, tx *sql.Tx, d Dialect) error {
	table := `
		CREATE TABLE IF NOT EXISTS pending_items (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			store_key  TEXT NOT NULL,
			payload    TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`
	if d == DialectPostgres {
		table = `
		CREATE TABLE IF NOT EXISTS pending_items (
			seq        BIGSERIAL PRIMARY KEY,
			store_key  TEXT NOT NULL,
			payload    TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`
	}
	if _, err := tx.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("create pending_items: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"CREATE INDEX IF NOT EXISTS idx_pending_items_key_seq ON pending_items (store_key, seq)",
	); err != nil {
		return fmt.Errorf("create pending_items index: %w", err)
	}
	return nil
}

func migrateV002(ctx context.Context, tx *sql.Tx, d Dialect) error {
	ts := "TIMESTAMP"
	if d == DialectPostgres {
		ts = "TIMESTAMPTZ"
	}
	_, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS store_metadata (
			id         INTEGER PRIMARY KEY CHECK (id = 1),
			payload    TEXT NOT NULL,
			updated_at `+ts+` NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("create store_metadata: %w", err)
	}
	return nil
}
