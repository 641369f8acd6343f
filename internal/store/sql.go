package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Dialect selects SQL syntax differences between backends.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

func (d Dialect) String() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// SQLStore is a SharedStore backed by SQLite or PostgreSQL. Every operation
// runs in its own transaction, so concurrent writers from other processes
// see each other's committed state.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
}

// SQLiteDSN builds the connection string used for a SQLite store file.
// Immediate transactions take the write lock up front so two processes
// appending at once wait on busy_timeout instead of failing.
func SQLiteDSN(path string) string {
	return "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
}

// OpenSQLite opens (creating if needed) a SQLite store at path and applies
// migrations.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", SQLiteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("OpenSQLite: %w", err)
	}
	// One connection per process; other processes coordinate through the
	// file lock and busy timeout.
	db.SetMaxOpenConns(1)

	s, err := NewSQLStore(ctx, db, DialectSQLite, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("OpenSQLite: %w", err)
	}
	return s, nil
}

// OpenPostgres connects to PostgreSQL through the pgx driver and applies
// migrations.
func OpenPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("OpenPostgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, unavailable("OpenPostgres", err)
	}

	s, err := NewSQLStore(ctx, db, DialectPostgres, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("OpenPostgres: %w", err)
	}
	return s, nil
}

// NewSQLStore wraps an open database and runs migrations.
func NewSQLStore(ctx context.Context, db *sql.DB, d Dialect, logger *zap.Logger) (*SQLStore, error) {
	if err := NewMigrationRunner(db, d).Run(ctx); err != nil {
		return nil, unavailable("migrate", err)
	}
	return &SQLStore{db: db, dialect: d, logger: logger}, nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) q(query string) string {
	return rebind(s.dialect, query)
}

// AppendCapped inserts items and trims key to cap in one transaction.
func (s *SQLStore) AppendCapped(ctx context.Context, key string, items []json.RawMessage, cap int) (int, error) {
	if err := validateAppend(key, items, cap); err != nil {
		return 0, fmt.Errorf("AppendCapped: %w", err)
	}

	var n int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.appendTx(ctx, tx, key, items, cap); err != nil {
			return err
		}
		var err error
		n, err = s.count(ctx, tx, key)
		return err
	})
	if err != nil {
		return 0, unavailable("AppendCapped", err)
	}
	return n, nil
}

// Commit applies all batches and the metadata write in one transaction.
func (s *SQLStore) Commit(ctx context.Context, batches map[string][]json.RawMessage, cap int, meta *Metadata) error {
	if meta == nil {
		return errors.New("Commit: nil metadata")
	}
	keys := make([]string, 0, len(batches))
	for key, items := range batches {
		if err := validateAppend(key, items, cap); err != nil {
			return fmt.Errorf("Commit: %w", err)
		}
		keys = append(keys, key)
	}
	slices.Sort(keys)

	counts := make(map[string]int, len(meta.Counts)+len(keys))
	for k := range meta.Counts {
		counts[k] = 0
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, key := range keys {
			if err := s.appendTx(ctx, tx, key, batches[key], cap); err != nil {
				return err
			}
			counts[key] = 0
		}
		for key := range counts {
			n, err := s.count(ctx, tx, key)
			if err != nil {
				return err
			}
			counts[key] = n
		}
		meta.Counts = counts
		return s.upsertMetadata(ctx, tx, meta)
	})
	if err != nil {
		if errors.Is(err, ErrSerialization) {
			return fmt.Errorf("Commit: %w", err)
		}
		return unavailable("Commit", err)
	}
	return nil
}

func (s *SQLStore) appendTx(ctx context.Context, tx *sql.Tx, key string, items []json.RawMessage, cap int) error {
	if len(items) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, s.q("INSERT INTO pending_items (store_key, payload) VALUES (?, ?)"))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, it := range items {
		if _, err := stmt.ExecContext(ctx, key, string(it)); err != nil {
			return fmt.Errorf("insert %s: %w", key, err)
		}
	}

	res, err := tx.ExecContext(ctx, s.q(`
		DELETE FROM pending_items
		WHERE store_key = ? AND seq NOT IN (
			SELECT seq FROM pending_items WHERE store_key = ? ORDER BY seq DESC LIMIT ?
		)`), key, key, cap)
	if err != nil {
		return fmt.Errorf("trim %s: %w", key, err)
	}
	if trimmed, _ := res.RowsAffected(); trimmed > 0 {
		s.logger.Debug("store trimmed oldest items",
			zap.String("key", key),
			zap.Int64("trimmed", trimmed),
			zap.Int("cap", cap),
		)
	}
	return nil
}

// Read returns every item under key, oldest first.
func (s *SQLStore) Read(ctx context.Context, key string) ([]Item, error) {
	if err := ValidateKey(key); err != nil {
		return nil, fmt.Errorf("Read: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		s.q("SELECT seq, payload FROM pending_items WHERE store_key = ? ORDER BY seq"), key)
	if err != nil {
		return nil, unavailable("Read", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		var payload string
		if err := rows.Scan(&it.Seq, &payload); err != nil {
			return nil, unavailable("Read", err)
		}
		it.Payload = json.RawMessage(payload)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("Read", err)
	}
	return items, nil
}

// Count returns the number of items under key.
func (s *SQLStore) Count(ctx context.Context, key string) (int, error) {
	if err := ValidateKey(key); err != nil {
		return 0, fmt.Errorf("Count: %w", err)
	}
	n, err := s.count(ctx, s.db, key)
	if err != nil {
		return 0, unavailable("Count", err)
	}
	return n, nil
}

func (s *SQLStore) count(ctx context.Context, ex execer, key string) (int, error) {
	var n int
	err := ex.QueryRowContext(ctx, s.q("SELECT COUNT(*) FROM pending_items WHERE store_key = ?"), key).Scan(&n)
	return n, err
}

// Clear removes every item under key.
func (s *SQLStore) Clear(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return fmt.Errorf("Clear: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.q("DELETE FROM pending_items WHERE store_key = ?"), key); err != nil {
		return unavailable("Clear", err)
	}
	return nil
}

// Discard removes items under key up to and including throughSeq.
func (s *SQLStore) Discard(ctx context.Context, key string, throughSeq int64) (int, error) {
	if err := ValidateKey(key); err != nil {
		return 0, fmt.Errorf("Discard: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		s.q("DELETE FROM pending_items WHERE store_key = ? AND seq <= ?"), key, throughSeq)
	if err != nil {
		return 0, unavailable("Discard", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// WriteMetadata overwrites the metadata record.
func (s *SQLStore) WriteMetadata(ctx context.Context, m *Metadata) error {
	if m == nil {
		return errors.New("WriteMetadata: nil metadata")
	}
	if err := s.upsertMetadata(ctx, s.db, m); err != nil {
		if errors.Is(err, ErrSerialization) {
			return fmt.Errorf("WriteMetadata: %w", err)
		}
		return unavailable("WriteMetadata", err)
	}
	return nil
}

func (s *SQLStore) upsertMetadata(ctx context.Context, ex execer, m *Metadata) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	_, err = ex.ExecContext(ctx, s.q(`
		INSERT INTO store_metadata (id, payload, updated_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`),
		string(payload), time.Now().UTC())
	return err
}

// ReadMetadata returns the metadata record, or nil if none was written.
func (s *SQLStore) ReadMetadata(ctx context.Context) (*Metadata, error) {
	m, err := s.readMetadata(ctx, s.db, false)
	if err != nil {
		if errors.Is(err, ErrSerialization) {
			return nil, fmt.Errorf("ReadMetadata: %w", err)
		}
		return nil, unavailable("ReadMetadata", err)
	}
	return m, nil
}

// RecountMetadata counts keys and rewrites the metadata in one transaction.
// On PostgreSQL the metadata row is locked before counting, so a concurrent
// Commit either lands before the counts are taken or waits for this one.
func (s *SQLStore) RecountMetadata(ctx context.Context, keys []string, update RecountFunc) error {
	for _, key := range keys {
		if err := ValidateKey(key); err != nil {
			return fmt.Errorf("RecountMetadata: %w", err)
		}
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		prev, err := s.readMetadata(ctx, tx, s.dialect == DialectPostgres)
		if err != nil {
			return err
		}
		counts := make(map[string]int, len(keys))
		for _, key := range keys {
			n, err := s.count(ctx, tx, key)
			if err != nil {
				return err
			}
			counts[key] = n
		}
		m := update(prev, counts)
		if m == nil {
			return nil
		}
		return s.upsertMetadata(ctx, tx, m)
	})
	if err != nil {
		if errors.Is(err, ErrSerialization) {
			return fmt.Errorf("RecountMetadata: %w", err)
		}
		return unavailable("RecountMetadata", err)
	}
	return nil
}

func (s *SQLStore) readMetadata(ctx context.Context, ex execer, forUpdate bool) (*Metadata, error) {
	query := "SELECT payload FROM store_metadata WHERE id = 1"
	if forUpdate {
		query += " FOR UPDATE"
	}
	var payload string
	err := ex.QueryRowContext(ctx, query).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var m Metadata
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return &m, nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// rebind rewrites ? placeholders as $1, $2, ... for PostgreSQL.
func rebind(d Dialect, query string) string {
	if d != DialectPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
