/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Persists allocator state records and the tick run log in one SQLite
  file. A tick's records are written in a single SQL transaction, so a
  crash leaves either all of them or none.

INTERFACES IMPLEMENTED:
  generic.Store:  Keyed state records (clock, group snapshot, quarters)
  generic.RunLog: History of tick runs

KEY TABLES:
  state:     key -> JSON document, plus update time
  tick_runs: One row per tick run (manual or scheduled)

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Readers (the HTTP API) don't block the tick writer
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/allocator.db")
  if err != nil {
      klog.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - generic/store.go: Interface definitions
  - allocation/state.go: Record layout
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/su-allocator/generic"
)

// runTimeLayout sorts lexically in time order.
const runTimeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements generic.Store and generic.RunLog using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ generic.Store  = (*Store)(nil)
	_ generic.RunLog = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// ":memory:" databases exist per connection
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Allocator state, one JSON document per key
	CREATE TABLE IF NOT EXISTS state (
		key TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Tick run log
	CREATE TABLE IF NOT EXISTS tick_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		quarter_index INTEGER NOT NULL DEFAULT 0,
		period_index INTEGER NOT NULL DEFAULT 0,
		day_offset INTEGER NOT NULL DEFAULT 0,
		new_period INTEGER NOT NULL DEFAULT 0,
		events INTEGER NOT NULL DEFAULT 0,
		warnings INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tick_runs_started
		ON tick_runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_tick_runs_status
		ON tick_runs(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// STATE RECORDS
// =============================================================================

// Get returns the record for key, or generic.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM state WHERE key = ?`, key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, generic.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return []byte(data), nil
}

// Put replaces the record for key.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	return s.PutBatch(ctx, []generic.Record{{Key: key, Data: data}})
}

// PutBatch writes all records in one transaction.
func (s *Store) PutBatch(ctx context.Context, records []generic.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, r := range records {
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO state (key, data, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
		`, r.Key, string(r.Data), now)
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", r.Key, err)
		}
	}

	return sqlTx.Commit()
}

// Keys lists stored keys with the given prefix, sorted.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT key FROM state WHERE substr(key, 1, ?) = ? ORDER BY key`, len(prefix), prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Reset deletes all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"state", "tick_runs"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// TICK RUNS
// =============================================================================

// RecordRun saves a tick run. Recording the same id again updates it.
func (s *Store) RecordRun(ctx context.Context, r generic.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO tick_runs (id, status, quarter_index, period_index, day_offset,
			new_period, events, warnings, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			events = excluded.events,
			warnings = excluded.warnings,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Status, r.QuarterIndex, r.PeriodIndex, r.DayOffset,
		r.NewPeriod, r.Events, r.Warnings, nullString(r.Error),
		r.StartedAt.UTC().Format(runTimeLayout), r.CompletedAt.UTC().Format(runTimeLayout),
	)
	return err
}

// Runs returns the most recent runs first. limit <= 0 returns all.
func (s *Store) Runs(ctx context.Context, limit int) ([]generic.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, status, quarter_index, period_index, day_offset, new_period,
			events, warnings, error, started_at, completed_at
		FROM tick_runs
		ORDER BY started_at DESC
	`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []generic.RunRecord
	for rows.Next() {
		var r generic.RunRecord
		var errText sql.NullString
		var startedAt, completedAt string
		if err := rows.Scan(
			&r.ID, &r.Status, &r.QuarterIndex, &r.PeriodIndex, &r.DayOffset, &r.NewPeriod,
			&r.Events, &r.Warnings, &errText, &startedAt, &completedAt,
		); err != nil {
			return nil, err
		}
		r.Error = errText.String
		r.StartedAt, _ = time.Parse(runTimeLayout, startedAt)
		r.CompletedAt, _ = time.Parse(runTimeLayout, completedAt)
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
