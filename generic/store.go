/*
store.go - Persistence interface for allocator state

PURPOSE:
  Defines the interface between the allocation engine and durable storage.
  State is a handful of keyed records (clock state, the live group
  snapshot, one record per quarter) encoded by the caller. Different
  implementations can use SQLite, plain files or memory.

KEY INTERFACE:
  Store: Get, Put, PutBatch, Keys

ATOMICITY CONTRACT:
  - Put replaces a record as a whole. A crash during Put leaves either
    the old record or the new one, never a mix.
  - PutBatch writes several records for one tick. The SQLite store
    commits them in one transaction; the file store replaces each file
    atomically in order (the clock record always goes last, so an
    interrupted batch is simply reprocessed by the next run).
  - A missing key returns ErrNotFound, which callers treat as
    "state not yet established".

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - store/fs/fs.go: One file per key on afs
  - generic/store/memory.go: In-memory for testing and dry runs

SEE ALSO:
  - allocation/state.go: Typed repository on top of Store
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Key-value persistence for engine state
// =============================================================================

// Record is one keyed, already-encoded state entry.
type Record struct {
	Key  string
	Data []byte
}

// Store persists encoded state records.
type Store interface {
	// Get returns the record for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put replaces the record for key.
	Put(ctx context.Context, key string, data []byte) error

	// PutBatch writes several records, in order.
	PutBatch(ctx context.Context, records []Record) error

	// Keys lists stored keys with the given prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// =============================================================================
// RUN LOG - History of tick runs
// =============================================================================

// RunRecord summarizes one tick run.
type RunRecord struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"` // ok, dry_run, failed
	QuarterIndex int       `json:"quarter_index"`
	PeriodIndex  int       `json:"period_index"`
	DayOffset    int       `json:"day_offset"`
	NewPeriod    bool      `json:"new_period"`
	Events       int       `json:"events"`
	Warnings     int       `json:"warnings"`
	Error        string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
}

// RunLog records tick runs for audit and display.
type RunLog interface {
	RecordRun(ctx context.Context, run RunRecord) error

	// Runs returns the most recent runs first; limit <= 0 returns all.
	Runs(ctx context.Context, limit int) ([]RunRecord, error)
}
