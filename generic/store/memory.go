// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/warp/su-allocator/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dry runs)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	records map[string][]byte
	writes  int
	runs    []generic.RunRecord
}

var (
	_ generic.Store  = (*Memory)(nil)
	_ generic.RunLog = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		records: make(map[string][]byte),
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.records[key]
	if !ok {
		return nil, generic.ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *Memory) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(key, data)
	return nil
}

// PutBatch writes all records under one lock.
func (m *Memory) PutBatch(_ context.Context, records []generic.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range records {
		m.putLocked(r.Key, r.Data)
	}
	return nil
}

func (m *Memory) putLocked(key string, data []byte) {
	stored := make([]byte, len(data))
	copy(stored, data)
	m.records[key] = stored
	m.writes++
}

func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.records {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Writes returns how many records have been written. Tests use it to
// assert that a tick persisted nothing.
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Reset deletes all records and runs.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string][]byte)
	m.runs = nil
	return nil
}

// RecordRun appends or replaces a run by id.
func (m *Memory) RecordRun(_ context.Context, run generic.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, r := range m.runs {
		if r.ID == run.ID {
			m.runs[i] = run
			return nil
		}
	}
	m.runs = append(m.runs, run)
	return nil
}

// Runs returns the most recent runs first.
func (m *Memory) Runs(_ context.Context, limit int) ([]generic.RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]generic.RunRecord, len(m.runs))
	copy(out, m.runs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// =============================================================================
// FAILING STORE - Wraps a store and fails writes (for testing)
// =============================================================================

// Failing delegates reads to Store and fails every write with Err.
type Failing struct {
	generic.Store
	Err error
}

func (f *Failing) Put(context.Context, string, []byte) error { return f.Err }

func (f *Failing) PutBatch(context.Context, []generic.Record) error { return f.Err }
