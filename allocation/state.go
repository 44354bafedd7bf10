package allocation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/warp/su-allocator/generic"
)

// =============================================================================
// REPOSITORY - Typed records on top of generic.Store
// =============================================================================

const (
	ClockKey      = "clock"
	SnapshotKey   = "groups"
	QuarterPrefix = "quarter_"
)

// Repository encodes allocator state as JSON records. Absent records load
// as nil: that is "state not yet established", not an error.
type Repository struct {
	store generic.Store
}

func NewRepository(store generic.Store) *Repository {
	return &Repository{store: store}
}

func (r *Repository) LoadClock(ctx context.Context) (*ClockState, error) {
	var state ClockState
	ok, err := r.load(ctx, ClockKey, &state)
	if !ok {
		return nil, err
	}
	return &state, nil
}

func (r *Repository) LoadSnapshot(ctx context.Context) (*GroupSnapshot, error) {
	var snapshot GroupSnapshot
	ok, err := r.load(ctx, SnapshotKey, &snapshot)
	if !ok {
		return nil, err
	}
	return &snapshot, nil
}

func (r *Repository) LoadQuarter(ctx context.Context, key QuarterKey) (*QuarterRecord, error) {
	return r.loadQuarter(ctx, key.Name())
}

// FindQuarter loads a quarter by global index alone.
func (r *Repository) FindQuarter(ctx context.Context, index int) (*QuarterRecord, error) {
	keys, err := r.store.Keys(ctx, fmt.Sprintf("%s%02d_", QuarterPrefix, index))
	if err != nil {
		return nil, fmt.Errorf("list quarters: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	return r.loadQuarter(ctx, keys[len(keys)-1])
}

// QuarterNames lists every stored quarter record name, sorted.
func (r *Repository) QuarterNames(ctx context.Context) ([]string, error) {
	keys, err := r.store.Keys(ctx, QuarterPrefix)
	if err != nil {
		return nil, fmt.Errorf("list quarters: %w", err)
	}
	return keys, nil
}

func (r *Repository) loadQuarter(ctx context.Context, name string) (*QuarterRecord, error) {
	var q QuarterRecord
	ok, err := r.load(ctx, name, &q)
	if !ok {
		return nil, err
	}
	for _, p := range q.Periods {
		if p.Groups == nil {
			p.Groups = make(map[string]*GroupPeriodRecord)
		}
	}
	return &q, nil
}

func (r *Repository) load(ctx context.Context, key string, v any) (bool, error) {
	data, err := r.store.Get(ctx, key)
	if generic.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// =============================================================================
// BATCH - Records written together at the end of a tick
// =============================================================================

// Batch collects encoded records in write order.
type Batch struct {
	records []generic.Record
	err     error
}

func (b *Batch) add(key string, v any) {
	if b.err != nil {
		return
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		b.err = fmt.Errorf("encode %s: %w", key, err)
		return
	}
	b.records = append(b.records, generic.Record{Key: key, Data: data})
}

func (b *Batch) Snapshot(s *GroupSnapshot) { b.add(SnapshotKey, s) }
func (b *Batch) Quarter(q *QuarterRecord)  { b.add(q.Key.Name(), q) }
func (b *Batch) Clock(c ClockState)        { b.add(ClockKey, c) }

// Keys returns the keys in write order.
func (b *Batch) Keys() []string {
	keys := make([]string, 0, len(b.records))
	for _, r := range b.records {
		keys = append(keys, r.Key)
	}
	return keys
}

// Save writes the batch. Callers add the clock record last so an
// interrupted batch leaves the previous clock state in place.
func (r *Repository) Save(ctx context.Context, b *Batch) error {
	if b.err != nil {
		return b.err
	}
	if len(b.records) == 0 {
		return nil
	}
	for i, rec := range b.records {
		if rec.Key == ClockKey && i != len(b.records)-1 {
			return fmt.Errorf("clock record must be written last")
		}
	}
	if err := r.store.PutBatch(ctx, b.records); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}
