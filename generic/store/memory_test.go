package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/su-allocator/generic"
	"github.com/warp/su-allocator/generic/store"
)

func TestMemory_GetPutKeys(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	_, err := m.Get(ctx, "clock")
	assert.True(t, generic.IsNotFound(err))

	require.NoError(t, m.PutBatch(ctx, []generic.Record{
		{Key: "quarter_01_2026_1", Data: []byte(`{"a":1}`)},
		{Key: "quarter_00_2025_4", Data: []byte(`{"a":0}`)},
		{Key: "clock", Data: []byte(`{}`)},
	}))

	keys, err := m.Keys(ctx, "quarter_")
	require.NoError(t, err)
	assert.Equal(t, []string{"quarter_00_2025_4", "quarter_01_2026_1"}, keys)
	assert.Equal(t, 3, m.Writes())

	data, err := m.Get(ctx, "quarter_00_2025_4")
	require.NoError(t, err)
	data[0] = 'X'
	again, _ := m.Get(ctx, "quarter_00_2025_4")
	assert.Equal(t, `{"a":0}`, string(again), "returned bytes are a copy")
}

func TestMemory_Runs(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	base := time.Date(2025, time.October, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, m.RecordRun(ctx, generic.RunRecord{ID: "a", Status: "ok", StartedAt: base}))
	require.NoError(t, m.RecordRun(ctx, generic.RunRecord{ID: "b", Status: "ok", StartedAt: base.Add(time.Hour)}))
	require.NoError(t, m.RecordRun(ctx, generic.RunRecord{ID: "a", Status: "failed", StartedAt: base}))

	runs, err := m.Runs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "b", runs[0].ID)
	assert.Equal(t, "failed", runs[1].Status)

	runs, _ = m.Runs(ctx, 1)
	assert.Len(t, runs, 1)
}

func TestFailing_WritesFail(t *testing.T) {
	boom := errors.New("boom")
	f := &store.Failing{Store: store.NewMemory(), Err: boom}

	assert.ErrorIs(t, f.Put(context.Background(), "k", nil), boom)
	assert.ErrorIs(t, f.PutBatch(context.Background(), nil), boom)
	_, err := f.Get(context.Background(), "k")
	assert.True(t, generic.IsNotFound(err))
}
