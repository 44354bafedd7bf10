package fs_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/su-allocator/allocation"
	"github.com/warp/su-allocator/generic"
	"github.com/warp/su-allocator/store/fs"
)

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "state")
	store, err := fs.New(dir)
	require.NoError(t, err)

	_, err = store.Get(ctx, "clock")
	assert.ErrorIs(t, err, generic.ErrNotFound)

	require.NoError(t, store.PutBatch(ctx, []generic.Record{
		{Key: "groups", Data: []byte(`{"groups":[]}`)},
		{Key: "quarter_00_2025_4", Data: []byte(`{"key":{"index":0}}`)},
		{Key: "clock", Data: []byte(`{"period_index":0}`)},
	}))
	require.NoError(t, store.Put(ctx, "clock", []byte(`{"period_index":1}`)))

	data, err := store.Get(ctx, "clock")
	require.NoError(t, err)
	assert.JSONEq(t, `{"period_index":1}`, string(data))

	onDisk, err := os.ReadFile(filepath.Join(dir, "quarter_00_2025_4.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":{"index":0}}`, string(onDisk))
}

func TestStore_KeysSkipTemporaryFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := fs.New(dir)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "quarter_01_2026_1", []byte("{}")))
	require.NoError(t, store.Put(ctx, "quarter_00_2025_4", []byte("{}")))
	require.NoError(t, store.Put(ctx, "clock", []byte("{}")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".quarter_02_2026_2-x.tmp"), []byte("{"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644))

	keys, err := store.Keys(ctx, "quarter_")
	require.NoError(t, err)
	assert.Equal(t, []string{"quarter_00_2025_4", "quarter_01_2026_1"}, keys)

	all, err := store.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"clock", "quarter_00_2025_4", "quarter_01_2026_1"}, all)
}

func TestStore_RejectsPathKeys(t *testing.T) {
	store, err := fs.New(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, store.Put(context.Background(), "../escape", []byte("{}")))
	assert.Error(t, store.Put(context.Background(), "", []byte("{}")))
}

func TestNew_RequiresPath(t *testing.T) {
	_, err := fs.New("")
	assert.Error(t, err)
}

func TestStore_FilesLandInBaseDirectory(t *testing.T) {
	// GIVEN: a store on a fresh directory
	ctx := context.Background()
	dir := t.TempDir()
	store, err := fs.New(dir)
	require.NoError(t, err)

	// WHEN: a quarter record is saved through the repository
	repo := allocation.NewRepository(store)
	q := allocation.NewQuarterRecord(allocation.QuarterKey{Index: 0, Year: 2025, QuarterOfYear: 4},
		generic.NewTimePoint(2025, 10, 1), allocation.Supply{Total: generic.SU(1000), Remaining: generic.SU(800)})
	var b allocation.Batch
	b.Quarter(q)
	require.NoError(t, repo.Save(ctx, &b))

	// THEN: exactly one file sits in the directory, under the key's name
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "quarter_00_2025_4.json", entries[0].Name())

	// AND: the record can be found by index and listed
	names, err := repo.QuarterNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"quarter_00_2025_4"}, names)

	found, err := repo.FindQuarter(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.True(t, generic.SU(800).Equal(found.RemainingSupply))
}
