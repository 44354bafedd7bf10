package allocation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/su-allocator/allocation"
	"github.com/warp/su-allocator/generic"
	"github.com/warp/su-allocator/generic/store"
)

func TestRepository_EmptyStoreLoadsNil(t *testing.T) {
	repo := allocation.NewRepository(store.NewMemory())
	ctx := context.Background()

	clock, err := repo.LoadClock(ctx)
	require.NoError(t, err)
	assert.Nil(t, clock)

	snapshot, err := repo.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, snapshot)

	q, err := repo.LoadQuarter(ctx, allocation.QuarterKey{Index: 3, Year: 2026, QuarterOfYear: 3})
	require.NoError(t, err)
	assert.Nil(t, q)
}

func TestRepository_QuarterRoundTrip(t *testing.T) {
	// GIVEN: a quarter record produced by a real rollover
	h := newHarness(t)
	prev := allocation.NewQuarterRecord(allocation.QuarterKey{Index: -1, Year: 2025, QuarterOfYear: 3}, generic.NewTimePoint(2025, time.July, 1), allocation.Supply{})
	prev.SetPeriod(&allocation.PeriodRecord{Index: 1, Terminal: true, Groups: map[string]*allocation.GroupPeriodRecord{
		"beta": {GroupID: "beta", PenaltyNew: generic.SU(200), Final: true},
	}})
	var seed allocation.Batch
	seed.Quarter(prev)
	require.NoError(t, h.engine.Repository().Save(context.Background(), &seed))
	h.tick(t, date(2025, time.October, 1))
	original := h.quarter(t, 0)

	// WHEN: it is saved to a fresh store and loaded back
	repo := allocation.NewRepository(store.NewMemory())
	var b allocation.Batch
	b.Quarter(original)
	require.NoError(t, repo.Save(context.Background(), &b))
	loaded, err := repo.LoadQuarter(context.Background(), original.Key)
	require.NoError(t, err)
	require.NotNil(t, loaded)

	// THEN: budgets, penalties and weight fractions are identical
	assert.Equal(t, original.Key, loaded.Key)
	assert.True(t, original.RemainingSupply.Equal(loaded.RemainingSupply))
	require.Len(t, loaded.Periods, 1)
	want, got := original.Period(0), loaded.Period(0)
	assert.Equal(t, want.Dates.String(), got.Dates.String())
	assert.True(t, want.Fraction.Equal(*got.Fraction))
	for id, w := range want.Groups {
		g := got.Groups[id]
		require.NotNil(t, g, id)
		assert.True(t, w.Budget.Equal(g.Budget), id)
		assert.True(t, w.BudgetBeforePenalty.Equal(g.BudgetBeforePenalty), id)
		assert.True(t, w.PenaltyOld.Equal(g.PenaltyOld), id)
		assert.True(t, w.PenaltyNew.Equal(g.PenaltyNew), id)
		assert.True(t, w.WeightFraction.Equal(g.WeightFraction), id)
		assert.Equal(t, w.Budget.Unit, g.Budget.Unit)
	}
	assertSU(t, "75", got.Groups["beta"].PenaltyNew)
}

func TestRepository_ClockMustBeLast(t *testing.T) {
	repo := allocation.NewRepository(store.NewMemory())
	var b allocation.Batch
	b.Clock(allocation.ClockState{})
	b.Snapshot(&allocation.GroupSnapshot{})

	err := repo.Save(context.Background(), &b)

	assert.Error(t, err)
}

func TestRepository_FindQuarterAndNames(t *testing.T) {
	repo := allocation.NewRepository(store.NewMemory())
	var b allocation.Batch
	for _, k := range []allocation.QuarterKey{
		{Index: 0, Year: 2025, QuarterOfYear: 4},
		{Index: 1, Year: 2026, QuarterOfYear: 1},
		{Index: 12, Year: 2028, QuarterOfYear: 4},
	} {
		b.Quarter(allocation.NewQuarterRecord(k, generic.NewTimePoint(k.Year, time.Month((k.QuarterOfYear-1)*3+1), 1), allocation.Supply{Total: generic.SU(10), Remaining: generic.SU(5)}))
	}
	require.NoError(t, repo.Save(context.Background(), &b))

	names, err := repo.QuarterNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"quarter_00_2025_4", "quarter_01_2026_1", "quarter_12_2028_4"}, names)

	q, err := repo.FindQuarter(context.Background(), 12)
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, 2028, q.Key.Year)
	assertSU(t, "5", q.RemainingSupply)

	q, err = repo.FindQuarter(context.Background(), 7)
	require.NoError(t, err)
	assert.Nil(t, q)
}
