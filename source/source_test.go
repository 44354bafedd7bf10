package source_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/su-allocator/allocation"
	"github.com/warp/su-allocator/generic"
	"github.com/warp/su-allocator/source"
)

var q4 = allocation.QuarterKey{Index: 0, Year: 2025, QuarterOfYear: 4}

// =============================================================================
// SIZE PARSING
// =============================================================================

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"5 TB", "5120"},
		{"5.02 TB", "5140.48"},
		{"512 MB", "0.5"},
		{"2048KB", "0.001953125"},
		{"1 gb", "1"},
		{"", "0"},
		{"7", "7"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := source.ParseSize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, generic.UnitGB, got.Unit)
			assert.True(t, generic.MustParseDecimal(tt.want).Equal(got.Value), "got %s", got.Value)
		})
	}
}

func TestParseSize_Rejects(t *testing.T) {
	for _, in := range []string{"5 PB", "abc GB", "-1 GB"} {
		_, err := source.ParseSize(in)
		assert.Error(t, err, in)
	}
}

// =============================================================================
// STATIC
// =============================================================================

func TestStatic(t *testing.T) {
	ctx := context.Background()
	s := source.NewStatic(allocation.GroupUsage{ID: "alpha"})
	s.SetSupply(2025, 4, allocation.Supply{Total: generic.SU(100), Remaining: generic.SU(80)})

	groups, err := s.FetchGroupUsage(ctx)
	require.NoError(t, err)
	assert.Len(t, groups, 1)

	supply, err := s.FetchQuarterSupply(ctx, q4)
	require.NoError(t, err)
	assert.True(t, generic.SU(80).Equal(supply.Remaining))

	_, err = s.FetchQuarterSupply(ctx, q4.Previous())
	assert.ErrorIs(t, err, generic.ErrDataUnavailable)

	s.Update([]allocation.GroupUsage{{ID: "alpha"}, {ID: "beta"}})
	groups, _ = s.FetchGroupUsage(ctx)
	assert.Len(t, groups, 2)

	s.Fail(errors.New("sacct timeout"))
	_, err = s.FetchGroupUsage(ctx)
	assert.True(t, generic.IsRetryable(err))
}

// =============================================================================
// FILE
// =============================================================================

const usageYAML = `
supply:
  - {year: 2025, quarter: 4, total: 100000, remaining: 80000}
  - {year: 2026, quarter: 1, total: 90000}
groups:
  - id: komacek-prj
    leader: diemer
    storage: 5 TB
    members:
      - {user: diemer, compute: 1234.5, storage: 120 GB}
      - {user: tk, compute: 10}
  - id: qye-prj
    members:
      - {user: qye, compute: 0, storage: 512 MB}
`

func writeUsage(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "usage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFile_FetchGroupUsage(t *testing.T) {
	src := source.NewFile(writeUsage(t, usageYAML))

	groups, err := src.FetchGroupUsage(context.Background())

	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "komacek-prj", groups[0].ID)
	assert.Equal(t, "diemer", groups[0].Leader)
	assert.True(t, generic.GB(5120).Equal(groups[0].Storage))
	require.Len(t, groups[0].Members, 2)
	assert.True(t, generic.MustParseDecimal("1234.5").Equal(groups[0].Members[0].Compute.Value))
	assert.Equal(t, generic.UnitSU, groups[0].Members[0].Compute.Unit)
	assert.True(t, generic.MustParseDecimal("0.5").Equal(groups[1].Members[0].Storage.Value))
}

func TestFile_FetchQuarterSupply(t *testing.T) {
	src := source.NewFile(writeUsage(t, usageYAML))
	ctx := context.Background()

	supply, err := src.FetchQuarterSupply(ctx, q4)
	require.NoError(t, err)
	assert.True(t, generic.SU(100000).Equal(supply.Total))
	assert.True(t, generic.SU(80000).Equal(supply.Remaining))

	// remaining defaults to total
	supply, err = src.FetchQuarterSupply(ctx, allocation.QuarterKey{Index: 1, Year: 2026, QuarterOfYear: 1})
	require.NoError(t, err)
	assert.True(t, generic.SU(90000).Equal(supply.Remaining))

	_, err = src.FetchQuarterSupply(ctx, allocation.QuarterKey{Index: 2, Year: 2026, QuarterOfYear: 2})
	assert.ErrorIs(t, err, generic.ErrDataUnavailable)
}

func TestFile_BadDataIsDataUnavailable(t *testing.T) {
	tests := map[string]string{
		"unparsable yaml": "groups: [",
		"bad size unit":   "groups:\n  - {id: g, storage: 3 XB}\n",
		"negative usage":  "groups:\n  - id: g\n    members:\n      - {user: u, compute: -5}\n",
		"missing id":      "groups:\n  - {leader: x}\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := source.NewFile(writeUsage(t, content)).FetchGroupUsage(context.Background())
			assert.ErrorIs(t, err, generic.ErrDataUnavailable)
		})
	}

	_, err := source.NewFile(filepath.Join(t.TempDir(), "missing.yaml")).FetchGroupUsage(context.Background())
	assert.ErrorIs(t, err, generic.ErrDataUnavailable)
}
