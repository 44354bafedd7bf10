package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const usageFixture = `
supply:
  - {year: 2025, quarter: 4, total: 1000}
groups:
  - id: diemer-prj
    leader: diemer
    storage: 2 TB
    members:
      - {user: diemer, compute: 10}
      - {user: student1, compute: 5}
  - id: qye-prj
    leader: qye
    members:
      - {user: qye, compute: 0}
`

func writeFixtures(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	usage := filepath.Join(dir, "usage.yaml")
	require.NoError(t, os.WriteFile(usage, []byte(usageFixture), 0o644))

	cfg := fmt.Sprintf(`
people:
  - {id: diemer, category: ttk}
  - {id: student1, category: gs}
  - {id: qye, category: ttk}
groups:
  - {id: diemer-prj, leader: diemer}
  - {id: qye-prj, leader: qye}
storage: {driver: sqlite, path: %q}
notify: {outbox: %q, mailDomain: umd.edu}
source: {file: %q}
`, filepath.Join(dir, "state.db"), filepath.Join(dir, "outbox"), usage)

	path := filepath.Join(dir, "allocator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := Execute(args, &out, &errOut)
	return out.String(), errOut.String(), code
}

func TestTickThenStatus(t *testing.T) {
	// GIVEN: a config on a fresh sqlite store
	cfg := writeFixtures(t)

	// WHEN: the first tick of the quarter runs
	out, errOut, code := run(t, "tick", "--config", cfg, "--at", "2025-10-02")

	// THEN: both groups are allocated and state is persisted
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "2025 Q4 (#0), day 1, period 0")
	assert.Contains(t, out, "rollover: true")
	assert.Contains(t, out, "diemer-prj")
	assert.Contains(t, out, "persisted:")

	// AND: status reads the persisted period back
	out, errOut, code = run(t, "status", "--config", cfg)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Clock: 2025 Q4 (#0), day 1, period 0")
	assert.Contains(t, out, "Supply: 1000.00 SU total")
	assert.Contains(t, out, "qye-prj")

	// AND: the reports went to the sent folder
	sent, err := os.ReadDir(filepath.Join(filepath.Dir(cfg), "outbox", "sent"))
	require.NoError(t, err)
	assert.Len(t, sent, 3) // two leaders and one student
}

func TestTick_DryRunPersistsNothing(t *testing.T) {
	cfg := writeFixtures(t)

	out, errOut, code := run(t, "tick", "--config", cfg, "--at", "2025-10-02", "--dry-run")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "(dry run)")
	assert.Contains(t, out, "[draft]")
	assert.NotContains(t, out, "persisted:")

	out, _, code = run(t, "status", "--config", cfg)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "No state yet")
}

func TestTick_BadDate(t *testing.T) {
	cfg := writeFixtures(t)

	_, errOut, code := run(t, "tick", "--config", cfg, "--at", "October")

	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "invalid --at date")
}

func TestConfigCommand(t *testing.T) {
	cfg := writeFixtures(t)

	out, errOut, code := run(t, "config", "--config", cfg)

	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Epoch: 2025 Q4")
	assert.Contains(t, out, "0: from day 0, 0.5 of remaining supply")
	assert.Contains(t, out, "1: from day 45, remaining supply")
	assert.Contains(t, out, "0.15 (gs)")
	assert.Contains(t, out, "diemer-prj (leader diemer)")
}

func TestMissingConfig(t *testing.T) {
	_, errOut, code := run(t, "config", "--config", filepath.Join(t.TempDir(), "nope.yaml"))

	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "error:")
}
