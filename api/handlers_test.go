/*
handlers_test.go - HTTP API tests

Runs the router against an engine on an in-memory store and a static
source with a pinned clock.
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/su-allocator/allocation"
	"github.com/warp/su-allocator/generic"
	"github.com/warp/su-allocator/generic/store"
	"github.com/warp/su-allocator/metrics"
	"github.com/warp/su-allocator/notify"
	"github.com/warp/su-allocator/source"
)

// =============================================================================
// FIXTURES
// =============================================================================

type testServer struct {
	router   http.Handler
	handler  *Handler
	source   *source.Static
	store    *store.Memory
	recorder *notify.Recorder
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := allocation.DefaultConfig()
	cfg.People = []allocation.PersonSpec{
		{ID: "diemer", Category: allocation.CategoryTenureTrack},
		{ID: "qye", Category: allocation.CategoryTenureTrack},
	}
	cfg.Groups = []allocation.GroupSpec{{ID: "diemer-prj", Leader: "diemer"}, {ID: "qye-prj", Leader: "qye"}}

	src := source.NewStatic(
		allocation.GroupUsage{ID: "diemer-prj", Members: []allocation.MemberUsage{{UserID: "diemer", Compute: generic.SU(10)}}},
		allocation.GroupUsage{ID: "qye-prj", Members: []allocation.MemberUsage{{UserID: "qye", Compute: generic.SU(5)}}},
	)
	src.SetSupply(2025, 4, allocation.Supply{Total: generic.SU(1000), Remaining: generic.SU(1000)})

	st := store.NewMemory()
	rec := &notify.Recorder{}
	reg := prometheus.NewRegistry()
	collector, err := metrics.NewPrometheus(reg, "")
	require.NoError(t, err)

	fixed := time.Date(2025, time.October, 2, 9, 0, 0, 0, time.UTC)
	engine, err := allocation.NewEngine(cfg, allocation.Options{
		Clock:      allocation.NewClock(cfg, func() time.Time { return fixed }),
		Source:     src,
		Store:      st,
		Dispatcher: rec,
		Metrics:    collector,
	})
	require.NoError(t, err)

	scheduler := NewTickScheduler(engine, st)
	h := NewHandler(engine, scheduler, st, st)
	h.Demo = src

	return &testServer{router: NewRouter(h, reg), handler: h, source: src, store: st, recorder: rec}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

// =============================================================================
// TICK
// =============================================================================

func TestTriggerTick_FirstRunAllocates(t *testing.T) {
	// GIVEN: a fresh store
	s := setupTestServer(t)

	// WHEN: a tick is triggered
	rr := s.do(t, http.MethodPost, "/api/tick", "")

	// THEN: both groups get half of the supply split evenly
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decode[TickResponse](t, rr)
	assert.True(t, resp.Rollover)
	assert.False(t, resp.DryRun)
	require.Len(t, resp.Events, 2)
	assert.Equal(t, allocation.EventNewPeriodAllocation, resp.Events[0].Kind)
	assert.Equal(t, "250.00 SU", resp.Events[0].Budget)
	assert.Equal(t, "2025 Q4 (#0)", resp.Now.Quarter)
	assert.Equal(t, 1, resp.Now.DayOffset)
	assert.Contains(t, resp.Persisted, allocation.ClockKey)
	assert.Len(t, s.recorder.Events(), 2)

	// AND: the run is logged
	runs := decode[RunsResponse](t, s.do(t, http.MethodGet, "/api/runs", ""))
	require.Len(t, runs.Runs, 1)
	assert.Equal(t, RunOK, runs.Runs[0].Status)
	assert.Equal(t, resp.RunID, runs.Runs[0].ID)
	assert.Equal(t, 2, runs.Runs[0].Events)
}

func TestTriggerTick_DryRunPersistsNothing(t *testing.T) {
	s := setupTestServer(t)

	rr := s.do(t, http.MethodPost, "/api/tick?dry=true", "")

	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[TickResponse](t, rr)
	assert.True(t, resp.DryRun)
	assert.Empty(t, resp.Persisted)
	for _, ev := range resp.Events {
		assert.True(t, ev.Draft)
	}
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/groups", "").Code)
}

func TestTriggerTick_BadDryFlag(t *testing.T) {
	s := setupTestServer(t)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/tick?dry=maybe", "").Code)
}

func TestTriggerTick_SourceDownIs503(t *testing.T) {
	s := setupTestServer(t)
	s.source.Fail(errors.New("sacct unreachable"))

	rr := s.do(t, http.MethodPost, "/api/tick", "")

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	runs := decode[RunsResponse](t, s.do(t, http.MethodGet, "/api/runs?limit=1", ""))
	require.Len(t, runs.Runs, 1)
	assert.Equal(t, RunFailed, runs.Runs[0].Status)
	assert.Contains(t, runs.Runs[0].Error, "sacct unreachable")
}

// =============================================================================
// STATE
// =============================================================================

func TestStateEndpoints_AfterTick(t *testing.T) {
	s := setupTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/tick", "").Code)

	clock := decode[ClockResponse](t, s.do(t, http.MethodGet, "/api/clock", ""))
	require.NotNil(t, clock.Persisted)
	assert.Equal(t, 0, clock.Persisted.PeriodIndex)
	assert.Equal(t, "2025-10-01", clock.Now.QuarterStart)
	assert.Equal(t, "2025-11-14", clock.Now.PeriodEnd)

	groups := decode[allocation.GroupSnapshot](t, s.do(t, http.MethodGet, "/api/groups", ""))
	assert.Len(t, groups.Groups, 2)

	quarters := decode[map[string][]string](t, s.do(t, http.MethodGet, "/api/quarters", ""))
	assert.Equal(t, []string{"quarter_00_2025_4"}, quarters["quarters"])

	rr := s.do(t, http.MethodGet, "/api/quarters/0", "")
	require.Equal(t, http.StatusOK, rr.Code)
	q := decode[allocation.QuarterRecord](t, rr)
	require.Len(t, q.Periods, 1)
	assert.True(t, generic.SU(250).Equal(q.Periods[0].Groups["qye-prj"].Budget))

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/quarters/5", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/quarters/abc", "").Code)
}

func TestGetConfig(t *testing.T) {
	s := setupTestServer(t)

	cfg := decode[ConfigResponse](t, s.do(t, http.MethodGet, "/api/config", ""))

	require.Len(t, cfg.Periods, 2)
	assert.Equal(t, "0.5", cfg.Periods[0].Fraction)
	assert.Equal(t, "remaining", cfg.Periods[1].Fraction)
	assert.Equal(t, []string{"80", "100"}, cfg.WarningThresholds)
	require.Len(t, cfg.People, 2)
	assert.Equal(t, "1 (ttk)", cfg.People[0].Weight)
	assert.Equal(t, GroupDTO{ID: "diemer-prj", Leader: "diemer"}, cfg.Groups[0])
}

// =============================================================================
// SCENARIOS, HEALTH AND METRICS
// =============================================================================

func TestLoadScenario_ResetsState(t *testing.T) {
	s := setupTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/tick", "").Code)

	rr := s.do(t, http.MethodPost, "/api/scenarios/load", `{"scenario_id": "overuse"}`)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	keys, err := s.store.Keys(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, keys)
	list := decode[map[string]any](t, s.do(t, http.MethodGet, "/api/scenarios", ""))
	assert.Equal(t, "overuse", list["current"])

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/api/scenarios/load", `{"scenario_id": "nope"}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/scenarios/load", `{`).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := setupTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/tick", "").Code)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", "").Code)

	rr := s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `allocator_ticks_total{result="ok"} 1`)
	assert.Contains(t, rr.Body.String(), `allocator_events_total{kind="new_period_allocation"} 2`)
}

// =============================================================================
// SCHEDULER
// =============================================================================

func TestScheduler_StartRunsImmediatelyAndStops(t *testing.T) {
	s := setupTestServer(t)
	sched := s.handler.Scheduler
	sched.Interval = time.Hour

	sched.Start()
	require.Eventually(t, func() bool {
		runs, _ := s.store.Runs(context.Background(), 0)
		return len(runs) == 1 && runs[0].Status == RunOK
	}, 2*time.Second, 10*time.Millisecond)
	sched.Stop()
	sched.Stop()

	assert.Len(t, s.recorder.Events(), 2)
}

func TestScheduler_Disabled(t *testing.T) {
	s := setupTestServer(t)
	sched := s.handler.Scheduler
	sched.Enabled = false

	sched.Start()
	sched.Stop()

	runs, err := s.store.Runs(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
