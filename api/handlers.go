/*
handlers.go - HTTP API handlers for the allocator

PURPOSE:
  Exposes allocator state and a manual tick trigger over REST. Handles
  HTTP request/response and JSON serialization; all allocation logic
  lives in the allocation package.

ENDPOINTS:
  State:
    GET    /api/clock                  Live clock and last persisted position
    GET    /api/groups                 Current group snapshot
    GET    /api/quarters               Persisted quarter record names
    GET    /api/quarters/{index}       One quarter record by global index
    GET    /api/config                 Periods, roster with effective weights, groups

  Ticks:
    POST   /api/tick?dry=true          Run one tick (dry: compute and render, persist nothing)
    GET    /api/runs?limit=20          Recent tick runs

  Demo (only when serving a static source):
    GET    /api/scenarios              List demo scenarios
    POST   /api/scenarios/load         Load a demo scenario

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid input
  - 404: State not established yet / unknown quarter
  - 503: Usage data unavailable (retry later)
  - 500: Internal errors

SECURITY NOTE:
  No authentication. Bind the server to an internal interface.

SEE ALSO:
  - dto.go: Response data structures
  - scheduler.go: Serializes ticks
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/warp/su-allocator/allocation"
	"github.com/warp/su-allocator/generic"
	"github.com/warp/su-allocator/source"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine    *allocation.Engine
	Scheduler *TickScheduler
	RunLog    generic.RunLog
	Store     generic.Store

	// Demo is set when the server runs on an in-memory source.
	Demo *source.Static

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler. Ticks go through the scheduler so manual
// and scheduled runs never overlap.
func NewHandler(engine *allocation.Engine, scheduler *TickScheduler, runLog generic.RunLog, store generic.Store) *Handler {
	return &Handler{
		Engine:    engine,
		Scheduler: scheduler,
		RunLog:    runLog,
		Store:     store,
	}
}

// =============================================================================
// STATE HANDLERS
// =============================================================================

// GetClock returns the live clock and the last persisted clock state.
func (h *Handler) GetClock(w http.ResponseWriter, r *http.Request) {
	now, err := h.Engine.Clock().Now()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Clock misconfigured", err)
		return
	}
	persisted, err := h.Engine.Repository().LoadClock(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load clock state", err)
		return
	}

	resp := ClockResponse{Now: toInstantDTO(now), Persisted: persisted}
	if h.Scheduler != nil && h.Scheduler.Enabled && h.Scheduler.Interval > 0 {
		next := h.Scheduler.NextRunTime()
		resp.NextTick = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetGroups returns the current group snapshot.
func (h *Handler) GetGroups(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.Engine.Repository().LoadSnapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load group snapshot", err)
		return
	}
	if snapshot == nil {
		writeError(w, http.StatusNotFound, "No group snapshot yet; run a tick first", nil)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// ListQuarters returns the names of all persisted quarter records.
func (h *Handler) ListQuarters(w http.ResponseWriter, r *http.Request) {
	names, err := h.Engine.Repository().QuarterNames(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list quarters", err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"quarters": names})
}

// GetQuarter returns one quarter record by global index.
func (h *Handler) GetQuarter(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Quarter index must be an integer", err)
		return
	}
	q, err := h.Engine.Repository().FindQuarter(r.Context(), index)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load quarter", err)
		return
	}
	if q == nil {
		writeError(w, http.StatusNotFound, "Quarter not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// GetConfig returns the active configuration.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toConfigResponse(h.Engine.Config()))
}

// =============================================================================
// TICK HANDLERS
// =============================================================================

// TriggerTick runs one tick. ?dry=true renders drafts and persists nothing.
func (h *Handler) TriggerTick(w http.ResponseWriter, r *http.Request) {
	dry := false
	if v := r.URL.Query().Get("dry"); v != "" {
		var err error
		if dry, err = strconv.ParseBool(v); err != nil {
			writeError(w, http.StatusBadRequest, "dry must be a boolean", err)
			return
		}
	}

	report, _, err := h.Scheduler.RunTick(r.Context(), allocation.TickOptions{DryRun: dry})
	if err != nil {
		status := http.StatusInternalServerError
		if generic.IsRetryable(err) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, "Tick failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toTickResponse(report))
}

// ListRuns returns recent tick runs.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", err)
			return
		}
		limit = n
	}
	runs, err := h.RunLog.Runs(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}
	if runs == nil {
		runs = []generic.RunRecord{}
	}
	writeJSON(w, http.StatusOK, RunsResponse{Runs: runs})
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("empty request body")
	}
	return json.NewDecoder(r.Body).Decode(v)
}
