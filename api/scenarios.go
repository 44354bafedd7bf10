/*
scenarios.go - Demo scenarios for the in-memory source

PURPOSE:
  Lets a demo server walk through the allocator's behaviour without an
  accounting system. Each scenario resets the state store and loads a set
  of groups and cumulative usage into the static source; the next tick
  then allocates from scratch.

AVAILABLE SCENARIOS:
  balanced:   Three groups of different weight, all within budget
  overuse:    One group far beyond its budget (penalty next period)
  zero-total: Only past members and unknown users; every fraction is zero

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "overuse"}

NOTE:
  Scenarios reset the state store. Only use in development/demo environments.
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/warp/su-allocator/allocation"
	"github.com/warp/su-allocator/generic"
)

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

type scenario struct {
	ScenarioDTO
	groups []allocation.GroupUsage
}

func member(id string, su float64) allocation.MemberUsage {
	return allocation.MemberUsage{UserID: id, Compute: generic.SU(su)}
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{ID: "balanced", Name: "Balanced", Description: "Three groups of different weight, all within budget"},
		groups: []allocation.GroupUsage{
			{ID: "diemer-prj", Leader: "diemer", Storage: generic.GB(2048), Members: []allocation.MemberUsage{member("diemer", 400), member("student1", 250)}},
			{ID: "ricotti-prj", Leader: "ricotti", Storage: generic.GB(512), Members: []allocation.MemberUsage{member("ricotti", 120), member("postdoc1", 300), member("postdoc2", 80)}},
			{ID: "qye-prj", Leader: "qye", Members: []allocation.MemberUsage{member("qye", 50)}},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{ID: "overuse", Name: "Overuse", Description: "One group far beyond its budget, carrying a penalty into the next period"},
		groups: []allocation.GroupUsage{
			{ID: "diemer-prj", Leader: "diemer", Members: []allocation.MemberUsage{member("diemer", 90000), member("student1", 40000)}},
			{ID: "qye-prj", Leader: "qye", Members: []allocation.MemberUsage{member("qye", 10)}},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{ID: "zero-total", Name: "Zero Total Weight", Description: "Only unknown users; every group gets a zero fraction"},
		groups: []allocation.GroupUsage{
			{ID: "guest-prj", Leader: "visitor1", Members: []allocation.MemberUsage{member("visitor1", 5)}},
		},
	},
}

type resetter interface {
	Reset(ctx context.Context) error
}

// ListScenarios returns the available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	out := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		out[i] = s.ScenarioDTO
	}
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"scenarios": out, "current": current})
}

// LoadScenario resets state and loads a scenario into the demo source.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	if h.Demo == nil {
		writeError(w, http.StatusConflict, "Scenarios need the server to run on the demo source", nil)
		return
	}
	var req LoadScenarioRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var found *scenario
	for i := range scenarios {
		if scenarios[i].ID == req.ScenarioID {
			found = &scenarios[i]
		}
	}
	if found == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Unknown scenario %q", req.ScenarioID), nil)
		return
	}

	err := h.Scheduler.Exclusive(func() error {
		if rs, ok := h.Store.(resetter); ok {
			if err := rs.Reset(r.Context()); err != nil {
				return err
			}
		}
		h.Demo.Update(found.groups)
		return nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset state", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = found.ID
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario_id": found.ID})
}
