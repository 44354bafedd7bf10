/*
dto.go - Data Transfer Objects for API responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the
  allocation records from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Response: Complex response wrappers

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/su-allocator/allocation"
	"github.com/warp/su-allocator/generic"
)

// =============================================================================
// CLOCK
// =============================================================================

// InstantDTO is the allocation calendar's view of a moment.
type InstantDTO struct {
	Time         time.Time `json:"time"`
	Quarter      string    `json:"quarter"`
	QuarterIndex int       `json:"quarter_index"`
	QuarterStart string    `json:"quarter_start"`
	DayOffset    int       `json:"day_offset"`
	PeriodIndex  int       `json:"period_index"`
	PeriodStart  string    `json:"period_start"`
	PeriodEnd    string    `json:"period_end"`
}

// ClockResponse compares the live clock with the last persisted position.
type ClockResponse struct {
	Now       InstantDTO             `json:"now"`
	Persisted *allocation.ClockState `json:"persisted,omitempty"`
	NextTick  *time.Time             `json:"next_tick,omitempty"`
}

func toInstantDTO(in allocation.Instant) InstantDTO {
	return InstantDTO{
		Time:         in.Time,
		Quarter:      in.Quarter.String(),
		QuarterIndex: in.Quarter.Index,
		QuarterStart: in.QuarterStart.String(),
		DayOffset:    in.DayOffset,
		PeriodIndex:  in.PeriodIndex,
		PeriodStart:  in.Period.Start.String(),
		PeriodEnd:    in.Period.End.String(),
	}
}

// =============================================================================
// TICK
// =============================================================================

// EventDTO summarizes one emitted event.
type EventDTO struct {
	Kind      allocation.EventKind `json:"kind"`
	GroupID   string               `json:"group_id"`
	Draft     bool                 `json:"draft"`
	Budget    string               `json:"budget,omitempty"`
	Usage     string               `json:"usage,omitempty"`
	Threshold string               `json:"threshold,omitempty"`
}

// TickResponse is returned by POST /api/tick.
type TickResponse struct {
	RunID      string     `json:"run_id"`
	Now        InstantDTO `json:"now"`
	NewQuarter bool       `json:"new_quarter"`
	NewPeriod  bool       `json:"new_period"`
	NewDay     bool       `json:"new_day"`
	Rollover   bool       `json:"rollover"`
	DryRun     bool       `json:"dry_run"`
	Events     []EventDTO `json:"events"`
	Warnings   []string   `json:"warnings"`
	Persisted  []string   `json:"persisted"`
}

func toTickResponse(r *allocation.TickReport) TickResponse {
	resp := TickResponse{
		RunID:      r.RunID,
		Now:        toInstantDTO(r.Now),
		NewQuarter: r.NewQuarter,
		NewPeriod:  r.NewPeriod,
		NewDay:     r.NewDay,
		Rollover:   r.Rollover,
		DryRun:     r.DryRun,
		Events:     []EventDTO{},
		Warnings:   []string{},
		Persisted:  r.Persisted,
	}
	if resp.Persisted == nil {
		resp.Persisted = []string{}
	}
	for _, ev := range r.Events {
		dto := EventDTO{Kind: ev.Kind(), GroupID: ev.GroupID(), Draft: ev.IsDraft()}
		switch e := ev.(type) {
		case allocation.NewPeriodAllocation:
			dto.Budget = e.Record.Budget.String()
		case allocation.UsageWarning:
			dto.Budget = e.Record.Budget.String()
			dto.Usage = e.NewUsage.String()
			if e.Threshold != nil {
				dto.Threshold = e.Threshold.String()
			}
		}
		resp.Events = append(resp.Events, dto)
	}
	for _, w := range r.Warnings {
		resp.Warnings = append(resp.Warnings, w.String())
	}
	return resp
}

// =============================================================================
// CONFIG
// =============================================================================

// PersonDTO is a roster entry with its effective weight.
type PersonDTO struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Weight   string `json:"weight"`
	Past     bool   `json:"past,omitempty"`
}

// PeriodDTO is one row of the period table.
type PeriodDTO struct {
	StartDay int    `json:"start_day"`
	Fraction string `json:"fraction"` // "remaining" for the terminal period
}

// GroupDTO is a configured group.
type GroupDTO struct {
	ID     string `json:"id"`
	Leader string `json:"leader"`
}

// ConfigResponse describes the active configuration.
type ConfigResponse struct {
	BaseYear          int         `json:"base_year"`
	BaseQuarter       int         `json:"base_quarter"`
	Periods           []PeriodDTO `json:"periods"`
	PenaltyFactor     string      `json:"penalty_factor"`
	WarningThresholds []string    `json:"warning_thresholds"`
	People            []PersonDTO `json:"people"`
	Groups            []GroupDTO  `json:"groups"`
}

func toConfigResponse(cfg allocation.Config) ConfigResponse {
	resp := ConfigResponse{
		BaseYear:      cfg.BaseYear,
		BaseQuarter:   cfg.BaseQuarter,
		PenaltyFactor: cfg.PenaltyFactor.String(),
		People:        []PersonDTO{},
		Groups:        []GroupDTO{},
	}
	for _, p := range cfg.Periods {
		f := "remaining"
		if p.Fraction != nil {
			f = p.Fraction.String()
		}
		resp.Periods = append(resp.Periods, PeriodDTO{StartDay: p.StartDay, Fraction: f})
	}
	for _, t := range cfg.WarningThresholds {
		resp.WarningThresholds = append(resp.WarningThresholds, t.String())
	}
	for _, p := range cfg.People {
		person := allocation.Person{ID: p.ID, Category: p.Category, WeightOverride: p.Weight, Past: p.Past}
		resp.People = append(resp.People, PersonDTO{
			ID:       p.ID,
			Category: string(p.Category),
			Weight:   cfg.DescribeWeight(person),
			Past:     p.Past,
		})
	}
	for _, g := range cfg.Groups {
		resp.Groups = append(resp.Groups, GroupDTO{ID: g.ID, Leader: g.Leader})
	}
	return resp
}

// =============================================================================
// RUNS AND ERRORS
// =============================================================================

// RunsResponse lists recent tick runs.
type RunsResponse struct {
	Runs []generic.RunRecord `json:"runs"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
