package allocation

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/warp/su-allocator/generic"
)

// =============================================================================
// COLLABORATORS - What the engine consumes and emits
// =============================================================================

// Source reports usage and supply from the accounting system. Errors abort
// the tick; implementations should return a DataUnavailableError.
type Source interface {
	// FetchGroupUsage returns the current cumulative usage of every group.
	FetchGroupUsage(ctx context.Context) ([]GroupUsage, error)

	// FetchQuarterSupply returns the compute supply of a quarter.
	FetchQuarterSupply(ctx context.Context, quarter QuarterKey) (Supply, error)
}

// Dispatcher delivers events. It is fire-and-forget: delivery failures are
// the dispatcher's to log and never reach the engine.
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, event Event)

func (f DispatcherFunc) Dispatch(ctx context.Context, event Event) { f(ctx, event) }

// =============================================================================
// EVENTS
// =============================================================================

type EventKind string

const (
	EventNewPeriodAllocation EventKind = "new_period_allocation"
	EventUsageWarning        EventKind = "usage_warning"
	EventAllocationExhausted EventKind = "allocation_exhausted"
)

// Event is emitted by a tick for Notification Dispatch.
type Event interface {
	Kind() EventKind
	GroupID() string
	IsDraft() bool
}

// PeriodInfo identifies the period an event belongs to.
type PeriodInfo struct {
	Quarter  QuarterKey       `json:"quarter"`
	Index    int              `json:"index"`
	Dates    generic.Period   `json:"dates"`
	Fraction *decimal.Decimal `json:"fraction,omitempty"`
	Terminal bool             `json:"terminal"`
}

// NewPeriodAllocation announces a group's budget for a new period.
type NewPeriodAllocation struct {
	Period          PeriodInfo         `json:"period"`
	Group           Group              `json:"group"`
	Record          GroupPeriodRecord  `json:"record"`
	RemainingSupply generic.Amount     `json:"remaining_supply"`
	Previous        *GroupPeriodRecord `json:"previous,omitempty"` // finalized record of the period before
	DryRun          bool               `json:"dry_run"`
}

func (e NewPeriodAllocation) Kind() EventKind { return EventNewPeriodAllocation }
func (e NewPeriodAllocation) GroupID() string { return e.Group.ID }
func (e NewPeriodAllocation) IsDraft() bool   { return e.DryRun }

// UsageWarning reports a threshold crossing. Threshold is nil when the group
// has no budget left at all; that warning repeats whenever usage grows.
type UsageWarning struct {
	Period         PeriodInfo        `json:"period"`
	Group          Group             `json:"group"`
	Record         GroupPeriodRecord `json:"record"`
	ThresholdIndex int               `json:"threshold_index"` // -1 when exhausted
	Threshold      *decimal.Decimal  `json:"threshold,omitempty"`
	OldUsage       generic.Amount    `json:"old_usage"`
	NewUsage       generic.Amount    `json:"new_usage"`
	DryRun         bool              `json:"dry_run"`
}

func (e UsageWarning) Kind() EventKind {
	if e.Exhausted() {
		return EventAllocationExhausted
	}
	return EventUsageWarning
}
func (e UsageWarning) GroupID() string { return e.Group.ID }
func (e UsageWarning) IsDraft() bool   { return e.DryRun }

// Exhausted reports whether this is the zero-allocation warning.
func (e UsageWarning) Exhausted() bool { return e.Threshold == nil }
