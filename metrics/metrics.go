// Package metrics records allocator activity.
package metrics

import "time"

// Collector receives tick outcomes and allocation state.
type Collector interface {
	// TickCompleted records one tick. result is "ok", "dry_run" or "error".
	TickCompleted(result string, duration time.Duration)

	// EventEmitted counts an event handed to dispatch.
	EventEmitted(kind string)

	// GroupBudget and GroupUsage report the active period, in SU.
	GroupBudget(group string, su float64)
	GroupUsage(group string, su float64)

	// RemainingSupply reports the current quarter's remaining supply, in SU.
	RemainingSupply(su float64)
}
