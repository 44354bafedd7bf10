/*
Package allocation implements the quarter/period allocation state machine.

PURPOSE:
  Shared compute time is handed out to research groups once per
  allocation period. Each calendar quarter is split into a configured
  list of periods; at every period rollover the engine computes each
  group's budget from the quarter's remaining supply, the period's
  allocation fraction, the group's weighted share and any penalty carried
  over from overuse. Between rollovers it tracks usage and raises
  threshold warnings exactly once per crossing.

KEY CONCEPTS:
  - Config: Immutable settings injected into every component
  - Clock: Wall-clock date -> quarter index, period index, day offset
  - Weights: Category weights, per-person overrides, past-member discount
  - Ledger: Cumulative usage -> period-relative usage via baselines
  - Engine: The Tick state machine
  - Repository: Typed persistence of clock, snapshot and quarter records

SEE ALSO:
  - factory/config.go: YAML -> Config
  - notify: Renders and delivers emitted events
*/
package allocation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/su-allocator/generic"
)

// =============================================================================
// CATEGORIES - Member roles and their default share weight
// =============================================================================

type Category string

const (
	CategoryTenureTrack       Category = "ttk" // tenured/tenure-track faculty
	CategoryProfessionalTrack Category = "ptk" // research scientists, professional-track faculty
	CategoryPostdoc           Category = "pd"
	CategoryGradStudent       Category = "gs"
	CategoryUndergrad         Category = "ug"
	CategoryUnknown           Category = "tbd"
)

type CategorySpec struct {
	Description string
	Weight      decimal.Decimal
}

// DefaultCategories returns the department's standard weight table.
func DefaultCategories() map[Category]CategorySpec {
	return map[Category]CategorySpec{
		CategoryTenureTrack:       {Description: "TTK faculty", Weight: decimal.RequireFromString("1.0")},
		CategoryProfessionalTrack: {Description: "PTK faculty", Weight: decimal.RequireFromString("0.3")},
		CategoryPostdoc:           {Description: "Postdoc", Weight: decimal.RequireFromString("0.2")},
		CategoryGradStudent:       {Description: "Grad student", Weight: decimal.RequireFromString("0.15")},
		CategoryUndergrad:         {Description: "Undergrad", Weight: decimal.RequireFromString("0.05")},
		CategoryUnknown:           {Description: "Unknown", Weight: decimal.Zero},
	}
}

// =============================================================================
// CONFIG
// =============================================================================

// PeriodSpec is one row of the period table. Fraction is the share of the
// quarter's remaining supply handed out in this period; it must be nil for
// the last period, which always receives everything that is left.
type PeriodSpec struct {
	StartDay int
	Fraction *decimal.Decimal
}

// PersonSpec is a roster entry.
type PersonSpec struct {
	ID       string
	Category Category
	Weight   *decimal.Decimal // explicit override
	Past     bool
}

// GroupSpec names a tracked group and its leader. The leader id does not
// have to match the group id.
type GroupSpec struct {
	ID     string
	Leader string
}

// Config is the immutable configuration of the allocator.
type Config struct {
	// Quarter epoch: the quarter with global index 0.
	BaseYear    int
	BaseQuarter int

	Periods           []PeriodSpec
	Categories        map[Category]CategorySpec
	PastMemberWeight  decimal.Decimal
	PenaltyFactor     decimal.Decimal
	WarningThresholds []decimal.Decimal // percent of budget, ascending
	UsageEpsilon      decimal.Decimal   // SU

	People []PersonSpec
	Groups []GroupSpec
}

// DefaultConfig returns the configuration used when a file leaves values out.
func DefaultConfig() Config {
	half := decimal.RequireFromString("0.5")
	return Config{
		BaseYear:    2025,
		BaseQuarter: 4,
		Periods: []PeriodSpec{
			{StartDay: 0, Fraction: &half},
			{StartDay: 45},
		},
		Categories:        DefaultCategories(),
		PastMemberWeight:  decimal.Zero,
		PenaltyFactor:     decimal.NewFromInt(1),
		WarningThresholds: []decimal.Decimal{decimal.NewFromInt(80), decimal.NewFromInt(100)},
		UsageEpsilon:      decimal.NewFromInt(1),
	}
}

// Validate checks the invariants the engine relies on. Every problem is a
// ConfigurationError; the caller decides whether to collect or stop.
func (c Config) Validate() []error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &generic.ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if c.BaseQuarter < 1 || c.BaseQuarter > 4 {
		add("baseQuarter", "must be in 1..4, got %d", c.BaseQuarter)
	}

	if len(c.Periods) == 0 {
		add("periods", "at least one period is required")
	}
	for i, p := range c.Periods {
		field := fmt.Sprintf("periods[%d]", i)
		if i == 0 && p.StartDay != 0 {
			add(field, "first period must start on day 0, got %d", p.StartDay)
		}
		if i > 0 && p.StartDay <= c.Periods[i-1].StartDay {
			add(field, "start day %d must be after %d", p.StartDay, c.Periods[i-1].StartDay)
		}
		if p.StartDay > 89 {
			add(field, "start day %d does not fit in the shortest quarter", p.StartDay)
		}
		last := i == len(c.Periods)-1
		switch {
		case last && p.Fraction != nil:
			add(field, "the terminal period takes all remaining supply and must not set a fraction")
		case !last && p.Fraction == nil:
			add(field, "fraction is required for non-terminal periods")
		case !last && (!p.Fraction.IsPositive() || p.Fraction.GreaterThan(decimal.NewFromInt(1))):
			add(field, "fraction must be in (0, 1], got %s", p.Fraction)
		}
	}

	for cat, spec := range c.Categories {
		if spec.Weight.IsNegative() {
			add("categories."+string(cat), "weight must not be negative")
		}
	}
	if c.PastMemberWeight.IsNegative() {
		add("pastMemberWeight", "must not be negative")
	}
	if c.PenaltyFactor.IsNegative() {
		add("penaltyFactor", "must not be negative")
	}
	if c.UsageEpsilon.IsNegative() {
		add("usageEpsilon", "must not be negative")
	}
	for i, t := range c.WarningThresholds {
		if !t.IsPositive() {
			add(fmt.Sprintf("warningThresholds[%d]", i), "must be positive")
		}
		if i > 0 && !t.GreaterThan(c.WarningThresholds[i-1]) {
			add(fmt.Sprintf("warningThresholds[%d]", i), "thresholds must be strictly ascending")
		}
	}

	seen := make(map[string]bool)
	for i, p := range c.People {
		field := fmt.Sprintf("people[%d]", i)
		if p.ID == "" {
			add(field, "id is required")
			continue
		}
		if seen[p.ID] {
			add(field, "duplicate person %q", p.ID)
		}
		seen[p.ID] = true
		if _, ok := c.Categories[p.Category]; !ok {
			add(field, "person %q has undefined category %q", p.ID, p.Category)
		}
		if p.Weight != nil && p.Weight.IsNegative() {
			add(field, "weight override must not be negative")
		}
	}

	groups := make(map[string]bool)
	for i, g := range c.Groups {
		field := fmt.Sprintf("groups[%d]", i)
		if g.ID == "" {
			add(field, "id is required")
			continue
		}
		if groups[g.ID] {
			add(field, "duplicate group %q", g.ID)
		}
		groups[g.ID] = true
	}

	return errs
}

// IsTerminal reports whether period i is the last one of the quarter.
func (c Config) IsTerminal(i int) bool {
	return i == len(c.Periods)-1
}

// groupLeader returns the configured leader and whether the group is configured.
func (c Config) groupLeader(id string) (string, bool) {
	for _, g := range c.Groups {
		if g.ID == id {
			return g.Leader, true
		}
	}
	return "", false
}
