package allocation

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/su-allocator/generic"
)

// =============================================================================
// QUARTER KEY - Global quarter identity
// =============================================================================

// QuarterKey identifies a calendar quarter. Index increases by exactly one
// every three months from the configured epoch and is the only value used
// for quarter identity; Year and QuarterOfYear are kept for naming.
type QuarterKey struct {
	Index         int `json:"index"`
	Year          int `json:"year"`
	QuarterOfYear int `json:"quarter_of_year"`
}

// Previous returns the key of the preceding calendar quarter.
func (k QuarterKey) Previous() QuarterKey {
	if k.QuarterOfYear == 1 {
		return QuarterKey{Index: k.Index - 1, Year: k.Year - 1, QuarterOfYear: 4}
	}
	return QuarterKey{Index: k.Index - 1, Year: k.Year, QuarterOfYear: k.QuarterOfYear - 1}
}

// Name is the human-readable persistence name, e.g. quarter_01_2026_1.
func (k QuarterKey) Name() string {
	return fmt.Sprintf("quarter_%02d_%04d_%d", k.Index, k.Year, k.QuarterOfYear)
}

func (k QuarterKey) String() string {
	return fmt.Sprintf("%04d Q%d (#%d)", k.Year, k.QuarterOfYear, k.Index)
}

// =============================================================================
// PEOPLE AND GROUPS - Materialized fresh on every ledger refresh
// =============================================================================

// Person is a view of a roster entry. Past and WeightOverride are
// independent: a past member with an override keeps both.
type Person struct {
	ID             string           `json:"id"`
	Category       Category         `json:"category"`
	WeightOverride *decimal.Decimal `json:"weight_override,omitempty"`
	Past           bool             `json:"past,omitempty"`
}

// Member is a person inside a group snapshot with their cumulative usage.
type Member struct {
	Person
	Weight  decimal.Decimal `json:"weight"`
	Compute generic.Amount  `json:"compute"`
	Storage generic.Amount  `json:"storage"`
}

// Group is one group of the live snapshot. Compute is cumulative since the
// accounting system last reset its counters (at quarter boundaries).
type Group struct {
	ID      string          `json:"id"`
	Leader  string          `json:"leader"`
	Members []Member        `json:"members"`
	Weight  decimal.Decimal `json:"weight"`
	Compute generic.Amount  `json:"compute"`
	Storage generic.Amount  `json:"storage"`
}

// MemberIDs returns the ids of all members, in snapshot order.
func (g Group) MemberIDs() []string {
	ids := make([]string, 0, len(g.Members))
	for _, m := range g.Members {
		ids = append(ids, m.ID)
	}
	return ids
}

// GroupSnapshot is the persisted "current group data".
type GroupSnapshot struct {
	TakenAt   time.Time  `json:"taken_at"`
	Quarter   QuarterKey `json:"quarter"`
	DayOffset int        `json:"day_offset"`
	Groups    []Group    `json:"groups"` // sorted by ID
}

// Group looks up a group by id.
func (s *GroupSnapshot) Group(id string) (*Group, bool) {
	if s == nil {
		return nil, false
	}
	i := sort.Search(len(s.Groups), func(i int) bool { return s.Groups[i].ID >= id })
	if i < len(s.Groups) && s.Groups[i].ID == id {
		return &s.Groups[i], true
	}
	return nil, false
}

// =============================================================================
// QUARTER, PERIOD AND GROUP RECORDS - The allocation state
// =============================================================================

// GroupPeriodRecord is the allocation and usage of one group in one period.
//
// INVARIANTS:
//   - Usage = cumulative - Baseline, never negative
//   - Budget = max(0, BudgetBeforePenalty - PenaltyOld)
//   - PenaltyNew = max(0, PenaltyOld - BudgetBeforePenalty), fixed at allocation
//   - Overuse = max(0, final usage - Budget), set when the period is finalized
//   - Once Final is set the record never changes again
type GroupPeriodRecord struct {
	GroupID             string          `json:"group_id"`
	Leader              string          `json:"leader"`
	Weight              decimal.Decimal `json:"weight"`
	WeightFraction      decimal.Decimal `json:"weight_fraction"`
	BudgetBeforePenalty generic.Amount  `json:"budget_before_penalty"`
	Budget              generic.Amount  `json:"budget"`
	PenaltyOld          generic.Amount  `json:"penalty_old"` // inherited, after the penalty factor
	PenaltyNew          generic.Amount  `json:"penalty_new"` // carried into the next period
	Baseline            generic.Amount  `json:"baseline"`
	Usage               generic.Amount  `json:"usage"`
	LastCumulative      generic.Amount  `json:"last_cumulative"`
	Overuse             generic.Amount  `json:"overuse"`
	Final               bool            `json:"final"`
	WarnedLevel         int             `json:"warned_level"` // thresholds already notified
}

// Outstanding is what the next period inherits before the penalty factor:
// the unpaid penalty plus this period's overuse.
func (r GroupPeriodRecord) Outstanding() generic.Amount {
	return r.PenaltyNew.Add(r.Overuse)
}

// UsagePercent returns usage as percent of budget, or zero without a budget.
func (r GroupPeriodRecord) UsagePercent() decimal.Decimal {
	if !r.Budget.IsPositive() {
		return decimal.Zero
	}
	return r.Usage.PercentOf(r.Budget)
}

// PeriodRecord holds the per-group allocations of one period.
type PeriodRecord struct {
	Index    int                           `json:"index"`
	Dates    generic.Period                `json:"dates"`
	Fraction *decimal.Decimal              `json:"fraction,omitempty"`
	Terminal bool                          `json:"terminal"`
	Groups   map[string]*GroupPeriodRecord `json:"groups"`
}

// GroupIDs returns the ids of all allocated groups, sorted.
func (p *PeriodRecord) GroupIDs() []string {
	ids := make([]string, 0, len(p.Groups))
	for id := range p.Groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// QuarterRecord is the allocation state of one quarter. Supply values are
// fixed when the record is created and never change afterwards.
type QuarterRecord struct {
	Key             QuarterKey        `json:"key"`
	Start           generic.TimePoint `json:"start"`
	TotalSupply     generic.Amount    `json:"total_supply"`
	RemainingSupply generic.Amount    `json:"remaining_supply"`
	Periods         []*PeriodRecord   `json:"periods"` // sorted by Index
}

// NewQuarterRecord starts an empty quarter.
func NewQuarterRecord(key QuarterKey, start generic.TimePoint, supply Supply) *QuarterRecord {
	return &QuarterRecord{
		Key:             key,
		Start:           start,
		TotalSupply:     supply.Total,
		RemainingSupply: supply.Remaining,
	}
}

// Period returns the record for period index i, or nil.
func (q *QuarterRecord) Period(i int) *PeriodRecord {
	for _, p := range q.Periods {
		if p.Index == i {
			return p
		}
	}
	return nil
}

// LatestBefore returns the most recent recorded period with index < i, or nil.
func (q *QuarterRecord) LatestBefore(i int) *PeriodRecord {
	var latest *PeriodRecord
	for _, p := range q.Periods {
		if p.Index < i {
			latest = p
		}
	}
	return latest
}

// Last returns the most recent recorded period, or nil.
func (q *QuarterRecord) Last() *PeriodRecord {
	if len(q.Periods) == 0 {
		return nil
	}
	return q.Periods[len(q.Periods)-1]
}

// SetPeriod inserts or replaces a period record, keeping index order.
func (q *QuarterRecord) SetPeriod(p *PeriodRecord) {
	for i, existing := range q.Periods {
		if existing.Index == p.Index {
			q.Periods[i] = p
			return
		}
	}
	q.Periods = append(q.Periods, p)
	sort.Slice(q.Periods, func(i, j int) bool { return q.Periods[i].Index < q.Periods[j].Index })
}

// ClockState is the last observed position of the clock.
type ClockState struct {
	Quarter     QuarterKey `json:"quarter"`
	PeriodIndex int        `json:"period_index"`
	DayOffset   int        `json:"day_offset"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// =============================================================================
// EXTERNAL COLLABORATORS
// =============================================================================

// MemberUsage is cumulative usage of one user as reported by accounting.
type MemberUsage struct {
	UserID  string
	Compute generic.Amount
	Storage generic.Amount
}

// GroupUsage is one group as reported by accounting. Storage is the group's
// shared allocation; per-member storage is summed when it is zero.
type GroupUsage struct {
	ID      string
	Leader  string
	Members []MemberUsage
	Storage generic.Amount
}

// Supply is the compute available for a quarter.
type Supply struct {
	Total     generic.Amount
	Remaining generic.Amount
}
