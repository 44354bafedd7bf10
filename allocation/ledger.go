package allocation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"k8s.io/klog/v2"

	"github.com/warp/su-allocator/generic"
)

// =============================================================================
// USAGE LEDGER - Cumulative counters -> period-relative usage
// =============================================================================
//
// The accounting system reports usage cumulative since its counters were
// last reset, which happens at quarter boundaries. Period usage is the
// cumulative value minus the baseline captured when the period began.
//
// The ledger holds two snapshots: the one persisted by the previous run and
// the one fetched during this run. The previous snapshot is needed when a
// quarter rolls over, because by then the counters have already been reset
// and the final usage of the old quarter's last period only survives there.

type Ledger struct {
	cfg      Config
	roster   *Roster
	source   Source
	previous *GroupSnapshot
	current  *GroupSnapshot
}

func NewLedger(cfg Config, source Source) *Ledger {
	return &Ledger{cfg: cfg, roster: NewRoster(cfg), source: source}
}

// Load installs a persisted snapshot as the current one.
func (l *Ledger) Load(snapshot *GroupSnapshot) {
	l.previous = nil
	l.current = snapshot
}

func (l *Ledger) Current() *GroupSnapshot  { return l.current }
func (l *Ledger) Previous() *GroupSnapshot { return l.previous }

// Refresh fetches a new snapshot from the source. The snapshot it replaces
// becomes Previous. On error the ledger is unchanged.
func (l *Ledger) Refresh(ctx context.Context, at Instant) (*GroupSnapshot, []generic.ConsistencyWarning, error) {
	usage, err := l.source.FetchGroupUsage(ctx)
	if err != nil {
		var dataErr *generic.DataUnavailableError
		if errors.As(err, &dataErr) {
			return nil, nil, err
		}
		return nil, nil, generic.NewDataUnavailable("group usage", err)
	}

	snapshot, warnings := l.build(usage)
	snapshot.TakenAt = at.Time
	snapshot.Quarter = at.Quarter
	snapshot.DayOffset = at.DayOffset

	l.previous = l.current
	l.current = snapshot
	return snapshot, warnings, nil
}

func (l *Ledger) build(usage []GroupUsage) (*GroupSnapshot, []generic.ConsistencyWarning) {
	var warnings []generic.ConsistencyWarning
	warn := func(w generic.ConsistencyWarning) {
		klog.Warningf("[Ledger] %s", w)
		warnings = append(warnings, w)
	}

	snapshot := &GroupSnapshot{}
	seen := make(map[string]bool, len(usage))
	for _, gu := range usage {
		if seen[gu.ID] {
			warn(generic.ConsistencyWarning{Kind: generic.WarnUnknownGroup, GroupID: gu.ID, Detail: "duplicate group in usage data, ignored"})
			continue
		}
		seen[gu.ID] = true

		leader := gu.Leader
		if len(l.cfg.Groups) > 0 {
			configured, ok := l.cfg.groupLeader(gu.ID)
			if !ok {
				warn(generic.ConsistencyWarning{Kind: generic.WarnUnknownGroup, GroupID: gu.ID, Detail: "group not configured, ignored"})
				continue
			}
			if configured != "" {
				leader = configured
			}
		}
		if leader == "" {
			leader = gu.ID
		}

		group := Group{
			ID:      gu.ID,
			Leader:  leader,
			Compute: generic.ZeroSU(),
			Storage: generic.GB(0),
		}
		memberStorage := generic.GB(0)
		for _, mu := range gu.Members {
			person, w := l.roster.Resolve(mu.UserID)
			if w != nil {
				w.GroupID = gu.ID
				warn(*w)
			}
			m := Member{
				Person:  person,
				Weight:  l.cfg.EffectiveWeight(person),
				Compute: orZero(mu.Compute, generic.UnitSU),
				Storage: orZero(mu.Storage, generic.UnitGB),
			}
			group.Members = append(group.Members, m)
			group.Compute = group.Compute.Add(m.Compute)
			memberStorage = memberStorage.Add(m.Storage)
		}
		group.Weight = l.cfg.GroupWeight(group.Members)
		group.Storage = orZero(gu.Storage, generic.UnitGB)
		if group.Storage.IsZero() {
			group.Storage = memberStorage
		}
		snapshot.Groups = append(snapshot.Groups, group)
	}

	sort.Slice(snapshot.Groups, func(i, j int) bool { return snapshot.Groups[i].ID < snapshot.Groups[j].ID })
	return snapshot, warnings
}

// orZero normalizes an amount reported without a unit.
func orZero(a generic.Amount, unit generic.Unit) generic.Amount {
	if a.Unit == "" {
		a.Unit = unit
	}
	return a
}

// =============================================================================
// BASELINES AND PERIOD USAGE
// =============================================================================

// Cumulative returns a group's cumulative compute in the current snapshot.
func (l *Ledger) Cumulative(groupID string) (generic.Amount, bool) {
	if g, ok := l.current.Group(groupID); ok {
		return g.Compute, true
	}
	return generic.ZeroSU(), false
}

// Baseline is the cumulative value a new period measures usage from: zero
// right after a quarter rollover (the counters were just reset), otherwise
// the cumulative value at the rollover instant.
func (l *Ledger) Baseline(groupID string, newQuarter bool) generic.Amount {
	if newQuarter {
		return generic.ZeroSU()
	}
	c, _ := l.Cumulative(groupID)
	return c
}

// PeriodUsage returns cumulative - baseline. A counter that went backwards
// yields zero and a warning.
func (l *Ledger) PeriodUsage(groupID string, baseline generic.Amount) (generic.Amount, *generic.ConsistencyWarning) {
	c, _ := l.Cumulative(groupID)
	usage := c.Sub(baseline)
	if usage.IsNegative() {
		return usage.Zero(), &generic.ConsistencyWarning{
			Kind:    generic.WarnNegativeUsage,
			GroupID: groupID,
			Detail:  fmt.Sprintf("cumulative %s below baseline %s", c, baseline),
		}
	}
	return usage, nil
}

// FinalUsage returns the usage of a period that is being closed.
//
// Within a quarter the current snapshot holds the value at rollover. When
// the closing period belongs to the previous quarter the counters have been
// reset, so the value comes from the snapshot taken before this refresh; a
// group missing from it counts as zero. A group that is no longer reported
// keeps the usage it was last seen with.
func (l *Ledger) FinalUsage(rec *GroupPeriodRecord, closing QuarterKey, crossedQuarter bool) generic.Amount {
	if !crossedQuarter {
		c, ok := l.Cumulative(rec.GroupID)
		if !ok {
			return rec.Usage
		}
		return c.Sub(rec.Baseline).ClampZero()
	}

	prev := l.previous
	if prev == nil || prev.Quarter.Index != closing.Index {
		return rec.Usage
	}
	c := generic.ZeroSU()
	if g, ok := prev.Group(rec.GroupID); ok {
		c = g.Compute
	}
	return c.Sub(rec.Baseline).ClampZero()
}
