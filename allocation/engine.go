/*
engine.go - The allocation state machine

PURPOSE:
  One Tick compares the clock with the persisted ClockState and does
  exactly the work implied by what changed since the last run:

    new day / new period / no snapshot  ->  refresh the group snapshot
    new quarter / no quarter record     ->  fetch supply, start a quarter record
    new period / no period record       ->  rollover: finalize the period
                                            that ended, allocate the new one
    otherwise                           ->  steady state: update usage,
                                            raise threshold warnings

ORDER OF A TICK:
  1. Load clock state, snapshot and quarter records
  2. Refresh and compute everything in memory
  3. Dispatch events
  4. Persist snapshot, quarter records and clock state in one batch,
     clock last

  Any error before step 4 aborts the tick with nothing written. Because
  dispatch happens before persistence, a crash between 3 and 4 re-sends
  the same notifications on the next run: delivery is at-least-once.

  A dry run performs steps 1-3 (events are marked as drafts) and writes
  nothing, so the next real run reprocesses the same tick.

CONCURRENCY:
  Tick must not run concurrently with itself against the same store. The
  api scheduler serializes calls; the CLI relies on the external scheduler.

SEE ALSO:
  - ledger.go: Baselines and period-relative usage
  - weights.go: Weight fractions
  - state.go: Persistence layout
*/
package allocation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/shopspring/decimal"
	"k8s.io/klog/v2"

	"github.com/warp/su-allocator/generic"
	"github.com/warp/su-allocator/metrics"
)

// =============================================================================
// PURE RULES
// =============================================================================

// AllocateBudget applies an inherited penalty to a pre-penalty budget.
// At most one of budget and carry is positive.
func AllocateBudget(pre, inherited generic.Amount) (budget, carry generic.Amount) {
	return pre.Sub(inherited).ClampZero(), inherited.Sub(pre).ClampZero()
}

// CrossedThreshold returns the index of the highest threshold t with
// oldPct <= t < newPct, or -1. At most one threshold fires per call, and a
// threshold already exceeded before the call never fires again.
func CrossedThreshold(thresholds []decimal.Decimal, oldPct, newPct decimal.Decimal) int {
	for i := len(thresholds) - 1; i >= 0; i-- {
		t := thresholds[i]
		if newPct.GreaterThan(t) && oldPct.LessThanOrEqual(t) {
			return i
		}
	}
	return -1
}

// =============================================================================
// ENGINE
// =============================================================================

// Options are the engine's collaborators. Clock and Metrics are optional.
type Options struct {
	Clock      *Clock
	Source     Source
	Store      generic.Store
	Dispatcher Dispatcher
	Metrics    metrics.Collector
}

type Engine struct {
	cfg        Config
	clock      *Clock
	ledger     *Ledger
	repo       *Repository
	dispatcher Dispatcher
	metrics    metrics.Collector
}

// NewEngine validates cfg and wires the engine.
func NewEngine(cfg Config, opts Options) (*Engine, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, multierror.Append(nil, errs...)
	}
	if opts.Source == nil || opts.Store == nil || opts.Dispatcher == nil {
		return nil, fmt.Errorf("engine requires a source, a store and a dispatcher")
	}
	if opts.Clock == nil {
		opts.Clock = NewClock(cfg, nil)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNop()
	}
	return &Engine{
		cfg:        cfg,
		clock:      opts.Clock,
		ledger:     NewLedger(cfg, opts.Source),
		repo:       NewRepository(opts.Store),
		dispatcher: opts.Dispatcher,
		metrics:    opts.Metrics,
	}, nil
}

func (e *Engine) Config() Config          { return e.cfg }
func (e *Engine) Clock() *Clock           { return e.clock }
func (e *Engine) Repository() *Repository { return e.repo }

// TickOptions control a single run.
type TickOptions struct {
	DryRun bool
	At     time.Time // overrides the clock when set
	RunID  string    // generated when empty
}

// TickReport summarizes what a tick did.
type TickReport struct {
	RunID      string                       `json:"run_id"`
	Now        Instant                      `json:"now"`
	NewQuarter bool                         `json:"new_quarter"`
	NewPeriod  bool                         `json:"new_period"`
	NewDay     bool                         `json:"new_day"`
	Refreshed  bool                         `json:"refreshed"`
	Rollover   bool                         `json:"rollover"`
	DryRun     bool                         `json:"dry_run"`
	Events     []Event                      `json:"events"`
	Warnings   []generic.ConsistencyWarning `json:"warnings"`
	Persisted  []string                     `json:"persisted"`
}

// tick is the in-memory working set of one run.
type tick struct {
	now       Instant
	dryRun    bool
	prevClock *ClockState
	quarter   *QuarterRecord
	dirty     map[int]*QuarterRecord
	report    *TickReport
}

func (t *tick) warn(w generic.ConsistencyWarning) {
	klog.Warningf("[Engine] %s", w)
	t.report.Warnings = append(t.report.Warnings, w)
}

func (t *tick) emit(ev Event) {
	t.report.Events = append(t.report.Events, ev)
}

func (t *tick) touch(q *QuarterRecord) {
	t.dirty[q.Key.Index] = q
}

// Tick runs one step of the state machine.
func (e *Engine) Tick(ctx context.Context, opts TickOptions) (report *TickReport, err error) {
	started := time.Now()
	defer func() {
		result := "ok"
		switch {
		case err != nil:
			result = "error"
		case opts.DryRun:
			result = "dry_run"
		}
		e.metrics.TickCompleted(result, time.Since(started))
	}()

	var now Instant
	if opts.At.IsZero() {
		now, err = e.clock.Now()
	} else {
		now, err = e.clock.At(opts.At)
	}
	if err != nil {
		return nil, err
	}

	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	t := &tick{
		now:    now,
		dryRun: opts.DryRun,
		dirty:  make(map[int]*QuarterRecord),
		report: &TickReport{RunID: opts.RunID, Now: now, DryRun: opts.DryRun},
	}

	if err := e.load(ctx, t); err != nil {
		return nil, err
	}
	if err := e.prepareQuarter(ctx, t); err != nil {
		return nil, err
	}

	if t.report.NewPeriod || t.quarter.Period(now.PeriodIndex) == nil {
		t.report.Rollover = true
		if err := e.rollover(ctx, t); err != nil {
			return nil, err
		}
	} else {
		e.steadyState(t)
	}

	klog.Infof("[Engine] Tick %s at %s: quarter=%s period=%d day=%d newQuarter=%v newPeriod=%v newDay=%v events=%d warnings=%d dryRun=%v",
		t.report.RunID, now.Time.Format(time.RFC3339), now.Quarter, now.PeriodIndex, now.DayOffset,
		t.report.NewQuarter, t.report.NewPeriod, t.report.NewDay, len(t.report.Events), len(t.report.Warnings), opts.DryRun)

	for _, ev := range t.report.Events {
		e.dispatcher.Dispatch(ctx, ev)
		e.metrics.EventEmitted(string(ev.Kind()))
	}
	e.observe(t)

	if opts.DryRun {
		return t.report, nil
	}
	if err := e.persist(ctx, t); err != nil {
		return nil, err
	}
	return t.report, nil
}

// load reads the persisted state, derives the change flags and refreshes
// the snapshot when needed.
func (e *Engine) load(ctx context.Context, t *tick) error {
	prev, err := e.repo.LoadClock(ctx)
	if err != nil {
		return err
	}
	snapshot, err := e.repo.LoadSnapshot(ctx)
	if err != nil {
		return err
	}
	t.prevClock = prev
	e.ledger.Load(snapshot)

	now := t.now
	r := t.report
	r.NewQuarter = prev == nil || prev.Quarter.Index != now.Quarter.Index
	r.NewPeriod = r.NewQuarter || prev.PeriodIndex != now.PeriodIndex
	r.NewDay = r.NewPeriod || prev.DayOffset != now.DayOffset

	if r.NewDay || snapshot == nil {
		_, warnings, err := e.ledger.Refresh(ctx, now)
		if err != nil {
			return err
		}
		r.Refreshed = true
		r.Warnings = append(r.Warnings, warnings...)
	}
	return nil
}

// prepareQuarter loads the current quarter record or starts a new one.
// Supply is only fetched for a quarter that has no record yet.
func (e *Engine) prepareQuarter(ctx context.Context, t *tick) error {
	q, err := e.repo.LoadQuarter(ctx, t.now.Quarter)
	if err != nil {
		return err
	}
	if q == nil {
		supply, err := e.ledger.source.FetchQuarterSupply(ctx, t.now.Quarter)
		if err != nil {
			if !generic.IsRetryable(err) {
				err = generic.NewDataUnavailable("quarter supply", err)
			}
			return err
		}
		q = NewQuarterRecord(t.now.Quarter, t.now.QuarterStart, supply)
		t.touch(q)
		klog.Infof("[Engine] Started quarter %s: total=%s remaining=%s", q.Key, q.TotalSupply, q.RemainingSupply)
	}
	t.quarter = q
	return nil
}

// =============================================================================
// ROLLOVER
// =============================================================================

func (e *Engine) rollover(ctx context.Context, t *tick) error {
	now := t.now
	q := t.quarter

	// The period that just ended: an earlier one of this quarter, else the
	// terminal period of the previous quarter.
	prev := q.LatestBefore(now.PeriodIndex)
	prevQuarter := q
	crossed := false
	if prev == nil {
		pq, err := e.repo.LoadQuarter(ctx, now.Quarter.Previous())
		if err != nil {
			return err
		}
		switch {
		case pq != nil:
			prevQuarter, prev, crossed = pq, pq.Last(), true
		case t.prevClock != nil:
			t.warn(generic.ConsistencyWarning{
				Kind:   generic.WarnMissingPrevQuarter,
				Detail: fmt.Sprintf("no record for %s, previous period treated as empty", now.Quarter.Previous()),
			})
		}
	}
	if prev != nil {
		e.finalize(t, prevQuarter, prev, crossed)
	}

	groups := e.ledger.Current().Groups
	fractions := WeightFractions(groups)
	spec := e.cfg.Periods[now.PeriodIndex]
	period := &PeriodRecord{
		Index:    now.PeriodIndex,
		Dates:    e.clock.PeriodBounds(q.Start, now.PeriodIndex),
		Fraction: spec.Fraction,
		Terminal: e.cfg.IsTerminal(now.PeriodIndex),
		Groups:   make(map[string]*GroupPeriodRecord, len(groups)),
	}
	info := periodInfo(q, period)

	for _, g := range groups {
		inherited := generic.ZeroSU()
		var previous *GroupPeriodRecord
		if prev != nil {
			if pr, ok := prev.Groups[g.ID]; ok {
				inherited = pr.Outstanding().Mul(e.cfg.PenaltyFactor)
				snapshot := *pr
				previous = &snapshot
			}
		}

		wf := fractions[g.ID]
		pre := q.RemainingSupply
		if !period.Terminal {
			pre = pre.Mul(*spec.Fraction).Mul(wf)
		}
		budget, carry := AllocateBudget(pre, inherited)

		cumulative, _ := e.ledger.Cumulative(g.ID)
		rec := &GroupPeriodRecord{
			GroupID:             g.ID,
			Leader:              g.Leader,
			Weight:              g.Weight,
			WeightFraction:      wf,
			BudgetBeforePenalty: pre,
			Budget:              budget,
			PenaltyOld:          inherited,
			PenaltyNew:          carry,
			Baseline:            e.ledger.Baseline(g.ID, t.report.NewQuarter),
			Usage:               generic.ZeroSU(),
			LastCumulative:      cumulative,
			Overuse:             generic.ZeroSU(),
		}
		period.Groups[g.ID] = rec
		klog.V(2).Infof("[Engine] %s period %d group %s: weight=%s fraction=%s pre=%s penalty=%s budget=%s carry=%s",
			q.Key, period.Index, g.ID, g.Weight, wf.StringFixed(4), pre, inherited, budget, carry)

		t.emit(NewPeriodAllocation{
			Period:          info,
			Group:           g,
			Record:          *rec,
			RemainingSupply: q.RemainingSupply,
			Previous:        previous,
			DryRun:          t.dryRun,
		})
	}

	q.SetPeriod(period)
	t.touch(q)
	klog.Infof("[Engine] Allocated %s period %d %s to %d groups", q.Key, period.Index, period.Dates, len(period.Groups))
	return nil
}

// finalize freezes the usage of a period that has ended and records any
// overuse. The next rollover charges it through Outstanding.
func (e *Engine) finalize(t *tick, q *QuarterRecord, p *PeriodRecord, crossed bool) {
	changed := false
	for _, id := range p.GroupIDs() {
		rec := p.Groups[id]
		if rec.Final {
			continue
		}
		usage := e.ledger.FinalUsage(rec, q.Key, crossed)
		rec.Usage = usage
		rec.Overuse = usage.Sub(rec.Budget).ClampZero()
		rec.Final = true
		changed = true
		klog.V(2).Infof("[Engine] Finalized %s period %d group %s: usage=%s budget=%s overuse=%s outstanding=%s",
			q.Key, p.Index, id, usage, rec.Budget, rec.Overuse, rec.Outstanding())
	}
	if changed {
		t.touch(q)
	}
}

// =============================================================================
// STEADY STATE
// =============================================================================

func (e *Engine) steadyState(t *tick) {
	q := t.quarter
	period := q.Period(t.now.PeriodIndex)
	info := periodInfo(q, period)
	snapshot := e.ledger.Current()
	changed := false

	for _, g := range snapshot.Groups {
		rec, ok := period.Groups[g.ID]
		if !ok {
			t.warn(generic.ConsistencyWarning{
				Kind:    generic.WarnGroupNotInPeriod,
				GroupID: g.ID,
				Detail:  fmt.Sprintf("group is not allocated in period %d, skipped until the next period", period.Index),
			})
			continue
		}

		oldUsage := rec.Usage
		newUsage, w := e.ledger.PeriodUsage(g.ID, rec.Baseline)
		if w != nil {
			t.warn(*w)
		}
		if !newUsage.Equal(oldUsage) || !g.Compute.Equal(rec.LastCumulative) {
			changed = true
		}
		rec.Usage = newUsage
		rec.LastCumulative = g.Compute

		warning := UsageWarning{
			Period:         info,
			Group:          g,
			ThresholdIndex: -1,
			OldUsage:       oldUsage,
			NewUsage:       newUsage,
			DryRun:         t.dryRun,
		}
		if rec.Budget.IsPositive() {
			oldPct := oldUsage.PercentOf(rec.Budget)
			newPct := newUsage.PercentOf(rec.Budget)
			i := CrossedThreshold(e.cfg.WarningThresholds, oldPct, newPct)
			if i < 0 {
				continue
			}
			threshold := e.cfg.WarningThresholds[i]
			warning.ThresholdIndex = i
			warning.Threshold = &threshold
			if i+1 > rec.WarnedLevel {
				rec.WarnedLevel = i + 1
			}
			warning.Record = *rec
			t.emit(warning)
			klog.Infof("[Engine] Group %s crossed %s%% of its budget (%s of %s)", g.ID, threshold, newUsage, rec.Budget)
			continue
		}

		if newUsage.Sub(oldUsage).Value.GreaterThan(e.cfg.UsageEpsilon) {
			warning.Record = *rec
			t.emit(warning)
			klog.Infof("[Engine] Group %s has no allocation left and used %s more", g.ID, newUsage.Sub(oldUsage))
		}
	}

	for _, id := range period.GroupIDs() {
		if _, ok := snapshot.Group(id); !ok {
			t.warn(generic.ConsistencyWarning{
				Kind:    generic.WarnGroupMissingUsage,
				GroupID: id,
				Detail:  "allocated group missing from usage data, usage unchanged",
			})
		}
	}

	if changed {
		t.touch(q)
	}
}

// =============================================================================
// PERSISTENCE AND REPORTING
// =============================================================================

func (e *Engine) persist(ctx context.Context, t *tick) error {
	var b Batch
	if t.report.Refreshed {
		b.Snapshot(e.ledger.Current())
	}
	indexes := make([]int, 0, len(t.dirty))
	for i := range t.dirty {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		b.Quarter(t.dirty[i])
	}

	now := t.now
	prev := t.prevClock
	if prev == nil || prev.Quarter.Index != now.Quarter.Index || prev.PeriodIndex != now.PeriodIndex || prev.DayOffset != now.DayOffset {
		b.Clock(ClockState{
			Quarter:     now.Quarter,
			PeriodIndex: now.PeriodIndex,
			DayOffset:   now.DayOffset,
			UpdatedAt:   now.Time,
		})
	}

	if err := e.repo.Save(ctx, &b); err != nil {
		return err
	}
	t.report.Persisted = b.Keys()
	return nil
}

func (e *Engine) observe(t *tick) {
	e.metrics.RemainingSupply(t.quarter.RemainingSupply.Value.InexactFloat64())
	period := t.quarter.Period(t.now.PeriodIndex)
	if period == nil {
		return
	}
	for id, rec := range period.Groups {
		e.metrics.GroupBudget(id, rec.Budget.Value.InexactFloat64())
		e.metrics.GroupUsage(id, rec.Usage.Value.InexactFloat64())
	}
}

func periodInfo(q *QuarterRecord, p *PeriodRecord) PeriodInfo {
	return PeriodInfo{
		Quarter:  q.Key,
		Index:    p.Index,
		Dates:    p.Dates,
		Fraction: p.Fraction,
		Terminal: p.Terminal,
	}
}
