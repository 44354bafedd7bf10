/*
scheduler.go - Periodic tick scheduler

PURPOSE:
  Runs the allocation engine on a fixed interval while the server is up,
  and serializes every tick (scheduled or triggered over HTTP) so two runs
  never touch the clock and quarter records at the same time.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Runs once immediately on start
  - Every run is recorded in the RunLog (running -> ok/dry_run/failed)
  - A failed tick leaves state untouched; the next interval retries

USAGE:
  scheduler := NewTickScheduler(engine, runLog)
  scheduler.Interval = time.Hour
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: POST /api/tick (manual run)
  - allocation/engine.go: Tick
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/warp/su-allocator/allocation"
	"github.com/warp/su-allocator/generic"
)

// Run statuses.
const (
	RunRunning = "running"
	RunOK      = "ok"
	RunDryRun  = "dry_run"
	RunFailed  = "failed"
)

// TickScheduler runs and serializes engine ticks.
type TickScheduler struct {
	Engine   *allocation.Engine
	RunLog   generic.RunLog
	Interval time.Duration
	Enabled  bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex // lifecycle
	runMu  sync.Mutex // one tick at a time
}

// NewTickScheduler creates a scheduler with a one hour interval.
func NewTickScheduler(engine *allocation.Engine, runLog generic.RunLog) *TickScheduler {
	return &TickScheduler{
		Engine:   engine,
		RunLog:   runLog,
		Interval: time.Hour,
		Enabled:  true,
	}
}

// Start begins the scheduler.
func (s *TickScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled || s.Interval <= 0 {
		klog.Info("[Scheduler] Disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run()

	klog.Infof("[Scheduler] Started with interval: %v", s.Interval)
}

// Stop stops the scheduler and waits for a running tick to finish.
func (s *TickScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		klog.Info("[Scheduler] Stopped")
	}
}

func (s *TickScheduler) run() {
	defer s.wg.Done()

	s.RunNow()

	for {
		select {
		case <-s.ticker.C:
			s.RunNow()
		case <-s.stop:
			return
		}
	}
}

// RunNow runs one real tick and logs the outcome.
func (s *TickScheduler) RunNow() {
	report, run, err := s.RunTick(context.Background(), allocation.TickOptions{})
	if err != nil {
		if generic.IsRetryable(err) {
			klog.Warningf("[Scheduler] Tick %s skipped, will retry next interval: %v", run.ID, err)
		} else {
			klog.Errorf("[Scheduler] Tick %s failed: %v", run.ID, err)
		}
		return
	}
	if len(report.Events) > 0 || len(report.Warnings) > 0 {
		klog.Infof("[Scheduler] Tick %s completed: %d events, %d warnings", run.ID, len(report.Events), len(report.Warnings))
	}
}

// RunTick runs one tick under the scheduler's lock and records it.
func (s *TickScheduler) RunTick(ctx context.Context, opts allocation.TickOptions) (*allocation.TickReport, generic.RunRecord, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	run := generic.RunRecord{
		ID:        opts.RunID,
		Status:    RunRunning,
		StartedAt: time.Now(),
	}
	s.record(ctx, run)

	report, err := s.Engine.Tick(ctx, opts)

	run.CompletedAt = time.Now()
	switch {
	case err != nil:
		run.Status = RunFailed
		run.Error = err.Error()
	case opts.DryRun:
		run.Status = RunDryRun
	default:
		run.Status = RunOK
	}
	if report != nil {
		run.QuarterIndex = report.Now.Quarter.Index
		run.PeriodIndex = report.Now.PeriodIndex
		run.DayOffset = report.Now.DayOffset
		run.NewPeriod = report.NewPeriod
		run.Events = len(report.Events)
		run.Warnings = len(report.Warnings)
	}
	s.record(ctx, run)

	return report, run, err
}

// Exclusive runs fn while no tick can start.
func (s *TickScheduler) Exclusive(fn func() error) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return fn()
}

func (s *TickScheduler) record(ctx context.Context, run generic.RunRecord) {
	if s.RunLog == nil {
		return
	}
	if err := s.RunLog.RecordRun(ctx, run); err != nil {
		klog.Errorf("[Scheduler] Failed to record run %s: %v", run.ID, err)
	}
}

// NextRunTime returns when the next scheduled tick will occur.
func (s *TickScheduler) NextRunTime() time.Time {
	return time.Now().Add(s.Interval)
}
