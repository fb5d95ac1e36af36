package batch

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/carepath/pdc-engine/internal/logging"
)

// Scheduler wraps a Driver in a cron trigger, guarding against overlapping
// runs the way a fixed nightly window can't rule out on its own (a slow run
// bumping into the next night's trigger).
type Scheduler struct {
	driver    *Driver
	opts      func() Options
	scheduler *gocron.Scheduler
	running   atomic.Bool
	lastRun   atomic.Value // time.Time
}

// NewScheduler builds a Scheduler around a Driver. optsFn is called fresh at
// each trigger so CurrentDate always reflects the actual run time rather
// than whatever moment the scheduler was constructed.
func NewScheduler(driver *Driver, optsFn func() Options) *Scheduler {
	return &Scheduler{
		driver:    driver,
		opts:      optsFn,
		scheduler: gocron.NewScheduler(time.Local),
	}
}

// Start schedules the nightly batch run at the given time-of-day
// ("HH:MM", local time) and begins health monitoring.
func (s *Scheduler) Start(atTime string) error {
	_, err := s.scheduler.Every(1).Day().At(atTime).Do(func() {
		s.runOnce(context.Background())
	})
	if err != nil {
		return fmt.Errorf("schedule nightly batch run: %w", err)
	}

	s.scheduler.StartAsync()
	s.startHealthMonitoring()
	return nil
}

// Stop halts the scheduler. In-flight runs are not interrupted.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

// RunNow triggers an out-of-band run with the scheduler's configured
// options, honoring the same overlap guard as the scheduled trigger.
func (s *Scheduler) RunNow(ctx context.Context) (Result, error) {
	return s.RunWithOptions(ctx, s.opts())
}

// RunWithOptions triggers an out-of-band run with caller-supplied options
// (the admin surface's manual-trigger endpoint), still honoring the overlap
// guard so a manual trigger can't race a scheduled run.
func (s *Scheduler) RunWithOptions(ctx context.Context, opts Options) (Result, error) {
	if !s.beginUpdate() {
		return Result{}, fmt.Errorf("batch run already in progress")
	}
	defer s.endUpdate()
	return s.driver.RunBatch(ctx, opts)
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if !s.beginUpdate() {
		logging.BatchLogger().Info("scheduled batch run skipped, one already in progress")
		return
	}
	defer s.endUpdate()

	result, err := s.driver.RunBatch(ctx, s.opts())
	if err != nil {
		logging.BatchLogger().Error("scheduled batch run failed", logging.WithError(err))
		return
	}
	logging.BatchLogger().Info("scheduled batch run finished",
		logging.WithEntityID("batch_run", result.BatchRunID),
		logging.WithOperation(fmt.Sprintf("ok=%d failed=%d", result.PatientsOK, result.PatientsFailed)))
}

func (s *Scheduler) beginUpdate() bool {
	return s.running.CompareAndSwap(false, true)
}

func (s *Scheduler) endUpdate() {
	s.lastRun.Store(time.Now())
	s.running.Store(false)
}

// startHealthMonitoring warns when no run has completed recently, the same
// staleness signal the fleet-wide recomputation depends on to catch a
// silently wedged cron trigger.
func (s *Scheduler) startHealthMonitoring() {
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()

		for range ticker.C {
			last, ok := s.lastRun.Load().(time.Time)
			if !ok {
				continue
			}
			if time.Since(last) > 25*time.Hour {
				logging.BatchLogger().Warn("no batch run completed in over 25 hours")
			}
		}
	}()
}
