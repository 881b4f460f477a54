// Package scheduler implements the Scheduler (spec.md §4.12): a tick
// driver for hygiene, archive, and dream cycles. Ticks never run
// concurrently with each other, and a missed tick is dropped rather than
// queued.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vidurai/vidurai-core/internal/mlog"
)

// Job is one scheduled unit of work. Name is used in log lines only.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler drives a fixed set of Jobs on independent intervals, implementing
// app.Task so it can be registered with the engine's Launcher.
type Scheduler struct {
	jobs   []Job
	logger mlog.Logger
	cron   *cron.Cron
}

// New builds a Scheduler over jobs.
func New(jobs []Job, logger mlog.Logger) *Scheduler {
	return &Scheduler{
		jobs:   jobs,
		logger: logger,
		cron:   cron.New(),
	}
}

// Run implements app.Task: it schedules every job at its configured
// interval and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for _, job := range s.jobs {
		job := job

		spec, err := intervalToCronSpec(job.Interval)
		if err != nil {
			return fmt.Errorf("scheduler: job %s: %w", job.Name, err)
		}

		running := &atomic.Bool{}

		_, err = s.cron.AddFunc(spec, func() {
			// Skip-if-still-running guard: a missed tick is dropped, never
			// queued (spec.md §4.12).
			if !running.CompareAndSwap(false, true) {
				s.logger.Warnf("scheduler: %s still running, skipping tick", job.Name)
				return
			}
			defer running.Store(false)

			if err := job.Run(ctx); err != nil {
				s.logger.Errorf("scheduler: %s tick failed: %v", job.Name, err)
			}
		})
		if err != nil {
			return fmt.Errorf("scheduler: scheduling job %s: %w", job.Name, err)
		}
	}

	s.cron.Start()

	<-ctx.Done()

	stopCtx := s.cron.Stop()
	<-stopCtx.Done()

	return nil
}

// intervalToCronSpec renders a duration as a seconds-granularity "@every"
// cron spec, which robfig/cron/v3 treats as a fixed-interval ticker.
func intervalToCronSpec(interval time.Duration) (string, error) {
	if interval <= 0 {
		return "", fmt.Errorf("interval must be positive, got %s", interval)
	}

	return fmt.Sprintf("@every %s", interval), nil
}
