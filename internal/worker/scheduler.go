package worker

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/netforge-io/changerd/internal/lock"
	"github.com/netforge-io/changerd/internal/log"
)

// Scheduler drives the recurring background jobs: the device lock sweep and
// optional failover probing. Jobs execute on the worker pool so a slow probe
// cannot stall the cron loop.
type Scheduler struct {
	cron *cron.Cron
	pool *WorkerPool
}

// NewScheduler creates a scheduler bound to a worker pool.
func NewScheduler(pool *WorkerPool) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		pool: pool,
	}
}

// Start starts the cron loop. Register jobs before calling Start.
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info("Background scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop stops the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// AddLockSweep schedules the expired-lock sweep once a minute. Held locks
// survive the sweep.
func (s *Scheduler) AddLockSweep(locks *lock.Manager) error {
	_, err := s.cron.AddFunc("@every 1m", func() {
		s.submit("lock-sweep", func(ctx context.Context) error {
			if removed := locks.SweepExpired(); removed > 0 {
				log.Info("Expired device locks swept", "removed", removed)
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("scheduling lock sweep: %w", err)
	}
	return nil
}

// AddRecurring schedules a named job on a cron spec.
func (s *Scheduler) AddRecurring(name, spec string, job func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.submit(name, job)
	})
	if err != nil {
		return fmt.Errorf("scheduling %s (%q): %w", name, spec, err)
	}
	log.Info("Recurring job scheduled", "job", name, "spec", spec)
	return nil
}

func (s *Scheduler) submit(name string, job func(ctx context.Context) error) {
	if err := s.pool.Submit(Job{ID: name, Handler: job}); err != nil {
		log.Warn("Failed to submit scheduled job", "job", name, "error", err)
	}
}
