// Package scheduler runs the gateway's periodic maintenance jobs: DNS
// cache pruning and admission per-IP map pruning. The teacher
// prunes its rate-limit map inline on access (internal/server/rate_limit.go);
// rafalfr-dnsproxy instead runs a daily gocron job for blocklist refresh —
// this package follows that second idiom and gives both cleanup sweeps a
// real scheduled cadence instead of piggybacking on request traffic.
package scheduler

import (
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/webegress/gateway/internal/admission"
	"github.com/webegress/gateway/internal/dnsresolve"
)

// Scheduler owns one gocron.Scheduler running in the UTC calendar, matching
// rafalfr-dnsproxy's gocron.NewScheduler(time.UTC) call.
type Scheduler struct {
	cron   *gocron.Scheduler
	logger *slog.Logger
}

// New builds a Scheduler. Its cache and tracker arguments are not used;
// Start receives the dependencies, and skips the job for a nil one.
func New(cache *dnsresolve.Cache, tracker *admission.Tracker, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:   gocron.NewScheduler(time.UTC),
		logger: logger,
	}
}

// Start schedules the maintenance jobs and begins running them
// asynchronously. Call Stop to tear them down on shutdown.
func (s *Scheduler) Start(cache *dnsresolve.Cache, tracker *admission.Tracker) error {
	if cache != nil {
		if _, err := s.cron.Every(1).Minute().Do(func() {
			evicted := cache.PruneExpired()
			if evicted > 0 {
				s.logger.Debug("scheduler: pruned expired DNS cache entries", "count", evicted)
			}
		}); err != nil {
			return err
		}
	}

	if tracker != nil {
		if _, err := s.cron.Every(5).Minutes().Do(func() {
			tracker.Prune(10 * time.Minute)
			s.logger.Debug("scheduler: pruned stale admission entries")
		}); err != nil {
			return err
		}
	}

	s.cron.StartAsync()
	return nil
}

// Stop halts all scheduled jobs.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
