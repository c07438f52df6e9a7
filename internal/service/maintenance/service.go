// Package maintenance runs the periodic housekeeping jobs.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/agenthub/marketplace/internal/logging"
	"github.com/agenthub/marketplace/internal/metrics"
	"github.com/agenthub/marketplace/internal/queue"
	"github.com/agenthub/marketplace/internal/service/analytics"
	"github.com/agenthub/marketplace/internal/storage"
)

const (
	statsSchedule   = "*/5 * * * *"
	recountSchedule = "17 * * * *"
	requeueSchedule = "*/10 * * * *"
	purgeSchedule   = "45 3 * * *"

	// stuckAfter marks running validations as stuck when no worker
	// touched them for this long.
	stuckAfter = 30 * time.Minute

	jobTimeout = 2 * time.Minute
)

// Service schedules the recurring jobs: stats refresh, category
// recounts, stuck-run requeue and old-run purge.
type Service struct {
	store     storage.Store
	jobs      queue.Queue
	stats     *analytics.Service
	logger    *logging.Logger
	retention time.Duration

	cron *cron.Cron
}

func New(store storage.Store, jobs queue.Queue, stats *analytics.Service, logger *logging.Logger, retentionDays int) *Service {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &Service{
		store:     store,
		jobs:      jobs,
		stats:     stats,
		logger:    logger,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
	}
}

// Name implements system.Service.
func (s *Service) Name() string { return "maintenance" }

// Start registers and launches the cron schedule.
func (s *Service) Start(_ context.Context) error {
	c := cron.New()
	jobs := []struct {
		spec string
		name string
		run  func(context.Context) error
	}{
		{statsSchedule, "refresh_stats", s.RefreshStats},
		{recountSchedule, "recount_categories", s.RecountCategories},
		{requeueSchedule, "requeue_stuck_runs", s.RequeueStuckRuns},
		{purgeSchedule, "purge_old_runs", s.PurgeOldRuns},
	}
	for _, j := range jobs {
		job := j
		if _, err := c.AddFunc(job.spec, func() { s.runJob(job.name, job.run) }); err != nil {
			return fmt.Errorf("schedule %s: %w", job.name, err)
		}
	}
	s.cron = c
	c.Start()
	s.logger.Info("Maintenance schedule started")
	return nil
}

// Stop halts the schedule and waits for running jobs.
func (s *Service) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("maintenance: %w", ctx.Err())
	}
}

func (s *Service) runJob(name string, run func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	started := time.Now()
	if err := run(ctx); err != nil {
		s.logger.WithError(err).WithField("job", name).Error("Maintenance job failed")
		return
	}
	s.logger.WithFields(map[string]interface{}{
		"job":      name,
		"duration": time.Since(started).String(),
	}).Debug("Maintenance job finished")
}

// RefreshStats recomputes the cached platform stats and republishes
// the platform gauges.
func (s *Service) RefreshStats(ctx context.Context) error {
	stats, err := s.stats.RefreshStats(ctx)
	if err != nil {
		return err
	}
	metrics.SetPlatformGauges(stats.TotalAgents, stats.TotalUsers, stats.ValidationsByState["pending"])
	return nil
}

// RecountCategories repairs the denormalized agent counters.
func (s *Service) RecountCategories(ctx context.Context) error {
	return s.store.RecountCategories(ctx)
}

// RequeueStuckRuns re-enqueues validations abandoned mid-flight, for
// example after a worker crash.
func (s *Service) RequeueStuckRuns(ctx context.Context) error {
	stuck, err := s.store.ListStuckRuns(ctx, time.Now().Add(-stuckAfter))
	if err != nil {
		return fmt.Errorf("list stuck runs: %w", err)
	}
	for _, run := range stuck {
		v, err := s.store.GetVersion(ctx, run.VersionID)
		if err != nil {
			s.logger.WithError(err).WithField("run_id", run.ID).Warn("Stuck run has no version")
			continue
		}
		if err := s.jobs.Enqueue(ctx, queue.Job{
			RunID:      run.ID,
			AgentID:    run.AgentID,
			VersionID:  run.VersionID,
			StorageKey: v.StorageKey,
			Attempt:    run.Attempts + 1,
		}); err != nil {
			return fmt.Errorf("requeue run %s: %w", run.ID, err)
		}
		s.logger.WithField("run_id", run.ID).Info("Requeued stuck validation run")
	}
	return nil
}

// PurgeOldRuns drops terminal validation runs older than the
// retention window.
func (s *Service) PurgeOldRuns(ctx context.Context) error {
	purged, err := s.store.PurgeRunsBefore(ctx, time.Now().Add(-s.retention))
	if err != nil {
		return fmt.Errorf("purge runs: %w", err)
	}
	if purged > 0 {
		s.logger.WithField("purged", purged).Info("Purged old validation runs")
	}
	return nil
}
