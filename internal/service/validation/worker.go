package validation

import (
	"context"
	"fmt"
	"sync"
	"time"

	domain "github.com/agenthub/marketplace/internal/domain/validation"
	"github.com/agenthub/marketplace/internal/events"
	"github.com/agenthub/marketplace/internal/logging"
	"github.com/agenthub/marketplace/internal/metrics"
	"github.com/agenthub/marketplace/internal/queue"
	"github.com/agenthub/marketplace/internal/storage"
)

const (
	dequeueWait  = 5 * time.Second
	retryBackoff = 30 * time.Second
	maxBackoff   = 10 * time.Minute
)

// Worker consumes validation jobs and persists their outcomes.
type Worker struct {
	store       storage.Store
	jobs        queue.Queue
	runner      *Runner
	bus         *events.Bus
	logger      *logging.Logger
	workers     int
	maxAttempts int
	jobTimeout  time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WorkerConfig sizes the consumer pool.
type WorkerConfig struct {
	Workers     int
	MaxAttempts int
	JobTimeout  time.Duration
}

func NewWorker(store storage.Store, jobs queue.Queue, runner *Runner, bus *events.Bus, logger *logging.Logger, cfg WorkerConfig) *Worker {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	return &Worker{
		store:       store,
		jobs:        jobs,
		runner:      runner,
		bus:         bus,
		logger:      logger,
		workers:     cfg.Workers,
		maxAttempts: cfg.MaxAttempts,
		jobTimeout:  cfg.JobTimeout,
	}
}

// Name implements system.Service.
func (w *Worker) Name() string { return "validation-worker" }

// Start launches the consumer pool.
func (w *Worker) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.consume(runCtx, i)
	}
	w.logger.Infof("Validation worker started with %d consumers", w.workers)
	return nil
}

// Stop drains the consumer pool.
func (w *Worker) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("validation worker: %w", ctx.Err())
	}
}

func (w *Worker) consume(ctx context.Context, id int) {
	defer w.wg.Done()
	log := w.logger.WithField("consumer", id)
	for {
		job, err := w.jobs.Dequeue(ctx, dequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if err != queue.ErrEmpty {
				log.WithError(err).Warn("Dequeue failed")
			}
			continue
		}
		w.process(ctx, job)
	}
}

// process runs one job. Infrastructure failures are retried with
// exponential backoff up to maxAttempts, verdicts are final.
func (w *Worker) process(ctx context.Context, job queue.Job) {
	log := w.logger.WithFields(map[string]interface{}{
		"run_id":   job.RunID,
		"agent_id": job.AgentID,
		"attempt":  job.Attempt,
	})

	run, err := w.store.GetRun(ctx, job.RunID)
	if err != nil {
		log.WithError(err).Error("Failed to load validation run")
		return
	}
	if run.Terminal() {
		log.Warn("Skipping already finished run")
		return
	}

	run.Status = domain.StatusRunning
	run.Attempts = job.Attempt
	if run, err = w.store.UpdateRun(ctx, run); err != nil {
		log.WithError(err).Error("Failed to mark run running")
		return
	}
	w.publish(run, "", "validation started")

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	started := time.Now()
	outcome, runErr := w.runner.Run(jobCtx, job.StorageKey)
	cancel()

	if runErr != nil && job.Attempt < w.maxAttempts {
		log.WithError(runErr).Warn("Validation attempt failed, retrying")
		w.retry(ctx, job, run)
		return
	}

	run.Status = outcome.Status
	run.Checks = outcome.Checks
	run.Error = outcome.Error
	run.Duration = time.Since(started)
	now := time.Now().UTC()
	run.CompletedAt = &now
	if run, err = w.store.UpdateRun(ctx, run); err != nil {
		log.WithError(err).Error("Failed to store run outcome")
		return
	}

	w.applyVerdict(ctx, job, outcome, log)
	metrics.RecordValidationRun(run.Status)
	w.publish(run, "", "validation "+run.Status)
	log.WithField("status", run.Status).Info("Validation run finished")
}

func (w *Worker) retry(ctx context.Context, job queue.Job, run domain.Run) {
	run.Status = domain.StatusPending
	if _, err := w.store.UpdateRun(ctx, run); err != nil {
		w.logger.WithError(err).Error("Failed to reset run for retry")
	}

	backoff := retryBackoff << (job.Attempt - 1)
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	job.Attempt++

	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		// Shutting down mid-backoff. Hand the job back right away so a
		// restarted consumer picks it up instead of stranding the run
		// in pending.
		requeueCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ctx = requeueCtx
	}
	if err := w.jobs.Enqueue(ctx, job); err != nil {
		w.logger.WithError(err).Error("Failed to re-enqueue job")
	}
}

// applyVerdict writes the outcome through to the version and agent.
func (w *Worker) applyVerdict(ctx context.Context, job queue.Job, outcome Outcome, log *logging.Logger) {
	v, err := w.store.GetVersion(ctx, job.VersionID)
	if err != nil {
		log.WithError(err).Error("Failed to load version for verdict")
		return
	}
	v.Tested = true
	v.SecurityPassed = outcome.SecurityPassed
	v.QualityScore = outcome.QualityScore
	if _, err := w.store.UpdateVersion(ctx, v); err != nil {
		log.WithError(err).Error("Failed to update version verdict")
	}

	a, err := w.store.GetAgent(ctx, job.AgentID)
	if err != nil {
		log.WithError(err).Error("Failed to load agent for verdict")
		return
	}
	if a.CurrentVersion == v.Version {
		a.Validated = outcome.Passed()
		if _, err := w.store.UpdateAgent(ctx, a); err != nil {
			log.WithError(err).Error("Failed to update agent verdict")
		}
	}
}

func (w *Worker) publish(run domain.Run, check, message string) {
	if w.bus == nil {
		return
	}
	w.bus.Publish(domain.Event{
		RunID:   run.ID,
		AgentID: run.AgentID,
		Status:  run.Status,
		Check:   check,
		Message: message,
		At:      time.Now().UTC(),
	})
}
