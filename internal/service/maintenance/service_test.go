package maintenance

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/agenthub/marketplace/internal/cache"
	"github.com/agenthub/marketplace/internal/domain/agent"
	"github.com/agenthub/marketplace/internal/domain/user"
	"github.com/agenthub/marketplace/internal/domain/validation"
	"github.com/agenthub/marketplace/internal/logging"
	"github.com/agenthub/marketplace/internal/queue"
	"github.com/agenthub/marketplace/internal/service/analytics"
	"github.com/agenthub/marketplace/internal/storage/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store, *queue.MemoryQueue) {
	t.Helper()
	store := memory.New()
	jobs := queue.NewMemory()
	logger := logging.New("maintenance-test", "error")
	stats := analytics.New(store, cache.NewMemory(), logger)
	return New(store, jobs, stats, logger, 30), store, jobs
}

func seedRun(t *testing.T, store *memory.Store, status string) (agent.Version, validation.Run) {
	t.Helper()
	ctx := context.Background()
	nonce := time.Now().UnixNano()
	owner, err := store.CreateUser(ctx, user.User{GitHubID: nonce, Username: fmt.Sprintf("alice-%d", nonce), Active: true})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	a, err := store.CreateAgent(ctx, agent.Agent{
		Name: "Helper", Slug: agent.Slugify(fmt.Sprintf("Helper-%s-%d", status, nonce)), AuthorID: owner.ID, CurrentVersion: "1.0.0", Public: true,
	})
	if err != nil {
		t.Fatalf("seed agent: %v", err)
	}
	v, err := store.CreateVersion(ctx, agent.Version{AgentID: a.ID, Version: "1.0.0", StorageKey: "key.zip"})
	if err != nil {
		t.Fatalf("seed version: %v", err)
	}
	run, err := store.CreateRun(ctx, validation.Run{VersionID: v.ID, AgentID: a.ID, Status: status})
	if err != nil {
		t.Fatalf("seed run: %v", err)
	}
	return v, run
}

func TestRequeueStuckRuns(t *testing.T) {
	svc, store, jobs := newTestService(t)
	_, run := seedRun(t, store, validation.StatusRunning)

	// Fresh running runs are left alone.
	if err := svc.RequeueStuckRuns(context.Background()); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if n, _ := jobs.Length(context.Background()); n != 0 {
		t.Fatalf("fresh run must not be requeued, queue length = %d", n)
	}

	// Age the run past the stuck window.
	run.Attempts = 1
	if _, err := store.UpdateRun(context.Background(), run); err != nil {
		t.Fatalf("update run: %v", err)
	}
	store.AgeRun(run.ID, time.Now().Add(-time.Hour))

	if err := svc.RequeueStuckRuns(context.Background()); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	job, err := jobs.Dequeue(context.Background(), 0)
	if err != nil {
		t.Fatalf("expected a requeued job: %v", err)
	}
	if job.RunID != run.ID || job.Attempt != 2 {
		t.Fatalf("job = %+v", job)
	}
	if job.StorageKey != "key.zip" {
		t.Fatalf("job storage key = %q", job.StorageKey)
	}
}

func TestPurgeOldRuns(t *testing.T) {
	svc, store, _ := newTestService(t)
	_, old := seedRun(t, store, validation.StatusPassed)
	_, fresh := seedRun(t, store, validation.StatusPassed)

	store.AgeRun(old.ID, time.Now().Add(-90*24*time.Hour))

	if err := svc.PurgeOldRuns(context.Background()); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, err := store.GetRun(context.Background(), old.ID); err == nil {
		t.Fatal("old run must be purged")
	}
	if _, err := store.GetRun(context.Background(), fresh.ID); err != nil {
		t.Fatalf("fresh run must survive: %v", err)
	}
}

func TestRefreshStatsAndRecount(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedRun(t, store, validation.StatusPending)

	if err := svc.RefreshStats(context.Background()); err != nil {
		t.Fatalf("refresh stats: %v", err)
	}
	if err := svc.RecountCategories(context.Background()); err != nil {
		t.Fatalf("recount: %v", err)
	}
}

func TestStartStop(t *testing.T) {
	svc, _, _ := newTestService(t)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
