package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/agenthub/marketplace/internal/cache"
	"github.com/agenthub/marketplace/internal/domain/agent"
	"github.com/agenthub/marketplace/internal/domain/user"
	"github.com/agenthub/marketplace/internal/errors"
	"github.com/agenthub/marketplace/internal/logging"
	"github.com/agenthub/marketplace/internal/storage/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store, *cache.MemoryCache) {
	t.Helper()
	store := memory.New()
	c := cache.NewMemory()
	return New(store, c, logging.New("analytics-test", "error")), store, c
}

func seedAgents(t *testing.T, store *memory.Store) {
	t.Helper()
	ctx := context.Background()
	owner, err := store.CreateUser(ctx, user.User{GitHubID: time.Now().UnixNano(), Username: "alice", Active: true})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	for _, spec := range []struct {
		slug      string
		downloads int64
		stars     int64
	}{
		{"hot", 100, 50},
		{"warm", 80, 10},
		{"cold", 5, 0},
	} {
		a, err := store.CreateAgent(ctx, agent.Agent{
			Name:           spec.slug,
			Slug:           spec.slug,
			AuthorID:       owner.ID,
			CurrentVersion: "1.0.0",
			Public:         true,
		})
		if err != nil {
			t.Fatalf("seed agent: %v", err)
		}
		a.Downloads = spec.downloads
		a.Stars = spec.stars
		if _, err := store.UpdateAgent(ctx, a); err != nil {
			t.Fatalf("update agent: %v", err)
		}
	}
}

func TestStatsCachesResult(t *testing.T) {
	svc, store, c := newTestService(t)
	seedAgents(t, store)

	first, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if first.TotalAgents != 3 {
		t.Fatalf("total agents = %d, want 3", first.TotalAgents)
	}
	if first.TotalUsers != 1 {
		t.Fatalf("total users = %d, want 1", first.TotalUsers)
	}

	var cached PlatformStats
	if err := c.GetJSON(context.Background(), statsCacheKey, &cached); err != nil {
		t.Fatalf("expected stats in cache: %v", err)
	}

	// A cached read must not see writes made after the refresh.
	owner, _ := store.GetUserByUsername(context.Background(), "alice")
	if _, err := store.CreateAgent(context.Background(), agent.Agent{
		Name: "late", Slug: "late", AuthorID: owner.ID, CurrentVersion: "1.0.0", Public: true,
	}); err != nil {
		t.Fatalf("seed late agent: %v", err)
	}
	second, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if second.TotalAgents != 3 {
		t.Fatalf("cached total agents = %d, want 3", second.TotalAgents)
	}

	refreshed, err := svc.RefreshStats(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.TotalAgents != 4 {
		t.Fatalf("refreshed total agents = %d, want 4", refreshed.TotalAgents)
	}
}

func TestTrending(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedAgents(t, store)

	ranked, err := svc.Trending(context.Background(), "week", 2)
	if err != nil {
		t.Fatalf("trending: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("len = %d, want 2", len(ranked))
	}
	if ranked[0].Agent.Slug != "hot" || ranked[1].Agent.Slug != "warm" {
		t.Fatalf("order = %s, %s", ranked[0].Agent.Slug, ranked[1].Agent.Slug)
	}
	if ranked[0].Score != 200 {
		t.Fatalf("top score = %v, want 200 (100 downloads + 2*50 stars)", ranked[0].Score)
	}
	if ranked[0].TrendScore != 1 {
		t.Fatalf("top trend score = %v, want 1", ranked[0].TrendScore)
	}
	if ranked[0].DownloadsChange != "rising" {
		t.Fatalf("top label = %q", ranked[0].DownloadsChange)
	}

	if _, err := svc.Trending(context.Background(), "fortnight", 5); !errors.IsCode(err, errors.CodeInvalidInput) {
		t.Fatalf("err = %v, want invalid input", err)
	}
}

func TestPopular(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedAgents(t, store)

	out, err := svc.Popular(context.Background(), 1)
	if err != nil {
		t.Fatalf("popular: %v", err)
	}
	if len(out) != 1 || out[0].Slug != "hot" {
		t.Fatalf("out = %+v", out)
	}
}
