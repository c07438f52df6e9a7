package admin

import (
	"context"
	"testing"
	"time"

	"github.com/agenthub/marketplace/internal/domain/agent"
	"github.com/agenthub/marketplace/internal/domain/category"
	"github.com/agenthub/marketplace/internal/domain/user"
	"github.com/agenthub/marketplace/internal/errors"
	"github.com/agenthub/marketplace/internal/logging"
	"github.com/agenthub/marketplace/internal/storage/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	return New(store, logging.New("admin-test", "error")), store
}

func seedUser(t *testing.T, store *memory.Store, username, role string) user.User {
	t.Helper()
	u, err := store.CreateUser(context.Background(), user.User{
		GitHubID: time.Now().UnixNano(),
		Username: username,
		Role:     role,
		Active:   true,
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func seedAgent(t *testing.T, store *memory.Store, owner user.User, slug string, public bool) agent.Agent {
	t.Helper()
	a, err := store.CreateAgent(context.Background(), agent.Agent{
		Name:           slug,
		Slug:           slug,
		AuthorID:       owner.ID,
		CurrentVersion: "1.0.0",
		Public:         public,
	})
	if err != nil {
		t.Fatalf("seed agent: %v", err)
	}
	return a
}

func TestListAgentsIncludesPrivate(t *testing.T) {
	svc, store := newTestService(t)
	owner := seedUser(t, store, "alice", user.RoleUser)
	seedAgent(t, store, owner, "public-agent", true)
	seedAgent(t, store, owner, "private-agent", false)

	out, err := svc.ListAgents(context.Background(), agent.ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2 including private", len(out))
	}
}

func TestUpdateAgentForcesModeration(t *testing.T) {
	svc, store := newTestService(t)
	owner := seedUser(t, store, "alice", user.RoleUser)
	seedAgent(t, store, owner, "helper", true)

	hidden := false
	validated := true
	updated, err := svc.UpdateAgent(context.Background(), "helper", AgentUpdate{Public: &hidden, Validated: &validated})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Public || !updated.Validated {
		t.Fatalf("agent = %+v", updated)
	}
}

func TestUpdateAgentReassignsCategory(t *testing.T) {
	svc, store := newTestService(t)
	owner := seedUser(t, store, "alice", user.RoleUser)
	a := seedAgent(t, store, owner, "helper", true)
	cat, err := store.CreateCategory(context.Background(), category.Category{Name: "DevOps", Slug: "devops"})
	if err != nil {
		t.Fatalf("seed category: %v", err)
	}

	slug := "devops"
	if _, err := svc.UpdateAgent(context.Background(), "helper", AgentUpdate{Category: &slug}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := store.AgentCategories(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("agent categories: %v", err)
	}
	if len(got) != 1 || got[0].ID != cat.ID {
		t.Fatalf("categories = %+v, want devops", got)
	}
	refreshed, err := store.GetCategory(context.Background(), cat.ID)
	if err != nil {
		t.Fatalf("get category: %v", err)
	}
	if refreshed.AgentCount != 1 {
		t.Fatalf("agent count = %d, want 1", refreshed.AgentCount)
	}

	// Clearing the category unlinks the agent.
	empty := ""
	if _, err := svc.UpdateAgent(context.Background(), "helper", AgentUpdate{Category: &empty}); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, err = store.AgentCategories(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("agent categories: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("categories = %+v, want none", got)
	}

	bogus := "nope"
	if _, err := svc.UpdateAgent(context.Background(), "helper", AgentUpdate{Category: &bogus}); !errors.IsCode(err, errors.CodeNotFound) {
		t.Fatalf("err = %v, want not found for unknown category", err)
	}
}

func TestBulkCategory(t *testing.T) {
	svc, store := newTestService(t)
	owner := seedUser(t, store, "alice", user.RoleUser)
	seedAgent(t, store, owner, "one", true)
	seedAgent(t, store, owner, "two", true)
	cat, err := store.CreateCategory(context.Background(), category.Category{Name: "DevOps", Slug: "devops"})
	if err != nil {
		t.Fatalf("seed category: %v", err)
	}

	updated, err := svc.BulkCategory(context.Background(), "devops", []string{"one", "two", "missing"})
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if updated != 2 {
		t.Fatalf("updated = %d, want 2", updated)
	}

	got, err := store.GetCategory(context.Background(), cat.ID)
	if err != nil {
		t.Fatalf("get category: %v", err)
	}
	if got.AgentCount != 2 {
		t.Fatalf("agent count = %d, want 2", got.AgentCount)
	}

	if _, err := svc.BulkCategory(context.Background(), "missing", []string{"one"}); !errors.IsCode(err, errors.CodeNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestUpdateUserModeration(t *testing.T) {
	svc, store := newTestService(t)
	admin := seedUser(t, store, "root", user.RoleAdmin)
	target := seedUser(t, store, "alice", user.RoleUser)

	blocked := true
	role := user.RoleAdmin
	updated, err := svc.UpdateUser(context.Background(), target.Username, admin.ID, UserUpdate{Blocked: &blocked, Role: &role})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.Blocked || updated.Role != user.RoleAdmin {
		t.Fatalf("user = %+v", updated)
	}

	if _, err := svc.UpdateUser(context.Background(), admin.Username, admin.ID, UserUpdate{Blocked: &blocked}); !errors.IsCode(err, errors.CodeInvalidInput) {
		t.Fatalf("err = %v, want invalid input for self moderation", err)
	}

	bad := "owner"
	if _, err := svc.UpdateUser(context.Background(), target.Username, admin.ID, UserUpdate{Role: &bad}); !errors.IsCode(err, errors.CodeInvalidInput) {
		t.Fatalf("err = %v, want invalid input for unknown role", err)
	}
}

func TestSystemStats(t *testing.T) {
	svc, _ := newTestService(t)

	stats, err := svc.System(context.Background())
	if err != nil {
		t.Fatalf("system: %v", err)
	}
	if stats.Goroutines <= 0 {
		t.Fatalf("goroutines = %d", stats.Goroutines)
	}
	if stats.Uptime == "" {
		t.Fatal("uptime must be set")
	}
}
