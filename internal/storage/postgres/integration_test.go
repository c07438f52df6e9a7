//go:build integration

package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"

	"github.com/agenthub/marketplace/internal/domain/agent"
	"github.com/agenthub/marketplace/internal/domain/user"
	"github.com/agenthub/marketplace/internal/domain/validation"
	"github.com/agenthub/marketplace/internal/storage"
	"github.com/agenthub/marketplace/internal/storage/postgres/migrations"
)

// openTestStore connects to the database named by DATABASE_URL and applies
// migrations. The test is skipped when no database is configured.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	_ = godotenv.Load("../../../.env")

	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	db, err := Open(url, 5, 2)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := migrations.Apply(db.DB); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return New(db)
}

func TestIntegrationUserRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	u, err := store.CreateUser(ctx, user.User{
		GitHubID: time.Now().UnixNano(),
		Username: uniqueName("alice"),
		Role:     user.RoleUser,
		Active:   true,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	t.Cleanup(func() { _, _ = store.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, u.ID) })

	got, err := store.GetUserByGitHubID(ctx, u.GitHubID)
	if err != nil {
		t.Fatalf("get by github id: %v", err)
	}
	if got.ID != u.ID || got.Username != u.Username {
		t.Fatalf("got %+v, want %+v", got, u)
	}

	// Duplicate github id must map to the sentinel.
	_, err = store.CreateUser(ctx, user.User{GitHubID: u.GitHubID, Username: uniqueName("bob")})
	if !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("duplicate create err = %v, want ErrDuplicate", err)
	}
}

func TestIntegrationAgentLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	owner, err := store.CreateUser(ctx, user.User{
		GitHubID: time.Now().UnixNano(),
		Username: uniqueName("owner"),
		Role:     user.RoleUser,
		Active:   true,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	t.Cleanup(func() { _, _ = store.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, owner.ID) })

	a, err := store.CreateAgent(ctx, agent.Agent{
		Name:           "Integration Helper",
		Slug:           uniqueName("integration-helper"),
		Description:    "round trip",
		AuthorID:       owner.ID,
		CurrentVersion: "1.0.0",
		Public:         true,
	})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	t.Cleanup(func() { _ = store.DeleteAgent(ctx, a.ID) })

	v, err := store.CreateVersion(ctx, agent.Version{
		AgentID:    a.ID,
		Version:    "1.0.0",
		StorageKey: "agents/" + a.Slug + "/1.0.0/bundle.zip",
	})
	if err != nil {
		t.Fatalf("create version: %v", err)
	}

	run, err := store.CreateRun(ctx, validation.Run{
		AgentID:   a.ID,
		VersionID: v.ID,
		Status:    validation.StatusPending,
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	latest, err := store.LatestRunForVersion(ctx, v.ID)
	if err != nil {
		t.Fatalf("latest run: %v", err)
	}
	if latest.ID != run.ID {
		t.Fatalf("latest run = %s, want %s", latest.ID, run.ID)
	}

	if err := store.IncrementDownloads(ctx, a.ID); err != nil {
		t.Fatalf("increment downloads: %v", err)
	}
	got, err := store.GetAgentBySlug(ctx, a.Slug)
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if got.Downloads != 1 {
		t.Fatalf("downloads = %d, want 1", got.Downloads)
	}

	if err := store.Star(ctx, owner.ID, a.ID); err != nil {
		t.Fatalf("star: %v", err)
	}
	if err := store.Star(ctx, owner.ID, a.ID); !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("double star err = %v, want ErrDuplicate", err)
	}
}

func uniqueName(prefix string) string {
	return prefix + "-" + time.Now().Format("150405.000000")
}
