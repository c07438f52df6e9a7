package categories

import (
	"context"
	"testing"

	"github.com/agenthub/marketplace/internal/domain/agent"
	"github.com/agenthub/marketplace/internal/domain/user"
	"github.com/agenthub/marketplace/internal/errors"
	"github.com/agenthub/marketplace/internal/storage/memory"
)

func TestCreateAndDuplicates(t *testing.T) {
	svc := New(memory.New())

	c, err := svc.Create(context.Background(), CreateInput{Name: "Data Tools", Icon: "db"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.Slug != "data-tools" {
		t.Fatalf("slug = %q", c.Slug)
	}

	if _, err := svc.Create(context.Background(), CreateInput{Name: "Data Tools"}); !errors.IsCode(err, errors.CodeConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
	if _, err := svc.Create(context.Background(), CreateInput{Name: "  "}); !errors.IsCode(err, errors.CodeInvalidInput) {
		t.Fatalf("err = %v, want invalid input", err)
	}
}

func TestUpdateKeepsSlug(t *testing.T) {
	svc := New(memory.New())
	if _, err := svc.Create(context.Background(), CreateInput{Name: "Data Tools"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := svc.Update(context.Background(), "data-tools", CreateInput{Name: "Data & Storage", Description: "storage agents"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Slug != "data-tools" {
		t.Fatalf("slug must not change, got %q", updated.Slug)
	}
	if updated.Name != "Data & Storage" || updated.Description != "storage agents" {
		t.Fatalf("category = %+v", updated)
	}
}

func TestDeleteRefusesNonEmpty(t *testing.T) {
	store := memory.New()
	svc := New(store)
	ctx := context.Background()

	c, err := svc.Create(ctx, CreateInput{Name: "DevOps"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	owner, err := store.CreateUser(ctx, user.User{GitHubID: 1, Username: "alice", Active: true})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	a, err := store.CreateAgent(ctx, agent.Agent{Name: "Helper", Slug: "helper", AuthorID: owner.ID, Public: true})
	if err != nil {
		t.Fatalf("seed agent: %v", err)
	}
	if err := store.SetAgentCategories(ctx, a.ID, []string{c.ID}); err != nil {
		t.Fatalf("link category: %v", err)
	}
	if err := store.RecountCategories(ctx); err != nil {
		t.Fatalf("recount: %v", err)
	}

	if err := svc.Delete(ctx, "devops"); !errors.IsCode(err, errors.CodeInvalidInput) {
		t.Fatalf("err = %v, want invalid input for non-empty category", err)
	}

	if err := store.SetAgentCategories(ctx, a.ID, nil); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	if err := store.RecountCategories(ctx); err != nil {
		t.Fatalf("recount: %v", err)
	}
	if err := svc.Delete(ctx, "devops"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, "devops"); !errors.IsCode(err, errors.CodeNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}
