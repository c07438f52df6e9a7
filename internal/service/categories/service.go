// Package categories manages the marketplace category taxonomy.
package categories

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/agenthub/marketplace/internal/domain/agent"
	"github.com/agenthub/marketplace/internal/domain/category"
	"github.com/agenthub/marketplace/internal/errors"
	"github.com/agenthub/marketplace/internal/storage"
)

// Service manages categories. Mutations are admin-only, enforced by
// the API layer.
type Service struct {
	store storage.Store
}

func New(store storage.Store) *Service {
	return &Service{store: store}
}

// List returns every category.
func (s *Service) List(ctx context.Context) ([]category.Category, error) {
	out, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, errors.Internal("list categories", err)
	}
	return out, nil
}

// Get returns one category by slug.
func (s *Service) Get(ctx context.Context, slug string) (category.Category, error) {
	c, err := s.store.GetCategoryBySlug(ctx, slug)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return category.Category{}, errors.NotFound("category", slug)
		}
		return category.Category{}, errors.Internal("load category", err)
	}
	return c, nil
}

// CreateInput describes a new category.
type CreateInput struct {
	Name        string
	Icon        string
	Description string
}

// Create adds a category. Duplicate names are a conflict.
func (s *Service) Create(ctx context.Context, in CreateInput) (category.Category, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return category.Category{}, errors.InvalidInput("name is required")
	}
	slug := agent.Slugify(name)
	if slug == "" {
		return category.Category{}, errors.InvalidInput("name has no slug-safe characters")
	}

	c, err := s.store.CreateCategory(ctx, category.Category{
		Name:        name,
		Slug:        slug,
		Icon:        in.Icon,
		Description: in.Description,
	})
	if err != nil {
		if stderrors.Is(err, storage.ErrDuplicate) {
			return category.Category{}, errors.Conflict("category " + slug + " already exists")
		}
		return category.Category{}, errors.Internal("create category", err)
	}
	return c, nil
}

// Update edits a category's display fields. The slug is immutable.
func (s *Service) Update(ctx context.Context, slug string, in CreateInput) (category.Category, error) {
	c, err := s.Get(ctx, slug)
	if err != nil {
		return category.Category{}, err
	}
	if name := strings.TrimSpace(in.Name); name != "" {
		c.Name = name
	}
	if in.Icon != "" {
		c.Icon = in.Icon
	}
	if in.Description != "" {
		c.Description = in.Description
	}
	updated, err := s.store.UpdateCategory(ctx, c)
	if err != nil {
		return category.Category{}, errors.Internal("update category", err)
	}
	return updated, nil
}

// Delete removes an empty category. Categories with agents cannot be
// deleted.
func (s *Service) Delete(ctx context.Context, slug string) error {
	c, err := s.Get(ctx, slug)
	if err != nil {
		return err
	}
	if c.AgentCount > 0 {
		return errors.InvalidInput("category still has agents")
	}
	if err := s.store.DeleteCategory(ctx, c.ID); err != nil {
		return errors.Internal("delete category", err)
	}
	return nil
}
