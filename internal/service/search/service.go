// Package search implements marketplace search and autocomplete.
package search

import (
	"context"
	"sort"
	"strings"

	"github.com/agenthub/marketplace/internal/domain/agent"
	"github.com/agenthub/marketplace/internal/domain/user"
	"github.com/agenthub/marketplace/internal/errors"
	"github.com/agenthub/marketplace/internal/storage"
)

const (
	defaultLimit     = 20
	maxLimit         = 100
	suggestionsLimit = 10
)

// Service answers search queries over agents and users.
type Service struct {
	store storage.Store
}

func New(store storage.Store) *Service {
	return &Service{store: store}
}

// GlobalResult groups matches across resource types.
type GlobalResult struct {
	Agents []agent.Agent `json:"agents"`
	Users  []user.User   `json:"users"`
}

// Global searches agents and users at once.
func (s *Service) Global(ctx context.Context, query string, limit int) (GlobalResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return GlobalResult{}, errors.InvalidInput("query is required")
	}
	limit = clampLimit(limit)

	agents, err := s.store.ListAgents(ctx, agent.ListFilter{Query: query, Limit: limit})
	if err != nil {
		return GlobalResult{}, errors.Internal("search agents", err)
	}
	users, err := s.store.SearchUsers(ctx, query, limit)
	if err != nil {
		return GlobalResult{}, errors.Internal("search users", err)
	}
	return GlobalResult{Agents: agents, Users: users}, nil
}

// Agents searches agents with the full filter set.
func (s *Service) Agents(ctx context.Context, filter agent.ListFilter) ([]agent.Agent, error) {
	if filter.Sort != "" && !agent.ValidSort(filter.Sort) {
		return nil, errors.InvalidInput("unknown sort key " + filter.Sort)
	}
	if filter.MinRating < 0 || filter.MinRating > 5 {
		return nil, errors.InvalidInput("min rating must be between 0 and 5")
	}
	filter.Limit = clampLimit(filter.Limit)
	out, err := s.store.ListAgents(ctx, filter)
	if err != nil {
		return nil, errors.Internal("search agents", err)
	}
	return out, nil
}

// Suggest returns agent name completions for a prefix. Prefix matches
// rank before substring matches.
func (s *Service) Suggest(ctx context.Context, prefix string) ([]string, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" {
		return nil, nil
	}

	matches, err := s.store.ListAgents(ctx, agent.ListFilter{Query: prefix, Limit: maxLimit})
	if err != nil {
		return nil, errors.Internal("suggest agents", err)
	}

	var starts, contains []string
	for _, a := range matches {
		name := strings.ToLower(a.Name)
		switch {
		case strings.HasPrefix(name, prefix):
			starts = append(starts, a.Name)
		case strings.Contains(name, prefix):
			contains = append(contains, a.Name)
		}
	}
	sort.Strings(starts)
	sort.Strings(contains)

	out := append(starts, contains...)
	if len(out) > suggestionsLimit {
		out = out[:suggestionsLimit]
	}
	return out, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxLimit {
		return defaultLimit
	}
	return limit
}
