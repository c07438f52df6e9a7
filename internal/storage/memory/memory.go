// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agenthub/marketplace/internal/domain/agent"
	"github.com/agenthub/marketplace/internal/domain/category"
	"github.com/agenthub/marketplace/internal/domain/review"
	"github.com/agenthub/marketplace/internal/domain/user"
	"github.com/agenthub/marketplace/internal/domain/validation"
	"github.com/agenthub/marketplace/internal/storage"
)

// Store holds every collection behind a single RWMutex.
type Store struct {
	mu sync.RWMutex

	users         map[string]user.User
	usersByGitHub map[int64]string
	usersByName   map[string]string
	tokens        map[string]user.AccessToken

	agents       map[string]agent.Agent
	agentsBySlug map[string]string
	versions     map[string]agent.Version
	stars        map[string]map[string]time.Time
	agentCats    map[string][]string
	downloads    []time.Time

	reviews map[string]review.Review

	categories map[string]category.Category
	catsBySlug map[string]string

	runs map[string]validation.Run
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		users:         make(map[string]user.User),
		usersByGitHub: make(map[int64]string),
		usersByName:   make(map[string]string),
		tokens:        make(map[string]user.AccessToken),
		agents:        make(map[string]agent.Agent),
		agentsBySlug:  make(map[string]string),
		versions:      make(map[string]agent.Version),
		stars:         make(map[string]map[string]time.Time),
		agentCats:     make(map[string][]string),
		reviews:       make(map[string]review.Review),
		categories:    make(map[string]category.Category),
		catsBySlug:    make(map[string]string),
		runs:          make(map[string]validation.Run),
	}
}

// UserStore ---------------------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.usersByGitHub[u.GitHubID]; taken {
		return user.User{}, fmt.Errorf("github id %d: %w", u.GitHubID, storage.ErrDuplicate)
	}
	if _, taken := s.usersByName[strings.ToLower(u.Username)]; taken {
		return user.User{}, fmt.Errorf("username %s: %w", u.Username, storage.ErrDuplicate)
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	s.users[u.ID] = u
	s.usersByGitHub[u.GitHubID] = u.ID
	s.usersByName[strings.ToLower(u.Username)] = u.ID
	return u, nil
}

func (s *Store) UpdateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.users[u.ID]
	if !ok {
		return user.User{}, fmt.Errorf("user %s: %w", u.ID, storage.ErrNotFound)
	}
	if !strings.EqualFold(original.Username, u.Username) {
		if _, taken := s.usersByName[strings.ToLower(u.Username)]; taken {
			return user.User{}, fmt.Errorf("username %s: %w", u.Username, storage.ErrDuplicate)
		}
		delete(s.usersByName, strings.ToLower(original.Username))
		s.usersByName[strings.ToLower(u.Username)] = u.ID
	}
	u.CreatedAt = original.CreatedAt
	u.UpdatedAt = time.Now().UTC()
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return user.User{}, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	return u, nil
}

func (s *Store) GetUserByGitHubID(_ context.Context, githubID int64) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByGitHub[githubID]
	if !ok {
		return user.User{}, fmt.Errorf("github id %d: %w", githubID, storage.ErrNotFound)
	}
	return s.users[id], nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByName[strings.ToLower(username)]
	if !ok {
		return user.User{}, fmt.Errorf("user %s: %w", username, storage.ErrNotFound)
	}
	return s.users[id], nil
}

func (s *Store) ListUsers(_ context.Context, limit, offset int) ([]user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]user.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

func (s *Store) SearchUsers(_ context.Context, query string, limit int) ([]user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := strings.ToLower(query)
	var out []user.User
	for _, u := range s.users {
		if strings.Contains(strings.ToLower(u.Username), q) || strings.Contains(strings.ToLower(u.Bio), q) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return page(out, limit, 0), nil
}

func (s *Store) CountUsers(_ context.Context, activeSince time.Time) (int64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total, active int64
	for _, u := range s.users {
		total++
		if u.UpdatedAt.After(activeSince) {
			active++
		}
	}
	return total, active, nil
}

func (s *Store) UserStats(_ context.Context, userID string) (user.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st user.Stats
	for _, a := range s.agents {
		if a.AuthorID != userID {
			continue
		}
		st.AgentsPublished++
		st.TotalDownloads += a.Downloads
		st.TotalStars += a.Stars
	}
	return st, nil
}

func (s *Store) CreateAccessToken(_ context.Context, tok user.AccessToken) (user.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.ID == "" {
		tok.ID = uuid.NewString()
	}
	tok.CreatedAt = time.Now().UTC()
	s.tokens[tok.ID] = tok
	return tok, nil
}

func (s *Store) GetAccessToken(_ context.Context, tokenID string) (user.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[tokenID]
	if !ok {
		return user.AccessToken{}, fmt.Errorf("token %s: %w", tokenID, storage.ErrNotFound)
	}
	return tok, nil
}

func (s *Store) ListAccessTokens(_ context.Context, userID string) ([]user.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []user.AccessToken
	for _, tok := range s.tokens {
		if tok.UserID == userID {
			out = append(out, tok)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) DeleteAccessToken(_ context.Context, userID, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[tokenID]
	if !ok || tok.UserID != userID {
		return fmt.Errorf("token %s: %w", tokenID, storage.ErrNotFound)
	}
	delete(s.tokens, tokenID)
	return nil
}

func (s *Store) TouchAccessToken(_ context.Context, tokenID string, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[tokenID]
	if !ok {
		return fmt.Errorf("token %s: %w", tokenID, storage.ErrNotFound)
	}
	at := usedAt.UTC()
	tok.LastUsedAt = &at
	s.tokens[tokenID] = tok
	return nil
}

// AgentStore --------------------------------------------------------------

func (s *Store) CreateAgent(_ context.Context, a agent.Agent) (agent.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.agentsBySlug[a.Slug]; taken {
		return agent.Agent{}, fmt.Errorf("slug %s: %w", a.Slug, storage.ErrDuplicate)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	s.agents[a.ID] = a
	s.agentsBySlug[a.Slug] = a.ID
	return a, nil
}

func (s *Store) UpdateAgent(_ context.Context, a agent.Agent) (agent.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.agents[a.ID]
	if !ok {
		return agent.Agent{}, fmt.Errorf("agent %s: %w", a.ID, storage.ErrNotFound)
	}
	if original.Slug != a.Slug {
		if _, taken := s.agentsBySlug[a.Slug]; taken {
			return agent.Agent{}, fmt.Errorf("slug %s: %w", a.Slug, storage.ErrDuplicate)
		}
		delete(s.agentsBySlug, original.Slug)
		s.agentsBySlug[a.Slug] = a.ID
	}
	a.CreatedAt = original.CreatedAt
	a.UpdatedAt = time.Now().UTC()
	s.agents[a.ID] = a
	return a, nil
}

func (s *Store) GetAgent(_ context.Context, id string) (agent.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return agent.Agent{}, fmt.Errorf("agent %s: %w", id, storage.ErrNotFound)
	}
	return a, nil
}

func (s *Store) GetAgentBySlug(_ context.Context, slug string) (agent.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.agentsBySlug[slug]
	if !ok {
		return agent.Agent{}, fmt.Errorf("agent %s: %w", slug, storage.ErrNotFound)
	}
	return s.agents[id], nil
}

func (s *Store) ListAgents(_ context.Context, filter agent.ListFilter) ([]agent.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var categoryID string
	if filter.Category != "" {
		id, ok := s.catsBySlug[filter.Category]
		if !ok {
			return nil, nil
		}
		categoryID = id
	}

	q := strings.ToLower(filter.Query)
	var out []agent.Agent
	for _, a := range s.agents {
		if !filter.IncludePrivate && !a.Public {
			continue
		}
		if filter.AuthorID != "" && a.AuthorID != filter.AuthorID {
			continue
		}
		if filter.MinRating > 0 && a.Rating < filter.MinRating {
			continue
		}
		if categoryID != "" && !containsString(s.agentCats[a.ID], categoryID) {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(a.Name), q) &&
			!strings.Contains(strings.ToLower(a.Description), q) &&
			!strings.Contains(a.Slug, q) {
			continue
		}
		out = append(out, a)
	}
	sortAgents(out, filter.Sort)
	return page(out, filter.Limit, filter.Offset), nil
}

func (s *Store) DeleteAgent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("agent %s: %w", id, storage.ErrNotFound)
	}
	delete(s.agents, id)
	delete(s.agentsBySlug, a.Slug)
	delete(s.stars, id)
	delete(s.agentCats, id)
	for vid, v := range s.versions {
		if v.AgentID == id {
			delete(s.versions, vid)
		}
	}
	for rid, r := range s.reviews {
		if r.AgentID == id {
			delete(s.reviews, rid)
		}
	}
	return nil
}

func (s *Store) SlugExists(_ context.Context, slug string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.agentsBySlug[slug]
	return ok, nil
}

func (s *Store) IncrementDownloads(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("agent %s: %w", id, storage.ErrNotFound)
	}
	a.Downloads++
	s.agents[id] = a
	s.downloads = append(s.downloads, time.Now().UTC())
	return nil
}

func (s *Store) CountAgents(_ context.Context) (int64, int64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total, validated, pending int64
	for _, a := range s.agents {
		total++
		if a.Validated {
			validated++
		} else {
			pending++
		}
	}
	return total, validated, pending, nil
}

func (s *Store) SumDownloads(_ context.Context, since time.Time) (int64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, a := range s.agents {
		total += a.Downloads
	}
	var recent int64
	for _, at := range s.downloads {
		if at.After(since) {
			recent++
		}
	}
	return total, recent, nil
}

func (s *Store) CreateVersion(_ context.Context, v agent.Version) (agent.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[v.AgentID]; !ok {
		return agent.Version{}, fmt.Errorf("agent %s: %w", v.AgentID, storage.ErrNotFound)
	}
	for _, existing := range s.versions {
		if existing.AgentID == v.AgentID && existing.Version == v.Version {
			return agent.Version{}, fmt.Errorf("version %s: %w", v.Version, storage.ErrDuplicate)
		}
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	v.PublishedAt = time.Now().UTC()
	s.versions[v.ID] = v
	return v, nil
}

func (s *Store) UpdateVersion(_ context.Context, v agent.Version) (agent.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	original, ok := s.versions[v.ID]
	if !ok {
		return agent.Version{}, fmt.Errorf("version %s: %w", v.ID, storage.ErrNotFound)
	}
	v.PublishedAt = original.PublishedAt
	s.versions[v.ID] = v
	return v, nil
}

func (s *Store) GetVersion(_ context.Context, id string) (agent.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.versions[id]
	if !ok {
		return agent.Version{}, fmt.Errorf("version %s: %w", id, storage.ErrNotFound)
	}
	return v, nil
}

func (s *Store) GetVersionByNumber(_ context.Context, agentID, version string) (agent.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.versions {
		if v.AgentID == agentID && v.Version == version {
			return v, nil
		}
	}
	return agent.Version{}, fmt.Errorf("version %s: %w", version, storage.ErrNotFound)
}

func (s *Store) ListVersions(_ context.Context, agentID string) ([]agent.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []agent.Version
	for _, v := range s.versions {
		if v.AgentID == agentID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublishedAt.After(out[j].PublishedAt) })
	return out, nil
}

func (s *Store) Star(_ context.Context, agentID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[agentID]
	if !ok {
		return fmt.Errorf("agent %s: %w", agentID, storage.ErrNotFound)
	}
	if s.stars[agentID] == nil {
		s.stars[agentID] = make(map[string]time.Time)
	}
	if _, starred := s.stars[agentID][userID]; starred {
		return fmt.Errorf("star: %w", storage.ErrDuplicate)
	}
	s.stars[agentID][userID] = time.Now().UTC()
	a.Stars++
	s.agents[agentID] = a
	return nil
}

func (s *Store) Unstar(_ context.Context, agentID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[agentID]
	if !ok {
		return fmt.Errorf("agent %s: %w", agentID, storage.ErrNotFound)
	}
	if _, starred := s.stars[agentID][userID]; !starred {
		return fmt.Errorf("star: %w", storage.ErrNotFound)
	}
	delete(s.stars[agentID], userID)
	a.Stars--
	s.agents[agentID] = a
	return nil
}

func (s *Store) HasStarred(_ context.Context, agentID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.stars[agentID][userID]
	return ok, nil
}

func (s *Store) ListStarred(_ context.Context, userID string, limit, offset int) ([]agent.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type starred struct {
		a  agent.Agent
		at time.Time
	}
	var hits []starred
	for agentID, byUser := range s.stars {
		at, ok := byUser[userID]
		if !ok {
			continue
		}
		if a, live := s.agents[agentID]; live {
			hits = append(hits, starred{a, at})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].at.After(hits[j].at) })
	out := make([]agent.Agent, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.a)
	}
	return page(out, limit, offset), nil
}

func (s *Store) SetAgentCategories(_ context.Context, agentID string, categoryIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[agentID]; !ok {
		return fmt.Errorf("agent %s: %w", agentID, storage.ErrNotFound)
	}
	for _, cid := range categoryIDs {
		if _, ok := s.categories[cid]; !ok {
			return fmt.Errorf("category %s: %w", cid, storage.ErrNotFound)
		}
	}
	s.agentCats[agentID] = append([]string(nil), categoryIDs...)
	s.recountLocked()
	return nil
}

func (s *Store) AgentCategories(_ context.Context, agentID string) ([]category.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []category.Category
	for _, cid := range s.agentCats[agentID] {
		if c, ok := s.categories[cid]; ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ReviewStore -------------------------------------------------------------

func (s *Store) CreateReview(_ context.Context, r review.Review) (review.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[r.AgentID]; !ok {
		return review.Review{}, fmt.Errorf("agent %s: %w", r.AgentID, storage.ErrNotFound)
	}
	for _, existing := range s.reviews {
		if existing.AgentID == r.AgentID && existing.UserID == r.UserID {
			return review.Review{}, fmt.Errorf("review: %w", storage.ErrDuplicate)
		}
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	s.reviews[r.ID] = r
	return r, nil
}

func (s *Store) UpdateReview(_ context.Context, r review.Review) (review.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	original, ok := s.reviews[r.ID]
	if !ok {
		return review.Review{}, fmt.Errorf("review %s: %w", r.ID, storage.ErrNotFound)
	}
	r.AgentID = original.AgentID
	r.UserID = original.UserID
	r.CreatedAt = original.CreatedAt
	r.UpdatedAt = time.Now().UTC()
	s.reviews[r.ID] = r
	return r, nil
}

func (s *Store) GetReview(_ context.Context, id string) (review.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reviews[id]
	if !ok {
		return review.Review{}, fmt.Errorf("review %s: %w", id, storage.ErrNotFound)
	}
	return r, nil
}

func (s *Store) GetReviewByAgentUser(_ context.Context, agentID, userID string) (review.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.reviews {
		if r.AgentID == agentID && r.UserID == userID {
			return r, nil
		}
	}
	return review.Review{}, fmt.Errorf("review: %w", storage.ErrNotFound)
}

func (s *Store) ListReviews(_ context.Context, agentID, sortKey string, limit, offset int) ([]review.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []review.Review
	for _, r := range s.reviews {
		if r.AgentID == agentID {
			out = append(out, r)
		}
	}
	switch sortKey {
	case review.SortHelpful:
		sort.Slice(out, func(i, j int) bool { return out[i].HelpfulCount > out[j].HelpfulCount })
	case review.SortRating:
		sort.Slice(out, func(i, j int) bool { return out[i].Rating > out[j].Rating })
	default:
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	}
	return page(out, limit, offset), nil
}

func (s *Store) DeleteReview(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reviews[id]; !ok {
		return fmt.Errorf("review %s: %w", id, storage.ErrNotFound)
	}
	delete(s.reviews, id)
	return nil
}

func (s *Store) IncrementHelpful(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[id]
	if !ok {
		return fmt.Errorf("review %s: %w", id, storage.ErrNotFound)
	}
	r.HelpfulCount++
	s.reviews[id] = r
	return nil
}

func (s *Store) AverageRating(_ context.Context, agentID string) (float64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum, count int64
	for _, r := range s.reviews {
		if r.AgentID == agentID {
			sum += int64(r.Rating)
			count++
		}
	}
	if count == 0 {
		return 0, 0, nil
	}
	return float64(sum) / float64(count), count, nil
}

// CategoryStore -----------------------------------------------------------

func (s *Store) CreateCategory(_ context.Context, c category.Category) (category.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.catsBySlug[c.Slug]; taken {
		return category.Category{}, fmt.Errorf("category %s: %w", c.Slug, storage.ErrDuplicate)
	}
	for _, existing := range s.categories {
		if strings.EqualFold(existing.Name, c.Name) {
			return category.Category{}, fmt.Errorf("category %s: %w", c.Name, storage.ErrDuplicate)
		}
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now().UTC()
	s.categories[c.ID] = c
	s.catsBySlug[c.Slug] = c.ID
	return c, nil
}

func (s *Store) UpdateCategory(_ context.Context, c category.Category) (category.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.categories[c.ID]
	if !ok {
		return category.Category{}, fmt.Errorf("category %s: %w", c.ID, storage.ErrNotFound)
	}
	if original.Slug != c.Slug {
		if _, taken := s.catsBySlug[c.Slug]; taken {
			return category.Category{}, fmt.Errorf("category %s: %w", c.Slug, storage.ErrDuplicate)
		}
		delete(s.catsBySlug, original.Slug)
		s.catsBySlug[c.Slug] = c.ID
	}
	c.CreatedAt = original.CreatedAt
	c.AgentCount = original.AgentCount
	s.categories[c.ID] = c
	return c, nil
}

func (s *Store) GetCategory(_ context.Context, id string) (category.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.categories[id]
	if !ok {
		return category.Category{}, fmt.Errorf("category %s: %w", id, storage.ErrNotFound)
	}
	return c, nil
}

func (s *Store) GetCategoryBySlug(_ context.Context, slug string) (category.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.catsBySlug[slug]
	if !ok {
		return category.Category{}, fmt.Errorf("category %s: %w", slug, storage.ErrNotFound)
	}
	return s.categories[id], nil
}

func (s *Store) ListCategories(_ context.Context) ([]category.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]category.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) DeleteCategory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.categories[id]
	if !ok {
		return fmt.Errorf("category %s: %w", id, storage.ErrNotFound)
	}
	delete(s.categories, id)
	delete(s.catsBySlug, c.Slug)
	for agentID, cids := range s.agentCats {
		s.agentCats[agentID] = removeString(cids, id)
	}
	return nil
}

func (s *Store) RecountCategories(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recountLocked()
	return nil
}

func (s *Store) recountLocked() {
	counts := make(map[string]int)
	for agentID, cids := range s.agentCats {
		a, ok := s.agents[agentID]
		if !ok || !a.Public {
			continue
		}
		for _, cid := range cids {
			counts[cid]++
		}
	}
	for id, c := range s.categories {
		c.AgentCount = counts[id]
		s.categories[id] = c
	}
}

// ValidationStore ----------------------------------------------------------

func (s *Store) CreateRun(_ context.Context, run validation.Run) (validation.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now
	run.Checks = cloneChecks(run.Checks)
	s.runs[run.ID] = run
	return cloneRun(run), nil
}

func (s *Store) UpdateRun(_ context.Context, run validation.Run) (validation.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	original, ok := s.runs[run.ID]
	if !ok {
		return validation.Run{}, fmt.Errorf("run %s: %w", run.ID, storage.ErrNotFound)
	}
	run.CreatedAt = original.CreatedAt
	run.UpdatedAt = time.Now().UTC()
	run.Checks = cloneChecks(run.Checks)
	s.runs[run.ID] = run
	return cloneRun(run), nil
}

func (s *Store) GetRun(_ context.Context, id string) (validation.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return validation.Run{}, fmt.Errorf("run %s: %w", id, storage.ErrNotFound)
	}
	return cloneRun(run), nil
}

func (s *Store) LatestRunForVersion(_ context.Context, versionID string) (validation.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *validation.Run
	for id := range s.runs {
		run := s.runs[id]
		if run.VersionID != versionID {
			continue
		}
		if latest == nil || run.CreatedAt.After(latest.CreatedAt) {
			latest = &run
		}
	}
	if latest == nil {
		return validation.Run{}, fmt.Errorf("run for version %s: %w", versionID, storage.ErrNotFound)
	}
	return cloneRun(*latest), nil
}

func (s *Store) ListStuckRuns(_ context.Context, runningSince time.Time) ([]validation.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []validation.Run
	for _, run := range s.runs {
		if run.Status == validation.StatusRunning && run.UpdatedAt.Before(runningSince) {
			out = append(out, cloneRun(run))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// AgeRun backdates a run's timestamps. Test helper for retention and
// stuck-run sweeps.
func (s *Store) AgeRun(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		run.CreatedAt = at
		run.UpdatedAt = at
		s.runs[id] = run
	}
}

func (s *Store) CountRunsByStatus(_ context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int64)
	for _, run := range s.runs {
		counts[run.Status]++
	}
	return counts, nil
}

func (s *Store) PurgeRunsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var purged int64
	for id, run := range s.runs {
		if run.Terminal() && run.CreatedAt.Before(cutoff) {
			delete(s.runs, id)
			purged++
		}
	}
	return purged, nil
}

// helpers -------------------------------------------------------------------

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func sortAgents(agents []agent.Agent, key string) {
	switch key {
	case agent.SortDownloads:
		sort.Slice(agents, func(i, j int) bool { return agents[i].Downloads > agents[j].Downloads })
	case agent.SortStars:
		sort.Slice(agents, func(i, j int) bool { return agents[i].Stars > agents[j].Stars })
	case agent.SortRating:
		sort.Slice(agents, func(i, j int) bool { return agents[i].Rating > agents[j].Rating })
	default:
		sort.Slice(agents, func(i, j int) bool { return agents[i].CreatedAt.After(agents[j].CreatedAt) })
	}
}

func containsString(items []string, want string) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}

func removeString(items []string, drop string) []string {
	out := items[:0]
	for _, item := range items {
		if item != drop {
			out = append(out, item)
		}
	}
	return out
}

func cloneRun(run validation.Run) validation.Run {
	run.Checks = cloneChecks(run.Checks)
	if run.CompletedAt != nil {
		at := *run.CompletedAt
		run.CompletedAt = &at
	}
	return run
}

func cloneChecks(checks []validation.CheckResult) []validation.CheckResult {
	if checks == nil {
		return nil
	}
	out := make([]validation.CheckResult, len(checks))
	for i, c := range checks {
		c.Findings = append([]validation.Finding(nil), c.Findings...)
		c.Issues = append([]string(nil), c.Issues...)
		out[i] = c
	}
	return out
}
