// Package storage declares the persistence interfaces served by the
// Postgres and in-memory implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/agenthub/marketplace/internal/domain/agent"
	"github.com/agenthub/marketplace/internal/domain/category"
	"github.com/agenthub/marketplace/internal/domain/review"
	"github.com/agenthub/marketplace/internal/domain/user"
	"github.com/agenthub/marketplace/internal/domain/validation"
)

// Sentinel errors shared by all implementations.
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// UserStore persists marketplace accounts and personal access tokens.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	UpdateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	GetUserByGitHubID(ctx context.Context, githubID int64) (user.User, error)
	GetUserByUsername(ctx context.Context, username string) (user.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]user.User, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]user.User, error)
	CountUsers(ctx context.Context, activeSince time.Time) (total, active int64, err error)
	UserStats(ctx context.Context, userID string) (user.Stats, error)

	CreateAccessToken(ctx context.Context, tok user.AccessToken) (user.AccessToken, error)
	GetAccessToken(ctx context.Context, tokenID string) (user.AccessToken, error)
	ListAccessTokens(ctx context.Context, userID string) ([]user.AccessToken, error)
	DeleteAccessToken(ctx context.Context, userID, tokenID string) error
	TouchAccessToken(ctx context.Context, tokenID string, usedAt time.Time) error
}

// AgentStore persists agents, versions, stars and category links.
type AgentStore interface {
	CreateAgent(ctx context.Context, a agent.Agent) (agent.Agent, error)
	UpdateAgent(ctx context.Context, a agent.Agent) (agent.Agent, error)
	GetAgent(ctx context.Context, id string) (agent.Agent, error)
	GetAgentBySlug(ctx context.Context, slug string) (agent.Agent, error)
	ListAgents(ctx context.Context, filter agent.ListFilter) ([]agent.Agent, error)
	DeleteAgent(ctx context.Context, id string) error
	SlugExists(ctx context.Context, slug string) (bool, error)
	IncrementDownloads(ctx context.Context, id string) error
	CountAgents(ctx context.Context) (total, validated, pending int64, err error)
	SumDownloads(ctx context.Context, since time.Time) (total, recent int64, err error)

	CreateVersion(ctx context.Context, v agent.Version) (agent.Version, error)
	UpdateVersion(ctx context.Context, v agent.Version) (agent.Version, error)
	GetVersion(ctx context.Context, id string) (agent.Version, error)
	GetVersionByNumber(ctx context.Context, agentID, version string) (agent.Version, error)
	ListVersions(ctx context.Context, agentID string) ([]agent.Version, error)

	Star(ctx context.Context, agentID, userID string) error
	Unstar(ctx context.Context, agentID, userID string) error
	HasStarred(ctx context.Context, agentID, userID string) (bool, error)
	ListStarred(ctx context.Context, userID string, limit, offset int) ([]agent.Agent, error)

	SetAgentCategories(ctx context.Context, agentID string, categoryIDs []string) error
	AgentCategories(ctx context.Context, agentID string) ([]category.Category, error)
}

// ReviewStore persists agent reviews.
type ReviewStore interface {
	CreateReview(ctx context.Context, r review.Review) (review.Review, error)
	UpdateReview(ctx context.Context, r review.Review) (review.Review, error)
	GetReview(ctx context.Context, id string) (review.Review, error)
	GetReviewByAgentUser(ctx context.Context, agentID, userID string) (review.Review, error)
	ListReviews(ctx context.Context, agentID, sort string, limit, offset int) ([]review.Review, error)
	DeleteReview(ctx context.Context, id string) error
	IncrementHelpful(ctx context.Context, id string) error
	AverageRating(ctx context.Context, agentID string) (avg float64, count int64, err error)
}

// CategoryStore persists categories.
type CategoryStore interface {
	CreateCategory(ctx context.Context, c category.Category) (category.Category, error)
	UpdateCategory(ctx context.Context, c category.Category) (category.Category, error)
	GetCategory(ctx context.Context, id string) (category.Category, error)
	GetCategoryBySlug(ctx context.Context, slug string) (category.Category, error)
	ListCategories(ctx context.Context) ([]category.Category, error)
	DeleteCategory(ctx context.Context, id string) error
	RecountCategories(ctx context.Context) error
}

// ValidationStore persists validation runs.
type ValidationStore interface {
	CreateRun(ctx context.Context, run validation.Run) (validation.Run, error)
	UpdateRun(ctx context.Context, run validation.Run) (validation.Run, error)
	GetRun(ctx context.Context, id string) (validation.Run, error)
	LatestRunForVersion(ctx context.Context, versionID string) (validation.Run, error)
	ListStuckRuns(ctx context.Context, runningSince time.Time) ([]validation.Run, error)
	CountRunsByStatus(ctx context.Context) (map[string]int64, error)
	PurgeRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store aggregates every persistence interface.
type Store interface {
	UserStore
	AgentStore
	ReviewStore
	CategoryStore
	ValidationStore
}
