// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/agenthub/marketplace/internal/domain/agent"
	"github.com/agenthub/marketplace/internal/domain/category"
	"github.com/agenthub/marketplace/internal/domain/review"
	"github.com/agenthub/marketplace/internal/domain/user"
	"github.com/agenthub/marketplace/internal/domain/validation"
	"github.com/agenthub/marketplace/internal/storage"
)

// Store implements the storage interfaces on a sqlx database handle.
type Store struct {
	db *sqlx.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to Postgres and configures the pool.
func Open(url string, maxOpen, maxIdle int) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(time.Hour)
	return db, nil
}

func mapErr(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, storage.ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%s: %w", what, storage.ErrDuplicate)
	}
	return err
}

// --- UserStore ---------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, github_id, username, email, avatar_url, bio, reputation, role, blocked, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, u.ID, u.GitHubID, u.Username, u.Email, u.AvatarURL, u.Bio, u.Reputation, u.Role, u.Blocked, u.Active, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return user.User{}, mapErr(err, "user")
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u user.User) (user.User, error) {
	u.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET username = $2, email = $3, avatar_url = $4, bio = $5, reputation = $6, role = $7, blocked = $8, active = $9, updated_at = $10
		WHERE id = $1
	`, u.ID, u.Username, u.Email, u.AvatarURL, u.Bio, u.Reputation, u.Role, u.Blocked, u.Active, u.UpdatedAt)
	if err != nil {
		return user.User{}, mapErr(err, "user")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return user.User{}, fmt.Errorf("user %s: %w", u.ID, storage.ErrNotFound)
	}
	return s.GetUser(ctx, u.ID)
}

const userColumns = `id, github_id, username, email, avatar_url, bio, reputation, role, blocked, active, created_at, updated_at`

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	var u user.User
	err := s.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if err != nil {
		return user.User{}, mapErr(err, "user")
	}
	return u, nil
}

func (s *Store) GetUserByGitHubID(ctx context.Context, githubID int64) (user.User, error) {
	var u user.User
	err := s.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE github_id = $1`, githubID)
	if err != nil {
		return user.User{}, mapErr(err, "user")
	}
	return u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (user.User, error) {
	var u user.User
	err := s.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE lower(username) = lower($1)`, username)
	if err != nil {
		return user.User{}, mapErr(err, "user")
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context, limit, offset int) ([]user.User, error) {
	var out []user.User
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+userColumns+` FROM users
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	return out, err
}

func (s *Store) SearchUsers(ctx context.Context, query string, limit int) ([]user.User, error) {
	var out []user.User
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+userColumns+` FROM users
		WHERE username ILIKE $1 OR bio ILIKE $1
		ORDER BY username
		LIMIT $2
	`, "%"+query+"%", limit)
	return out, err
}

func (s *Store) CountUsers(ctx context.Context, activeSince time.Time) (int64, int64, error) {
	var total, active int64
	row := s.db.QueryRowContext(ctx, `
		SELECT count(*), count(*) FILTER (WHERE updated_at > $1)
		FROM users
	`, activeSince)
	if err := row.Scan(&total, &active); err != nil {
		return 0, 0, err
	}
	return total, active, nil
}

func (s *Store) UserStats(ctx context.Context, userID string) (user.Stats, error) {
	var st user.Stats
	row := s.db.QueryRowContext(ctx, `
		SELECT count(*), coalesce(sum(downloads), 0), coalesce(sum(stars), 0)
		FROM agents
		WHERE author_id = $1
	`, userID)
	if err := row.Scan(&st.AgentsPublished, &st.TotalDownloads, &st.TotalStars); err != nil {
		return user.Stats{}, err
	}
	return st, nil
}

func (s *Store) CreateAccessToken(ctx context.Context, tok user.AccessToken) (user.AccessToken, error) {
	if tok.ID == "" {
		tok.ID = uuid.NewString()
	}
	tok.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_tokens (id, user_id, name, token_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, tok.ID, tok.UserID, tok.Name, tok.TokenHash, tok.CreatedAt)
	if err != nil {
		return user.AccessToken{}, mapErr(err, "access token")
	}
	return tok, nil
}

func (s *Store) GetAccessToken(ctx context.Context, tokenID string) (user.AccessToken, error) {
	var tok user.AccessToken
	err := s.db.GetContext(ctx, &tok, `
		SELECT id, user_id, name, token_hash, last_used_at, created_at
		FROM access_tokens
		WHERE id = $1
	`, tokenID)
	if err != nil {
		return user.AccessToken{}, mapErr(err, "access token")
	}
	return tok, nil
}

func (s *Store) ListAccessTokens(ctx context.Context, userID string) ([]user.AccessToken, error) {
	var out []user.AccessToken
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, user_id, name, token_hash, last_used_at, created_at
		FROM access_tokens
		WHERE user_id = $1
		ORDER BY created_at
	`, userID)
	return out, err
}

func (s *Store) DeleteAccessToken(ctx context.Context, userID, tokenID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM access_tokens WHERE id = $1 AND user_id = $2
	`, tokenID, userID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("token %s: %w", tokenID, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) TouchAccessToken(ctx context.Context, tokenID string, usedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE access_tokens SET last_used_at = $2 WHERE id = $1
	`, tokenID, usedAt.UTC())
	return err
}

// --- AgentStore ----------------------------------------------------------------

const agentColumns = `id, name, slug, description, author_id, current_version, downloads, stars, rating, public, validated, created_at, updated_at`

func (s *Store) CreateAgent(ctx context.Context, a agent.Agent) (agent.Agent, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, slug, description, author_id, current_version, downloads, stars, rating, public, validated, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, a.ID, a.Name, a.Slug, a.Description, a.AuthorID, a.CurrentVersion, a.Downloads, a.Stars, a.Rating, a.Public, a.Validated, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return agent.Agent{}, mapErr(err, "agent")
	}
	return a, nil
}

func (s *Store) UpdateAgent(ctx context.Context, a agent.Agent) (agent.Agent, error) {
	a.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE agents
		SET name = $2, slug = $3, description = $4, current_version = $5, downloads = $6, stars = $7, rating = $8, public = $9, validated = $10, updated_at = $11
		WHERE id = $1
	`, a.ID, a.Name, a.Slug, a.Description, a.CurrentVersion, a.Downloads, a.Stars, a.Rating, a.Public, a.Validated, a.UpdatedAt)
	if err != nil {
		return agent.Agent{}, mapErr(err, "agent")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return agent.Agent{}, fmt.Errorf("agent %s: %w", a.ID, storage.ErrNotFound)
	}
	return s.GetAgent(ctx, a.ID)
}

func (s *Store) GetAgent(ctx context.Context, id string) (agent.Agent, error) {
	var a agent.Agent
	err := s.db.GetContext(ctx, &a, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	if err != nil {
		return agent.Agent{}, mapErr(err, "agent")
	}
	return a, nil
}

func (s *Store) GetAgentBySlug(ctx context.Context, slug string) (agent.Agent, error) {
	var a agent.Agent
	err := s.db.GetContext(ctx, &a, `SELECT `+agentColumns+` FROM agents WHERE slug = $1`, slug)
	if err != nil {
		return agent.Agent{}, mapErr(err, "agent")
	}
	return a, nil
}

func (s *Store) ListAgents(ctx context.Context, filter agent.ListFilter) ([]agent.Agent, error) {
	query := `SELECT ` + prefixColumns("a", agentColumns) + ` FROM agents a`
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Category != "" {
		query += `
			JOIN agent_categories ac ON ac.agent_id = a.id
			JOIN categories c ON c.id = ac.category_id`
		where = append(where, "c.slug = "+arg(filter.Category))
	}
	if !filter.IncludePrivate {
		where = append(where, "a.public = TRUE")
	}
	if filter.AuthorID != "" {
		where = append(where, "a.author_id = "+arg(filter.AuthorID))
	}
	if filter.MinRating > 0 {
		where = append(where, "a.rating >= "+arg(filter.MinRating))
	}
	if filter.Query != "" {
		p := arg("%" + filter.Query + "%")
		where = append(where, fmt.Sprintf("(a.name ILIKE %[1]s OR a.description ILIKE %[1]s OR a.slug ILIKE %[1]s)", p))
	}
	if len(where) > 0 {
		query += "\nWHERE " + strings.Join(where, " AND ")
	}
	query += "\nORDER BY " + agentOrder(filter.Sort)
	if filter.Limit > 0 {
		query += "\nLIMIT " + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += "\nOFFSET " + arg(filter.Offset)
	}

	var out []agent.Agent
	err := s.db.SelectContext(ctx, &out, query, args...)
	return out, err
}

func agentOrder(sortKey string) string {
	switch sortKey {
	case agent.SortDownloads:
		return "a.downloads DESC"
	case agent.SortStars:
		return "a.stars DESC"
	case agent.SortRating:
		return "a.rating DESC"
	default:
		return "a.created_at DESC"
	}
}

func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("agent %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM agents WHERE slug = $1)`, slug)
	return exists, err
}

func (s *Store) IncrementDownloads(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE agents SET downloads = downloads + 1, updated_at = now() WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("agent %s: %w", id, storage.ErrNotFound)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO download_events (agent_id) VALUES ($1)`, id)
	return err
}

func (s *Store) CountAgents(ctx context.Context) (int64, int64, int64, error) {
	var total, validated, pending int64
	row := s.db.QueryRowContext(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE validated),
		       count(*) FILTER (WHERE NOT validated)
		FROM agents
	`)
	if err := row.Scan(&total, &validated, &pending); err != nil {
		return 0, 0, 0, err
	}
	return total, validated, pending, nil
}

func (s *Store) SumDownloads(ctx context.Context, since time.Time) (int64, int64, error) {
	var total, recent int64
	row := s.db.QueryRowContext(ctx, `
		SELECT (SELECT coalesce(sum(downloads), 0) FROM agents),
		       (SELECT count(*) FROM download_events WHERE occurred_at > $1)
	`, since)
	if err := row.Scan(&total, &recent); err != nil {
		return 0, 0, err
	}
	return total, recent, nil
}

const versionColumns = `id, agent_id, version, storage_key, size_bytes, changelog, tested, security_passed, quality_score, published_at`

func (s *Store) CreateVersion(ctx context.Context, v agent.Version) (agent.Version, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	v.PublishedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_versions (id, agent_id, version, storage_key, size_bytes, changelog, tested, security_passed, quality_score, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, v.ID, v.AgentID, v.Version, v.StorageKey, v.SizeBytes, v.Changelog, v.Tested, v.SecurityPassed, v.QualityScore, v.PublishedAt)
	if err != nil {
		return agent.Version{}, mapErr(err, "version")
	}
	return v, nil
}

func (s *Store) UpdateVersion(ctx context.Context, v agent.Version) (agent.Version, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE agent_versions
		SET changelog = $2, tested = $3, security_passed = $4, quality_score = $5
		WHERE id = $1
	`, v.ID, v.Changelog, v.Tested, v.SecurityPassed, v.QualityScore)
	if err != nil {
		return agent.Version{}, mapErr(err, "version")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return agent.Version{}, fmt.Errorf("version %s: %w", v.ID, storage.ErrNotFound)
	}
	return s.GetVersion(ctx, v.ID)
}

func (s *Store) GetVersion(ctx context.Context, id string) (agent.Version, error) {
	var v agent.Version
	err := s.db.GetContext(ctx, &v, `SELECT `+versionColumns+` FROM agent_versions WHERE id = $1`, id)
	if err != nil {
		return agent.Version{}, mapErr(err, "version")
	}
	return v, nil
}

func (s *Store) GetVersionByNumber(ctx context.Context, agentID, version string) (agent.Version, error) {
	var v agent.Version
	err := s.db.GetContext(ctx, &v, `
		SELECT `+versionColumns+` FROM agent_versions WHERE agent_id = $1 AND version = $2
	`, agentID, version)
	if err != nil {
		return agent.Version{}, mapErr(err, "version")
	}
	return v, nil
}

func (s *Store) ListVersions(ctx context.Context, agentID string) ([]agent.Version, error) {
	var out []agent.Version
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+versionColumns+` FROM agent_versions
		WHERE agent_id = $1
		ORDER BY published_at DESC
	`, agentID)
	return out, err
}

func (s *Store) Star(ctx context.Context, agentID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_stars (agent_id, user_id) VALUES ($1, $2)
	`, agentID, userID)
	if err != nil {
		return mapErr(err, "star")
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE agents SET stars = stars + 1, updated_at = now() WHERE id = $1
	`, agentID)
	return err
}

func (s *Store) Unstar(ctx context.Context, agentID, userID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM agent_stars WHERE agent_id = $1 AND user_id = $2
	`, agentID, userID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("star: %w", storage.ErrNotFound)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE agents SET stars = greatest(stars - 1, 0), updated_at = now() WHERE id = $1
	`, agentID)
	return err
}

func (s *Store) HasStarred(ctx context.Context, agentID, userID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM agent_stars WHERE agent_id = $1 AND user_id = $2)
	`, agentID, userID)
	return exists, err
}

func (s *Store) ListStarred(ctx context.Context, userID string, limit, offset int) ([]agent.Agent, error) {
	var out []agent.Agent
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+prefixColumns("a", agentColumns)+`
		FROM agents a
		JOIN agent_stars s ON s.agent_id = a.id
		WHERE s.user_id = $1
		ORDER BY s.starred_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	return out, err
}

func (s *Store) SetAgentCategories(ctx context.Context, agentID string, categoryIDs []string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM agent_categories WHERE agent_id = $1`, agentID); err != nil {
		return err
	}
	for _, cid := range categoryIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO agent_categories (agent_id, category_id) VALUES ($1, $2)
		`, agentID, cid); err != nil {
			return mapErr(err, "agent category")
		}
	}
	return tx.Commit()
}

func (s *Store) AgentCategories(ctx context.Context, agentID string) ([]category.Category, error) {
	var out []category.Category
	err := s.db.SelectContext(ctx, &out, `
		SELECT c.id, c.name, c.slug, c.icon, c.description, c.agent_count, c.created_at
		FROM categories c
		JOIN agent_categories ac ON ac.category_id = c.id
		WHERE ac.agent_id = $1
		ORDER BY c.name
	`, agentID)
	return out, err
}

// --- ReviewStore ----------------------------------------------------------------

const reviewColumns = `id, agent_id, user_id, rating, comment, helpful_count, created_at, updated_at`

func (s *Store) CreateReview(ctx context.Context, r review.Review) (review.Review, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reviews (id, agent_id, user_id, rating, comment, helpful_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.ID, r.AgentID, r.UserID, r.Rating, r.Comment, r.HelpfulCount, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return review.Review{}, mapErr(err, "review")
	}
	return r, nil
}

func (s *Store) UpdateReview(ctx context.Context, r review.Review) (review.Review, error) {
	r.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE reviews SET rating = $2, comment = $3, updated_at = $4 WHERE id = $1
	`, r.ID, r.Rating, r.Comment, r.UpdatedAt)
	if err != nil {
		return review.Review{}, mapErr(err, "review")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return review.Review{}, fmt.Errorf("review %s: %w", r.ID, storage.ErrNotFound)
	}
	return s.GetReview(ctx, r.ID)
}

func (s *Store) GetReview(ctx context.Context, id string) (review.Review, error) {
	var r review.Review
	err := s.db.GetContext(ctx, &r, `SELECT `+reviewColumns+` FROM reviews WHERE id = $1`, id)
	if err != nil {
		return review.Review{}, mapErr(err, "review")
	}
	return r, nil
}

func (s *Store) GetReviewByAgentUser(ctx context.Context, agentID, userID string) (review.Review, error) {
	var r review.Review
	err := s.db.GetContext(ctx, &r, `
		SELECT `+reviewColumns+` FROM reviews WHERE agent_id = $1 AND user_id = $2
	`, agentID, userID)
	if err != nil {
		return review.Review{}, mapErr(err, "review")
	}
	return r, nil
}

func (s *Store) ListReviews(ctx context.Context, agentID, sortKey string, limit, offset int) ([]review.Review, error) {
	order := "created_at DESC"
	switch sortKey {
	case review.SortHelpful:
		order = "helpful_count DESC, created_at DESC"
	case review.SortRating:
		order = "rating DESC, created_at DESC"
	}
	var out []review.Review
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+reviewColumns+` FROM reviews
		WHERE agent_id = $1
		ORDER BY `+order+`
		LIMIT $2 OFFSET $3
	`, agentID, limit, offset)
	return out, err
}

func (s *Store) DeleteReview(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM reviews WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("review %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) IncrementHelpful(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE reviews SET helpful_count = helpful_count + 1 WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("review %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) AverageRating(ctx context.Context, agentID string) (float64, int64, error) {
	var avg float64
	var count int64
	row := s.db.QueryRowContext(ctx, `
		SELECT coalesce(avg(rating), 0), count(*) FROM reviews WHERE agent_id = $1
	`, agentID)
	if err := row.Scan(&avg, &count); err != nil {
		return 0, 0, err
	}
	return avg, count, nil
}

// --- CategoryStore ----------------------------------------------------------------

const categoryColumns = `id, name, slug, icon, description, agent_count, created_at`

func (s *Store) CreateCategory(ctx context.Context, c category.Category) (category.Category, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, slug, icon, description, agent_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.Name, c.Slug, c.Icon, c.Description, c.AgentCount, c.CreatedAt)
	if err != nil {
		return category.Category{}, mapErr(err, "category")
	}
	return c, nil
}

func (s *Store) UpdateCategory(ctx context.Context, c category.Category) (category.Category, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE categories SET name = $2, slug = $3, icon = $4, description = $5 WHERE id = $1
	`, c.ID, c.Name, c.Slug, c.Icon, c.Description)
	if err != nil {
		return category.Category{}, mapErr(err, "category")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return category.Category{}, fmt.Errorf("category %s: %w", c.ID, storage.ErrNotFound)
	}
	return s.GetCategory(ctx, c.ID)
}

func (s *Store) GetCategory(ctx context.Context, id string) (category.Category, error) {
	var c category.Category
	err := s.db.GetContext(ctx, &c, `SELECT `+categoryColumns+` FROM categories WHERE id = $1`, id)
	if err != nil {
		return category.Category{}, mapErr(err, "category")
	}
	return c, nil
}

func (s *Store) GetCategoryBySlug(ctx context.Context, slug string) (category.Category, error) {
	var c category.Category
	err := s.db.GetContext(ctx, &c, `SELECT `+categoryColumns+` FROM categories WHERE slug = $1`, slug)
	if err != nil {
		return category.Category{}, mapErr(err, "category")
	}
	return c, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]category.Category, error) {
	var out []category.Category
	err := s.db.SelectContext(ctx, &out, `SELECT `+categoryColumns+` FROM categories ORDER BY name`)
	return out, err
}

func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("category %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) RecountCategories(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE categories c
		SET agent_count = (
			SELECT count(*)
			FROM agent_categories ac
			JOIN agents a ON a.id = ac.agent_id
			WHERE ac.category_id = c.id AND a.public
		)
	`)
	return err
}

// --- ValidationStore ----------------------------------------------------------------

type runRow struct {
	ID          string       `db:"id"`
	VersionID   string       `db:"version_id"`
	AgentID     string       `db:"agent_id"`
	Status      string       `db:"status"`
	Attempts    int          `db:"attempts"`
	Checks      []byte       `db:"checks"`
	Error       string       `db:"error"`
	DurationMS  int64        `db:"duration_ms"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
	CompletedAt sql.NullTime `db:"completed_at"`
}

const runColumns = `id, version_id, agent_id, status, attempts, checks, error, duration_ms, created_at, updated_at, completed_at`

func (r runRow) toDomain() (validation.Run, error) {
	run := validation.Run{
		ID:        r.ID,
		VersionID: r.VersionID,
		AgentID:   r.AgentID,
		Status:    r.Status,
		Attempts:  r.Attempts,
		Error:     r.Error,
		Duration:  time.Duration(r.DurationMS) * time.Millisecond,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.CompletedAt.Valid {
		at := r.CompletedAt.Time
		run.CompletedAt = &at
	}
	if len(r.Checks) > 0 {
		if err := json.Unmarshal(r.Checks, &run.Checks); err != nil {
			return validation.Run{}, fmt.Errorf("decode run checks: %w", err)
		}
	}
	return run, nil
}

func (s *Store) CreateRun(ctx context.Context, run validation.Run) (validation.Run, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now

	checksJSON, err := marshalChecks(run.Checks)
	if err != nil {
		return validation.Run{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO validation_runs (id, version_id, agent_id, status, attempts, checks, error, duration_ms, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, run.ID, run.VersionID, run.AgentID, run.Status, run.Attempts, checksJSON, run.Error,
		run.Duration.Milliseconds(), run.CreatedAt, run.UpdatedAt, toNullTime(run.CompletedAt))
	if err != nil {
		return validation.Run{}, mapErr(err, "run")
	}
	return run, nil
}

func (s *Store) UpdateRun(ctx context.Context, run validation.Run) (validation.Run, error) {
	run.UpdatedAt = time.Now().UTC()
	checksJSON, err := marshalChecks(run.Checks)
	if err != nil {
		return validation.Run{}, err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE validation_runs
		SET status = $2, attempts = $3, checks = $4, error = $5, duration_ms = $6, updated_at = $7, completed_at = $8
		WHERE id = $1
	`, run.ID, run.Status, run.Attempts, checksJSON, run.Error,
		run.Duration.Milliseconds(), run.UpdatedAt, toNullTime(run.CompletedAt))
	if err != nil {
		return validation.Run{}, mapErr(err, "run")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return validation.Run{}, fmt.Errorf("run %s: %w", run.ID, storage.ErrNotFound)
	}
	return run, nil
}

func (s *Store) GetRun(ctx context.Context, id string) (validation.Run, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `SELECT `+runColumns+` FROM validation_runs WHERE id = $1`, id)
	if err != nil {
		return validation.Run{}, mapErr(err, "run")
	}
	return row.toDomain()
}

func (s *Store) LatestRunForVersion(ctx context.Context, versionID string) (validation.Run, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+runColumns+` FROM validation_runs
		WHERE version_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, versionID)
	if err != nil {
		return validation.Run{}, mapErr(err, "run")
	}
	return row.toDomain()
}

func (s *Store) ListStuckRuns(ctx context.Context, runningSince time.Time) ([]validation.Run, error) {
	var rows []runRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+runColumns+` FROM validation_runs
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at
	`, validation.StatusRunning, runningSince)
	if err != nil {
		return nil, err
	}
	out := make([]validation.Run, 0, len(rows))
	for _, row := range rows {
		run, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

func (s *Store) CountRunsByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, count(*) FROM validation_runs GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (s *Store) PurgeRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM validation_runs
		WHERE created_at < $1 AND status IN ($2, $3, $4)
	`, cutoff, validation.StatusPassed, validation.StatusFailed, validation.StatusError)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// helpers -------------------------------------------------------------------

func marshalChecks(checks []validation.CheckResult) ([]byte, error) {
	if checks == nil {
		checks = []validation.CheckResult{}
	}
	data, err := json.Marshal(checks)
	if err != nil {
		return nil, fmt.Errorf("encode run checks: %w", err)
	}
	return data, nil
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func prefixColumns(alias, columns string) string {
	cols := strings.Split(columns, ",")
	for i, col := range cols {
		cols[i] = alias + "." + strings.TrimSpace(col)
	}
	return strings.Join(cols, ", ")
}
