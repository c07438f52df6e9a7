// Package user defines the marketplace account model.
package user

import "time"

// Roles assignable to an account.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is a marketplace account backed by a GitHub identity.
type User struct {
	ID         string    `json:"id" db:"id"`
	GitHubID   int64     `json:"github_id" db:"github_id"`
	Username   string    `json:"username" db:"username"`
	Email      string    `json:"email" db:"email"`
	AvatarURL  string    `json:"avatar_url" db:"avatar_url"`
	Bio        string    `json:"bio" db:"bio"`
	Reputation int       `json:"reputation" db:"reputation"`
	Role       string    `json:"role" db:"role"`
	Blocked    bool      `json:"blocked" db:"blocked"`
	Active     bool      `json:"active" db:"active"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// IsAdmin reports whether the account carries the admin role.
func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// Stats aggregates a user's public contribution numbers.
type Stats struct {
	AgentsPublished int   `json:"agents_published"`
	TotalDownloads  int64 `json:"total_downloads"`
	TotalStars      int64 `json:"total_stars"`
}

// AccessToken is a personal access token issued for CLI publishing.
// Only the bcrypt hash of the secret is stored.
type AccessToken struct {
	ID         string     `json:"id" db:"id"`
	UserID     string     `json:"user_id" db:"user_id"`
	Name       string     `json:"name" db:"name"`
	TokenHash  string     `json:"-" db:"token_hash"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}
