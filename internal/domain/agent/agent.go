// Package agent defines the published agent and version models.
package agent

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Sort keys accepted by listing endpoints.
const (
	SortCreated   = "created_at"
	SortDownloads = "downloads"
	SortStars     = "stars"
	SortRating    = "rating"
)

// Agent is a published marketplace agent.
type Agent struct {
	ID             string    `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	Slug           string    `json:"slug" db:"slug"`
	Description    string    `json:"description" db:"description"`
	AuthorID       string    `json:"author_id" db:"author_id"`
	CurrentVersion string    `json:"current_version" db:"current_version"`
	Downloads      int64     `json:"downloads" db:"downloads"`
	Stars          int64     `json:"stars" db:"stars"`
	Rating         float64   `json:"rating" db:"rating"`
	Public         bool      `json:"public" db:"public"`
	Validated      bool      `json:"validated" db:"validated"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Version is a released agent bundle.
type Version struct {
	ID             string    `json:"id" db:"id"`
	AgentID        string    `json:"agent_id" db:"agent_id"`
	Version        string    `json:"version" db:"version"`
	StorageKey     string    `json:"-" db:"storage_key"`
	SizeBytes      int64     `json:"size_bytes" db:"size_bytes"`
	Changelog      string    `json:"changelog" db:"changelog"`
	Tested         bool      `json:"tested" db:"tested"`
	SecurityPassed bool      `json:"security_passed" db:"security_passed"`
	QualityScore   int       `json:"quality_score" db:"quality_score"`
	PublishedAt    time.Time `json:"published_at" db:"published_at"`
}

// ListFilter narrows agent listing queries.
type ListFilter struct {
	Category  string
	AuthorID  string
	Query     string
	MinRating float64
	Sort      string
	Limit     int
	Offset    int
	// IncludePrivate is only honoured for admin and owner listings.
	IncludePrivate bool
}

var (
	slugStrip    = regexp.MustCompile(`[^a-z0-9]+`)
	semverFormat = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
)

// Slugify derives a URL slug from an agent name.
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = slugStrip.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// DedupSlug appends a numeric suffix to a slug.
func DedupSlug(slug string, n int) string {
	return fmt.Sprintf("%s-%d", slug, n)
}

// ValidVersion reports whether v is a plain X.Y.Z version string.
func ValidVersion(v string) bool {
	return semverFormat.MatchString(v)
}

// ValidSort reports whether key is an accepted agent sort key.
func ValidSort(key string) bool {
	switch key {
	case SortCreated, SortDownloads, SortStars, SortRating:
		return true
	}
	return false
}
