// Package review defines agent reviews.
package review

import "time"

// Sort modes for review listings.
const (
	SortHelpful = "helpful"
	SortRecent  = "recent"
	SortRating  = "rating"
)

// Review is a rating plus optional comment left by a user on an agent.
type Review struct {
	ID           string    `json:"id" db:"id"`
	AgentID      string    `json:"agent_id" db:"agent_id"`
	UserID       string    `json:"user_id" db:"user_id"`
	Rating       int       `json:"rating" db:"rating"`
	Comment      string    `json:"comment" db:"comment"`
	HelpfulCount int       `json:"helpful_count" db:"helpful_count"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// ValidRating reports whether r is in the accepted 1..5 range.
func ValidRating(r int) bool { return r >= 1 && r <= 5 }

// ValidSort reports whether key is an accepted review sort mode.
func ValidSort(key string) bool {
	switch key {
	case SortHelpful, SortRecent, SortRating:
		return true
	}
	return false
}
