// Package category defines agent categories.
package category

import "time"

// Category groups agents for browsing.
type Category struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Slug        string    `json:"slug" db:"slug"`
	Icon        string    `json:"icon" db:"icon"`
	Description string    `json:"description" db:"description"`
	AgentCount  int       `json:"agent_count" db:"agent_count"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
