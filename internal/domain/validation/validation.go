// Package validation defines validation runs and their check reports.
package validation

import "time"

// Run statuses.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusError   = "error"
)

// Check names reported by the pipeline.
const (
	CheckSecurity = "security_scan"
	CheckQuality  = "quality_check"
	CheckSmoke    = "smoke_test"
)

// Severity levels reported by the security scanner, weakest first.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

var severityRank = map[string]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// SeverityAtLeast reports whether severity meets or exceeds threshold.
// Unknown severities never meet a threshold.
func SeverityAtLeast(severity, threshold string) bool {
	s, ok := severityRank[severity]
	if !ok {
		return false
	}
	t, ok := severityRank[threshold]
	if !ok {
		return false
	}
	return s >= t
}

// Finding is a single security scan hit.
type Finding struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Detail   string `json:"detail,omitempty"`
}

// CheckResult captures one pipeline stage outcome.
type CheckResult struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Skipped  bool          `json:"skipped,omitempty"`
	Score    int           `json:"score,omitempty"`
	Findings []Finding     `json:"findings,omitempty"`
	Issues   []string      `json:"issues,omitempty"`
	Output   string        `json:"output,omitempty"`
	Duration time.Duration `json:"duration_ms"`
}

// Run is one validation of an agent version bundle.
type Run struct {
	ID          string        `json:"id" db:"id"`
	VersionID   string        `json:"version_id" db:"version_id"`
	AgentID     string        `json:"agent_id" db:"agent_id"`
	Status      string        `json:"status" db:"status"`
	Attempts    int           `json:"attempts" db:"attempts"`
	Checks      []CheckResult `json:"checks" db:"-"`
	Error       string        `json:"error,omitempty" db:"error"`
	Duration    time.Duration `json:"duration_ms" db:"duration"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
}

// Terminal reports whether the run has reached a final status.
func (r *Run) Terminal() bool {
	switch r.Status {
	case StatusPassed, StatusFailed, StatusError:
		return true
	}
	return false
}

// Event is a progress notification emitted while a run executes.
type Event struct {
	RunID   string    `json:"run_id"`
	AgentID string    `json:"agent_id"`
	Status  string    `json:"status"`
	Check   string    `json:"check,omitempty"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}
