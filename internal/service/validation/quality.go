package validation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/agenthub/marketplace/internal/domain/validation"
)

const (
	maxLineLength    = 200
	maxSourceBytes   = 256 << 10
	todoDensityLimit = 5
	scorePerIssue    = 5
	perfectScore     = 100
)

// QualityChecker applies lint heuristics to bundle sources.
type QualityChecker struct {
	maxIssues int
}

func NewQualityChecker(maxIssues int) *QualityChecker {
	return &QualityChecker{maxIssues: maxIssues}
}

// Check lints every JS source. The score is 100 minus 5 per issue,
// floored at zero, and the check fails above the issue limit.
func (q *QualityChecker) Check(b *Bundle) domain.CheckResult {
	started := time.Now()

	names := make([]string, 0)
	sources := b.Sources()
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)

	var issues []string
	for _, name := range names {
		issues = append(issues, lintSource(name, sources[name])...)
	}

	score := perfectScore - scorePerIssue*len(issues)
	if score < 0 {
		score = 0
	}

	return domain.CheckResult{
		Name:     domain.CheckQuality,
		Passed:   len(issues) <= q.maxIssues,
		Score:    score,
		Issues:   issues,
		Output:   fmt.Sprintf("%d issues, limit %d", len(issues), q.maxIssues),
		Duration: time.Since(started),
	}
}

func lintSource(name string, content []byte) []string {
	var issues []string
	if len(content) > maxSourceBytes {
		issues = append(issues, fmt.Sprintf("%s: file exceeds %d bytes", name, maxSourceBytes))
	}

	todos := 0
	for i, line := range strings.Split(string(content), "\n") {
		if len(line) > maxLineLength {
			issues = append(issues, fmt.Sprintf("%s:%d: line exceeds %d characters", name, i+1, maxLineLength))
		}
		if strings.Contains(line, "eval(") {
			issues = append(issues, fmt.Sprintf("%s:%d: use of eval", name, i+1))
		}
		if strings.Contains(line, "TODO") || strings.Contains(line, "FIXME") {
			todos++
		}
	}
	if todos > todoDensityLimit {
		issues = append(issues, fmt.Sprintf("%s: %d TODO/FIXME markers", name, todos))
	}
	return issues
}
