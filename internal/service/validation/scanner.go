package validation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	domain "github.com/agenthub/marketplace/internal/domain/validation"
)

// scannerReportName is an optional machine-generated report shipped
// inside the bundle by external scanners. Its findings are merged with
// the built-in rules.
const scannerReportName = "scan-report.json"

type secretRule struct {
	name     string
	severity string
	re       *regexp.Regexp
}

var secretRules = []secretRule{
	{"aws_access_key", domain.SeverityCritical, regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"private_key", domain.SeverityCritical, regexp.MustCompile(`-----BEGIN (?:RSA |EC |OPENSSH )?PRIVATE KEY-----`)},
	{"github_token", domain.SeverityHigh, regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36,}`)},
	{"bearer_token", domain.SeverityHigh, regexp.MustCompile(`(?i)bearer\s+[a-z0-9\-._~+/]{20,}`)},
	{"generic_api_key", domain.SeverityMedium, regexp.MustCompile(`(?i)(?:api[_-]?key|apikey|secret[_-]?key)\s*[:=]\s*['"][^'"]{16,}['"]`)},
	{"hardcoded_password", domain.SeverityMedium, regexp.MustCompile(`(?i)password\s*[:=]\s*['"][^'"]{6,}['"]`)},
	{"connection_string", domain.SeverityMedium, regexp.MustCompile(`(?i)(?:postgres|mysql|mongodb|redis|amqp)://[^\s'"]*:[^\s'"]*@`)},
}

// Scanner detects leaked credentials in bundle sources.
type Scanner struct {
	threshold string
}

func NewScanner(severityThreshold string) *Scanner {
	return &Scanner{threshold: severityThreshold}
}

// Scan runs the secret rules over every JS source plus any external
// scanner report in the bundle. The check fails when a finding meets
// the severity threshold.
func (s *Scanner) Scan(b *Bundle) domain.CheckResult {
	started := time.Now()

	var findings []domain.Finding
	for name, content := range b.Sources() {
		findings = append(findings, scanFile(name, content)...)
	}
	if report := b.File(scannerReportName); report != nil {
		findings = append(findings, parseExternalReport(report)...)
	}

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].File != findings[j].File {
			return findings[i].File < findings[j].File
		}
		return findings[i].Line < findings[j].Line
	})

	passed := true
	for _, f := range findings {
		if domain.SeverityAtLeast(f.Severity, s.threshold) {
			passed = false
			break
		}
	}

	return domain.CheckResult{
		Name:     domain.CheckSecurity,
		Passed:   passed,
		Findings: findings,
		Output:   fmt.Sprintf("%d findings, threshold %s", len(findings), s.threshold),
		Duration: time.Since(started),
	}
}

func scanFile(name string, content []byte) []domain.Finding {
	var out []domain.Finding
	lines := strings.Split(string(content), "\n")
	for i, line := range lines {
		for _, rule := range secretRules {
			if rule.re.MatchString(line) {
				out = append(out, domain.Finding{
					File:     name,
					Line:     i + 1,
					Rule:     rule.name,
					Severity: rule.severity,
				})
			}
		}
	}
	return out
}

// parseExternalReport reads findings from a scanner report. The report
// format is `{"findings": [{"file", "line", "rule", "severity", "message"}]}`.
func parseExternalReport(report []byte) []domain.Finding {
	if !gjson.ValidBytes(report) {
		return nil
	}
	var out []domain.Finding
	gjson.GetBytes(report, "findings").ForEach(func(_, item gjson.Result) bool {
		f := domain.Finding{
			File:     item.Get("file").String(),
			Line:     int(item.Get("line").Int()),
			Rule:     item.Get("rule").String(),
			Severity: strings.ToLower(item.Get("severity").String()),
			Detail:   item.Get("message").String(),
		}
		if f.Rule == "" || f.Severity == "" {
			return true
		}
		out = append(out, f)
		return true
	})
	return out
}
