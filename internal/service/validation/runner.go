package validation

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/agenthub/marketplace/internal/blobstore"
	domain "github.com/agenthub/marketplace/internal/domain/validation"
	"github.com/agenthub/marketplace/internal/metrics"
)

// Runner executes the full pipeline against a stored bundle. Quality
// and smoke checks run only when the security scan passes.
type Runner struct {
	blobs   blobstore.Store
	scanner *Scanner
	quality *QualityChecker
	smoke   *SmokeTester
}

func NewRunner(blobs blobstore.Store, scanner *Scanner, quality *QualityChecker, smoke *SmokeTester) *Runner {
	return &Runner{blobs: blobs, scanner: scanner, quality: quality, smoke: smoke}
}

// Outcome is the aggregate pipeline verdict for one bundle.
type Outcome struct {
	Status         string
	Checks         []domain.CheckResult
	SecurityPassed bool
	QualityScore   int
	Error          string
}

// Passed reports whether every executed check passed.
func (o Outcome) Passed() bool { return o.Status == domain.StatusPassed }

// Run downloads the bundle and executes the checks. A broken bundle is
// a failed run, an unreachable store is an error the caller may retry.
func (r *Runner) Run(ctx context.Context, storageKey string) (Outcome, error) {
	data, err := r.fetch(ctx, storageKey)
	if err != nil {
		return Outcome{Status: domain.StatusError, Error: err.Error()}, err
	}

	bundle, err := OpenBundle(data)
	if err != nil {
		return Outcome{
			Status: domain.StatusFailed,
			Error:  fmt.Sprintf("invalid bundle: %v", err),
		}, nil
	}

	security := r.runCheck(bundle, domain.CheckSecurity, r.scanner.Scan)
	checks := []domain.CheckResult{security}

	out := Outcome{SecurityPassed: security.Passed}
	if security.Passed {
		quality := r.runCheck(bundle, domain.CheckQuality, r.quality.Check)
		smoke := r.runCheck(bundle, domain.CheckSmoke, r.smoke.Run)
		checks = append(checks, quality, smoke)
		out.QualityScore = quality.Score
	} else {
		checks = append(checks,
			skippedCheck(domain.CheckQuality),
			skippedCheck(domain.CheckSmoke),
		)
	}

	out.Checks = checks
	out.Status = domain.StatusPassed
	for _, c := range checks {
		if !c.Skipped && !c.Passed {
			out.Status = domain.StatusFailed
			break
		}
	}
	return out, nil
}

func (r *Runner) fetch(ctx context.Context, storageKey string) ([]byte, error) {
	rc, err := r.blobs.Download(ctx, storageKey)
	if err != nil {
		return nil, fmt.Errorf("download bundle %s: %w", storageKey, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read bundle %s: %w", storageKey, err)
	}
	return data, nil
}

func (r *Runner) runCheck(b *Bundle, name string, fn func(*Bundle) domain.CheckResult) domain.CheckResult {
	started := time.Now()
	result := fn(b)
	metrics.RecordValidationCheck(name, time.Since(started))
	return result
}

func skippedCheck(name string) domain.CheckResult {
	return domain.CheckResult{
		Name:    name,
		Skipped: true,
		Output:  "skipped, security scan failed",
	}
}
