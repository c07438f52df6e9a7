package validation

import (
	"fmt"
	"time"

	"github.com/dop251/goja"

	domain "github.com/agenthub/marketplace/internal/domain/validation"
)

// SmokeTester executes the manifest's test script in an isolated
// interpreter. The script must complete within the timeout and its
// final expression must be truthy.
type SmokeTester struct {
	timeout time.Duration
}

func NewSmokeTester(timeout time.Duration) *SmokeTester {
	return &SmokeTester{timeout: timeout}
}

var errSmokeTimeout = fmt.Errorf("smoke test timed out")

// Run executes the bundle's smoke test. Bundles without a test script
// pass with a skipped result.
func (s *SmokeTester) Run(b *Bundle) domain.CheckResult {
	started := time.Now()

	if b.Manifest.SmokeTest == "" {
		return domain.CheckResult{
			Name:     domain.CheckSmoke,
			Passed:   true,
			Skipped:  true,
			Output:   "no smoke test declared",
			Duration: time.Since(started),
		}
	}

	value, err := s.execute(string(b.File(b.Manifest.SmokeTest)))
	result := domain.CheckResult{
		Name:     domain.CheckSmoke,
		Duration: time.Since(started),
	}
	switch {
	case err != nil:
		result.Output = err.Error()
	case value == nil || !value.ToBoolean():
		result.Output = "smoke test returned a falsy value"
	default:
		result.Passed = true
		result.Output = "ok"
	}
	return result
}

func (s *SmokeTester) execute(script string) (goja.Value, error) {
	vm := goja.New()

	timer := time.AfterFunc(s.timeout, func() {
		vm.Interrupt(errSmokeTimeout)
	})
	defer timer.Stop()

	value, err := vm.RunString(script)
	if err != nil {
		if _, ok := err.(*goja.InterruptedError); ok {
			return nil, errSmokeTimeout
		}
		return nil, fmt.Errorf("script failed: %w", err)
	}
	return value, nil
}
