// Package validation runs the bundle validation pipeline: security
// scan, quality lint and sandboxed smoke test.
package validation

import (
	"context"
	stderrors "errors"

	domain "github.com/agenthub/marketplace/internal/domain/validation"
	"github.com/agenthub/marketplace/internal/errors"
	"github.com/agenthub/marketplace/internal/events"
	"github.com/agenthub/marketplace/internal/storage"
)

// Service answers validation run queries and hands out event
// subscriptions for live progress.
type Service struct {
	store storage.Store
	bus   *events.Bus
}

func NewService(store storage.Store, bus *events.Bus) *Service {
	return &Service{store: store, bus: bus}
}

// GetRun returns one validation run.
func (s *Service) GetRun(ctx context.Context, runID string) (domain.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return domain.Run{}, errors.NotFound("validation run", runID)
		}
		return domain.Run{}, errors.Internal("load run", err)
	}
	return run, nil
}

// LatestForVersion returns the newest run for a version.
func (s *Service) LatestForVersion(ctx context.Context, versionID string) (domain.Run, error) {
	run, err := s.store.LatestRunForVersion(ctx, versionID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return domain.Run{}, errors.NotFound("validation run", versionID)
		}
		return domain.Run{}, errors.Internal("load run", err)
	}
	return run, nil
}

// Watch subscribes to live events for one agent.
func (s *Service) Watch(agentID string) (<-chan domain.Event, func()) {
	return s.bus.Subscribe(agentID)
}
