// Package system manages the lifecycle of background components.
package system

import (
	"context"
	"fmt"

	"github.com/agenthub/marketplace/internal/logging"
)

// Service represents a lifecycle-managed component. Background modules
// implement this interface so the manager can start and stop them
// deterministically.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Manager starts registered services in order and stops them in reverse.
type Manager struct {
	services []Service
	started  []Service
	logger   *logging.Logger
}

// NewManager creates an empty manager.
func NewManager(logger *logging.Logger) *Manager {
	return &Manager{logger: logger}
}

// Register appends services to the start order.
func (m *Manager) Register(services ...Service) {
	m.services = append(m.services, services...)
}

// Start starts every registered service. On failure the already started
// services are stopped before the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	for _, svc := range m.services {
		m.logger.WithField("service", svc.Name()).Info("Starting service")
		if err := svc.Start(ctx); err != nil {
			m.logger.WithField("service", svc.Name()).WithError(err).Error("Service failed to start")
			m.stopStarted(ctx)
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
		m.started = append(m.started, svc)
	}
	return nil
}

// Stop stops every started service in reverse order. The first error is
// returned, but all services are attempted.
func (m *Manager) Stop(ctx context.Context) error {
	var firstErr error
	for i := len(m.started) - 1; i >= 0; i-- {
		svc := m.started[i]
		m.logger.WithField("service", svc.Name()).Info("Stopping service")
		if err := svc.Stop(ctx); err != nil {
			m.logger.WithField("service", svc.Name()).WithError(err).Error("Service failed to stop")
			if firstErr == nil {
				firstErr = fmt.Errorf("stop %s: %w", svc.Name(), err)
			}
		}
	}
	m.started = nil
	return firstErr
}

func (m *Manager) stopStarted(ctx context.Context) {
	for i := len(m.started) - 1; i >= 0; i-- {
		_ = m.started[i].Stop(ctx)
	}
	m.started = nil
}
