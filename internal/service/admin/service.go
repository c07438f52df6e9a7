// Package admin implements the moderation and operations surface.
package admin

import (
	"context"
	stderrors "errors"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/agenthub/marketplace/internal/domain/agent"
	"github.com/agenthub/marketplace/internal/domain/user"
	"github.com/agenthub/marketplace/internal/errors"
	"github.com/agenthub/marketplace/internal/logging"
	"github.com/agenthub/marketplace/internal/storage"
)

// Service carries the admin operations. Role enforcement happens in
// the API layer, every caller here is already an admin.
type Service struct {
	store   storage.Store
	logger  *logging.Logger
	started time.Time
}

func New(store storage.Store, logger *logging.Logger) *Service {
	return &Service{store: store, logger: logger, started: time.Now()}
}

// ListAgents returns agents including private and unvalidated ones.
func (s *Service) ListAgents(ctx context.Context, filter agent.ListFilter) ([]agent.Agent, error) {
	filter.IncludePrivate = true
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	out, err := s.store.ListAgents(ctx, filter)
	if err != nil {
		return nil, errors.Internal("list agents", err)
	}
	return out, nil
}

// AgentUpdate force-sets moderation fields on an agent.
type AgentUpdate struct {
	Public    *bool
	Validated *bool
	Category  *string
}

// UpdateAgent applies a moderation update.
func (s *Service) UpdateAgent(ctx context.Context, slug string, in AgentUpdate) (agent.Agent, error) {
	a, err := s.agentBySlug(ctx, slug)
	if err != nil {
		return agent.Agent{}, err
	}
	if in.Public != nil {
		a.Public = *in.Public
	}
	if in.Validated != nil {
		a.Validated = *in.Validated
	}
	updated, err := s.store.UpdateAgent(ctx, a)
	if err != nil {
		return agent.Agent{}, errors.Internal("update agent", err)
	}
	if in.Category != nil {
		if err := s.setCategory(ctx, a.ID, *in.Category); err != nil {
			return agent.Agent{}, err
		}
		if err := s.store.RecountCategories(ctx); err != nil {
			s.logger.WithContext(ctx).WithError(err).Warn("Category recount failed")
		}
	}
	return updated, nil
}

// DeleteAgent removes any agent regardless of ownership.
func (s *Service) DeleteAgent(ctx context.Context, slug string) error {
	a, err := s.agentBySlug(ctx, slug)
	if err != nil {
		return err
	}
	if err := s.store.DeleteAgent(ctx, a.ID); err != nil {
		return errors.Internal("delete agent", err)
	}
	s.logger.LogSecurityEvent(ctx, "admin_agent_deleted", map[string]interface{}{
		"agent_id": a.ID,
		"slug":     a.Slug,
	})
	return nil
}

// BulkCategory assigns one category to many agents at once.
func (s *Service) BulkCategory(ctx context.Context, categorySlug string, agentSlugs []string) (int, error) {
	if len(agentSlugs) == 0 {
		return 0, errors.InvalidInput("agents are required")
	}
	cat, err := s.store.GetCategoryBySlug(ctx, categorySlug)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return 0, errors.NotFound("category", categorySlug)
		}
		return 0, errors.Internal("load category", err)
	}

	updated := 0
	for _, slug := range agentSlugs {
		a, err := s.agentBySlug(ctx, slug)
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).WithField("slug", slug).Warn("Bulk category skip")
			continue
		}
		if err := s.store.SetAgentCategories(ctx, a.ID, []string{cat.ID}); err != nil {
			s.logger.WithContext(ctx).WithError(err).WithField("slug", slug).Warn("Bulk category failed")
			continue
		}
		updated++
	}
	if err := s.store.RecountCategories(ctx); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Category recount failed")
	}
	return updated, nil
}

// ListUsers pages through all accounts.
func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]user.User, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	out, err := s.store.ListUsers(ctx, limit, offset)
	if err != nil {
		return nil, errors.Internal("list users", err)
	}
	return out, nil
}

// UserUpdate carries the moderation fields of an account.
type UserUpdate struct {
	Blocked *bool
	Role    *string
}

// UpdateUser blocks, unblocks or changes the role of an account.
// Admins cannot demote or block themselves.
func (s *Service) UpdateUser(ctx context.Context, username, actorID string, in UserUpdate) (user.User, error) {
	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return user.User{}, errors.NotFound("user", username)
		}
		return user.User{}, errors.Internal("load user", err)
	}
	if u.ID == actorID {
		return user.User{}, errors.InvalidInput("admins cannot moderate their own account")
	}

	if in.Role != nil {
		if *in.Role != user.RoleUser && *in.Role != user.RoleAdmin {
			return user.User{}, errors.InvalidInput("unknown role " + *in.Role)
		}
		u.Role = *in.Role
	}
	if in.Blocked != nil {
		u.Blocked = *in.Blocked
	}

	updated, err := s.store.UpdateUser(ctx, u)
	if err != nil {
		return user.User{}, errors.Internal("update user", err)
	}
	s.logger.LogSecurityEvent(ctx, "admin_user_updated", map[string]interface{}{
		"user_id": u.ID,
		"blocked": u.Blocked,
		"role":    u.Role,
	})
	return updated, nil
}

// SystemStats reports process and host resource usage.
type SystemStats struct {
	Uptime          string  `json:"uptime"`
	Goroutines      int     `json:"goroutines"`
	ProcessCPU      float64 `json:"process_cpu_percent"`
	ProcessMemoryMB float64 `json:"process_memory_mb"`
	HostCPU         float64 `json:"host_cpu_percent"`
	HostMemoryUsed  float64 `json:"host_memory_used_percent"`
	HostUptime      uint64  `json:"host_uptime_seconds"`
}

// System gathers live resource stats for the admin dashboard.
func (s *Service) System(ctx context.Context) (SystemStats, error) {
	stats := SystemStats{
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
	}

	if proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if pct, err := proc.CPUPercentWithContext(ctx); err == nil {
			stats.ProcessCPU = pct
		}
		if info, err := proc.MemoryInfoWithContext(ctx); err == nil {
			stats.ProcessMemoryMB = float64(info.RSS) / (1 << 20)
		}
	}
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		stats.HostCPU = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.HostMemoryUsed = vm.UsedPercent
	}
	if up, err := host.UptimeWithContext(ctx); err == nil {
		stats.HostUptime = up
	}
	return stats, nil
}

// setCategory replaces the agent's category assignment. An empty slug
// clears it.
func (s *Service) setCategory(ctx context.Context, agentID, categorySlug string) error {
	if categorySlug == "" {
		if err := s.store.SetAgentCategories(ctx, agentID, nil); err != nil {
			return errors.Internal("clear categories", err)
		}
		return nil
	}
	cat, err := s.store.GetCategoryBySlug(ctx, categorySlug)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return errors.NotFound("category", categorySlug)
		}
		return errors.Internal("load category", err)
	}
	if err := s.store.SetAgentCategories(ctx, agentID, []string{cat.ID}); err != nil {
		return errors.Internal("assign category", err)
	}
	return nil
}

func (s *Service) agentBySlug(ctx context.Context, slug string) (agent.Agent, error) {
	a, err := s.store.GetAgentBySlug(ctx, slug)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return agent.Agent{}, errors.NotFound("agent", slug)
		}
		return agent.Agent{}, errors.Internal("load agent", err)
	}
	return a, nil
}
