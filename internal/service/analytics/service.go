// Package analytics computes platform statistics and trending agents.
package analytics

import (
	"context"
	stderrors "errors"
	"sort"
	"time"

	"github.com/agenthub/marketplace/internal/cache"
	"github.com/agenthub/marketplace/internal/domain/agent"
	"github.com/agenthub/marketplace/internal/errors"
	"github.com/agenthub/marketplace/internal/logging"
	"github.com/agenthub/marketplace/internal/storage"
)

const (
	statsCacheKey = "analytics:platform_stats"
	statsCacheTTL = 5 * time.Minute

	activityWindow = 30 * 24 * time.Hour

	defaultTrendingLimit = 10
	maxTrendingLimit     = 50
)

// Timeframes accepted by Trending.
var timeframes = map[string]time.Duration{
	"hour":  time.Hour,
	"day":   24 * time.Hour,
	"week":  7 * 24 * time.Hour,
	"month": 30 * 24 * time.Hour,
}

// Service computes marketplace analytics. Platform stats are cached
// because every landing page hits them.
type Service struct {
	store  storage.Store
	cache  cache.Cache
	logger *logging.Logger
}

func New(store storage.Store, c cache.Cache, logger *logging.Logger) *Service {
	return &Service{store: store, cache: c, logger: logger}
}

// PlatformStats is the aggregate counters surface.
type PlatformStats struct {
	TotalAgents        int64            `json:"total_agents"`
	ValidatedAgents    int64            `json:"validated_agents"`
	PendingAgents      int64            `json:"pending_agents"`
	TotalUsers         int64            `json:"total_users"`
	ActiveUsers        int64            `json:"active_users"`
	TotalDownloads     int64            `json:"total_downloads"`
	RecentDownloads    int64            `json:"recent_downloads"`
	ValidationsByState map[string]int64 `json:"validations_by_state"`
	GeneratedAt        time.Time        `json:"generated_at"`
}

// Stats returns platform counters, from cache when fresh.
func (s *Service) Stats(ctx context.Context) (PlatformStats, error) {
	var cached PlatformStats
	if err := s.cache.GetJSON(ctx, statsCacheKey, &cached); err == nil {
		return cached, nil
	} else if !stderrors.Is(err, cache.ErrMiss) {
		s.logger.WithContext(ctx).WithError(err).Warn("Stats cache read failed")
	}
	return s.RefreshStats(ctx)
}

// RefreshStats recomputes platform counters and rewrites the cache.
func (s *Service) RefreshStats(ctx context.Context) (PlatformStats, error) {
	since := time.Now().Add(-activityWindow)

	totalAgents, validated, pending, err := s.store.CountAgents(ctx)
	if err != nil {
		return PlatformStats{}, errors.Internal("count agents", err)
	}
	totalUsers, activeUsers, err := s.store.CountUsers(ctx, since)
	if err != nil {
		return PlatformStats{}, errors.Internal("count users", err)
	}
	totalDownloads, recentDownloads, err := s.store.SumDownloads(ctx, since)
	if err != nil {
		return PlatformStats{}, errors.Internal("sum downloads", err)
	}
	byStatus, err := s.store.CountRunsByStatus(ctx)
	if err != nil {
		return PlatformStats{}, errors.Internal("count validation runs", err)
	}

	stats := PlatformStats{
		TotalAgents:        totalAgents,
		ValidatedAgents:    validated,
		PendingAgents:      pending,
		TotalUsers:         totalUsers,
		ActiveUsers:        activeUsers,
		TotalDownloads:     totalDownloads,
		RecentDownloads:    recentDownloads,
		ValidationsByState: byStatus,
		GeneratedAt:        time.Now().UTC(),
	}
	if err := s.cache.SetJSON(ctx, statsCacheKey, stats, statsCacheTTL); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Stats cache write failed")
	}
	return stats, nil
}

// TrendingAgent is an agent with its computed trend score.
type TrendingAgent struct {
	Agent           agent.Agent `json:"agent"`
	Score           float64     `json:"score"`
	TrendScore      float64     `json:"trend_score"`
	DownloadsChange string      `json:"downloads_change"`
}

// Trending ranks agents by downloads weighted with stars over the
// timeframe. Scores are normalized against the top entry.
func (s *Service) Trending(ctx context.Context, timeframe string, limit int) ([]TrendingAgent, error) {
	if timeframe == "" {
		timeframe = "week"
	}
	if _, ok := timeframes[timeframe]; !ok {
		return nil, errors.InvalidInput("timeframe must be hour, day, week or month")
	}
	if limit <= 0 || limit > maxTrendingLimit {
		limit = defaultTrendingLimit
	}

	agents, err := s.store.ListAgents(ctx, agent.ListFilter{Sort: agent.SortDownloads, Limit: maxTrendingLimit})
	if err != nil {
		return nil, errors.Internal("list agents", err)
	}

	ranked := make([]TrendingAgent, 0, len(agents))
	var top float64
	for _, a := range agents {
		score := float64(a.Downloads) + 2*float64(a.Stars)
		if score > top {
			top = score
		}
		ranked = append(ranked, TrendingAgent{Agent: a, Score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	for i := range ranked {
		if top > 0 {
			ranked[i].TrendScore = ranked[i].Score / top
		}
		ranked[i].DownloadsChange = changeLabel(ranked[i].TrendScore)
	}
	return ranked, nil
}

// Popular returns the most downloaded validated agents.
func (s *Service) Popular(ctx context.Context, limit int) ([]agent.Agent, error) {
	if limit <= 0 || limit > maxTrendingLimit {
		limit = defaultTrendingLimit
	}
	out, err := s.store.ListAgents(ctx, agent.ListFilter{Sort: agent.SortDownloads, Limit: limit})
	if err != nil {
		return nil, errors.Internal("list agents", err)
	}
	return out, nil
}

func changeLabel(trendScore float64) string {
	switch {
	case trendScore >= 0.66:
		return "rising"
	case trendScore >= 0.33:
		return "steady"
	default:
		return "cooling"
	}
}
