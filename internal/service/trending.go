package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bookhaven/bookhaven-server/internal/cache"
	"github.com/bookhaven/bookhaven-server/internal/domain"
	"github.com/bookhaven/bookhaven-server/internal/store"
)

// TrendingWindow is how far back the trending computation looks.
const TrendingWindow = 30 * 24 * time.Hour

const trendingCacheKey = "trending"

// TrendingEntry pairs a title with its recent loan count.
type TrendingEntry struct {
	Title *domain.Title `json:"title"`
	Loans int           `json:"loans"`
}

// TrendingService computes the most-borrowed titles over a rolling window.
// The aggregation scans the loans table, so results are memoized in the TTL
// cache and allowed to go slightly stale.
type TrendingService struct {
	store  store.Store
	cache  *cache.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewTrendingService creates a new trending service. Results are cached
// for ttl.
func NewTrendingService(st store.Store, c *cache.Cache, ttl time.Duration, logger *slog.Logger) *TrendingService {
	return &TrendingService{
		store:  st,
		cache:  c,
		ttl:    ttl,
		logger: logger,
	}
}

// Trending returns up to limit titles ranked by loans over TrendingWindow.
func (s *TrendingService) Trending(ctx context.Context, limit int) ([]TrendingEntry, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}

	key := fmt.Sprintf("%s:%d", trendingCacheKey, limit)

	var cached []TrendingEntry
	hit, err := s.cache.GetJSON(key, &cached)
	if err != nil {
		// A broken cache only costs a recompute.
		s.logger.Warn("trending cache read failed", "error", err)
	}
	if hit {
		return cached, nil
	}

	counts, err := s.store.RecentLoanCounts(ctx, time.Now().Add(-TrendingWindow), limit)
	if err != nil {
		return nil, fmt.Errorf("recent loan counts: %w", err)
	}

	entries := make([]TrendingEntry, 0, len(counts))
	for _, c := range counts {
		title, err := s.store.GetTitle(ctx, c.TitleID)
		if err != nil {
			s.logger.Warn("trending title lookup failed", "title_id", c.TitleID, "error", err)
			continue
		}
		entries = append(entries, TrendingEntry{Title: title, Loans: c.Loans})
	}

	if err := s.cache.SetJSON(key, entries, s.ttl); err != nil {
		s.logger.Warn("trending cache write failed", "error", err)
	}
	return entries, nil
}
