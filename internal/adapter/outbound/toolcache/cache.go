package toolcache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oasbridge/oasbridge/internal/domain"
)

// DefaultTTL is how long a compiled tool set is considered fresh.
const DefaultTTL = 5 * time.Minute

// Key identifies one cached tool set.
type Key struct {
	Source string // source document URL
	Filter string // normalized filter key (domain.FilterKey)
}

type entry struct {
	tools     []domain.Tool
	fetchedAt time.Time
}

// Cache memoizes compiled tool sets per (source URL, filter) with a TTL.
// A failed refresh falls back to the previous value regardless of its age:
// availability is prioritized over freshness. Entries are never evicted,
// only superseded by a newer successful refresh.
//
// The lock is not held across a refresh, so concurrent refreshes of the
// same key may race; last successful write wins, which is harmless.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]entry
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// New creates a Cache with the given TTL (DefaultTTL when zero or
// negative).
func New(ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[Key]entry),
		ttl:     ttl,
		now:     time.Now,
		logger:  logger.With("component", "tool_cache"),
	}
}

// Get returns the cached tool set for the key, refreshing when the entry
// is missing, stale, or force is set. On refresh failure with a previous
// entry present, the stale value is returned with a warning; with no
// previous entry the failure propagates.
func (c *Cache) Get(ctx context.Context, source, filterKey string, refresh func(context.Context) ([]domain.Tool, error), force bool) ([]domain.Tool, error) {
	key := Key{Source: source, Filter: filterKey}
	log := c.logger.With(slog.String("source", source), slog.String("filter", filterKey))

	c.mu.Lock()
	cached, exists := c.entries[key]
	c.mu.Unlock()

	if exists && !force && c.now().Sub(cached.fetchedAt) <= c.ttl {
		log.Debug("Tool cache hit", slog.Int("tool_count", len(cached.tools)))
		return cached.tools, nil
	}

	tools, err := refresh(ctx)
	if err != nil {
		if exists {
			log.Warn("Tool refresh failed, serving stale cached tools",
				slog.Any("error", err),
				slog.Time("cached_at", cached.fetchedAt))
			return cached.tools, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = entry{tools: tools, fetchedAt: c.now()}
	c.mu.Unlock()

	log.Debug("Tool cache refreshed", slog.Int("tool_count", len(tools)))
	return tools, nil
}
