// Package session keeps authenticated identities in process memory so hot
// paths skip the database. Entries live for a fixed idle TTL; reads refresh
// the clock, expired entries are dropped lazily on access and by a periodic
// sweep.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"okanassist/internal/metrics"
	"okanassist/internal/repo"
)

type entry struct {
	identity     *repo.Identity
	lastActivity time.Time
}

// Cache is an in-memory session store keyed by telegram id. Safe for
// concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry

	ttl        time.Duration
	sweepEvery time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// now is swapped in tests to exercise expiry without sleeping.
	now func() time.Time
}

// New builds a cache with the given idle TTL and sweep interval.
func New(ttl, sweepEvery time.Duration, logger *slog.Logger, m *metrics.Metrics) *Cache {
	return &Cache{
		entries:    make(map[string]*entry),
		ttl:        ttl,
		sweepEvery: sweepEvery,
		logger:     logger.With("component", "session"),
		metrics:    m,
		now:        time.Now,
	}
}

// Get returns the cached identity for a telegram id. A hit refreshes the
// entry's idle clock; an expired entry is evicted and reported as a miss.
func (c *Cache) Get(telegramID string) (*repo.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[telegramID]
	if !ok {
		return nil, false
	}
	now := c.now()
	if now.Sub(e.lastActivity) > c.ttl {
		delete(c.entries, telegramID)
		c.metrics.SessionsEvicted.WithLabelValues("expired").Inc()
		return nil, false
	}
	e.lastActivity = now
	return e.identity, true
}

// Put stores or replaces the identity for a telegram id.
func (c *Cache) Put(telegramID string, id *repo.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[telegramID]; !exists {
		c.metrics.SessionsCreated.Inc()
	}
	c.entries[telegramID] = &entry{identity: id, lastActivity: c.now()}
}

// Invalidate drops sessions for the given telegram ids, typically after a
// premium upgrade or settings change so the next access rebuilds them.
func (c *Cache) Invalidate(telegramIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range telegramIDs {
		if _, ok := c.entries[id]; ok {
			delete(c.entries, id)
			c.metrics.SessionsEvicted.WithLabelValues("invalidated").Inc()
		}
	}
}

// IsValid reports whether a live, authenticated session exists without
// refreshing its idle clock.
func (c *Cache) IsValid(telegramID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[telegramID]
	if !ok {
		return false
	}
	if c.now().Sub(e.lastActivity) > c.ttl {
		delete(c.entries, telegramID)
		c.metrics.SessionsEvicted.WithLabelValues("expired").Inc()
		return false
	}
	return e.identity.Authenticated
}

// Len reports the number of cached sessions, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Start runs the periodic sweep until ctx is cancelled.
func (c *Cache) Start(ctx context.Context) {
	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.sweep(); n > 0 {
				c.logger.Debug("swept expired sessions", "count", n)
			}
		}
	}
}

func (c *Cache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	evicted := 0
	for id, e := range c.entries {
		if now.Sub(e.lastActivity) > c.ttl {
			delete(c.entries, id)
			evicted++
		}
	}
	if evicted > 0 {
		c.metrics.SessionsEvicted.WithLabelValues("expired").Add(float64(evicted))
	}
	return evicted
}
