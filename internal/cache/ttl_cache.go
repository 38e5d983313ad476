// Package cache provides an in-memory cache whose entries expire after a
// fixed time to live. A background janitor evicts expired entries; reads
// never return an expired value even before the janitor has run.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/star/guidestar/internal/metrics"
)

// Config holds cache configuration.
type Config struct {
	Name       string        // metrics label
	TTL        time.Duration // entry lifetime (default: 24h)
	MaxEntries int           // oldest entries are dropped beyond this (default: 1024)
	Sweep      time.Duration // janitor interval (default: 1m)
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = 1024
	}
	if c.Sweep <= 0 {
		c.Sweep = time.Minute
	}
	if c.Name == "" {
		c.Name = "default"
	}
	return c
}

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// TTL is a keyed cache with expiring entries. Safe for concurrent use.
type TTL[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]*entry[V]

	config Config
	logger *slog.Logger
	now    func() time.Time

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// New creates a TTL cache.
func New[K comparable, V any](config Config, logger *slog.Logger) *TTL[K, V] {
	config = config.withDefaults()
	logger.Info("cache initialized",
		"cache", config.Name,
		"ttl_seconds", config.TTL.Seconds(),
		"max_entries", config.MaxEntries,
	)
	return &TTL[K, V]{
		entries: make(map[K]*entry[V]),
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

// Get returns the cached value for key if present and not expired.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && c.now().Sub(e.storedAt) < c.config.TTL {
		c.hits.Add(1)
		metrics.IncCacheHits(c.config.Name)
		return e.value, true
	}

	c.misses.Add(1)
	metrics.IncCacheMisses(c.config.Name)
	var zero V
	return zero, false
}

// Put stores value under key, dropping the oldest entry when full.
func (c *TTL[K, V]) Put(key K, value V) {
	c.mu.Lock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.config.MaxEntries {
		c.dropOldestLocked()
	}
	c.entries[key] = &entry[V]{value: value, storedAt: c.now()}
	n := len(c.entries)
	c.mu.Unlock()

	metrics.SetCacheEntries(c.config.Name, n)
}

// dropOldestLocked evicts the least recently stored entry. Caller holds mu.
func (c *TTL[K, V]) dropOldestLocked() {
	var (
		oldestKey K
		oldest    time.Time
		found     bool
	)
	for k, e := range c.entries {
		if !found || e.storedAt.Before(oldest) {
			oldestKey, oldest, found = k, e.storedAt, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
		c.evictions.Add(1)
		metrics.AddCacheEvictions(c.config.Name, 1)
	}
}

// EvictExpired removes entries older than the TTL and returns how many
// were removed.
func (c *TTL[K, V]) EvictExpired() int {
	cutoff := c.now().Add(-c.config.TTL)
	var removed int

	c.mu.Lock()
	for k, e := range c.entries {
		if !e.storedAt.After(cutoff) {
			delete(c.entries, k)
			removed++
		}
	}
	n := len(c.entries)
	c.mu.Unlock()

	if removed > 0 {
		c.evictions.Add(int64(removed))
		metrics.AddCacheEvictions(c.config.Name, removed)
		metrics.SetCacheEntries(c.config.Name, n)
		c.logger.Debug("cache eviction", "cache", c.config.Name, "entries_removed", removed)
	}
	return removed
}

// Start runs the janitor until ctx is cancelled.
func (c *TTL[K, V]) Start(ctx context.Context) {
	ticker := time.NewTicker(c.config.Sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("cache janitor stopped", "cache", c.config.Name)
			return
		case <-ticker.C:
			c.EvictExpired()
		}
	}
}

// Stats holds cache statistics.
type Stats struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// Stats returns current cache statistics.
func (c *TTL[K, V]) Stats() Stats {
	c.mu.RLock()
	count := len(c.entries)
	c.mu.RUnlock()

	return Stats{
		Entries:   count,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}
