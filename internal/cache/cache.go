// Package cache holds hot engine artifacts: predictions for recently seen
// task text and tier-adapted pattern copies. Both are derived data, so every
// entry is safe to lose; a registry write invalidates the affected keys.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

// Entry is one cached artifact
type Entry struct {
	Key       string      `json:"key"`
	Value     interface{} `json:"value"`
	CachedAt  time.Time   `json:"cached_at"`
	ExpiresAt time.Time   `json:"expires_at"`
	Hits      int64       `json:"hits"`
}

// Config defines cache configuration
type Config struct {
	Enabled       bool          `json:"enabled"`
	DefaultTTL    time.Duration `json:"default_ttl"`
	MaxSize       int           `json:"max_size"`
	CleanupPeriod time.Duration `json:"cleanup_period"`
}

// DefaultConfig returns sensible defaults for caching
func DefaultConfig() *Config {
	return &Config{
		Enabled:       true,
		DefaultTTL:    10 * time.Minute,
		MaxSize:       4096,
		CleanupPeriod: 1 * time.Minute,
	}
}

// Backend is the interface for cache storage backends
type Backend interface {
	Get(ctx context.Context, key string) (*Entry, bool)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string)
	Clear(ctx context.Context)
	InvalidateByPrefix(ctx context.Context, prefix string) int
}

// Stats tracks cache performance
type Stats struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	Evictions    int64   `json:"evictions"`
	TotalEntries int64   `json:"total_entries"`
	HitRate      float64 `json:"hit_rate"`
}

// Cache fronts a backend; with no backend it runs fully in memory
type Cache struct {
	backend Backend
	config  *Config

	mu      sync.RWMutex
	entries map[string]*Entry
	stats   Stats
}

// New creates a new in-memory cache instance
func New(config *Config) *Cache {
	if config == nil {
		config = DefaultConfig()
	}

	c := &Cache{
		config:  config,
		entries: make(map[string]*Entry),
	}

	if config.Enabled && config.CleanupPeriod > 0 {
		go c.cleanupLoop()
	}

	return c
}

// NewWithBackend creates a cache that delegates storage to a backend,
// typically Redis so multiple engine instances share warm entries.
func NewWithBackend(backend Backend, config *Config) *Cache {
	if config == nil {
		config = DefaultConfig()
	}
	return &Cache{backend: backend, config: config}
}

// PredictionKey derives the cache key for a (task, model) prediction
func PredictionKey(taskText, modelID string) string {
	return "predict:" + hashKey(taskText+"|"+modelID)
}

// AdaptationKey derives the cache key for a tier-adapted pattern copy
func AdaptationKey(patternName, tier string) string {
	return "adapt:" + patternName + ":" + tier
}

func hashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:16])
}

// Decode copies a cached value into dest. The memory backend serves values as
// the Go types they were stored with, but backends that round-trip through
// JSON (Redis) serve generic maps; Decode re-encodes so a call site gets its
// concrete type back either way.
func Decode(cached interface{}, dest interface{}) error {
	data, err := json.Marshal(cached)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// Get retrieves a cached value if present and not expired
func (c *Cache) Get(ctx context.Context, key string) (interface{}, bool) {
	if !c.config.Enabled {
		return nil, false
	}

	if c.backend != nil {
		entry, ok := c.backend.Get(ctx, key)
		c.count(ok)
		if !ok {
			return nil, false
		}
		return entry.Value, true
	}

	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		c.count(false)
		return nil, false
	}
	if time.Now().After(entry.ExpiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		c.count(false)
		return nil, false
	}

	c.mu.Lock()
	entry.Hits++
	c.mu.Unlock()
	c.count(true)
	return entry.Value, true
}

// Set stores a value under key. A zero TTL uses the configured default.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !c.config.Enabled {
		return nil
	}
	if ttl == 0 {
		ttl = c.config.DefaultTTL
	}

	if c.backend != nil {
		return c.backend.Set(ctx, key, value, ttl)
	}

	entry := &Entry{
		Key:       key,
		Value:     value,
		CachedAt:  time.Now(),
		ExpiresAt: time.Now().Add(ttl),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.config.MaxSize {
		c.evictOldest()
	}
	c.entries[key] = entry
	return nil
}

// Delete removes an entry from the cache
func (c *Cache) Delete(ctx context.Context, key string) {
	if !c.config.Enabled {
		return
	}
	if c.backend != nil {
		c.backend.Delete(ctx, key)
		return
	}
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear removes all entries from the cache
func (c *Cache) Clear(ctx context.Context) {
	if !c.config.Enabled {
		return
	}
	if c.backend != nil {
		c.backend.Clear(ctx)
		return
	}
	c.mu.Lock()
	c.entries = make(map[string]*Entry)
	c.mu.Unlock()
}

// InvalidateByPrefix removes every entry whose key starts with prefix.
// Registry writes call this with "predict:" and "adapt:<name>" so stale
// derived data never outlives the pattern it came from.
func (c *Cache) InvalidateByPrefix(ctx context.Context, prefix string) int {
	if !c.config.Enabled {
		return 0
	}
	if c.backend != nil {
		return c.backend.InvalidateByPrefix(ctx, prefix)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// GetStats returns current cache statistics
func (c *Cache) GetStats(ctx context.Context) Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	stats.TotalEntries = int64(len(c.entries))
	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

func (c *Cache) count(hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hit {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
}

// cleanupLoop periodically removes expired entries
func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(c.config.CleanupPeriod)
	defer ticker.Stop()

	for range ticker.C {
		c.cleanup()
	}
}

func (c *Cache) cleanup() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
		}
	}
}

// evictOldest removes the oldest entry by insertion time. Caller holds c.mu.
func (c *Cache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	first := true

	for key, entry := range c.entries {
		if first || entry.CachedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.CachedAt
			first = false
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.stats.Evictions++
	}
}
