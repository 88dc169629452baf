package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces every cache key so the engine can share a Redis
// instance with other services.
const keyPrefix = "tapestry:cache:"

// RedisBackend stores cache entries in Redis so warm entries survive
// restarts and are shared across engine instances.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to Redis and verifies the connection
func NewRedisBackend(ctx context.Context, addr, password string, db int) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	log.Printf("[Cache] Connected to Redis at %s (db %d)", addr, db)
	return &RedisBackend{client: client}, nil
}

// Close releases the Redis connection
func (r *RedisBackend) Close() error {
	return r.client.Close()
}

func (r *RedisBackend) Get(ctx context.Context, key string) (*Entry, bool) {
	data, err := r.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		// Corrupt entry: drop it rather than serve garbage
		r.client.Del(ctx, keyPrefix+key)
		return nil, false
	}
	return &entry, true
}

func (r *RedisBackend) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	entry := Entry{
		Key:       key,
		Value:     value,
		CachedAt:  time.Now(),
		ExpiresAt: time.Now().Add(ttl),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	// Redis expiry enforces the TTL; ExpiresAt is informational
	return r.client.Set(ctx, keyPrefix+key, data, ttl).Err()
}

func (r *RedisBackend) Delete(ctx context.Context, key string) {
	r.client.Del(ctx, keyPrefix+key)
}

func (r *RedisBackend) Clear(ctx context.Context) {
	r.deleteByPattern(ctx, keyPrefix+"*")
}

func (r *RedisBackend) InvalidateByPrefix(ctx context.Context, prefix string) int {
	return r.deleteByPattern(ctx, keyPrefix+prefix+"*")
}

// deleteByPattern scans rather than KEYS so a large keyspace never blocks
// the Redis server.
func (r *RedisBackend) deleteByPattern(ctx context.Context, match string) int {
	removed := 0
	iter := r.client.Scan(ctx, 0, match, 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err == nil {
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		log.Printf("[Cache] Warning: redis scan failed: %v", err)
	}
	return removed
}
