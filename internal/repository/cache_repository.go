package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/scholarflow-api/pkg/errors"
)

const cacheNamespace = "scholarflow:"

type cacheEntry struct {
	payload   []byte
	expiresAt time.Time
}

// CacheRepository stores JSON values in Redis, or in process memory when no client is configured.
type CacheRepository struct {
	client *redis.Client
	logger *zap.Logger

	mu    sync.Mutex
	local map[string]cacheEntry
	now   func() time.Time
}

// NewCacheRepository constructs a cache repository. client may be nil.
func NewCacheRepository(client *redis.Client, logger *zap.Logger) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheRepository{
		client: client,
		logger: logger,
		local:  make(map[string]cacheEntry),
		now:    time.Now,
	}
}

// Backend names the active storage for diagnostics.
func (r *CacheRepository) Backend() string {
	if r.client == nil {
		return "memory"
	}
	return "redis"
}

// Get unmarshals the cached value into dest or returns appErrors.ErrCacheMiss.
func (r *CacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	key = cacheNamespace + key
	var raw []byte
	if r.client == nil {
		r.mu.Lock()
		entry, ok := r.local[key]
		if ok && !r.now().Before(entry.expiresAt) {
			delete(r.local, key)
			ok = false
		}
		r.mu.Unlock()
		if !ok {
			return appErrors.ErrCacheMiss
		}
		raw = entry.payload
	} else {
		var err error
		raw, err = r.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return appErrors.ErrCacheMiss
			}
			return fmt.Errorf("redis get %s: %w", key, err)
		}
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}
	return nil
}

// Set marshals value and stores it for ttl.
func (r *CacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	key = cacheNamespace + key
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}
	if r.client == nil {
		r.mu.Lock()
		r.local[key] = cacheEntry{payload: payload, expiresAt: r.now().Add(ttl)}
		r.mu.Unlock()
		return nil
	}
	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// DeleteByPattern removes entries whose key matches the glob pattern.
func (r *CacheRepository) DeleteByPattern(ctx context.Context, pattern string) error {
	pattern = cacheNamespace + pattern
	if r.client == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		for key := range r.local {
			if ok, _ := path.Match(pattern, key); ok {
				delete(r.local, key)
			}
		}
		return nil
	}

	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if err := r.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("redis delete %s: %w", key, err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan pattern %s: %w", pattern, err)
	}
	return nil
}

// Close releases the Redis connection if present.
func (r *CacheRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
