package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheVersionKey = "dashboard:cache:version"
	// InvalidationChannel carries cache version bumps between instances.
	InvalidationChannel = "dashboard.invalidate"
	// DefaultCacheTTL is used when no TTL is configured.
	DefaultCacheTTL = 5 * time.Minute
)

// Cache stores serialized dashboard results.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Invalidate(ctx context.Context) error
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// MemoryCache is a process-wide TTL map.
type MemoryCache struct {
	mu        sync.Mutex
	items     map[string]memoryEntry
	ttl       time.Duration
	now       func() time.Time
	broadcast *redis.Client
}

// NewMemoryCache builds an in-memory cache.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryCache{items: make(map[string]memoryEntry), ttl: ttl, now: time.Now}
}

// WithBroadcast publishes invalidations on Redis so other instances purge too.
func (c *MemoryCache) WithBroadcast(client *redis.Client) *MemoryCache {
	c.broadcast = client
	return c
}

// Get returns a live entry.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.items[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(entry.expires) {
		delete(c.items, key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set stores value until the TTL elapses.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = memoryEntry{value: value, expires: c.now().Add(c.ttl)}
	return nil
}

// Invalidate drops every entry and notifies peers when broadcasting.
func (c *MemoryCache) Invalidate(ctx context.Context) error {
	c.Purge()
	if c.broadcast == nil {
		return nil
	}
	return c.broadcast.Publish(ctx, InvalidationChannel, "purge").Err()
}

// Purge drops every entry locally.
func (c *MemoryCache) Purge() {
	c.mu.Lock()
	c.items = make(map[string]memoryEntry)
	c.mu.Unlock()
}

// Len reports the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// RedisCache keeps results in Redis under a global version so invalidation is
// a single INCR.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache instantiates the Redis backed cache.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *RedisCache) Version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
		if err := c.client.Set(ctx, cacheVersionKey, ver, 0).Err(); err != nil {
			return 0, err
		}
	}
	return ver, nil
}

func (c *RedisCache) versioned(ctx context.Context, key string) (string, error) {
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:v%d", key, ver), nil
}

// Get loads a cached payload.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	vkey, err := c.versioned(ctx, key)
	if err != nil {
		return nil, false, err
	}
	payload, err := c.client.Get(ctx, vkey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// Set stores a payload under the current version.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte) error {
	vkey, err := c.versioned(ctx, key)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, vkey, value, c.ttl).Err()
}

// Invalidate bumps the version and publishes the new value.
func (c *RedisCache) Invalidate(ctx context.Context) error {
	ver, err := c.client.Incr(ctx, cacheVersionKey).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, InvalidationChannel, strconv.FormatInt(ver, 10)).Err()
}

// ListenForInvalidation calls onBump for every invalidation published by any
// instance until ctx is done.
func ListenForInvalidation(ctx context.Context, client *redis.Client, onBump func()) error {
	if client == nil || onBump == nil {
		return nil
	}
	pubsub := client.Subscribe(ctx, InvalidationChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				onBump()
			}
		}
	}()
	return nil
}
