package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStateNotFound is returned when a state nonce is unknown or expired.
var ErrStateNotFound = errors.New("state not found")

// Locker is a TTL-based mutual exclusion primitive shared across service
// instances. TryLock returns false when another holder owns the key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Locked(ctx context.Context, key string) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// StateStore keeps short-lived connect-handshake state nonces mapped to the
// mode they were issued for.
type StateStore interface {
	Put(ctx context.Context, state, mode string, ttl time.Duration) error
	Get(ctx context.Context, state string) (string, error)
}

const keyPrefix = "rzp-link:"

// RedisCache implements Locker and StateStore on a shared redis instance.
type RedisCache struct {
	client *redis.Client
}

var (
	_ Locker     = (*RedisCache)(nil)
	_ StateStore = (*RedisCache)(nil)
)

// NewRedisCache creates a cache around an existing redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, keyPrefix+key, "1", ttl).Result()
}

func (c *RedisCache) Locked(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, keyPrefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *RedisCache) Unlock(ctx context.Context, key string) error {
	return c.client.Del(ctx, keyPrefix+key).Err()
}

func (c *RedisCache) Put(ctx context.Context, state, mode string, ttl time.Duration) error {
	return c.client.Set(ctx, keyPrefix+"state:"+state, mode, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, state string) (string, error) {
	mode, err := c.client.Get(ctx, keyPrefix+"state:"+state).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrStateNotFound
	}
	return mode, err
}

// MemoryCache is an in-process Locker/StateStore for single-node deployments
// and tests.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	states  map[string]stateEntry
	now     func() time.Time
}

type stateEntry struct {
	mode      string
	expiresAt time.Time
}

var (
	_ Locker     = (*MemoryCache)(nil)
	_ StateStore = (*MemoryCache)(nil)
)

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]time.Time),
		states:  make(map[string]stateEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if exp, ok := c.entries[key]; ok && now.Before(exp) {
		return false, nil
	}
	c.entries[key] = now.Add(ttl)
	return true, nil
}

func (c *MemoryCache) Locked(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	exp, ok := c.entries[key]
	return ok && c.now().Before(exp), nil
}

func (c *MemoryCache) Unlock(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *MemoryCache) Put(_ context.Context, state, mode string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[state] = stateEntry{mode: mode, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Get(_ context.Context, state string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.states[state]
	if !ok || c.now().After(entry.expiresAt) {
		return "", ErrStateNotFound
	}
	return entry.mode, nil
}
