package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iho/goescrow/internal/usecase"
)

const cachePrefix = "escrow:cache:"

// Cache is the shared read-through cache for collaborator answers such as
// display profiles. Every instance sees the same entries.
type Cache struct {
	client *redis.Client
	prefix string
}

var _ usecase.Cache = (*Cache)(nil)

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client, prefix: cachePrefix}
}

// Get returns usecase.ErrCacheMiss for absent or expired keys.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, usecase.ErrCacheMiss
	}
	return val, err
}

// Set stores value for ttl. A zero ttl never expires.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.prefix+key, value, ttl).Err()
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.prefix+key).Err()
}
