// Package cache is a thin namespaced key/value layer over Redis. Stale
// entries fall out via TTL, so reads never see an expired value.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	redis     redis.UniversalClient
	namespace string
}

func New(namespace string, redisClient redis.UniversalClient) *Cache {
	return &Cache{
		redis:     redisClient,
		namespace: namespace,
	}
}

// Get returns the cached value, or ("", false, nil) on a miss.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.redis.Get(ctx, c.namespace+":"+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Store writes a value with a TTL.
func (c *Cache) Store(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.redis.Set(ctx, c.namespace+":"+key, value, ttl).Err()
}

// Remove deletes a key.
func (c *Cache) Remove(ctx context.Context, key string) error {
	return c.redis.Del(ctx, c.namespace+":"+key).Err()
}
