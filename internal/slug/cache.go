package slug

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache remembers name -> document id. Slug rows never change, so entries
// never need invalidation; the TTL only bounds memory.
type Cache interface {
	Get(ctx context.Context, table, name string) (id string, ok bool, err error)
	Set(ctx context.Context, table, name, id string) error
}

// RedisCache is a Cache backed by Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, ttl), nil
}

func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{client: client, prefix: "slug:", ttl: ttl}
}

func (c *RedisCache) key(table, name string) string {
	return c.prefix + table + ":" + name
}

func (c *RedisCache) Get(ctx context.Context, table, name string) (string, bool, error) {
	id, err := c.client.Get(ctx, c.key(table, name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get slug %s: %w", name, err)
	}
	return id, true, nil
}

func (c *RedisCache) Set(ctx context.Context, table, name, id string) error {
	if err := c.client.Set(ctx, c.key(table, name), id, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache slug %s: %w", name, err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
