package cache

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type RedisRevocationCache struct {
	client *redis.Client
}

func NewRedisRevocationCache(addr string, password string, db int) *RedisRevocationCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisRevocationCache{client: client}
}

func (c *RedisRevocationCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisRevocationCache) Close() error {
	return c.client.Close()
}

func (c *RedisRevocationCache) IsRevoked(ctx context.Context, tokenID string) (bool, bool, error) {
	val, err := c.client.Get(ctx, revocationKey(tokenID)).Result()
	if err == redis.Nil {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return val == "1", true, nil
}

func (c *RedisRevocationCache) MarkRevoked(ctx context.Context, tokenID string, ttl time.Duration) error {
	return c.client.Set(ctx, revocationKey(tokenID), "1", ttl).Err()
}

func revocationKey(tokenID string) string {
	return "entitlement:revoked:" + tokenID
}
