package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"salecore/internal/domain"
)

type cachedStatus struct {
	Status   domain.PaymentStatus `json:"status"`
	CachedAt time.Time            `json:"cached_at"`
}

type RedisStatusCache struct {
	client *redis.Client
}

func NewRedisStatusCache(addr string, password string, db int) *RedisStatusCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisStatusCache{client: client}
}

func (c *RedisStatusCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisStatusCache) Close() error {
	return c.client.Close()
}

func (c *RedisStatusCache) GetStatus(ctx context.Context, key string) (domain.PaymentStatus, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	var entry cachedStatus
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return "", false, err
	}
	if !entry.Status.Valid() {
		return "", false, nil
	}
	return entry.Status, true, nil
}

func (c *RedisStatusCache) SetStatus(ctx context.Context, key string, status domain.PaymentStatus, ttl time.Duration) error {
	if !status.Valid() || ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(cachedStatus{Status: status, CachedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}
