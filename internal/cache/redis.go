package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisProvider implements Provider on a Redis backend via go-redis.
type RedisProvider struct {
	client *redis.Client
}

// NewRedisProvider connects to Redis and verifies the connection with a
// short ping so a misconfigured address fails fast instead of degrading
// every operation later.
func NewRedisProvider(opts *redis.Options) (*RedisProvider, error) {
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisProvider{client: client}, nil
}

func (p *RedisProvider) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := p.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (p *RedisProvider) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return p.client.Set(ctx, key, value, ttl).Err()
}

func (p *RedisProvider) Delete(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := p.client.Del(ctx, keys...).Result()
	return int(n), err
}

func (p *RedisProvider) Keys(ctx context.Context, pattern string) ([]string, error) {
	return p.client.Keys(ctx, pattern).Result()
}

// Close releases the underlying client.
func (p *RedisProvider) Close() error {
	return p.client.Close()
}
