package guestname

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "spreed:guestnames:"

// RedisRecorder keeps guest names in a per-conversation redis hash so every
// service instance resolves the same names.
type RedisRecorder struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRecorder connects to redis and verifies the connection. A zero ttl
// keeps names forever.
func NewRedisRecorder(url string, ttl time.Duration) (*RedisRecorder, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisRecorder{client: client, ttl: ttl}, nil
}

var _ Recorder = (*RedisRecorder)(nil)

func (r *RedisRecorder) RecordGuestName(ctx context.Context, token, actorID, displayName string) error {
	key := keyPrefix + token
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, actorID, displayName)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: record guest name: %w", err)
	}
	return nil
}

// GetGuestName returns the stored name, or empty when the guest never set one.
func (r *RedisRecorder) GetGuestName(ctx context.Context, token, actorID string) (string, error) {
	name, err := r.client.HGet(ctx, keyPrefix+token, actorID).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis: get guest name: %w", err)
	}
	return name, nil
}

func (r *RedisRecorder) Close() error {
	return r.client.Close()
}
