package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBackend persists queues as redis lists. Heads are at the right so
// LPUSH enqueues, RPUSH front-inserts and RPOP dequeues.
type RedisBackend struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisBackend(client *redis.Client, keyPrefix string) *RedisBackend {
	if keyPrefix == "" {
		keyPrefix = "genforge:queue"
	}
	return &RedisBackend{client: client, keyPrefix: keyPrefix}
}

func (b *RedisBackend) redisKey(key string) string {
	return fmt.Sprintf("%s:%s", b.keyPrefix, key)
}

func (b *RedisBackend) Push(ctx context.Context, key, jobID string) error {
	return b.client.LPush(ctx, b.redisKey(key), jobID).Err()
}

func (b *RedisBackend) PushFront(ctx context.Context, key, jobID string) error {
	return b.client.RPush(ctx, b.redisKey(key), jobID).Err()
}

func (b *RedisBackend) Pop(ctx context.Context, key string) (string, bool, error) {
	jobID, err := b.client.RPop(ctx, b.redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return jobID, true, nil
}

func (b *RedisBackend) Len(ctx context.Context, key string) (int, error) {
	n, err := b.client.LLen(ctx, b.redisKey(key)).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (b *RedisBackend) Clear(ctx context.Context, key string) error {
	return b.client.Del(ctx, b.redisKey(key)).Err()
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
