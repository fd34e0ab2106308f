package database

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const presenceKeyPrefix = "presence:"

func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// RedisPresenceMirror publishes the online flag of each user to Redis so
// other processes can read it without touching Postgres.
type RedisPresenceMirror struct {
	client *redis.Client
}

func NewRedisPresenceMirror(client *redis.Client) *RedisPresenceMirror {
	return &RedisPresenceMirror{client: client}
}

func (r *RedisPresenceMirror) SetOnline(ctx context.Context, accountId int, online bool) error {
	key := presenceKey(accountId)
	if !online {
		if err := r.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("delete presence: %w", err)
		}
		return nil
	}

	if err := r.client.Set(ctx, key, "online", 0).Err(); err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	return nil
}

func (r *RedisPresenceMirror) IsOnline(ctx context.Context, accountId int) (bool, error) {
	n, err := r.client.Exists(ctx, presenceKey(accountId)).Result()
	if err != nil {
		return false, fmt.Errorf("get presence: %w", err)
	}
	return n == 1, nil
}

func presenceKey(accountId int) string {
	return presenceKeyPrefix + strconv.Itoa(accountId)
}
