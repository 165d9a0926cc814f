package store

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// Redis is a KV backed by a Redis server, letting several processes share
// one cart. Keys are stored under an optional prefix.
type Redis struct {
	client *redis.Client
	prefix string
}

var _ KV = (*Redis)(nil)

// NewRedis wraps an existing client. The client is closed by Close.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// Get implements KV.
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap("get", key, err)
	}
	return value, true, nil
}

// Set implements KV. Values never expire.
func (r *Redis) Set(ctx context.Context, key, value string) error {
	return wrap("set", key, r.client.Set(ctx, r.prefix+key, value, 0).Err())
}

// Remove implements KV.
func (r *Redis) Remove(ctx context.Context, key string) error {
	return wrap("remove", key, r.client.Del(ctx, r.prefix+key).Err())
}

// Close implements KV.
func (r *Redis) Close() error {
	return r.client.Close()
}
