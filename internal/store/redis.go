package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key prefixes used by the gateway's Redis-backed stores
const (
	PendingPrefix = "pending:"
	TokenPrefix   = "token:"
	SessionPrefix = "session:"
)

// RedisStore implements Store using Redis. Values are JSON encoded.
type RedisStore[V any] struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore creates a Redis-backed store whose keys share prefix
func NewRedisStore[V any](client redis.Cmdable, prefix string) *RedisStore[V] {
	return &RedisStore[V]{client: client, prefix: prefix}
}

func (s *RedisStore[V]) decode(data []byte) (V, error) {
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("unmarshaling value: %w", err)
	}
	return v, nil
}

// Get retrieves the value stored under key
func (s *RedisStore[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("getting %s%s: %w", s.prefix, key, err)
	}

	v, err := s.decode(data)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Put stores value under key with an optional expiry
func (s *RedisStore[V]) Put(ctx context.Context, key string, value V, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling value: %w", err)
	}

	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("saving %s%s: %w", s.prefix, key, err)
	}
	return nil
}

// TakeIfPresent uses GETDEL so the read and the delete happen in one server-side step
func (s *RedisStore[V]) TakeIfPresent(ctx context.Context, key string) (V, bool, error) {
	var zero V
	data, err := s.client.GetDel(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("taking %s%s: %w", s.prefix, key, err)
	}

	v, err := s.decode(data)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Remove deletes key
func (s *RedisStore[V]) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("deleting %s%s: %w", s.prefix, key, err)
	}
	return nil
}

// CheckHealth verifies Redis connectivity
func (s *RedisStore[V]) CheckHealth(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}
