package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements KeyValue on top of a redis instance. A per-value byte
// budget is enforced before the write is attempted so that quota handling does
// not depend on the server's maxmemory policy; server-side OOM rejections are
// mapped to the same ErrQuotaExceeded sentinel.
type RedisStore struct {
	client        *redis.Client
	maxValueBytes int
}

// NewRedisStore connects to redis at the given address and verifies the
// connection. maxValueBytes <= 0 disables the client-side budget.
func NewRedisStore(ctx context.Context, addr string, maxValueBytes int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &RedisStore{
		client:        client,
		maxValueBytes: maxValueBytes,
	}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("%q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return value, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if s.maxValueBytes > 0 && len(value) > s.maxValueBytes {
		return fmt.Errorf("value for %q is %d bytes, budget is %d: %w", key, len(value), s.maxValueBytes, ErrQuotaExceeded)
	}
	err := s.client.Set(ctx, key, value, 0).Err()
	if err != nil {
		if isRedisOOM(err) {
			return fmt.Errorf("redis rejected write for %q: %w", key, ErrQuotaExceeded)
		}
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// isRedisOOM reports whether the error is redis refusing a write because used
// memory is above maxmemory ("OOM command not allowed...").
func isRedisOOM(err error) bool {
	return err != nil && strings.HasPrefix(strings.TrimSpace(err.Error()), "OOM")
}
