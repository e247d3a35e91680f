package choreo

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKVStore is a Redis-backed KVStore. SetNX gives the atomic
// create-if-absent the dedup gate relies on across concurrent consumers.
type RedisKVStore struct {
	client *redis.Client
}

// NewRedisKVStore creates a Redis-backed store over an existing client.
func NewRedisKVStore(client *redis.Client) *RedisKVStore {
	return &RedisKVStore{client: client}
}

// SetIfAbsent implements KVStore via SET NX with a TTL.
func (s *RedisKVStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	created, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return created, nil
}

// Delete implements KVStore.
func (s *RedisKVStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}
