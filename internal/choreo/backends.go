package choreo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pitabwire/util"
	"github.com/redis/go-redis/v9"
)

// BackendType selects the storage behind the dedup gate.
type BackendType string

// Backend type constants.
const (
	BackendMemory BackendType = "memory"
	BackendRedis  BackendType = "redis"
)

// BackendConfig configures the dedup backend.
type BackendConfig struct {
	// DedupBackend selects the KV store implementation.
	DedupBackend BackendType

	// RedisURL is the Redis connection string, required for the redis backend.
	RedisURL string

	// DedupTTL is the dedup key TTL.
	DedupTTL time.Duration

	// DedupPrefix namespaces dedup keys.
	DedupPrefix string

	// DedupFailClosed treats KV errors as duplicates instead of first sights.
	DedupFailClosed bool
}

// DefaultBackendConfig returns an in-memory configuration.
func DefaultBackendConfig() BackendConfig {
	return BackendConfig{
		DedupBackend: BackendMemory,
		DedupTTL:     DefaultDedupTTL,
		DedupPrefix:  DefaultDedupPrefix,
	}
}

// Backends holds the KV store and the dedup gate built over it.
type Backends struct {
	KV    KVStore
	Dedup *DedupGate

	redisClient *redis.Client
}

// Close releases any resources held by the backends.
func (b *Backends) Close() error {
	if b.redisClient != nil {
		return b.redisClient.Close()
	}
	return nil
}

// HealthCheck verifies backend connectivity.
func (b *Backends) HealthCheck(ctx context.Context) error {
	if b.redisClient != nil {
		if err := b.redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis health check: %w", err)
		}
	}
	return nil
}

// NewBackends creates the dedup backend from configuration.
func NewBackends(ctx context.Context, cfg BackendConfig) (*Backends, error) {
	log := util.Log(ctx)
	backends := &Backends{}

	switch cfg.DedupBackend {
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("redis URL required when using redis backend")
		}

		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis URL: %w", err)
		}

		backends.redisClient = redis.NewClient(opts)
		if pingErr := backends.redisClient.Ping(ctx).Err(); pingErr != nil {
			return nil, fmt.Errorf("redis ping: %w", pingErr)
		}

		backends.KV = NewRedisKVStore(backends.redisClient)
		log.Info("using Redis dedup store")
	case BackendMemory, "":
		backends.KV = NewMemoryKVStore()
		log.Info("using in-memory dedup store")
	default:
		return nil, fmt.Errorf("unknown dedup backend %q", cfg.DedupBackend)
	}

	backends.Dedup = NewDedupGate(
		backends.KV,
		WithDedupPrefix(cfg.DedupPrefix),
		WithDedupTTL(cfg.DedupTTL),
		WithDedupFailClosed(cfg.DedupFailClosed),
	)

	return backends, nil
}

// NewBackendsWithFallback creates backends, falling back to in-memory when
// the configured backend is unreachable. Dedup degrades to per-process
// first-sight in that mode, which is the documented fail-open posture.
func NewBackendsWithFallback(ctx context.Context, cfg BackendConfig) (*Backends, error) {
	log := util.Log(ctx)

	backends, err := NewBackends(ctx, cfg)
	if err != nil {
		log.Warn("falling back to in-memory dedup backend", "error", err.Error())

		cfg.DedupBackend = BackendMemory
		return NewBackends(ctx, cfg)
	}

	return backends, nil
}
