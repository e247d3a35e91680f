package config

import (
	"time"

	"github.com/pitabwire/frame/config"

	"github.com/lokeshrajendiran/event-tide/internal/choreo"
)

// RetrierConfig defines configuration for the DLQ retry loop service.
//
// The retry subscriber URI must carry its own consumer group, distinct from
// the engine's: retries must not cannibalize main-pipeline capacity or
// re-enter their own backlog.
type RetrierConfig struct {
	config.ConfigurationDefault

	// ==========================================================================
	// Topic Configuration
	// ==========================================================================

	// Retry topic (consumed)
	TopicDLQName string `envDefault:"eventide.dlq" env:"TOPIC_DLQ_NAME"`
	TopicDLQURI  string `envDefault:"mem://eventide.dlq" env:"TOPIC_DLQ_URI"`

	// Input topic (republish target)
	TopicEventsName string `envDefault:"eventide.events" env:"TOPIC_EVENTS_NAME"`
	TopicEventsURI  string `envDefault:"mem://eventide.events" env:"TOPIC_EVENTS_URI"`

	// Terminal topic (parked envelopes)
	TopicDLQDeadName string `envDefault:"eventide.dlq.dead" env:"TOPIC_DLQ_DEAD_NAME"`
	TopicDLQDeadURI  string `envDefault:"mem://eventide.dlq.dead" env:"TOPIC_DLQ_DEAD_URI"`

	// ==========================================================================
	// Retry Configuration
	// ==========================================================================

	// DLQMaxRetries is the retry budget per event. Must match the engine's.
	DLQMaxRetries int `envDefault:"3" env:"DLQ_MAX_RETRIES"`

	// DLQBaseDelayMS seeds the exponential backoff (base * 5^retryCount).
	DLQBaseDelayMS int `envDefault:"5000" env:"DLQ_BASE_DELAY_MS"`

	// ==========================================================================
	// Dedup Configuration (shared store with the engine)
	// ==========================================================================

	// DedupBackend selects the dedup store: memory or redis.
	DedupBackend string `envDefault:"memory" env:"DEDUP_BACKEND"`

	// DedupRedisURL is the Redis connection string.
	DedupRedisURL string `env:"DEDUP_REDIS_URL"`

	// DedupTTLHours is the dedup key TTL in hours.
	DedupTTLHours int `envDefault:"24" env:"DEDUP_TTL_HOURS"`

	// DedupPrefix namespaces dedup keys. Must match the engine's.
	DedupPrefix string `envDefault:"eventide:dedup:" env:"DEDUP_PREFIX"`

	// DedupFailClosed treats dedup store errors as duplicates.
	DedupFailClosed bool `envDefault:"false" env:"DEDUP_FAIL_CLOSED"`
}

// BaseDelay returns the configured backoff base as a duration.
func (c *RetrierConfig) BaseDelay() time.Duration {
	return time.Duration(c.DLQBaseDelayMS) * time.Millisecond
}

// DedupTTL returns the configured dedup TTL as a duration.
func (c *RetrierConfig) DedupTTL() time.Duration {
	return time.Duration(c.DedupTTLHours) * time.Hour
}

// BackendConfig maps the retrier configuration onto the dedup backend config.
func (c *RetrierConfig) BackendConfig() choreo.BackendConfig {
	return choreo.BackendConfig{
		DedupBackend:    choreo.BackendType(c.DedupBackend),
		RedisURL:        c.DedupRedisURL,
		DedupTTL:        c.DedupTTL(),
		DedupPrefix:     c.DedupPrefix,
		DedupFailClosed: c.DedupFailClosed,
	}
}
