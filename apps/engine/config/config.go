package config

import (
	"strings"
	"time"

	"github.com/pitabwire/frame/config"

	"github.com/lokeshrajendiran/event-tide/internal/choreo"
)

// EngineConfig defines configuration for the choreography engine service.
// The engine consumes the input topic, runs the per-event pipeline and owns
// the administrative surface.
type EngineConfig struct {
	config.ConfigurationDefault

	// ==========================================================================
	// Topic Configuration
	// ==========================================================================

	// Input topic (incoming events)
	TopicEventsName string `envDefault:"eventide.events" env:"TOPIC_EVENTS_NAME"`
	TopicEventsURI  string `envDefault:"mem://eventide.events" env:"TOPIC_EVENTS_URI"`

	// Retry topic (DLQ envelopes)
	TopicDLQName string `envDefault:"eventide.dlq" env:"TOPIC_DLQ_NAME"`
	TopicDLQURI  string `envDefault:"mem://eventide.dlq" env:"TOPIC_DLQ_URI"`

	// Terminal topic (parked envelopes)
	TopicDLQDeadName string `envDefault:"eventide.dlq.dead" env:"TOPIC_DLQ_DEAD_NAME"`
	TopicDLQDeadURI  string `envDefault:"mem://eventide.dlq.dead" env:"TOPIC_DLQ_DEAD_URI"`

	// ActionTopics lists the bus topics rules may publish to, comma
	// separated as name=uri pairs (uri optional, defaults to mem://name).
	// Each is registered as a publisher at startup; a rule targeting an
	// unregistered topic fails dispatch and lands in the DLQ.
	ActionTopics string `env:"ACTION_TOPICS"`

	// ==========================================================================
	// DLQ Configuration
	// ==========================================================================

	// DLQMaxRetries is the retry budget per event.
	DLQMaxRetries int `envDefault:"3" env:"DLQ_MAX_RETRIES"`

	// ==========================================================================
	// Dedup Configuration
	// ==========================================================================

	// DedupBackend selects the dedup store: memory or redis.
	DedupBackend string `envDefault:"memory" env:"DEDUP_BACKEND"`

	// DedupRedisURL is the Redis connection string.
	DedupRedisURL string `env:"DEDUP_REDIS_URL"`

	// DedupTTLHours is the dedup key TTL in hours.
	DedupTTLHours int `envDefault:"24" env:"DEDUP_TTL_HOURS"`

	// DedupPrefix namespaces dedup keys.
	DedupPrefix string `envDefault:"eventide:dedup:" env:"DEDUP_PREFIX"`

	// DedupFailClosed treats dedup store errors as duplicates.
	DedupFailClosed bool `envDefault:"false" env:"DEDUP_FAIL_CLOSED"`

	// ==========================================================================
	// Dispatcher Configuration
	// ==========================================================================

	// DispatchHTTPTimeoutSeconds bounds webhook and HTTP actions.
	DispatchHTTPTimeoutSeconds int `envDefault:"30" env:"DISPATCH_HTTP_TIMEOUT_SECONDS"`

	// ==========================================================================
	// Admin Surface
	// ==========================================================================

	// AdminRateLimitPerMinute limits event submissions per client.
	AdminRateLimitPerMinute int `envDefault:"120" env:"ADMIN_RATE_LIMIT_PER_MINUTE"`

	// AdminRateBurst is the submission burst size per client.
	AdminRateBurst int `envDefault:"20" env:"ADMIN_RATE_BURST"`
}

// DedupTTL returns the configured dedup TTL as a duration.
func (c *EngineConfig) DedupTTL() time.Duration {
	return time.Duration(c.DedupTTLHours) * time.Hour
}

// DispatchHTTPTimeout returns the configured dispatch timeout as a duration.
func (c *EngineConfig) DispatchHTTPTimeout() time.Duration {
	return time.Duration(c.DispatchHTTPTimeoutSeconds) * time.Second
}

// BackendConfig maps the engine configuration onto the dedup backend config.
func (c *EngineConfig) BackendConfig() choreo.BackendConfig {
	return choreo.BackendConfig{
		DedupBackend:    choreo.BackendType(c.DedupBackend),
		RedisURL:        c.DedupRedisURL,
		DedupTTL:        c.DedupTTL(),
		DedupPrefix:     c.DedupPrefix,
		DedupFailClosed: c.DedupFailClosed,
	}
}

// ParseActionTopics expands the ACTION_TOPICS value into name/uri pairs.
func (c *EngineConfig) ParseActionTopics() map[string]string {
	topics := make(map[string]string)
	for _, entry := range strings.Split(c.ActionTopics, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		name, uri, found := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if !found || strings.TrimSpace(uri) == "" {
			uri = "mem://" + name
		}
		topics[name] = strings.TrimSpace(uri)
	}
	return topics
}
