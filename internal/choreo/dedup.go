package choreo

import (
	"context"
	"time"

	"github.com/pitabwire/util"
)

// Dedup defaults.
const (
	// DefaultDedupPrefix namespaces dedup keys in the shared KV store.
	DefaultDedupPrefix = "eventide:dedup:"

	// DefaultDedupTTL bounds the gate's memory of an event id.
	DefaultDedupTTL = 24 * time.Hour
)

// DedupGate is the first-sight check in front of the engine. The atomic
// create-if-absent pushes the race into the KV store, so the gate is correct
// under any number of concurrent consumers.
type DedupGate struct {
	kv         KVStore
	prefix     string
	ttl        time.Duration
	failClosed bool
}

// DedupGateOption configures a DedupGate.
type DedupGateOption func(*DedupGate)

// WithDedupPrefix overrides the key prefix.
func WithDedupPrefix(prefix string) DedupGateOption {
	return func(g *DedupGate) {
		if prefix != "" {
			g.prefix = prefix
		}
	}
}

// WithDedupTTL overrides the key TTL.
func WithDedupTTL(ttl time.Duration) DedupGateOption {
	return func(g *DedupGate) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithDedupFailClosed makes KV errors count as duplicates. The default is
// fail-open: a rare double dispatch during a KV outage beats silently
// dropping events, but deployments that prefer the reverse can flip it.
func WithDedupFailClosed(failClosed bool) DedupGateOption {
	return func(g *DedupGate) {
		g.failClosed = failClosed
	}
}

// NewDedupGate creates a gate over the given KV store.
func NewDedupGate(kv KVStore, opts ...DedupGateOption) *DedupGate {
	gate := &DedupGate{
		kv:     kv,
		prefix: DefaultDedupPrefix,
		ttl:    DefaultDedupTTL,
	}
	for _, opt := range opts {
		opt(gate)
	}
	return gate
}

// IsDuplicate performs the atomic first-sight check. A blank event id
// bypasses the gate without touching the store. KV transport errors are never
// silently treated as duplicates: they are logged and resolved by the
// configured failure policy.
func (g *DedupGate) IsDuplicate(ctx context.Context, eventID string) bool {
	if eventID == "" {
		return false
	}

	created, err := g.kv.SetIfAbsent(ctx, g.prefix+eventID, "1", g.ttl)
	if err != nil {
		util.Log(ctx).WithError(err).
			WithField("event_id", eventID).
			Error("dedup check failed, applying failure policy")
		return g.failClosed
	}

	return !created
}

// Clear deletes the dedup key so the event id can pass the gate again. The
// retry loop calls this before republishing; without it the original
// first-sight record would swallow the retry.
func (g *DedupGate) Clear(ctx context.Context, eventID string) error {
	if eventID == "" {
		return nil
	}
	return g.kv.Delete(ctx, g.prefix+eventID)
}
