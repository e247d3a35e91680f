package choreo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pitabwire/util"
)

// Backoff defaults.
const (
	// DefaultBaseDelay seeds the exponential backoff: 5s, 25s, 125s, ...
	DefaultBaseDelay = 5 * time.Second

	// backoffMultiplier is the per-attempt growth factor.
	backoffMultiplier = 5
)

// Terminal parking reasons.
const (
	ReasonMalformedEnvelope = "Malformed DLQ envelope"
	ReasonUnparseableEvent  = "Unparseable event"
	ReasonMaxRetries        = "Max retries exceeded"
	ReasonMissingEvent      = "Missing original event"
)

// RetryLoopHandler consumes the retry topic: it waits out the backoff,
// reopens the dedup window, stamps the attempt count and feeds the event back
// to the input topic — or terminally parks envelopes that cannot or must not
// be retried.
//
// The retry topic must be consumed under its own consumer group, distinct
// from the main pipeline's. That is a correctness requirement: sharing the
// main group would let retries cannibalize pipeline capacity and re-enter
// their own backlog.
type RetryLoopHandler struct {
	publisher   BusPublisher
	dlq         *DLQService
	dedup       *DedupGate
	eventsTopic string
	baseDelay   time.Duration
}

// RetryLoopOption configures a RetryLoopHandler.
type RetryLoopOption func(*RetryLoopHandler)

// WithEventsTopic overrides the republish target.
func WithEventsTopic(topic string) RetryLoopOption {
	return func(h *RetryLoopHandler) {
		if topic != "" {
			h.eventsTopic = topic
		}
	}
}

// WithBaseDelay overrides the backoff base.
func WithBaseDelay(delay time.Duration) RetryLoopOption {
	return func(h *RetryLoopHandler) {
		if delay > 0 {
			h.baseDelay = delay
		}
	}
}

// NewRetryLoopHandler creates the retry-topic subscriber.
func NewRetryLoopHandler(
	publisher BusPublisher,
	dlq *DLQService,
	dedup *DedupGate,
	opts ...RetryLoopOption,
) *RetryLoopHandler {
	handler := &RetryLoopHandler{
		publisher:   publisher,
		dlq:         dlq,
		dedup:       dedup,
		eventsTopic: DefaultEventsTopic,
		baseDelay:   DefaultBaseDelay,
	}
	for _, opt := range opts {
		opt(handler)
	}
	return handler
}

// CalculateBackoff returns baseDelay * 5^retryCount: 5s, 25s, 125s, ... at
// the default base.
func (h *RetryLoopHandler) CalculateBackoff(retryCount int) time.Duration {
	delay := h.baseDelay
	for i := 0; i < retryCount; i++ {
		delay *= backoffMultiplier
	}
	return delay
}

// Handle processes one retry-topic message. Unretryable envelopes are parked
// on the dead topic with a reason; retryable ones are republished after the
// backoff. The only error ever returned is the context's, so a shutdown
// mid-wait propagates cleanly instead of parking the envelope.
func (h *RetryLoopHandler) Handle(ctx context.Context, _ map[string]string, payload []byte) error {
	log := util.Log(ctx)
	raw := string(payload)

	var envelope DLQMessage
	if err := json.Unmarshal(payload, &envelope); err != nil {
		log.WithError(err).Error("failed to parse DLQ envelope")
		h.dlq.TerminalPark(ctx, raw, ReasonMalformedEnvelope)
		return nil
	}

	// Ingress deserialization failures carry only the raw text; the event
	// structure is unknown, so there is nothing to retry.
	if envelope.RawMessage != "" {
		log.Warn("parking unparseable event", "error", envelope.Error)
		h.dlq.TerminalPark(ctx, raw, ReasonUnparseableEvent)
		return nil
	}

	if !h.dlq.IsRetryable(envelope.RetryCount) {
		log.Warn("retry budget exhausted",
			"retry_count", envelope.RetryCount,
			"max_retries", h.dlq.MaxRetries(),
		)
		h.dlq.TerminalPark(ctx, raw, ReasonMaxRetries)
		return nil
	}

	event := envelope.OriginalEvent
	if event == nil {
		log.Warn("DLQ envelope has no original event")
		h.dlq.TerminalPark(ctx, raw, ReasonMissingEvent)
		return nil
	}

	log = log.WithField("event_id", event.EventID).
		WithField("retry_count", envelope.RetryCount)

	backoff := h.CalculateBackoff(envelope.RetryCount)
	log.Info("waiting before retry", "backoff", backoff)
	if err := h.wait(ctx, backoff); err != nil {
		return err
	}

	// Reopen the dedup window; without this the original first-sight record
	// would silently swallow the republish.
	if clearErr := h.dedup.Clear(ctx, event.EventID); clearErr != nil {
		log.WithError(clearErr).Warn("failed to clear dedup key before retry")
	}

	event.StampRetryCount(envelope.RetryCount + 1)

	body, err := json.Marshal(event)
	if err != nil {
		log.WithError(err).Error("failed to marshal event for retry")
		h.dlq.TerminalPark(ctx, raw, ReasonMalformedEnvelope)
		return nil
	}

	if publishErr := h.publisher.Publish(ctx, h.eventsTopic, event.EventID, body); publishErr != nil {
		log.WithError(publishErr).Error("failed to republish event for retry")
		return nil
	}

	log.Info("event republished for retry",
		"topic", h.eventsTopic,
		"next_retry_count", envelope.RetryCount+1,
	)
	return nil
}

// wait sleeps cooperatively, honoring cancellation.
func (h *RetryLoopHandler) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
