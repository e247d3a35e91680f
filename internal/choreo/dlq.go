package choreo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pitabwire/util"
)

// Default DLQ topology.
const (
	// DefaultEventsTopic is the main input topic.
	DefaultEventsTopic = "eventide.events"

	// DefaultRetryTopic holds envelopes around failed events.
	DefaultRetryTopic = "eventide.dlq"

	// DefaultDeadTopic is the terminal sink for exhausted or structurally
	// unprocessable envelopes.
	DefaultDeadTopic = "eventide.dlq.dead"

	// DefaultMaxRetries is the retry budget per event.
	DefaultMaxRetries = 3
)

// DLQMessage envelopes a failed dispatch on the retry topic.
type DLQMessage struct {
	OriginalEvent *IncomingEvent `json:"originalEvent,omitempty"`
	RawMessage    string         `json:"rawMessage,omitempty"`
	Error         string         `json:"error"`
	RetryCount    int            `json:"retryCount"`
	Timestamp     int64          `json:"timestamp"`
}

// DeadMessage is the terminal-topic envelope: the raw DLQ text plus a
// human-readable reason, so nothing is ever discarded silently.
type DeadMessage struct {
	OriginalDLQMessage string `json:"originalDlqMessage"`
	Reason             string `json:"reason"`
	Timestamp          int64  `json:"timestamp"`
}

// DLQService envelopes failures onto the retry topic and parks hopeless
// envelopes on the dead topic. Its own publish errors are logged at error
// level and swallowed: by the time the DLQ itself fails there is nothing
// useful a caller could do with the error.
type DLQService struct {
	publisher  BusPublisher
	retryTopic string
	deadTopic  string
	maxRetries int
}

// DLQServiceOption configures a DLQService.
type DLQServiceOption func(*DLQService)

// WithRetryTopic overrides the retry topic.
func WithRetryTopic(topic string) DLQServiceOption {
	return func(s *DLQService) {
		if topic != "" {
			s.retryTopic = topic
		}
	}
}

// WithDeadTopic overrides the terminal topic.
func WithDeadTopic(topic string) DLQServiceOption {
	return func(s *DLQService) {
		if topic != "" {
			s.deadTopic = topic
		}
	}
}

// WithMaxRetries overrides the retry budget.
func WithMaxRetries(maxRetries int) DLQServiceOption {
	return func(s *DLQService) {
		if maxRetries > 0 {
			s.maxRetries = maxRetries
		}
	}
}

// NewDLQService creates a DLQ service over the bus publisher.
func NewDLQService(publisher BusPublisher, opts ...DLQServiceOption) *DLQService {
	svc := &DLQService{
		publisher:  publisher,
		retryTopic: DefaultRetryTopic,
		deadTopic:  DefaultDeadTopic,
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// MaxRetries returns the configured retry budget.
func (s *DLQService) MaxRetries() int {
	return s.maxRetries
}

// IsRetryable reports whether an envelope at the given attempt count still
// has retry budget.
func (s *DLQService) IsRetryable(retryCount int) bool {
	return retryCount < s.maxRetries
}

// EnqueueFailure envelopes a dispatch failure onto the retry topic, keyed by
// the event id so retries of one event stay ordered.
func (s *DLQService) EnqueueFailure(ctx context.Context, event *IncomingEvent, errText string, retryCount int) {
	envelope := DLQMessage{
		OriginalEvent: event,
		Error:         errText,
		RetryCount:    retryCount,
		Timestamp:     time.Now().UnixMilli(),
	}

	s.publishEnvelope(ctx, envelope, event.EventID)
}

// EnqueueRaw envelopes a message that could not be parsed as an event. The
// retry loop terminally parks these: the original structure is unknown, so
// they can never be retried.
func (s *DLQService) EnqueueRaw(ctx context.Context, rawMessage, errText string) {
	envelope := DLQMessage{
		RawMessage: rawMessage,
		Error:      errText,
		RetryCount: 0,
		Timestamp:  time.Now().UnixMilli(),
	}

	s.publishEnvelope(ctx, envelope, "")
}

func (s *DLQService) publishEnvelope(ctx context.Context, envelope DLQMessage, key string) {
	log := util.Log(ctx)

	body, err := json.Marshal(envelope)
	if err != nil {
		log.WithError(err).Error("failed to marshal DLQ envelope, event lost to the retry pipeline")
		return
	}

	if publishErr := s.publisher.Publish(ctx, s.retryTopic, key, body); publishErr != nil {
		log.WithError(publishErr).
			WithField("topic", s.retryTopic).
			Error("failed to publish DLQ envelope, event lost to the retry pipeline")
		return
	}

	log.Warn("event enqueued to DLQ",
		"topic", s.retryTopic,
		"retry_count", envelope.RetryCount,
		"error", envelope.Error,
	)
}

// TerminalPark publishes a terminal envelope to the dead topic. rawEnvelope
// is the retry-topic message text as received, preserved verbatim for
// operator inspection.
func (s *DLQService) TerminalPark(ctx context.Context, rawEnvelope, reason string) {
	log := util.Log(ctx)

	dead := DeadMessage{
		OriginalDLQMessage: rawEnvelope,
		Reason:             reason,
		Timestamp:          time.Now().UnixMilli(),
	}

	body, err := json.Marshal(dead)
	if err != nil {
		log.WithError(err).Error("failed to marshal terminal envelope")
		return
	}

	if publishErr := s.publisher.Publish(ctx, s.deadTopic, "", body); publishErr != nil {
		log.WithError(publishErr).
			WithField("topic", s.deadTopic).
			Error("failed to park terminal envelope")
		return
	}

	log.Warn("envelope terminally parked", "topic", s.deadTopic, "reason", reason)
}
