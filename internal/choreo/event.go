// Package choreo implements the event choreography pipeline: deduplication,
// workflow matching, condition evaluation, action dispatch and the
// dead-letter retry loop.
package choreo

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// retryCountKey is the reserved payload field the retry loop stamps and the
// engine reads when it enqueues a failure. Keys beginning with "_" inside the
// payload are control fields, never part of the producer-visible contract.
const retryCountKey = "_retryCount"

// IncomingEvent is the canonical inbound event. EventID is the deduplication
// identity; a blank EventID bypasses the dedup gate entirely.
type IncomingEvent struct {
	EventID   string         `json:"eventId"`
	EventType string         `json:"eventType"`
	Source    string         `json:"source"`
	Payload   map[string]any `json:"payload"`
}

// ParseIncomingEvent decodes an event from its JSON wire form.
func ParseIncomingEvent(data []byte) (*IncomingEvent, error) {
	var event IncomingEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("unmarshal incoming event: %w", err)
	}
	return &event, nil
}

// RetryCount reads the attempt counter stamped into the payload by the retry
// loop. Absent or non-numeric values count as zero.
func (e *IncomingEvent) RetryCount() int {
	if e.Payload == nil {
		return 0
	}
	return coerceInt(e.Payload[retryCountKey])
}

// StampRetryCount records the attempt counter in the payload, creating the
// payload map when the event arrived without one.
func (e *IncomingEvent) StampRetryCount(n int) {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
	e.Payload[retryCountKey] = n
}

// coerceInt converts the numeric shapes a JSON round-trip can produce.
func coerceInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	case float32:
		return int(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
		if f, err := n.Float64(); err == nil {
			return int(f)
		}
		return 0
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return int(f)
		}
		return 0
	default:
		return 0
	}
}
