package choreo_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokeshrajendiran/event-tide/internal/choreo"
)

func TestDLQService_EnqueueFailure(t *testing.T) {
	ctx := context.Background()
	bus := newCapturingBus()
	dlq := choreo.NewDLQService(bus)

	before := time.Now().UnixMilli()
	dlq.EnqueueFailure(ctx, testEvent(), "broker unreachable", 2)
	after := time.Now().UnixMilli()

	messages := bus.messages(choreo.DefaultRetryTopic)
	require.Len(t, messages, 1)
	assert.Equal(t, "e1", messages[0].key, "failure envelopes are keyed by event id")

	var envelope choreo.DLQMessage
	require.NoError(t, json.Unmarshal(messages[0].body, &envelope))
	assert.Equal(t, "broker unreachable", envelope.Error)
	assert.Equal(t, 2, envelope.RetryCount)
	assert.Empty(t, envelope.RawMessage)
	assert.GreaterOrEqual(t, envelope.Timestamp, before)
	assert.LessOrEqual(t, envelope.Timestamp, after)

	require.NotNil(t, envelope.OriginalEvent)
	assert.Equal(t, testEvent(), envelope.OriginalEvent, "the original event round-trips by value")
}

func TestDLQService_EnqueueRaw(t *testing.T) {
	ctx := context.Background()
	bus := newCapturingBus()
	dlq := choreo.NewDLQService(bus)

	dlq.EnqueueRaw(ctx, "{not json", "unexpected end of JSON input")

	messages := bus.messages(choreo.DefaultRetryTopic)
	require.Len(t, messages, 1)
	assert.Empty(t, messages[0].key, "raw envelopes are unkeyed")

	var envelope choreo.DLQMessage
	require.NoError(t, json.Unmarshal(messages[0].body, &envelope))
	assert.Equal(t, "{not json", envelope.RawMessage)
	assert.Equal(t, "unexpected end of JSON input", envelope.Error)
	assert.Zero(t, envelope.RetryCount)
	assert.Nil(t, envelope.OriginalEvent)
}

func TestDLQService_TerminalPark(t *testing.T) {
	ctx := context.Background()
	bus := newCapturingBus()
	dlq := choreo.NewDLQService(bus)

	dlq.TerminalPark(ctx, `{"retryCount":3}`, "Max retries exceeded")

	messages := bus.messages(choreo.DefaultDeadTopic)
	require.Len(t, messages, 1)

	var dead choreo.DeadMessage
	require.NoError(t, json.Unmarshal(messages[0].body, &dead))
	assert.Equal(t, `{"retryCount":3}`, dead.OriginalDLQMessage)
	assert.Equal(t, "Max retries exceeded", dead.Reason)
	assert.NotZero(t, dead.Timestamp)
}

func TestDLQService_IsRetryable(t *testing.T) {
	dlq := choreo.NewDLQService(newCapturingBus(), choreo.WithMaxRetries(3))

	assert.True(t, dlq.IsRetryable(0))
	assert.True(t, dlq.IsRetryable(2))
	assert.False(t, dlq.IsRetryable(3))
	assert.False(t, dlq.IsRetryable(7))
}

func TestDLQService_PublishErrorsAreSwallowed(t *testing.T) {
	ctx := context.Background()
	bus := newCapturingBus()
	bus.failOn(choreo.DefaultRetryTopic, errors.New("bus down"))
	bus.failOn(choreo.DefaultDeadTopic, errors.New("bus down"))
	dlq := choreo.NewDLQService(bus)

	// The DLQ cannot usefully surface its own transport failures; these
	// must not panic or propagate.
	assert.NotPanics(t, func() {
		dlq.EnqueueFailure(ctx, testEvent(), "boom", 0)
		dlq.EnqueueRaw(ctx, "raw", "boom")
		dlq.TerminalPark(ctx, "raw", "reason")
	})
}

func TestDLQService_CustomTopics(t *testing.T) {
	ctx := context.Background()
	bus := newCapturingBus()
	dlq := choreo.NewDLQService(
		bus,
		choreo.WithRetryTopic("alt.dlq"),
		choreo.WithDeadTopic("alt.dead"),
	)

	dlq.EnqueueFailure(ctx, testEvent(), "boom", 0)
	dlq.TerminalPark(ctx, "raw", "reason")

	assert.Len(t, bus.messages("alt.dlq"), 1)
	assert.Len(t, bus.messages("alt.dead"), 1)
	assert.Empty(t, bus.messages(choreo.DefaultRetryTopic))
	assert.Empty(t, bus.messages(choreo.DefaultDeadTopic))
}
