package choreo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pitabwire/util"
)

// Engine runs the per-event pipeline: dedup → match → evaluate → dispatch →
// DLQ on failure. It holds no mutable state of its own; all shared state
// lives behind the ports, so Process is safe to invoke concurrently from the
// bus consumer and the administrative submission endpoint.
type Engine struct {
	dedup      *DedupGate
	workflows  WorkflowLookup
	dispatcher *Dispatcher
	dlq        *DLQService
}

// NewEngine wires the pipeline.
func NewEngine(dedup *DedupGate, workflows WorkflowLookup, dispatcher *Dispatcher, dlq *DLQService) *Engine {
	return &Engine{
		dedup:      dedup,
		workflows:  workflows,
		dispatcher: dispatcher,
		dlq:        dlq,
	}
}

// Process runs one event through the pipeline. It is side-effecting and
// returns nothing: dispatch failures end in the DLQ (and a terminal park
// downstream once the retry budget is spent), duplicates and unmatched events
// stop silently, and a workflow lookup error is logged and stops processing
// of the event without a DLQ entry.
func (e *Engine) Process(ctx context.Context, event *IncomingEvent) {
	log := util.Log(ctx).
		WithField("event_id", event.EventID).
		WithField("event_type", event.EventType).
		WithField("source", event.Source)

	if e.dedup.IsDuplicate(ctx, event.EventID) {
		log.Debug("duplicate event, skipping")
		return
	}

	workflow, err := e.workflows.FindActive(ctx, event.EventType, event.Source)
	if err != nil {
		log.WithError(err).Error("workflow lookup failed")
		return
	}
	if workflow == nil {
		log.Debug("no active workflow, skipping")
		return
	}

	log = log.WithField("workflow_id", workflow.ID)

	for _, rule := range workflow.SortedRules() {
		if !EvaluateCondition(rule.Condition, event.Payload) {
			log.Debug("rule condition not met", "rule_id", rule.ID)
			continue
		}

		if dispatchErr := e.dispatchRule(ctx, rule, event); dispatchErr != nil {
			log.WithError(dispatchErr).Warn("rule dispatch failed", "rule_id", rule.ID)
			e.dlq.EnqueueFailure(ctx, event, dispatchErr.Error(), event.RetryCount())
			continue
		}

		log.Info("rule dispatched", "rule_id", rule.ID, "action_type", rule.ActionType)
	}
}

// dispatchRule decodes the rule's action config and invokes the dispatcher.
// A config that does not decode is a dispatch failure like any other.
func (e *Engine) dispatchRule(ctx context.Context, rule Rule, event *IncomingEvent) error {
	var config map[string]any
	if err := json.Unmarshal([]byte(rule.ActionConfig), &config); err != nil {
		return fmt.Errorf("decode action config: %w", err)
	}

	return e.dispatcher.Dispatch(ctx, rule.ActionType, config, event)
}

// IngestHandler consumes the input topic and feeds the engine. It implements
// the frame queue subscriber contract.
type IngestHandler struct {
	engine *Engine
	dlq    *DLQService
}

// NewIngestHandler creates the input-topic subscriber.
func NewIngestHandler(engine *Engine, dlq *DLQService) *IngestHandler {
	return &IngestHandler{
		engine: engine,
		dlq:    dlq,
	}
}

// Handle processes one raw bus message. It always returns nil: deserialization
// failures go to the DLQ as raw envelopes and processing failures are handled
// inside the pipeline, so bus-level redelivery would only double work.
func (h *IngestHandler) Handle(ctx context.Context, _ map[string]string, payload []byte) error {
	event, err := ParseIncomingEvent(payload)
	if err != nil {
		util.Log(ctx).WithError(err).Error("failed to deserialize incoming event")
		h.dlq.EnqueueRaw(ctx, string(payload), err.Error())
		return nil
	}

	h.engine.Process(ctx, event)
	return nil
}
