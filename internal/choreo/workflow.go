package choreo

import (
	"context"
	"sort"
	"time"
)

// WorkflowStatus gates whether a workflow is a matching candidate.
type WorkflowStatus string

const (
	WorkflowStatusActive   WorkflowStatus = "ACTIVE"
	WorkflowStatusInactive WorkflowStatus = "INACTIVE"
)

// ActionType identifies the side effect a rule dispatches.
type ActionType string

const (
	ActionKafka   ActionType = "KAFKA"
	ActionWebhook ActionType = "WEBHOOK"
	ActionHTTP    ActionType = "HTTP"
)

// Valid reports whether the action type is one the dispatcher understands.
func (t ActionType) Valid() bool {
	switch t {
	case ActionKafka, ActionWebhook, ActionHTTP:
		return true
	default:
		return false
	}
}

// Rule is a condition → action pair owned by a workflow. A blank condition
// always matches. ActionConfig is a JSON object whose required fields depend
// on the action type.
type Rule struct {
	ID           string     `json:"id"`
	Priority     int        `json:"priority"`
	Condition    string     `json:"condition,omitempty"`
	ActionType   ActionType `json:"actionType"`
	ActionConfig string     `json:"actionConfig"`
}

// Workflow is a named selector (eventType, source, status) plus an ordered
// rule sequence. At most one workflow exists per (eventType, source) pair.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	EventType   string         `json:"eventType"`
	Source      string         `json:"source"`
	Status      WorkflowStatus `json:"status"`
	Rules       []Rule         `json:"rules"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// SortRules orders rules by priority ascending, preserving insertion order
// within a priority.
func SortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority < rules[j].Priority
	})
}

// SortedRules returns the workflow's rules in dispatch order. The engine
// consumes workflows as values and must not mutate them, so this copies.
func (w *Workflow) SortedRules() []Rule {
	rules := make([]Rule, len(w.Rules))
	copy(rules, w.Rules)
	SortRules(rules)
	return rules
}

// IsActive reports whether the workflow is a candidate for matching.
func (w *Workflow) IsActive() bool {
	return w.Status == WorkflowStatusActive
}

// WorkflowLookup resolves the active workflow for an event. Implementations
// return (nil, nil) when no active workflow matches; rules need not be
// pre-sorted since the engine sorts defensively.
type WorkflowLookup interface {
	FindActive(ctx context.Context, eventType, source string) (*Workflow, error)
}
