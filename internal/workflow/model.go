// Package workflow persists workflow definitions and resolves them for the
// choreography engine.
package workflow

import (
	"time"

	"github.com/lokeshrajendiran/event-tide/internal/choreo"
)

// Workflow is the persistence model. A workflow exclusively owns its rules:
// deleting the workflow or replacing its rule set removes the old rows.
type Workflow struct {
	ID          string    `json:"id"          gorm:"primaryKey"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	EventType   string    `json:"event_type"  gorm:"uniqueIndex:idx_workflows_selector"`
	Source      string    `json:"source"      gorm:"uniqueIndex:idx_workflows_selector"`
	Status      string    `json:"status"`
	Rules       []Rule    `json:"rules"       gorm:"foreignKey:WorkflowID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the table name for the Workflow model.
func (Workflow) TableName() string {
	return "workflows"
}

// Rule is a persisted condition → action pair. Position preserves insertion
// order so equal priorities dispatch in the order the operator wrote them.
type Rule struct {
	ID           string `json:"id"            gorm:"primaryKey"`
	WorkflowID   string `json:"workflow_id"   gorm:"index"`
	Priority     int    `json:"priority"`
	Position     int    `json:"position"`
	Condition    string `json:"condition,omitempty"`
	ActionType   string `json:"action_type"`
	ActionConfig string `json:"action_config"`
}

// TableName returns the table name for the Rule model.
func (Rule) TableName() string {
	return "workflow_rules"
}

// toDomain converts the persistence model to the engine's value form.
func (w *Workflow) toDomain() *choreo.Workflow {
	rules := make([]choreo.Rule, 0, len(w.Rules))
	for _, r := range w.Rules {
		rules = append(rules, choreo.Rule{
			ID:           r.ID,
			Priority:     r.Priority,
			Condition:    r.Condition,
			ActionType:   choreo.ActionType(r.ActionType),
			ActionConfig: r.ActionConfig,
		})
	}

	return &choreo.Workflow{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		EventType:   w.EventType,
		Source:      w.Source,
		Status:      choreo.WorkflowStatus(w.Status),
		Rules:       rules,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
	}
}
