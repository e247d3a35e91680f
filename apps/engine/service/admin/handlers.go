// Package admin exposes the administrative surface: workflow CRUD and a
// synchronous event-submission endpoint that bypasses the bus.
package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/pitabwire/util"
	"github.com/rs/xid"

	"github.com/lokeshrajendiran/event-tide/internal/choreo"
	"github.com/lokeshrajendiran/event-tide/internal/workflow"
)

// Handler serves the administrative REST API.
type Handler struct {
	repo    workflow.Repository
	engine  *choreo.Engine
	limiter *RateLimiter
}

// NewHandler creates the admin handler.
func NewHandler(repo workflow.Repository, engine *choreo.Engine, limiter *RateLimiter) *Handler {
	return &Handler{
		repo:    repo,
		engine:  engine,
		limiter: limiter,
	}
}

// RegisterRoutes registers the admin API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/workflows", h.handleWorkflows)
	mux.HandleFunc("/api/v1/workflows/", h.handleWorkflow)
	mux.HandleFunc("/api/v1/events", h.handleSubmitEvent)
}

// WorkflowRequest is the CRUD payload for a workflow definition.
type WorkflowRequest struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	EventType   string        `json:"eventType"`
	Source      string        `json:"source"`
	Status      string        `json:"status,omitempty"`
	Rules       []RuleRequest `json:"rules"`
}

// RuleRequest is the CRUD payload for a rule.
type RuleRequest struct {
	Priority     int    `json:"priority"`
	Condition    string `json:"condition,omitempty"`
	ActionType   string `json:"actionType"`
	ActionConfig string `json:"actionConfig"`
}

// handleWorkflows handles GET (list) and POST (create) on /api/v1/workflows.
func (h *Handler) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleListWorkflows(w, r)
	case http.MethodPost:
		h.handleCreateWorkflow(w, r)
	default:
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := util.Log(ctx)

	workflows, err := h.repo.List(ctx)
	if err != nil {
		log.WithError(err).Error("failed to list workflows")
		h.writeError(w, http.StatusInternalServerError, "failed to list workflows")
		return
	}

	h.writeJSON(w, http.StatusOK, workflows)
}

func (h *Handler) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := util.Log(ctx)

	var req WorkflowRequest
	if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wf, validateErr := req.toDomain()
	if validateErr != nil {
		h.writeError(w, http.StatusBadRequest, validateErr.Error())
		return
	}

	created, err := h.repo.Create(ctx, wf)
	if err != nil {
		if errors.Is(err, workflow.ErrDuplicateSelector) {
			h.writeError(w, http.StatusConflict, err.Error())
			return
		}
		log.WithError(err).Error("failed to create workflow")
		h.writeError(w, http.StatusInternalServerError, "failed to create workflow")
		return
	}

	log.Info("workflow created",
		"workflow_id", created.ID,
		"event_type", created.EventType,
		"source", created.Source,
	)
	h.writeJSON(w, http.StatusCreated, created)
}

// handleWorkflow handles GET/PUT/DELETE on /api/v1/workflows/{id}.
func (h *Handler) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/workflows/")
	if id == "" || strings.Contains(id, "/") {
		h.writeError(w, http.StatusBadRequest, "workflow ID required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.handleGetWorkflow(w, r, id)
	case http.MethodPut:
		h.handleUpdateWorkflow(w, r, id)
	case http.MethodDelete:
		h.handleDeleteWorkflow(w, r, id)
	default:
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) handleGetWorkflow(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	log := util.Log(ctx)

	wf, err := h.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "workflow not found")
			return
		}
		log.WithError(err).Error("failed to get workflow")
		h.writeError(w, http.StatusInternalServerError, "failed to get workflow")
		return
	}

	h.writeJSON(w, http.StatusOK, wf)
}

func (h *Handler) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	log := util.Log(ctx)

	var req WorkflowRequest
	if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wf, validateErr := req.toDomain()
	if validateErr != nil {
		h.writeError(w, http.StatusBadRequest, validateErr.Error())
		return
	}
	wf.ID = id

	updated, err := h.repo.Update(ctx, wf)
	if err != nil {
		switch {
		case errors.Is(err, workflow.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "workflow not found")
		case errors.Is(err, workflow.ErrDuplicateSelector):
			h.writeError(w, http.StatusConflict, err.Error())
		default:
			log.WithError(err).Error("failed to update workflow")
			h.writeError(w, http.StatusInternalServerError, "failed to update workflow")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	log := util.Log(ctx)

	if err := h.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "workflow not found")
			return
		}
		log.WithError(err).Error("failed to delete workflow")
		h.writeError(w, http.StatusInternalServerError, "failed to delete workflow")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleSubmitEvent handles POST /api/v1/events: a direct submission that
// bypasses the bus and runs the pipeline synchronously. The engine is
// reentrant, so this is safe alongside the bus consumer.
func (h *Handler) handleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := util.Log(ctx)

	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if h.limiter != nil && !h.limiter.Allow(r) {
		h.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var event choreo.IncomingEvent
	if decodeErr := json.NewDecoder(r.Body).Decode(&event); decodeErr != nil {
		h.writeError(w, http.StatusBadRequest, "invalid event body")
		return
	}

	if event.EventType == "" || event.Source == "" {
		h.writeError(w, http.StatusBadRequest, "eventType and source are required")
		return
	}

	// Bus producers own their event ids; direct submissions get one minted
	// so dedup still applies.
	if event.EventID == "" {
		event.EventID = xid.New().String()
	}

	h.engine.Process(ctx, &event)

	log.Info("event submitted",
		"event_id", event.EventID,
		"event_type", event.EventType,
		"source", event.Source,
	)
	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"eventId": event.EventID,
	})
}

// toDomain validates the request and converts it to the domain form.
func (req *WorkflowRequest) toDomain() (*choreo.Workflow, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, errors.New("name is required")
	}
	if strings.TrimSpace(req.EventType) == "" || strings.TrimSpace(req.Source) == "" {
		return nil, errors.New("eventType and source are required")
	}

	status := choreo.WorkflowStatus(req.Status)
	if req.Status == "" {
		status = choreo.WorkflowStatusActive
	}
	if status != choreo.WorkflowStatusActive && status != choreo.WorkflowStatusInactive {
		return nil, fmt.Errorf("invalid status %q", req.Status)
	}

	rules := make([]choreo.Rule, 0, len(req.Rules))
	for i, rr := range req.Rules {
		actionType := choreo.ActionType(rr.ActionType)
		if !actionType.Valid() {
			return nil, fmt.Errorf("rule %d: invalid action type %q", i, rr.ActionType)
		}

		var config map[string]any
		if err := json.Unmarshal([]byte(rr.ActionConfig), &config); err != nil {
			return nil, fmt.Errorf("rule %d: action config is not a JSON object", i)
		}

		rules = append(rules, choreo.Rule{
			Priority:     rr.Priority,
			Condition:    rr.Condition,
			ActionType:   actionType,
			ActionConfig: rr.ActionConfig,
		})
	}

	return &choreo.Workflow{
		Name:        req.Name,
		Description: req.Description,
		EventType:   req.EventType,
		Source:      req.Source,
		Status:      status,
		Rules:       rules,
	}, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{
		"error": message,
	})
}
