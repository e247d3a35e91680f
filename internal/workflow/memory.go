package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/lokeshrajendiran/event-tide/internal/choreo"
)

// MemoryRepository is an in-process Repository for tests and single-node
// development runs.
type MemoryRepository struct {
	mu        sync.RWMutex
	workflows map[string]*choreo.Workflow
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		workflows: make(map[string]*choreo.Workflow),
	}
}

// FindActive implements choreo.WorkflowLookup.
func (r *MemoryRepository) FindActive(_ context.Context, eventType, source string) (*choreo.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, wf := range r.workflows {
		if wf.EventType == eventType && wf.Source == source && wf.IsActive() {
			return cloneWorkflow(wf), nil
		}
	}
	return nil, nil
}

// GetByID implements Repository.
func (r *MemoryRepository) GetByID(_ context.Context, id string) (*choreo.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wf, ok := r.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneWorkflow(wf), nil
}

// List implements Repository.
func (r *MemoryRepository) List(_ context.Context) ([]*choreo.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workflows := make([]*choreo.Workflow, 0, len(r.workflows))
	for _, wf := range r.workflows {
		workflows = append(workflows, cloneWorkflow(wf))
	}
	return workflows, nil
}

// Create implements Repository.
func (r *MemoryRepository) Create(_ context.Context, wf *choreo.Workflow) (*choreo.Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.workflows {
		if existing.EventType == wf.EventType && existing.Source == wf.Source {
			return nil, ErrDuplicateSelector
		}
	}

	stored := cloneWorkflow(wf)
	stored.ID = xid.New().String()
	now := time.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	for i := range stored.Rules {
		stored.Rules[i].ID = xid.New().String()
	}

	r.workflows[stored.ID] = stored
	return cloneWorkflow(stored), nil
}

// Update implements Repository. The incoming rule set wholly replaces the
// stored one.
func (r *MemoryRepository) Update(_ context.Context, wf *choreo.Workflow) (*choreo.Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.workflows[wf.ID]
	if !ok {
		return nil, ErrNotFound
	}

	for id, existing := range r.workflows {
		if id != wf.ID && existing.EventType == wf.EventType && existing.Source == wf.Source {
			return nil, ErrDuplicateSelector
		}
	}

	stored := cloneWorkflow(wf)
	stored.CreatedAt = current.CreatedAt
	stored.UpdatedAt = time.Now()
	for i := range stored.Rules {
		stored.Rules[i].ID = xid.New().String()
	}

	r.workflows[stored.ID] = stored
	return cloneWorkflow(stored), nil
}

// Delete implements Repository.
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workflows[id]; !ok {
		return ErrNotFound
	}
	delete(r.workflows, id)
	return nil
}

func cloneWorkflow(wf *choreo.Workflow) *choreo.Workflow {
	clone := *wf
	clone.Rules = make([]choreo.Rule, len(wf.Rules))
	copy(clone.Rules, wf.Rules)
	return &clone
}
