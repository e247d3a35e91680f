package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pitabwire/frame/datastore/pool"
	"github.com/rs/xid"
	"gorm.io/gorm"

	"github.com/lokeshrajendiran/event-tide/internal/choreo"
)

// Repository errors.
var (
	ErrNotFound            = errors.New("workflow not found")
	ErrDuplicateSelector   = errors.New("a workflow already exists for this event type and source")
	ErrDatabaseUnavailable = errors.New("database connection is not available")
)

// Repository defines workflow persistence. FindActive satisfies the engine's
// lookup port; the rest serves the administrative surface.
type Repository interface {
	choreo.WorkflowLookup

	GetByID(ctx context.Context, id string) (*choreo.Workflow, error)
	List(ctx context.Context) ([]*choreo.Workflow, error)
	Create(ctx context.Context, wf *choreo.Workflow) (*choreo.Workflow, error)
	Update(ctx context.Context, wf *choreo.Workflow) (*choreo.Workflow, error)
	Delete(ctx context.Context, id string) error
}

// PGRepository is the PostgreSQL implementation of Repository.
type PGRepository struct {
	pool pool.Pool
}

// NewRepository creates a new workflow repository.
func NewRepository(_ context.Context, pool pool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) db(ctx context.Context, readOnly bool) *gorm.DB {
	if r.pool == nil {
		return nil
	}
	return r.pool.DB(ctx, readOnly)
}

// FindActive returns the unique active workflow for (eventType, source),
// rules preloaded in dispatch order, or (nil, nil) when none matches.
func (r *PGRepository) FindActive(ctx context.Context, eventType, source string) (*choreo.Workflow, error) {
	db := r.db(ctx, true)
	if db == nil {
		return nil, ErrDatabaseUnavailable
	}

	var wf Workflow
	err := db.
		Preload("Rules", func(db *gorm.DB) *gorm.DB {
			return db.Order("priority ASC, position ASC")
		}).
		Where("event_type = ? AND source = ? AND status = ?",
			eventType, source, string(choreo.WorkflowStatusActive)).
		First(&wf).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active workflow: %w", err)
	}

	return wf.toDomain(), nil
}

// GetByID retrieves a workflow with its rules.
func (r *PGRepository) GetByID(ctx context.Context, id string) (*choreo.Workflow, error) {
	db := r.db(ctx, true)
	if db == nil {
		return nil, ErrDatabaseUnavailable
	}

	var wf Workflow
	err := db.
		Preload("Rules", func(db *gorm.DB) *gorm.DB {
			return db.Order("priority ASC, position ASC")
		}).
		First(&wf, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}

	return wf.toDomain(), nil
}

// List returns all workflows with their rules.
func (r *PGRepository) List(ctx context.Context) ([]*choreo.Workflow, error) {
	db := r.db(ctx, true)
	if db == nil {
		return nil, ErrDatabaseUnavailable
	}

	var rows []Workflow
	err := db.
		Preload("Rules", func(db *gorm.DB) *gorm.DB {
			return db.Order("priority ASC, position ASC")
		}).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}

	workflows := make([]*choreo.Workflow, 0, len(rows))
	for i := range rows {
		workflows = append(workflows, rows[i].toDomain())
	}
	return workflows, nil
}

// Create persists a new workflow, minting IDs for it and its rules.
func (r *PGRepository) Create(ctx context.Context, wf *choreo.Workflow) (*choreo.Workflow, error) {
	db := r.db(ctx, false)
	if db == nil {
		return nil, ErrDatabaseUnavailable
	}

	var existing int64
	if err := db.Model(&Workflow{}).
		Where("event_type = ? AND source = ?", wf.EventType, wf.Source).
		Count(&existing).Error; err != nil {
		return nil, fmt.Errorf("check selector uniqueness: %w", err)
	}
	if existing > 0 {
		return nil, ErrDuplicateSelector
	}

	row := toModel(wf)
	row.ID = xid.New().String()
	now := time.Now()
	row.CreatedAt = now
	row.UpdatedAt = now
	for i := range row.Rules {
		row.Rules[i].ID = xid.New().String()
		row.Rules[i].WorkflowID = row.ID
	}

	if err := db.Create(&row).Error; err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}

	return row.toDomain(), nil
}

// Update replaces a workflow's fields and its whole rule set. The old rule
// rows are deleted: rules live and die with their workflow.
func (r *PGRepository) Update(ctx context.Context, wf *choreo.Workflow) (*choreo.Workflow, error) {
	db := r.db(ctx, false)
	if db == nil {
		return nil, ErrDatabaseUnavailable
	}

	var current Workflow
	err := db.First(&current, "id = ?", wf.ID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load workflow: %w", err)
	}

	if current.EventType != wf.EventType || current.Source != wf.Source {
		var clash int64
		if countErr := db.Model(&Workflow{}).
			Where("event_type = ? AND source = ? AND id <> ?", wf.EventType, wf.Source, wf.ID).
			Count(&clash).Error; countErr != nil {
			return nil, fmt.Errorf("check selector uniqueness: %w", countErr)
		}
		if clash > 0 {
			return nil, ErrDuplicateSelector
		}
	}

	row := toModel(wf)
	row.CreatedAt = current.CreatedAt
	row.UpdatedAt = time.Now()
	for i := range row.Rules {
		row.Rules[i].ID = xid.New().String()
		row.Rules[i].WorkflowID = row.ID
	}

	txErr := db.Transaction(func(tx *gorm.DB) error {
		if delErr := tx.Where("workflow_id = ?", row.ID).Delete(&Rule{}).Error; delErr != nil {
			return fmt.Errorf("delete old rules: %w", delErr)
		}
		if saveErr := tx.Save(&row).Error; saveErr != nil {
			return fmt.Errorf("save workflow: %w", saveErr)
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	return r.GetByID(ctx, row.ID)
}

// Delete removes a workflow and, by ownership, its rules.
func (r *PGRepository) Delete(ctx context.Context, id string) error {
	db := r.db(ctx, false)
	if db == nil {
		return ErrDatabaseUnavailable
	}

	txErr := db.Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&Workflow{}, "id = ?", id)
		if result.Error != nil {
			return fmt.Errorf("delete workflow: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		// Cascade is enforced at the schema level; this covers stores
		// migrated without the constraint.
		if delErr := tx.Where("workflow_id = ?", id).Delete(&Rule{}).Error; delErr != nil {
			return fmt.Errorf("delete rules: %w", delErr)
		}
		return nil
	})
	return txErr
}

// toModel converts a domain workflow to its persistence form, recording rule
// positions so ties on priority keep insertion order.
func toModel(wf *choreo.Workflow) Workflow {
	rules := make([]Rule, 0, len(wf.Rules))
	for i, r := range wf.Rules {
		rules = append(rules, Rule{
			ID:           r.ID,
			WorkflowID:   wf.ID,
			Priority:     r.Priority,
			Position:     i,
			Condition:    r.Condition,
			ActionType:   string(r.ActionType),
			ActionConfig: r.ActionConfig,
		})
	}

	return Workflow{
		ID:          wf.ID,
		Name:        wf.Name,
		Description: wf.Description,
		EventType:   wf.EventType,
		Source:      wf.Source,
		Status:      string(wf.Status),
		Rules:       rules,
		CreatedAt:   wf.CreatedAt,
		UpdatedAt:   wf.UpdatedAt,
	}
}

// Migrate creates or updates the workflow tables.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return ErrDatabaseUnavailable
	}
	return db.WithContext(ctx).AutoMigrate(&Workflow{}, &Rule{})
}
