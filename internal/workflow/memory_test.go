package workflow_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokeshrajendiran/event-tide/internal/choreo"
	"github.com/lokeshrajendiran/event-tide/internal/workflow"
)

func sampleWorkflow() *choreo.Workflow {
	return &choreo.Workflow{
		Name:      "enterprise onboarding",
		EventType: "customer.created",
		Source:    "user-service",
		Status:    choreo.WorkflowStatusActive,
		Rules: []choreo.Rule{
			{
				Priority:     1,
				Condition:    "payload.plan == 'enterprise'",
				ActionType:   choreo.ActionKafka,
				ActionConfig: `{"topic":"onboarding"}`,
			},
		},
	}
}

func TestMemoryRepository_CreateAndFindActive(t *testing.T) {
	ctx := context.Background()
	repo := workflow.NewMemoryRepository()

	created, err := repo.Create(ctx, sampleWorkflow())
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.NotEmpty(t, created.Rules[0].ID)
	assert.False(t, created.CreatedAt.IsZero())

	found, err := repo.FindActive(ctx, "customer.created", "user-service")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)

	missing, err := repo.FindActive(ctx, "customer.created", "billing-service")
	require.NoError(t, err)
	assert.Nil(t, missing, "no match returns nil, nil")
}

func TestMemoryRepository_InactiveNotMatched(t *testing.T) {
	ctx := context.Background()
	repo := workflow.NewMemoryRepository()

	wf := sampleWorkflow()
	wf.Status = choreo.WorkflowStatusInactive
	_, err := repo.Create(ctx, wf)
	require.NoError(t, err)

	found, err := repo.FindActive(ctx, "customer.created", "user-service")
	require.NoError(t, err)
	assert.Nil(t, found, "inactive workflows are not matching candidates")
}

func TestMemoryRepository_DuplicateSelectorRejected(t *testing.T) {
	ctx := context.Background()
	repo := workflow.NewMemoryRepository()

	_, err := repo.Create(ctx, sampleWorkflow())
	require.NoError(t, err)

	_, err = repo.Create(ctx, sampleWorkflow())
	require.ErrorIs(t, err, workflow.ErrDuplicateSelector)
}

func TestMemoryRepository_Update(t *testing.T) {
	ctx := context.Background()
	repo := workflow.NewMemoryRepository()

	created, err := repo.Create(ctx, sampleWorkflow())
	require.NoError(t, err)

	updated := *created
	updated.Status = choreo.WorkflowStatusInactive
	updated.Rules = []choreo.Rule{
		{Priority: 2, ActionType: choreo.ActionWebhook, ActionConfig: `{"url":"https://example.com/hook"}`},
	}

	result, err := repo.Update(ctx, &updated)
	require.NoError(t, err)
	assert.Equal(t, choreo.WorkflowStatusInactive, result.Status)
	require.Len(t, result.Rules, 1, "the rule set is wholly replaced")
	assert.Equal(t, choreo.ActionWebhook, result.Rules[0].ActionType)

	_, err = repo.Update(ctx, &choreo.Workflow{ID: "missing"})
	require.ErrorIs(t, err, workflow.ErrNotFound)
}

func TestMemoryRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo := workflow.NewMemoryRepository()

	created, err := repo.Create(ctx, sampleWorkflow())
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, created.ID))

	_, err = repo.GetByID(ctx, created.ID)
	require.ErrorIs(t, err, workflow.ErrNotFound)

	require.ErrorIs(t, repo.Delete(ctx, created.ID), workflow.ErrNotFound)
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := workflow.NewMemoryRepository()

	created, err := repo.Create(ctx, sampleWorkflow())
	require.NoError(t, err)

	found, err := repo.FindActive(ctx, "customer.created", "user-service")
	require.NoError(t, err)
	found.Rules[0].ActionConfig = `{"topic":"tampered"}`

	again, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, `{"topic":"onboarding"}`, again.Rules[0].ActionConfig,
		"callers get values, not aliases into the store")
}
