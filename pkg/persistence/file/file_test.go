package file

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbizns/Vodo.com-sub019/pkg/models"
	"github.com/qbizns/Vodo.com-sub019/pkg/persistence"
)

func newTestPersistence(t *testing.T) *Persistence {
	t.Helper()

	return NewPersistence(t.TempDir())
}

func TestFlowRepository_SaveAndLoad(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	flow := &models.Flow{
		ID:     "flow-1",
		Name:   "Order sync",
		Status: models.FlowStatusDraft,
		Nodes: []*models.FlowNode{
			{ID: "t1", Type: models.NodeTypeTrigger, Name: "Webhook", Enabled: true},
		},
	}

	require.NoError(t, p.Flows().Save(ctx, flow))

	loaded, err := p.Flows().ByID(ctx, "flow-1")
	require.NoError(t, err)
	assert.Equal(t, "Order sync", loaded.Name)
	assert.Len(t, loaded.Nodes, 1)
	assert.False(t, loaded.CreatedAt.IsZero())

	all, err := p.Flows().All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestFlowRepository_NotFound(t *testing.T) {
	p := newTestPersistence(t)

	_, err := p.Flows().ByID(context.Background(), "missing")
	assert.ErrorIs(t, err, persistence.ErrFlowNotFound)

	err = p.Flows().Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, persistence.ErrFlowNotFound)
}

func TestFlowRepository_VersionSnapshot(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	graph := &models.FlowGraph{
		FlowID:  "flow-1",
		Version: 3,
		Nodes: []*models.FlowNode{
			{ID: "t1", Type: models.NodeTypeTrigger, Enabled: true},
		},
	}

	require.NoError(t, p.Flows().SaveVersion(ctx, graph))

	loaded, err := p.Flows().Version(ctx, "flow-1", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Version)

	_, err = p.Flows().Version(ctx, "flow-1", 4)
	assert.ErrorIs(t, err, persistence.ErrFlowVersionNotFound)
}

func TestSubscriptionRepository_DuePollingAndClaim(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	due := &models.TriggerSubscription{
		ID:         "sub-due",
		FlowID:     "flow-1",
		Status:     models.SubscriptionStatusActive,
		NextPollAt: &past,
	}
	notDue := &models.TriggerSubscription{
		ID:         "sub-later",
		FlowID:     "flow-1",
		Status:     models.SubscriptionStatusActive,
		NextPollAt: &future,
	}
	paused := &models.TriggerSubscription{
		ID:         "sub-paused",
		FlowID:     "flow-1",
		Status:     models.SubscriptionStatusPaused,
		NextPollAt: &past,
	}

	require.NoError(t, p.Subscriptions().Save(ctx, due))
	require.NoError(t, p.Subscriptions().Save(ctx, notDue))
	require.NoError(t, p.Subscriptions().Save(ctx, paused))

	list, err := p.Subscriptions().DuePolling(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "sub-due", list[0].ID)

	claimed, err := p.Subscriptions().ClaimPoll(ctx, "sub-due", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, claimed)

	// A second claim loses: next_poll_at was bumped into the future.
	claimed, err = p.Subscriptions().ClaimPoll(ctx, "sub-due", time.Now().Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestEventRepository_Dedup(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	event := &models.TriggerEvent{
		ID:             "evt-1",
		SubscriptionID: "sub-1",
		FlowID:         "flow-1",
		DedupKey:       "order-42",
		Status:         models.TriggerEventStatusPending,
		Data:           map[string]any{"order_id": 42.0},
	}

	require.NoError(t, p.Events().Save(ctx, event))

	duplicate := &models.TriggerEvent{
		ID:             "evt-2",
		SubscriptionID: "sub-1",
		FlowID:         "flow-1",
		DedupKey:       "order-42",
		Status:         models.TriggerEventStatusPending,
	}
	assert.ErrorIs(t, p.Events().Save(ctx, duplicate), persistence.ErrDuplicateEvent)

	// Same key under a different subscription is not a duplicate.
	other := &models.TriggerEvent{
		ID:             "evt-3",
		SubscriptionID: "sub-2",
		FlowID:         "flow-1",
		DedupKey:       "order-42",
		Status:         models.TriggerEventStatusPending,
	}
	require.NoError(t, p.Events().Save(ctx, other))

	loaded, err := p.Events().ByID(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, 42.0, loaded.Data["order_id"])

	require.NoError(t, p.Events().UpdateStatus(ctx, "evt-1",
		models.TriggerEventStatusPending, models.TriggerEventStatusDispatched))

	loaded, err = p.Events().ByID(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, models.TriggerEventStatusDispatched, loaded.Status)

	// The transition is compare-and-set: a second claimant loses.
	err = p.Events().UpdateStatus(ctx, "evt-1",
		models.TriggerEventStatusPending, models.TriggerEventStatusDispatched)
	assert.ErrorIs(t, err, persistence.ErrStatusConflict)
}

func TestEventRepository_PendingOlderThan(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	old := &models.TriggerEvent{
		ID:             "evt-old",
		SubscriptionID: "sub-1",
		DedupKey:       "a",
		Status:         models.TriggerEventStatusPending,
		CreatedAt:      time.Now().Add(-time.Hour),
	}
	fresh := &models.TriggerEvent{
		ID:             "evt-fresh",
		SubscriptionID: "sub-1",
		DedupKey:       "b",
		Status:         models.TriggerEventStatusPending,
		CreatedAt:      time.Now(),
	}

	require.NoError(t, p.Events().Save(ctx, old))
	require.NoError(t, p.Events().Save(ctx, fresh))

	pending, err := p.Events().PendingOlderThan(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "evt-old", pending[0].ID)
}

func TestExecutionRepository_StatusGuard(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	execution := &models.FlowExecution{
		ID:     "exec-1",
		FlowID: "flow-1",
		Status: models.ExecutionStatusRunning,
	}
	require.NoError(t, p.Executions().Save(ctx, execution))

	require.NoError(t, p.Executions().UpdateStatus(ctx, "exec-1",
		models.ExecutionStatusRunning, models.ExecutionStatusCompleted))

	// The same transition again loses the guard.
	err := p.Executions().UpdateStatus(ctx, "exec-1",
		models.ExecutionStatusRunning, models.ExecutionStatusCompleted)
	assert.ErrorIs(t, err, persistence.ErrStatusConflict)

	loaded, err := p.Executions().ByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, loaded.Status)
}

func TestExecutionRepository_DueResumes(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	waiting := &models.FlowExecution{
		ID:       "exec-waiting",
		FlowID:   "flow-1",
		Status:   models.ExecutionStatusWaiting,
		ResumeAt: &past,
	}
	running := &models.FlowExecution{
		ID:     "exec-running",
		FlowID: "flow-1",
		Status: models.ExecutionStatusRunning,
	}

	require.NoError(t, p.Executions().Save(ctx, waiting))
	require.NoError(t, p.Executions().Save(ctx, running))

	due, err := p.Executions().DueResumes(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "exec-waiting", due[0].ID)

	claimed, err := p.Executions().ClaimResume(ctx, "exec-waiting", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = p.Executions().ClaimResume(ctx, "exec-waiting", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestStepRepository_AppendOnly(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	first := &models.FlowStepExecution{
		ID:          "step-1",
		ExecutionID: "exec-1",
		NodeID:      "n1",
		Status:      models.StepStatusSuccess,
	}
	second := &models.FlowStepExecution{
		ID:          "step-2",
		ExecutionID: "exec-1",
		NodeID:      "n2",
		Status:      models.StepStatusFailed,
	}

	require.NoError(t, p.Steps().Save(ctx, first))
	require.NoError(t, p.Steps().Save(ctx, second))

	steps, err := p.Steps().ByExecutionID(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "n1", steps[0].NodeID)
	assert.Equal(t, "n2", steps[1].NodeID)

	steps, err = p.Steps().ByExecutionID(ctx, "exec-none")
	require.NoError(t, err)
	assert.Empty(t, steps)
}
