package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbizns/Vodo.com-sub019/pkg/connector"
	"github.com/qbizns/Vodo.com-sub019/pkg/flowerr"
	"github.com/qbizns/Vodo.com-sub019/pkg/models"
	"github.com/qbizns/Vodo.com-sub019/pkg/persistence/file"
	"github.com/qbizns/Vodo.com-sub019/pkg/queue"
	"github.com/qbizns/Vodo.com-sub019/pkg/vault"
)

// fakeTrigger is a scriptable trigger connector for engine tests.
type fakeTrigger struct {
	typ          connector.TriggerType
	verifyOK     bool
	webhookItem  map[string]any
	pollResults  []*connector.PollResult
	pollCalls    int
	registered   []string
	unregistered []string
	canTest      bool
}

func (f *fakeTrigger) Type() connector.TriggerType { return f.typ }

func (f *fakeTrigger) RegisterWebhook(_ context.Context, _ vault.Credentials, callbackURL string, _ map[string]any) (*connector.WebhookRegistration, error) {
	f.registered = append(f.registered, callbackURL)

	return &connector.WebhookRegistration{WebhookID: fmt.Sprintf("wh-%d", len(f.registered))}, nil
}

func (f *fakeTrigger) UnregisterWebhook(_ context.Context, _ vault.Credentials, webhookID string) error {
	f.unregistered = append(f.unregistered, webhookID)

	return nil
}

func (f *fakeTrigger) VerifyWebhook([]byte, map[string]string, vault.Credentials) bool {
	return f.verifyOK
}

func (f *fakeTrigger) ProcessWebhook([]byte, map[string]string, map[string]any) (map[string]any, error) {
	return f.webhookItem, nil
}

func (f *fakeTrigger) Poll(context.Context, vault.Credentials, map[string]any, map[string]any) (*connector.PollResult, error) {
	if f.pollCalls >= len(f.pollResults) {
		return &connector.PollResult{State: map[string]any{}}, nil
	}

	result := f.pollResults[f.pollCalls]
	f.pollCalls++

	return result, nil
}

func (f *fakeTrigger) DeduplicationKey(item map[string]any) string {
	if id, ok := item["id"]; ok {
		return fmt.Sprintf("%v", id)
	}

	return ""
}

func (f *fakeTrigger) ApplyFilters(item map[string]any, filters []models.FilterRule) bool {
	return connector.EvalFilters(item, filters)
}

func (f *fakeTrigger) PollingInterval() time.Duration { return time.Minute }

func (f *fakeTrigger) CanTest() bool { return f.canTest }

func (f *fakeTrigger) SampleOutput() map[string]any {
	return map[string]any{"id": "sample", "sample": true}
}

func (f *fakeTrigger) Schema() map[string]any { return nil }

type testEnv struct {
	engine      *Engine
	persistence *file.Persistence
	queue       *queue.MemoryQueue
	trigger     *fakeTrigger
}

func newTestEnv(t *testing.T, trig *fakeTrigger) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	p := file.NewPersistence(t.TempDir())
	q := queue.NewMemoryQueue()

	registry := connector.NewRegistry(logger)
	registry.RegisterTrigger("github", "new_issue", trig)

	engine := NewEngine(logger, p, registry, vault.NewStatic(nil), q, "https://hooks.example.com")

	return &testEnv{engine: engine, persistence: p, queue: q, trigger: trig}
}

func testFlow() *models.Flow {
	return &models.Flow{
		ID:      "flow-1",
		Name:    "Issue notifier",
		Status:  models.FlowStatusDraft,
		Version: 1,
		Trigger: &models.TriggerConfig{
			ConnectorID: "github",
			TriggerName: "new_issue",
		},
		Nodes: []*models.FlowNode{
			{ID: "t1", Type: models.NodeTypeTrigger, Name: "New issue", Enabled: true},
			{ID: "a1", Type: models.NodeTypeAction, Name: "Notify", Enabled: true},
		},
		Edges: []*models.FlowEdge{
			{ID: "e1", SourceNode: "t1", TargetNode: "a1"},
		},
	}
}

func activateTestFlow(t *testing.T, env *testEnv) *models.TriggerSubscription {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, env.persistence.Flows().Save(ctx, testFlow()))

	_, err := env.engine.ActivateFlow(ctx, "flow-1")
	require.NoError(t, err)

	subscriptions, err := env.persistence.Subscriptions().ByFlowID(ctx, "flow-1")
	require.NoError(t, err)
	require.Len(t, subscriptions, 1)

	return subscriptions[0]
}

func TestActivateFlow_WebhookSubscription(t *testing.T) {
	env := newTestEnv(t, &fakeTrigger{typ: connector.TriggerTypeWebhook, verifyOK: true})
	subscription := activateTestFlow(t, env)

	assert.Equal(t, models.SubscriptionStatusActive, subscription.Status)
	assert.Equal(t, "wh-1", subscription.WebhookID)
	assert.NotEmpty(t, subscription.WebhookSecret)
	assert.Nil(t, subscription.NextPollAt)
	require.Len(t, env.trigger.registered, 1)
	assert.Contains(t, env.trigger.registered[0], "/integration/webhook/"+subscription.ID)

	// Graph snapshot was pinned at the activation version.
	graph, err := env.persistence.Flows().Version(context.Background(), "flow-1", 1)
	require.NoError(t, err)
	assert.Len(t, graph.Nodes, 2)

	// Activating again is a no-op: no second subscription or registration.
	_, err = env.engine.ActivateFlow(context.Background(), "flow-1")
	require.NoError(t, err)

	subscriptions, err := env.persistence.Subscriptions().ByFlowID(context.Background(), "flow-1")
	require.NoError(t, err)
	assert.Len(t, subscriptions, 1)
	assert.Len(t, env.trigger.registered, 1)
}

func TestActivateFlow_PollingSubscriptionDueImmediately(t *testing.T) {
	env := newTestEnv(t, &fakeTrigger{typ: connector.TriggerTypePolling})
	subscription := activateTestFlow(t, env)

	assert.Empty(t, subscription.WebhookID)
	require.NotNil(t, subscription.NextPollAt)
	assert.False(t, subscription.NextPollAt.After(time.Now()))
}

func TestActivateFlow_RejectsInvalidGraph(t *testing.T) {
	env := newTestEnv(t, &fakeTrigger{typ: connector.TriggerTypeWebhook})
	ctx := context.Background()

	flow := testFlow()
	flow.Edges = append(flow.Edges, &models.FlowEdge{ID: "back", SourceNode: "a1", TargetNode: "a1"})
	require.NoError(t, env.persistence.Flows().Save(ctx, flow))

	_, err := env.engine.ActivateFlow(ctx, "flow-1")
	require.Error(t, err)

	var validation *flowerr.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "graph", validation.Field)

	// No subscription was created for the rejected flow.
	assert.Empty(t, env.trigger.registered)
}

func TestActivateFlow_RejectsBadEdgeCondition(t *testing.T) {
	env := newTestEnv(t, &fakeTrigger{typ: connector.TriggerTypeWebhook})
	ctx := context.Background()

	flow := testFlow()
	flow.Edges[0].Condition = "amount >"
	require.NoError(t, env.persistence.Flows().Save(ctx, flow))

	_, err := env.engine.ActivateFlow(ctx, "flow-1")

	var validation *flowerr.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "edges.e1", validation.Field)
}

func TestHandleWebhook_CreatesEventAndExecution(t *testing.T) {
	env := newTestEnv(t, &fakeTrigger{
		typ:         connector.TriggerTypeWebhook,
		verifyOK:    true,
		webhookItem: map[string]any{"id": "issue-7", "title": "bug"},
	})
	subscription := activateTestFlow(t, env)
	ctx := context.Background()

	event, err := env.engine.HandleWebhook(ctx, subscription.ID, []byte(`{}`), nil)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, "issue-7", event.DedupKey)

	stored, err := env.persistence.Events().ByID(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TriggerEventStatusDispatched, stored.Status)

	jobs := env.queue.Pending()
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.JobTypeExecuteFlow, jobs[0].Type)

	payload, err := jobs[0].ExecuteFlow()
	require.NoError(t, err)
	assert.Equal(t, "flow-1", payload.FlowID)
	assert.Equal(t, "bug", payload.Context["trigger"].(map[string]any)["title"])

	executions, err := env.persistence.Executions().ByFlowID(ctx, "flow-1")
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, models.ExecutionStatusRunning, executions[0].Status)
	assert.Equal(t, 1, executions[0].FlowVersion)
}

func TestHandleWebhook_RedeliveryIsDeduplicated(t *testing.T) {
	env := newTestEnv(t, &fakeTrigger{
		typ:         connector.TriggerTypeWebhook,
		verifyOK:    true,
		webhookItem: map[string]any{"id": "issue-7"},
	})
	subscription := activateTestFlow(t, env)
	ctx := context.Background()

	first, err := env.engine.HandleWebhook(ctx, subscription.ID, []byte(`{}`), nil)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := env.engine.HandleWebhook(ctx, subscription.ID, []byte(`{}`), nil)
	require.NoError(t, err)
	assert.Nil(t, second)

	// Exactly one execution job despite two deliveries.
	assert.Len(t, env.queue.Pending(), 1)
}

func TestDispatchEvent_SecondDispatchLosesClaim(t *testing.T) {
	env := newTestEnv(t, &fakeTrigger{
		typ:         connector.TriggerTypeWebhook,
		verifyOK:    true,
		webhookItem: map[string]any{"id": "issue-9"},
	})
	subscription := activateTestFlow(t, env)
	ctx := context.Background()

	event, err := env.engine.HandleWebhook(ctx, subscription.ID, []byte(`{}`), nil)
	require.NoError(t, err)
	require.NotNil(t, event)

	// A reconciliation sweep racing the original dispatch loses the
	// pending->dispatched claim and must not start a second execution.
	execution, err := env.engine.DispatchEvent(ctx, event)
	require.NoError(t, err)
	assert.Nil(t, execution)

	executions, err := env.persistence.Executions().ByFlowID(ctx, "flow-1")
	require.NoError(t, err)
	assert.Len(t, executions, 1)
	assert.Len(t, env.queue.Pending(), 1)
}

func TestHandleWebhook_InvalidSignature(t *testing.T) {
	env := newTestEnv(t, &fakeTrigger{typ: connector.TriggerTypeWebhook, verifyOK: false})
	subscription := activateTestFlow(t, env)

	_, err := env.engine.HandleWebhook(context.Background(), subscription.ID, []byte(`{}`), nil)
	require.Error(t, err)

	var verification *flowerr.WebhookVerificationError
	require.ErrorAs(t, err, &verification)
	assert.Equal(t, subscription.ID, verification.SubscriptionID)
	assert.Empty(t, env.queue.Pending())
}

func TestHandleWebhook_PingIgnored(t *testing.T) {
	env := newTestEnv(t, &fakeTrigger{typ: connector.TriggerTypeWebhook, verifyOK: true, webhookItem: nil})
	subscription := activateTestFlow(t, env)

	event, err := env.engine.HandleWebhook(context.Background(), subscription.ID, []byte(`{"zen":"ping"}`), nil)
	require.NoError(t, err)
	assert.Nil(t, event)
	assert.Empty(t, env.queue.Pending())
}

func TestHandleWebhook_PausedSubscriptionIgnored(t *testing.T) {
	env := newTestEnv(t, &fakeTrigger{
		typ:         connector.TriggerTypeWebhook,
		verifyOK:    true,
		webhookItem: map[string]any{"id": "x"},
	})
	subscription := activateTestFlow(t, env)
	ctx := context.Background()

	require.NoError(t, env.engine.PauseSubscription(ctx, subscription.ID))

	event, err := env.engine.HandleWebhook(ctx, subscription.ID, []byte(`{}`), nil)
	require.NoError(t, err)
	assert.Nil(t, event)

	require.NoError(t, env.engine.ResumeSubscription(ctx, subscription.ID))

	event, err = env.engine.HandleWebhook(ctx, subscription.ID, []byte(`{}`), nil)
	require.NoError(t, err)
	assert.NotNil(t, event)
}

func TestHandleWebhook_FilteredItemIgnored(t *testing.T) {
	env := newTestEnv(t, &fakeTrigger{
		typ:         connector.TriggerTypeWebhook,
		verifyOK:    true,
		webhookItem: map[string]any{"id": "x", "state": "closed"},
	})
	ctx := context.Background()

	flow := testFlow()
	flow.Trigger.Filters = []models.FilterRule{{Field: "state", Operator: "eq", Value: "open"}}
	require.NoError(t, env.persistence.Flows().Save(ctx, flow))

	_, err := env.engine.ActivateFlow(ctx, "flow-1")
	require.NoError(t, err)

	subscriptions, err := env.persistence.Subscriptions().ByFlowID(ctx, "flow-1")
	require.NoError(t, err)

	event, err := env.engine.HandleWebhook(ctx, subscriptions[0].ID, []byte(`{}`), nil)
	require.NoError(t, err)
	assert.Nil(t, event)
	assert.Empty(t, env.queue.Pending())
}

func TestPoll_CursorAdvancesAndDedupAcrossWindows(t *testing.T) {
	env := newTestEnv(t, &fakeTrigger{
		typ: connector.TriggerTypePolling,
		pollResults: []*connector.PollResult{
			{
				Items: []map[string]any{{"id": 1.0}, {"id": 2.0}},
				State: map[string]any{"cursor": "a"},
			},
			{
				Items: []map[string]any{{"id": 2.0}, {"id": 3.0}},
				State: map[string]any{"cursor": "b"},
			},
		},
	})
	subscription := activateTestFlow(t, env)
	ctx := context.Background()

	require.NoError(t, env.engine.Poll(ctx, subscription.ID))
	assert.Len(t, env.queue.Pending(), 2)

	stored, err := env.persistence.Subscriptions().ByID(ctx, subscription.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", stored.PollingState["cursor"])
	require.NotNil(t, stored.NextPollAt)
	assert.True(t, stored.NextPollAt.After(time.Now()))
	assert.NotNil(t, stored.LastPolledAt)

	// Overlapping second window: only item 3 is new.
	require.NoError(t, env.engine.Poll(ctx, subscription.ID))
	assert.Len(t, env.queue.Pending(), 3)

	stored, err = env.persistence.Subscriptions().ByID(ctx, subscription.ID)
	require.NoError(t, err)
	assert.Equal(t, "b", stored.PollingState["cursor"])
}

func TestPoll_EmptyResultStillAdvancesCursor(t *testing.T) {
	env := newTestEnv(t, &fakeTrigger{
		typ: connector.TriggerTypePolling,
		pollResults: []*connector.PollResult{
			{Items: nil, State: map[string]any{"cursor": "advanced"}},
		},
	})
	subscription := activateTestFlow(t, env)
	ctx := context.Background()

	require.NoError(t, env.engine.Poll(ctx, subscription.ID))
	assert.Empty(t, env.queue.Pending())

	stored, err := env.persistence.Subscriptions().ByID(ctx, subscription.ID)
	require.NoError(t, err)
	assert.Equal(t, "advanced", stored.PollingState["cursor"])
}

func TestPoll_MissingSubscriptionIsNoop(t *testing.T) {
	env := newTestEnv(t, &fakeTrigger{typ: connector.TriggerTypePolling})

	assert.NoError(t, env.engine.Poll(context.Background(), "gone"))
}

func TestDeactivateFlow_RemovesSubscriptionAndWebhook(t *testing.T) {
	env := newTestEnv(t, &fakeTrigger{typ: connector.TriggerTypeWebhook, verifyOK: true})
	subscription := activateTestFlow(t, env)
	ctx := context.Background()

	flow, err := env.engine.DeactivateFlow(ctx, "flow-1")
	require.NoError(t, err)
	assert.Equal(t, models.FlowStatusDisabled, flow.Status)

	assert.Equal(t, []string{subscription.WebhookID}, env.trigger.unregistered)

	subscriptions, err := env.persistence.Subscriptions().ByFlowID(ctx, "flow-1")
	require.NoError(t, err)
	assert.Empty(t, subscriptions)
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	env := newTestEnv(t, &fakeTrigger{typ: connector.TriggerTypeWebhook})

	removed, err := env.engine.Unsubscribe(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestTriggerManually(t *testing.T) {
	env := newTestEnv(t, &fakeTrigger{typ: connector.TriggerTypeWebhook})
	activateTestFlow(t, env)
	ctx := context.Background()

	execution, err := env.engine.TriggerManually(ctx, "flow-1", map[string]any{"source": "ui"})
	require.NoError(t, err)
	assert.Empty(t, execution.TriggerEventID)
	assert.Equal(t, "ui", execution.Context["trigger"].(map[string]any)["source"])
}

func TestTriggerManually_InactiveFlow(t *testing.T) {
	env := newTestEnv(t, &fakeTrigger{typ: connector.TriggerTypeWebhook})
	ctx := context.Background()

	require.NoError(t, env.persistence.Flows().Save(ctx, testFlow()))

	_, err := env.engine.TriggerManually(ctx, "flow-1", nil)

	var notActive *flowerr.FlowNotActiveError
	require.ErrorAs(t, err, &notActive)
	assert.Equal(t, "flow-1", notActive.FlowID)
}

func TestTest_WebhookTriggerReturnsSample(t *testing.T) {
	env := newTestEnv(t, &fakeTrigger{typ: connector.TriggerTypeWebhook, canTest: false})

	items, err := env.engine.Test(context.Background(), "github", "new_issue", "", nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, true, items[0]["sample"])
}

func TestTest_PollingTriggerRunsLivePoll(t *testing.T) {
	env := newTestEnv(t, &fakeTrigger{
		typ:     connector.TriggerTypePolling,
		canTest: true,
		pollResults: []*connector.PollResult{
			{Items: []map[string]any{{"id": 1.0}}, State: map[string]any{}},
		},
	})

	items, err := env.engine.Test(context.Background(), "github", "new_issue", "", nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1.0, items[0]["id"])

	// A test never records events or executions.
	ctx := context.Background()
	pending, err := env.persistence.Events().PendingOlderThan(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, pending)
}
