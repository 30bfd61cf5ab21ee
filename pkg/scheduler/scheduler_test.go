package scheduler

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbizns/Vodo.com-sub019/pkg/models"
	"github.com/qbizns/Vodo.com-sub019/pkg/persistence/file"
	"github.com/qbizns/Vodo.com-sub019/pkg/queue"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []string
}

func (d *recordingDispatcher) DispatchEvent(_ context.Context, event *models.TriggerEvent) (*models.FlowExecution, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.events = append(d.events, event.ID)

	return nil, nil
}

func (d *recordingDispatcher) dispatched() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]string(nil), d.events...)
}

type schedulerEnv struct {
	scheduler   *Scheduler
	persistence *file.Persistence
	queue       *queue.MemoryQueue
	dispatcher  *recordingDispatcher
}

func newSchedulerEnv(t *testing.T) *schedulerEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	p := file.NewPersistence(t.TempDir())
	q := queue.NewMemoryQueue()
	dispatcher := &recordingDispatcher{}

	return &schedulerEnv{
		scheduler:   New(logger, p, q, dispatcher),
		persistence: p,
		queue:       q,
		dispatcher:  dispatcher,
	}
}

func TestScheduler_SweepEnqueuesDuePolls(t *testing.T) {
	env := newSchedulerEnv(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)

	require.NoError(t, env.persistence.Subscriptions().Save(ctx, &models.TriggerSubscription{
		ID: "due", FlowID: "flow-1", ConnectorID: "feed", TriggerName: "entries",
		Status: models.SubscriptionStatusActive, NextPollAt: &past,
	}))
	require.NoError(t, env.persistence.Subscriptions().Save(ctx, &models.TriggerSubscription{
		ID: "later", FlowID: "flow-1", ConnectorID: "feed", TriggerName: "entries",
		Status: models.SubscriptionStatusActive, NextPollAt: &future,
	}))
	require.NoError(t, env.persistence.Subscriptions().Save(ctx, &models.TriggerSubscription{
		ID: "paused", FlowID: "flow-1", ConnectorID: "feed", TriggerName: "entries",
		Status: models.SubscriptionStatusPaused, NextPollAt: &past,
	}))

	env.scheduler.sweep(ctx)

	pending := env.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, queue.JobTypePollTrigger, pending[0].Type)

	payload, err := pending[0].PollTrigger()
	require.NoError(t, err)
	assert.Equal(t, "due", payload.SubscriptionID)

	// The claim pushed the due time forward, so a second sweep enqueues
	// nothing new.
	env.scheduler.sweep(ctx)
	assert.Len(t, env.queue.Pending(), 1)
}

func TestScheduler_SweepEnqueuesDueResumes(t *testing.T) {
	env := newSchedulerEnv(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)

	require.NoError(t, env.persistence.Executions().Save(ctx, &models.FlowExecution{
		ID: "exec-due", FlowID: "flow-1", Status: models.ExecutionStatusWaiting,
		WaitNodeID: "w1", ResumeAt: &past, Context: map[string]any{}, StartedAt: past,
	}))
	require.NoError(t, env.persistence.Executions().Save(ctx, &models.FlowExecution{
		ID: "exec-later", FlowID: "flow-1", Status: models.ExecutionStatusWaiting,
		WaitNodeID: "w1", ResumeAt: &future, Context: map[string]any{}, StartedAt: past,
	}))
	require.NoError(t, env.persistence.Executions().Save(ctx, &models.FlowExecution{
		ID: "exec-manual", FlowID: "flow-1", Status: models.ExecutionStatusWaiting,
		WaitNodeID: "w1", Context: map[string]any{}, StartedAt: past,
	}))

	env.scheduler.sweep(ctx)

	pending := env.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, queue.JobTypeResumeFlow, pending[0].Type)

	payload, err := pending[0].ResumeFlow()
	require.NoError(t, err)
	assert.Equal(t, "exec-due", payload.ExecutionID)

	env.scheduler.sweep(ctx)
	assert.Len(t, env.queue.Pending(), 1)
}

func TestScheduler_SweepRedispatchesStuckEvents(t *testing.T) {
	env := newSchedulerEnv(t)
	ctx := context.Background()

	require.NoError(t, env.persistence.Events().Save(ctx, &models.TriggerEvent{
		ID: "evt-stuck", SubscriptionID: "sub-1", FlowID: "flow-1",
		DedupKey: "k1", Status: models.TriggerEventStatusPending,
		CreatedAt: time.Now().UTC().Add(-5 * time.Minute),
	}))
	require.NoError(t, env.persistence.Events().Save(ctx, &models.TriggerEvent{
		ID: "evt-fresh", SubscriptionID: "sub-1", FlowID: "flow-1",
		DedupKey: "k2", Status: models.TriggerEventStatusPending,
		CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, env.persistence.Events().Save(ctx, &models.TriggerEvent{
		ID: "evt-done", SubscriptionID: "sub-1", FlowID: "flow-1",
		DedupKey: "k3", Status: models.TriggerEventStatusDispatched,
		CreatedAt: time.Now().UTC().Add(-5 * time.Minute),
	}))

	env.scheduler.sweep(ctx)

	assert.Equal(t, []string{"evt-stuck"}, env.dispatcher.dispatched())
}

func TestScheduler_StartStop(t *testing.T) {
	env := newSchedulerEnv(t)
	env.scheduler.sweepInterval = 10 * time.Millisecond

	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, env.persistence.Subscriptions().Save(ctx, &models.TriggerSubscription{
		ID: "due", FlowID: "flow-1", ConnectorID: "feed", TriggerName: "entries",
		Status: models.SubscriptionStatusActive, NextPollAt: &past,
	}))

	env.scheduler.Start(ctx)

	require.Eventually(t, func() bool {
		return len(env.queue.Pending()) == 1
	}, time.Second, 5*time.Millisecond)

	env.scheduler.Stop()
}
