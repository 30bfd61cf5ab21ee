package trigger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/qbizns/Vodo.com-sub019/pkg/connector"
	"github.com/qbizns/Vodo.com-sub019/pkg/flowerr"
	"github.com/qbizns/Vodo.com-sub019/pkg/models"
	"github.com/qbizns/Vodo.com-sub019/pkg/persistence"
	"github.com/qbizns/Vodo.com-sub019/pkg/queue"
)

// HandleWebhook processes one inbound webhook delivery. The returned
// event is nil when the delivery was legitimately ignored: paused
// subscription, ping payload, filtered item or a dedup hit. Redelivery
// of the same logical event is therefore always answered with success.
func (e *Engine) HandleWebhook(ctx context.Context, subscriptionID string, rawPayload []byte, headers map[string]string) (*models.TriggerEvent, error) {
	subscription, err := e.persistence.Subscriptions().ByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	if !subscription.IsActive() {
		e.logger.DebugContext(ctx, "Ignoring delivery for paused subscription",
			"subscription_id", subscriptionID)

		return nil, nil
	}

	trig, err := e.registry.Trigger(subscription.ConnectorID, subscription.TriggerName)
	if err != nil {
		return nil, err
	}

	creds, err := e.credentials(ctx, subscription.ConnectionID)
	if err != nil {
		return nil, err
	}

	if !trig.VerifyWebhook(rawPayload, headers, creds) {
		return nil, &flowerr.WebhookVerificationError{SubscriptionID: subscriptionID}
	}

	item, err := trig.ProcessWebhook(rawPayload, headers, subscription.Config)
	if err != nil {
		return nil, flowerr.NewValidationError("payload", err.Error())
	}

	if item == nil {
		return nil, nil
	}

	return e.ingestItem(ctx, subscription, trig, item)
}

// Poll runs one poll cycle for a subscription: fetch items with the
// stored cursor, replace the cursor unconditionally, ingest what passed
// the filters and schedule the next cycle.
func (e *Engine) Poll(ctx context.Context, subscriptionID string) error {
	subscription, err := e.persistence.Subscriptions().ByID(ctx, subscriptionID)
	if err != nil {
		if persistence.IsNotFound(err) {
			// Subscription removed while the job was queued.
			return nil
		}

		return err
	}

	if !subscription.IsActive() {
		return nil
	}

	trig, err := e.registry.Trigger(subscription.ConnectorID, subscription.TriggerName)
	if err != nil {
		return err
	}

	creds, err := e.credentials(ctx, subscription.ConnectionID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	result, err := trig.Poll(ctx, creds, subscription.Config, subscription.PollingState)
	if err != nil {
		// Keep the cadence alive even when the provider is down; the
		// cursor stays untouched so nothing is skipped.
		e.scheduleNextPoll(ctx, subscription, trig, now)

		return err
	}

	// The cursor replaces the stored one even on an empty poll. A cursor
	// that only moved on matches would re-fetch the same window forever.
	subscription.PollingState = result.State
	subscription.LastPolledAt = &now
	next := now.Add(pollingInterval(trig))
	subscription.NextPollAt = &next

	if err := e.persistence.Subscriptions().Save(ctx, subscription); err != nil {
		return err
	}

	for _, item := range result.Items {
		if _, err := e.ingestItem(ctx, subscription, trig, item); err != nil {
			e.logger.ErrorContext(ctx, "Failed to ingest polled item",
				"subscription_id", subscription.ID, "error", err)
		}
	}

	return nil
}

func (e *Engine) scheduleNextPoll(ctx context.Context, subscription *models.TriggerSubscription, trig connector.Trigger, now time.Time) {
	next := now.Add(pollingInterval(trig))
	subscription.NextPollAt = &next

	if err := e.persistence.Subscriptions().Save(ctx, subscription); err != nil {
		e.logger.ErrorContext(ctx, "Failed to reschedule poll",
			"subscription_id", subscription.ID, "error", err)
	}
}

func pollingInterval(trig connector.Trigger) time.Duration {
	if interval := trig.PollingInterval(); interval > 0 {
		return interval
	}

	return connector.DefaultPollingInterval
}

// ingestItem filters, deduplicates and dispatches one trigger item. A
// dedup hit returns (nil, nil): the item was already handled.
func (e *Engine) ingestItem(ctx context.Context, subscription *models.TriggerSubscription, trig connector.Trigger, item map[string]any) (*models.TriggerEvent, error) {
	if !trig.ApplyFilters(item, subscription.Filters) {
		return nil, nil
	}

	dedupKey := trig.DeduplicationKey(item)
	if dedupKey == "" {
		dedupKey = models.DeriveDedupKey(item)
	}

	event := &models.TriggerEvent{
		ID:             uuid.New().String(),
		SubscriptionID: subscription.ID,
		FlowID:         subscription.FlowID,
		Data:           item,
		DedupKey:       dedupKey,
		Status:         models.TriggerEventStatusPending,
		CreatedAt:      time.Now().UTC(),
	}

	if err := e.persistence.Events().Save(ctx, event); err != nil {
		if persistence.IsDuplicateEvent(err) {
			e.logger.DebugContext(ctx, "Duplicate event suppressed",
				"subscription_id", subscription.ID, "dedup_key", dedupKey)

			return nil, nil
		}

		return nil, err
	}

	if _, err := e.DispatchEvent(ctx, event); err != nil {
		return nil, err
	}

	return event, nil
}

// DispatchEvent turns a pending event into a running execution and
// enqueues its execute job. Events against flows that are no longer
// active are marked ignored instead. The pending->dispatched transition
// is claimed before the execution starts, so a redelivery or a racing
// reconciliation sweep cannot start a second execution for the event.
func (e *Engine) DispatchEvent(ctx context.Context, event *models.TriggerEvent) (*models.FlowExecution, error) {
	flow, err := e.persistence.Flows().ByID(ctx, event.FlowID)
	if err != nil {
		return nil, err
	}

	if !flow.IsActive() {
		err := e.persistence.Events().UpdateStatus(ctx, event.ID,
			models.TriggerEventStatusPending, models.TriggerEventStatusIgnored)
		if err != nil {
			if persistence.IsStatusConflict(err) {
				return nil, nil
			}

			return nil, err
		}

		e.logger.InfoContext(ctx, "Event ignored, flow not active",
			"event_id", event.ID, "flow_id", flow.ID, "flow_status", flow.Status)

		return nil, nil
	}

	err = e.persistence.Events().UpdateStatus(ctx, event.ID,
		models.TriggerEventStatusPending, models.TriggerEventStatusDispatched)
	if err != nil {
		if persistence.IsStatusConflict(err) {
			e.logger.DebugContext(ctx, "Event already dispatched elsewhere", "event_id", event.ID)

			return nil, nil
		}

		return nil, err
	}

	return e.startExecution(ctx, flow, event.ID, map[string]any{
		models.ContextKeyTrigger: event.Data,
	})
}

// TriggerManually starts an execution outside the subscription path,
// seeding the trigger context entry with caller-provided data.
func (e *Engine) TriggerManually(ctx context.Context, flowID string, data map[string]any) (*models.FlowExecution, error) {
	flow, err := e.persistence.Flows().ByID(ctx, flowID)
	if err != nil {
		return nil, err
	}

	if !flow.IsActive() {
		return nil, &flowerr.FlowNotActiveError{FlowID: flow.ID, Status: string(flow.Status)}
	}

	if data == nil {
		data = map[string]any{}
	}

	return e.startExecution(ctx, flow, "", map[string]any{
		models.ContextKeyTrigger: data,
	})
}

func (e *Engine) startExecution(ctx context.Context, flow *models.Flow, triggerEventID string, executionContext map[string]any) (*models.FlowExecution, error) {
	// The snapshot for the current version may not exist yet when the
	// flow was edited while active; SaveVersion is idempotent.
	if err := e.persistence.Flows().SaveVersion(ctx, flow.Graph()); err != nil {
		return nil, err
	}

	execution := &models.FlowExecution{
		ID:             uuid.New().String(),
		TenantID:       flow.TenantID,
		FlowID:         flow.ID,
		FlowVersion:    flow.Version,
		TriggerEventID: triggerEventID,
		Status:         models.ExecutionStatusRunning,
		Context:        executionContext,
		StartedAt:      time.Now().UTC(),
	}

	if err := e.persistence.Executions().Save(ctx, execution); err != nil {
		return nil, err
	}

	job := queue.NewExecuteFlowJob(execution.ID, flow.ID, execution.Context)
	if err := e.queue.Enqueue(ctx, job); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Execution started",
		"execution_id", execution.ID, "flow_id", flow.ID, "flow_version", flow.Version)

	return execution, nil
}
