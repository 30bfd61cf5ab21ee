// Package trigger manages the subscription lifecycle and event ingestion:
// flow activation, webhook handling, polling and event dispatch.
package trigger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/qbizns/Vodo.com-sub019/pkg/connector"
	"github.com/qbizns/Vodo.com-sub019/pkg/expression"
	"github.com/qbizns/Vodo.com-sub019/pkg/flowerr"
	"github.com/qbizns/Vodo.com-sub019/pkg/models"
	"github.com/qbizns/Vodo.com-sub019/pkg/persistence"
	"github.com/qbizns/Vodo.com-sub019/pkg/queue"
	"github.com/qbizns/Vodo.com-sub019/pkg/vault"
)

// Engine owns trigger subscriptions and event ingestion. All entry points
// funnel into dispatchEvent, which is the single place an execution is
// born.
type Engine struct {
	logger         *slog.Logger
	persistence    persistence.Persistence
	registry       *connector.Registry
	vault          vault.Vault
	queue          queue.Queue
	validator      *validator.Validate
	webhookBaseURL string
}

func NewEngine(
	logger *slog.Logger,
	p persistence.Persistence,
	registry *connector.Registry,
	v vault.Vault,
	q queue.Queue,
	webhookBaseURL string,
) *Engine {
	return &Engine{
		logger:         logger.With("module", "trigger"),
		persistence:    p,
		registry:       registry,
		vault:          v,
		queue:          q,
		validator:      validator.New(),
		webhookBaseURL: webhookBaseURL,
	}
}

// ActivateFlow validates the flow graph, snapshots it at the current
// version and creates the trigger subscription. Activating an already
// active flow is a no-op.
func (e *Engine) ActivateFlow(ctx context.Context, flowID string) (*models.Flow, error) {
	flow, err := e.persistence.Flows().ByID(ctx, flowID)
	if err != nil {
		return nil, err
	}

	if flow.IsActive() {
		return flow, nil
	}

	if err := e.validator.Struct(flow); err != nil {
		return nil, flowerr.NewValidationError("flow", err.Error())
	}

	graph := flow.Graph()
	if err := graph.Validate(); err != nil {
		return nil, flowerr.NewValidationError("graph", err.Error())
	}

	for _, edge := range graph.Edges {
		if err := expression.ValidateCondition(edge.Condition); err != nil {
			return nil, flowerr.NewValidationError("edges."+edge.ID, err.Error())
		}
	}

	if err := e.persistence.Flows().SaveVersion(ctx, graph); err != nil {
		return nil, err
	}

	if flow.Trigger != nil {
		if _, err := e.subscribe(ctx, flow); err != nil {
			return nil, err
		}
	}

	flow.Status = models.FlowStatusActive
	if err := e.persistence.Flows().Save(ctx, flow); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Flow activated", "flow_id", flow.ID, "version", flow.Version)

	return flow, nil
}

// DeactivateFlow removes the flow's subscriptions and disables it.
// In-flight executions are unaffected; they run on their pinned snapshot.
func (e *Engine) DeactivateFlow(ctx context.Context, flowID string) (*models.Flow, error) {
	flow, err := e.persistence.Flows().ByID(ctx, flowID)
	if err != nil {
		return nil, err
	}

	if !flow.IsActive() {
		return flow, nil
	}

	subscriptions, err := e.persistence.Subscriptions().ByFlowID(ctx, flowID)
	if err != nil {
		return nil, err
	}

	for _, subscription := range subscriptions {
		if _, err := e.Unsubscribe(ctx, subscription.ID); err != nil {
			e.logger.WarnContext(ctx, "Failed to remove subscription during deactivation",
				"subscription_id", subscription.ID, "error", err)
		}
	}

	flow.Status = models.FlowStatusDisabled
	if err := e.persistence.Flows().Save(ctx, flow); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Flow deactivated", "flow_id", flow.ID)

	return flow, nil
}

// subscribe creates the subscription for the flow's trigger. For webhook
// triggers the provider registration happens before the subscription is
// saved; a registration failure leaves no half-alive subscription behind.
func (e *Engine) subscribe(ctx context.Context, flow *models.Flow) (*models.TriggerSubscription, error) {
	cfg := flow.Trigger

	trig, err := e.registry.Trigger(cfg.ConnectorID, cfg.TriggerName)
	if err != nil {
		return nil, err
	}

	if err := validateConfig(trig.Schema(), cfg.Config); err != nil {
		return nil, err
	}

	subscription := &models.TriggerSubscription{
		ID:            uuid.New().String(),
		TenantID:      flow.TenantID,
		FlowID:        flow.ID,
		ConnectorID:   cfg.ConnectorID,
		TriggerName:   cfg.TriggerName,
		ConnectionID:  cfg.ConnectionID,
		Status:        models.SubscriptionStatusActive,
		Config:        cfg.Config,
		Filters:       cfg.Filters,
		WebhookSecret: newWebhookSecret(),
	}

	creds, err := e.credentials(ctx, cfg.ConnectionID)
	if err != nil {
		return nil, err
	}

	switch trig.Type() {
	case connector.TriggerTypeWebhook:
		callbackURL := fmt.Sprintf("%s/integration/webhook/%s", e.webhookBaseURL, subscription.ID)

		registration, err := trig.RegisterWebhook(ctx, creds, callbackURL, cfg.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to register webhook: %w", err)
		}

		subscription.WebhookID = registration.WebhookID
	case connector.TriggerTypePolling:
		now := time.Now().UTC()
		subscription.NextPollAt = &now
	}

	if err := e.persistence.Subscriptions().Save(ctx, subscription); err != nil {
		// The provider-side webhook is now orphaned; undo it.
		if subscription.WebhookID != "" {
			if unregErr := trig.UnregisterWebhook(ctx, creds, subscription.WebhookID); unregErr != nil {
				e.logger.ErrorContext(ctx, "Failed to unregister webhook after save failure",
					"subscription_id", subscription.ID, "error", unregErr)
			}
		}

		return nil, err
	}

	e.logger.InfoContext(ctx, "Subscription created",
		"subscription_id", subscription.ID, "flow_id", flow.ID,
		"connector_id", cfg.ConnectorID, "trigger", cfg.TriggerName)

	return subscription, nil
}

// Unsubscribe tears a subscription down. It is idempotent and best
// effort: a missing subscription reports false without error, and a
// failed provider-side unregistration is logged but does not keep the
// local record alive.
func (e *Engine) Unsubscribe(ctx context.Context, subscriptionID string) (bool, error) {
	subscription, err := e.persistence.Subscriptions().ByID(ctx, subscriptionID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return false, nil
		}

		return false, err
	}

	if subscription.WebhookID != "" {
		trig, err := e.registry.Trigger(subscription.ConnectorID, subscription.TriggerName)
		if err == nil {
			creds, credErr := e.credentials(ctx, subscription.ConnectionID)
			if credErr == nil {
				if unregErr := trig.UnregisterWebhook(ctx, creds, subscription.WebhookID); unregErr != nil {
					e.logger.WarnContext(ctx, "Failed to unregister webhook, removing subscription anyway",
						"subscription_id", subscriptionID, "webhook_id", subscription.WebhookID, "error", unregErr)
				}
			}
		}
	}

	if err := e.persistence.Subscriptions().Delete(ctx, subscriptionID); err != nil {
		if persistence.IsNotFound(err) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

// PauseSubscription stops event processing without tearing down the
// provider-side webhook.
func (e *Engine) PauseSubscription(ctx context.Context, subscriptionID string) error {
	subscription, err := e.persistence.Subscriptions().ByID(ctx, subscriptionID)
	if err != nil {
		return err
	}

	subscription.Status = models.SubscriptionStatusPaused
	subscription.NextPollAt = nil

	return e.persistence.Subscriptions().Save(ctx, subscription)
}

// ResumeSubscription reactivates a paused subscription. Polling restarts
// immediately; missed webhook deliveries are not replayed.
func (e *Engine) ResumeSubscription(ctx context.Context, subscriptionID string) error {
	subscription, err := e.persistence.Subscriptions().ByID(ctx, subscriptionID)
	if err != nil {
		return err
	}

	subscription.Status = models.SubscriptionStatusActive

	trig, err := e.registry.Trigger(subscription.ConnectorID, subscription.TriggerName)
	if err != nil {
		return err
	}

	if trig.Type() == connector.TriggerTypePolling {
		now := time.Now().UTC()
		subscription.NextPollAt = &now
	}

	return e.persistence.Subscriptions().Save(ctx, subscription)
}

// Test exercises a trigger configuration without recording events. A
// pollable trigger runs one live poll from an empty cursor; webhook
// triggers answer with their static sample.
func (e *Engine) Test(ctx context.Context, connectorID, triggerName, connectionID string, config map[string]any) ([]map[string]any, error) {
	trig, err := e.registry.Trigger(connectorID, triggerName)
	if err != nil {
		return nil, err
	}

	if err := validateConfig(trig.Schema(), config); err != nil {
		return nil, err
	}

	if !trig.CanTest() {
		return []map[string]any{trig.SampleOutput()}, nil
	}

	creds, err := e.credentials(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	result, err := trig.Poll(ctx, creds, config, nil)
	if err != nil {
		return nil, err
	}

	return result.Items, nil
}

func (e *Engine) credentials(ctx context.Context, connectionID string) (vault.Credentials, error) {
	if connectionID == "" {
		return nil, nil
	}

	return e.vault.Retrieve(ctx, connectionID)
}

func validateConfig(schema, config map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(config),
	)
	if err != nil {
		return flowerr.NewValidationError("config", err.Error())
	}

	if !result.Valid() {
		return flowerr.NewValidationError("config", result.Errors()[0].String())
	}

	return nil
}

func newWebhookSecret() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)

	return hex.EncodeToString(buf)
}
