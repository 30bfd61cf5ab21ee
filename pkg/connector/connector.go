// Package connector defines the capability contracts connectors implement
// and the registry that resolves (connector, name) pairs to handlers. The
// connector catalog itself is an external collaborator; this package only
// fixes the contract the engine consumes.
package connector

import (
	"context"
	"time"

	"github.com/qbizns/Vodo.com-sub019/pkg/models"
	"github.com/qbizns/Vodo.com-sub019/pkg/vault"
)

// TriggerType distinguishes how a trigger produces events.
type TriggerType string

const (
	TriggerTypeWebhook TriggerType = "webhook"
	TriggerTypePolling TriggerType = "polling"
)

// WebhookRegistration is the provider's answer to a webhook registration.
type WebhookRegistration struct {
	WebhookID string `json:"webhook_id"`
}

// PollResult carries the items of one poll cycle plus the replacement
// cursor. The returned state always replaces the stored one, even when
// Items is empty, so the cursor advances monotonically.
type PollResult struct {
	Items []map[string]any `json:"items"`
	State map[string]any   `json:"state"`
}

// Trigger is a connector capability that produces events.
type Trigger interface {
	// Type reports whether this trigger is webhook- or polling-based.
	Type() TriggerType

	// RegisterWebhook registers the callback URL with the external service
	// and returns the provider-assigned webhook id. Polling triggers
	// return an error.
	RegisterWebhook(ctx context.Context, creds vault.Credentials, callbackURL string, config map[string]any) (*WebhookRegistration, error)

	// UnregisterWebhook removes a previously registered webhook.
	UnregisterWebhook(ctx context.Context, creds vault.Credentials, webhookID string) error

	// VerifyWebhook checks the delivery's signature against the
	// subscription's credentials.
	VerifyWebhook(rawPayload []byte, headers map[string]string, creds vault.Credentials) bool

	// ProcessWebhook transforms a raw delivery into a normalized item. A
	// nil item means "ignore this delivery" (e.g. a ping event).
	ProcessWebhook(rawPayload []byte, headers map[string]string, config map[string]any) (map[string]any, error)

	// Poll fetches new items using the stored cursor.
	Poll(ctx context.Context, creds vault.Credentials, config map[string]any, state map[string]any) (*PollResult, error)

	// DeduplicationKey derives the semantic dedup key for an item. An
	// empty string falls back to hashing the item. Polling triggers must
	// supply a semantic key.
	DeduplicationKey(item map[string]any) string

	// ApplyFilters reports whether the item passes the subscription's
	// filters.
	ApplyFilters(item map[string]any, filters []models.FilterRule) bool

	// PollingInterval is the delay before the next self-scheduled poll.
	PollingInterval() time.Duration

	// CanTest reports whether Test can produce live items synchronously.
	CanTest() bool

	// SampleOutput returns a static representative item for webhook
	// triggers, which cannot be invoked on demand.
	SampleOutput() map[string]any

	// Schema describes the trigger's configuration as JSON Schema.
	Schema() map[string]any
}

// Action is a connector capability performing a side-effecting operation.
type Action interface {
	// Execute runs the action with input already resolved from the
	// execution context.
	Execute(ctx context.Context, creds vault.Credentials, input map[string]any) (map[string]any, error)

	// Schema describes the action's input as JSON Schema.
	Schema() map[string]any
}

// DefaultPollingInterval applies when a trigger declares no interval.
const DefaultPollingInterval = 300 * time.Second
