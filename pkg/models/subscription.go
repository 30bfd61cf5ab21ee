package models

import "time"

// SubscriptionStatus represents the lifecycle state of a trigger subscription.
// Subscriptions are paused and resumed independently of the flow's own status.
type SubscriptionStatus string

const (
	SubscriptionStatusActive SubscriptionStatus = "active"
	SubscriptionStatusPaused SubscriptionStatus = "paused"
)

// TriggerSubscription binds a flow to one live (connector, trigger,
// connection) instance. It is created when a trigger-bearing flow is
// activated and deleted when the flow is deactivated or removed.
type TriggerSubscription struct {
	ID           string             `json:"id"`
	TenantID     string             `json:"tenant_id"`
	FlowID       string             `json:"flow_id"      validate:"required"`
	ConnectorID  string             `json:"connector_id" validate:"required"`
	TriggerName  string             `json:"trigger_name" validate:"required"`
	ConnectionID string             `json:"connection_id"`
	Status       SubscriptionStatus `json:"status"`
	Config       map[string]any     `json:"config"`
	Filters      []FilterRule       `json:"filters,omitempty"`

	// WebhookID is the provider-assigned id returned by registerWebhook.
	// Empty for polling triggers.
	WebhookID string `json:"webhook_id,omitempty"`

	// WebhookSecret is generated for every subscription, including polling
	// ones, for forward compatibility.
	WebhookSecret string `json:"webhook_secret,omitempty"`

	// PollingState is an opaque cursor owned by the trigger implementation.
	// It always advances, never reverts, even when a poll yields no events.
	PollingState map[string]any `json:"polling_state,omitempty"`

	LastPolledAt *time.Time `json:"last_polled_at,omitempty"`

	// NextPollAt gates the self-rescheduling poll sweep. Nil while a poll
	// job is in flight.
	NextPollAt *time.Time `json:"next_poll_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive reports whether events and polls may be processed.
func (s *TriggerSubscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive
}
