package connector

import (
	"context"
	"errors"
	"time"

	"github.com/qbizns/Vodo.com-sub019/pkg/models"
	"github.com/qbizns/Vodo.com-sub019/pkg/vault"
)

// ErrNotSupported is returned by capability methods that do not apply to a
// trigger's type, e.g. webhook registration on a polling trigger.
var ErrNotSupported = errors.New("operation not supported by this trigger type")

// PollingBase provides the webhook side of the Trigger contract for
// polling triggers. Embedders implement Type, Poll, DeduplicationKey,
// PollingInterval, Schema and the test surface.
type PollingBase struct{}

func (PollingBase) RegisterWebhook(context.Context, vault.Credentials, string, map[string]any) (*WebhookRegistration, error) {
	return nil, ErrNotSupported
}

func (PollingBase) UnregisterWebhook(context.Context, vault.Credentials, string) error {
	return ErrNotSupported
}

func (PollingBase) VerifyWebhook([]byte, map[string]string, vault.Credentials) bool {
	return false
}

func (PollingBase) ProcessWebhook([]byte, map[string]string, map[string]any) (map[string]any, error) {
	return nil, ErrNotSupported
}

func (PollingBase) ApplyFilters(item map[string]any, filters []models.FilterRule) bool {
	return EvalFilters(item, filters)
}

// WebhookBase provides the polling side of the Trigger contract for
// webhook triggers.
type WebhookBase struct{}

func (WebhookBase) Poll(context.Context, vault.Credentials, map[string]any, map[string]any) (*PollResult, error) {
	return nil, ErrNotSupported
}

func (WebhookBase) PollingInterval() time.Duration {
	return DefaultPollingInterval
}

func (WebhookBase) ApplyFilters(item map[string]any, filters []models.FilterRule) bool {
	return EvalFilters(item, filters)
}

func (WebhookBase) CanTest() bool {
	return false
}
