// Package slack provides a Slack-style webhook connector: an event
// trigger with signed-request verification and a message posting action.
package slack

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/qbizns/Vodo.com-sub019/pkg/connector"
	"github.com/qbizns/Vodo.com-sub019/pkg/flowerr"
	"github.com/qbizns/Vodo.com-sub019/pkg/vault"
)

const ConnectorID = "slack"

const (
	signatureHeader = "X-Slack-Signature"
	timestampHeader = "X-Slack-Request-Timestamp"
	signingVersion  = "v0"

	// Deliveries older than this are replays and fail verification.
	maxSignatureAge = 5 * time.Minute
)

// EventTrigger receives Slack Events API deliveries. Verification follows
// the signed-secrets scheme: HMAC-SHA256 over "v0:<timestamp>:<body>"
// keyed with the signing secret from the connection credentials.
type EventTrigger struct {
	connector.WebhookBase

	client *resty.Client
	now    func() time.Time
}

func NewEventTrigger() *EventTrigger {
	return &EventTrigger{
		client: resty.New().SetTimeout(30 * time.Second),
		now:    time.Now,
	}
}

func (t *EventTrigger) Type() connector.TriggerType { return connector.TriggerTypeWebhook }

// RegisterWebhook announces the callback URL to the workspace's admin
// endpoint when the subscription config carries one. Workspaces wired
// manually skip the call and get a locally scoped registration id.
func (t *EventTrigger) RegisterWebhook(ctx context.Context, creds vault.Credentials, callbackURL string, config map[string]any) (*connector.WebhookRegistration, error) {
	adminURL, _ := config["registration_url"].(string)
	if adminURL == "" {
		return &connector.WebhookRegistration{WebhookID: "manual"}, nil
	}

	var result struct {
		ID string `json:"id"`
	}

	resp, err := t.client.R().
		SetContext(ctx).
		SetAuthToken(creds.String("token")).
		SetBody(map[string]any{"url": callbackURL}).
		SetResult(&result).
		Post(adminURL)
	if err != nil {
		return nil, flowerr.NewTemporaryError(err)
	}

	if resp.IsError() {
		return nil, fmt.Errorf("webhook registration returned %d", resp.StatusCode())
	}

	if result.ID == "" {
		return nil, fmt.Errorf("webhook registration returned no id")
	}

	return &connector.WebhookRegistration{WebhookID: result.ID}, nil
}

func (t *EventTrigger) UnregisterWebhook(ctx context.Context, creds vault.Credentials, webhookID string) error {
	if webhookID == "manual" {
		return nil
	}

	adminURL := creds.String("registration_url")
	if adminURL == "" {
		return nil
	}

	resp, err := t.client.R().
		SetContext(ctx).
		SetAuthToken(creds.String("token")).
		Delete(adminURL + "/" + webhookID)
	if err != nil {
		return flowerr.NewTemporaryError(err)
	}

	if resp.IsError() {
		return fmt.Errorf("webhook removal returned %d", resp.StatusCode())
	}

	return nil
}

func (t *EventTrigger) VerifyWebhook(rawPayload []byte, headers map[string]string, creds vault.Credentials) bool {
	secret := creds.String("signing_secret")
	if secret == "" {
		return false
	}

	timestamp := headers[timestampHeader]
	signature := headers[signatureHeader]

	if timestamp == "" || signature == "" {
		return false
	}

	var unix int64
	if _, err := fmt.Sscanf(timestamp, "%d", &unix); err != nil {
		return false
	}

	age := t.now().UTC().Sub(time.Unix(unix, 0).UTC())
	if age > maxSignatureAge || age < -maxSignatureAge {
		return false
	}

	expected := Sign(secret, timestamp, rawPayload)

	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign computes the signed-secrets signature for a delivery.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s:%s:", signingVersion, timestamp)
	mac.Write(body)

	return signingVersion + "=" + hex.EncodeToString(mac.Sum(nil))
}

// ProcessWebhook normalizes a delivery. URL-verification handshakes are
// ignored (nil item); event callbacks yield the inner event object.
func (t *EventTrigger) ProcessWebhook(rawPayload []byte, _ map[string]string, _ map[string]any) (map[string]any, error) {
	var envelope struct {
		Type    string         `json:"type"`
		EventID string         `json:"event_id"`
		Event   map[string]any `json:"event"`
	}

	if err := json.Unmarshal(rawPayload, &envelope); err != nil {
		return nil, fmt.Errorf("delivery is not JSON: %w", err)
	}

	switch envelope.Type {
	case "url_verification":
		return nil, nil
	case "event_callback":
		if envelope.Event == nil {
			return nil, fmt.Errorf("event_callback without event")
		}

		if envelope.EventID != "" {
			envelope.Event["event_id"] = envelope.EventID
		}

		return envelope.Event, nil
	default:
		return nil, fmt.Errorf("unsupported delivery type %q", envelope.Type)
	}
}

func (t *EventTrigger) DeduplicationKey(item map[string]any) string {
	eventID, _ := item["event_id"].(string)

	return eventID
}

func (t *EventTrigger) SampleOutput() map[string]any {
	return map[string]any{
		"event_id": "Ev12345",
		"type":     "message",
		"channel":  "C024BE91L",
		"text":     "Hello world",
		"user":     "U2147483697",
	}
}

func (t *EventTrigger) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"registration_url": map[string]any{"type": "string", "format": "uri"},
			"event_types":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
	}
}
