package slack

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/qbizns/Vodo.com-sub019/pkg/flowerr"
	"github.com/qbizns/Vodo.com-sub019/pkg/vault"
)

// PostMessageAction delivers a message to an incoming webhook URL.
//
// Input:
//
//	text     message text (required)
//	channel  optional channel override
type PostMessageAction struct {
	client *resty.Client
}

func NewPostMessageAction() *PostMessageAction {
	return &PostMessageAction{client: resty.New().SetTimeout(30 * time.Second)}
}

func (a *PostMessageAction) Execute(ctx context.Context, creds vault.Credentials, input map[string]any) (map[string]any, error) {
	webhookURL := creds.String("webhook_url")
	if webhookURL == "" {
		webhookURL, _ = input["webhook_url"].(string)
	}

	if webhookURL == "" {
		return nil, flowerr.NewValidationError("webhook_url", "no webhook URL in connection or input")
	}

	text, _ := input["text"].(string)
	if text == "" {
		return nil, flowerr.NewValidationError("text", "text is required")
	}

	body := map[string]any{"text": text}
	if channel, ok := input["channel"].(string); ok && channel != "" {
		body["channel"] = channel
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(webhookURL)
	if err != nil {
		return nil, flowerr.NewTemporaryError(err)
	}

	if resp.StatusCode() == 429 {
		return nil, &flowerr.RateLimitError{RetryAfter: time.Minute, Err: fmt.Errorf("webhook returned 429")}
	}

	if resp.IsError() {
		return nil, flowerr.NewTemporaryError(fmt.Errorf("webhook returned %d", resp.StatusCode()))
	}

	return map[string]any{"delivered": true, "status_code": resp.StatusCode()}, nil
}

func (a *PostMessageAction) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"text"},
		"properties": map[string]any{
			"text":        map[string]any{"type": "string"},
			"channel":     map[string]any{"type": "string"},
			"webhook_url": map[string]any{"type": "string", "format": "uri"},
		},
	}
}
