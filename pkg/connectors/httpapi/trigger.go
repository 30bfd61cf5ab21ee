// Package httpapi provides the built-in HTTP connector: a polling trigger
// over JSON endpoints and a generic request action.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Jeffail/gabs/v2"
	"github.com/go-resty/resty/v2"

	"github.com/qbizns/Vodo.com-sub019/pkg/connector"
	"github.com/qbizns/Vodo.com-sub019/pkg/flowerr"
	"github.com/qbizns/Vodo.com-sub019/pkg/vault"
)

const ConnectorID = "http"

const defaultPollInterval = 300 * time.Second

// PollTrigger polls a JSON endpoint and emits the entries of a configured
// array path as trigger items. Conditional request headers (ETag /
// Last-Modified) are carried in the polling state so unchanged endpoints
// cost a 304.
//
// Config:
//
//	url            endpoint to poll (required)
//	items_path     gabs path to the item array; empty treats the whole body as one item
//	id_field       item field used as the deduplication key
//	interval_secs  poll cadence, default 300
type PollTrigger struct {
	connector.PollingBase

	client *resty.Client
}

func NewPollTrigger() *PollTrigger {
	return &PollTrigger{client: resty.New().SetTimeout(30 * time.Second)}
}

func (t *PollTrigger) Type() connector.TriggerType { return connector.TriggerTypePolling }

func (t *PollTrigger) Poll(ctx context.Context, creds vault.Credentials, config map[string]any, state map[string]any) (*connector.PollResult, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, flowerr.NewValidationError("url", "url is required")
	}

	req := t.client.R().SetContext(ctx)

	if token := creds.String("token"); token != "" {
		req.SetAuthToken(token)
	}

	if etag, _ := state["etag"].(string); etag != "" {
		req.SetHeader("If-None-Match", etag)
	}

	if lastModified, _ := state["last_modified"].(string); lastModified != "" {
		req.SetHeader("If-Modified-Since", lastModified)
	}

	resp, err := req.Get(url)
	if err != nil {
		return nil, flowerr.NewTemporaryError(err)
	}

	nextState := map[string]any{}
	if etag := resp.Header().Get("ETag"); etag != "" {
		nextState["etag"] = etag
	}

	if lastModified := resp.Header().Get("Last-Modified"); lastModified != "" {
		nextState["last_modified"] = lastModified
	}

	switch {
	case resp.StatusCode() == http.StatusNotModified:
		// Keep the previous validators when the endpoint sends none back.
		if len(nextState) == 0 {
			nextState = state
		}

		return &connector.PollResult{State: nextState}, nil
	case resp.StatusCode() == http.StatusTooManyRequests:
		return nil, &flowerr.RateLimitError{RetryAfter: retryAfter(resp), Err: fmt.Errorf("endpoint returned 429")}
	case resp.StatusCode() >= http.StatusInternalServerError:
		return nil, flowerr.NewTemporaryError(fmt.Errorf("endpoint returned %d", resp.StatusCode()))
	case resp.StatusCode() >= http.StatusBadRequest:
		return nil, fmt.Errorf("endpoint returned %d", resp.StatusCode())
	}

	items, err := extractItems(resp.Body(), config)
	if err != nil {
		return nil, err
	}

	return &connector.PollResult{Items: items, State: nextState}, nil
}

func extractItems(body []byte, config map[string]any) ([]map[string]any, error) {
	parsed, err := gabs.ParseJSON(body)
	if err != nil {
		return nil, fmt.Errorf("response is not JSON: %w", err)
	}

	itemsPath, _ := config["items_path"].(string)
	if itemsPath != "" {
		parsed = parsed.Path(itemsPath)
		if parsed == nil {
			return nil, fmt.Errorf("response has no array at %q", itemsPath)
		}
	}

	// An object body is a single item; Children would flatten it to its
	// values.
	if item, ok := parsed.Data().(map[string]any); ok {
		return []map[string]any{item}, nil
	}

	children := parsed.Children()
	items := make([]map[string]any, 0, len(children))

	for _, child := range children {
		if item, ok := child.Data().(map[string]any); ok {
			items = append(items, item)
		}
	}

	return items, nil
}

func retryAfter(resp *resty.Response) time.Duration {
	if seconds := resp.Header().Get("Retry-After"); seconds != "" {
		if d, err := time.ParseDuration(seconds + "s"); err == nil {
			return d
		}
	}

	return time.Minute
}

func (t *PollTrigger) DeduplicationKey(item map[string]any) string {
	// The id field is configured per subscription but the contract hands
	// only the item here; conventional field names cover the common case
	// and the md5 fallback the rest.
	for _, field := range []string{"id", "uuid", "guid"} {
		if v, ok := item[field]; ok {
			return fmt.Sprintf("%v", v)
		}
	}

	return ""
}

func (t *PollTrigger) PollingInterval() time.Duration { return defaultPollInterval }

func (t *PollTrigger) CanTest() bool { return true }

func (t *PollTrigger) SampleOutput() map[string]any {
	return map[string]any{"id": "123", "title": "Example item"}
}

func (t *PollTrigger) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"url"},
		"properties": map[string]any{
			"url":           map[string]any{"type": "string", "format": "uri"},
			"items_path":    map[string]any{"type": "string"},
			"id_field":      map[string]any{"type": "string"},
			"interval_secs": map[string]any{"type": "number"},
		},
	}
}
