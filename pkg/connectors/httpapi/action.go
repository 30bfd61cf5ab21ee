package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/qbizns/Vodo.com-sub019/pkg/flowerr"
	"github.com/qbizns/Vodo.com-sub019/pkg/vault"
)

// RequestAction performs one HTTP request with input resolved from the
// execution context.
//
// Input:
//
//	url       request URL (required)
//	method    HTTP method, default GET
//	headers   map of header values
//	query     map of query parameters
//	body      JSON body for write methods
type RequestAction struct {
	client *resty.Client
}

func NewRequestAction() *RequestAction {
	return &RequestAction{client: resty.New().SetTimeout(30 * time.Second)}
}

func (a *RequestAction) Execute(ctx context.Context, creds vault.Credentials, input map[string]any) (map[string]any, error) {
	url, _ := input["url"].(string)
	if url == "" {
		return nil, flowerr.NewValidationError("url", "url is required")
	}

	method := http.MethodGet
	if m, ok := input["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}

	req := a.client.R().SetContext(ctx)

	if token := creds.String("token"); token != "" {
		req.SetAuthToken(token)
	}

	if headers, ok := input["headers"].(map[string]any); ok {
		for key, value := range headers {
			req.SetHeader(key, fmt.Sprintf("%v", value))
		}
	}

	if query, ok := input["query"].(map[string]any); ok {
		for key, value := range query {
			req.SetQueryParam(key, fmt.Sprintf("%v", value))
		}
	}

	if body, ok := input["body"]; ok {
		req.SetHeader("Content-Type", "application/json")
		req.SetBody(body)
	}

	resp, err := req.Execute(method, url)
	if err != nil {
		return nil, flowerr.NewTemporaryError(err)
	}

	output := map[string]any{
		"status_code": resp.StatusCode(),
		"headers":     flattenHeaders(resp.Header()),
	}

	var parsed any
	if err := json.Unmarshal(resp.Body(), &parsed); err == nil {
		output["body"] = parsed
	} else {
		output["body"] = string(resp.Body())
	}

	switch {
	case resp.StatusCode() == http.StatusTooManyRequests:
		return nil, &flowerr.RateLimitError{RetryAfter: retryAfter(resp), Err: fmt.Errorf("request returned 429")}
	case resp.StatusCode() >= http.StatusInternalServerError:
		return nil, flowerr.NewTemporaryError(fmt.Errorf("request returned %d", resp.StatusCode()))
	case resp.StatusCode() >= http.StatusBadRequest:
		return nil, fmt.Errorf("request returned %d", resp.StatusCode())
	}

	return output, nil
}

func flattenHeaders(header http.Header) map[string]any {
	out := make(map[string]any, len(header))
	for key := range header {
		out[key] = header.Get(key)
	}

	return out
}

func (a *RequestAction) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"url"},
		"properties": map[string]any{
			"url":     map[string]any{"type": "string", "format": "uri"},
			"method":  map[string]any{"type": "string"},
			"headers": map[string]any{"type": "object"},
			"query":   map[string]any{"type": "object"},
			"body":    map[string]any{},
		},
	}
}
