package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbizns/Vodo.com-sub019/pkg/vault"
)

func signedHeaders(secret string, at time.Time, body []byte) map[string]string {
	timestamp := fmt.Sprintf("%d", at.Unix())

	return map[string]string{
		timestampHeader: timestamp,
		signatureHeader: Sign(secret, timestamp, body),
	}
}

func TestEventTrigger_VerifyWebhook(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	trig := NewEventTrigger()
	trig.now = func() time.Time { return now }

	creds := vault.Credentials{"signing_secret": "s3cret"}
	body := []byte(`{"type":"event_callback"}`)

	t.Run("valid signature", func(t *testing.T) {
		assert.True(t, trig.VerifyWebhook(body, signedHeaders("s3cret", now, body), creds))
	})

	t.Run("wrong secret", func(t *testing.T) {
		assert.False(t, trig.VerifyWebhook(body, signedHeaders("other", now, body), creds))
	})

	t.Run("tampered body", func(t *testing.T) {
		headers := signedHeaders("s3cret", now, body)
		assert.False(t, trig.VerifyWebhook([]byte(`{"type":"tampered"}`), headers, creds))
	})

	t.Run("stale timestamp", func(t *testing.T) {
		old := now.Add(-10 * time.Minute)
		assert.False(t, trig.VerifyWebhook(body, signedHeaders("s3cret", old, body), creds))
	})

	t.Run("missing headers", func(t *testing.T) {
		assert.False(t, trig.VerifyWebhook(body, map[string]string{}, creds))
	})

	t.Run("no secret in credentials", func(t *testing.T) {
		assert.False(t, trig.VerifyWebhook(body, signedHeaders("s3cret", now, body), vault.Credentials{}))
	})
}

func TestEventTrigger_ProcessWebhook(t *testing.T) {
	trig := NewEventTrigger()

	t.Run("event callback yields inner event", func(t *testing.T) {
		payload := []byte(`{"type":"event_callback","event_id":"Ev1","event":{"type":"message","text":"hi"}}`)

		item, err := trig.ProcessWebhook(payload, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "hi", item["text"])
		assert.Equal(t, "Ev1", item["event_id"])
		assert.Equal(t, "Ev1", trig.DeduplicationKey(item))
	})

	t.Run("url verification is ignored", func(t *testing.T) {
		payload := []byte(`{"type":"url_verification","challenge":"abc"}`)

		item, err := trig.ProcessWebhook(payload, nil, nil)
		require.NoError(t, err)
		assert.Nil(t, item)
	})

	t.Run("unknown type is an error", func(t *testing.T) {
		_, err := trig.ProcessWebhook([]byte(`{"type":"mystery"}`), nil, nil)
		assert.Error(t, err)
	})

	t.Run("invalid json is an error", func(t *testing.T) {
		_, err := trig.ProcessWebhook([]byte(`{broken`), nil, nil)
		assert.Error(t, err)
	})
}

func TestEventTrigger_RegisterWebhook(t *testing.T) {
	var registered map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&registered))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"wh-77"}`))
	}))
	defer server.Close()

	trig := NewEventTrigger()

	registration, err := trig.RegisterWebhook(context.Background(),
		vault.Credentials{"token": "tok"},
		"https://hooks.example.com/integration/webhook/sub-1",
		map[string]any{"registration_url": server.URL})
	require.NoError(t, err)

	assert.Equal(t, "wh-77", registration.WebhookID)
	assert.Equal(t, "https://hooks.example.com/integration/webhook/sub-1", registered["url"])
}

func TestEventTrigger_RegisterWebhookManual(t *testing.T) {
	trig := NewEventTrigger()

	registration, err := trig.RegisterWebhook(context.Background(), nil,
		"https://hooks.example.com/integration/webhook/sub-1", map[string]any{})
	require.NoError(t, err)

	assert.Equal(t, "manual", registration.WebhookID)
}

func TestPostMessageAction_Delivers(t *testing.T) {
	var received map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	action := NewPostMessageAction()

	output, err := action.Execute(context.Background(),
		vault.Credentials{"webhook_url": server.URL},
		map[string]any{"text": "deploy finished", "channel": "#ops"})
	require.NoError(t, err)

	assert.Equal(t, true, output["delivered"])
	assert.Equal(t, "deploy finished", received["text"])
	assert.Equal(t, "#ops", received["channel"])
}

func TestPostMessageAction_RequiresText(t *testing.T) {
	action := NewPostMessageAction()

	_, err := action.Execute(context.Background(),
		vault.Credentials{"webhook_url": "https://hooks.example.com/x"},
		map[string]any{})
	assert.Error(t, err)
}
