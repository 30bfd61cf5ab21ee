package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbizns/Vodo.com-sub019/pkg/connector"
	"github.com/qbizns/Vodo.com-sub019/pkg/execution"
	"github.com/qbizns/Vodo.com-sub019/pkg/models"
	"github.com/qbizns/Vodo.com-sub019/pkg/persistence/file"
	"github.com/qbizns/Vodo.com-sub019/pkg/queue"
	"github.com/qbizns/Vodo.com-sub019/pkg/trigger"
	"github.com/qbizns/Vodo.com-sub019/pkg/vault"
	"github.com/qbizns/Vodo.com-sub019/pkg/web"
)

// webhookStub accepts deliveries whose X-Sig header matches "valid" and
// treats payloads with a "ping" field as handshakes.
type webhookStub struct {
	connector.WebhookBase
}

func (s *webhookStub) Type() connector.TriggerType { return connector.TriggerTypeWebhook }

func (s *webhookStub) RegisterWebhook(context.Context, vault.Credentials, string, map[string]any) (*connector.WebhookRegistration, error) {
	return &connector.WebhookRegistration{WebhookID: "wh-1"}, nil
}

func (s *webhookStub) UnregisterWebhook(context.Context, vault.Credentials, string) error {
	return nil
}

func (s *webhookStub) VerifyWebhook(_ []byte, headers map[string]string, _ vault.Credentials) bool {
	return headers["X-Sig"] == "valid"
}

func (s *webhookStub) ProcessWebhook(rawPayload []byte, _ map[string]string, _ map[string]any) (map[string]any, error) {
	var payload map[string]any
	if err := json.Unmarshal(rawPayload, &payload); err != nil {
		return nil, err
	}

	if _, ok := payload["ping"]; ok {
		return nil, nil
	}

	return payload, nil
}

func (s *webhookStub) DeduplicationKey(item map[string]any) string {
	id, _ := item["id"].(string)

	return id
}

func (s *webhookStub) SampleOutput() map[string]any {
	return map[string]any{"id": "sample", "action": "opened"}
}

func (s *webhookStub) Schema() map[string]any { return map[string]any{"type": "object"} }

// okAction succeeds with a static output.
type okAction struct{}

func (okAction) Execute(context.Context, vault.Credentials, map[string]any) (map[string]any, error) {
	return map[string]any{"ok": true}, nil
}

func (okAction) Schema() map[string]any { return map[string]any{"type": "object"} }

type webEnv struct {
	app         *fiber.App
	persistence *file.Persistence
	queue       *queue.MemoryQueue
}

func setupTestApp(t *testing.T) *webEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	p := file.NewPersistence(t.TempDir())
	q := queue.NewMemoryQueue()
	v := vault.NewStatic(nil)

	registry := connector.NewRegistry(logger)
	registry.RegisterTrigger("github", "new_issue", &webhookStub{})
	registry.RegisterAction("test", "ok", okAction{})

	triggers := trigger.NewEngine(logger, p, registry, v, q, "https://hooks.example.com")
	executions := execution.NewEngine(logger, p, registry, v, q)

	handlers := web.NewHandlers(logger, p, triggers, executions,
		validator.New(validator.WithRequiredStructEnabled()), registry)

	return &webEnv{app: web.NewRouter(handlers), persistence: p, queue: q}
}

func (env *webEnv) request(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := env.app.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, raw
}

// seedActiveFlow creates and activates a webhook-triggered flow, returning
// the flow and its subscription.
func (env *webEnv) seedActiveFlow(t *testing.T) (*models.Flow, *models.TriggerSubscription) {
	t.Helper()

	ctx := context.Background()

	flow := &models.Flow{
		ID:      "flow-1",
		Name:    "Issue notifier",
		Status:  models.FlowStatusDraft,
		Version: 1,
		Trigger: &models.TriggerConfig{ConnectorID: "github", TriggerName: "new_issue"},
		Nodes: []*models.FlowNode{
			{ID: "t1", Type: models.NodeTypeTrigger, Name: "New issue", Enabled: true},
			{
				ID: "a1", Type: models.NodeTypeAction, Name: "Handle", Enabled: true,
				Config: map[string]any{"connector_id": "test", "action": "ok"},
			},
		},
		Edges: []*models.FlowEdge{
			{ID: "e1", SourceNode: "t1", TargetNode: "a1"},
		},
	}
	require.NoError(t, env.persistence.Flows().Save(ctx, flow))

	resp, _ := env.request(t, http.MethodPost, "/flows/flow-1/activate", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	subs, err := env.persistence.Subscriptions().ByFlowID(ctx, flow.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)

	return flow, subs[0]
}

func TestHandleWebhook(t *testing.T) {
	env := setupTestApp(t)
	_, sub := env.seedActiveFlow(t)

	t.Run("valid delivery is accepted", func(t *testing.T) {
		resp, body := env.request(t, http.MethodPost, "/integration/webhook/"+sub.ID,
			map[string]any{"id": "evt-1", "action": "opened"},
			map[string]string{"X-Sig": "valid"})

		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		var result map[string]any
		require.NoError(t, json.Unmarshal(body, &result))
		assert.Equal(t, "accepted", result["status"])
		assert.NotEmpty(t, result["event_id"])
		assert.Len(t, env.queue.Pending(), 1)
	})

	t.Run("redelivery is ignored", func(t *testing.T) {
		resp, body := env.request(t, http.MethodPost, "/integration/webhook/"+sub.ID,
			map[string]any{"id": "evt-1", "action": "opened"},
			map[string]string{"X-Sig": "valid"})

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result map[string]any
		require.NoError(t, json.Unmarshal(body, &result))
		assert.Equal(t, "ignored", result["status"])
		assert.Len(t, env.queue.Pending(), 1)
	})

	t.Run("invalid signature is unauthorized", func(t *testing.T) {
		resp, _ := env.request(t, http.MethodPost, "/integration/webhook/"+sub.ID,
			map[string]any{"id": "evt-2"},
			map[string]string{"X-Sig": "forged"})

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("ping is ignored", func(t *testing.T) {
		resp, body := env.request(t, http.MethodPost, "/integration/webhook/"+sub.ID,
			map[string]any{"ping": true},
			map[string]string{"X-Sig": "valid"})

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result map[string]any
		require.NoError(t, json.Unmarshal(body, &result))
		assert.Equal(t, "ignored", result["status"])
	})

	t.Run("unknown subscription is not found", func(t *testing.T) {
		resp, _ := env.request(t, http.MethodPost, "/integration/webhook/nope",
			map[string]any{"id": "evt-3"},
			map[string]string{"X-Sig": "valid"})

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestFlowCRUD(t *testing.T) {
	env := setupTestApp(t)

	resp, body := env.request(t, http.MethodPost, "/flows", web.CreateFlowRequest{
		Name:        "Order pipeline",
		Description: "Routes orders",
		Nodes: []*models.FlowNode{
			{ID: "t1", Type: models.NodeTypeTrigger, Name: "Order", Enabled: true},
		},
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.Flow
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, models.FlowStatusDraft, created.Status)
	assert.Equal(t, 1, created.Version)

	resp, body = env.request(t, http.MethodGet, "/flows/"+created.ID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fetched models.Flow
	require.NoError(t, json.Unmarshal(body, &fetched))
	assert.Equal(t, "Order pipeline", fetched.Name)

	// Structural update bumps the version; a rename does not.
	newName := "Order pipeline v2"
	resp, body = env.request(t, http.MethodPatch, "/flows/"+created.ID,
		web.UpdateFlowRequest{Name: &newName}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var renamed models.Flow
	require.NoError(t, json.Unmarshal(body, &renamed))
	assert.Equal(t, 1, renamed.Version)

	resp, body = env.request(t, http.MethodPatch, "/flows/"+created.ID,
		web.UpdateFlowRequest{Nodes: []*models.FlowNode{
			{ID: "t1", Type: models.NodeTypeTrigger, Name: "Order", Enabled: true},
			{
				ID: "a1", Type: models.NodeTypeAction, Name: "Handle", Enabled: true,
				Config: map[string]any{"connector_id": "test", "action": "ok"},
			},
		}}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var restructured models.Flow
	require.NoError(t, json.Unmarshal(body, &restructured))
	assert.Equal(t, 2, restructured.Version)

	resp, _ = env.request(t, http.MethodDelete, "/flows/"+created.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = env.request(t, http.MethodGet, "/flows/"+created.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateFlow_ValidationError(t *testing.T) {
	env := setupTestApp(t)

	resp, _ := env.request(t, http.MethodPost, "/flows", web.CreateFlowRequest{Name: ""}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestActivateDeactivateFlow(t *testing.T) {
	env := setupTestApp(t)
	flow, sub := env.seedActiveFlow(t)

	assert.Equal(t, "wh-1", sub.WebhookID)

	resp, body := env.request(t, http.MethodPost, "/flows/"+flow.ID+"/deactivate", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var deactivated models.Flow
	require.NoError(t, json.Unmarshal(body, &deactivated))
	assert.Equal(t, models.FlowStatusDisabled, deactivated.Status)

	subs, err := env.persistence.Subscriptions().ByFlowID(context.Background(), flow.ID)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestRunFlowManually(t *testing.T) {
	env := setupTestApp(t)
	flow, _ := env.seedActiveFlow(t)

	resp, body := env.request(t, http.MethodPost, "/flows/"+flow.ID+"/executions",
		web.RunFlowRequest{Data: map[string]any{"source": "manual"}}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var exec models.FlowExecution
	require.NoError(t, json.Unmarshal(body, &exec))
	assert.Equal(t, models.ExecutionStatusRunning, exec.Status)
	assert.Len(t, env.queue.Pending(), 1)

	resp, body = env.request(t, http.MethodGet, "/flows/"+flow.ID+"/executions", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list struct {
		Executions []*models.FlowExecution `json:"executions"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list.Executions, 1)
}

func TestRunFlow_NotActiveConflict(t *testing.T) {
	env := setupTestApp(t)

	flow := &models.Flow{
		ID: "flow-draft", Name: "Draft", Status: models.FlowStatusDraft, Version: 1,
		Nodes: []*models.FlowNode{
			{ID: "t1", Type: models.NodeTypeTrigger, Name: "Start", Enabled: true},
		},
	}
	require.NoError(t, env.persistence.Flows().Save(context.Background(), flow))

	resp, _ := env.request(t, http.MethodPost, "/flows/flow-draft/executions", nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestExecutionEndpoints(t *testing.T) {
	env := setupTestApp(t)
	flow, _ := env.seedActiveFlow(t)

	resp, body := env.request(t, http.MethodPost, "/flows/"+flow.ID+"/executions", nil, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var exec models.FlowExecution
	require.NoError(t, json.Unmarshal(body, &exec))

	resp, body = env.request(t, http.MethodGet, "/executions/"+exec.ID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var detail struct {
		Execution *models.FlowExecution       `json:"execution"`
		Steps     []*models.FlowStepExecution `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(body, &detail))
	assert.Equal(t, exec.ID, detail.Execution.ID)
	assert.Empty(t, detail.Steps)

	// Resuming a running execution is a state conflict.
	resp, _ = env.request(t, http.MethodPost, "/executions/"+exec.ID+"/resume",
		web.ResumeExecutionRequest{Data: map[string]any{"approved": true}}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = env.request(t, http.MethodPost, "/executions/"+exec.ID+"/cancel", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cancelled models.FlowExecution
	require.NoError(t, json.Unmarshal(body, &cancelled))
	assert.Equal(t, models.ExecutionStatusCancelled, cancelled.Status)
}

func TestSubscriptionPauseResume(t *testing.T) {
	env := setupTestApp(t)
	_, sub := env.seedActiveFlow(t)

	resp, _ := env.request(t, http.MethodPost, "/subscriptions/"+sub.ID+"/pause", nil, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Deliveries against a paused subscription are ignored, not errors.
	resp, body := env.request(t, http.MethodPost, "/integration/webhook/"+sub.ID,
		map[string]any{"id": "evt-9"},
		map[string]string{"X-Sig": "valid"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result map[string]any
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, "ignored", result["status"])

	resp, _ = env.request(t, http.MethodPost, "/subscriptions/"+sub.ID+"/resume", nil, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = env.request(t, http.MethodPost, "/integration/webhook/"+sub.ID,
		map[string]any{"id": "evt-9"},
		map[string]string{"X-Sig": "valid"})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestTestTrigger(t *testing.T) {
	env := setupTestApp(t)

	resp, body := env.request(t, http.MethodPost, "/connectors/github/triggers/new_issue/test",
		web.TestTriggerRequest{Config: map[string]any{}}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Items []map[string]any `json:"items"`
	}
	require.NoError(t, json.Unmarshal(body, &result))
	require.Len(t, result.Items, 1)
	assert.Equal(t, "sample", result.Items[0]["id"])
}

func TestHealthCheck(t *testing.T) {
	env := setupTestApp(t)

	resp, body := env.request(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result map[string]any
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, "healthy", result["status"])
	assert.NotNil(t, result["timestamp"])
}
