// Package web provides the HTTP boundary: the webhook ingestion endpoint
// and the flow/execution management API.
package web

import (
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/qbizns/Vodo.com-sub019/pkg/connector"
	"github.com/qbizns/Vodo.com-sub019/pkg/execution"
	"github.com/qbizns/Vodo.com-sub019/pkg/models"
	"github.com/qbizns/Vodo.com-sub019/pkg/persistence"
	"github.com/qbizns/Vodo.com-sub019/pkg/trigger"
)

type Handlers struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	triggers    *trigger.Engine
	executions  *execution.Engine
	validator   *validator.Validate
	registry    *connector.Registry
}

func NewHandlers(
	logger *slog.Logger,
	p persistence.Persistence,
	triggers *trigger.Engine,
	executions *execution.Engine,
	validate *validator.Validate,
	registry *connector.Registry,
) *Handlers {
	return &Handlers{
		logger:      logger.With("module", "web"),
		persistence: p,
		triggers:    triggers,
		executions:  executions,
		validator:   validate,
		registry:    registry,
	}
}

// NewRouter builds the fiber application with all routes registered.
func NewRouter(h *Handlers) *fiber.App {
	app := fiber.New(fiber.Config{AppName: "vodo-api"})

	app.Get("/health", h.HealthCheck)

	app.Post("/integration/webhook/:subscriptionID", h.HandleWebhook)

	app.Get("/flows", h.ListFlows)
	app.Post("/flows", h.CreateFlow)
	app.Get("/flows/:id", h.GetFlow)
	app.Patch("/flows/:id", h.UpdateFlow)
	app.Delete("/flows/:id", h.DeleteFlow)
	app.Post("/flows/:id/activate", h.ActivateFlow)
	app.Post("/flows/:id/deactivate", h.DeactivateFlow)
	app.Post("/flows/:id/executions", h.RunFlow)
	app.Get("/flows/:id/executions", h.ListExecutions)

	app.Get("/executions/:id", h.GetExecution)
	app.Post("/executions/:id/resume", h.ResumeExecution)
	app.Post("/executions/:id/cancel", h.CancelExecution)

	app.Post("/subscriptions/:id/pause", h.PauseSubscription)
	app.Post("/subscriptions/:id/resume", h.ResumeSubscription)

	app.Post("/connectors/:connectorID/triggers/:triggerName/test", h.TestTrigger)

	return app
}

// HandleWebhook ingests one provider delivery. Ignored deliveries (ping,
// paused subscription, dedup hit, filtered item) still answer 200 so the
// provider stops redelivering.
func (h *Handlers) HandleWebhook(c fiber.Ctx) error {
	subscriptionID := c.Params("subscriptionID")

	headers := make(map[string]string)
	for key, values := range c.GetReqHeaders() {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}

	event, err := h.triggers.HandleWebhook(c.Context(), subscriptionID, c.Body(), headers)
	if err != nil {
		return handleEngineError(c, err)
	}

	if event == nil {
		return c.JSON(fiber.Map{"status": "ignored"})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status":   "accepted",
		"event_id": event.ID,
	})
}

func (h *Handlers) ListFlows(c fiber.Ctx) error {
	flows, err := h.persistence.Flows().All(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"flows": flows})
}

func (h *Handlers) GetFlow(c fiber.Ctx) error {
	flow, err := h.persistence.Flows().ByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(flow)
}

func (h *Handlers) CreateFlow(c fiber.Ctx) error {
	var req CreateFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	flow := &models.Flow{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		Status:      models.FlowStatusDraft,
		Version:     1,
		Trigger:     req.Trigger,
		Settings:    req.Settings,
		Nodes:       req.Nodes,
		Edges:       req.Edges,
	}

	if err := h.persistence.Flows().Save(c.Context(), flow); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(flow)
}

func (h *Handlers) UpdateFlow(c fiber.Ctx) error {
	var req UpdateFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	flow, err := h.persistence.Flows().ByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	if req.Name != nil {
		flow.Name = *req.Name
	}

	if req.Description != nil {
		flow.Description = *req.Description
	}

	if req.Settings != nil {
		flow.Settings = req.Settings
	}

	// Structural edits bump the version; in-flight executions stay on
	// their pinned snapshot.
	structural := req.Nodes != nil || req.Edges != nil || req.Trigger != nil

	if req.Nodes != nil {
		flow.Nodes = req.Nodes
	}

	if req.Edges != nil {
		flow.Edges = req.Edges
	}

	if req.Trigger != nil {
		flow.Trigger = req.Trigger
	}

	if structural {
		flow.Version++
	}

	if err := h.persistence.Flows().Save(c.Context(), flow); err != nil {
		return internalError(c, err)
	}

	return c.JSON(flow)
}

func (h *Handlers) DeleteFlow(c fiber.Ctx) error {
	id := c.Params("id")

	// Deactivation removes subscriptions and webhooks before the row goes.
	flow, err := h.persistence.Flows().ByID(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	if flow.IsActive() {
		if _, err := h.triggers.DeactivateFlow(c.Context(), id); err != nil {
			return handleEngineError(c, err)
		}
	}

	if err := h.persistence.Flows().Delete(c.Context(), id); err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handlers) ActivateFlow(c fiber.Ctx) error {
	flow, err := h.triggers.ActivateFlow(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(flow)
}

func (h *Handlers) DeactivateFlow(c fiber.Ctx) error {
	flow, err := h.triggers.DeactivateFlow(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(flow)
}

// RunFlow starts an execution outside the trigger path.
func (h *Handlers) RunFlow(c fiber.Ctx) error {
	var req RunFlowRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "invalid JSON body")
		}
	}

	exec, err := h.triggers.TriggerManually(c.Context(), c.Params("id"), req.Data)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(exec)
}

func (h *Handlers) ListExecutions(c fiber.Ctx) error {
	executions, err := h.persistence.Executions().ByFlowID(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{"executions": executions})
}

// GetExecution returns one execution with its full step trail.
func (h *Handlers) GetExecution(c fiber.Ctx) error {
	exec, err := h.persistence.Executions().ByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	steps, err := h.persistence.Steps().ByExecutionID(c.Context(), exec.ID)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"execution": exec,
		"steps":     steps,
	})
}

// ResumeExecution re-enters a waiting execution with caller-supplied
// data, e.g. an approval callback.
func (h *Handlers) ResumeExecution(c fiber.Ctx) error {
	var req ResumeExecutionRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "invalid JSON body")
		}
	}

	if err := h.executions.Resume(c.Context(), c.Params("id"), req.Data); err != nil {
		return handleEngineError(c, err)
	}

	exec, err := h.persistence.Executions().ByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(exec)
}

func (h *Handlers) CancelExecution(c fiber.Ctx) error {
	exec, err := h.executions.Cancel(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(exec)
}

func (h *Handlers) PauseSubscription(c fiber.Ctx) error {
	if err := h.triggers.PauseSubscription(c.Context(), c.Params("id")); err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handlers) ResumeSubscription(c fiber.Ctx) error {
	if err := h.triggers.ResumeSubscription(c.Context(), c.Params("id")); err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// TestTrigger exercises a trigger configuration synchronously without
// recording events or starting executions.
func (h *Handlers) TestTrigger(c fiber.Ctx) error {
	var req TestTriggerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	items, err := h.triggers.Test(c.Context(),
		c.Params("connectorID"), c.Params("triggerName"), req.ConnectionID, req.Config)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{"items": items})
}

func (h *Handlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, registryOK := h.registry.HealthCheck()
	storeErr := h.persistence.HealthCheck(c.Context())

	status := "healthy"
	httpStatus := fiber.StatusOK

	if !registryOK || storeErr != nil {
		status = "unhealthy"
		httpStatus = fiber.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"registry": registryCheck,
			"store":    storeErr == nil,
		},
		"timestamp": time.Now().UTC(),
	})
}
