package web

import "github.com/qbizns/Vodo.com-sub019/pkg/models"

type CreateFlowRequest struct {
	Name        string                `json:"name"        validate:"required,min=1,max=255"`
	Description string                `json:"description"`
	Trigger     *models.TriggerConfig `json:"trigger"`
	Settings    map[string]any        `json:"settings"`
	Nodes       []*models.FlowNode    `json:"nodes"`
	Edges       []*models.FlowEdge    `json:"edges"`
}

// UpdateFlowRequest applies partial updates. Structural changes (nodes,
// edges, trigger) bump the flow version so running executions keep their
// pinned snapshot.
type UpdateFlowRequest struct {
	Name        *string               `json:"name" validate:"omitempty,min=1,max=255"`
	Description *string               `json:"description"`
	Trigger     *models.TriggerConfig `json:"trigger"`
	Settings    map[string]any        `json:"settings"`
	Nodes       []*models.FlowNode    `json:"nodes"`
	Edges       []*models.FlowEdge    `json:"edges"`
}

type RunFlowRequest struct {
	Data map[string]any `json:"data"`
}

type ResumeExecutionRequest struct {
	Data map[string]any `json:"data"`
}

type TestTriggerRequest struct {
	ConnectionID string         `json:"connection_id"`
	Config       map[string]any `json:"config"`
}
