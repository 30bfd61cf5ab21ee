package models

import "time"

// StepStatus represents the outcome of one node execution.
type StepStatus string

const (
	StepStatusSuccess StepStatus = "success"
	StepStatusFailed  StepStatus = "failed"
	StepStatusSkipped StepStatus = "skipped" // Node disabled, traversal continued past it
)

// FlowStepExecution records one node's execution within a flow execution.
// Step records are append-only and never mutated, so a finished execution
// keeps its full trace for audit and debugging regardless of outcome.
type FlowStepExecution struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id" validate:"required"`
	NodeID      string         `json:"node_id"      validate:"required"`
	NodeType    NodeType       `json:"node_type"`
	NodeName    string         `json:"node_name"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Status      StepStatus     `json:"status"`
	Error       string         `json:"error,omitempty"`
	DurationMs  int64          `json:"duration_ms"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
}
