package models

import "time"

// ExecutionStatus represents the state machine of one flow execution.
//
//	running --> waiting --> running ... --> completed | failed | cancelled
//
// waiting is the only re-enterable non-terminal state besides running.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusWaiting   ExecutionStatus = "waiting"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// ContextKeyTrigger is the reserved execution-context key the triggering
// event's data is seeded under.
const ContextKeyTrigger = "trigger"

// FlowExecution is one run of a flow against one trigger event (or a
// manual trigger). The flow version is pinned at start; structural edits
// to the flow never affect an in-flight execution. Context accumulates
// node outputs keyed by node id, addressable by later nodes.
type FlowExecution struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenant_id"`
	FlowID         string          `json:"flow_id" validate:"required"`
	FlowVersion    int             `json:"flow_version"`
	TriggerEventID string          `json:"trigger_event_id,omitempty"`
	Status         ExecutionStatus `json:"status"`
	Context        map[string]any  `json:"context"`
	NodesExecuted  int             `json:"nodes_executed"`
	Error          string          `json:"error,omitempty"`

	// WaitNodeID is the node that suspended the execution. Set only while
	// waiting; resume continues from its downstream edges.
	WaitNodeID string `json:"wait_node_id,omitempty"`

	// ResumeAt is set only while waiting. The scheduler gates the resume
	// job on it, but an explicit resume call is trusted regardless.
	ResumeAt *time.Time `json:"resume_at,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the execution can never run again.
func (e *FlowExecution) IsTerminal() bool {
	switch e.Status {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// ContextValue returns a top-level context entry.
func (e *FlowExecution) ContextValue(key string) (any, bool) {
	v, ok := e.Context[key]

	return v, ok
}
