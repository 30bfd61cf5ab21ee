package models

// FlowEdge connects two nodes of a flow graph. Handles distinguish the
// outputs of multi-output nodes (e.g. a condition's "true"/"false" side).
// An edge with an empty Condition is always followed; otherwise the
// expression is evaluated against the execution context and the edge is
// followed only when it is truthy.
type FlowEdge struct {
	ID           string `json:"id"`
	SourceNode   string `json:"source_node" validate:"required"`
	SourceHandle string `json:"source_handle,omitempty"`
	TargetNode   string `json:"target_node" validate:"required"`
	TargetHandle string `json:"target_handle,omitempty"`
	Condition    string `json:"condition,omitempty"`
}
