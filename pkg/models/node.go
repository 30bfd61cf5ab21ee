package models

import "encoding/json"

// NodeType classifies a node's role during graph traversal.
type NodeType string

const (
	NodeTypeTrigger   NodeType = "trigger"   // Entry node, seeded with trigger data
	NodeTypeAction    NodeType = "action"    // Executes a connector action
	NodeTypeCondition NodeType = "condition" // Pass-through, branching via edge conditions
	NodeTypeDelay     NodeType = "delay"     // Suspends the execution until resume
)

// FlowNode is one node of a flow graph. Node ids are flow-local and
// immutable once an execution references them at a pinned flow version.
type FlowNode struct {
	ID        string         `json:"id"   validate:"required"`
	Type      NodeType       `json:"type" validate:"required"`
	Name      string         `json:"name" validate:"required,min=1"`
	Config    map[string]any `json:"config"`
	Enabled   bool           `json:"enabled"`
	PositionX int            `json:"position_x"` // Presentation only
	PositionY int            `json:"position_y"` // Presentation only
}

// UnmarshalJSON decodes a node with Enabled defaulting to true. Payloads
// only carry "enabled" when a node was explicitly disabled, so an absent
// field must not turn the node off.
func (n *FlowNode) UnmarshalJSON(data []byte) error {
	type plain FlowNode

	raw := struct {
		*plain
		Enabled *bool `json:"enabled"`
	}{plain: (*plain)(n)}

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	n.Enabled = raw.Enabled == nil || *raw.Enabled

	return nil
}

// IsTrigger reports whether the node is the flow's entry node type.
func (n *FlowNode) IsTrigger() bool {
	return n.Type == NodeTypeTrigger
}

// ConfigString returns a string config value, or the fallback when absent.
func (n *FlowNode) ConfigString(key, fallback string) string {
	if v, ok := n.Config[key].(string); ok && v != "" {
		return v
	}

	return fallback
}

// ConfigMap returns a map config value, or nil when absent.
func (n *FlowNode) ConfigMap(key string) map[string]any {
	if v, ok := n.Config[key].(map[string]any); ok {
		return v
	}

	return nil
}
