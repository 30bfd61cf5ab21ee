// Package models defines the core domain entities: flows, trigger
// subscriptions, trigger events and executions.
package models

import "time"

// FlowStatus represents the lifecycle state of a flow definition.
type FlowStatus string

const (
	FlowStatusDraft    FlowStatus = "draft"
	FlowStatusActive   FlowStatus = "active"
	FlowStatusDisabled FlowStatus = "disabled"
)

// TriggerConfig describes the trigger a flow subscribes to on activation.
type TriggerConfig struct {
	ConnectorID  string         `json:"connector_id" validate:"required"`
	TriggerName  string         `json:"trigger_name" validate:"required"`
	ConnectionID string         `json:"connection_id"`
	Config       map[string]any `json:"config"`
	Filters      []FilterRule   `json:"filters,omitempty"`
}

// FilterRule is one declarative predicate applied to a trigger item
// before an event is recorded. Rules combine with AND semantics.
type FilterRule struct {
	Field    string `json:"field"    validate:"required"`
	Operator string `json:"operator" validate:"required,oneof=eq neq contains gt lt"`
	Value    any    `json:"value"`
}

// Flow is a user-defined automation: a trigger plus a directed graph of
// nodes and edges. Version advances on every structural save; executions
// pin the version they started on.
type Flow struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	Name        string         `json:"name" validate:"required,min=1,max=255"`
	Description string         `json:"description"`
	Status      FlowStatus     `json:"status"`
	Version     int            `json:"version"`
	Trigger     *TriggerConfig `json:"trigger,omitempty"`
	Settings    map[string]any `json:"settings,omitempty"`
	Nodes       []*FlowNode    `json:"nodes"`
	Edges       []*FlowEdge    `json:"edges"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// IsActive reports whether the flow accepts trigger events.
func (f *Flow) IsActive() bool {
	return f.Status == FlowStatusActive
}

// Graph returns the flow's structure as a graph snapshot at the current
// version.
func (f *Flow) Graph() *FlowGraph {
	return &FlowGraph{
		FlowID:  f.ID,
		Version: f.Version,
		Nodes:   f.Nodes,
		Edges:   f.Edges,
	}
}

// Node returns the node with the given id.
func (f *Flow) Node(id string) (*FlowNode, bool) {
	for _, n := range f.Nodes {
		if n.ID == id {
			return n, true
		}
	}

	return nil, false
}
