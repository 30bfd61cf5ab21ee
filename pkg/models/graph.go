package models

import (
	"errors"
	"fmt"
)

// Graph validation errors, raised at flow activation time. Executions never
// re-validate structure; a flow that activated successfully stays traversable
// at its pinned version.
var (
	ErrNoTriggerNode        = errors.New("flow has no trigger node")
	ErrMultipleTriggerNodes = errors.New("flow has more than one trigger node")
	ErrTriggerNodeHasInputs = errors.New("trigger node must have no incoming edges")
	ErrUnreachableNode      = errors.New("node is not reachable from the trigger node")
	ErrGraphCycle           = errors.New("flow graph contains a cycle")
	ErrUnknownEdgeEndpoint  = errors.New("edge references an unknown node")
)

// FlowGraph is the immutable structural snapshot of a flow at one version.
// Executions traverse a FlowGraph, never the live Flow row.
type FlowGraph struct {
	FlowID  string      `json:"flow_id"`
	Version int         `json:"version"`
	Nodes   []*FlowNode `json:"nodes"`
	Edges   []*FlowEdge `json:"edges"`
}

// Node returns the node with the given id.
func (g *FlowGraph) Node(id string) (*FlowNode, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}

	return nil, false
}

// TriggerNode returns the entry node: the single trigger-typed node with
// in-degree zero. It returns false when the graph was never validated and
// has no such node.
func (g *FlowGraph) TriggerNode() (*FlowNode, bool) {
	inDegree := g.inDegrees()

	for _, n := range g.Nodes {
		if n.IsTrigger() && inDegree[n.ID] == 0 {
			return n, true
		}
	}

	return nil, false
}

// OutgoingEdges returns all edges leaving the given node.
func (g *FlowGraph) OutgoingEdges(nodeID string) []*FlowEdge {
	var out []*FlowEdge

	for _, e := range g.Edges {
		if e.SourceNode == nodeID {
			out = append(out, e)
		}
	}

	return out
}

// Validate checks the structural invariants required for execution:
// exactly one trigger node with in-degree zero, every other node reachable
// from it, and no cycles. The engine has no loop primitive, so cyclic
// graphs are rejected outright.
func (g *FlowGraph) Validate() error {
	if err := g.validateEndpoints(); err != nil {
		return err
	}

	trigger, err := g.validateTrigger()
	if err != nil {
		return err
	}

	reached, err := g.walk(trigger.ID)
	if err != nil {
		return err
	}

	for _, n := range g.Nodes {
		if !reached[n.ID] {
			return fmt.Errorf("node %q: %w", n.ID, ErrUnreachableNode)
		}
	}

	return nil
}

func (g *FlowGraph) validateEndpoints() error {
	ids := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		ids[n.ID] = true
	}

	for _, e := range g.Edges {
		if !ids[e.SourceNode] {
			return fmt.Errorf("edge %q source %q: %w", e.ID, e.SourceNode, ErrUnknownEdgeEndpoint)
		}

		if !ids[e.TargetNode] {
			return fmt.Errorf("edge %q target %q: %w", e.ID, e.TargetNode, ErrUnknownEdgeEndpoint)
		}
	}

	return nil
}

func (g *FlowGraph) validateTrigger() (*FlowNode, error) {
	inDegree := g.inDegrees()

	var trigger *FlowNode

	for _, n := range g.Nodes {
		if !n.IsTrigger() {
			continue
		}

		if inDegree[n.ID] != 0 {
			return nil, fmt.Errorf("node %q: %w", n.ID, ErrTriggerNodeHasInputs)
		}

		if trigger != nil {
			return nil, ErrMultipleTriggerNodes
		}

		trigger = n
	}

	if trigger == nil {
		return nil, ErrNoTriggerNode
	}

	return trigger, nil
}

// walk performs a depth-first traversal from the given node, detecting
// cycles via the visiting set (grey/black coloring).
func (g *FlowGraph) walk(rootID string) (map[string]bool, error) {
	done := make(map[string]bool)
	visiting := make(map[string]bool)

	var visit func(id string) error

	visit = func(id string) error {
		if done[id] {
			return nil
		}

		if visiting[id] {
			return fmt.Errorf("node %q: %w", id, ErrGraphCycle)
		}

		visiting[id] = true

		for _, e := range g.OutgoingEdges(id) {
			if err := visit(e.TargetNode); err != nil {
				return err
			}
		}

		visiting[id] = false
		done[id] = true

		return nil
	}

	if err := visit(rootID); err != nil {
		return nil, err
	}

	return done, nil
}

func (g *FlowGraph) inDegrees() map[string]int {
	inDegree := make(map[string]int, len(g.Nodes))

	for _, e := range g.Edges {
		inDegree[e.TargetNode]++
	}

	return inDegree
}
