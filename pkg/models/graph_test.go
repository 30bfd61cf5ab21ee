package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(id string, typ NodeType) *FlowNode {
	return &FlowNode{ID: id, Type: typ, Name: id, Enabled: true}
}

func edge(source, target string) *FlowEdge {
	return &FlowEdge{ID: source + "->" + target, SourceNode: source, TargetNode: target}
}

func TestFlowGraphValidate_LinearFlow(t *testing.T) {
	g := &FlowGraph{
		FlowID:  "f1",
		Version: 1,
		Nodes: []*FlowNode{
			node("start", NodeTypeTrigger),
			node("fetch", NodeTypeAction),
			node("notify", NodeTypeAction),
		},
		Edges: []*FlowEdge{
			edge("start", "fetch"),
			edge("fetch", "notify"),
		},
	}

	require.NoError(t, g.Validate())

	trigger, ok := g.TriggerNode()
	require.True(t, ok)
	assert.Equal(t, "start", trigger.ID)
}

func TestFlowGraphValidate_NoTrigger(t *testing.T) {
	g := &FlowGraph{
		Nodes: []*FlowNode{node("a", NodeTypeAction)},
	}

	assert.ErrorIs(t, g.Validate(), ErrNoTriggerNode)
}

func TestFlowGraphValidate_MultipleTriggers(t *testing.T) {
	g := &FlowGraph{
		Nodes: []*FlowNode{
			node("t1", NodeTypeTrigger),
			node("t2", NodeTypeTrigger),
			node("a", NodeTypeAction),
		},
		Edges: []*FlowEdge{
			edge("t1", "a"),
			edge("t2", "a"),
		},
	}

	assert.ErrorIs(t, g.Validate(), ErrMultipleTriggerNodes)
}

func TestFlowGraphValidate_TriggerWithIncomingEdge(t *testing.T) {
	g := &FlowGraph{
		Nodes: []*FlowNode{
			node("t", NodeTypeTrigger),
			node("a", NodeTypeAction),
		},
		Edges: []*FlowEdge{
			edge("t", "a"),
			edge("a", "t"),
		},
	}

	assert.ErrorIs(t, g.Validate(), ErrTriggerNodeHasInputs)
}

func TestFlowGraphValidate_UnreachableNode(t *testing.T) {
	g := &FlowGraph{
		Nodes: []*FlowNode{
			node("t", NodeTypeTrigger),
			node("a", NodeTypeAction),
			node("orphan", NodeTypeAction),
		},
		Edges: []*FlowEdge{edge("t", "a")},
	}

	assert.ErrorIs(t, g.Validate(), ErrUnreachableNode)
}

func TestFlowGraphValidate_Cycle(t *testing.T) {
	g := &FlowGraph{
		Nodes: []*FlowNode{
			node("t", NodeTypeTrigger),
			node("a", NodeTypeAction),
			node("b", NodeTypeAction),
		},
		Edges: []*FlowEdge{
			edge("t", "a"),
			edge("a", "b"),
			edge("b", "a"),
		},
	}

	assert.ErrorIs(t, g.Validate(), ErrGraphCycle)
}

func TestFlowGraphValidate_UnknownEdgeEndpoint(t *testing.T) {
	g := &FlowGraph{
		Nodes: []*FlowNode{node("t", NodeTypeTrigger)},
		Edges: []*FlowEdge{edge("t", "ghost")},
	}

	assert.ErrorIs(t, g.Validate(), ErrUnknownEdgeEndpoint)
}

func TestFlowGraphValidate_DiamondIsValid(t *testing.T) {
	g := &FlowGraph{
		Nodes: []*FlowNode{
			node("t", NodeTypeTrigger),
			node("cond", NodeTypeCondition),
			node("left", NodeTypeAction),
			node("right", NodeTypeAction),
			node("join", NodeTypeAction),
		},
		Edges: []*FlowEdge{
			edge("t", "cond"),
			edge("cond", "left"),
			edge("cond", "right"),
			edge("left", "join"),
			edge("right", "join"),
		},
	}

	assert.NoError(t, g.Validate())
}

func TestDeriveDedupKey_StableAcrossKeyOrder(t *testing.T) {
	a := map[string]any{"id": 1, "name": "x"}
	b := map[string]any{"name": "x", "id": 1}

	assert.Equal(t, DeriveDedupKey(a), DeriveDedupKey(b))
	assert.NotEqual(t, DeriveDedupKey(a), DeriveDedupKey(map[string]any{"id": 2}))
}
