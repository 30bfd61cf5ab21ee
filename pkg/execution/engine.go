// Package execution runs flow executions: graph traversal over the pinned
// snapshot, node dispatch, suspension and resume.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/qbizns/Vodo.com-sub019/pkg/connector"
	"github.com/qbizns/Vodo.com-sub019/pkg/expression"
	"github.com/qbizns/Vodo.com-sub019/pkg/flowerr"
	"github.com/qbizns/Vodo.com-sub019/pkg/models"
	"github.com/qbizns/Vodo.com-sub019/pkg/persistence"
	"github.com/qbizns/Vodo.com-sub019/pkg/queue"
	"github.com/qbizns/Vodo.com-sub019/pkg/vault"
)

// Engine executes flows. All methods are idempotent against duplicate
// job delivery: terminal executions are left untouched and the visited
// set is rebuilt from persisted step records, so a re-run never
// re-executes a node that already succeeded.
type Engine struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *connector.Registry
	vault       vault.Vault
	queue       queue.Queue
}

func NewEngine(
	logger *slog.Logger,
	p persistence.Persistence,
	registry *connector.Registry,
	v vault.Vault,
	q queue.Queue,
) *Engine {
	return &Engine{
		logger:      logger.With("module", "execution"),
		persistence: p,
		registry:    registry,
		vault:       v,
		queue:       q,
	}
}

// Run drives an execution from the trigger node until it completes,
// suspends or fails. Safe to call again after a crash or duplicate
// delivery.
func (e *Engine) Run(ctx context.Context, executionID string) error {
	execution, err := e.persistence.Executions().ByID(ctx, executionID)
	if err != nil {
		return err
	}

	if execution.IsTerminal() {
		e.logger.InfoContext(ctx, "Execution already terminal, ignoring run",
			"execution_id", executionID, "status", execution.Status)

		return nil
	}

	if execution.Status == models.ExecutionStatusWaiting {
		// A stale execute job for an execution that suspended; the resume
		// path owns it now.
		return nil
	}

	graph, err := e.persistence.Flows().Version(ctx, execution.FlowID, execution.FlowVersion)
	if err != nil {
		return err
	}

	triggerNode, ok := graph.TriggerNode()
	if !ok {
		return e.MarkFailed(ctx, executionID, "graph snapshot has no trigger node")
	}

	return e.traverse(ctx, execution, graph, []string{triggerNode.ID})
}

// Resume re-enters a waiting execution, merging caller-supplied data
// into the suspending node's context entry, and re-walks the graph from
// the trigger node. Visited nodes come back from the step records, so
// only the work past the wait point (and any sibling branches that were
// still queued when the execution suspended) actually runs.
func (e *Engine) Resume(ctx context.Context, executionID string, data map[string]any) error {
	execution, err := e.persistence.Executions().ByID(ctx, executionID)
	if err != nil {
		return err
	}

	if execution.IsTerminal() {
		return nil
	}

	if execution.Status != models.ExecutionStatusWaiting {
		return &flowerr.InvalidExecutionStateError{
			ExecutionID: executionID,
			Status:      string(execution.Status),
			Operation:   "resume",
		}
	}

	err = e.persistence.Executions().UpdateStatus(ctx, executionID,
		models.ExecutionStatusWaiting, models.ExecutionStatusRunning)
	if err != nil {
		if persistence.IsStatusConflict(err) {
			// A concurrent resume won the transition.
			return nil
		}

		return err
	}

	waitNodeID := execution.WaitNodeID
	execution.Status = models.ExecutionStatusRunning
	execution.WaitNodeID = ""
	execution.ResumeAt = nil

	if len(data) > 0 {
		merged := map[string]any{}
		if existing, ok := execution.Context[waitNodeID].(map[string]any); ok {
			for k, v := range existing {
				merged[k] = v
			}
		}

		for k, v := range data {
			merged[k] = v
		}

		execution.Context[waitNodeID] = merged
	}

	if err := e.persistence.Executions().Save(ctx, execution); err != nil {
		return err
	}

	graph, err := e.persistence.Flows().Version(ctx, execution.FlowID, execution.FlowVersion)
	if err != nil {
		return err
	}

	triggerNode, ok := graph.TriggerNode()
	if !ok {
		return e.MarkFailed(ctx, executionID, "graph snapshot has no trigger node")
	}

	return e.traverse(ctx, execution, graph, []string{triggerNode.ID})
}

// Cancel terminates an execution from any non-terminal state. Cancelling
// a terminal execution is a no-op.
func (e *Engine) Cancel(ctx context.Context, executionID string) (*models.FlowExecution, error) {
	execution, err := e.persistence.Executions().ByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if execution.IsTerminal() {
		return execution, nil
	}

	err = e.persistence.Executions().UpdateStatus(ctx, executionID,
		execution.Status, models.ExecutionStatusCancelled)
	if err != nil {
		if persistence.IsStatusConflict(err) {
			// Status moved under us; report whatever it became.
			return e.persistence.Executions().ByID(ctx, executionID)
		}

		return nil, err
	}

	now := time.Now().UTC()
	execution.Status = models.ExecutionStatusCancelled
	execution.WaitNodeID = ""
	execution.ResumeAt = nil
	execution.CompletedAt = &now

	if err := e.persistence.Executions().Save(ctx, execution); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Execution cancelled", "execution_id", executionID)

	return execution, nil
}

// MarkFailed moves a running execution to failed with the given message.
// Losing the status guard means the execution was cancelled or completed
// concurrently, which is not an error.
func (e *Engine) MarkFailed(ctx context.Context, executionID, message string) error {
	err := e.persistence.Executions().UpdateStatus(ctx, executionID,
		models.ExecutionStatusRunning, models.ExecutionStatusFailed)
	if err != nil {
		if persistence.IsStatusConflict(err) {
			e.logger.WarnContext(ctx, "Lost failed transition, execution changed state",
				"execution_id", executionID)

			return nil
		}

		return err
	}

	execution, err := e.persistence.Executions().ByID(ctx, executionID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	execution.Error = message
	execution.CompletedAt = &now

	if err := e.persistence.Executions().Save(ctx, execution); err != nil {
		return err
	}

	e.logger.ErrorContext(ctx, "Execution failed", "execution_id", executionID, "error", message)

	return nil
}

// traverse walks the graph breadth-first from the frontier. Nodes with a
// successful or skipped step record are treated as visited and never
// re-executed.
func (e *Engine) traverse(ctx context.Context, execution *models.FlowExecution, graph *models.FlowGraph, frontier []string) error {
	visited, err := e.visitedNodes(ctx, execution.ID)
	if err != nil {
		return err
	}

	pending := make([]string, 0, len(frontier))
	pending = append(pending, frontier...)

	// expanded guards against walking a node's outgoing edges twice when
	// several edges converge on it.
	expanded := make(map[string]bool)

	for len(pending) > 0 {
		nodeID := pending[0]
		pending = pending[1:]

		if expanded[nodeID] {
			continue
		}

		node, ok := graph.Node(nodeID)
		if !ok {
			return e.MarkFailed(ctx, execution.ID,
				fmt.Sprintf("node %s not in graph snapshot", nodeID))
		}

		// Already-visited nodes come from a previous attempt of this
		// execution; they are expanded but never re-executed.
		if !visited[nodeID] {
			output, err := e.executeNode(ctx, execution, node)
			if err != nil {
				if signal, ok := connector.AsSuspend(err); ok {
					return e.suspend(ctx, execution, node, signal)
				}

				return err
			}

			visited[nodeID] = true
			execution.Context[nodeID] = output
			execution.NodesExecuted++

			// Persist context after every node so a crash resumes with all
			// prior outputs intact.
			if err := e.persistence.Executions().Save(ctx, execution); err != nil {
				return err
			}
		}

		expanded[nodeID] = true

		next, err := e.nextNodes(graph, nodeID, execution.Context)
		if err != nil {
			return e.MarkFailed(ctx, execution.ID, err.Error())
		}

		pending = append(pending, next...)
	}

	return e.complete(ctx, execution)
}

func (e *Engine) visitedNodes(ctx context.Context, executionID string) (map[string]bool, error) {
	steps, err := e.persistence.Steps().ByExecutionID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	visited := make(map[string]bool, len(steps))

	for _, step := range steps {
		// Failed steps stay unvisited so a retry re-executes the node.
		if step.Status == models.StepStatusSuccess || step.Status == models.StepStatusSkipped {
			visited[step.NodeID] = true
		}
	}

	return visited, nil
}

// nextNodes returns the targets of the node's outgoing edges whose
// conditions hold against the execution context.
func (e *Engine) nextNodes(graph *models.FlowGraph, nodeID string, env map[string]any) ([]string, error) {
	var next []string

	for _, edge := range graph.OutgoingEdges(nodeID) {
		follow, err := expression.EvalCondition(edge.Condition, env)
		if err != nil {
			return nil, fmt.Errorf("edge %s condition: %w", edge.ID, err)
		}

		if follow {
			next = append(next, edge.TargetNode)
		}
	}

	return next, nil
}

func (e *Engine) complete(ctx context.Context, execution *models.FlowExecution) error {
	err := e.persistence.Executions().UpdateStatus(ctx, execution.ID,
		models.ExecutionStatusRunning, models.ExecutionStatusCompleted)
	if err != nil {
		if persistence.IsStatusConflict(err) {
			// Cancelled mid-traversal; the cancel owns the final state.
			return nil
		}

		return err
	}

	now := time.Now().UTC()
	execution.Status = models.ExecutionStatusCompleted
	execution.CompletedAt = &now

	if err := e.persistence.Executions().Save(ctx, execution); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Execution completed",
		"execution_id", execution.ID, "nodes_executed", execution.NodesExecuted)

	return nil
}

// suspend parks the execution on the given node. The step for the node
// was already recorded, so the resume re-walk treats it as visited.
func (e *Engine) suspend(ctx context.Context, execution *models.FlowExecution, node *models.FlowNode, signal *connector.SuspendSignal) error {
	err := e.persistence.Executions().UpdateStatus(ctx, execution.ID,
		models.ExecutionStatusRunning, models.ExecutionStatusWaiting)
	if err != nil {
		if persistence.IsStatusConflict(err) {
			return nil
		}

		return err
	}

	execution.Status = models.ExecutionStatusWaiting
	execution.WaitNodeID = node.ID
	execution.ResumeAt = signal.ResumeAt

	if err := e.persistence.Executions().Save(ctx, execution); err != nil {
		return err
	}

	// Low-latency wakeup; the scheduler sweep is the durable backstop.
	if signal.ResumeAt != nil {
		job := queue.NewResumeFlowJob(execution.ID, nil)
		if err := e.queue.EnqueueIn(ctx, job, time.Until(*signal.ResumeAt)); err != nil {
			e.logger.ErrorContext(ctx, "Failed to enqueue delayed resume",
				"execution_id", execution.ID, "error", err)
		}
	}

	e.logger.InfoContext(ctx, "Execution suspended",
		"execution_id", execution.ID, "node_id", node.ID, "resume_at", signal.ResumeAt)

	return nil
}

func (e *Engine) recordStep(ctx context.Context, step *models.FlowStepExecution) error {
	if step.ID == "" {
		step.ID = uuid.New().String()
	}

	return e.persistence.Steps().Save(ctx, step)
}
