package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/qbizns/Vodo.com-sub019/pkg/connector"
	"github.com/qbizns/Vodo.com-sub019/pkg/expression"
	"github.com/qbizns/Vodo.com-sub019/pkg/models"
	"github.com/qbizns/Vodo.com-sub019/pkg/vault"
)

// Action node config keys.
const (
	configConnectorID  = "connector_id"
	configAction       = "action"
	configConnectionID = "connection_id"
	configInput        = "input"
)

// Delay node config keys.
const (
	configDurationSeconds = "duration_seconds"
	configUntil           = "until"
)

// executeNode dispatches one node and records its step. A returned
// SuspendSignal means the node parked the execution; any other error is
// a node failure the caller's retry policy deals with.
func (e *Engine) executeNode(ctx context.Context, execution *models.FlowExecution, node *models.FlowNode) (map[string]any, error) {
	started := time.Now().UTC()

	if !node.Enabled {
		// Disabled nodes are skipped, not barriers: traversal continues
		// past them with an empty output.
		err := e.recordStep(ctx, &models.FlowStepExecution{
			ExecutionID: execution.ID,
			NodeID:      node.ID,
			NodeType:    node.Type,
			NodeName:    node.Name,
			Status:      models.StepStatusSkipped,
			StartedAt:   started,
			FinishedAt:  started,
		})

		return map[string]any{}, err
	}

	switch node.Type {
	case models.NodeTypeTrigger:
		return e.runTrigger(ctx, execution, node, started)
	case models.NodeTypeCondition:
		return e.runCondition(ctx, execution, node, started)
	case models.NodeTypeAction:
		return e.runAction(ctx, execution, node, started)
	case models.NodeTypeDelay:
		return e.runDelay(ctx, execution, node, started)
	default:
		return nil, fmt.Errorf("node %s has unknown type %q", node.ID, node.Type)
	}
}

// runTrigger replays the seeded trigger data as the entry node's output.
func (e *Engine) runTrigger(ctx context.Context, execution *models.FlowExecution, node *models.FlowNode, started time.Time) (map[string]any, error) {
	output, _ := execution.Context[models.ContextKeyTrigger].(map[string]any)
	if output == nil {
		output = map[string]any{}
	}

	err := e.recordStep(ctx, &models.FlowStepExecution{
		ExecutionID: execution.ID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		NodeName:    node.Name,
		Output:      output,
		Status:      models.StepStatusSuccess,
		StartedAt:   started,
		FinishedAt:  time.Now().UTC(),
	})

	return output, err
}

// runCondition is a pass-through; branching happens on the outgoing
// edges' conditions, not in the node itself.
func (e *Engine) runCondition(ctx context.Context, execution *models.FlowExecution, node *models.FlowNode, started time.Time) (map[string]any, error) {
	output := map[string]any{}

	err := e.recordStep(ctx, &models.FlowStepExecution{
		ExecutionID: execution.ID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		NodeName:    node.Name,
		Output:      output,
		Status:      models.StepStatusSuccess,
		StartedAt:   started,
		FinishedAt:  time.Now().UTC(),
	})

	return output, err
}

func (e *Engine) runAction(ctx context.Context, execution *models.FlowExecution, node *models.FlowNode, started time.Time) (map[string]any, error) {
	connectorID := node.ConfigString(configConnectorID, "")
	actionName := node.ConfigString(configAction, "")

	action, err := e.registry.Action(connectorID, actionName)
	if err != nil {
		return nil, e.failStep(ctx, execution, node, nil, started, err)
	}

	input, err := expression.ResolveConfig(node.ConfigMap(configInput), execution.Context)
	if err != nil {
		return nil, e.failStep(ctx, execution, node, nil, started, err)
	}

	var creds vault.Credentials

	if connectionID := node.ConfigString(configConnectionID, ""); connectionID != "" {
		creds, err = e.vault.Retrieve(ctx, connectionID)
		if err != nil {
			return nil, e.failStep(ctx, execution, node, input, started, err)
		}
	}

	output, err := action.Execute(ctx, creds, input)
	if err != nil {
		if signal, ok := connector.AsSuspend(err); ok {
			// The action parked the execution (e.g. waiting for an
			// approval callback). The step is recorded as done; resume
			// merges the external outcome into this node's output.
			recordErr := e.recordStep(ctx, &models.FlowStepExecution{
				ExecutionID: execution.ID,
				NodeID:      node.ID,
				NodeType:    node.Type,
				NodeName:    node.Name,
				Input:       input,
				Status:      models.StepStatusSuccess,
				StartedAt:   started,
				FinishedAt:  time.Now().UTC(),
			})
			if recordErr != nil {
				return nil, recordErr
			}

			return nil, signal
		}

		return nil, e.failStep(ctx, execution, node, input, started, err)
	}

	finished := time.Now().UTC()

	err = e.recordStep(ctx, &models.FlowStepExecution{
		ExecutionID: execution.ID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		NodeName:    node.Name,
		Input:       input,
		Output:      output,
		Status:      models.StepStatusSuccess,
		DurationMs:  finished.Sub(started).Milliseconds(),
		StartedAt:   started,
		FinishedAt:  finished,
	})
	if err != nil {
		return nil, err
	}

	if output == nil {
		output = map[string]any{}
	}

	return output, nil
}

// runDelay computes the wakeup time and parks the execution.
func (e *Engine) runDelay(ctx context.Context, execution *models.FlowExecution, node *models.FlowNode, started time.Time) (map[string]any, error) {
	resumeAt, err := delayResumeAt(node, started)
	if err != nil {
		return nil, e.failStep(ctx, execution, node, nil, started, err)
	}

	recordErr := e.recordStep(ctx, &models.FlowStepExecution{
		ExecutionID: execution.ID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		NodeName:    node.Name,
		Output:      map[string]any{"resume_at": resumeAt.Format(time.RFC3339)},
		Status:      models.StepStatusSuccess,
		StartedAt:   started,
		FinishedAt:  time.Now().UTC(),
	})
	if recordErr != nil {
		return nil, recordErr
	}

	return nil, &connector.SuspendSignal{ResumeAt: &resumeAt}
}

func delayResumeAt(node *models.FlowNode, now time.Time) (time.Time, error) {
	if until := node.ConfigString(configUntil, ""); until != "" {
		at, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return time.Time{}, fmt.Errorf("node %s: invalid until %q: %w", node.ID, until, err)
		}

		return at, nil
	}

	switch v := node.Config[configDurationSeconds].(type) {
	case float64:
		return now.Add(time.Duration(v) * time.Second), nil
	case int:
		return now.Add(time.Duration(v) * time.Second), nil
	default:
		return time.Time{}, fmt.Errorf("node %s: delay requires %s or %s", node.ID, configDurationSeconds, configUntil)
	}
}

// failStep records the failed step and returns the node error annotated
// with the node id. The failed record does not mark the node visited, so
// a retried job re-executes it.
func (e *Engine) failStep(ctx context.Context, execution *models.FlowExecution, node *models.FlowNode, input map[string]any, started time.Time, cause error) error {
	finished := time.Now().UTC()

	err := e.recordStep(ctx, &models.FlowStepExecution{
		ExecutionID: execution.ID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		NodeName:    node.Name,
		Input:       input,
		Status:      models.StepStatusFailed,
		Error:       cause.Error(),
		DurationMs:  finished.Sub(started).Milliseconds(),
		StartedAt:   started,
		FinishedAt:  finished,
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to record step failure",
			"execution_id", execution.ID, "node_id", node.ID, "error", err)
	}

	return fmt.Errorf("node %s: %w", node.ID, cause)
}
