package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/qbizns/Vodo.com-sub019/pkg/models"
	"github.com/qbizns/Vodo.com-sub019/pkg/persistence"
)

// StepRepository handles the append-only step execution history.
type StepRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewStepRepository(db *sql.DB, logger *slog.Logger) *StepRepository {
	return &StepRepository{db: db, logger: logger}
}

func (r *StepRepository) Save(ctx context.Context, step *models.FlowStepExecution) error {
	input, err := marshalNullable(step.Input)
	if err != nil {
		return persistence.NewStoreError("Save", "step", step.ID, err)
	}

	output, err := marshalNullable(step.Output)
	if err != nil {
		return persistence.NewStoreError("Save", "step", step.ID, err)
	}

	query := `
		INSERT INTO flow_step_executions (
			id, execution_id, node_id, node_type, node_name, input, output,
			status, error, duration_ms, started_at, finished_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.db.ExecContext(ctx, query,
		step.ID, step.ExecutionID, step.NodeID, step.NodeType, step.NodeName,
		input, output, step.Status, step.Error, step.DurationMs,
		step.StartedAt, step.FinishedAt)
	if err != nil {
		return persistence.NewStoreError("Save", "step", step.ID, err)
	}

	return nil
}

func (r *StepRepository) ByExecutionID(ctx context.Context, executionID string) ([]*models.FlowStepExecution, error) {
	query := `
		SELECT
			id
		  , execution_id
		  , node_id
		  , node_type
		  , node_name
		  , input
		  , output
		  , status
		  , error
		  , duration_ms
		  , started_at
		  , finished_at
		FROM flow_step_executions
		WHERE execution_id = $1
		ORDER BY started_at
	`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	steps := make([]*models.FlowStepExecution, 0)

	for rows.Next() {
		var (
			step      models.FlowStepExecution
			inputRaw  []byte
			outputRaw []byte
		)

		err := rows.Scan(
			&step.ID, &step.ExecutionID, &step.NodeID, &step.NodeType, &step.NodeName,
			&inputRaw, &outputRaw, &step.Status, &step.Error, &step.DurationMs,
			&step.StartedAt, &step.FinishedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}

		if len(inputRaw) > 0 {
			if err := json.Unmarshal(inputRaw, &step.Input); err != nil {
				return nil, fmt.Errorf("failed to unmarshal step input: %w", err)
			}
		}

		if len(outputRaw) > 0 {
			if err := json.Unmarshal(outputRaw, &step.Output); err != nil {
				return nil, fmt.Errorf("failed to unmarshal step output: %w", err)
			}
		}

		steps = append(steps, &step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}

	return steps, nil
}
