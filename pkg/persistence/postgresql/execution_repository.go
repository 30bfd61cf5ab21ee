package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/qbizns/Vodo.com-sub019/pkg/models"
	"github.com/qbizns/Vodo.com-sub019/pkg/persistence"
)

// ExecutionRepository handles flow execution database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const executionColumns = `
	id
  , tenant_id
  , flow_id
  , flow_version
  , trigger_event_id
  , status
  , context
  , nodes_executed
  , error
  , wait_node_id
  , resume_at
  , started_at
  , completed_at
`

func (r *ExecutionRepository) ByID(ctx context.Context, id string) (*models.FlowExecution, error) {
	query := `SELECT` + executionColumns + `FROM flow_executions WHERE id = $1`

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("ByID", "execution", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewStoreError("ByID", "execution", id, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) ByFlowID(ctx context.Context, flowID string) ([]*models.FlowExecution, error) {
	query := `SELECT` + executionColumns + `FROM flow_executions WHERE flow_id = $1 ORDER BY started_at DESC`

	return r.queryExecutions(ctx, query, flowID)
}

func (r *ExecutionRepository) DueResumes(ctx context.Context, now time.Time) ([]*models.FlowExecution, error) {
	query := `SELECT` + executionColumns + `
		FROM flow_executions
		WHERE status = 'waiting' AND resume_at IS NOT NULL AND resume_at <= $1
		ORDER BY resume_at
	`

	return r.queryExecutions(ctx, query, now)
}

func (r *ExecutionRepository) queryExecutions(ctx context.Context, query string, args ...any) ([]*models.FlowExecution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.FlowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func (r *ExecutionRepository) Save(ctx context.Context, execution *models.FlowExecution) error {
	contextRaw, err := json.Marshal(execution.Context)
	if err != nil {
		return persistence.NewStoreError("Save", "execution", execution.ID, err)
	}

	query := `
		INSERT INTO flow_executions (
			id, tenant_id, flow_id, flow_version, trigger_event_id, status, context,
			nodes_executed, error, wait_node_id, resume_at, started_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status
		  , context = EXCLUDED.context
		  , nodes_executed = EXCLUDED.nodes_executed
		  , error = EXCLUDED.error
		  , wait_node_id = EXCLUDED.wait_node_id
		  , resume_at = EXCLUDED.resume_at
		  , completed_at = EXCLUDED.completed_at
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID, execution.TenantID, execution.FlowID, execution.FlowVersion,
		nullString(execution.TriggerEventID), execution.Status, contextRaw,
		execution.NodesExecuted, execution.Error, execution.WaitNodeID,
		execution.ResumeAt, execution.StartedAt, execution.CompletedAt)
	if err != nil {
		return persistence.NewStoreError("Save", "execution", execution.ID, err)
	}

	return nil
}

// UpdateStatus is the optimistic guard behind every transition of the
// execution state machine. No row lock is held; the losing writer of a
// race simply matches zero rows.
func (r *ExecutionRepository) UpdateStatus(ctx context.Context, id string, from, to models.ExecutionStatus) error {
	query := `UPDATE flow_executions SET status = $3 WHERE id = $1 AND status = $2`

	result, err := r.db.ExecContext(ctx, query, id, from, to)
	if err != nil {
		return persistence.NewStoreError("UpdateStatus", "execution", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStoreError("UpdateStatus", "execution", id, err)
	}

	if affected == 0 {
		exists, err := r.exists(ctx, id)
		if err != nil {
			return persistence.NewStoreError("UpdateStatus", "execution", id, err)
		}

		if !exists {
			return persistence.NewStoreError("UpdateStatus", "execution", id, persistence.ErrExecutionNotFound)
		}

		return persistence.NewStoreError("UpdateStatus", "execution", id, persistence.ErrStatusConflict)
	}

	return nil
}

func (r *ExecutionRepository) ClaimResume(ctx context.Context, id string, until time.Time) (bool, error) {
	query := `
		UPDATE flow_executions
		SET resume_at = $2
		WHERE id = $1 AND status = 'waiting' AND resume_at IS NOT NULL AND resume_at <= NOW()
	`

	result, err := r.db.ExecContext(ctx, query, id, until)
	if err != nil {
		return false, persistence.NewStoreError("ClaimResume", "execution", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, persistence.NewStoreError("ClaimResume", "execution", id, err)
	}

	return affected > 0, nil
}

func (r *ExecutionRepository) exists(ctx context.Context, id string) (bool, error) {
	var exists bool

	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM flow_executions WHERE id = $1)`, id).Scan(&exists)

	return exists, err
}

func scanExecution(row rowScanner) (*models.FlowExecution, error) {
	var (
		execution      models.FlowExecution
		triggerEventID sql.NullString
		contextRaw     []byte
	)

	err := row.Scan(
		&execution.ID, &execution.TenantID, &execution.FlowID, &execution.FlowVersion,
		&triggerEventID, &execution.Status, &contextRaw, &execution.NodesExecuted,
		&execution.Error, &execution.WaitNodeID, &execution.ResumeAt,
		&execution.StartedAt, &execution.CompletedAt)
	if err != nil {
		return nil, err
	}

	execution.TriggerEventID = triggerEventID.String

	if err := json.Unmarshal(contextRaw, &execution.Context); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution context: %w", err)
	}

	return &execution, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
