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

// FlowRepository handles flow-related database operations.
type FlowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewFlowRepository(db *sql.DB, logger *slog.Logger) *FlowRepository {
	return &FlowRepository{db: db, logger: logger}
}

const flowColumns = `
	id
  , tenant_id
  , name
  , description
  , status
  , version
  , trigger
  , settings
  , nodes
  , edges
  , created_at
  , updated_at
`

func (r *FlowRepository) All(ctx context.Context) ([]*models.Flow, error) {
	query := `SELECT` + flowColumns + `FROM flows ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	flows := make([]*models.Flow, 0)

	for rows.Next() {
		flow, err := scanFlow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}

		flows = append(flows, flow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating flows: %w", err)
	}

	return flows, nil
}

func (r *FlowRepository) ByID(ctx context.Context, id string) (*models.Flow, error) {
	query := `SELECT` + flowColumns + `FROM flows WHERE id = $1`

	flow, err := scanFlow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("ByID", "flow", id, persistence.ErrFlowNotFound)
		}

		return nil, persistence.NewStoreError("ByID", "flow", id, err)
	}

	return flow, nil
}

func (r *FlowRepository) Save(ctx context.Context, flow *models.Flow) error {
	now := time.Now().UTC()
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}

	flow.UpdatedAt = now

	trigger, err := marshalNullable(flow.Trigger)
	if err != nil {
		return persistence.NewStoreError("Save", "flow", flow.ID, err)
	}

	settings, err := marshalNullable(flow.Settings)
	if err != nil {
		return persistence.NewStoreError("Save", "flow", flow.ID, err)
	}

	nodes, err := json.Marshal(flow.Nodes)
	if err != nil {
		return persistence.NewStoreError("Save", "flow", flow.ID, err)
	}

	edges, err := json.Marshal(flow.Edges)
	if err != nil {
		return persistence.NewStoreError("Save", "flow", flow.ID, err)
	}

	query := `
		INSERT INTO flows (id, tenant_id, name, description, status, version, trigger, settings, nodes, edges, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id
		  , name = EXCLUDED.name
		  , description = EXCLUDED.description
		  , status = EXCLUDED.status
		  , version = EXCLUDED.version
		  , trigger = EXCLUDED.trigger
		  , settings = EXCLUDED.settings
		  , nodes = EXCLUDED.nodes
		  , edges = EXCLUDED.edges
		  , updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		flow.ID, flow.TenantID, flow.Name, flow.Description, flow.Status, flow.Version,
		trigger, settings, nodes, edges, flow.CreatedAt, flow.UpdatedAt)
	if err != nil {
		return persistence.NewStoreError("Save", "flow", flow.ID, err)
	}

	return nil
}

func (r *FlowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM flows WHERE id = $1`, id)
	if err != nil {
		return persistence.NewStoreError("Delete", "flow", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStoreError("Delete", "flow", id, err)
	}

	if affected == 0 {
		return persistence.NewStoreError("Delete", "flow", id, persistence.ErrFlowNotFound)
	}

	return nil
}

func (r *FlowRepository) SaveVersion(ctx context.Context, graph *models.FlowGraph) error {
	nodes, err := json.Marshal(graph.Nodes)
	if err != nil {
		return persistence.NewStoreError("SaveVersion", "flow", graph.FlowID, err)
	}

	edges, err := json.Marshal(graph.Edges)
	if err != nil {
		return persistence.NewStoreError("SaveVersion", "flow", graph.FlowID, err)
	}

	// Snapshots are immutable; re-activating the same version is a no-op.
	query := `
		INSERT INTO flow_versions (flow_id, version, nodes, edges)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (flow_id, version) DO NOTHING
	`

	_, err = r.db.ExecContext(ctx, query, graph.FlowID, graph.Version, nodes, edges)
	if err != nil {
		return persistence.NewStoreError("SaveVersion", "flow", graph.FlowID, err)
	}

	return nil
}

func (r *FlowRepository) Version(ctx context.Context, flowID string, version int) (*models.FlowGraph, error) {
	query := `SELECT nodes, edges FROM flow_versions WHERE flow_id = $1 AND version = $2`

	var nodesRaw, edgesRaw []byte

	err := r.db.QueryRowContext(ctx, query, flowID, version).Scan(&nodesRaw, &edgesRaw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("Version", "flow", flowID, persistence.ErrFlowVersionNotFound)
		}

		return nil, persistence.NewStoreError("Version", "flow", flowID, err)
	}

	graph := &models.FlowGraph{FlowID: flowID, Version: version}

	if err := json.Unmarshal(nodesRaw, &graph.Nodes); err != nil {
		return nil, persistence.NewStoreError("Version", "flow", flowID, err)
	}

	if err := json.Unmarshal(edgesRaw, &graph.Edges); err != nil {
		return nil, persistence.NewStoreError("Version", "flow", flowID, err)
	}

	return graph, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlow(row rowScanner) (*models.Flow, error) {
	var (
		flow        models.Flow
		triggerRaw  []byte
		settingsRaw []byte
		nodesRaw    []byte
		edgesRaw    []byte
	)

	err := row.Scan(
		&flow.ID, &flow.TenantID, &flow.Name, &flow.Description, &flow.Status, &flow.Version,
		&triggerRaw, &settingsRaw, &nodesRaw, &edgesRaw, &flow.CreatedAt, &flow.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(triggerRaw) > 0 {
		if err := json.Unmarshal(triggerRaw, &flow.Trigger); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger: %w", err)
		}
	}

	if len(settingsRaw) > 0 {
		if err := json.Unmarshal(settingsRaw, &flow.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
		}
	}

	if err := json.Unmarshal(nodesRaw, &flow.Nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}

	if err := json.Unmarshal(edgesRaw, &flow.Edges); err != nil {
		return nil, fmt.Errorf("failed to unmarshal edges: %w", err)
	}

	return &flow, nil
}

func marshalNullable(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}

	return json.Marshal(v)
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
