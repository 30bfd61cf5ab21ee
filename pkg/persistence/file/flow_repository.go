package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/qbizns/Vodo.com-sub019/pkg/models"
	"github.com/qbizns/Vodo.com-sub019/pkg/persistence"
)

// FlowRepository stores flows and graph snapshots as JSON documents.
type FlowRepository struct {
	root string
	mu   sync.RWMutex
}

func NewFlowRepository(root string) *FlowRepository {
	return &FlowRepository{root: root}
}

func (r *FlowRepository) flowPath(id string) string {
	return filepath.Join(r.root, "flows", id+".json")
}

func (r *FlowRepository) versionPath(flowID string, version int) string {
	return filepath.Join(r.root, "flow_versions", fmt.Sprintf("%s_v%d.json", flowID, version))
}

func (r *FlowRepository) All(ctx context.Context) ([]*models.Flow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return listEntities[models.Flow](filepath.Join(r.root, "flows"))
}

func (r *FlowRepository) ByID(_ context.Context, id string) (*models.Flow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	flow, err := readEntity[models.Flow](r.flowPath(id))
	if err != nil {
		return nil, persistence.NewStoreError("ByID", "flow", id, err)
	}

	if flow == nil {
		return nil, persistence.NewStoreError("ByID", "flow", id, persistence.ErrFlowNotFound)
	}

	return flow, nil
}

func (r *FlowRepository) Save(_ context.Context, flow *models.Flow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}

	flow.UpdatedAt = now

	if err := writeEntity(r.flowPath(flow.ID), flow); err != nil {
		return persistence.NewStoreError("Save", "flow", flow.ID, err)
	}

	return nil
}

func (r *FlowRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := os.Remove(r.flowPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return persistence.NewStoreError("Delete", "flow", id, persistence.ErrFlowNotFound)
		}

		return persistence.NewStoreError("Delete", "flow", id, err)
	}

	return nil
}

func (r *FlowRepository) SaveVersion(_ context.Context, graph *models.FlowGraph) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := writeEntity(r.versionPath(graph.FlowID, graph.Version), graph); err != nil {
		return persistence.NewStoreError("SaveVersion", "flow", graph.FlowID, err)
	}

	return nil
}

func (r *FlowRepository) Version(_ context.Context, flowID string, version int) (*models.FlowGraph, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	graph, err := readEntity[models.FlowGraph](r.versionPath(flowID, version))
	if err != nil {
		return nil, persistence.NewStoreError("Version", "flow", flowID, err)
	}

	if graph == nil {
		return nil, persistence.NewStoreError("Version", "flow", flowID, persistence.ErrFlowVersionNotFound)
	}

	return graph, nil
}
