package file

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/qbizns/Vodo.com-sub019/pkg/models"
	"github.com/qbizns/Vodo.com-sub019/pkg/persistence"
)

// StepRepository appends step records to one JSON document per execution.
type StepRepository struct {
	root string
	mu   sync.RWMutex
}

func NewStepRepository(root string) *StepRepository {
	return &StepRepository{root: root}
}

func (r *StepRepository) path(executionID string) string {
	return filepath.Join(r.root, "steps", executionID+".json")
}

func (r *StepRepository) Save(_ context.Context, step *models.FlowStepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	steps, err := readEntity[[]*models.FlowStepExecution](r.path(step.ExecutionID))
	if err != nil {
		return persistence.NewStoreError("Save", "step", step.ID, err)
	}

	var all []*models.FlowStepExecution
	if steps != nil {
		all = *steps
	}

	all = append(all, step)

	if err := writeEntity(r.path(step.ExecutionID), all); err != nil {
		return persistence.NewStoreError("Save", "step", step.ID, err)
	}

	return nil
}

func (r *StepRepository) ByExecutionID(_ context.Context, executionID string) ([]*models.FlowStepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	steps, err := readEntity[[]*models.FlowStepExecution](r.path(executionID))
	if err != nil {
		return nil, persistence.NewStoreError("ByExecutionID", "step", executionID, err)
	}

	if steps == nil {
		return []*models.FlowStepExecution{}, nil
	}

	return *steps, nil
}
