package file

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/qbizns/Vodo.com-sub019/pkg/models"
	"github.com/qbizns/Vodo.com-sub019/pkg/persistence"
)

// ExecutionRepository stores flow executions as JSON documents.
type ExecutionRepository struct {
	root string
	mu   sync.RWMutex
}

func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{root: root}
}

func (r *ExecutionRepository) path(id string) string {
	return filepath.Join(r.root, "executions", id+".json")
}

func (r *ExecutionRepository) dir() string {
	return filepath.Join(r.root, "executions")
}

func (r *ExecutionRepository) ByID(_ context.Context, id string) (*models.FlowExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.byIDLocked(id)
}

func (r *ExecutionRepository) byIDLocked(id string) (*models.FlowExecution, error) {
	execution, err := readEntity[models.FlowExecution](r.path(id))
	if err != nil {
		return nil, persistence.NewStoreError("ByID", "execution", id, err)
	}

	if execution == nil {
		return nil, persistence.NewStoreError("ByID", "execution", id, persistence.ErrExecutionNotFound)
	}

	return execution, nil
}

func (r *ExecutionRepository) ByFlowID(_ context.Context, flowID string) ([]*models.FlowExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all, err := listEntities[models.FlowExecution](r.dir())
	if err != nil {
		return nil, persistence.NewStoreError("ByFlowID", "execution", flowID, err)
	}

	out := make([]*models.FlowExecution, 0)

	for _, execution := range all {
		if execution.FlowID == flowID {
			out = append(out, execution)
		}
	}

	return out, nil
}

func (r *ExecutionRepository) Save(_ context.Context, execution *models.FlowExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := writeEntity(r.path(execution.ID), execution); err != nil {
		return persistence.NewStoreError("Save", "execution", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) UpdateStatus(_ context.Context, id string, from, to models.ExecutionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	execution, err := r.byIDLocked(id)
	if err != nil {
		return err
	}

	if execution.Status != from {
		return persistence.NewStoreError("UpdateStatus", "execution", id, persistence.ErrStatusConflict)
	}

	execution.Status = to

	if err := writeEntity(r.path(id), execution); err != nil {
		return persistence.NewStoreError("UpdateStatus", "execution", id, err)
	}

	return nil
}

func (r *ExecutionRepository) DueResumes(_ context.Context, now time.Time) ([]*models.FlowExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all, err := listEntities[models.FlowExecution](r.dir())
	if err != nil {
		return nil, persistence.NewStoreError("DueResumes", "execution", "", err)
	}

	out := make([]*models.FlowExecution, 0)

	for _, execution := range all {
		if execution.Status != models.ExecutionStatusWaiting || execution.ResumeAt == nil {
			continue
		}

		if !execution.ResumeAt.After(now) {
			out = append(out, execution)
		}
	}

	return out, nil
}

func (r *ExecutionRepository) ClaimResume(_ context.Context, id string, until time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	execution, err := r.byIDLocked(id)
	if err != nil {
		return false, err
	}

	if execution.Status != models.ExecutionStatusWaiting || execution.ResumeAt == nil {
		return false, nil
	}

	if execution.ResumeAt.After(time.Now()) {
		return false, nil
	}

	execution.ResumeAt = &until

	if err := writeEntity(r.path(id), execution); err != nil {
		return false, persistence.NewStoreError("ClaimResume", "execution", id, err)
	}

	return true, nil
}
