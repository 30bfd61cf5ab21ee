// Package file provides a file-based persistence implementation for
// local development and tests. One JSON document per entity, guarded by
// per-repository locks; it is not meant for concurrent multi-process use.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/qbizns/Vodo.com-sub019/pkg/persistence"
)

// Persistence implements persistence.Persistence on the file system.
type Persistence struct {
	root             string
	flowRepo         *FlowRepository
	subscriptionRepo *SubscriptionRepository
	eventRepo        *EventRepository
	executionRepo    *ExecutionRepository
	stepRepo         *StepRepository
}

// NewPersistence creates a file persistence layer rooted at the given directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:             cleanRoot,
		flowRepo:         NewFlowRepository(cleanRoot),
		subscriptionRepo: NewSubscriptionRepository(cleanRoot),
		eventRepo:        NewEventRepository(cleanRoot),
		executionRepo:    NewExecutionRepository(cleanRoot),
		stepRepo:         NewStepRepository(cleanRoot),
	}
}

func (fp *Persistence) Flows() persistence.FlowRepository { return fp.flowRepo }

func (fp *Persistence) Subscriptions() persistence.SubscriptionRepository {
	return fp.subscriptionRepo
}

func (fp *Persistence) Events() persistence.EventRepository { return fp.eventRepo }

func (fp *Persistence) Executions() persistence.ExecutionRepository { return fp.executionRepo }

func (fp *Persistence) Steps() persistence.StepRepository { return fp.stepRepo }

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close performs any necessary cleanup. For file persistence there is none.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}
