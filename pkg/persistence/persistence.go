// Package persistence provides the data storage abstraction for flows,
// subscriptions, trigger events and executions.
package persistence

import (
	"context"
	"time"

	"github.com/qbizns/Vodo.com-sub019/pkg/models"
)

type Persistence interface {
	Flows() FlowRepository
	Subscriptions() SubscriptionRepository
	Events() EventRepository
	Executions() ExecutionRepository
	Steps() StepRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

type FlowRepository interface {
	All(ctx context.Context) ([]*models.Flow, error)
	ByID(ctx context.Context, id string) (*models.Flow, error)
	Save(ctx context.Context, flow *models.Flow) error
	Delete(ctx context.Context, id string) error

	// SaveVersion stores an immutable graph snapshot taken at activation.
	// Running executions load the snapshot they started on, so edits to
	// the live flow never change a graph mid-execution.
	SaveVersion(ctx context.Context, graph *models.FlowGraph) error
	Version(ctx context.Context, flowID string, version int) (*models.FlowGraph, error)
}

type SubscriptionRepository interface {
	ByID(ctx context.Context, id string) (*models.TriggerSubscription, error)
	ByFlowID(ctx context.Context, flowID string) ([]*models.TriggerSubscription, error)
	Save(ctx context.Context, subscription *models.TriggerSubscription) error
	Delete(ctx context.Context, id string) error

	// DuePolling returns active polling subscriptions whose next_poll_at
	// has passed.
	DuePolling(ctx context.Context, now time.Time) ([]*models.TriggerSubscription, error)

	// ClaimPoll bumps next_poll_at to until if it is still due, and
	// reports whether the claim won. Two schedulers sweeping at once get
	// at most one claim; the loser skips the subscription.
	ClaimPoll(ctx context.Context, id string, until time.Time) (bool, error)
}

type EventRepository interface {
	ByID(ctx context.Context, id string) (*models.TriggerEvent, error)
	// Save persists a trigger event. A second event with the same
	// (subscription_id, dedup_key) returns ErrDuplicateEvent.
	Save(ctx context.Context, event *models.TriggerEvent) error
	// UpdateStatus transitions an event between statuses with the same
	// compare-and-set contract as execution transitions: the loser of a
	// concurrent dispatch gets ErrStatusConflict and backs off.
	UpdateStatus(ctx context.Context, id string, from, to models.TriggerEventStatus) error
	// PendingOlderThan returns pending events created before the cutoff,
	// for the reconciliation sweep.
	PendingOlderThan(ctx context.Context, cutoff time.Time) ([]*models.TriggerEvent, error)
}

type ExecutionRepository interface {
	ByID(ctx context.Context, id string) (*models.FlowExecution, error)
	ByFlowID(ctx context.Context, flowID string) ([]*models.FlowExecution, error)
	Save(ctx context.Context, execution *models.FlowExecution) error

	// UpdateStatus transitions an execution from one status to another.
	// It returns ErrStatusConflict when the stored status is not the
	// expected one, which is how concurrent duplicate deliveries lose.
	UpdateStatus(ctx context.Context, id string, from, to models.ExecutionStatus) error

	// DueResumes returns waiting executions whose resume_at has passed.
	DueResumes(ctx context.Context, now time.Time) ([]*models.FlowExecution, error)

	// ClaimResume bumps resume_at to until if it is still due, reporting
	// whether the claim won. Same contract as ClaimPoll.
	ClaimResume(ctx context.Context, id string, until time.Time) (bool, error)
}

type StepRepository interface {
	// Save appends a step record. Step history is append-only; retried
	// deliveries add new records rather than rewriting old ones.
	Save(ctx context.Context, step *models.FlowStepExecution) error
	ByExecutionID(ctx context.Context, executionID string) ([]*models.FlowStepExecution, error)
}
