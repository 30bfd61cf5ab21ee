package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrFlowNotFound indicates a flow was not found by the given identifier.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrFlowVersionNotFound indicates no graph snapshot exists for the
	// given flow and version.
	ErrFlowVersionNotFound = errors.New("flow version not found")

	// ErrSubscriptionNotFound indicates a trigger subscription was not found.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrEventNotFound indicates a trigger event was not found.
	ErrEventNotFound = errors.New("trigger event not found")

	// ErrExecutionNotFound indicates a flow execution was not found.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrDuplicateEvent indicates an event with the same subscription and
	// dedup key was already recorded.
	ErrDuplicateEvent = errors.New("duplicate trigger event")

	// ErrStatusConflict indicates a guarded status transition found the
	// row in a different status than expected.
	ErrStatusConflict = errors.New("execution status conflict")
)

// StoreError wraps persistence errors with the operation and entity context.
type StoreError struct {
	Op     string // Operation being performed (e.g. "ByID", "Save")
	Entity string // Entity kind (e.g. "flow", "execution")
	ID     string // Entity ID if applicable
	Err    error  // Underlying error
}

func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s operation failed for %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
	}

	return fmt.Sprintf("%s operation failed for %s: %v", e.Op, e.Entity, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for store errors.
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStoreError creates a new store error with context.
func NewStoreError(op, entity, id string, err error) *StoreError {
	return &StoreError{Op: op, Entity: entity, ID: id, Err: err}
}

// IsNotFound reports whether the error is any of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrFlowNotFound) ||
		errors.Is(err, ErrFlowVersionNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrEventNotFound) ||
		errors.Is(err, ErrExecutionNotFound)
}

// IsDuplicateEvent checks if an error indicates a dedup collision.
func IsDuplicateEvent(err error) bool {
	return errors.Is(err, ErrDuplicateEvent)
}

// IsStatusConflict checks if an error indicates a lost status transition.
func IsStatusConflict(err error) bool {
	return errors.Is(err, ErrStatusConflict)
}
