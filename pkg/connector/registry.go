package connector

import (
	"fmt"
	"log/slog"
	"sync"
)

// NotFoundError indicates a (connector, name) pair with no registered
// handler. Resolution failures are explicit results, never nils.
type NotFoundError struct {
	ConnectorID string
	Name        string
	Kind        string // "trigger" or "action"
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not registered for connector %q", e.Kind, e.Name, e.ConnectorID)
}

type handlerKey struct {
	connectorID string
	name        string
}

// Registry resolves (connector id, capability name) pairs to typed
// handlers. Registration happens once at bootstrap; resolution is
// read-only afterwards, so the engine needs no locking around lookups.
type Registry struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	triggers map[handlerKey]Trigger
	actions  map[handlerKey]Action
}

// NewRegistry creates an empty connector registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:   logger.With("module", "connector_registry"),
		triggers: make(map[handlerKey]Trigger),
		actions:  make(map[handlerKey]Action),
	}
}

// RegisterTrigger registers a trigger handler under (connectorID, name).
func (r *Registry) RegisterTrigger(connectorID, name string, trigger Trigger) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.triggers[handlerKey{connectorID, name}] = trigger
	r.logger.Debug("Registered trigger", "connector", connectorID, "trigger", name)
}

// RegisterAction registers an action handler under (connectorID, name).
func (r *Registry) RegisterAction(connectorID, name string, action Action) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.actions[handlerKey{connectorID, name}] = action
	r.logger.Debug("Registered action", "connector", connectorID, "action", name)
}

// Trigger resolves a trigger handler.
func (r *Registry) Trigger(connectorID, name string) (Trigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	trigger, ok := r.triggers[handlerKey{connectorID, name}]
	if !ok {
		return nil, &NotFoundError{ConnectorID: connectorID, Name: name, Kind: "trigger"}
	}

	return trigger, nil
}

// Action resolves an action handler.
func (r *Registry) Action(connectorID, name string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	action, ok := r.actions[handlerKey{connectorID, name}]
	if !ok {
		return nil, &NotFoundError{ConnectorID: connectorID, Name: name, Kind: "action"}
	}

	return action, nil
}

// HealthCheck reports the registered handler counts.
func (r *Registry) HealthCheck() (map[string]int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"triggers": len(r.triggers),
		"actions":  len(r.actions),
	}, true
}
