package file

import (
	"context"
	"crypto/md5" //nolint:gosec // fingerprint, not a security boundary
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/qbizns/Vodo.com-sub019/pkg/models"
	"github.com/qbizns/Vodo.com-sub019/pkg/persistence"
)

// EventRepository stores trigger events as JSON documents. Dedup
// uniqueness is enforced through the file name, which is a hash of
// (subscription_id, dedup_key).
type EventRepository struct {
	root string
	mu   sync.RWMutex
}

func NewEventRepository(root string) *EventRepository {
	return &EventRepository{root: root}
}

func (r *EventRepository) dir() string {
	return filepath.Join(r.root, "events")
}

func (r *EventRepository) path(subscriptionID, dedupKey string) string {
	sum := md5.Sum([]byte(subscriptionID + "\x00" + dedupKey)) //nolint:gosec

	return filepath.Join(r.dir(), hex.EncodeToString(sum[:])+".json")
}

func (r *EventRepository) ByID(_ context.Context, id string) (*models.TriggerEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	event, err := r.findByIDLocked(id)
	if err != nil {
		return nil, err
	}

	if event == nil {
		return nil, persistence.NewStoreError("ByID", "event", id, persistence.ErrEventNotFound)
	}

	return event, nil
}

func (r *EventRepository) findByIDLocked(id string) (*models.TriggerEvent, error) {
	all, err := listEntities[models.TriggerEvent](r.dir())
	if err != nil {
		return nil, persistence.NewStoreError("ByID", "event", id, err)
	}

	for _, event := range all {
		if event.ID == id {
			return event, nil
		}
	}

	return nil, nil
}

func (r *EventRepository) Save(_ context.Context, event *models.TriggerEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	path := r.path(event.SubscriptionID, event.DedupKey)

	if _, err := os.Stat(path); err == nil {
		return persistence.NewStoreError("Save", "event", event.ID, persistence.ErrDuplicateEvent)
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	if err := writeEntity(path, event); err != nil {
		return persistence.NewStoreError("Save", "event", event.ID, err)
	}

	return nil
}

func (r *EventRepository) UpdateStatus(_ context.Context, id string, from, to models.TriggerEventStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, err := r.findByIDLocked(id)
	if err != nil {
		return err
	}

	if event == nil {
		return persistence.NewStoreError("UpdateStatus", "event", id, persistence.ErrEventNotFound)
	}

	if event.Status != from {
		return persistence.NewStoreError("UpdateStatus", "event", id, persistence.ErrStatusConflict)
	}

	event.Status = to

	if err := writeEntity(r.path(event.SubscriptionID, event.DedupKey), event); err != nil {
		return persistence.NewStoreError("UpdateStatus", "event", id, err)
	}

	return nil
}

func (r *EventRepository) PendingOlderThan(_ context.Context, cutoff time.Time) ([]*models.TriggerEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all, err := listEntities[models.TriggerEvent](r.dir())
	if err != nil {
		return nil, persistence.NewStoreError("PendingOlderThan", "event", "", err)
	}

	out := make([]*models.TriggerEvent, 0)

	for _, event := range all {
		if event.Status == models.TriggerEventStatusPending && event.CreatedAt.Before(cutoff) {
			out = append(out, event)
		}
	}

	return out, nil
}
