package file

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/qbizns/Vodo.com-sub019/pkg/models"
	"github.com/qbizns/Vodo.com-sub019/pkg/persistence"
)

// SubscriptionRepository stores trigger subscriptions as JSON documents.
type SubscriptionRepository struct {
	root string
	mu   sync.RWMutex
}

func NewSubscriptionRepository(root string) *SubscriptionRepository {
	return &SubscriptionRepository{root: root}
}

func (r *SubscriptionRepository) path(id string) string {
	return filepath.Join(r.root, "subscriptions", id+".json")
}

func (r *SubscriptionRepository) dir() string {
	return filepath.Join(r.root, "subscriptions")
}

func (r *SubscriptionRepository) ByID(_ context.Context, id string) (*models.TriggerSubscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.byIDLocked(id)
}

func (r *SubscriptionRepository) byIDLocked(id string) (*models.TriggerSubscription, error) {
	subscription, err := readEntity[models.TriggerSubscription](r.path(id))
	if err != nil {
		return nil, persistence.NewStoreError("ByID", "subscription", id, err)
	}

	if subscription == nil {
		return nil, persistence.NewStoreError("ByID", "subscription", id, persistence.ErrSubscriptionNotFound)
	}

	return subscription, nil
}

func (r *SubscriptionRepository) ByFlowID(_ context.Context, flowID string) ([]*models.TriggerSubscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all, err := listEntities[models.TriggerSubscription](r.dir())
	if err != nil {
		return nil, persistence.NewStoreError("ByFlowID", "subscription", flowID, err)
	}

	out := make([]*models.TriggerSubscription, 0)

	for _, subscription := range all {
		if subscription.FlowID == flowID {
			out = append(out, subscription)
		}
	}

	return out, nil
}

func (r *SubscriptionRepository) Save(_ context.Context, subscription *models.TriggerSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if subscription.CreatedAt.IsZero() {
		subscription.CreatedAt = now
	}

	subscription.UpdatedAt = now

	if err := writeEntity(r.path(subscription.ID), subscription); err != nil {
		return persistence.NewStoreError("Save", "subscription", subscription.ID, err)
	}

	return nil
}

func (r *SubscriptionRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := os.Remove(r.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return persistence.NewStoreError("Delete", "subscription", id, persistence.ErrSubscriptionNotFound)
		}

		return persistence.NewStoreError("Delete", "subscription", id, err)
	}

	return nil
}

func (r *SubscriptionRepository) DuePolling(_ context.Context, now time.Time) ([]*models.TriggerSubscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all, err := listEntities[models.TriggerSubscription](r.dir())
	if err != nil {
		return nil, persistence.NewStoreError("DuePolling", "subscription", "", err)
	}

	out := make([]*models.TriggerSubscription, 0)

	for _, subscription := range all {
		if !subscription.IsActive() || subscription.NextPollAt == nil {
			continue
		}

		if !subscription.NextPollAt.After(now) {
			out = append(out, subscription)
		}
	}

	return out, nil
}

func (r *SubscriptionRepository) ClaimPoll(_ context.Context, id string, until time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subscription, err := r.byIDLocked(id)
	if err != nil {
		return false, err
	}

	if subscription.NextPollAt == nil || subscription.NextPollAt.After(time.Now()) {
		return false, nil
	}

	subscription.NextPollAt = &until
	subscription.UpdatedAt = time.Now().UTC()

	if err := writeEntity(r.path(id), subscription); err != nil {
		return false, persistence.NewStoreError("ClaimPoll", "subscription", id, err)
	}

	return true, nil
}
