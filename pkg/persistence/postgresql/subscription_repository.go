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

// SubscriptionRepository handles trigger subscription database operations.
type SubscriptionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSubscriptionRepository(db *sql.DB, logger *slog.Logger) *SubscriptionRepository {
	return &SubscriptionRepository{db: db, logger: logger}
}

const subscriptionColumns = `
	id
  , tenant_id
  , flow_id
  , connector_id
  , trigger_name
  , connection_id
  , status
  , config
  , filters
  , webhook_id
  , webhook_secret
  , polling_state
  , last_polled_at
  , next_poll_at
  , created_at
  , updated_at
`

func (r *SubscriptionRepository) ByID(ctx context.Context, id string) (*models.TriggerSubscription, error) {
	query := `SELECT` + subscriptionColumns + `FROM trigger_subscriptions WHERE id = $1`

	subscription, err := scanSubscription(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("ByID", "subscription", id, persistence.ErrSubscriptionNotFound)
		}

		return nil, persistence.NewStoreError("ByID", "subscription", id, err)
	}

	return subscription, nil
}

func (r *SubscriptionRepository) ByFlowID(ctx context.Context, flowID string) ([]*models.TriggerSubscription, error) {
	query := `SELECT` + subscriptionColumns + `FROM trigger_subscriptions WHERE flow_id = $1 ORDER BY created_at`

	return r.querySubscriptions(ctx, query, flowID)
}

func (r *SubscriptionRepository) DuePolling(ctx context.Context, now time.Time) ([]*models.TriggerSubscription, error) {
	query := `SELECT` + subscriptionColumns + `
		FROM trigger_subscriptions
		WHERE status = 'active' AND next_poll_at IS NOT NULL AND next_poll_at <= $1
		ORDER BY next_poll_at
	`

	return r.querySubscriptions(ctx, query, now)
}

func (r *SubscriptionRepository) querySubscriptions(ctx context.Context, query string, args ...any) ([]*models.TriggerSubscription, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	subscriptions := make([]*models.TriggerSubscription, 0)

	for rows.Next() {
		subscription, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}

		subscriptions = append(subscriptions, subscription)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscriptions: %w", err)
	}

	return subscriptions, nil
}

func (r *SubscriptionRepository) Save(ctx context.Context, subscription *models.TriggerSubscription) error {
	now := time.Now().UTC()
	if subscription.CreatedAt.IsZero() {
		subscription.CreatedAt = now
	}

	subscription.UpdatedAt = now

	config, err := json.Marshal(subscription.Config)
	if err != nil {
		return persistence.NewStoreError("Save", "subscription", subscription.ID, err)
	}

	filters, err := marshalNullable(subscription.Filters)
	if err != nil {
		return persistence.NewStoreError("Save", "subscription", subscription.ID, err)
	}

	pollingState, err := marshalNullable(subscription.PollingState)
	if err != nil {
		return persistence.NewStoreError("Save", "subscription", subscription.ID, err)
	}

	query := `
		INSERT INTO trigger_subscriptions (
			id, tenant_id, flow_id, connector_id, trigger_name, connection_id, status,
			config, filters, webhook_id, webhook_secret, polling_state,
			last_polled_at, next_poll_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status
		  , config = EXCLUDED.config
		  , filters = EXCLUDED.filters
		  , webhook_id = EXCLUDED.webhook_id
		  , webhook_secret = EXCLUDED.webhook_secret
		  , polling_state = EXCLUDED.polling_state
		  , last_polled_at = EXCLUDED.last_polled_at
		  , next_poll_at = EXCLUDED.next_poll_at
		  , updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		subscription.ID, subscription.TenantID, subscription.FlowID,
		subscription.ConnectorID, subscription.TriggerName, subscription.ConnectionID,
		subscription.Status, config, filters, subscription.WebhookID, subscription.WebhookSecret,
		pollingState, subscription.LastPolledAt, subscription.NextPollAt,
		subscription.CreatedAt, subscription.UpdatedAt)
	if err != nil {
		return persistence.NewStoreError("Save", "subscription", subscription.ID, err)
	}

	return nil
}

func (r *SubscriptionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM trigger_subscriptions WHERE id = $1`, id)
	if err != nil {
		return persistence.NewStoreError("Delete", "subscription", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStoreError("Delete", "subscription", id, err)
	}

	if affected == 0 {
		return persistence.NewStoreError("Delete", "subscription", id, persistence.ErrSubscriptionNotFound)
	}

	return nil
}

// ClaimPoll is the poll sweep's concurrency guard: the WHERE clause only
// matches while the subscription is still due, so one UPDATE wins.
func (r *SubscriptionRepository) ClaimPoll(ctx context.Context, id string, until time.Time) (bool, error) {
	query := `
		UPDATE trigger_subscriptions
		SET next_poll_at = $2, updated_at = NOW()
		WHERE id = $1 AND next_poll_at IS NOT NULL AND next_poll_at <= NOW()
	`

	result, err := r.db.ExecContext(ctx, query, id, until)
	if err != nil {
		return false, persistence.NewStoreError("ClaimPoll", "subscription", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, persistence.NewStoreError("ClaimPoll", "subscription", id, err)
	}

	return affected > 0, nil
}

func scanSubscription(row rowScanner) (*models.TriggerSubscription, error) {
	var (
		subscription    models.TriggerSubscription
		configRaw       []byte
		filtersRaw      []byte
		pollingStateRaw []byte
	)

	err := row.Scan(
		&subscription.ID, &subscription.TenantID, &subscription.FlowID,
		&subscription.ConnectorID, &subscription.TriggerName, &subscription.ConnectionID,
		&subscription.Status, &configRaw, &filtersRaw, &subscription.WebhookID,
		&subscription.WebhookSecret, &pollingStateRaw, &subscription.LastPolledAt,
		&subscription.NextPollAt, &subscription.CreatedAt, &subscription.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(configRaw, &subscription.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(filtersRaw) > 0 {
		if err := json.Unmarshal(filtersRaw, &subscription.Filters); err != nil {
			return nil, fmt.Errorf("failed to unmarshal filters: %w", err)
		}
	}

	if len(pollingStateRaw) > 0 {
		if err := json.Unmarshal(pollingStateRaw, &subscription.PollingState); err != nil {
			return nil, fmt.Errorf("failed to unmarshal polling state: %w", err)
		}
	}

	return &subscription, nil
}
