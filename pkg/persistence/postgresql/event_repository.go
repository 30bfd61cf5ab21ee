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

// EventRepository handles trigger event database operations.
type EventRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewEventRepository(db *sql.DB, logger *slog.Logger) *EventRepository {
	return &EventRepository{db: db, logger: logger}
}

const eventColumns = `
	id
  , subscription_id
  , flow_id
  , data
  , dedup_key
  , status
  , created_at
`

func (r *EventRepository) ByID(ctx context.Context, id string) (*models.TriggerEvent, error) {
	query := `SELECT` + eventColumns + `FROM trigger_events WHERE id = $1`

	event, err := scanEvent(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("ByID", "event", id, persistence.ErrEventNotFound)
		}

		return nil, persistence.NewStoreError("ByID", "event", id, err)
	}

	return event, nil
}

// Save inserts the event. The unique index on (subscription_id,
// dedup_key) resolves races between concurrent deliveries of the same
// logical event; the loser gets ErrDuplicateEvent from DO NOTHING
// affecting zero rows.
func (r *EventRepository) Save(ctx context.Context, event *models.TriggerEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		return persistence.NewStoreError("Save", "event", event.ID, err)
	}

	query := `
		INSERT INTO trigger_events (id, subscription_id, flow_id, data, dedup_key, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (subscription_id, dedup_key) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		event.ID, event.SubscriptionID, event.FlowID, data, event.DedupKey, event.Status, event.CreatedAt)
	if err != nil {
		return persistence.NewStoreError("Save", "event", event.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStoreError("Save", "event", event.ID, err)
	}

	if affected == 0 {
		return persistence.NewStoreError("Save", "event", event.ID, persistence.ErrDuplicateEvent)
	}

	return nil
}

func (r *EventRepository) UpdateStatus(ctx context.Context, id string, from, to models.TriggerEventStatus) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE trigger_events SET status = $3 WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return persistence.NewStoreError("UpdateStatus", "event", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStoreError("UpdateStatus", "event", id, err)
	}

	if affected == 0 {
		var exists bool

		err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM trigger_events WHERE id = $1)`, id).Scan(&exists)
		if err != nil {
			return persistence.NewStoreError("UpdateStatus", "event", id, err)
		}

		if !exists {
			return persistence.NewStoreError("UpdateStatus", "event", id, persistence.ErrEventNotFound)
		}

		return persistence.NewStoreError("UpdateStatus", "event", id, persistence.ErrStatusConflict)
	}

	return nil
}

func (r *EventRepository) PendingOlderThan(ctx context.Context, cutoff time.Time) ([]*models.TriggerEvent, error) {
	query := `SELECT` + eventColumns + `
		FROM trigger_events
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	events := make([]*models.TriggerEvent, 0)

	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

func scanEvent(row rowScanner) (*models.TriggerEvent, error) {
	var (
		event   models.TriggerEvent
		dataRaw []byte
	)

	err := row.Scan(&event.ID, &event.SubscriptionID, &event.FlowID, &dataRaw,
		&event.DedupKey, &event.Status, &event.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(dataRaw, &event.Data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
	}

	return &event, nil
}
