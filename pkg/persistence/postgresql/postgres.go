// Package postgresql provides the PostgreSQL persistence implementation.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver

	"github.com/qbizns/Vodo.com-sub019/pkg/persistence"
	"github.com/qbizns/Vodo.com-sub019/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db               *sql.DB
	logger           *slog.Logger
	flowRepo         *FlowRepository
	subscriptionRepo *SubscriptionRepository
	eventRepo        *EventRepository
	executionRepo    *ExecutionRepository
	stepRepo         *StepRepository
}

// NewPersistence connects, runs migrations and wires the repositories.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:               database,
		logger:           logger,
		flowRepo:         NewFlowRepository(database, logger),
		subscriptionRepo: NewSubscriptionRepository(database, logger),
		eventRepo:        NewEventRepository(database, logger),
		executionRepo:    NewExecutionRepository(database, logger),
		stepRepo:         NewStepRepository(database, logger),
	}, nil
}

func (p *Persistence) Flows() persistence.FlowRepository { return p.flowRepo }

func (p *Persistence) Subscriptions() persistence.SubscriptionRepository {
	return p.subscriptionRepo
}

func (p *Persistence) Events() persistence.EventRepository { return p.eventRepo }

func (p *Persistence) Executions() persistence.ExecutionRepository { return p.executionRepo }

func (p *Persistence) Steps() persistence.StepRepository { return p.stepRepo }

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
