// Package scheduler runs the periodic sweeps that keep the engine honest
// under crashes: due polls, due resumes and stuck pending events. The
// queue's delayed delivery is the low-latency path; these sweeps are the
// durable backstop.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/qbizns/Vodo.com-sub019/pkg/models"
	"github.com/qbizns/Vodo.com-sub019/pkg/persistence"
	"github.com/qbizns/Vodo.com-sub019/pkg/queue"
)

const (
	defaultSweepInterval = 10 * time.Second

	// Claim leases push the due timestamp into the future so concurrent
	// sweepers cannot double-enqueue. A lost job becomes due again when
	// the lease expires.
	defaultClaimLease = 2 * time.Minute

	// Events still pending after this age were dispatched by a process
	// that died between saving the event and starting the execution.
	defaultPendingEventAge = time.Minute
)

// EventDispatcher re-dispatches events whose execution never started.
type EventDispatcher interface {
	DispatchEvent(ctx context.Context, event *models.TriggerEvent) (*models.FlowExecution, error)
}

type Scheduler struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	queue       queue.Queue
	dispatcher  EventDispatcher

	sweepInterval   time.Duration
	claimLease      time.Duration
	pendingEventAge time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(logger *slog.Logger, p persistence.Persistence, q queue.Queue, dispatcher EventDispatcher) *Scheduler {
	return &Scheduler{
		logger:          logger.With("module", "scheduler"),
		persistence:     p,
		queue:           q,
		dispatcher:      dispatcher,
		sweepInterval:   defaultSweepInterval,
		claimLease:      defaultClaimLease,
		pendingEventAge: defaultPendingEventAge,
		stopCh:          make(chan struct{}),
	}
}

// Start launches the sweep loop. It returns immediately; Stop ends the
// loop and waits for an in-flight sweep to finish.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()

		s.logger.InfoContext(ctx, "Scheduler started", "sweep_interval", s.sweepInterval)

		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// Stop terminates the sweep loop.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) sweep(ctx context.Context) {
	s.sweepPolls(ctx)
	s.sweepResumes(ctx)
	s.sweepPendingEvents(ctx)
}

// sweepPolls enqueues a poll job for every subscription whose next poll
// time has passed. The claim bumps the subscription's due time, so a
// second sweeper skips it; the poll cycle itself re-schedules the real
// cadence when it completes.
func (s *Scheduler) sweepPolls(ctx context.Context) {
	now := time.Now().UTC()

	due, err := s.persistence.Subscriptions().DuePolling(ctx, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list due subscriptions", "error", err)

		return
	}

	for _, subscription := range due {
		claimed, err := s.persistence.Subscriptions().ClaimPoll(ctx, subscription.ID, now.Add(s.claimLease))
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to claim poll",
				"subscription_id", subscription.ID, "error", err)

			continue
		}

		if !claimed {
			continue
		}

		job := queue.NewPollTriggerJob(subscription.ID)
		if err := s.queue.Enqueue(ctx, job); err != nil {
			s.logger.ErrorContext(ctx, "Failed to enqueue poll job",
				"subscription_id", subscription.ID, "error", err)

			continue
		}

		s.logger.DebugContext(ctx, "Poll job enqueued", "subscription_id", subscription.ID)
	}
}

// sweepResumes wakes waiting executions whose resume time has passed.
// Covers both delay nodes after a crash and queues without delayed
// delivery.
func (s *Scheduler) sweepResumes(ctx context.Context) {
	now := time.Now().UTC()

	due, err := s.persistence.Executions().DueResumes(ctx, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list due resumes", "error", err)

		return
	}

	for _, execution := range due {
		claimed, err := s.persistence.Executions().ClaimResume(ctx, execution.ID, now.Add(s.claimLease))
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to claim resume",
				"execution_id", execution.ID, "error", err)

			continue
		}

		if !claimed {
			continue
		}

		job := queue.NewResumeFlowJob(execution.ID, nil)
		if err := s.queue.Enqueue(ctx, job); err != nil {
			s.logger.ErrorContext(ctx, "Failed to enqueue resume job",
				"execution_id", execution.ID, "error", err)

			continue
		}

		s.logger.DebugContext(ctx, "Resume job enqueued", "execution_id", execution.ID)
	}
}

// sweepPendingEvents re-dispatches events stuck in pending. The
// dispatcher claims the pending->dispatched transition before starting
// an execution, so racing the original dispatcher is harmless: exactly
// one claimant wins.
func (s *Scheduler) sweepPendingEvents(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.pendingEventAge)

	stuck, err := s.persistence.Events().PendingOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list stuck events", "error", err)

		return
	}

	for _, event := range stuck {
		if _, err := s.dispatcher.DispatchEvent(ctx, event); err != nil {
			s.logger.ErrorContext(ctx, "Failed to re-dispatch stuck event",
				"event_id", event.ID, "error", err)

			continue
		}

		s.logger.InfoContext(ctx, "Stuck event re-dispatched", "event_id", event.ID)
	}
}
