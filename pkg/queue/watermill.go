package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

const (
	// Topic carries every job; the job_type metadata key routes to the
	// right handler.
	Topic              = "vodo.jobs"
	JobTypeMetadataKey = "job_type"
)

// WatermillQueue delivers jobs over a watermill publisher/subscriber
// pair. Delayed enqueues are held in-process with a timer; durable
// delayed delivery (poll schedules, resume timers) is the scheduler's
// job, so a lost timer is re-driven from the database.
type WatermillQueue struct {
	logger     *slog.Logger
	publisher  message.Publisher
	subscriber message.Subscriber

	mu       sync.RWMutex
	handlers map[JobType]Handler
}

func NewWatermillQueue(logger *slog.Logger, pub message.Publisher, sub message.Subscriber) *WatermillQueue {
	return &WatermillQueue{
		logger:     logger.With("module", "queue"),
		publisher:  pub,
		subscriber: sub,
		handlers:   make(map[JobType]Handler),
	}
}

func (q *WatermillQueue) Enqueue(_ context.Context, job *Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+watermill.NewULID(), payload)
	msg.Metadata.Set(JobTypeMetadataKey, string(job.Type))

	return q.publisher.Publish(Topic, msg)
}

func (q *WatermillQueue) EnqueueIn(ctx context.Context, job *Job, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, job)
	}

	time.AfterFunc(delay, func() {
		if err := q.Enqueue(context.Background(), job); err != nil {
			q.logger.Error("Failed to enqueue delayed job", "job_id", job.ID, "job_type", job.Type, "error", err)
		}
	})

	return nil
}

func (q *WatermillQueue) Handle(jobType JobType, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[jobType] = handler
}

func (q *WatermillQueue) Consume(ctx context.Context) error {
	messages, err := q.subscriber.Subscribe(ctx, Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			jobType := JobType(msg.Metadata.Get(JobTypeMetadataKey))

			q.mu.RLock()
			handler, exists := q.handlers[jobType]
			q.mu.RUnlock()

			if !exists {
				q.logger.WarnContext(ctx, "No handler for job type", "job_type", jobType)
				msg.Ack()

				continue
			}

			var job Job
			if err := json.Unmarshal(msg.Payload, &job); err != nil {
				q.logger.ErrorContext(ctx, "Failed to decode job", "error", err)
				msg.Ack()

				continue
			}

			// Handler errors are already translated into re-enqueues or
			// terminal failures by the worker, so the message is acked
			// either way. Nacking here would fight the worker's retry
			// accounting.
			if err := handler(ctx, &job); err != nil {
				q.logger.ErrorContext(ctx, "Job handler failed",
					"job_id", job.ID, "job_type", job.Type, "attempt", job.Attempt, "error", err)
			}

			msg.Ack()
		}
	}()

	return nil
}

func (q *WatermillQueue) Close() error {
	if err := q.publisher.Close(); err != nil {
		return err
	}

	return q.subscriber.Close()
}
