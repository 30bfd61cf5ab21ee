package queue

import (
	"context"
	"time"
)

// Handler processes one delivered job. Delivery is at least once; a
// handler must tolerate seeing the same job ID twice.
type Handler func(ctx context.Context, job *Job) error

// Queue delivers jobs to registered handlers. Retries are owned by the
// consumer side (the worker re-enqueues failed jobs with the attempt
// advanced), not by the broker.
type Queue interface {
	Enqueue(ctx context.Context, job *Job) error
	// EnqueueIn makes the job visible to consumers no earlier than
	// now+delay.
	EnqueueIn(ctx context.Context, job *Job, delay time.Duration) error
	Handle(jobType JobType, handler Handler)
	// Consume starts the delivery loop. It returns after wiring the
	// consumer; delivery stops when ctx is cancelled or Close is called.
	Consume(ctx context.Context) error
	Close() error
}
