package queue

import (
	"context"
	"sync"
	"time"
)

type delayedJob struct {
	job     *Job
	readyAt time.Time
}

// MemoryQueue is a deterministic in-process queue for unit tests. Jobs
// are collected on Enqueue and run synchronously when Drain is called,
// so a test controls exactly when handlers fire.
type MemoryQueue struct {
	mu       sync.Mutex
	ready    []*Job
	delayed  []delayedJob
	handlers map[JobType]Handler
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		handlers: make(map[JobType]Handler),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.ready = append(q.ready, job)

	return nil
}

func (q *MemoryQueue) EnqueueIn(ctx context.Context, job *Job, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, job)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.delayed = append(q.delayed, delayedJob{job: job, readyAt: time.Now().Add(delay)})

	return nil
}

func (q *MemoryQueue) Handle(jobType JobType, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[jobType] = handler
}

func (q *MemoryQueue) Consume(context.Context) error { return nil }

func (q *MemoryQueue) Close() error { return nil }

// Pending returns the jobs waiting for delivery, ready ones first.
func (q *MemoryQueue) Pending() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Job, 0, len(q.ready)+len(q.delayed))
	out = append(out, q.ready...)

	for _, d := range q.delayed {
		out = append(out, d.job)
	}

	return out
}

// Drain runs handlers for every ready job, including jobs those
// handlers enqueue, until the ready list is empty. Delayed jobs are
// promoted first when their time has passed. Handler errors are
// returned to the caller instead of retried; tests assert on them.
func (q *MemoryQueue) Drain(ctx context.Context) error {
	for {
		q.mu.Lock()

		now := time.Now()
		remaining := q.delayed[:0]

		for _, d := range q.delayed {
			if !d.readyAt.After(now) {
				q.ready = append(q.ready, d.job)
			} else {
				remaining = append(remaining, d)
			}
		}

		q.delayed = remaining

		if len(q.ready) == 0 {
			q.mu.Unlock()

			return nil
		}

		job := q.ready[0]
		q.ready = q.ready[1:]
		handler, exists := q.handlers[job.Type]
		q.mu.Unlock()

		if !exists {
			continue
		}

		if err := handler(ctx, job); err != nil {
			return err
		}
	}
}

// PromoteDelayed makes every delayed job ready immediately, regardless
// of its readyAt. Tests use it to fast-forward time.
func (q *MemoryQueue) PromoteDelayed() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, d := range q.delayed {
		q.ready = append(q.ready, d.job)
	}

	q.delayed = nil
}
