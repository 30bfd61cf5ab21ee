// Package worker consumes the job queue and applies the retry policy:
// per-type wall-clock budgets, bounded attempts, and terminal failure of
// the execution when the budget is spent.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/qbizns/Vodo.com-sub019/pkg/execution"
	"github.com/qbizns/Vodo.com-sub019/pkg/flowerr"
	"github.com/qbizns/Vodo.com-sub019/pkg/queue"
	"github.com/qbizns/Vodo.com-sub019/pkg/tracing"
	"github.com/qbizns/Vodo.com-sub019/pkg/trigger"
)

const retryBackoffBase = 5 * time.Second

type Worker struct {
	logger     *slog.Logger
	queue      queue.Queue
	executions *execution.Engine
	triggers   *trigger.Engine
	tracer     trace.Tracer
}

func New(logger *slog.Logger, q queue.Queue, executions *execution.Engine, triggers *trigger.Engine) *Worker {
	return &Worker{
		logger:     logger.With("module", "worker"),
		queue:      q,
		executions: executions,
		triggers:   triggers,
		// Resolves against the provider the command installed; a noop
		// tracer when none is.
		tracer: otel.Tracer("vodo-worker"),
	}
}

// Start registers the job handlers and begins consuming.
func (w *Worker) Start(ctx context.Context) error {
	w.queue.Handle(queue.JobTypeExecuteFlow, w.handleExecuteFlow)
	w.queue.Handle(queue.JobTypeResumeFlow, w.handleResumeFlow)
	w.queue.Handle(queue.JobTypePollTrigger, w.handlePollTrigger)

	return w.queue.Consume(ctx)
}

func (w *Worker) handleExecuteFlow(ctx context.Context, job *queue.Job) error {
	payload, err := job.ExecuteFlow()
	if err != nil {
		w.logger.ErrorContext(ctx, "Dropping undecodable job", "job_id", job.ID, "error", err)

		return nil
	}

	ctx, span := tracing.StartSpan(ctx, w.tracer, "worker.execute_flow",
		w.jobAttributes(job,
			attribute.String(tracing.ExecutionIDKey, payload.ExecutionID),
			attribute.String(tracing.FlowIDKey, payload.FlowID),
		)...)
	defer span.End()

	err = w.runWithTimeout(ctx, job, func(ctx context.Context) error {
		return w.executions.Run(ctx, payload.ExecutionID)
	})
	if err != nil {
		tracing.SetError(span, err)
	}

	return w.settleExecutionJob(ctx, job, payload.ExecutionID, err)
}

func (w *Worker) handleResumeFlow(ctx context.Context, job *queue.Job) error {
	payload, err := job.ResumeFlow()
	if err != nil {
		w.logger.ErrorContext(ctx, "Dropping undecodable job", "job_id", job.ID, "error", err)

		return nil
	}

	ctx, span := tracing.StartSpan(ctx, w.tracer, "worker.resume_flow",
		w.jobAttributes(job,
			attribute.String(tracing.ExecutionIDKey, payload.ExecutionID),
		)...)
	defer span.End()

	err = w.runWithTimeout(ctx, job, func(ctx context.Context) error {
		return w.executions.Resume(ctx, payload.ExecutionID, payload.Data)
	})
	if err != nil {
		tracing.SetError(span, err)
	}

	// A stale or duplicate resume is dropped, not retried and not fatal
	// to the execution.
	var state *flowerr.InvalidExecutionStateError
	if errors.As(err, &state) {
		w.logger.InfoContext(ctx, "Dropping stale resume job",
			"job_id", job.ID, "execution_id", payload.ExecutionID, "status", state.Status)

		return nil
	}

	return w.settleExecutionJob(ctx, job, payload.ExecutionID, err)
}

func (w *Worker) handlePollTrigger(ctx context.Context, job *queue.Job) error {
	payload, err := job.PollTrigger()
	if err != nil {
		w.logger.ErrorContext(ctx, "Dropping undecodable job", "job_id", job.ID, "error", err)

		return nil
	}

	ctx, span := tracing.StartSpan(ctx, w.tracer, "worker.poll_trigger",
		w.jobAttributes(job,
			attribute.String(tracing.SubscriptionIDKey, payload.SubscriptionID),
		)...)
	defer span.End()

	err = w.runWithTimeout(ctx, job, func(ctx context.Context) error {
		return w.triggers.Poll(ctx, payload.SubscriptionID)
	})
	if err == nil {
		return nil
	}

	tracing.SetError(span, err)

	// Poll already rescheduled the next cycle; retries here only cover
	// this window.
	if flowerr.Retryable(err) && !job.ExhaustedRetries() {
		return w.requeue(ctx, job, err)
	}

	w.logger.ErrorContext(ctx, "Giving up on poll job",
		"job_id", job.ID, "subscription_id", payload.SubscriptionID,
		"attempt", job.Attempt, "error", err)

	return nil
}

func (w *Worker) jobAttributes(job *queue.Job, extra ...attribute.KeyValue) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(tracing.JobIDKey, job.ID),
		attribute.String(tracing.JobTypeKey, string(job.Type)),
		attribute.Int(tracing.JobAttemptKey, job.Attempt),
	}

	return append(attrs, extra...)
}

// runWithTimeout applies the job type's wall-clock budget and converts a
// deadline hit into the dedicated timeout error.
func (w *Worker) runWithTimeout(ctx context.Context, job *queue.Job, fn func(ctx context.Context) error) error {
	limit := queue.Timeout(job.Type)

	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	err := fn(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return &flowerr.ExecutionTimeoutError{JobType: string(job.Type), Limit: limit}
	}

	return err
}

// settleExecutionJob decides between re-enqueueing the job and failing
// the execution. Handlers are idempotent, so a retried job resumes from
// the persisted step history rather than starting over.
func (w *Worker) settleExecutionJob(ctx context.Context, job *queue.Job, executionID string, err error) error {
	if err == nil {
		return nil
	}

	if !flowerr.Retryable(err) || job.ExhaustedRetries() {
		w.logger.ErrorContext(ctx, "Job failed terminally",
			"job_id", job.ID, "job_type", job.Type, "execution_id", executionID,
			"attempt", job.Attempt, "error", err)

		return w.executions.MarkFailed(ctx, executionID, err.Error())
	}

	return w.requeue(ctx, job, err)
}

func (w *Worker) requeue(ctx context.Context, job *queue.Job, cause error) error {
	delay := time.Duration(job.Attempt) * retryBackoffBase
	if hint, ok := flowerr.RetryAfter(cause); ok {
		delay = hint
	}

	w.logger.WarnContext(ctx, "Retrying job",
		"job_id", job.ID, "job_type", job.Type, "attempt", job.Attempt,
		"delay", delay, "error", cause)

	return w.queue.EnqueueIn(ctx, job.Retry(), delay)
}
