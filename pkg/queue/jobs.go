// Package queue provides the at-least-once job queue that decouples event
// ingestion from flow execution. Payloads are plain serializable records;
// they cross a broker boundary and must carry no live references.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobType identifies the handler a job is dispatched to.
type JobType string

const (
	JobTypeExecuteFlow JobType = "execute_flow"
	JobTypeResumeFlow  JobType = "resume_flow"
	JobTypePollTrigger JobType = "poll_trigger"
)

// Per-type retry budgets and wall-clock limits. Exceeding the limit
// surfaces as a timeout counted against the job's tries.
const (
	ExecuteFlowTries   = 3
	ResumeFlowTries    = 3
	PollTriggerTries   = 2
	ExecuteFlowTimeout = 300 * time.Second
	ResumeFlowTimeout  = 300 * time.Second
	PollTriggerTimeout = 60 * time.Second
)

// ExecuteFlowPayload starts one flow execution.
type ExecuteFlowPayload struct {
	ExecutionID string         `json:"execution_id"`
	FlowID      string         `json:"flow_id"`
	Context     map[string]any `json:"context,omitempty"`
}

// ResumeFlowPayload re-enters a waiting execution.
type ResumeFlowPayload struct {
	ExecutionID string         `json:"execution_id"`
	Data        map[string]any `json:"data,omitempty"`
}

// PollTriggerPayload runs one poll cycle for a subscription.
type PollTriggerPayload struct {
	SubscriptionID string `json:"subscription_id"`
}

// Job is the queue envelope. Attempt counts deliveries of this logical
// job; re-enqueues after handler failure carry the incremented attempt.
type Job struct {
	ID          string          `json:"id"`
	Type        JobType         `json:"type"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	Payload     json.RawMessage `json:"payload"`
}

func newJob(jobType JobType, maxAttempts int, payload any) *Job {
	raw, err := json.Marshal(payload)
	if err != nil {
		// Payloads are maps and strings; marshalling cannot fail for them.
		raw = []byte("{}")
	}

	return &Job{
		ID:          uuid.New().String(),
		Type:        jobType,
		Attempt:     1,
		MaxAttempts: maxAttempts,
		EnqueuedAt:  time.Now().UTC(),
		Payload:     raw,
	}
}

// NewExecuteFlowJob creates the job dispatched for a fresh execution.
func NewExecuteFlowJob(executionID, flowID string, context map[string]any) *Job {
	return newJob(JobTypeExecuteFlow, ExecuteFlowTries, ExecuteFlowPayload{
		ExecutionID: executionID,
		FlowID:      flowID,
		Context:     context,
	})
}

// NewResumeFlowJob creates the job that re-enters a waiting execution.
func NewResumeFlowJob(executionID string, data map[string]any) *Job {
	return newJob(JobTypeResumeFlow, ResumeFlowTries, ResumeFlowPayload{
		ExecutionID: executionID,
		Data:        data,
	})
}

// NewPollTriggerJob creates the job for one poll cycle.
func NewPollTriggerJob(subscriptionID string) *Job {
	return newJob(JobTypePollTrigger, PollTriggerTries, PollTriggerPayload{
		SubscriptionID: subscriptionID,
	})
}

// ExecuteFlow decodes the payload of an execute-flow job.
func (j *Job) ExecuteFlow() (*ExecuteFlowPayload, error) {
	var payload ExecuteFlowPayload
	if err := json.Unmarshal(j.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", j.Type, err)
	}

	return &payload, nil
}

// ResumeFlow decodes the payload of a resume-flow job.
func (j *Job) ResumeFlow() (*ResumeFlowPayload, error) {
	var payload ResumeFlowPayload
	if err := json.Unmarshal(j.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", j.Type, err)
	}

	return &payload, nil
}

// PollTrigger decodes the payload of a poll-trigger job.
func (j *Job) PollTrigger() (*PollTriggerPayload, error) {
	var payload PollTriggerPayload
	if err := json.Unmarshal(j.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", j.Type, err)
	}

	return &payload, nil
}

// Retry returns a copy of the job with the attempt counter advanced.
func (j *Job) Retry() *Job {
	next := *j
	next.Attempt++

	return &next
}

// ExhaustedRetries reports whether the job has no deliveries left.
func (j *Job) ExhaustedRetries() bool {
	return j.Attempt >= j.MaxAttempts
}

// Timeout returns the wall-clock budget for a job type.
func Timeout(jobType JobType) time.Duration {
	switch jobType {
	case JobTypePollTrigger:
		return PollTriggerTimeout
	case JobTypeResumeFlow:
		return ResumeFlowTimeout
	default:
		return ExecuteFlowTimeout
	}
}
