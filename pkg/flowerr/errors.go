// Package flowerr defines the error taxonomy shared by the trigger and
// execution engines. Every error is classified as retryable or not so job
// handlers can decide between re-enqueueing and failing the execution.
package flowerr

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError indicates bad subscription or flow configuration.
// Not retryable; the user must fix the configuration.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}

	return "validation failed: " + e.Message
}

// NewValidationError creates a validation error for the given field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// WebhookVerificationError indicates a signature mismatch on an inbound
// webhook delivery. Not retryable: a bad signature never becomes valid, so
// the HTTP boundary must answer with a terminal 4xx, never a 5xx.
type WebhookVerificationError struct {
	SubscriptionID string
}

func (e *WebhookVerificationError) Error() string {
	return "webhook signature verification failed for subscription " + e.SubscriptionID
}

// FlowNotActiveError indicates a dispatch against a flow that is not
// active. Not retryable; the event is dropped.
type FlowNotActiveError struct {
	FlowID string
	Status string
}

func (e *FlowNotActiveError) Error() string {
	return fmt.Sprintf("flow %s is not active (status %s)", e.FlowID, e.Status)
}

// InvalidExecutionStateError indicates an operation against an execution in
// the wrong state, e.g. resuming one that is not waiting. It signals a
// duplicate or stale job, never a silent success.
type InvalidExecutionStateError struct {
	ExecutionID string
	Status      string
	Operation   string
}

func (e *InvalidExecutionStateError) Error() string {
	return fmt.Sprintf("cannot %s execution %s in status %s", e.Operation, e.ExecutionID, e.Status)
}

// RateLimitError indicates provider-side throttling. Retryable after
// RetryAfter.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s: %v", e.RetryAfter, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// TemporaryError is an explicit transient marker from a connector.
// Retryable.
type TemporaryError struct {
	Err error
}

func (e *TemporaryError) Error() string { return "temporary failure: " + e.Err.Error() }

func (e *TemporaryError) Unwrap() error { return e.Err }

// NewTemporaryError wraps err as an explicitly retryable connector failure.
func NewTemporaryError(err error) *TemporaryError {
	return &TemporaryError{Err: err}
}

// ExecutionTimeoutError indicates a job exceeded its wall-clock budget.
// Retried up to the job's tries, then fatal to the execution.
type ExecutionTimeoutError struct {
	JobType string
	Limit   time.Duration
}

func (e *ExecutionTimeoutError) Error() string {
	return fmt.Sprintf("%s job exceeded its %s budget", e.JobType, e.Limit)
}

// CredentialNotFoundError indicates the vault holds no credentials for the
// connection. Not retryable without user intervention.
type CredentialNotFoundError struct {
	ConnectionID string
}

func (e *CredentialNotFoundError) Error() string {
	return "credentials not found for connection " + e.ConnectionID
}

// TokenRefreshError indicates an expired credential could not be renewed.
// Not retryable without user intervention.
type TokenRefreshError struct {
	ConnectionID string
	Err          error
}

func (e *TokenRefreshError) Error() string {
	return fmt.Sprintf("token refresh failed for connection %s: %v", e.ConnectionID, e.Err)
}

func (e *TokenRefreshError) Unwrap() error { return e.Err }

// OAuthError indicates an authorization failure against the provider.
type OAuthError struct {
	Provider string
	Err      error
}

func (e *OAuthError) Error() string {
	return fmt.Sprintf("oauth error from %s: %v", e.Provider, e.Err)
}

func (e *OAuthError) Unwrap() error { return e.Err }

// Retryable reports whether re-delivering the job that produced err can
// succeed. Unclassified errors are treated as retryable so transient
// infrastructure failures are not silently fatal.
func Retryable(err error) bool {
	var (
		validation   *ValidationError
		verification *WebhookVerificationError
		notActive    *FlowNotActiveError
		state        *InvalidExecutionStateError
		credentials  *CredentialNotFoundError
		tokenRefresh *TokenRefreshError
		oauth        *OAuthError
	)

	switch {
	case errors.As(err, &validation),
		errors.As(err, &verification),
		errors.As(err, &notActive),
		errors.As(err, &state),
		errors.As(err, &credentials),
		errors.As(err, &tokenRefresh),
		errors.As(err, &oauth):
		return false
	default:
		return true
	}
}

// RetryAfter returns the provider-supplied back-off hint, when err carries
// one.
func RetryAfter(err error) (time.Duration, bool) {
	var rateLimit *RateLimitError
	if errors.As(err, &rateLimit) {
		return rateLimit.RetryAfter, true
	}

	return 0, false
}
