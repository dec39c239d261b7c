// internal/common/errors/errors.go
// Package errors provides the standardized error taxonomy for the dispatch engine.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Configuration errors: fatal per job, never retried.
	ErrCodeTemplateNotFound  ErrorCode = "TEMPLATE_NOT_FOUND"
	ErrCodeTemplateAmbiguous ErrorCode = "TEMPLATE_AMBIGUOUS"
	ErrCodeMissingVariable   ErrorCode = "MISSING_VARIABLE"

	// Provider send errors.
	ErrCodeProviderTransient       ErrorCode = "PROVIDER_TRANSIENT"
	ErrCodeProviderRateLimited     ErrorCode = "PROVIDER_RATE_LIMITED"
	ErrCodeProviderPermanent       ErrorCode = "PROVIDER_PERMANENT"
	ErrCodeProviderUnauthenticated ErrorCode = "PROVIDER_UNAUTHENTICATED"

	// Inbound callback errors: logged and dropped, never surfaced upstream.
	ErrCodeCallbackSignatureInvalid ErrorCode = "CALLBACK_SIGNATURE_INVALID"
	ErrCodeCallbackMalformed        ErrorCode = "CALLBACK_MALFORMED"

	// Synchronous request errors.
	ErrCodeEnqueueValidationFailed ErrorCode = "ENQUEUE_VALIDATION_FAILED"
	ErrCodeTemplateConflict        ErrorCode = "TEMPLATE_CONFLICT"
	ErrCodeJobNotFound             ErrorCode = "JOB_NOT_FOUND"

	// Infrastructure errors.
	ErrCodeQueueUnavailable   ErrorCode = "QUEUE_UNAVAILABLE"
	ErrCodeStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// RetryAfter returns the provider-requested delay for rate-limited errors,
// or zero when none was supplied.
func (e *StandardError) RetryAfter() time.Duration {
	if e.Metadata == nil {
		return 0
	}
	if d, ok := e.Metadata["retryAfter"].(time.Duration); ok {
		return d
	}
	return 0
}

// NewTemplateNotFoundError creates a non-retryable configuration error for a
// missing active default template.
func NewTemplateNotFoundError(tenantID, name string, channel string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateNotFound,
		Message:   "No active default template for tenant/name/channel",
		Details:   fmt.Sprintf("tenantId: %s, name: %s, channel: %s", tenantID, name, channel),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTemplateAmbiguousError creates a non-retryable configuration error for
// more than one active default template on the same tuple.
func NewTemplateAmbiguousError(tenantID, name string, channel string, count int) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateAmbiguous,
		Message:   "More than one active default template for tenant/name/channel",
		Details:   fmt.Sprintf("tenantId: %s, name: %s, channel: %s, count: %d", tenantID, name, channel, count),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewMissingVariableError creates a non-retryable rendering error naming the
// offending required variable.
func NewMissingVariableError(key string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMissingVariable,
		Message:   "Required template variable is missing",
		Details:   fmt.Sprintf("variable: %s", key),
		Retryable: false,
		Metadata:  map[string]interface{}{"variable": key},
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderTransientError creates a retryable provider error.
func NewProviderTransientError(detail string) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderTransient,
		Message:   "Transient provider failure",
		Details:   detail,
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderRateLimitedError creates a retryable error carrying the
// provider-requested delay.
func NewProviderRateLimitedError(retryAfter time.Duration, detail string) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderRateLimited,
		Message:   "Provider rate limit hit",
		Details:   detail,
		Retryable: true,
		Metadata:  map[string]interface{}{"retryAfter": retryAfter},
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderPermanentError creates a non-retryable provider error.
func NewProviderPermanentError(detail string) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderPermanent,
		Message:   "Permanent provider failure",
		Details:   detail,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderUnauthenticatedError creates a non-retryable credential error.
func NewProviderUnauthenticatedError(detail string) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderUnauthenticated,
		Message:   "Provider rejected credentials",
		Details:   detail,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewCallbackSignatureError creates an error for an unverifiable inbound
// callback. The callback is discarded, never surfaced to the business layer.
func NewCallbackSignatureError(channel string) *StandardError {
	return &StandardError{
		Code:      ErrCodeCallbackSignatureInvalid,
		Message:   "Inbound callback signature verification failed",
		Details:   fmt.Sprintf("channel: %s", channel),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewCallbackMalformedError creates an error for an unparseable callback body.
func NewCallbackMalformedError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCallbackMalformed,
		Message:   "Inbound callback payload could not be parsed",
		Details:   fmt.Sprintf("channel: %s, error: %v", channel, err),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewValidationError creates a synchronous rejection for a malformed enqueue
// or template-admin request. The request never enters the queue.
func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeEnqueueValidationFailed,
		Message:   "Request validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTemplateConflictError creates an error for a uniqueness violation on
// (tenantId, name, channel).
func NewTemplateConflictError(tenantID, name string, channel string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateConflict,
		Message:   "A template with this tenant/name/channel already exists",
		Details:   fmt.Sprintf("tenantId: %s, name: %s, channel: %s", tenantID, name, channel),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewJobNotFoundError creates an error for an unknown job id.
func NewJobNotFoundError(jobID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeJobNotFound,
		Message:   "Job not found",
		Details:   fmt.Sprintf("jobId: %s", jobID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueueUnavailableError creates a retryable infrastructure error.
func NewQueueUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueueUnavailable,
		Message:   "Dispatch queue is unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewStorageUnavailableError creates a retryable infrastructure error.
func NewStorageUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStorageUnavailable,
		Message:   "Backing store is unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// AsStandard unwraps err into a *StandardError when possible.
func AsStandard(err error) (*StandardError, bool) {
	var se *StandardError
	if stderrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// CodeOf returns the error code of err, or empty when err is not standard.
func CodeOf(err error) ErrorCode {
	if se, ok := AsStandard(err); ok {
		return se.Code
	}
	return ""
}

// IsRetryable reports whether err represents a retryable condition.
// Unknown errors default to retryable: infrastructure hiccups should not
// kill a job that still has attempts left.
func IsRetryable(err error) bool {
	if se, ok := AsStandard(err); ok {
		return se.Retryable
	}
	return err != nil
}

// IsConfiguration reports whether err is a per-job fatal configuration error.
func IsConfiguration(err error) bool {
	switch CodeOf(err) {
	case ErrCodeTemplateNotFound, ErrCodeTemplateAmbiguous, ErrCodeMissingVariable:
		return true
	}
	return false
}
