package internalerr

import (
	"errors"
	"fmt"
)

// Sentinel errors for the enrichment pipeline. The orchestrator translates
// these into terminal document statuses; nothing else should escape Submit.
var (
	// ErrServiceUnavailable marks a transient overload/rate-limit condition
	// that is retried with backoff.
	ErrServiceUnavailable = errors.New("generation service unavailable")

	// ErrPayloadTooLarge marks a prompt that exceeds the model context and
	// triggers truncate-and-retry.
	ErrPayloadTooLarge = errors.New("prompt exceeds model context")

	// ErrRetryLimitExceeded is surfaced once the transient-retry budget is
	// spent. Maps to the Failure status.
	ErrRetryLimitExceeded = errors.New("retry limit exceeded")

	// ErrResponseValidation marks a 2xx answer that does not conform to the
	// expected schema. Retried, then surfaced. Maps to Failure.
	ErrResponseValidation = errors.New("response failed schema validation")

	// ErrEmptyExtraction marks a parse that produced no records at all.
	// Terminal without retry; an empty result usually means a parsing
	// mismatch, not a service fault. Maps to Failure.
	ErrEmptyExtraction = errors.New("extraction produced no records")

	// ErrTextTooLong is surfaced when the truncator cannot shrink a body any
	// further. Terminal. Maps to Failure.
	ErrTextTooLong = errors.New("text too long to truncate")

	ErrNotFound  = errors.New("not found")
	ErrLeaseHeld = errors.New("document lease already held")
)

// ServiceError is a classified, non-retryable generation-service fault:
// the request was malformed or rejected, as opposed to the model being
// overloaded. Maps to the distinct ApiFailure status so operators can
// separate the two.
type ServiceError struct {
	StatusCode int
	Reason     string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("generation service error (status %d): %s", e.StatusCode, e.Reason)
}
