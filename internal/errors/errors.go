package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Error kinds for the drug identification worker
 *
 * Stage-local kinds (invalid image, engine unavailable, registry unavailable)
 * degrade a single item; only MALFORMED_INPUT aborts a request.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Input errors
	ErrorInvalidImage   ErrorCode = "INVALID_IMAGE"
	ErrorMalformedInput ErrorCode = "MALFORMED_INPUT"

	// Pipeline errors
	ErrorEngineUnavailable   ErrorCode = "ENGINE_UNAVAILABLE"
	ErrorImageTimeout        ErrorCode = "IMAGE_TIMEOUT"
	ErrorProcessingTimeout   ErrorCode = "PROCESSING_TIMEOUT"
	ErrorRegistryUnavailable ErrorCode = "REGISTRY_UNAVAILABLE"

	// Storage errors
	ErrorStorageFailed ErrorCode = "STORAGE_FAILED"

	// Network errors
	ErrorAPICallFailed ErrorCode = "API_CALL_FAILED"
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	JobID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// CodeOf returns the code of the first ProcessingError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var pe *ProcessingError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// Factory functions for common errors

func NewInvalidImageError(reason string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorInvalidImage,
		Message:   fmt.Sprintf("image rejected: %s", reason),
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewMalformedInputError(jobID string, reason string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorMalformedInput,
		Message:   reason,
		JobID:     jobID,
		Timestamp: time.Now(),
	}
}

// NewEngineUnavailableError reports an engine that failed to initialize.
// An empty engine name means no engine is available at all.
func NewEngineUnavailableError(engine string, cause error) *ProcessingError {
	msg := "no OCR engine available"
	if engine != "" {
		msg = fmt.Sprintf("OCR engine %s unavailable", engine)
	}
	return &ProcessingError{
		Code:      ErrorEngineUnavailable,
		Message:   msg,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"engine": engine,
		},
		Cause: cause,
	}
}

func NewImageTimeoutError(index int, duration time.Duration) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorImageTimeout,
		Message:   fmt.Sprintf("image %d timed out after %v", index, duration),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"image_index":      index,
			"timeout_duration": duration.String(),
		},
	}
}

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewRegistryUnavailableError(operation string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorRegistryUnavailable,
		Message:   fmt.Sprintf("drug registry unavailable during %s", operation),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"operation": operation,
		},
		Cause: cause,
	}
}

func NewStorageFailedError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store identification results",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewAPICallFailedError(service string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorAPICallFailed,
		Message:   fmt.Sprintf("call to %s failed", service),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"service": service,
		},
		Cause: cause,
	}
}

// ToMap converts error to map for database storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
