package api

import (
	"errors"
	"fmt"
	"time"
)

// NotFoundError represents a resource not found error with contextual information.
// This standardized error type provides consistent error handling across all API
// operations for cases where requested resources don't exist in the system.
//
// Not-found conditions are expected during normal operation (an expired flow, a
// missing token) and are never logged at error level by the components that
// raise them.
type NotFoundError struct {
	// ResourceType categorizes the type of resource that was not found
	// (e.g., "flow", "service", "token")
	ResourceType string

	// ResourceName is the specific identifier of the resource that was not found
	ResourceName string

	// Message provides a custom error message if the default format is insufficient
	Message string
}

// Error implements the error interface for NotFoundError.
func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s %s not found", e.ResourceType, e.ResourceName)
}

// IsNotFound checks if an error is a NotFoundError using error unwrapping.
//
// Example:
//
//	result, err := store.GetFlowState(id, flowType)
//	if api.IsNotFound(err) {
//	    // Handle not found case
//	}
func IsNotFound(err error) bool {
	var notFoundErr *NotFoundError
	return errors.As(err, &notFoundErr)
}

// NewNotFoundError creates a new NotFoundError with the specified resource type and name.
func NewNotFoundError(resourceType, resourceName string) *NotFoundError {
	return &NotFoundError{
		ResourceType: resourceType,
		ResourceName: resourceName,
	}
}

// TimeoutError indicates that an operation exceeded its allotted duration.
// The flow store raises it when a waiter polls past the flow's TTL without
// observing a terminal state.
type TimeoutError struct {
	// ResourceType categorizes the type of resource that timed out
	ResourceType string

	// ResourceName is the specific identifier of the resource
	ResourceName string

	// Elapsed is how long the caller waited before giving up
	Elapsed time.Duration
}

// Error implements the error interface for TimeoutError.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s timed out after %v", e.ResourceType, e.ResourceName, e.Elapsed)
}

// IsTimeout checks if an error is a TimeoutError using error unwrapping.
func IsTimeout(err error) bool {
	var timeoutErr *TimeoutError
	return errors.As(err, &timeoutErr)
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(resourceType, resourceName string, elapsed time.Duration) *TimeoutError {
	return &TimeoutError{
		ResourceType: resourceType,
		ResourceName: resourceName,
		Elapsed:      elapsed,
	}
}

// AbortedError indicates that a waiting operation observed cancellation and
// gave up before reaching a terminal state.
type AbortedError struct {
	// ResourceType categorizes the type of resource that was aborted
	ResourceType string

	// ResourceName is the specific identifier of the resource
	ResourceName string
}

// Error implements the error interface for AbortedError.
func (e *AbortedError) Error() string {
	return fmt.Sprintf("%s %s aborted", e.ResourceType, e.ResourceName)
}

// IsAborted checks if an error is an AbortedError using error unwrapping.
func IsAborted(err error) bool {
	var abortedErr *AbortedError
	return errors.As(err, &abortedErr)
}

// NewAbortedError creates a new AbortedError.
func NewAbortedError(resourceType, resourceName string) *AbortedError {
	return &AbortedError{
		ResourceType: resourceType,
		ResourceName: resourceName,
	}
}

// KeyConflictError indicates a mutation addressed a key whose presence state
// contradicts the operation, such as updating a key that was never added.
// This is a programmer error and is raised rather than silently repaired.
type KeyConflictError struct {
	// Key is the offending key
	Key string

	// Message describes the conflict
	Message string
}

// Error implements the error interface for KeyConflictError.
func (e *KeyConflictError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("key %s not found", e.Key)
}

// IsKeyConflict checks if an error is a KeyConflictError using error unwrapping.
func IsKeyConflict(err error) bool {
	var conflictErr *KeyConflictError
	return errors.As(err, &conflictErr)
}

// NewKeyConflictError creates a new KeyConflictError for the given key.
func NewKeyConflictError(key string) *KeyConflictError {
	return &KeyConflictError{Key: key}
}
