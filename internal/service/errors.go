package service

import (
	"errors"
	"fmt"
)

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Resource, e.ID)
}

// ValidationError represents a validation error
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Message)
}

// BusinessLogicError represents a business logic error
type BusinessLogicError struct {
	Message string
}

func (e *BusinessLogicError) Error() string {
	return fmt.Sprintf("business logic error: %s", e.Message)
}

// ConflictError represents a conflict error (e.g., duplicate)
type ConflictError struct {
	Resource string
	Message  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict with %s: %s", e.Resource, e.Message)
}

// PermissionError is returned when the caller is not a member of the workspace
type PermissionError struct {
	Message string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: %s", e.Message)
}

// QuotaExceededError is returned when an increment would pass the plan limit.
// It is an expected business outcome, never retried by the core.
type QuotaExceededError struct {
	Metric  string
	Limit   int
	Current int
	Plan    string
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("Plan limit exceeded for %s. Current: %d, Limit: %d, Plan: %s",
		e.Metric, e.Current, e.Limit, e.Plan)
}

// MalformedPayloadError marks webhook input that can never be processed
type MalformedPayloadError struct {
	Reason string
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed webhook payload: %s", e.Reason)
}

// IsPermanent reports whether err must not be retried
func IsPermanent(err error) bool {
	var malformed *MalformedPayloadError
	return errors.As(err, &malformed)
}
