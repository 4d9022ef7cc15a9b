// Package domain defines the semantic catalog, the per-request value types,
// and the errors shared by the query compiler.
package domain

import "fmt"

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ContractError indicates that a component received input its upstream
// collaborator promised never to produce (e.g. compiling an unvalidated plan).
type ContractError struct {
	Message string
}

func (e *ContractError) Error() string { return e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrContract creates a ContractError with a formatted message.
func ErrContract(format string, args ...interface{}) *ContractError {
	return &ContractError{Message: fmt.Sprintf(format, args...)}
}
