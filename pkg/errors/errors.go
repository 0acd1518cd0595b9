package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents the category of a scheduling error
type ErrorType string

const (
	ErrorTypeValidation       ErrorType = "validation"
	ErrorTypeNotFound         ErrorType = "not_found"
	ErrorTypeConflict         ErrorType = "conflict"
	ErrorTypeIO               ErrorType = "io"
	ErrorTypeInternal         ErrorType = "internal"
	ErrorTypeCancelled        ErrorType = "cancelled"
	ErrorTypeHost             ErrorType = "host"
	ErrorTypeUnknownReference ErrorType = "unknown_reference"
	ErrorTypeCycleDetected    ErrorType = "cycle_detected"
	ErrorTypeConfigMissing    ErrorType = "config_missing"
)

// DomainError represents a structured error with type and context
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a DomainError of the same type
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewNotFoundError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotFound, message, cause)
}

func NewConflictError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCancelled, message, cause)
}

// NewHostError reports a rejected or failed host runtime call for a single unit
func NewHostError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeHost, message, cause)
}

func NewUnknownReferenceError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeUnknownReference, message, cause)
}

// NewCycleDetectedError reports a load-after chain that could not be resolved
// within the iteration bound. The units still queued are listed in context.
func NewCycleDetectedError(message string, unresolved []string) *DomainError {
	return NewDomainError(ErrorTypeCycleDetected, message, nil).
		WithContext("unresolved", strings.Join(unresolved, ","))
}

func NewConfigMissingError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConfigMissing, message, cause)
}

func isType(err error, errorType ErrorType) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == errorType
}

func IsValidationError(err error) bool { return isType(err, ErrorTypeValidation) }

func IsNotFoundError(err error) bool { return isType(err, ErrorTypeNotFound) }

func IsConflictError(err error) bool { return isType(err, ErrorTypeConflict) }

func IsIOError(err error) bool { return isType(err, ErrorTypeIO) }

func IsInternalError(err error) bool { return isType(err, ErrorTypeInternal) }

func IsCancelledError(err error) bool { return isType(err, ErrorTypeCancelled) }

func IsHostError(err error) bool { return isType(err, ErrorTypeHost) }

func IsUnknownReferenceError(err error) bool { return isType(err, ErrorTypeUnknownReference) }

func IsCycleDetectedError(err error) bool { return isType(err, ErrorTypeCycleDetected) }

func IsConfigMissingError(err error) bool { return isType(err, ErrorTypeConfigMissing) }

// ErrorCollection aggregates per-unit failures of a scheduling pass
type ErrorCollection struct {
	Errors []error
}

func (e *ErrorCollection) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred: %v", len(e.Errors), e.Errors[0])
}

// Unwrap exposes the collected errors to errors.Is / errors.As
func (e *ErrorCollection) Unwrap() []error {
	return e.Errors
}

func (e *ErrorCollection) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e *ErrorCollection) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ErrorCollection) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{
		Errors: make([]error, 0),
	}
}
