package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different types of errors in the system
type ErrorType string

const (
	// ErrorTypeNotFound indicates a resource was not found
	ErrorTypeNotFound ErrorType = "NOT_FOUND"

	// ErrorTypeValidation indicates a validation error
	ErrorTypeValidation ErrorType = "VALIDATION"

	// ErrorTypeConflict indicates a conflict with existing data
	ErrorTypeConflict ErrorType = "CONFLICT"

	// ErrorTypeUnauthorized indicates unauthorized access
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"

	// ErrorTypeInternal indicates a store or internal failure
	ErrorTypeInternal ErrorType = "INTERNAL"

	// ErrorTypeExternal indicates an error from external service
	ErrorTypeExternal ErrorType = "EXTERNAL"
)

// Reason codes surfaced to callers. They are stable and safe to match on.
const (
	ReasonBusy                 = "busy"
	ReasonCapacityFull         = "capacity_full"
	ReasonNoWaiting            = "no_waiting"
	ReasonAlreadyExists        = "already_exists"
	ReasonInvalidPin           = "invalid_pin"
	ReasonPinExpired           = "pin_expired"
	ReasonPinNotIssued         = "pin_not_issued"
	ReasonNotCalled            = "not_called"
	ReasonNotActive            = "not_active"
	ReasonNotInQueue           = "not_in_queue"
	ReasonNoClinicAvailable    = "no_clinic_available"
	ReasonNoRouteTemplate      = "no_route_template"
	ReasonNoActiveStep         = "no_active_step"
	ReasonNotOnRoute           = "not_on_route"
	ReasonClinicClosed         = "clinic_closed"
	ReasonInvalidCode          = "invalid_code"
	ReasonInvalidEmergencyCode = "invalid_emergency_code"
	ReasonInvalidInput         = "invalid_input"
	ReasonNotFound             = "not_found"
	ReasonDatabaseError        = "database_error"
)

// AppError represents an application error
type AppError struct {
	Type    ErrorType
	Reason  string
	Message string
	Err     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the unwrap interface
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithReason returns a copy of the error carrying the given reason code
func (e *AppError) WithReason(reason string) *AppError {
	cp := *e
	cp.Reason = reason
	return &cp
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Reason:  ReasonNotFound,
		Message: message,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeValidation,
		Reason:  ReasonInvalidInput,
		Message: message,
	}
}

// NewConflictError creates a new conflict error
func NewConflictError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeConflict,
		Message: message,
	}
}

// NewUnauthorizedError creates a new unauthorized error
func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeUnauthorized,
		Message: message,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeInternal,
		Reason:  ReasonDatabaseError,
		Message: message,
		Err:     err,
	}
}

// NewExternalError creates a new external service error
func NewExternalError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeExternal,
		Message: message,
		Err:     err,
	}
}

// Busy is returned when a lease for the key is held by someone else
func Busy(key string) *AppError {
	return NewConflictError(fmt.Sprintf("resource %s is busy, retry later", key)).WithReason(ReasonBusy)
}

// As extracts the AppError from an error chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsType reports whether err carries an AppError of the given type
func IsType(err error, t ErrorType) bool {
	appErr, ok := As(err)
	return ok && appErr.Type == t
}

// IsNotFound reports whether err is a not found error
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// ReasonOf returns the reason code of err, or an empty string
func ReasonOf(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Reason
	}
	return ""
}

// HasReason reports whether err carries the given reason code
func HasReason(err error, reason string) bool {
	return ReasonOf(err) == reason
}
