package errors

import (
	"errors"
	"fmt"
)

// Common application error types
var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates a resource already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInternal indicates an internal server error
	ErrInternal = errors.New("internal server error")

	// ErrServiceUnavailable indicates a collaborator service is unavailable
	ErrServiceUnavailable = errors.New("service unavailable")
)

// ValidationError rejects a request before any mutation: malformed patch,
// restricted-field violation, unknown action token, invalid enum value
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed for field '%s' with value '%v': %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// ConflictError rejects an action that is not valid for the current host or
// system state. Nothing is persisted beyond values already durable from a
// prior request. Remedy tells the operator what to do about it.
type ConflictError struct {
	Hostname string
	Action   string
	Message  string
	Remedy   string
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("cannot %s host %s: %s", e.Action, e.Hostname, e.Message)
	if e.Remedy != "" {
		msg += "; " + e.Remedy
	}
	return msg
}

// NewConflictError creates a new conflict error
func NewConflictError(hostname, action, message, remedy string) *ConflictError {
	return &ConflictError{
		Hostname: hostname,
		Action:   action,
		Message:  message,
		Remedy:   remedy,
	}
}

// CollaboratorTimeout indicates a collaborator did not respond within the
// per-call bound. The true remote outcome is unknown; the coordinator only
// decides whether to compensate, never to discover.
type CollaboratorTimeout struct {
	Collaborator string
	Operation    string
	Reason       string
	Remedy       string
}

func (e *CollaboratorTimeout) Error() string {
	msg := fmt.Sprintf("%s %s timed out: %s", e.Collaborator, e.Operation, e.Reason)
	if e.Remedy != "" {
		msg += " (" + e.Remedy + ")"
	}
	return msg
}

// NewCollaboratorTimeout creates a collaborator timeout error. A missing
// response reads as an explicit fail with reason "no response" and the
// standing recommendation to retry.
func NewCollaboratorTimeout(collaborator, operation string) *CollaboratorTimeout {
	return &CollaboratorTimeout{
		Collaborator: collaborator,
		Operation:    operation,
		Reason:       "no response",
		Remedy:       "retry",
	}
}

// CollaboratorRejected carries an explicit failure from a collaborator,
// including its recommended remedial action, surfaced verbatim to the caller
type CollaboratorRejected struct {
	Collaborator string
	Operation    string
	Reason       string
	Remedy       string
}

func (e *CollaboratorRejected) Error() string {
	msg := fmt.Sprintf("%s rejected %s: %s", e.Collaborator, e.Operation, e.Reason)
	if e.Remedy != "" {
		msg += fmt.Sprintf(" (recommended action: %s)", e.Remedy)
	}
	return msg
}

// NewCollaboratorRejected creates a new collaborator rejection error
func NewCollaboratorRejected(collaborator, operation, reason, remedy string) *CollaboratorRejected {
	return &CollaboratorRejected{
		Collaborator: collaborator,
		Operation:    operation,
		Reason:       reason,
		Remedy:       remedy,
	}
}

// InvariantViolation is an internal consistency failure, such as an ambiguous
// host identity match. Fatal; the operation aborts with no further mutation.
type InvariantViolation struct {
	Message string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("internal inconsistency: %s", e.Message)
}

// NewInvariantViolation creates a new invariant violation error
func NewInvariantViolation(format string, args ...interface{}) *InvariantViolation {
	return &InvariantViolation{Message: fmt.Sprintf(format, args...)}
}

// DatabaseError represents host record store errors
type DatabaseError struct {
	Operation string
	Err       error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database %s failed: %v", e.Operation, e.Err)
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}

// NewDatabaseError creates a new database error
func NewDatabaseError(operation string, err error) *DatabaseError {
	return &DatabaseError{
		Operation: operation,
		Err:       err,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is checks if an error matches a target error
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As checks if an error can be assigned to target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsConflict reports whether err is a ConflictError
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// IsCollaboratorTimeout reports whether err is a CollaboratorTimeout
func IsCollaboratorTimeout(err error) bool {
	var t *CollaboratorTimeout
	return errors.As(err, &t)
}

// IsCollaboratorRejected reports whether err is a CollaboratorRejected
func IsCollaboratorRejected(err error) bool {
	var r *CollaboratorRejected
	return errors.As(err, &r)
}
