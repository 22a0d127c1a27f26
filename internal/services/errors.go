package services

import "errors"

// Common service errors
var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates a resource already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidInput indicates invalid input data
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict indicates a conflict with current state
	ErrConflict = errors.New("conflict")

	// ErrNotLocked indicates the host must be locked for the operation
	ErrNotLocked = errors.New("host is not locked")

	// ErrNotOffline indicates the host must be offline for the operation
	ErrNotOffline = errors.New("host is not offline")

	// ErrInternalError indicates an internal server error
	ErrInternalError = errors.New("internal server error")
)

// IsNotFound checks if error is ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if error is ErrAlreadyExists
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsInvalidInput checks if error is ErrInvalidInput
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsConflict checks if error is ErrConflict
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
