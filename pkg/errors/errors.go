package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected indicates that the client is not connected to NATS
	ErrNotConnected = errors.New("not connected to NATS")

	// ErrInvalidExtension indicates that an extension has no name or no setup callback
	ErrInvalidExtension = errors.New("invalid extension")

	// ErrDuplicateExtension indicates that an extension name is already registered
	ErrDuplicateExtension = errors.New("extension already registered")

	// ErrSetupFailed indicates that an extension setup callback returned an error
	ErrSetupFailed = errors.New("extension setup failed")

	// ErrInvalidHandler indicates that a handler is invalid
	ErrInvalidHandler = errors.New("invalid handler")

	// ErrUnsupportedFormat indicates that a dataset file extension is not supported
	ErrUnsupportedFormat = errors.New("unsupported dataset format")

	// ErrFieldNotFound indicates that the prompt field is missing from the dataset
	ErrFieldNotFound = errors.New("field not found in dataset")

	// ErrInvalidConfig indicates that the configuration failed validation
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrQueueFailed indicates that the host rejected a queue request
	ErrQueueFailed = errors.New("queue request failed")
)

// Error represents a structured error with a machine-readable code
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new coded error
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsNotConnected checks if an error is a not connected error
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

// IsInvalidConfig checks if an error is a configuration validation error
func IsInvalidConfig(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}
