package cli

import (
	"errors"
	"fmt"

	"pipemesh/internal/config"
	"pipemesh/internal/fabric"
)

// Exit codes for CLI commands.
const (
	ExitSuccess     = 0 // Every peer reached Stopped
	ExitFailure     = 1 // A peer terminated or the run failed
	ExitConfigError = 2 // Invalid configuration, nothing was started
	ExitFabricError = 3 // The channel fabric could not be built
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// classify wraps a run error with the exit code matching its cause.
func classify(message string, err error) error {
	if err == nil {
		return nil
	}
	var cfgErr *config.Error
	var fabErr *fabric.ConstructionError
	switch {
	case errors.As(err, &cfgErr):
		return WrapExitError(ExitConfigError, message, err)
	case errors.As(err, &fabErr):
		return WrapExitError(ExitFabricError, message, err)
	default:
		return WrapExitError(ExitFailure, message, err)
	}
}
