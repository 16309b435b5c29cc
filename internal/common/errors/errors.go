// Package errors provides application error types with HTTP status mapping.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants
const (
	ErrCodeDatabase           = "DATABASE_ERROR"
	ErrCodeIO                 = "IO_ERROR"
	ErrCodeJSON               = "JSON_ERROR"
	ErrCodeTaskNotFound       = "TASK_NOT_FOUND"
	ErrCodeInvalidTransition  = "INVALID_STATUS_TRANSITION"
	ErrCodeCircularDependency = "CIRCULAR_DEPENDENCY"
	ErrCodeAgentExecution     = "AGENT_EXECUTION_ERROR"
	ErrCodeConfig             = "CONFIG_ERROR"
	ErrCodeBadRequest         = "BAD_REQUEST"
)

// AppError represents an application-specific error with additional context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Database creates a database error wrapping the underlying driver error.
func Database(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeDatabase,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IO creates an I/O error wrapping the underlying error.
func IO(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeIO,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// JSON creates a serialization error wrapping the underlying error.
func JSON(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeJSON,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// TaskNotFound creates a not found error for a task id.
func TaskNotFound(id int64) *AppError {
	return &AppError{
		Code:       ErrCodeTaskNotFound,
		Message:    fmt.Sprintf("task %d not found", id),
		HTTPStatus: http.StatusNotFound,
	}
}

// TaskNotFoundBySession creates a not found error for a session id.
func TaskNotFoundBySession(sessionID string) *AppError {
	return &AppError{
		Code:       ErrCodeTaskNotFound,
		Message:    fmt.Sprintf("task not found for session %q", sessionID),
		HTTPStatus: http.StatusNotFound,
	}
}

// InvalidStatusTransition creates an error for an illegal state change.
func InvalidStatusTransition(from, to string) *AppError {
	return &AppError{
		Code:       ErrCodeInvalidTransition,
		Message:    fmt.Sprintf("invalid task status transition from %s to %s", from, to),
		HTTPStatus: http.StatusConflict,
	}
}

// CircularDependency creates an error for a dependency set that closes a cycle.
func CircularDependency() *AppError {
	return &AppError{
		Code:       ErrCodeCircularDependency,
		Message:    "circular dependency detected in task graph",
		HTTPStatus: http.StatusBadRequest,
	}
}

// AgentExecution creates an error for a failed agent invocation.
func AgentExecution(message string) *AppError {
	return &AppError{
		Code:       ErrCodeAgentExecution,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Config creates a configuration error.
func Config(message string) *AppError {
	return &AppError{
		Code:       ErrCodeConfig,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// BadRequest creates a new bad request error.
func BadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrCodeBadRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// IsNotFound reports whether err is (or wraps) a task-not-found error.
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeTaskNotFound
	}
	return false
}

// HTTPStatus returns the HTTP status for err, defaulting to 500.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
