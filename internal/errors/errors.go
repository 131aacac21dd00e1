// Package errors defines the error taxonomy shared by the wizard and task packages.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfiguration is returned when a component is built with unusable input,
	// such as a wizard without steps.
	ErrConfiguration = errors.New("configuration error")

	// ErrInvalidState is returned when an operation is not allowed in the
	// current state. The refused operation never changes state.
	ErrInvalidState = errors.New("invalid state")

	// ErrDuplicateTask is returned when a task id is awaited while already pending.
	ErrDuplicateTask = errors.New("task is already being awaited")

	// ErrInvalidTaskID is returned for empty task ids.
	ErrInvalidTaskID = errors.New("invalid task id")

	// ErrTaskTimeout rejects a pending task whose outcome did not arrive in time.
	ErrTaskTimeout = errors.New("timed out waiting for task")
)

// TaskFailure is the rejection value of a task the backend reported as unsuccessful.
// Result carries the server-provided payload unchanged.
type TaskFailure struct {
	TaskID string
	Result json.RawMessage
}

func (e *TaskFailure) Error() string {
	return fmt.Sprintf("task %s failed: %s", e.TaskID, e.Message())
}

// Message returns the failure payload as text. JSON strings are unquoted so a
// result of "disk full" reads as disk full.
func (e *TaskFailure) Message() string {
	var s string
	if err := json.Unmarshal(e.Result, &s); err == nil {
		return s
	}
	return string(e.Result)
}

// TransportError wraps an HTTP or messaging failure.
type TransportError struct {
	Op         string // Operation that failed, e.g. "GET /api/tasks/x/"
	StatusCode int    // HTTP status, 0 when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the operation may succeed.
func (e *TransportError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}

// NewTransportError wraps err as a TransportError for op.
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

// MultiError collects errors from steps that must all run, such as shutdown.
type MultiError struct {
	Errors []error
}

// Append adds err if it is non-nil.
func (m *MultiError) Append(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

func (m *MultiError) Error() string {
	msgs := make([]string, 0, len(m.Errors))
	for _, err := range m.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%d error(s) occurred: %s", len(m.Errors), strings.Join(msgs, "; "))
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// ErrorOrNil returns nil when nothing was collected.
func (m *MultiError) ErrorOrNil() error {
	if m == nil || len(m.Errors) == 0 {
		return nil
	}
	return m
}
