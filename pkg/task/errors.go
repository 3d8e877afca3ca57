package task

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies why a task did not complete.
type ErrorKind string

const (
	// ErrorValidation marks a malformed task. Such tasks never enter the queue.
	ErrorValidation ErrorKind = "validation"
	// ErrorTransient marks a failure worth retrying: timeouts, busy or
	// unreachable backends.
	ErrorTransient ErrorKind = "transient"
	// ErrorPermanent marks a definitive failure: invalid selector, rejected
	// credentials, missing resource.
	ErrorPermanent ErrorKind = "permanent"
	// ErrorCancelled marks a task stopped before it could finish.
	ErrorCancelled ErrorKind = "cancelled"
)

// ErrCancelled is recorded for tasks cancelled while pending or in flight.
var ErrCancelled = errors.New("task cancelled")

// ValidationError reports a malformed task or a rejected submission.
type ValidationError struct {
	TaskID string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	var prefix string
	if e.TaskID != "" {
		prefix = fmt.Sprintf("task %q: ", e.TaskID)
	}
	if e.Field != "" {
		return fmt.Sprintf("%sinvalid %s: %s", prefix, e.Field, e.Reason)
	}
	return prefix + e.Reason
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ExecutionError wraps a failure reported while executing a task, tagged
// with whether it is worth retrying.
type ExecutionError struct {
	Kind ErrorKind
	Err  error
}

func (e *ExecutionError) Error() string {
	return e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Transient marks err as retryable. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &ExecutionError{Kind: ErrorTransient, Err: err}
}

// Permanent marks err as non-retryable. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &ExecutionError{Kind: ErrorPermanent, Err: err}
}

// Transientf formats a retryable error.
func Transientf(format string, args ...any) error {
	return Transient(fmt.Errorf(format, args...))
}

// Permanentf formats a non-retryable error.
func Permanentf(format string, args ...any) error {
	return Permanent(fmt.Errorf(format, args...))
}

// Classify maps an error returned by Execute onto an ErrorKind.
// Errors that carry no classification are treated as transient.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		return ErrorCancelled
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return ErrorValidation
	}

	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Kind
	}

	return ErrorTransient
}
