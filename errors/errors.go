package errors

import (
	stderrors "errors"
	"fmt"
)

// ExecutionError is the structured failure of a single node execution.
// It is transient: attached to a node until the next execution attempt.
type ExecutionError struct {
	// Category classifies the failure.
	Category Category `json:"category"`
	// Message is a human-readable description.
	Message string `json:"message"`
	// Input names the offending input port, if any.
	Input string `json:"input,omitempty"`
	// Hint suggests how the user can recover, if known.
	Hint string `json:"hint,omitempty"`
	// Retryable indicates re-running may succeed unchanged.
	Retryable bool `json:"retryable"`
	// Details contains additional context.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Category, e.Message)
	if e.Input != "" {
		msg += fmt.Sprintf(" (input %q)", e.Input)
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(" (cause: %v)", e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause of the error.
func (e *ExecutionError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause and returns the receiver.
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	e.Cause = cause
	return e
}

// WithInput sets the offending input port and returns the receiver.
func (e *ExecutionError) WithInput(input string) *ExecutionError {
	e.Input = input
	return e
}

// WithHint sets the recovery hint and returns the receiver.
func (e *ExecutionError) WithHint(hint string) *ExecutionError {
	e.Hint = hint
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *ExecutionError) WithDetail(key string, value any) *ExecutionError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates an ExecutionError with automatic retryable detection.
func New(category Category, message string) *ExecutionError {
	return &ExecutionError{
		Category:  category,
		Message:   message,
		Retryable: IsRetryableCategory(category),
	}
}

// Newf is New with a formatted message.
func Newf(category Category, format string, args ...any) *ExecutionError {
	return New(category, fmt.Sprintf(format, args...))
}

// --- Constructors ---

// MissingInput reports a required input port with no value.
func MissingInput(input string) *ExecutionError {
	return &ExecutionError{
		Category: CategoryValidation,
		Message:  fmt.Sprintf("Required input %q has no value.", input),
		Input:    input,
		Hint:     "Connect an upstream output to this port.",
	}
}

// TypeMismatch reports a value whose type does not fit the input port.
func TypeMismatch(input, want, got string) *ExecutionError {
	return &ExecutionError{
		Category: CategoryValidation,
		Message:  fmt.Sprintf("Input %q expects %s but received %s.", input, want, got),
		Input:    input,
		Hint:     "Reconnect the port to an output of a compatible type.",
		Details:  map[string]any{"expected": want, "actual": got},
	}
}

// UpstreamFailed reports a node skipped because a required input traces to
// a failed upstream node.
func UpstreamFailed(input, upstream string) *ExecutionError {
	return &ExecutionError{
		Category: CategoryValidation,
		Message:  fmt.Sprintf("Upstream node %s failed; input %q is unavailable.", upstream, input),
		Input:    input,
		Hint:     "Fix the upstream node and run the graph again.",
		Details:  map[string]any{"upstream": upstream},
	}
}

// CapabilityDenied reports a privileged target outside the declared set.
func CapabilityDenied(kind, target string) *ExecutionError {
	return &ExecutionError{
		Category: CategoryCapabilityDenied,
		Message:  fmt.Sprintf("Component is not permitted to access %s %q.", kind, target),
		Hint:     fmt.Sprintf("Declare the capability \"%s:%s\" in the component manifest.", kind, target),
		Details:  map[string]any{"kind": kind, "target": target},
	}
}

// Failure wraps a business-logic error reported by the component.
func Failure(message string) *ExecutionError {
	return &ExecutionError{
		Category: CategoryExecutionFailure,
		Message:  message,
	}
}

// Timeout reports a call that exceeded its deadline.
func Timeout(operation string) *ExecutionError {
	return &ExecutionError{
		Category:  CategoryTimeout,
		Message:   fmt.Sprintf("The %s call took too long and was aborted.", operation),
		Hint:      "Increase host.call_timeout or reduce the input size.",
		Retryable: true,
		Details:   map[string]any{"operation": operation},
	}
}

// Trap reports a sandbox fault or a panic contained at the host boundary.
func Trap(cause error) *ExecutionError {
	return &ExecutionError{
		Category: CategoryComponentTrap,
		Message:  "The component crashed while executing.",
		Hint:     "Check the component for out-of-bounds access or unhandled panics.",
		Cause:    cause,
	}
}

// ResourceExhausted reports a ceiling (memory, response size, instance
// slots) that was exceeded.
func ResourceExhausted(resource string, limit int64) *ExecutionError {
	return &ExecutionError{
		Category:  CategoryResourceExhausted,
		Message:   fmt.Sprintf("The component exceeded its %s limit (%d).", resource, limit),
		Retryable: true,
		Details:   map[string]any{"resource": resource, "limit": limit},
	}
}

// Structural reports a graph-level defect that blocks a whole run.
func Structural(message string) *ExecutionError {
	return &ExecutionError{
		Category: CategoryStructural,
		Message:  message,
	}
}

// --- Inspection ---

// As extracts an ExecutionError from err's chain.
func As(err error) (*ExecutionError, bool) {
	var execErr *ExecutionError
	if stderrors.As(err, &execErr) {
		return execErr, true
	}
	return nil, false
}

// CategoryOf returns the category of err, or "" if it carries none.
func CategoryOf(err error) Category {
	if execErr, ok := As(err); ok {
		return execErr.Category
	}
	return ""
}

// Is reports whether err is an ExecutionError of the given category.
func Is(err error, category Category) bool {
	return CategoryOf(err) == category
}

// From converts any error into an ExecutionError. Errors that already carry
// a category are returned as-is; anything else becomes an ExecutionFailure.
func From(err error) *ExecutionError {
	if err == nil {
		return nil
	}
	if execErr, ok := As(err); ok {
		return execErr
	}
	return Failure(err.Error()).WithCause(err)
}
