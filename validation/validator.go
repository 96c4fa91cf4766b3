package validation

import (
	"fmt"
	"strings"

	"github.com/kbukum/nodegraph/errors"
)

// Collector gathers field errors before reporting them as one error.
type Collector struct {
	errors []FieldError
}

// FieldError represents a validation error for a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// New creates a new Collector.
func New() *Collector {
	return &Collector{
		errors: make([]FieldError, 0),
	}
}

// AddError adds a field error.
func (c *Collector) AddError(field, message string) {
	c.errors = append(c.errors, FieldError{
		Field:   field,
		Message: message,
	})
}

// Addf adds a field error with a formatted message.
func (c *Collector) Addf(field, format string, args ...any) {
	c.AddError(field, fmt.Sprintf(format, args...))
}

// Check records message against field when condition is false.
func (c *Collector) Check(condition bool, field, message string) *Collector {
	if !condition {
		c.AddError(field, message)
	}
	return c
}

// Required checks if a string is non-empty.
func (c *Collector) Required(field, value string) *Collector {
	return c.Check(strings.TrimSpace(value) != "", field, "is required")
}

// HasErrors returns true if there are validation errors.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all validation errors.
func (c *Collector) Errors() []FieldError {
	return c.errors
}

// Error returns an ExecutionError of the given category if any field errors
// were collected, nil otherwise.
func (c *Collector) Error(category errors.Category) error {
	if !c.HasErrors() {
		return nil
	}

	messages := make([]string, len(c.errors))
	for i, e := range c.errors {
		messages[i] = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}

	execErr := errors.New(category, strings.Join(messages, "; "))
	execErr.Details = map[string]any{
		"fields": c.errors,
	}
	if len(c.errors) == 1 {
		execErr.Input = c.errors[0].Field
	}
	return execErr
}
