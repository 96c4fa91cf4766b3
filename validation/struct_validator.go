package validation

import (
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/kbukum/nodegraph/capability"
	"github.com/kbukum/nodegraph/errors"
	"github.com/kbukum/nodegraph/value"
)

var (
	validate *validator.Validate
	once     sync.Once
)

// getValidator returns the singleton validator instance.
func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// Use yaml tag names, manifests and config are authored in YAML
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
			if name == "-" || name == "" {
				return toSnakeCase(fld.Name)
			}
			return name
		})

		_ = validate.RegisterValidation("capability", func(fl validator.FieldLevel) bool {
			_, err := capability.Parse(fl.Field().String())
			return err == nil
		})
		_ = validate.RegisterValidation("portkind", func(fl validator.FieldLevel) bool {
			k, ok := fl.Field().Interface().(value.Kind)
			return ok && k.Valid()
		})
	})
	return validate
}

// Validate validates a struct using struct tags.
func Validate(s any) error {
	v := getValidator()
	err := v.Struct(s)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.New(errors.CategoryValidation, "validation failed").WithCause(err)
	}

	collector := New()
	for _, e := range validationErrors {
		collector.AddError(fieldPath(e), formatValidationError(e))
	}
	return collector.Error(errors.CategoryValidation)
}

// fieldPath strips the root struct name from the namespace, e.g.
// "Manifest.inputs[0].type" becomes "inputs[0].type".
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return toSnakeCase(e.Field())
}

// formatValidationError creates a human-readable error message.
func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + e.Param()
	case "max":
		return "must be at most " + e.Param()
	case "gt":
		return "must be greater than " + e.Param()
	case "oneof":
		return "must be one of: " + e.Param()
	case "capability":
		return "must be a capability of the form <kind>:<domain>"
	case "portkind":
		return "must be a known value type"
	case "hostname_port":
		return "must be host:port"
	default:
		return "is invalid"
	}
}

// toSnakeCase converts a field name to snake_case.
func toSnakeCase(s string) string {
	var result strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			result.WriteRune('_')
		}
		if r >= 'A' && r <= 'Z' {
			result.WriteRune(r + 32)
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}
