package errors

import "net/http"

// Category is a machine-readable classification of an execution error.
type Category string

// Node-level categories.
const (
	// CategoryValidation covers port/type mismatches, missing required inputs
	// and failures propagated from an upstream node.
	CategoryValidation Category = "VALIDATION_ERROR"
	// CategoryCapabilityDenied marks a privileged operation outside the
	// node's declared capability set.
	CategoryCapabilityDenied Category = "CAPABILITY_DENIED"
	// CategoryExecutionFailure is a normal business-logic error reported by
	// the component itself.
	CategoryExecutionFailure Category = "EXECUTION_FAILURE"
	// CategoryTimeout marks a per-call deadline that was exceeded.
	CategoryTimeout Category = "TIMEOUT"
	// CategoryComponentTrap is a sandbox fault or panic contained by the host.
	CategoryComponentTrap Category = "COMPONENT_TRAP"
	// CategoryResourceExhausted marks a memory, instance or size ceiling.
	CategoryResourceExhausted Category = "RESOURCE_EXHAUSTED"
)

// Graph-level categories.
const (
	// CategoryStructural blocks a whole run (cycle, unknown node or component).
	CategoryStructural Category = "STRUCTURAL_ERROR"
)

// Categories lists every category in taxonomy order.
var Categories = []Category{
	CategoryValidation,
	CategoryCapabilityDenied,
	CategoryExecutionFailure,
	CategoryTimeout,
	CategoryComponentTrap,
	CategoryResourceExhausted,
	CategoryStructural,
}

var retryableCategories = map[Category]bool{
	CategoryTimeout:           true,
	CategoryResourceExhausted: true,
}

// IsRetryableCategory returns true if re-running the node may succeed
// without any change to the graph.
func IsRetryableCategory(c Category) bool {
	return retryableCategories[c]
}

// HTTPStatus maps a category onto the status used by the control surface.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryValidation, CategoryStructural:
		return http.StatusUnprocessableEntity
	case CategoryCapabilityDenied:
		return http.StatusForbidden
	case CategoryTimeout:
		return http.StatusGatewayTimeout
	case CategoryResourceExhausted:
		return http.StatusInsufficientStorage
	case CategoryComponentTrap, CategoryExecutionFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
