// Package errors defines ExecutionError, the structured error every node
// execution reports, and the category taxonomy shared by the component host,
// the graph executor, and the continuous execution manager.
//
// Each error carries a human-readable message and, where applicable, the
// offending input port and a recovery hint, so a caller can render
// actionable feedback without inspecting internals.
package errors
