// Package builtin provides a small set of native components: arithmetic,
// string and list helpers, a capability-checked HTTP fetch and a counter
// suited to continuous execution.
package builtin
