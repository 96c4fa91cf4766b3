// Package registry holds the fixed metadata of every component type: its
// ordered typed ports, declared capabilities and category, plus the module
// bytes of sandboxed components.
//
// The registry is an explicit object created at startup and passed to the
// host and executor. After loading it is only read; nodes reference specs
// by stable identifier and never mutate them.
package registry
