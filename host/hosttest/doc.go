// Package hosttest provides a mock runtime and mock components for tests
// that exercise the host, the graph executor and the continuous manager
// without a WebAssembly toolchain.
package hosttest
