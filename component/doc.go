// Package component defines the lifecycle interface shared by the
// long-lived parts of a nodegraph process.
//
// Components are registered with a Registry, started in registration
// order and stopped in reverse order. The serve command registers the
// component host, the continuous execution manager and the HTTP server.
package component
