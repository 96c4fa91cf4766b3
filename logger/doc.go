// Package logger provides structured logging for nodegraph using zerolog.
//
// It supports JSON and console output, level configuration, and
// component-scoped loggers. Graph runs carry a run ID and node ID through
// the context so every line emitted while executing a node can be
// correlated.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.WithComponent("host")
//	log.Info("instance created", logger.NodeFields(nodeID, componentID))
package logger
