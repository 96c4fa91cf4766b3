// Package observability provides OpenTelemetry tracing and metrics for
// graph runs, component host calls and continuous nodes.
//
// Setup:
//
//	tel, err := observability.Setup(ctx, cfg.Telemetry, "nodegraph")
//	defer tel.Shutdown(ctx)
//
// Tracing:
//
//	ctx, span := observability.StartSpan(ctx, observability.SpanHostCall)
//	defer span.End()
//
// Metrics are recorded through the *Metrics returned by Setup. A nil
// *Metrics is accepted everywhere and records nothing.
package observability
