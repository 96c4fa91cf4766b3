// Package bootstrap assembles a nodegraph process from its configuration
// and runs it with uniform lifecycle management.
//
// New builds the component registry (builtins plus manifest directories),
// the native and WebAssembly runtimes, the host, the continuous manager and
// the executor, and optionally the HTTP control server. Run serves until a
// shutdown signal; RunTask runs a finite task, such as a single graph run,
// with the same startup and shutdown sequence.
//
//	app, err := bootstrap.New(ctx, &cfg, bootstrap.WithServer())
//	if err != nil {
//	    return err
//	}
//	return app.Run(ctx)
//
// Components start in registration order and stop in reverse: telemetry,
// host, the snapshot event hub, continuous manager, then the server.
package bootstrap
