package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kbukum/nodegraph/builtin"
	"github.com/kbukum/nodegraph/component"
	"github.com/kbukum/nodegraph/config"
	"github.com/kbukum/nodegraph/continuous"
	"github.com/kbukum/nodegraph/executor"
	"github.com/kbukum/nodegraph/host"
	"github.com/kbukum/nodegraph/host/native"
	"github.com/kbukum/nodegraph/host/wasm"
	"github.com/kbukum/nodegraph/logger"
	"github.com/kbukum/nodegraph/observability"
	"github.com/kbukum/nodegraph/registry"
	"github.com/kbukum/nodegraph/server"
	"github.com/kbukum/nodegraph/sse"
	"github.com/kbukum/nodegraph/version"
)

// App is one assembled nodegraph process: the component registry, both
// runtimes, the host, the continuous manager and the executor, plus the
// HTTP server when enabled with WithServer.
//
// Example:
//
//	app, err := bootstrap.New(ctx, &cfg, bootstrap.WithServer())
//	if err != nil {
//	    return err
//	}
//	return app.Run(ctx)
type App struct {
	Name    string
	Version string
	Cfg     *config.Config
	Logger  *logger.Logger

	Telemetry *observability.Telemetry
	Registry  *registry.Registry
	Native    *native.Runtime
	Wasm      *wasm.Runtime
	Host      *host.Host
	Manager   *continuous.Manager
	Executor  *executor.Executor

	// API, Server and Events are nil unless the app was built WithServer.
	API    *server.API
	Server *server.Server
	Events *sse.Hub

	Components *component.Registry
	Summary    *Summary

	gracefulTimeout time.Duration

	onStart []Hook
	onReady []Hook
	onStop  []Hook
}

// New validates cfg and assembles the application. Nothing is started
// until Run or RunTask.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	o := resolveOptions(opts)

	app := &App{
		Name:            cfg.Name,
		Version:         version.GetShortVersion(),
		Cfg:             cfg,
		Components:      component.NewRegistry(),
		gracefulTimeout: 15 * time.Second,
	}
	if o.gracefulTimeout != nil {
		app.gracefulTimeout = *o.gracefulTimeout
	}
	if o.logger != nil {
		app.Logger = o.logger
	} else {
		cfg.Logging.ServiceName = cfg.Name
		logger.Init(&cfg.Logging)
		app.Logger = logger.GetGlobalLogger()
	}
	app.Summary = NewSummary(app.Name, app.Version)

	tel, err := observability.Setup(ctx, cfg.Telemetry, cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	app.Telemetry = tel

	if err := app.loadComponents(); err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	hostOpts := []host.Option{
		host.WithRuntime(registry.RuntimeNative, app.Native),
		host.WithRuntime(registry.RuntimeWasm, app.Wasm),
		host.WithMetrics(tel.Metrics),
		host.WithLogger(app.Logger),
	}
	if o.transport != nil {
		hostOpts = append(hostOpts, host.WithTransport(o.transport))
	}
	app.Host = host.New(app.Registry, cfg.Host, hostOpts...)

	managerOpts := []continuous.Option{
		continuous.WithMetrics(tel.Metrics),
		continuous.WithLogger(app.Logger),
	}
	if o.server {
		app.Events = sse.NewHub()
		managerOpts = append(managerOpts, continuous.WithObserver(app.Events.ObserveSnapshot))
	}
	app.Manager = continuous.NewManager(app.Registry, continuous.HostLauncher(app.Host), cfg.Continuous, managerOpts...)
	app.Executor = executor.New(app.Registry, app.Host, cfg.Executor,
		executor.WithOutputSource(app.Manager),
		executor.WithMetrics(tel.Metrics),
		executor.WithLogger(app.Logger),
	)

	// Registration order is start order; shutdown runs in reverse, so the
	// server stops accepting requests before continuous tasks are stopped
	// and the host releases the remaining instances last.
	registered := []component.Component{
		&telemetryComponent{tel: tel},
		app.Host,
	}
	if app.Events != nil {
		registered = append(registered, sse.NewComponent(app.Events))
	}
	registered = append(registered, app.Manager.Lifecycle())
	if o.server {
		app.API = server.NewAPI(app.Registry, app.Executor, app.Manager, app.Logger, server.WithEvents(app.Events))
		app.Server = server.New(cfg.Server, app.Logger)
		app.API.Register(app.Server.Engine())
		app.Server.RegisterDefaultEndpoints(cfg.Name, app.Components.HealthAll)
		registered = append(registered, server.NewComponent(app.Server))
	}
	for _, c := range registered {
		if err := app.Components.Register(c); err != nil {
			_ = tel.Shutdown(ctx)
			return nil, err
		}
	}
	return app, nil
}

// loadComponents fills the registry from the builtin set and the manifest
// directories, in that order. A manifest may not reuse a builtin id.
func (a *App) loadComponents() error {
	a.Registry = registry.New()
	a.Native = native.NewRuntime()
	a.Wasm = wasm.New(a.Registry)

	if !a.Cfg.Registry.DisableBuiltins {
		if err := builtin.Install(a.Registry, a.Native, a.Cfg.Builtin); err != nil {
			return fmt.Errorf("builtin components: %w", err)
		}
	}
	for _, dir := range a.Cfg.Registry.ManifestDirs {
		n, err := registry.LoadDir(a.Registry, dir, registry.WithInspector(a.Wasm.Inspector(a.Cfg.Host)))
		if err != nil {
			return fmt.Errorf("component manifests: %w", err)
		}
		a.Logger.Info("Loaded component manifests", logger.Fields("dir", dir, "count", n))
	}
	a.Summary.TrackCatalog(a.Registry.List())
	return nil
}

// Run starts the application, blocks until SIGINT, SIGTERM or ctx is done,
// then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	if err := a.startup(ctx); err != nil {
		return err
	}

	a.Logger.Info("Application ready, waiting for shutdown signal")
	a.WaitForSignal(ctx)

	return a.stop()
}

// RunTask starts the application, runs task and shuts down once it returns.
// A signal cancels the task context.
func (a *App) RunTask(ctx context.Context, task func(ctx context.Context) error) error {
	if err := a.startup(ctx); err != nil {
		return err
	}

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			a.Logger.Info("Received signal, canceling task", logger.Fields("signal", sig.String()))
			cancel()
		case <-taskCtx.Done():
		}
	}()

	taskErr := task(taskCtx)

	if stopErr := a.stop(); stopErr != nil {
		if taskErr != nil {
			return taskErr
		}
		return stopErr
	}
	return taskErr
}

func (a *App) startup(ctx context.Context) error {
	start := time.Now()
	a.Logger.Info("Starting application", logger.Fields("name", a.Name, "version", a.Version))

	if err := a.Components.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start components: %w", err)
	}
	if err := runHooks(ctx, a.onStart); err != nil {
		a.stopQuietly()
		return fmt.Errorf("onStart hook failed: %w", err)
	}
	if err := a.ReadyCheck(ctx); err != nil {
		a.Logger.Warn("Ready check reported issues", logger.Fields(logger.FieldError, err.Error()))
	}

	a.Summary.SetStartupDuration(time.Since(start))
	if a.Server != nil {
		a.Summary.TrackRoutes(a.Server.Routes())
	}

	if err := runHooks(ctx, a.onReady); err != nil {
		a.stopQuietly()
		return fmt.Errorf("onReady hook failed: %w", err)
	}
	return nil
}

// DisplaySummary writes the startup summary with live health to w.
func (a *App) DisplaySummary(w io.Writer) {
	a.Summary.Display(w, a.Components)
}

// ReadyCheck reports every component that is not healthy.
func (a *App) ReadyCheck(ctx context.Context) error {
	var unhealthy []string
	for _, h := range a.Components.HealthAll(ctx) {
		if h.Status != component.StatusHealthy {
			detail := h.Name + "=" + string(h.Status)
			if h.Message != "" {
				detail += "(" + h.Message + ")"
			}
			unhealthy = append(unhealthy, detail)
		}
	}
	if len(unhealthy) > 0 {
		return fmt.Errorf("unhealthy components: %v", unhealthy)
	}
	return nil
}

// WaitForSignal blocks until SIGINT, SIGTERM or ctx is done.
func (a *App) WaitForSignal(ctx context.Context) os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		a.Logger.Info("Received shutdown signal", logger.Fields("signal", sig.String()))
		return sig
	case <-ctx.Done():
		a.Logger.Info("Context canceled, shutting down")
		return nil
	}
}

// Shutdown stops the application when the caller manages its own lifecycle.
func (a *App) Shutdown(context.Context) error {
	return a.stop()
}

func (a *App) stopQuietly() {
	if err := a.stop(); err != nil {
		a.Logger.Error("Shutdown after failed startup", logger.ErrorFields("shutdown", err))
	}
}

// stop runs the OnStop hooks then stops every component in reverse order
// within the graceful timeout.
func (a *App) stop() error {
	a.Logger.Info("Shutting down application", logger.Fields("timeout", a.gracefulTimeout.String()))

	ctx, cancel := context.WithTimeout(context.Background(), a.gracefulTimeout)
	defer cancel()

	var shutdownErr error
	if err := runHooks(ctx, a.onStop); err != nil {
		a.Logger.Error("OnStop hook error", logger.ErrorFields("on_stop", err))
		shutdownErr = err
	}
	if err := a.Components.StopAll(ctx); err != nil {
		a.Logger.Error("Shutdown completed with errors", logger.ErrorFields("stop_all", err))
		shutdownErr = err
	}

	a.Logger.Info("Application shutdown complete")
	return shutdownErr
}

// telemetryComponent flushes the OTLP providers on shutdown.
type telemetryComponent struct {
	tel *observability.Telemetry
}

func (c *telemetryComponent) Name() string { return "telemetry" }

func (c *telemetryComponent) Start(context.Context) error { return nil }

func (c *telemetryComponent) Stop(ctx context.Context) error {
	return c.tel.Shutdown(ctx)
}

func (c *telemetryComponent) Health(context.Context) component.Health {
	return component.Health{Name: c.Name(), Status: component.StatusHealthy}
}
