package host

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/kbukum/nodegraph/capability"
	"github.com/kbukum/nodegraph/component"
	nerrors "github.com/kbukum/nodegraph/errors"
	"github.com/kbukum/nodegraph/logger"
	"github.com/kbukum/nodegraph/observability"
	"github.com/kbukum/nodegraph/registry"
	"github.com/kbukum/nodegraph/resilience"
)

// ErrClosed is returned by Instantiate after the host has been closed.
var ErrClosed = errors.New("host: closed")

// Host owns the runtimes and hands out one Handle per active node.
type Host struct {
	catalog   registry.Catalog
	runtimes  map[registry.Runtime]Runtime
	validator *capability.Validator
	cfg       Config
	slots     *resilience.Slots
	transport http.RoundTripper
	metrics   *observability.Metrics
	log       *logger.Logger

	mu      sync.Mutex
	handles map[*Handle]struct{}
	closed  bool
}

// Option configures a Host.
type Option func(*Host)

// WithRuntime registers the runtime used for components of the given kind.
func WithRuntime(kind registry.Runtime, rt Runtime) Option {
	return func(h *Host) { h.runtimes[kind] = rt }
}

// WithTransport sets the round tripper used by privileged fetches.
func WithTransport(rt http.RoundTripper) Option {
	return func(h *Host) { h.transport = rt }
}

// WithMetrics records host metrics on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Host) { h.metrics = m }
}

// WithLogger overrides the host logger.
func WithLogger(l *logger.Logger) Option {
	return func(h *Host) { h.log = l }
}

// New creates a Host resolving component ids through catalog.
func New(catalog registry.Catalog, cfg Config, opts ...Option) *Host {
	cfg.ApplyDefaults()
	h := &Host{
		catalog:   catalog,
		runtimes:  make(map[registry.Runtime]Runtime),
		validator: capability.NewValidator(),
		cfg:       cfg,
		transport: http.DefaultTransport,
		log:       logger.WithComponent("host"),
		handles:   make(map[*Handle]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.slots = resilience.NewSlots(resilience.SlotsConfig{
		Name: "instances",
		Max:  cfg.MaxInstances,
		OnReject: func(string) {
			h.log.Warn("instance limit reached", logger.Fields("max_instances", cfg.MaxInstances))
		},
	})
	return h
}

// Config returns the effective limits.
func (h *Host) Config() Config {
	return h.cfg
}

// InstantiateOption configures one Instantiate.
type InstantiateOption func(*instantiateOptions)

type instantiateOptions struct {
	waitForSlot bool
}

// WaitForSlot makes Instantiate wait for a free instance slot for as long as
// ctx allows, instead of failing when the pool is full. One-shot runs use it:
// a wide graph level queues for slots rather than failing nodes.
func WaitForSlot() InstantiateOption {
	return func(o *instantiateOptions) { o.waitForSlot = true }
}

// Instantiate acquires a sandboxed instance for nodeID running componentID.
// Unknown components yield a structural error; a full instance pool yields
// ResourceExhausted unless WaitForSlot is given.
func (h *Host) Instantiate(ctx context.Context, nodeID, componentID string, opts ...InstantiateOption) (*Handle, error) {
	var o instantiateOptions
	for _, opt := range opts {
		opt(&o)
	}

	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	spec, err := h.catalog.Lookup(componentID)
	if err != nil {
		return nil, err
	}
	rt, ok := h.runtimes[spec.Runtime]
	if !ok {
		return nil, nerrors.Structural(fmt.Sprintf("No runtime is available for %s components.", spec.Runtime)).
			WithDetail("component_id", componentID)
	}

	var release func()
	if o.waitForSlot {
		release, err = h.slots.AcquireWait(ctx)
		if err != nil {
			return nil, classify(err)
		}
	} else {
		release, err = h.slots.Acquire(ctx)
		if err != nil {
			return nil, err
		}
	}

	hd := &Handle{
		host:    h,
		nodeID:  nodeID,
		spec:    spec,
		rt:      rt,
		release: release,
		log:     h.log.WithFields(logger.NodeFields(nodeID, componentID)),
	}
	hd.api = newHostAPI(h, nodeID, spec)
	hd.env = Env{NodeID: nodeID, Spec: spec, API: hd.api, Config: h.cfg}

	inst, err := h.newInstance(ctx, rt, hd.env)
	if err != nil {
		release()
		hd.log.Warn("instantiate failed", logger.ErrorFields("instantiate", err))
		return nil, err
	}
	hd.inst = inst

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		safeClose(ctx, inst)
		release()
		return nil, ErrClosed
	}
	h.handles[hd] = struct{}{}
	h.mu.Unlock()

	h.metrics.RecordInstance(ctx, componentID, 1)
	hd.log.Debug("instance created", logger.Fields(logger.FieldRuntime, string(spec.Runtime)))
	return hd, nil
}

// newInstance calls the runtime with panics contained. Instantiation gets
// the same deadline as a call, so a guest whose start code never returns
// yields Timeout instead of holding the caller.
func (h *Host) newInstance(ctx context.Context, rt Runtime, env Env) (inst Instance, err error) {
	defer func() {
		if r := recover(); r != nil {
			inst = nil
			err = nerrors.Trap(fmt.Errorf("panic during instantiate: %v", r))
		}
	}()
	ictx, cancel := context.WithTimeout(ctx, h.cfg.CallTimeout)
	defer cancel()
	inst, err = instantiate(ictx, rt, env)
	if err != nil {
		if ictx.Err() != nil {
			if ctx.Err() != nil {
				return nil, classify(ctx.Err())
			}
			return nil, nerrors.Timeout("instantiate").WithCause(err)
		}
		if _, ok := nerrors.As(err); ok {
			return nil, err
		}
		return nil, nerrors.Failure("The component could not be instantiated.").WithCause(err)
	}
	return inst, nil
}

// instantiate runs rt.Instantiate on its own goroutine so a runtime that
// ignores its context cannot hold the caller past the deadline. An instance
// that arrives after the deadline is closed.
func instantiate(ctx context.Context, rt Runtime, env Env) (Instance, error) {
	type result struct {
		inst Instance
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: nerrors.Trap(fmt.Errorf("panic during instantiate: %v", r))}
			}
		}()
		inst, err := rt.Instantiate(ctx, env)
		done <- result{inst: inst, err: err}
	}()

	select {
	case r := <-done:
		return r.inst, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.inst != nil {
				safeClose(context.Background(), r.inst)
			}
		}()
		return nil, ctx.Err()
	}
}

func (h *Host) forget(hd *Handle) {
	h.mu.Lock()
	delete(h.handles, hd)
	h.mu.Unlock()
}

// InUse returns the number of live handles.
func (h *Host) InUse() int {
	return h.slots.InUse()
}

// Close releases every live handle and closes the runtimes.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	live := make([]*Handle, 0, len(h.handles))
	for hd := range h.handles {
		live = append(live, hd)
	}
	h.mu.Unlock()

	var errs []error
	for _, hd := range live {
		errs = append(errs, hd.Close(ctx))
	}
	for kind, rt := range h.runtimes {
		if c, ok := rt.(RuntimeCloser); ok {
			if err := c.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("close %s runtime: %w", kind, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Name implements component.Component.
func (h *Host) Name() string { return "host" }

// Start implements component.Component.
func (h *Host) Start(context.Context) error {
	if len(h.runtimes) == 0 {
		return errors.New("host: no runtimes registered")
	}
	return nil
}

// Stop implements component.Component.
func (h *Host) Stop(ctx context.Context) error {
	return h.Close(ctx)
}

// Health implements component.Component.
func (h *Host) Health(context.Context) component.Health {
	inUse := h.slots.InUse()
	status := component.StatusHealthy
	if h.slots.Available() == 0 {
		status = component.StatusDegraded
	}
	return component.Health{
		Name:   h.Name(),
		Status: status,
		Details: map[string]string{
			"instances": fmt.Sprintf("%d/%d", inUse, h.slots.Max()),
		},
	}
}
