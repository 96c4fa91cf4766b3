package continuous

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	nerrors "github.com/kbukum/nodegraph/errors"
	"github.com/kbukum/nodegraph/host"
	"github.com/kbukum/nodegraph/logger"
	"github.com/kbukum/nodegraph/observability"
	"github.com/kbukum/nodegraph/registry"
	"github.com/kbukum/nodegraph/value"
)

// Caller is the part of a host handle a continuous task drives.
type Caller interface {
	Call(ctx context.Context, inputs []value.Value) ([]value.Value, error)
	Close(ctx context.Context) error
}

// Launcher acquires the instance a continuous node runs on.
type Launcher func(ctx context.Context, nodeID, componentID string) (Caller, error)

// HostLauncher launches continuous nodes on h.
func HostLauncher(h *host.Host) Launcher {
	return func(ctx context.Context, nodeID, componentID string) (Caller, error) {
		hd, err := h.Instantiate(ctx, nodeID, componentID)
		if err != nil {
			return nil, err
		}
		return hd, nil
	}
}

// ErrStopping is returned by Start while the previous task of the node is
// still shutting down.
var ErrStopping = errors.New("continuous: node is still stopping")

// ErrRunning is returned by Start for a node that is already running.
var ErrRunning = errors.New("continuous: node is already running")

// Manager supervises the continuous nodes of a session. Start, Stop, Poll
// and Snapshot never block on a running task.
type Manager struct {
	catalog registry.Catalog
	launch  Launcher
	cfg     Config
	metrics *observability.Metrics
	log     *logger.Logger
	observe Observer

	mu    sync.RWMutex
	nodes map[string]*node
	leaks atomic.Int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics records cycle and leak metrics on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// Observer receives every snapshot change. It is called on the goroutine
// that made the change and must not block.
type Observer func(Snapshot)

// WithObserver registers fn to receive snapshot changes.
func WithObserver(fn Observer) Option {
	return func(mgr *Manager) { mgr.observe = fn }
}

// WithLogger overrides the manager logger.
func WithLogger(l *logger.Logger) Option {
	return func(mgr *Manager) { mgr.log = l }
}

// NewManager creates a Manager.
func NewManager(catalog registry.Catalog, launch Launcher, cfg Config, opts ...Option) *Manager {
	cfg.ApplyDefaults()
	m := &Manager{
		catalog: catalog,
		launch:  launch,
		cfg:     cfg,
		log:     logger.WithComponent("continuous"),
		nodes:   make(map[string]*node),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartOption configures one start.
type StartOption func(*startOptions)

type startOptions struct {
	inputs   []value.Value
	interval time.Duration
}

// WithInputs sets the inputs passed to every cycle. Missing trailing
// inputs are absent.
func WithInputs(inputs ...value.Value) StartOption {
	return func(o *startOptions) { o.inputs = inputs }
}

// WithInterval overrides the cycle interval for this node.
func WithInterval(d time.Duration) StartOption {
	return func(o *startOptions) { o.interval = d }
}

// Start launches the background task of nodeID. It returns as soon as the
// task is spawned; the node is then Starting and becomes Running when its
// first cycle begins. A node that is Stopped or Failed is started afresh.
func (m *Manager) Start(nodeID, componentID string, opts ...StartOption) error {
	spec, err := m.catalog.Lookup(componentID)
	if err != nil {
		return err
	}
	o := startOptions{interval: m.cfg.CycleInterval}
	for _, opt := range opts {
		opt(&o)
	}
	if len(o.inputs) > len(spec.Inputs) {
		return nerrors.Newf(nerrors.CategoryValidation,
			"Component %s takes %d inputs but %d were given.", spec.ID, len(spec.Inputs), len(o.inputs))
	}
	inputs := make([]value.Value, len(spec.Inputs))
	copy(inputs, o.inputs)

	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.nodes[nodeID]; ok {
		switch prev.load().Phase {
		case PhaseStopping:
			return ErrStopping
		case PhaseStarting, PhaseRunning:
			return ErrRunning
		}
	}
	n := newNode(nodeID, spec.ID, inputs, o.interval, m.cfg.ResultBuffer, m.observe)
	m.nodes[nodeID] = n
	go m.supervise(n)

	m.log.Info("continuous node started", logger.MergeWithDuration(
		logger.NodeFields(nodeID, spec.ID), o.interval))
	return nil
}

// Stop requests a stop and returns immediately. Stopping an idle, stopped
// or failed node, or one already stopping, does nothing.
func (m *Manager) Stop(nodeID string) {
	if n := m.node(nodeID); n != nil && n.load().Phase.Active() {
		n.requestStop()
	}
}

// StopWait stops nodeID and waits until its task has reached a terminal
// phase or ctx is done.
func (m *Manager) StopWait(ctx context.Context, nodeID string) error {
	n := m.node(nodeID)
	if n == nil {
		return nil
	}
	m.Stop(nodeID)
	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopAll stops every node and waits for all of them, bounded by ctx.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	nodes := make([]*node, 0, len(m.nodes))
	for _, n := range m.nodes {
		nodes = append(nodes, n)
	}
	m.mu.RUnlock()

	for _, n := range nodes {
		if n.load().Phase.Active() {
			n.requestStop()
		}
	}
	for _, n := range nodes {
		select {
		case <-n.done:
		case <-ctx.Done():
			return fmt.Errorf("continuous: stopping %s: %w", n.id, ctx.Err())
		}
	}
	return nil
}

// Reset stops everything and forgets every node, so all nodes read as Idle.
// It is called when a graph is loaded: a session never resumes a previous run.
func (m *Manager) Reset(ctx context.Context) error {
	err := m.StopAll(ctx)
	m.mu.Lock()
	m.nodes = make(map[string]*node)
	m.mu.Unlock()
	return err
}

// Poll returns the next unread cycle result of nodeID, if any.
func (m *Manager) Poll(nodeID string) (CycleResult, bool) {
	n := m.node(nodeID)
	if n == nil {
		return CycleResult{}, false
	}
	return n.poll()
}

// Snapshot returns the current phase, outputs and error of nodeID. Unknown
// nodes are Idle.
func (m *Manager) Snapshot(nodeID string) Snapshot {
	n := m.node(nodeID)
	if n == nil {
		return Snapshot{NodeID: nodeID, Phase: PhaseIdle}
	}
	return n.load()
}

// Snapshots returns the snapshots of every known node, ordered by id.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.RLock()
	out := make([]Snapshot, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, n.load())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// LatestOutputs returns the most recent successful outputs of nodeID.
func (m *Manager) LatestOutputs(nodeID string) ([]value.Value, bool) {
	s := m.Snapshot(nodeID)
	if s.Outputs == nil {
		return nil, false
	}
	return s.Outputs, true
}

// Leaks returns how many tasks were detached without finishing.
func (m *Manager) Leaks() int64 {
	return m.leaks.Load()
}

func (m *Manager) node(id string) *node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nodes[id]
}
