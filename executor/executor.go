package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	nerrors "github.com/kbukum/nodegraph/errors"
	"github.com/kbukum/nodegraph/graph"
	"github.com/kbukum/nodegraph/host"
	"github.com/kbukum/nodegraph/logger"
	"github.com/kbukum/nodegraph/observability"
	"github.com/kbukum/nodegraph/registry"
	"github.com/kbukum/nodegraph/value"
)

// Instantiator acquires sandboxed instances. *host.Host implements it.
type Instantiator interface {
	Instantiate(ctx context.Context, nodeID, componentID string, opts ...host.InstantiateOption) (*host.Handle, error)
}

// OutputSource supplies the latest outputs of continuous nodes, which a
// one-shot run reads but never executes.
type OutputSource interface {
	LatestOutputs(nodeID string) ([]value.Value, bool)
}

// Executor runs graphs of one-shot nodes in dependency order.
type Executor struct {
	catalog registry.Catalog
	host    Instantiator
	cfg     Config
	outputs OutputSource
	metrics *observability.Metrics
	log     *logger.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithOutputSource lets continuous nodes feed their latest outputs downstream.
func WithOutputSource(src OutputSource) Option {
	return func(e *Executor) { e.outputs = src }
}

// WithMetrics records run and node metrics on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithLogger overrides the executor logger.
func WithLogger(l *logger.Logger) Option {
	return func(e *Executor) { e.log = l }
}

// New creates an Executor.
func New(catalog registry.Catalog, h Instantiator, cfg Config, opts ...Option) *Executor {
	e := &Executor{
		catalog: catalog,
		host:    h,
		cfg:     cfg,
		log:     logger.WithComponent("executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run validates g and executes every one-shot node once. A structural
// defect (unknown component, ill-typed edge, cycle) is returned as the
// error before any node runs. Otherwise every node gets a NodeResult:
// failures are recorded per node, independent branches keep running, and
// nodes whose required inputs trace to a failure are marked failed without
// being called.
func (e *Executor) Run(ctx context.Context, g *graph.Graph) (*Result, error) {
	start := time.Now()
	runID := uuid.NewString()
	ctx = logger.ContextWithRunID(ctx, runID)
	ctx, span := observability.StartSpan(ctx, observability.SpanGraphRun)
	defer span.End()
	span.SetAttributes(attribute.String(observability.AttrRunID, runID), attribute.Int("graph.nodes", len(g.Nodes)))
	log := e.log.WithContext(ctx)

	if err := g.Validate(e.catalog); err != nil {
		execErr := nerrors.From(err)
		span.RecordError(execErr)
		span.SetStatus(codes.Error, execErr.Message)
		e.metrics.RecordGraphRun(ctx, "structural", time.Since(start))
		log.Warn("graph rejected", logger.Fields(logger.FieldCategory, string(execErr.Category), logger.FieldError, execErr.Message))
		return nil, execErr
	}
	levels, err := g.Levels()
	if err != nil {
		return nil, err
	}

	p := plan{
		nodes:    make(map[string]graph.Node, len(g.Nodes)),
		specs:    make(map[string]*registry.ComponentSpec, len(g.Nodes)),
		incoming: make(map[string][]graph.Edge),
	}
	for _, n := range g.Nodes {
		spec, err := e.catalog.Lookup(n.ComponentID)
		if err != nil {
			return nil, err
		}
		p.nodes[n.ID] = n
		p.specs[n.ID] = spec
	}
	for _, edge := range g.Edges {
		p.incoming[edge.To] = append(p.incoming[edge.To], edge)
	}

	result := &Result{RunID: runID, Nodes: make(map[string]NodeResult, len(g.Nodes))}
	var mu sync.Mutex
	for _, level := range levels {
		if err := ctx.Err(); err != nil {
			for _, id := range level {
				result.Nodes[id] = e.cancelled(id, p.specs[id], err)
			}
			continue
		}
		e.runLevel(ctx, &p, level, result, &mu)
	}

	result.Duration = time.Since(start)
	status := "ok"
	if failed := result.Failed(); len(failed) > 0 {
		status = "partial"
		span.SetAttributes(attribute.Int("graph.failed", len(failed)))
	}
	e.metrics.RecordGraphRun(ctx, status, result.Duration)
	log.Info("graph run finished", logger.MergeWithDuration(logger.Fields(
		logger.FieldStatus, status,
		"nodes", len(result.Nodes),
		"failed", len(result.Failed()),
	), result.Duration))
	return result, nil
}

type plan struct {
	nodes    map[string]graph.Node
	specs    map[string]*registry.ComponentSpec
	incoming map[string][]graph.Edge
}

func (e *Executor) runLevel(ctx context.Context, p *plan, ids []string, result *Result, mu *sync.Mutex) {
	var eg errgroup.Group
	eg.SetLimit(e.concurrency(len(ids)))
	for _, id := range ids {
		eg.Go(func() error {
			mu.Lock()
			inputs, inErr := e.gather(p, id, result)
			mu.Unlock()

			nr := e.runNode(ctx, p.nodes[id], p.specs[id], inputs, inErr)
			mu.Lock()
			result.Nodes[id] = nr
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
}

// gather assembles the positional inputs of node id from upstream results.
// Callers hold the result lock.
func (e *Executor) gather(p *plan, id string, result *Result) ([]value.Value, *nerrors.ExecutionError) {
	spec := p.specs[id]
	inputs := make([]value.Value, len(spec.Inputs))
	connected := make([]bool, len(spec.Inputs))

	for _, edge := range p.incoming[id] {
		i := spec.InputIndex(edge.ToPort)
		port := spec.Inputs[i]
		connected[i] = true

		up := result.Nodes[edge.From]
		if !up.OK() {
			if port.Required {
				return nil, nerrors.UpstreamFailed(port.Name, edge.From)
			}
			continue
		}
		oi := p.specs[edge.From].OutputIndex(edge.FromPort)
		if oi >= len(up.Outputs) {
			if port.Required {
				return nil, nerrors.MissingInput(port.Name).
					WithHint(fmt.Sprintf("Start continuous node %s so it can publish a value.", edge.From))
			}
			continue
		}
		inputs[i] = up.Outputs[oi]
	}

	for i, port := range spec.Inputs {
		if port.Required && !connected[i] {
			return nil, nerrors.MissingInput(port.Name)
		}
	}
	return inputs, nil
}

func (e *Executor) runNode(ctx context.Context, n graph.Node, spec *registry.ComponentSpec, inputs []value.Value, inErr *nerrors.ExecutionError) NodeResult {
	start := time.Now()
	nr := NodeResult{NodeID: n.ID, ComponentID: spec.ID}

	if n.Continuous {
		nr.Continuous = true
		if e.outputs != nil {
			if out, ok := e.outputs.LatestOutputs(n.ID); ok {
				nr.Outputs = out
			}
		}
		return nr
	}

	ctx = logger.ContextWithNodeID(ctx, n.ID)
	ctx, span := observability.StartSpan(ctx, observability.SpanNodeExecute)
	defer span.End()
	span.SetAttributes(
		attribute.String(observability.AttrNodeID, n.ID),
		attribute.String(observability.AttrComponentID, spec.ID),
	)

	out, err := e.call(ctx, n, spec, inputs, inErr)
	nr.Duration = time.Since(start)
	log := e.log.WithContext(ctx).WithFields(logger.NodeFields(n.ID, spec.ID))
	if err != nil {
		nr.Err = nerrors.From(err)
		span.SetStatus(codes.Error, nr.Err.Message)
		span.SetAttributes(attribute.String(observability.AttrErrorCategory, string(nr.Err.Category)))
		e.metrics.RecordNode(ctx, spec.ID, string(nr.Err.Category))
		log.Debug("node failed", logger.MergeWithDuration(logger.Fields(
			logger.FieldCategory, string(nr.Err.Category),
			logger.FieldError, nr.Err.Message,
		), nr.Duration))
		return nr
	}
	nr.Outputs = out
	e.metrics.RecordNode(ctx, spec.ID, "ok")
	log.Debug("node completed", logger.DurationFields("execute", nr.Duration))
	return nr
}

// call runs the node through a fresh handle. Input errors are reported
// without touching the host. A full instance pool makes the node wait for a
// slot, so how many nodes fit at once never changes a run's outcome.
func (e *Executor) call(ctx context.Context, n graph.Node, spec *registry.ComponentSpec, inputs []value.Value, inErr *nerrors.ExecutionError) ([]value.Value, error) {
	if inErr != nil {
		return nil, inErr
	}
	hd, err := e.host.Instantiate(ctx, n.ID, spec.ID, host.WaitForSlot())
	if err != nil {
		return nil, err
	}
	defer hd.Close(context.WithoutCancel(ctx))
	return hd.Call(ctx, inputs)
}

func (e *Executor) cancelled(id string, spec *registry.ComponentSpec, cause error) NodeResult {
	return NodeResult{
		NodeID:      id,
		ComponentID: spec.ID,
		Err: nerrors.New(nerrors.CategoryTimeout, "The run was cancelled before this node executed.").
			WithCause(cause),
	}
}

func (e *Executor) concurrency(levelSize int) int {
	if e.cfg.MaxParallel <= 0 || e.cfg.MaxParallel > levelSize {
		return levelSize
	}
	return e.cfg.MaxParallel
}
