package native

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/kbukum/nodegraph/host"
	"github.com/kbukum/nodegraph/value"
)

// Component is an in-process component implementation. Privileged
// operations must go through api; the host checks them against the calling
// node's declared capabilities.
type Component interface {
	Execute(ctx context.Context, api host.HostAPI, inputs []value.Value) ([]value.Value, error)
}

// Func adapts a plain function to Component.
type Func func(ctx context.Context, api host.HostAPI, inputs []value.Value) ([]value.Value, error)

// Execute implements Component.
func (f Func) Execute(ctx context.Context, api host.HostAPI, inputs []value.Value) ([]value.Value, error) {
	return f(ctx, api, inputs)
}

// Factory creates the Component for one instance. State held by the
// returned value belongs to that instance alone.
type Factory func(env host.Env) (Component, error)

// ContextCloser is implemented by components that release resources on close.
type ContextCloser interface {
	Close(ctx context.Context) error
}

// Runtime serves registered Go components.
type Runtime struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

var _ host.Runtime = (*Runtime)(nil)

// NewRuntime creates an empty native runtime.
func NewRuntime() *Runtime {
	return &Runtime{factories: make(map[string]Factory)}
}

// Register adds the factory for component id.
func (r *Runtime) Register(id string, f Factory) error {
	if id == "" || f == nil {
		return fmt.Errorf("native: id and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[id]; ok {
		return fmt.Errorf("native: component %q already registered", id)
	}
	r.factories[id] = f
	return nil
}

// RegisterFunc adds a stateless component backed by fn.
func (r *Runtime) RegisterFunc(id string, fn Func) error {
	if fn == nil {
		return fmt.Errorf("native: function for %q is nil", id)
	}
	return r.Register(id, func(host.Env) (Component, error) { return fn, nil })
}

// IDs returns the registered component ids in order.
func (r *Runtime) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Instantiate implements host.Runtime.
func (r *Runtime) Instantiate(_ context.Context, env host.Env) (host.Instance, error) {
	r.mu.RLock()
	f, ok := r.factories[env.Spec.ID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("native: no implementation for component %q", env.Spec.ID)
	}
	c, err := f(env)
	if err != nil {
		return nil, fmt.Errorf("native: creating %q: %w", env.Spec.ID, err)
	}
	return &instance{c: c, api: env.API}, nil
}

type instance struct {
	c   Component
	api host.HostAPI
}

func (i *instance) Execute(ctx context.Context, inputs []value.Value) ([]value.Value, error) {
	return i.c.Execute(ctx, i.api, inputs)
}

func (i *instance) Close(ctx context.Context) error {
	switch c := i.c.(type) {
	case ContextCloser:
		return c.Close(ctx)
	case io.Closer:
		return c.Close()
	}
	return nil
}
