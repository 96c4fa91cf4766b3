package hosttest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kbukum/nodegraph/host"
	"github.com/kbukum/nodegraph/registry"
	"github.com/kbukum/nodegraph/value"
)

// ExecuteFunc is the behaviour of a MockComponent call.
type ExecuteFunc func(ctx context.Context, api host.HostAPI, inputs []value.Value) ([]value.Value, error)

// MockComponent is a configurable component for host, executor and
// continuous tests. It records calls and returns preset outputs or errors.
type MockComponent struct {
	outputs []value.Value
	err     error
	fn      ExecuteFunc

	calls          atomic.Int64
	instantiations atomic.Int64
	closes         atomic.Int64

	mu         sync.Mutex
	lastInputs []value.Value
}

// NewMockComponent returns a component that always yields outputs, or err
// when err is non-nil.
func NewMockComponent(outputs []value.Value, err error) *MockComponent {
	return &MockComponent{outputs: outputs, err: err}
}

// NewMockComponentFunc returns a component backed by fn.
func NewMockComponentFunc(fn ExecuteFunc) *MockComponent {
	return &MockComponent{fn: fn}
}

// Panicking returns a component whose every call panics with v.
func Panicking(v any) *MockComponent {
	return NewMockComponentFunc(func(context.Context, host.HostAPI, []value.Value) ([]value.Value, error) {
		panic(v)
	})
}

// Blocking returns a component that blocks until its context is done.
func Blocking() *MockComponent {
	return NewMockComponentFunc(func(ctx context.Context, _ host.HostAPI, _ []value.Value) ([]value.Value, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
}

// Stuck returns a component that ignores its context and blocks until
// release is closed.
func Stuck(release <-chan struct{}) *MockComponent {
	return NewMockComponentFunc(func(context.Context, host.HostAPI, []value.Value) ([]value.Value, error) {
		<-release
		return nil, fmt.Errorf("released")
	})
}

func (c *MockComponent) execute(ctx context.Context, api host.HostAPI, inputs []value.Value) ([]value.Value, error) {
	c.calls.Add(1)
	c.mu.Lock()
	c.lastInputs = append([]value.Value(nil), inputs...)
	c.mu.Unlock()

	if c.fn != nil {
		return c.fn(ctx, api, inputs)
	}
	return c.outputs, c.err
}

// Calls returns how many times the component executed.
func (c *MockComponent) Calls() int { return int(c.calls.Load()) }

// Instantiations returns how many instances were created.
func (c *MockComponent) Instantiations() int { return int(c.instantiations.Load()) }

// Closes returns how many instances were closed.
func (c *MockComponent) Closes() int { return int(c.closes.Load()) }

// LastInputs returns the inputs of the most recent call.
func (c *MockComponent) LastInputs() []value.Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastInputs
}

// MockRuntime serves MockComponents by component id.
type MockRuntime struct {
	mu         sync.RWMutex
	components map[string]*MockComponent
	// InstantiateErr, when set, fails every Instantiate.
	InstantiateErr error
	// OnInstantiate, when set, runs before every Instantiate and fails it
	// with the returned error. Tests use it to hold instantiation.
	OnInstantiate func(ctx context.Context) error
}

var _ host.Runtime = (*MockRuntime)(nil)

// NewMockRuntime creates an empty runtime.
func NewMockRuntime() *MockRuntime {
	return &MockRuntime{components: make(map[string]*MockComponent)}
}

// Add registers c under id and returns it.
func (r *MockRuntime) Add(id string, c *MockComponent) *MockComponent {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[id] = c
	return c
}

// Instantiate implements host.Runtime.
func (r *MockRuntime) Instantiate(ctx context.Context, env host.Env) (host.Instance, error) {
	if r.OnInstantiate != nil {
		if err := r.OnInstantiate(ctx); err != nil {
			return nil, err
		}
	}
	if r.InstantiateErr != nil {
		return nil, r.InstantiateErr
	}
	r.mu.RLock()
	c, ok := r.components[env.Spec.ID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("hosttest: no mock for %s", env.Spec.ID)
	}
	c.instantiations.Add(1)
	return &mockInstance{c: c, api: env.API}, nil
}

type mockInstance struct {
	c   *MockComponent
	api host.HostAPI
}

func (i *mockInstance) Execute(ctx context.Context, inputs []value.Value) ([]value.Value, error) {
	return i.c.execute(ctx, i.api, inputs)
}

func (i *mockInstance) Close(context.Context) error {
	i.c.closes.Add(1)
	return nil
}

// Spec builds a native ComponentSpec with the given ports, for tests that
// do not care about metadata beyond the port layout.
func Spec(id string, inputs, outputs []registry.Port, capabilities ...string) registry.ComponentSpec {
	return registry.ComponentSpec{
		ID:           id,
		Name:         id,
		Category:     "test",
		Inputs:       inputs,
		Outputs:      outputs,
		Capabilities: capabilities,
		Runtime:      registry.RuntimeNative,
	}
}

// In declares a required input port.
func In(name string, kind value.Kind) registry.Port {
	return registry.Port{Name: name, Type: kind, Required: true}
}

// Opt declares an optional input port.
func Opt(name string, kind value.Kind) registry.Port {
	return registry.Port{Name: name, Type: kind}
}

// Out declares an output port.
func Out(name string, kind value.Kind) registry.Port {
	return registry.Port{Name: name, Type: kind}
}
