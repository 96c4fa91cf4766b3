package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kbukum/nodegraph/errors"
	"github.com/kbukum/nodegraph/validation"
)

// Catalog is the read-only view of the registry consumed by the core.
type Catalog interface {
	Lookup(id string) (*ComponentSpec, error)
}

// ModuleSource supplies the sandbox module bytes of a component.
type ModuleSource interface {
	Module(id string) ([]byte, error)
}

// Registry maps component identifiers to their specs and module bytes.
type Registry struct {
	mu      sync.RWMutex
	specs   map[string]*ComponentSpec
	modules map[string][]byte
}

var (
	_ Catalog      = (*Registry)(nil)
	_ ModuleSource = (*Registry)(nil)
)

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		specs:   make(map[string]*ComponentSpec),
		modules: make(map[string][]byte),
	}
}

// RegisterOption configures a registration.
type RegisterOption func(*registration)

type registration struct {
	module []byte
}

// WithModule attaches the WebAssembly module bytes of a wasm component.
func WithModule(module []byte) RegisterOption {
	return func(r *registration) { r.module = module }
}

// Register validates spec and adds it. Declared capabilities are checked
// here, the first of the two points where the security boundary is enforced.
func (r *Registry) Register(spec ComponentSpec, opts ...RegisterOption) error {
	var reg registration
	for _, opt := range opts {
		opt(&reg)
	}
	if spec.Runtime == "" {
		spec.Runtime = RuntimeNative
	}
	if err := validation.Validate(spec); err != nil {
		return fmt.Errorf("registry: component %q: %w", spec.ID, err)
	}
	if err := checkPorts(&spec); err != nil {
		return fmt.Errorf("registry: component %q: %w", spec.ID, err)
	}
	if spec.Runtime == RuntimeWasm && len(reg.module) == 0 {
		return fmt.Errorf("registry: component %q: wasm runtime requires module bytes", spec.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[spec.ID]; exists {
		return fmt.Errorf("registry: component %q already registered", spec.ID)
	}
	r.specs[spec.ID] = spec.clone()
	if len(reg.module) > 0 {
		r.modules[spec.ID] = reg.module
	}
	return nil
}

// MustRegister is Register that panics, for static built-in tables.
func (r *Registry) MustRegister(spec ComponentSpec, opts ...RegisterOption) {
	if err := r.Register(spec, opts...); err != nil {
		panic(err)
	}
}

func checkPorts(spec *ComponentSpec) error {
	v := validation.New()
	seen := make(map[string]bool)
	for _, p := range spec.Inputs {
		v.Check(!seen["in:"+p.Name], "inputs", fmt.Sprintf("duplicate port %q", p.Name))
		seen["in:"+p.Name] = true
	}
	for _, p := range spec.Outputs {
		v.Check(!seen["out:"+p.Name], "outputs", fmt.Sprintf("duplicate port %q", p.Name))
		seen["out:"+p.Name] = true
	}
	return v.Error(errors.CategoryValidation)
}

// Lookup returns a copy of the spec for id, so the registered spec cannot
// be changed through it. An unknown id is a structural error: a graph cannot
// reference it.
func (r *Registry) Lookup(id string) (*ComponentSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[id]
	if !ok {
		return nil, errors.Structural(fmt.Sprintf("Unknown component %q.", id)).
			WithHint("Install the component or remove the node from the graph.").
			WithDetail("component_id", id)
	}
	return spec.clone(), nil
}

// Module returns the module bytes registered for id.
func (r *Registry) Module(id string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mod, ok := r.modules[id]
	if !ok {
		return nil, fmt.Errorf("registry: component %q has no module", id)
	}
	return mod, nil
}

// List returns copies of all specs sorted by id.
func (r *Registry) List() []*ComponentSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]*ComponentSpec, 0, len(r.specs))
	for _, s := range r.specs {
		specs = append(specs, s.clone())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })
	return specs
}

// Len returns the number of registered components.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.specs)
}
