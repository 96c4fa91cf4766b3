package registry

import (
	"slices"

	"github.com/kbukum/nodegraph/value"
)

// Runtime selects how a component is instantiated.
type Runtime string

const (
	// RuntimeWasm runs a WebAssembly module in the sandbox.
	RuntimeWasm Runtime = "wasm"
	// RuntimeNative runs an in-process Go implementation.
	RuntimeNative Runtime = "native"
)

// Port is a typed input or output of a component.
type Port struct {
	Name        string     `yaml:"name" json:"name" validate:"required"`
	Type        value.Kind `yaml:"type" json:"type" validate:"portkind"`
	Required    bool       `yaml:"required" json:"required"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
}

// ComponentSpec is the immutable metadata of a component type.
type ComponentSpec struct {
	// ID is the stable identifier nodes reference.
	ID          string `yaml:"id" json:"id" validate:"required"`
	Name        string `yaml:"name" json:"name" validate:"required"`
	Category    string `yaml:"category" json:"category"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	// Inputs and Outputs are positional: values cross the boundary in this order.
	Inputs  []Port `yaml:"inputs" json:"inputs" validate:"dive"`
	Outputs []Port `yaml:"outputs" json:"outputs" validate:"dive"`
	// Capabilities is nil for pure computation.
	Capabilities []string `yaml:"capabilities,omitempty" json:"capabilities,omitempty" validate:"omitempty,dive,capability"`
	Runtime      Runtime  `yaml:"runtime" json:"runtime" validate:"oneof=wasm native"`
	// Continuous marks components meant to run in repeated cycles.
	Continuous bool `yaml:"continuous,omitempty" json:"continuous,omitempty"`
}

// Pure reports whether the component declares no capabilities.
func (s *ComponentSpec) Pure() bool {
	return len(s.Capabilities) == 0
}

// InputIndex returns the position of the named input, or -1.
func (s *ComponentSpec) InputIndex(name string) int {
	return slices.IndexFunc(s.Inputs, func(p Port) bool { return p.Name == name })
}

// OutputIndex returns the position of the named output, or -1.
func (s *ComponentSpec) OutputIndex(name string) int {
	return slices.IndexFunc(s.Outputs, func(p Port) bool { return p.Name == name })
}

// clone returns a deep copy so later mutation by the caller cannot reach the
// registered spec.
func (s ComponentSpec) clone() *ComponentSpec {
	s.Inputs = slices.Clone(s.Inputs)
	s.Outputs = slices.Clone(s.Outputs)
	s.Capabilities = slices.Clone(s.Capabilities)
	return &s
}
