package builtin

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	nerrors "github.com/kbukum/nodegraph/errors"
	"github.com/kbukum/nodegraph/host"
	"github.com/kbukum/nodegraph/host/native"
	"github.com/kbukum/nodegraph/registry"
	"github.com/kbukum/nodegraph/value"
)

// Options configures the built-in set.
type Options struct {
	// FetchCapabilities is declared by net.fetch. Empty means every fetch
	// is denied.
	FetchCapabilities []string `yaml:"fetch_capabilities" mapstructure:"fetch_capabilities"`
}

type builtin struct {
	spec    registry.ComponentSpec
	factory native.Factory
}

func in(name string, kind value.Kind) registry.Port {
	return registry.Port{Name: name, Type: kind, Required: true}
}

func opt(name string, kind value.Kind) registry.Port {
	return registry.Port{Name: name, Type: kind}
}

func out(name string, kind value.Kind) registry.Port {
	return registry.Port{Name: name, Type: kind}
}

func ports(p ...registry.Port) []registry.Port { return p }

func stateless(fn native.Func) native.Factory {
	return func(host.Env) (native.Component, error) { return fn, nil }
}

func table(opts Options) []builtin {
	return []builtin{
		{
			spec: registry.ComponentSpec{
				ID: "math.add", Name: "Add", Category: "math",
				Description: "Sum of two numbers.",
				Inputs:      ports(in("a", value.KindF32), in("b", value.KindF32)),
				Outputs:     ports(out("sum", value.KindF32)),
			},
			factory: stateless(binaryF32(func(a, b float32) (float32, error) { return a + b, nil })),
		},
		{
			spec: registry.ComponentSpec{
				ID: "math.multiply", Name: "Multiply", Category: "math",
				Inputs:  ports(in("a", value.KindF32), in("b", value.KindF32)),
				Outputs: ports(out("product", value.KindF32)),
			},
			factory: stateless(binaryF32(func(a, b float32) (float32, error) { return a * b, nil })),
		},
		{
			spec: registry.ComponentSpec{
				ID: "math.divide", Name: "Divide", Category: "math",
				Inputs:  ports(in("a", value.KindF32), in("b", value.KindF32)),
				Outputs: ports(out("quotient", value.KindF32)),
			},
			factory: stateless(binaryF32(func(a, b float32) (float32, error) {
				if b == 0 {
					return 0, nerrors.Failure("Division by zero.").WithInput("b").WithHint("Connect a non-zero divisor.")
				}
				return a / b, nil
			})),
		},
		{
			spec: registry.ComponentSpec{
				ID: "string.concat", Name: "Concatenate", Category: "string",
				Inputs:  ports(in("a", value.KindString), in("b", value.KindString), opt("separator", value.KindString)),
				Outputs: ports(out("result", value.KindString)),
			},
			factory: stateless(concat),
		},
		{
			spec: registry.ComponentSpec{
				ID: "string.upper", Name: "Uppercase", Category: "string",
				Inputs:  ports(in("text", value.KindString)),
				Outputs: ports(out("result", value.KindString)),
			},
			factory: stateless(func(_ context.Context, _ host.HostAPI, in []value.Value) ([]value.Value, error) {
				return []value.Value{value.String(strings.ToUpper(string(in[0].(value.String))))}, nil
			}),
		},
		{
			spec: registry.ComponentSpec{
				ID: "text.length", Name: "Length", Category: "string",
				Description: "Number of characters in text.",
				Inputs:      ports(in("text", value.KindString)),
				Outputs:     ports(out("length", value.KindU32)),
			},
			factory: stateless(func(_ context.Context, _ host.HostAPI, in []value.Value) ([]value.Value, error) {
				return []value.Value{value.U32(utf8.RuneCountInString(string(in[0].(value.String))))}, nil
			}),
		},
		{
			spec: registry.ComponentSpec{
				ID: "list.sum", Name: "Sum", Category: "list",
				Inputs:  ports(in("values", value.KindF32List)),
				Outputs: ports(out("sum", value.KindF32), out("count", value.KindU32)),
			},
			factory: stateless(func(_ context.Context, _ host.HostAPI, in []value.Value) ([]value.Value, error) {
				var sum float32
				list := in[0].(value.F32List)
				for _, f := range list {
					sum += f
				}
				return []value.Value{value.F32(sum), value.U32(len(list))}, nil
			}),
		},
		{
			spec: registry.ComponentSpec{
				ID: "net.fetch", Name: "HTTP Fetch", Category: "network",
				Description:  "GET a URL through the host.",
				Inputs:       ports(in("url", value.KindString)),
				Outputs:      ports(out("status", value.KindU32), out("body", value.KindString)),
				Capabilities: opts.FetchCapabilities,
			},
			factory: stateless(fetch),
		},
		{
			spec: registry.ComponentSpec{
				ID: "time.counter", Name: "Counter", Category: "time",
				Description: "Counts cycles; meant to run continuously.",
				Inputs:      ports(opt("step", value.KindU32)),
				Outputs:     ports(out("count", value.KindU32)),
				Continuous:  true,
			},
			factory: func(host.Env) (native.Component, error) { return &counter{}, nil },
		},
	}
}

// Specs returns the specs of every built-in component.
func Specs(opts Options) []registry.ComponentSpec {
	t := table(opts)
	specs := make([]registry.ComponentSpec, len(t))
	for i, b := range t {
		specs[i] = b.spec
		specs[i].Runtime = registry.RuntimeNative
	}
	return specs
}

// Install registers every built-in spec in reg and its implementation in rt.
func Install(reg *registry.Registry, rt *native.Runtime, opts Options) error {
	for _, b := range table(opts) {
		b.spec.Runtime = registry.RuntimeNative
		if err := reg.Register(b.spec); err != nil {
			return fmt.Errorf("builtin: %w", err)
		}
		if err := rt.Register(b.spec.ID, b.factory); err != nil {
			return fmt.Errorf("builtin: %w", err)
		}
	}
	return nil
}

func binaryF32(op func(a, b float32) (float32, error)) native.Func {
	return func(_ context.Context, _ host.HostAPI, in []value.Value) ([]value.Value, error) {
		r, err := op(float32(in[0].(value.F32)), float32(in[1].(value.F32)))
		if err != nil {
			return nil, err
		}
		return []value.Value{value.F32(r)}, nil
	}
}

func concat(_ context.Context, _ host.HostAPI, in []value.Value) ([]value.Value, error) {
	sep := ""
	if s, ok := in[2].(value.String); ok {
		sep = string(s)
	}
	return []value.Value{value.String(string(in[0].(value.String)) + sep + string(in[1].(value.String)))}, nil
}

func fetch(ctx context.Context, api host.HostAPI, in []value.Value) ([]value.Value, error) {
	resp, err := api.Fetch(ctx, string(in[0].(value.String)))
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(resp.Body) {
		return nil, nerrors.Failure("The response body is not UTF-8 text.").WithInput("url")
	}
	return []value.Value{value.U32(resp.Status), value.String(resp.Body)}, nil
}

// counter keeps its total across cycles of one instance.
type counter struct {
	n uint32
}

func (c *counter) Execute(_ context.Context, _ host.HostAPI, in []value.Value) ([]value.Value, error) {
	step := uint32(1)
	if s, ok := in[0].(value.U32); ok {
		step = uint32(s)
	}
	c.n += step
	return []value.Value{value.U32(c.n)}, nil
}
