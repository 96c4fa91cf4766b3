package wasm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	nerrors "github.com/kbukum/nodegraph/errors"
	"github.com/kbukum/nodegraph/host"
	"github.com/kbukum/nodegraph/logger"
	"github.com/kbukum/nodegraph/registry"
	"github.com/kbukum/nodegraph/value"
)

// Runtime instantiates WebAssembly components with wazero. Every instance
// gets its own wazero runtime, so linear memory, globals and tables are
// never shared between nodes; compiled code is shared through a cache.
type Runtime struct {
	modules registry.ModuleSource
	cache   wazero.CompilationCache
	log     *logger.Logger
}

var (
	_ host.Runtime       = (*Runtime)(nil)
	_ host.RuntimeCloser = (*Runtime)(nil)
)

// New creates a Runtime loading module bytes from modules.
func New(modules registry.ModuleSource) *Runtime {
	return &Runtime{
		modules: modules,
		cache:   wazero.NewCompilationCache(),
		log:     logger.WithComponent("wasm"),
	}
}

// Close releases the compilation cache.
func (r *Runtime) Close(ctx context.Context) error {
	return r.cache.Close(ctx)
}

func (r *Runtime) newRuntime(ctx context.Context, limitPages uint32) wazero.Runtime {
	cfg := wazero.NewRuntimeConfig().
		WithCompilationCache(r.cache).
		WithCloseOnContextDone(true)
	if limitPages > 0 {
		cfg = cfg.WithMemoryLimitPages(limitPages)
	}
	return wazero.NewRuntimeWithConfig(ctx, cfg)
}

// Instantiate implements host.Runtime.
func (r *Runtime) Instantiate(ctx context.Context, env host.Env) (host.Instance, error) {
	code, err := r.modules.Module(env.Spec.ID)
	if err != nil {
		return nil, err
	}

	inst := &instance{
		nodeID:   env.NodeID,
		api:      env.API,
		maxBytes: env.Config.MaxResponseBytes,
		wrt:      r.newRuntime(ctx, env.Config.MemoryLimitPages),
	}
	ok := false
	defer func() {
		if !ok {
			inst.wrt.Close(ctx)
		}
	}()

	if err := inst.exportHost(ctx); err != nil {
		return nil, fmt.Errorf("wasm: host module: %w", err)
	}
	compiled, err := inst.wrt.CompileModule(ctx, code)
	if err != nil {
		return nil, nerrors.Failure(fmt.Sprintf("The module of %s is not valid WebAssembly.", env.Spec.ID)).WithCause(err)
	}
	mod, err := inst.wrt.InstantiateModule(ctx, compiled,
		wazero.NewModuleConfig().WithName(guestName).WithStartFunctions(initFunction))
	if err != nil {
		return nil, nerrors.Trap(err)
	}
	if err := inst.bind(mod); err != nil {
		return nil, nerrors.Failure(fmt.Sprintf("The module of %s does not implement the component interface.", env.Spec.ID)).
			WithCause(err).
			WithHint(fmt.Sprintf("Export %s, %s and %s.", ExportMemory, ExportAlloc, ExportExecute))
	}

	ok = true
	r.log.Debug("module instantiated", logger.NodeFields(env.NodeID, env.Spec.ID))
	return inst, nil
}

// ErrNoSelfDescription is returned by Inspect for modules that do not
// export nodegraph_info.
var ErrNoSelfDescription = errors.New("wasm: module does not export " + ExportInfo)

// Inspect instantiates module under the limits of cfg and, when it exports
// nodegraph_info, returns the spec the guest describes itself with. The
// module is untrusted: it gets the memory ceiling, the call timeout and a
// host API that denies everything. The result is not registered.
func (r *Runtime) Inspect(ctx context.Context, module []byte, cfg host.Config) (*registry.ComponentSpec, error) {
	cfg.ApplyDefaults()
	ctx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
	defer cancel()

	inst := &instance{wrt: r.newRuntime(ctx, cfg.MemoryLimitPages), api: discardAPI{}}
	defer inst.wrt.Close(context.Background())

	if err := inst.exportHost(ctx); err != nil {
		return nil, err
	}
	mod, err := inst.wrt.InstantiateWithConfig(ctx, module,
		wazero.NewModuleConfig().WithName(guestName).WithStartFunctions(initFunction))
	if err != nil {
		return nil, inspectErr(ctx, "instantiate", err)
	}
	info := mod.ExportedFunction(ExportInfo)
	if info == nil || mod.Memory() == nil {
		return nil, ErrNoSelfDescription
	}
	res, err := info.Call(ctx)
	if err != nil {
		return nil, inspectErr(ctx, ExportInfo, err)
	}
	ptr, size := unpack(res[0])
	if int64(size) > cfg.MaxResponseBytes {
		return nil, nerrors.ResourceExhausted("response size", cfg.MaxResponseBytes)
	}
	data, ok := mod.Memory().Read(ptr, size)
	if !ok {
		return nil, fmt.Errorf("wasm: %s returned out of range memory", ExportInfo)
	}
	var spec registry.ComponentSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("wasm: decoding %s: %w", ExportInfo, err)
	}
	spec.Runtime = registry.RuntimeWasm
	return &spec, nil
}

func inspectErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return nerrors.Timeout(op).WithCause(err)
	}
	return fmt.Errorf("wasm: inspect %s: %w", op, err)
}

// Inspector adapts Inspect for manifest loading: modules without a
// self-description pass through unchecked.
func (r *Runtime) Inspector(cfg host.Config) registry.Inspector {
	return func(module []byte) (*registry.ComponentSpec, error) {
		spec, err := r.Inspect(context.Background(), module, cfg)
		if errors.Is(err, ErrNoSelfDescription) {
			return nil, nil
		}
		return spec, err
	}
}

type instance struct {
	nodeID   string
	api      host.HostAPI
	maxBytes int64

	wrt     wazero.Runtime
	mod     api.Module
	mem     api.Memory
	alloc   api.Function
	execute api.Function
}

func (i *instance) bind(mod api.Module) error {
	i.mod = mod
	i.mem = mod.Memory()
	i.alloc = mod.ExportedFunction(ExportAlloc)
	i.execute = mod.ExportedFunction(ExportExecute)
	var missing []error
	if i.mem == nil {
		missing = append(missing, fmt.Errorf("missing export %q", ExportMemory))
	}
	if i.alloc == nil {
		missing = append(missing, fmt.Errorf("missing export %q", ExportAlloc))
	}
	if i.execute == nil {
		missing = append(missing, fmt.Errorf("missing export %q", ExportExecute))
	}
	return errors.Join(missing...)
}

// Execute implements host.Instance.
func (i *instance) Execute(ctx context.Context, inputs []value.Value) ([]value.Value, error) {
	req, err := json.Marshal(request{Inputs: value.Values(inputs)})
	if err != nil {
		return nil, nerrors.Failure("The inputs could not be encoded.").WithCause(err)
	}
	ptr, err := i.write(ctx, i.mod, req)
	if err != nil {
		return nil, i.callErr(ctx, err)
	}

	res, err := i.execute.Call(ctx, uint64(ptr), uint64(len(req)))
	if err != nil {
		return nil, i.callErr(ctx, err)
	}
	outPtr, outLen := unpack(res[0])
	if i.maxBytes > 0 && int64(outLen) > i.maxBytes {
		return nil, nerrors.ResourceExhausted("response size", i.maxBytes)
	}
	data, ok := i.mem.Read(outPtr, outLen)
	if !ok {
		return nil, nerrors.Trap(fmt.Errorf("response [%d, +%d) is outside linear memory", outPtr, outLen))
	}

	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, nerrors.Failure("The component returned a malformed response.").WithCause(err)
	}
	if resp.Error != nil {
		e := nerrors.Failure(resp.Error.Message)
		if resp.Error.Input != "" {
			e = e.WithInput(resp.Error.Input)
		}
		if resp.Error.Hint != "" {
			e = e.WithHint(resp.Error.Hint)
		}
		return nil, e
	}
	return resp.Outputs, nil
}

// write copies data into guest memory obtained from the guest allocator.
func (i *instance) write(ctx context.Context, mod api.Module, data []byte) (uint32, error) {
	alloc := i.alloc
	if mod != i.mod || alloc == nil {
		alloc = mod.ExportedFunction(ExportAlloc)
	}
	if alloc == nil {
		return 0, fmt.Errorf("missing export %q", ExportAlloc)
	}
	res, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, err
	}
	ptr := uint32(res[0])
	if !mod.Memory().Write(ptr, data) {
		return 0, fmt.Errorf("allocation [%d, +%d) is outside linear memory", ptr, len(data))
	}
	return ptr, nil
}

// callErr maps a failed guest call onto the error taxonomy. A call cut off
// by its context surfaces as the context error so the host reports a timeout.
func (i *instance) callErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var exit *sys.ExitError
	if errors.As(err, &exit) {
		switch exit.ExitCode() {
		case sys.ExitCodeDeadlineExceeded:
			return context.DeadlineExceeded
		case sys.ExitCodeContextCanceled:
			return context.Canceled
		}
	}
	if execErr, ok := nerrors.As(err); ok {
		return execErr
	}
	return nerrors.Trap(err)
}

// Close implements host.Instance.
func (i *instance) Close(ctx context.Context) error {
	return i.wrt.Close(ctx)
}

// discardAPI denies everything; used while inspecting untrusted modules.
type discardAPI struct{}

func (discardAPI) Fetch(_ context.Context, rawURL string) (*host.FetchResponse, error) {
	return nil, nerrors.CapabilityDenied("network", rawURL)
}

func (discardAPI) Log(context.Context, string, string) {}
