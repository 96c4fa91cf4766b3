package wasm_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	nerrors "github.com/kbukum/nodegraph/errors"
	"github.com/kbukum/nodegraph/host"
	"github.com/kbukum/nodegraph/host/hosttest"
	"github.com/kbukum/nodegraph/host/wasm"
	"github.com/kbukum/nodegraph/registry"
	"github.com/kbukum/nodegraph/value"
)

// Minimal binary encoder for hand-built test modules.

func uleb(n uint64) []byte {
	var out []byte
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func sleb(n int64) []byte {
	var out []byte
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if (n == 0 && b&0x40 == 0) || (n == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func cat(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

func vec(items ...[]byte) []byte {
	return cat(uleb(uint64(len(items))), cat(items...))
}

func str(s string) []byte {
	return cat(uleb(uint64(len(s))), []byte(s))
}

func section(id byte, items ...[]byte) []byte {
	body := vec(items...)
	return cat([]byte{id}, uleb(uint64(len(body))), body)
}

// body wraps instructions (without the final end) as a function body.
func body(instrs ...[]byte) []byte {
	fn := cat([]byte{0x00}, cat(instrs...), []byte{0x0b})
	return cat(uleb(uint64(len(fn))), fn)
}

func i32Const(n int32) []byte { return cat([]byte{0x41}, sleb(int64(n))) }
func i64Const(n int64) []byte { return cat([]byte{0x42}, sleb(n)) }

var (
	typeAlloc   = []byte{0x60, 0x01, 0x7f, 0x01, 0x7f}       // (i32) -> i32
	typeExecute = []byte{0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7e} // (i32, i32) -> i64
)

const (
	allocAt = 1024
	dataAt  = 16
)

// module assembles a guest exporting memory, alloc and execute. When
// importFetch is set, nodegraph.http_get is imported as function 0.
func module(importFetch bool, execute []byte, data []byte) []byte {
	var parts [][]byte
	parts = append(parts, []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00})
	parts = append(parts, section(1, typeAlloc, typeExecute))

	first := uint64(0)
	if importFetch {
		parts = append(parts, section(2, cat(str("nodegraph"), str("http_get"), []byte{0x00}, uleb(1))))
		first = 1
	}
	parts = append(parts, section(3, uleb(0), uleb(1)))
	parts = append(parts, section(5, []byte{0x00, 0x01}))
	parts = append(parts, section(7,
		cat(str("memory"), []byte{0x02}, uleb(0)),
		cat(str("nodegraph_alloc"), []byte{0x00}, uleb(first)),
		cat(str("nodegraph_execute"), []byte{0x00}, uleb(first+1)),
	))
	parts = append(parts, section(10, body(i32Const(allocAt)), execute))
	if data != nil {
		parts = append(parts, section(11, cat([]byte{0x00}, i32Const(dataAt), []byte{0x0b}, str(string(data)))))
	}
	return cat(parts...)
}

func packed(ptr, size int) int64 {
	return int64(ptr)<<32 | int64(size)
}

// returnsData is an execute body returning the data segment.
func returnsData(data string) []byte {
	return body(i64Const(packed(dataAt, len(data))))
}

const okReply = `{"outputs":[{"type":"u32","value":7}]}`

type fixture struct {
	reg *registry.Registry
	rt  *wasm.Runtime
	h   *host.Host
}

func newFixture(t *testing.T, cfg host.Config) *fixture {
	t.Helper()
	reg := registry.New()
	rt := wasm.New(reg)
	h := host.New(reg, cfg, host.WithRuntime(registry.RuntimeWasm, rt))
	t.Cleanup(func() { h.Close(context.Background()) })
	return &fixture{reg: reg, rt: rt, h: h}
}

func (f *fixture) add(t *testing.T, id string, mod []byte, capabilities ...string) {
	t.Helper()
	spec := hosttest.Spec(id, nil, []registry.Port{hosttest.Out("n", value.KindU32)}, capabilities...)
	spec.Runtime = registry.RuntimeWasm
	if err := f.reg.Register(spec, registry.WithModule(mod)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func (f *fixture) call(t *testing.T, id string) ([]value.Value, error) {
	t.Helper()
	hd, err := f.h.Instantiate(context.Background(), "node-"+id, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { hd.Close(context.Background()) })
	return hd.Call(context.Background(), nil)
}

func TestWasm_ReturnsOutputs(t *testing.T) {
	f := newFixture(t, host.DefaultConfig())
	f.add(t, "wasm.echo", module(false, returnsData(okReply), []byte(okReply)))

	out, err := f.call(t, "wasm.echo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !value.EqualAll(out, []value.Value{value.U32(7)}) {
		t.Errorf("unexpected outputs: %v", out)
	}
}

func TestWasm_GuestErrorIsExecutionFailure(t *testing.T) {
	reply := `{"error":{"message":"divide by zero","input":"b","hint":"pass a non-zero divisor"}}`
	f := newFixture(t, host.DefaultConfig())
	f.add(t, "wasm.fails", module(false, returnsData(reply), []byte(reply)))

	_, err := f.call(t, "wasm.fails")
	execErr, ok := nerrors.As(err)
	if !ok {
		t.Fatalf("expected execution error, got %v", err)
	}
	if execErr.Category != nerrors.CategoryExecutionFailure {
		t.Errorf("expected %s, got %s", nerrors.CategoryExecutionFailure, execErr.Category)
	}
	if execErr.Input != "b" || execErr.Hint == "" {
		t.Errorf("guest error detail lost: %+v", execErr)
	}
}

func TestWasm_TrapIsContained(t *testing.T) {
	f := newFixture(t, host.DefaultConfig())
	f.add(t, "wasm.trap", module(false, body([]byte{0x00}), nil)) // unreachable

	hd, err := f.h.Instantiate(context.Background(), "n1", "wasm.trap")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer hd.Close(context.Background())

	for range 2 {
		_, err := hd.Call(context.Background(), nil)
		if nerrors.CategoryOf(err) != nerrors.CategoryComponentTrap {
			t.Fatalf("expected %s, got %v", nerrors.CategoryComponentTrap, err)
		}
	}
}

func TestWasm_InfiniteLoopTimesOut(t *testing.T) {
	cfg := host.DefaultConfig()
	cfg.CallTimeout = 50 * time.Millisecond
	f := newFixture(t, cfg)
	// loop br 0 end; i64.const 0
	f.add(t, "wasm.spin", module(false, body([]byte{0x03, 0x40, 0x0c, 0x00, 0x0b}, i64Const(0)), nil))

	start := time.Now()
	_, err := f.call(t, "wasm.spin")
	if nerrors.CategoryOf(err) != nerrors.CategoryTimeout {
		t.Fatalf("expected %s, got %v", nerrors.CategoryTimeout, err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
}

func TestWasm_ResponseOutsideMemory(t *testing.T) {
	f := newFixture(t, host.DefaultConfig())
	f.add(t, "wasm.wild", module(false, body(i64Const(packed(60000, 10000))), nil))

	_, err := f.call(t, "wasm.wild")
	if nerrors.CategoryOf(err) != nerrors.CategoryComponentTrap {
		t.Fatalf("expected %s, got %v", nerrors.CategoryComponentTrap, err)
	}
}

func TestWasm_MissingExports(t *testing.T) {
	f := newFixture(t, host.DefaultConfig())
	bare := cat(
		[]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00},
		section(5, []byte{0x00, 0x01}),
		section(7, cat(str("memory"), []byte{0x02}, uleb(0))),
	)
	f.add(t, "wasm.bare", bare)

	_, err := f.h.Instantiate(context.Background(), "n1", "wasm.bare")
	if nerrors.CategoryOf(err) != nerrors.CategoryExecutionFailure {
		t.Fatalf("expected %s, got %v", nerrors.CategoryExecutionFailure, err)
	}
	if f.h.InUse() != 0 {
		t.Errorf("slot leaked: %d in use", f.h.InUse())
	}
}

func TestWasm_ImportedFetchIsCheckedPerNode(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	// The URL sits after the reply in the data segment.
	data := okReply + srv.URL
	urlAt := dataAt + len(okReply)
	execute := body(
		i32Const(int32(urlAt)), i32Const(int32(len(srv.URL))),
		[]byte{0x10, 0x00}, // call http_get
		[]byte{0x1a},       // drop
		i64Const(packed(dataAt, len(okReply))),
	)
	mod := module(true, execute, []byte(data))

	f := newFixture(t, host.DefaultConfig())
	f.add(t, "wasm.allowed", mod, "network:127.0.0.1")
	f.add(t, "wasm.pure", mod)

	if _, err := f.call(t, "wasm.allowed"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected permitted fetch to reach the server once, got %d", hits.Load())
	}

	// Same module bytes, no declared capability: the reply is discarded
	// and the call fails even though the guest ignored the error.
	_, err := f.call(t, "wasm.pure")
	if nerrors.CategoryOf(err) != nerrors.CategoryCapabilityDenied {
		t.Fatalf("expected %s, got %v", nerrors.CategoryCapabilityDenied, err)
	}
	if hits.Load() != 1 {
		t.Errorf("denied fetch reached the server")
	}
}

func TestWasm_InstancesAreIsolated(t *testing.T) {
	f := newFixture(t, host.DefaultConfig())
	f.add(t, "wasm.echo", module(false, returnsData(okReply), []byte(okReply)))

	a, err := f.h.Instantiate(context.Background(), "a", "wasm.echo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := f.h.Instantiate(context.Background(), "b", "wasm.echo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Closing one node's instance leaves the other usable.
	if _, err := b.Call(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b.Close(context.Background())
}

// infoModule exports memory and nodegraph_info returning data.
func infoModule(data string) []byte {
	return cat(
		[]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00},
		section(1, []byte{0x60, 0x00, 0x01, 0x7e}),
		section(3, uleb(0)),
		section(5, []byte{0x00, 0x01}),
		section(7,
			cat(str("memory"), []byte{0x02}, uleb(0)),
			cat(str(wasm.ExportInfo), []byte{0x00}, uleb(0)),
		),
		section(10, body(i64Const(packed(dataAt, len(data))))),
		section(11, cat([]byte{0x00}, i32Const(dataAt), []byte{0x0b}, str(data))),
	)
}

// loopingStart is a complete component whose _initialize never returns.
func loopingStart() []byte {
	loop := []byte{0x03, 0x40, 0x0c, 0x00, 0x0b}
	return cat(
		[]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00},
		section(1, typeAlloc, typeExecute, []byte{0x60, 0x00, 0x00}),
		section(3, uleb(0), uleb(1), uleb(2)),
		section(5, []byte{0x00, 0x01}),
		section(7,
			cat(str("memory"), []byte{0x02}, uleb(0)),
			cat(str("nodegraph_alloc"), []byte{0x00}, uleb(0)),
			cat(str("nodegraph_execute"), []byte{0x00}, uleb(1)),
			cat(str("_initialize"), []byte{0x00}, uleb(2)),
		),
		section(10, body(i32Const(allocAt)), body(i64Const(0)), body(loop)),
	)
}

const selfSpec = `{"id":"wasm.self","name":"Self","outputs":[{"name":"n","type":"u32"}],"capabilities":["network:example.com"]}`

func TestInspect_NoInfoExport(t *testing.T) {
	rt := wasm.New(registry.New())
	defer rt.Close(context.Background())

	mod := module(false, returnsData(okReply), []byte(okReply))
	if _, err := rt.Inspect(context.Background(), mod, host.DefaultConfig()); !errors.Is(err, wasm.ErrNoSelfDescription) {
		t.Errorf("expected ErrNoSelfDescription, got %v", err)
	}
	spec, err := rt.Inspector(host.DefaultConfig())(mod)
	if err != nil || spec != nil {
		t.Errorf("modules without a description must pass through, got %v, %v", spec, err)
	}
}

func TestInspect_ReadsSelfDescription(t *testing.T) {
	rt := wasm.New(registry.New())
	defer rt.Close(context.Background())

	spec, err := rt.Inspect(context.Background(), infoModule(selfSpec), host.DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.ID != "wasm.self" || spec.Runtime != registry.RuntimeWasm {
		t.Errorf("unexpected spec %+v", spec)
	}
	if len(spec.Outputs) != 1 || spec.Outputs[0].Type != value.KindU32 {
		t.Errorf("unexpected outputs %+v", spec.Outputs)
	}
}

func TestInspect_LoopingStartIsBounded(t *testing.T) {
	rt := wasm.New(registry.New())
	defer rt.Close(context.Background())
	cfg := host.DefaultConfig()
	cfg.CallTimeout = 100 * time.Millisecond

	start := time.Now()
	_, err := rt.Inspect(context.Background(), loopingStart(), cfg)
	if nerrors.CategoryOf(err) != nerrors.CategoryTimeout {
		t.Fatalf("expected %s, got %v", nerrors.CategoryTimeout, err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("inspect took %v", elapsed)
	}
}

func TestWasm_LoopingStartTimesOut(t *testing.T) {
	cfg := host.DefaultConfig()
	cfg.CallTimeout = 100 * time.Millisecond
	f := newFixture(t, cfg)
	f.add(t, "wasm.loop", loopingStart())

	start := time.Now()
	_, err := f.h.Instantiate(context.Background(), "n1", "wasm.loop")
	if nerrors.CategoryOf(err) != nerrors.CategoryTimeout {
		t.Fatalf("expected %s, got %v", nerrors.CategoryTimeout, err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("instantiate took %v", elapsed)
	}
	if f.h.InUse() != 0 {
		t.Errorf("expected the slot back, %d in use", f.h.InUse())
	}
}

func TestLoadDir_ChecksManifestAgainstModule(t *testing.T) {
	rt := wasm.New(registry.New())
	defer rt.Close(context.Background())
	mod := infoModule(selfSpec)

	tests := []struct {
		name    string
		output  string
		wantErr bool
	}{
		{"agrees", "u32", false},
		{"output type differs", "string", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, "self.wasm"), mod, 0o644); err != nil {
				t.Fatal(err)
			}
			manifest := "id: wasm.self\nname: Self\noutputs:\n  - name: n\n    type: " + tc.output +
				"\ncapabilities:\n  - network:example.com\nmodule: self.wasm\n"
			if err := os.WriteFile(filepath.Join(dir, "self"+registry.ManifestSuffix), []byte(manifest), 0o644); err != nil {
				t.Fatal(err)
			}

			_, err := registry.LoadDir(registry.New(), dir, registry.WithInspector(rt.Inspector(host.DefaultConfig())))
			if tc.wantErr && err == nil {
				t.Fatal("expected the mismatch to be rejected")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
