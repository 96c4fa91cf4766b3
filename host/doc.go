// Package host is the boundary between nodegraph and untrusted component
// code.
//
// A Host resolves component ids through a registry.Catalog and creates one
// Handle per active node. Each Handle exclusively owns one sandboxed
// Instance produced by a Runtime (WebAssembly via host/wasm, in-process Go
// via host/native). Every Call is bounded by a timeout and a response
// ceiling; panics and sandbox faults are converted to ComponentTrap errors
// and the faulted instance is replaced on the next call.
//
// Privileged operations reach the outside world only through HostAPI. The
// network fetch re-checks the calling node's declared capabilities on every
// request and on every redirect hop.
//
//	h := host.New(reg, host.DefaultConfig(),
//	    host.WithRuntime(registry.RuntimeNative, nativeRT),
//	    host.WithRuntime(registry.RuntimeWasm, wasmRT),
//	)
//	hd, err := h.Instantiate(ctx, nodeID, "net.fetch")
//	defer hd.Close(ctx)
//	out, err := hd.Call(ctx, []value.Value{value.String("https://api.example.com")})
package host
