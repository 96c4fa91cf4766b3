// Package wasm is the sandboxed host.Runtime backed by wazero.
//
// A component module exports its linear memory as "memory", an allocator
// nodegraph_alloc(size i32) i32 and the entry point
// nodegraph_execute(ptr i32, len i32) i64. The host writes a JSON request
// {"inputs":[...]} into memory obtained from the allocator; execute returns
// the location of a JSON reply {"outputs":[...]} or {"error":{...}} packed
// as ptr<<32 | len. Values use the tagged form of package value.
//
// Privileged operations are imported from the "nodegraph" host module:
//
//	http_get(url_ptr i32, url_len i32) i64
//	log(ptr i32, len i32)
//
// http_get replies with {"status":..,"url":..,"body":<base64>} or
// {"error":{...}}. A module may export nodegraph_info() i64 describing its
// own ComponentSpec; Runtime.Inspect reads it under the same limits as a
// call, and manifest loading uses it to reject a manifest that does not
// match its module.
//
// Each instance runs in its own wazero runtime with the configured memory
// page limit, so no state is shared between nodes. A call cut off by the
// host timeout closes the module; the host then discards the instance.
package wasm
