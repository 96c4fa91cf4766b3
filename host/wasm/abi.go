package wasm

import (
	"github.com/kbukum/nodegraph/value"
)

// Guest export and host import names.
const (
	ExportMemory  = "memory"
	ExportAlloc   = "nodegraph_alloc"
	ExportExecute = "nodegraph_execute"
	ExportInfo    = "nodegraph_info"

	HostModule   = "nodegraph"
	HostHTTPGet  = "http_get"
	HostLog      = "log"
	guestName    = "component"
	initFunction = "_initialize"
)

// request is the payload written into guest memory before execute.
type request struct {
	Inputs value.Values `json:"inputs"`
}

// response is what execute returns: outputs or a business error.
type response struct {
	Outputs value.Values `json:"outputs"`
	Error   *guestError  `json:"error,omitempty"`
}

type guestError struct {
	Message string `json:"message"`
	Input   string `json:"input,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

// fetchResult is the http_get reply. Body is base64 in JSON.
type fetchResult struct {
	Status int         `json:"status,omitempty"`
	URL    string      `json:"url,omitempty"`
	Body   []byte      `json:"body,omitempty"`
	Error  *guestError `json:"error,omitempty"`
}

func pack(ptr, size uint32) uint64 {
	return uint64(ptr)<<32 | uint64(size)
}

func unpack(v uint64) (ptr, size uint32) {
	return uint32(v >> 32), uint32(v)
}
