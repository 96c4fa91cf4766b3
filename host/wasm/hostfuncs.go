package wasm

import (
	"context"
	"encoding/json"

	"github.com/tetratelabs/wazero/api"

	nerrors "github.com/kbukum/nodegraph/errors"
)

// exportHost instantiates the "nodegraph" host module the guest imports
// privileged operations from. The functions close over this instance's
// HostAPI, so every check runs against the calling node's capabilities.
func (i *instance) exportHost(ctx context.Context) error {
	_, err := i.wrt.NewHostModuleBuilder(HostModule).
		NewFunctionBuilder().WithFunc(i.httpGet).Export(HostHTTPGet).
		NewFunctionBuilder().WithFunc(i.logLine).Export(HostLog).
		Instantiate(ctx)
	return err
}

// httpGet reads a URL from guest memory, fetches it through the HostAPI and
// writes the JSON reply into guest memory. Zero means the reply could not
// be delivered.
func (i *instance) httpGet(ctx context.Context, m api.Module, urlPtr, urlLen uint32) uint64 {
	raw, ok := m.Memory().Read(urlPtr, urlLen)
	if !ok {
		return 0
	}
	var result fetchResult
	resp, err := i.api.Fetch(ctx, string(raw))
	if err != nil {
		ge := &guestError{Message: err.Error()}
		if execErr, ok := nerrors.As(err); ok {
			ge.Message = execErr.Message
			ge.Hint = execErr.Hint
		}
		result.Error = ge
	} else {
		result.Status = resp.Status
		result.URL = resp.URL
		result.Body = resp.Body
	}

	data, err := json.Marshal(result)
	if err != nil {
		return 0
	}
	ptr, err := i.write(ctx, m, data)
	if err != nil {
		return 0
	}
	return pack(ptr, uint32(len(data)))
}

func (i *instance) logLine(ctx context.Context, m api.Module, ptr, size uint32) {
	msg, ok := m.Memory().Read(ptr, size)
	if !ok {
		return
	}
	i.api.Log(ctx, "info", string(msg))
}
