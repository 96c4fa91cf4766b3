package host

import (
	"context"

	"github.com/kbukum/nodegraph/registry"
	"github.com/kbukum/nodegraph/value"
)

// Runtime creates isolated component instances of one runtime kind.
type Runtime interface {
	// Instantiate creates one instance for the node described by env. The
	// instance must honour env.Config limits and reach privileged operations
	// only through env.API.
	Instantiate(ctx context.Context, env Env) (Instance, error)
}

// RuntimeCloser is implemented by runtimes holding shared resources such
// as a compilation cache.
type RuntimeCloser interface {
	Close(ctx context.Context) error
}

// Instance is a single sandboxed instantiation, owned by exactly one Handle.
type Instance interface {
	// Execute runs the component once. Inputs are already validated and
	// coerced to the declared port kinds; absent optional inputs are nil.
	Execute(ctx context.Context, inputs []value.Value) ([]value.Value, error)

	// Close releases everything the instance holds.
	Close(ctx context.Context) error
}

// Env is what a runtime receives when asked for a new instance.
type Env struct {
	NodeID string
	Spec   *registry.ComponentSpec
	API    HostAPI
	Config Config
}

// HostAPI is the privileged surface an instance may call back into. Every
// call is checked against the calling node's declared capabilities.
type HostAPI interface {
	// Fetch performs an HTTP GET on behalf of the component.
	Fetch(ctx context.Context, rawURL string) (*FetchResponse, error)

	// Log forwards a component log line to the host logger.
	Log(ctx context.Context, level, msg string)
}

// FetchResponse is the result of a permitted fetch.
type FetchResponse struct {
	// URL is the final URL after redirects.
	URL    string `json:"url"`
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}
