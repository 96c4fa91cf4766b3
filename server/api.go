package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kbukum/nodegraph/continuous"
	nerrors "github.com/kbukum/nodegraph/errors"
	"github.com/kbukum/nodegraph/executor"
	"github.com/kbukum/nodegraph/graph"
	"github.com/kbukum/nodegraph/logger"
	"github.com/kbukum/nodegraph/registry"
	"github.com/kbukum/nodegraph/sse"
	"github.com/kbukum/nodegraph/value"
)

// Components is the registry view served by the API.
type Components interface {
	registry.Catalog
	List() []*registry.ComponentSpec
}

// API serves the control operations of one editing session: the loaded
// graph, batch runs and continuous node control.
type API struct {
	components Components
	exec       *executor.Executor
	manager    *continuous.Manager
	events     *sse.Hub
	log        *logger.Logger

	mu    sync.RWMutex
	graph *graph.Graph
}

// APIOption configures the API.
type APIOption func(*API)

// WithEvents serves the snapshot stream of hub at /api/v1/events.
func WithEvents(hub *sse.Hub) APIOption {
	return func(a *API) { a.events = hub }
}

// NewAPI creates the API. The executor should read continuous outputs from
// manager.
func NewAPI(components Components, exec *executor.Executor, manager *continuous.Manager, log *logger.Logger, opts ...APIOption) *API {
	a := &API{
		components: components,
		exec:       exec,
		manager:    manager,
		log:        log.WithComponent("api"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Register mounts the API routes under /api/v1.
func (a *API) Register(r gin.IRouter) {
	v1 := r.Group("/api/v1")

	v1.GET("/components", a.listComponents)
	v1.GET("/components/:id", a.getComponent)

	v1.GET("/graph", a.getGraph)
	v1.PUT("/graph", a.putGraph)
	v1.POST("/graph/run", a.runGraph)

	v1.GET("/nodes", a.listNodes)
	v1.GET("/nodes/:id", a.getNode)
	v1.POST("/nodes/:id/start", a.startNode)
	v1.POST("/nodes/:id/stop", a.stopNode)
	v1.GET("/nodes/:id/poll", a.pollNode)

	if a.events != nil {
		v1.GET("/events", a.streamEvents)
	}
}

// Load validates g, resets every continuous node to Idle and makes g the
// session graph. A session never resumes the tasks of a previous graph.
func (a *API) Load(ctx context.Context, g *graph.Graph) error {
	if err := g.Validate(a.components); err != nil {
		return err
	}
	if err := a.manager.Reset(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	a.graph = g
	a.mu.Unlock()
	a.log.Info("graph loaded", logger.Fields("nodes", len(g.Nodes), "edges", len(g.Edges)))
	return nil
}

func (a *API) current() *graph.Graph {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.graph
}

func (a *API) listComponents(c *gin.Context) {
	RespondOK(c, a.components.List())
}

func (a *API) getComponent(c *gin.Context) {
	spec, err := a.components.Lookup(c.Param("id"))
	if err != nil {
		RespondWithError(c, err)
		return
	}
	RespondOK(c, spec)
}

func (a *API) getGraph(c *gin.Context) {
	g := a.current()
	if g == nil {
		RespondWithError(c, errNoGraph())
		return
	}
	RespondOK(c, g)
}

func (a *API) putGraph(c *gin.Context) {
	g, err := readGraph(c)
	if err != nil {
		RespondWithError(c, err)
		return
	}
	if err := a.Load(c.Request.Context(), g); err != nil {
		RespondWithError(c, err)
		return
	}
	RespondOK(c, g)
}

// runGraph runs the graph in the body, or the loaded graph when the body is
// empty. Node failures are part of a 200 result; only a graph that cannot
// run at all is an error response.
func (a *API) runGraph(c *gin.Context) {
	g, err := readGraph(c)
	if err != nil {
		RespondWithError(c, err)
		return
	}
	if g == nil {
		if g = a.current(); g == nil {
			RespondWithError(c, errNoGraph())
			return
		}
	}
	result, err := a.exec.Run(c.Request.Context(), g)
	if err != nil {
		RespondWithError(c, err)
		return
	}
	RespondOK(c, result)
}

func (a *API) listNodes(c *gin.Context) {
	RespondOK(c, a.manager.Snapshots())
}

func (a *API) getNode(c *gin.Context) {
	RespondOK(c, a.manager.Snapshot(c.Param("id")))
}

type startRequest struct {
	ComponentID string       `json:"component_id"`
	Inputs      value.Values `json:"inputs"`
	Interval    string       `json:"interval"`
}

func (a *API) startNode(c *gin.Context) {
	nodeID := c.Param("id")
	var req startRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			RespondWithError(c, bindError(err))
			return
		}
	}

	componentID, err := a.resolveContinuous(nodeID, req.ComponentID)
	if err != nil {
		RespondWithError(c, err)
		return
	}
	opts := []continuous.StartOption{continuous.WithInputs(req.Inputs...)}
	if req.Interval != "" {
		d, err := time.ParseDuration(req.Interval)
		if err != nil || d < 0 {
			RespondWithError(c, nerrors.Newf(nerrors.CategoryValidation, "%q is not a valid interval.", req.Interval).
				WithInput("interval").WithHint("Use a Go duration such as 250ms or 2s."))
			return
		}
		opts = append(opts, continuous.WithInterval(d))
	}

	if err := a.manager.Start(nodeID, componentID, opts...); err != nil {
		RespondWithError(c, err)
		return
	}
	RespondAccepted(c, a.manager.Snapshot(nodeID))
}

// resolveContinuous picks the component of a node to start: the one named in
// the request, otherwise the one of the node in the loaded graph, which must
// be continuous.
func (a *API) resolveContinuous(nodeID, requested string) (string, error) {
	if g := a.current(); g != nil {
		if n, ok := g.Node(nodeID); ok {
			if !n.Continuous {
				return "", nerrors.Newf(nerrors.CategoryValidation, "Node %s is not continuous.", nodeID).
					WithHint("Mark the node continuous in the graph, or run the graph instead.")
			}
			if requested != "" && requested != n.ComponentID {
				return "", nerrors.Newf(nerrors.CategoryValidation,
					"Node %s runs %s, not %s.", nodeID, n.ComponentID, requested).WithInput("component_id")
			}
			return n.ComponentID, nil
		}
	}
	if requested == "" {
		return "", nerrors.Newf(nerrors.CategoryValidation, "Node %s is not in the loaded graph.", nodeID).
			WithInput("component_id").WithHint("Name the component to run in component_id.")
	}
	return requested, nil
}

func (a *API) stopNode(c *gin.Context) {
	nodeID := c.Param("id")
	a.manager.Stop(nodeID)
	RespondAccepted(c, a.manager.Snapshot(nodeID))
}

func (a *API) pollNode(c *gin.Context) {
	r, ok := a.manager.Poll(c.Param("id"))
	if !ok {
		RespondNoContent(c)
		return
	}
	RespondOK(c, r)
}

// readGraph parses a YAML or JSON graph document from the body. An empty
// body yields nil.
func readGraph(c *gin.Context) (*graph.Graph, error) {
	data, err := c.GetRawData()
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	g, err := graph.Parse(data)
	if err != nil {
		if _, ok := nerrors.As(err); ok {
			return nil, err
		}
		return nil, nerrors.New(nerrors.CategoryValidation, err.Error()).
			WithHint("Send a graph document in YAML or JSON.").WithCause(err)
	}
	return g, nil
}

func errNoGraph() *nerrors.ExecutionError {
	return nerrors.Structural("No graph is loaded.").
		WithHint("PUT a graph to /api/v1/graph or send one in the request body.")
}

func bindError(err error) error {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return err
	}
	return nerrors.New(nerrors.CategoryValidation, "The request body is not valid JSON.").WithCause(err)
}

// streamEvents streams snapshot changes of the nodes matching ?node=, all
// nodes by default. The current snapshots are sent first.
func (a *API) streamEvents(c *gin.Context) {
	filter := c.DefaultQuery("node", "*")
	if err := sse.ValidFilter(filter); err != nil {
		RespondWithError(c, nerrors.New(nerrors.CategoryValidation, err.Error()).
			WithHint("The node filter uses shell glob syntax, e.g. sensor-*."))
		return
	}
	sse.ServeSSE(a.events, c.Writer, c.Request, uuid.NewString(), filter, func() []sse.Event {
		return sse.SnapshotEvents(a.manager.Snapshots())
	})
}
