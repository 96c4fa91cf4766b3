package server

import (
	"context"

	"github.com/kbukum/nodegraph/component"
)

const componentName = "http-server"

var _ component.Component = (*Component)(nil)

// Component adapts Server to the application lifecycle.
type Component struct {
	server *Server
}

// NewComponent returns a lifecycle component backed by s.
func NewComponent(s *Server) *Component {
	return &Component{server: s}
}

// Name returns the component name used for registration.
func (sc *Component) Name() string { return componentName }

// Start binds and serves.
func (sc *Component) Start(ctx context.Context) error {
	return sc.server.Start(ctx)
}

// Stop shuts the server down gracefully.
func (sc *Component) Stop(ctx context.Context) error {
	return sc.server.Stop(ctx)
}

// Health reports whether the listener is bound.
func (sc *Component) Health(context.Context) component.Health {
	if sc.server.running() {
		return component.Health{
			Name:    componentName,
			Status:  component.StatusHealthy,
			Details: map[string]string{"addr": sc.server.Addr()},
		}
	}
	return component.Health{
		Name:    componentName,
		Status:  component.StatusUnhealthy,
		Message: "HTTP server not started",
	}
}
