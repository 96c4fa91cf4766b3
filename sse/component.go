package sse

import (
	"context"
	"fmt"
	"sync"

	"github.com/kbukum/nodegraph/component"
)

var _ component.Component = (*Component)(nil)

// Component runs a Hub under the application lifecycle.
type Component struct {
	hub *Hub
	wg  sync.WaitGroup
}

// NewComponent wraps hub.
func NewComponent(hub *Hub) *Component {
	return &Component{hub: hub}
}

// Name returns the component name.
func (c *Component) Name() string { return "events" }

// Start launches the hub's event loop.
func (c *Component) Start(context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.hub.Run()
	}()
	return nil
}

// Stop closes every stream and waits for the event loop to return.
func (c *Component) Stop(context.Context) error {
	c.hub.Stop()
	c.wg.Wait()
	return nil
}

// Health reports the connected clients and dropped events.
func (c *Component) Health(context.Context) component.Health {
	return component.Health{
		Name:    c.Name(),
		Status:  component.StatusHealthy,
		Message: fmt.Sprintf("%d clients connected", c.hub.ClientCount()),
		Details: map[string]string{"dropped": fmt.Sprint(c.hub.Dropped())},
	}
}
