package sse

import (
	"errors"
	"path"
	"sync"
	"sync/atomic"

	"github.com/kbukum/nodegraph/logger"
)

const (
	clientBuffer  = 64
	publishBuffer = 256
)

// Client is one connected event stream. Its filter is a path.Match
// pattern over node ids; "*" watches every node.
type Client struct {
	id      string
	filter  string
	events  chan Event
	dropped atomic.Int64
}

// NewClient creates a client. An empty filter watches every node.
func NewClient(id, filter string) *Client {
	if filter == "" {
		filter = "*"
	}
	return &Client{
		id:     id,
		filter: filter,
		events: make(chan Event, clientBuffer),
	}
}

// ValidFilter reports whether pattern is a well-formed node filter.
func ValidFilter(pattern string) error {
	if _, err := path.Match(pattern, ""); err != nil {
		return errors.New("sse: malformed node filter " + pattern)
	}
	return nil
}

// ID returns the client's unique identifier.
func (c *Client) ID() string { return c.id }

// Filter returns the node filter.
func (c *Client) Filter() string { return c.filter }

// Events returns the channel the client reads frames from. It is closed
// when the client is unregistered or the hub stops.
func (c *Client) Events() <-chan Event { return c.events }

// Dropped returns how many events the client missed because it was slow.
func (c *Client) Dropped() int64 { return c.dropped.Load() }

// Matches reports whether the client watches nodeID.
func (c *Client) Matches(nodeID string) bool {
	ok, err := path.Match(c.filter, nodeID)
	return err == nil && ok
}

// Send queues e without blocking. It returns false when the client's
// buffer is full and the event was dropped.
func (c *Client) Send(e Event) bool {
	select {
	case c.events <- e:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

func (c *Client) close() {
	close(c.events)
}

// Hub fans published events out to matching clients. Registration,
// removal and delivery all happen on the Run goroutine.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan Event
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	dropped    atomic.Int64
	log        *logger.Logger
}

// NewHub creates a hub. Call Run to start delivering.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Event, publishBuffer),
		done:       make(chan struct{}),
		log:        logger.WithComponent("sse"),
	}
}

// Run is the hub's event loop. It returns after Stop, closing every
// client.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			if old, ok := h.clients[c.id]; ok {
				old.close()
			}
			h.clients[c.id] = c
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client registered", logger.Fields("client_id", c.id, "filter", c.filter, "total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if cur, ok := h.clients[c.id]; ok && cur == c {
				delete(h.clients, c.id)
				c.close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client unregistered", logger.Fields("client_id", c.id, "total_clients", n))

		case e := <-h.broadcast:
			h.deliver(e)
		}
	}
}

// Stop shuts the hub down. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.close()
		delete(h.clients, id)
	}
}

// Register adds c. It returns false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes c and closes its channel.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Publish queues e for delivery without blocking. When the hub is behind,
// the event is dropped and counted.
func (h *Hub) Publish(e Event) {
	select {
	case <-h.done:
		return
	default:
	}
	select {
	case h.broadcast <- e:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hub) deliver(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.Matches(e.NodeID) && !c.Send(e) {
			h.log.Debug("client too slow, event dropped", logger.Fields("client_id", c.id, logger.FieldNodeID, e.NodeID))
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many published events the hub itself discarded.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
