package sse

import (
	"encoding/json"

	"github.com/kbukum/nodegraph/continuous"
	"github.com/kbukum/nodegraph/logger"
)

// Event names written on the "event:" line.
const (
	EventConnected = "connected"
	EventSnapshot  = "snapshot"
)

// ConnectedEvent is sent once when a client connects.
type ConnectedEvent struct {
	ClientID string `json:"client_id"`
	Filter   string `json:"filter"`
}

// Event is one frame queued for a client.
type Event struct {
	Name   string
	NodeID string
	Data   []byte
}

// SnapshotEvents encodes snaps as snapshot events.
func SnapshotEvents(snaps []continuous.Snapshot) []Event {
	events := make([]Event, 0, len(snaps))
	for _, s := range snaps {
		if data, err := json.Marshal(s); err == nil {
			events = append(events, Event{Name: EventSnapshot, NodeID: s.NodeID, Data: data})
		}
	}
	return events
}

// ObserveSnapshot publishes s to the clients watching its node. It is a
// continuous.Observer and never blocks.
func (h *Hub) ObserveSnapshot(s continuous.Snapshot) {
	data, err := json.Marshal(s)
	if err != nil {
		h.log.Warn("snapshot not encodable", logger.Fields(logger.FieldNodeID, s.NodeID, logger.FieldError, err.Error()))
		return
	}
	h.Publish(Event{Name: EventSnapshot, NodeID: s.NodeID, Data: data})
}
