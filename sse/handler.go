package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kbukum/nodegraph/logger"
)

// KeepAlive is the interval between comment frames on an idle stream.
var KeepAlive = 15 * time.Second

// ServeSSE streams the events matching filter to one client until the
// request is cancelled or the hub stops. When initial is non-nil, the
// matching events it returns are written right after the connected frame;
// it is called after the client is registered so nothing falls between.
func ServeSSE(hub *Hub, w http.ResponseWriter, r *http.Request, clientID, filter string, initial func() []Event) {
	log := hub.log.WithFields(logger.Fields("client_id", clientID))

	flusher, ok := w.(http.Flusher)
	if !ok {
		log.Error("streaming not supported")
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// The stream outlives the server's write timeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		log.Debug("write deadline not cleared", logger.Fields(logger.FieldError, err.Error()))
	}

	client := NewClient(clientID, filter)
	if !hub.Register(client) {
		http.Error(w, "event stream closed", http.StatusServiceUnavailable)
		return
	}
	defer hub.Unregister(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	hello, _ := json.Marshal(ConnectedEvent{ClientID: clientID, Filter: client.Filter()})
	writeFrame(w, EventConnected, hello)
	if initial != nil {
		for _, e := range initial() {
			if client.Matches(e.NodeID) {
				writeFrame(w, e.Name, e.Data)
			}
		}
	}
	flusher.Flush()
	log.Debug("client connected", logger.Fields("remote_addr", r.RemoteAddr))

	keepAlive := time.NewTicker(KeepAlive)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			log.Debug("client disconnected")
			return

		case e, ok := <-client.Events():
			if !ok {
				return
			}
			writeFrame(w, e.Name, e.Data)
			flusher.Flush()

		case <-keepAlive.C:
			_, _ = fmt.Fprintf(w, ": keepalive %d\n\n", time.Now().Unix())
			flusher.Flush()
		}
	}
}

func writeFrame(w io.Writer, name string, data []byte) {
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}
