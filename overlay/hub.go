// Package overlay serves browser display surfaces over websockets and gates
// notification progress on every connected surface acknowledging completion.
package overlay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/onnwee/stream-herald/notify"
	"github.com/onnwee/stream-herald/telemetry"
)

// finishedSentinel is the text frame a client sends when playback completes.
const finishedSentinel = "FINISHED"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// overlays load from OBS browser sources and local pages; origin
	// enforcement would only break them
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub is the registry of connected display clients plus the completion
// barrier. The hub lock guards membership and the finished scan only;
// each client's own state is independently locked so one slow client never
// blocks another's loop.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*Client

	// outstanding is set while a dispatched notification awaits the barrier.
	// It gates onAllFinished: client churn while nothing is playing, or a
	// join in the window before payloads land, must never ack anything.
	outstanding bool

	onAllFinished func()
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

// SetFinishedFunc installs the callback fired whenever every registered
// client has finished (typically Queue.SignalFinished).
func (h *Hub) SetFinishedFunc(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onAllFinished = fn
}

// ClientCount reports current registry size.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dispatch clears every client's finished flag and pushes the notification's
// payload to each client queue. Reports false when the registry is empty: a
// notification with no one to show it to is vacuous, not deferred.
func (h *Hub) Dispatch(n notify.Notification) bool {
	raw, err := json.Marshal(FromNotification(n))
	if err != nil {
		slog.Error("payload marshal error", slog.Any("err", err), slog.String("component", "overlay"))
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return false
	}
	for _, c := range h.clients {
		c.push(raw)
	}
	h.outstanding = true
	return true
}

// ServeWS upgrades an HTTP request to a websocket display client and starts
// its pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", slog.Any("err", err), slog.String("component", "overlay"))
		return
	}
	c := newClient(h, conn)
	h.register(c)
	go c.writePump()
	go c.readPump()
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	count := len(h.clients)
	h.mu.Unlock()
	telemetry.SetOverlayClients(count)
	slog.Info("overlay client connected", slog.String("client", c.id), slog.String("remote", c.conn.RemoteAddr().String()), slog.Int("clients", count), slog.String("component", "overlay"))
	// membership changed; the finished condition must be recomputed
	h.checkFinished()
}

// remove drops a client from the registry and immediately re-runs the
// finished check: a departing client must never leave the barrier stalled.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	count := len(h.clients)
	h.mu.Unlock()
	telemetry.SetOverlayClients(count)
	slog.Info("overlay client disconnected", slog.String("client", c.id), slog.Int("clients", count), slog.String("component", "overlay"))
	h.checkFinished()
}

// checkFinished recomputes the global completion flag under the registry
// lock. The scan always runs over current membership; nothing cached from a
// previous scan is trusted. The callback fires at most once per dispatch:
// outstanding is cleared under the lock before it runs.
func (h *Hub) checkFinished() {
	h.mu.Lock()
	if !h.outstanding {
		h.mu.Unlock()
		return
	}
	done := true
	for _, c := range h.clients {
		if !c.isFinished() {
			done = false
			break
		}
	}
	var fn func()
	if done {
		h.outstanding = false
		fn = h.onAllFinished
	}
	h.mu.Unlock()

	if fn != nil {
		fn()
	}
}
