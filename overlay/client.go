package overlay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second

	// sendBuffer bounds the per-client outbound queue; a client that can't
	// keep up drops payloads instead of blocking dispatch to others.
	sendBuffer = 8
)

// Client is one connected display surface: a stable identity, an
// independent outbound queue, and a finished flag (true = idle).
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.Mutex
	finished bool
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:       uuid.NewString(),
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		finished: true,
	}
}

// push queues a payload and marks the client unfinished. Called under the
// hub lock during dispatch.
func (c *Client) push(raw []byte) {
	c.mu.Lock()
	c.finished = false
	c.mu.Unlock()
	select {
	case c.send <- raw:
	default:
		slog.Warn("overlay client queue full, payload dropped", slog.String("client", c.id), slog.String("component", "overlay"))
	}
}

func (c *Client) isFinished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}

func (c *Client) setFinished(v bool) {
	c.mu.Lock()
	c.finished = v
	c.mu.Unlock()
}

// writePump drains the client queue onto the websocket.
func (c *Client) writePump() {
	for raw := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			slog.Warn("overlay client write error", slog.String("client", c.id), slog.Any("err", err), slog.String("component", "overlay"))
			// closing the conn unblocks readPump, which owns removal
			_ = c.conn.Close()
			return
		}
	}
}

// readPump consumes inbound frames until the transport errors; any error
// removes the client from the registry and re-runs the finished check so a
// departed client can never stall the barrier. Text frames other than the
// finished sentinel are ignored.
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		close(c.send)
		_ = c.conn.Close()
	}()
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		if string(data) == finishedSentinel {
			c.setFinished(true)
			c.hub.checkFinished()
		}
	}
}
