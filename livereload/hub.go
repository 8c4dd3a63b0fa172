// Package livereload pushes build notifications to browsers over
// websockets so pages can refresh their stylesheet without a reload.
package livereload

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Moshyfawn/tailwind-serve/jit"
	"github.com/Moshyfawn/tailwind-serve/proto"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 8
)

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub tracks connected clients and fans out reload events.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *log.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a hub. Origins are not checked: the endpoint only exists
// in development.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the connection and holds it until the client leaves
// or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("livereload: upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)

	// Clients never send anything meaningful; reading detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.remove(c)
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// Broadcast sends ev to every client. Clients that cannot keep up are
// dropped rather than blocking the caller.
func (h *Hub) Broadcast(ev proto.ReloadEvent) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.logger.Printf("livereload: encoding event: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			delete(h.clients, c)
			c.close()
		}
	}
}

// Notify converts a build attempt into a reload event and broadcasts it.
// Startup builds happen before any client can connect and are skipped.
func (h *Hub) Notify(ev jit.Event) {
	if ev.Trigger == jit.TriggerStartup {
		return
	}
	h.Broadcast(EventFor(ev))
}

// EventFor returns the reload event describing a build attempt.
func EventFor(ev jit.Event) proto.ReloadEvent {
	if ev.Err != nil {
		return proto.ReloadEvent{Type: proto.ReloadError, BuildID: ev.ID, Error: ev.Err.Error()}
	}
	return proto.ReloadEvent{Type: proto.ReloadCSS, BuildID: ev.ID, Digest: ev.Artifact.Digest}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}
