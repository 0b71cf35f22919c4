// Package server exposes the downstream websocket surface: a client registry
// that pushes a full snapshot on join, and a debounced broadcaster that fans
// the snapshot out to every connected client on each state change.
package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"marketpulse/internal/state"
)

const (
	defaultPingInterval = 25 * time.Second
	defaultPongTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	closeTimeout        = 1 * time.Second
	maxInboundFrame     = 2 << 20 // 2 MiB
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is a single downstream peer. There is no outbound queue: sends go
// straight to the socket under a per-client mutex, and a failed send drops
// the client.
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex
	done chan struct{}
}

// Send writes one text frame with a deadline. Safe for concurrent use.
func (c *Client) Send(payload []byte, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeTimeout))
	c.conn.Close()
}

// Hub is the downstream client registry. Clients receive the identical full
// snapshot; inbound frames are read and discarded.
type Hub struct {
	store *state.Store

	mu      sync.Mutex
	clients map[*Client]bool

	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration

	// Metrics hooks (optional, set externally)
	OnClientCount func(n int)
}

// NewHub creates a Hub over the given store.
func NewHub(store *state.Store) *Hub {
	return &Hub{
		store:        store,
		clients:      make(map[*Client]bool),
		pingInterval: defaultPingInterval,
		pongTimeout:  defaultPongTimeout,
		writeTimeout: defaultWriteTimeout,
	}
}

// HandleWS upgrades the connection, registers the client, sends the current
// snapshot, and then discards whatever the client sends until it goes away.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[hub] upgrade failed: %v", err)
		return
	}

	client := &Client{conn: conn, done: make(chan struct{})}

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.notifyCount(count)
	log.Printf("[hub] client connected (%d total)", count)

	// Initial snapshot: the join contract is "one snapshot immediately".
	if payload, err := h.snapshotJSON(); err == nil {
		if err := client.Send(payload, h.writeTimeout); err != nil {
			h.Remove(client)
			return
		}
	}

	go h.pingLoop(client)
	h.readPump(client)
}

// readPump discards inbound frames until the connection dies. There is no
// client protocol.
func (h *Hub) readPump(c *Client) {
	defer h.Remove(c)

	c.conn.SetReadLimit(maxInboundFrame)
	c.conn.SetReadDeadline(time.Now().Add(h.pingInterval + h.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(h.pingInterval + h.pongTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) pingLoop(c *Client) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				h.Remove(c)
				return
			}
		}
	}
}

// Remove drops a client from the registry and closes its socket. Idempotent.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()

	c.close()
	h.notifyCount(count)
	log.Printf("[hub] client disconnected (%d total)", count)
}

// Clients returns a consistent copy of the client set.
func (h *Hub) Clients() []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) snapshotJSON() ([]byte, error) {
	snap := h.store.BuildSnapshot()
	return json.Marshal(snap)
}

func (h *Hub) notifyCount(n int) {
	if h.OnClientCount != nil {
		h.OnClientCount(n)
	}
}
