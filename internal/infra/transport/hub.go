package transport

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/syncroom/internal/infra/clock"
)

const (
	hubWriteWait      = 5 * time.Second
	hubSendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub is the relay server behind the broadcast channel. It assigns
// connection ids, stamps every relayed envelope with the server reference
// clock and fans it out to all connected peers, including the sender.
type Hub struct {
	mu      sync.Mutex
	clk     clock.Clock
	clients map[string]*hubClient
}

type hubClient struct {
	id   string
	conn *websocket.Conn
	send chan frame
}

// NewHub creates a relay hub using the given reference clock.
func NewHub(clk clock.Clock) *Hub {
	return &Hub{
		clk:     clk,
		clients: make(map[string]*hubClient),
	}
}

// Handler returns the websocket upgrade handler.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			zlog.Warn().Msgf("hub: upgrade failed: %v", err)
			return
		}

		c := &hubClient{
			id:   uuid.New().String(),
			conn: conn,
			send: make(chan frame, hubSendBufferSize),
		}

		h.register(c)
		go c.writePump()
		go h.readPump(c)
	}
}

// ClientCount returns the number of connected peers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) register(c *hubClient) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	c.send <- frame{Control: controlHello, ClientID: c.id}
	zlog.Info().Msgf("hub: peer %s connected", c.id)
}

func (h *Hub) unregister(c *hubClient) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	if ok {
		delete(h.clients, c.id)
		close(c.send)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	_ = c.conn.Close()
	zlog.Info().Msgf("hub: peer %s disconnected", c.id)
	h.broadcast(frame{Control: controlLeft, ClientID: c.id})
}

// readPump relays frames from one client to the whole group.
func (h *Hub) readPump(c *hubClient) {
	defer h.unregister(c)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			zlog.Warn().Msgf("hub: dropped unreadable frame from %s: %v", c.id, err)
			continue
		}
		if f.Control != "" || f.Name == "" {
			continue
		}

		// The hub is the authority on sender identity and reference time.
		f.ClientID = c.id
		f.Timestamp = h.clk.NowMillis()
		h.broadcast(f)
	}
}

// broadcast fans a frame out to all clients. Slow clients are dropped
// rather than allowed to stall the group.
func (h *Hub) broadcast(f frame) {
	h.mu.Lock()
	var stalled []*hubClient
	for _, c := range h.clients {
		select {
		case c.send <- f:
		default:
			stalled = append(stalled, c)
		}
	}
	h.mu.Unlock()

	for _, c := range stalled {
		zlog.Warn().Msgf("hub: peer %s stalled, dropping", c.id)
		h.unregister(c)
	}
}

func (c *hubClient) writePump() {
	for f := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
		if err := c.conn.WriteJSON(f); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
