package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

const (
	sendBuffer   = 32
	writeTimeout = 5 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	commandWait  = 5 * time.Second
)

// Messages sent by viewers.
const (
	MsgConfirm         = "confirm"
	MsgReset           = "reset"
	MsgPlaybackBlocked = "playback_blocked"
	MsgEnable          = "enable"
	MsgDisable         = "disable"
)

// clientMessage is a command from a viewer page.
type clientMessage struct {
	Type  string `json:"type"`
	Label string `json:"label,omitempty"`
}

type snapshotMessage struct {
	Type     string       `json:"type"`
	Snapshot app.Snapshot `json:"snapshot"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans events and player commands out to connected viewers over
// WebSocket and forwards viewer commands to the controller. It implements
// player.Publisher.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
	ctl     Controller
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]bool)}
}

// SetController sets the target of viewer commands.
func (h *Hub) SetController(ctl Controller) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ctl = ctl
}

func (h *Hub) controller() Controller {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ctl
}

// Clients returns the number of connected viewers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends msg as JSON to every viewer and returns how many accepted it.
// A viewer whose buffer is full misses the message.
func (h *Hub) Publish(msg any) int {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error("failed to encode message", "error", err)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for c := range h.clients {
		select {
		case c.send <- data:
			n++
		default:
			log.Debug("viewer too slow, message dropped")
		}
	}
	return n
}

// Forward publishes an App event. It is meant to be registered with
// App.OnEvent.
func (h *Hub) Forward(ev app.Event) {
	h.Publish(ev)
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade error", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	if ctl := h.controller(); ctl != nil {
		if data, err := json.Marshal(snapshotMessage{Type: "snapshot", Snapshot: ctl.Snapshot()}); err == nil {
			c.send <- data
		}
	}

	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	log.Debug("viewer connected", "remote", r.RemoteAddr, "viewers", h.Clients())

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// readPump reads viewer commands until the connection closes.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("viewer read error", "error", err)
			}
			return
		}
		if err := h.handle(msg); err != nil {
			h.reply(c, errorMessage{Type: "error", Error: err.Error()})
		}
	}
}

// reply queues msg for a single viewer.
func (h *Hub) reply(c *client, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.clients[c] {
		select {
		case c.send <- data:
		default:
		}
	}
}

func (h *Hub) handle(msg clientMessage) error {
	ctl := h.controller()
	if ctl == nil {
		return app.ErrNotRunning
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandWait)
	defer cancel()

	switch msg.Type {
	case MsgConfirm:
		_, err := ctl.Confirm(ctx)
		return err
	case MsgReset:
		return ctl.Reset(ctx)
	case MsgPlaybackBlocked:
		return ctl.PlaybackBlocked(ctx, msg.Label)
	case MsgEnable:
		ctl.SetEnabled(true)
	case MsgDisable:
		ctl.SetEnabled(false)
	default:
		log.Debug("unknown viewer message", "type", msg.Type)
	}
	return nil
}

// writePump drains the client's queue onto the connection.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every viewer.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
