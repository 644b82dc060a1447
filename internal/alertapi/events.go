package alertapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/bodyguard/internal/ledger"
	"github.com/linnemanlabs/bodyguard/internal/triage"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	clientBuffer   = 64
	maxClientFrame = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Message is one frame sent to websocket clients.
type Message struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

type snapshot struct {
	State   triage.State    `json:"state"`
	Actions []ledger.Action `json:"actions"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte

	// guarded by hub.mu; events held until the snapshot is queued
	live    bool
	backlog [][]byte
}

// hub fans service events out to connected websocket clients. A client whose
// buffer is full is disconnected. Clients join in two steps: register starts
// collecting events, activate queues the snapshot ahead of them.
type hub struct {
	logger log.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

func newHub(logger log.Logger) *hub {
	return &hub{logger: logger, clients: make(map[*wsClient]struct{})}
}

func encode(typ string, data any) []byte {
	b, err := json.Marshal(Message{Type: typ, Data: data, Timestamp: time.Now().Unix()})
	if err != nil {
		return nil
	}
	return b
}

func (h *hub) publish(ev triage.StateEvent) {
	msg := encode(string(ev.Kind), ev)
	if msg == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.live {
			if len(c.backlog) < clientBuffer-1 {
				c.backlog = append(c.backlog, msg)
				continue
			}
			h.logger.Warn(context.Background(), "websocket client backlog full, disconnecting")
			delete(h.clients, c)
			close(c.send)
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.logger.Warn(context.Background(), "websocket client too slow, disconnecting")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *hub) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

// activate queues first followed by any events collected since register.
// Returns false if the client was dropped or the hub closed in between.
func (h *hub) activate(c *wsClient, first []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	c.send <- first
	for _, msg := range c.backlog {
		c.send <- msg
	}
	c.backlog = nil
	c.live = true
	return true
}

func (h *hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// handleEvents upgrades to a websocket, sends a snapshot of the state and the
// ledger, then streams every StateEvent. Events raised while the snapshot is
// read follow it, so a client may see an action both in the snapshot and in a
// ledger event; the action id identifies it.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		a.logger.Warn(r.Context(), "websocket upgrade failed", "err", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, clientBuffer)}
	if !a.hub.register(c) {
		_ = conn.Close()
		return
	}
	snap := encode("snapshot", snapshot{State: a.svc.State(), Actions: a.svc.Actions()})
	if !a.hub.activate(c, snap) {
		_ = conn.Close()
		return
	}
	a.logger.Info(r.Context(), "websocket client connected", "clients", a.hub.count())

	go c.writePump()
	c.readPump()

	a.hub.unregister(c)
	a.logger.Info(r.Context(), "websocket client disconnected", "clients", a.hub.count())
}

// readPump discards client frames and returns when the connection drops.
func (c *wsClient) readPump() {
	c.conn.SetReadLimit(maxClientFrame)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
