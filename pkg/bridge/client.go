package bridge

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/crystal-mush/mudrelay/pkg/events"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxMessage = 64 << 10
)

// Message is a control frame exchanged with WebSocket clients. Session
// events are sent as events.Event JSON; Message covers everything else.
type Message struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Command string `json:"command,omitempty"`
}

// wsClient is one WebSocket connection subscribed to the event bus.
type wsClient struct {
	srv  *Server
	conn *websocket.Conn
	addr string

	mu     sync.RWMutex
	send   chan []byte
	closed bool
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Str("module", "bridge").Err(err).Msg("websocket upgrade")
		return
	}
	c := &wsClient{
		srv:  s,
		conn: wsConn,
		addr: r.RemoteAddr,
		send: make(chan []byte, s.cfg.SendBuffer),
	}
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		c.addr = claims.Subject + "@" + r.RemoteAddr
	}
	log.Info().Str("module", "bridge").Str("client", c.addr).Msg("websocket connected")

	// Start the client off with the current room so it needn't wait for
	// the next change.
	snap := s.session.Snapshot()
	if room, err := json.Marshal(snap); err == nil {
		id, _ := snap.RoomID()
		c.sendJSON(events.Event{Type: events.EvRoom, Time: time.Now(), Name: id, Data: room})
	}
	s.addClient(c)

	go c.writePump()
	go c.readPump()
}

// Receive implements events.Subscriber. It runs on the game connection's
// read path and never blocks: a client that cannot keep up is closed.
func (c *wsClient) Receive(ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Str("module", "bridge").Err(err).Msg("encoding event")
		return
	}
	if !c.trySend(data) && !c.Closed() {
		log.Warn().Str("module", "bridge").Str("client", c.addr).Msg("client too slow, dropping")
		c.srv.dropped.Inc()
		c.Close()
	}
}

// Closed implements events.Subscriber.
func (c *wsClient) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *wsClient) trySend(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *wsClient) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.trySend(data)
}

// Close stops delivery. The write pump sends a close frame and tears the
// connection down.
func (c *wsClient) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Str("module", "bridge").Str("client", c.addr).Err(err).Msg("write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.srv.removeClient(c)
		c.Close()
		c.conn.Close()
		log.Info().Str("module", "bridge").Str("client", c.addr).Msg("websocket closed")
	}()

	c.conn.SetReadLimit(maxMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Str("module", "bridge").Str("client", c.addr).Err(err).Msg("read error")
			}
			return
		}
		c.handleMessage(data)
	}
}

func (c *wsClient) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendJSON(Message{Type: "error", Text: "Invalid JSON message"})
		return
	}
	switch msg.Type {
	case "command":
		if err := c.srv.session.Send(msg.Command); err != nil {
			c.sendJSON(Message{Type: "error", Text: err.Error()})
		}
	case "ping":
		c.sendJSON(Message{Type: "pong"})
	default:
		c.sendJSON(Message{Type: "error", Text: fmt.Sprintf("Unknown message type: %s", msg.Type)})
	}
}
