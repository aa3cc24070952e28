package signaling

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

const writeWait = 5 * time.Second

// peerConn is one endpoint attached to the relay.
type peerConn struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func newPeerConn(id string, ws *websocket.Conn) *peerConn {
	return &peerConn{id: id, conn: ws, send: make(chan []byte, 32)}
}

// TrySend queues data without blocking.
func (c *peerConn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *peerConn) sendJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.TrySend(b)
}

func (c *peerConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

func (s *Server) writePump(c *peerConn) {
	ticker := time.NewTicker(s.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(writeWait))
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				s.logger.Error("writePump set deadline", "peer", c.id, "error", err)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Error("writePump write error", "peer", c.id, "error", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.logger.Debug("writePump ping failed", "peer", c.id, "error", err)
				return
			}
		}
	}
}

func (s *Server) readPump(c *peerConn) {
	defer func() {
		s.logger.Info("readPump closing", "peer", c.id)
		s.detach(c)
	}()

	pongWait := s.cfg.PingPeriod * 2
	c.conn.SetReadLimit(s.cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("readPump read error", "peer", c.id, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.handleFrame(c, data)
	}
}

func (s *Server) handleFrame(c *peerConn, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("bad json", "peer", c.id, "error", err)
		return
	}
	if !s.limiter.Allow(c.id) {
		s.logger.Warn("rate limited", "peer", c.id, "type", msg.Type)
		_ = c.sendJSON(Message{Type: TypeError, Error: "rate-limited", ConnectionID: msg.ConnectionID})
		return
	}

	switch {
	case msg.Type == TypePing:
		_ = c.sendJSON(Message{Type: TypePong})
	case relayed(msg.Type):
		s.relay(c, msg)
	default:
		s.logger.Warn("unknown signal", "peer", c.id, "type", msg.Type)
	}
}
