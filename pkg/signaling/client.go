package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is an endpoint's connection to the relay.
type Client struct {
	conn   *websocket.Conn
	id     string
	logger *slog.Logger

	writeMu sync.Mutex

	mu      sync.RWMutex
	handler func(Message)

	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

// AddressError reports a relay address that cannot be dialed at all.
type AddressError struct {
	Address string
	Err     error
}

func (e *AddressError) Error() string { return "relay address " + e.Address + ": " + e.Err.Error() }

func (e *AddressError) Unwrap() error { return e.Err }

// WSURL turns a relay base address (host:port or http(s)://host:port) into its WebSocket endpoint.
func WSURL(base string) (string, error) {
	if !strings.Contains(base, "://") {
		base = "ws://" + base
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", &AddressError{Address: base, Err: err}
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", &AddressError{Address: base, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/api/ws"
	}
	return u.String(), nil
}

// Dial connects to the relay and waits for the identifier it assigns.
func Dial(ctx context.Context, address string) (*Client, error) {
	wsURL, err := WSURL(address)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", wsURL, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	var open Message
	if err := conn.ReadJSON(&open); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read open frame: %w", err)
	}
	if open.Type != TypeOpen || open.ID == "" {
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected first frame %q from relay", open.Type)
	}
	_ = conn.SetReadDeadline(time.Time{})

	c := &Client{
		conn:   conn,
		id:     open.ID,
		logger: slog.Default().With("module", "signal.client"),
		done:   make(chan struct{}),
	}
	return c, nil
}

// ID is the identifier the relay assigned to this endpoint.
func (c *Client) ID() string { return c.id }

// OnMessage sets the handler for frames from the relay. It runs on the read
// goroutine, which is started by the first call.
func (c *Client) OnMessage(fn func(Message)) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
	c.startOnce.Do(func() { go c.readLoop() })
}

// Send writes one frame to the relay.
func (c *Client) Send(msg Message) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}

// SendPayload marshals payload into a frame of the given type.
func (c *Client) SendPayload(typ, to, connectionID, kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return c.Send(Message{Type: typ, To: to, ConnectionID: connectionID, Kind: kind, Payload: raw})
}

// Done is closed once the relay connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("Relay connection lost", "error", err)
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("Dropping bad frame from relay", "error", err)
			continue
		}
		c.mu.RLock()
		h := c.handler
		c.mu.RUnlock()
		if h != nil {
			h(msg)
		}
	}
}
