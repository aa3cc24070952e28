package webrtc

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

var ErrChannelNotOpen = errors.New("data channel is not open")

// dataChannel is the chat channel of one data link.
type dataChannel struct {
	link *link

	mu      sync.Mutex
	dc      *webrtc.DataChannel
	opened  bool
	closed  bool
	onOpen  func()
	onMsg   func([]byte)
	onClose func()
	// pending holds frames that arrived before OnMessage was bound.
	pending [][]byte

	// deliver serializes handler calls so replayed frames stay in order.
	deliver sync.Mutex
}

func newDataChannel(l *link) *dataChannel {
	ch := &dataChannel{link: l}
	l.onClosed = ch.closedByLink
	return ch
}

// attach binds the pion channel once it exists.
func (c *dataChannel) attach(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	dc.OnOpen(func() {
		c.mu.Lock()
		c.opened = true
		fn := c.onOpen
		c.mu.Unlock()
		c.link.logger.Info("Data channel opened", "remote", c.link.remote)
		if fn != nil {
			fn()
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		data := append([]byte(nil), msg.Data...)
		c.deliver.Lock()
		defer c.deliver.Unlock()
		c.mu.Lock()
		fn := c.onMsg
		if fn == nil {
			c.pending = append(c.pending, data)
		}
		c.mu.Unlock()
		if fn != nil {
			fn(data)
		}
	})
	dc.OnClose(func() {
		c.link.fail()
	})
}

func (c *dataChannel) RemoteID() string { return c.link.remote }

func (c *dataChannel) Send(payload []byte) error {
	c.mu.Lock()
	dc, opened := c.dc, c.opened
	c.mu.Unlock()
	if dc == nil || !opened {
		return ErrChannelNotOpen
	}
	return dc.Send(payload)
}

// OnOpen fires immediately when the channel is already open.
func (c *dataChannel) OnOpen(fn func()) {
	c.mu.Lock()
	c.onOpen = fn
	opened := c.opened
	c.mu.Unlock()
	if opened && fn != nil {
		fn()
	}
}

// OnMessage replays frames received before a handler was bound, in arrival order.
func (c *dataChannel) OnMessage(fn func([]byte)) {
	c.deliver.Lock()
	defer c.deliver.Unlock()
	c.mu.Lock()
	c.onMsg = fn
	var pending [][]byte
	if fn != nil {
		pending, c.pending = c.pending, nil
	}
	c.mu.Unlock()
	for _, data := range pending {
		fn(data)
	}
}

// OnClose fires immediately when the channel already closed.
func (c *dataChannel) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	closed := c.closed
	c.mu.Unlock()
	if closed && fn != nil {
		fn()
	}
}

func (c *dataChannel) Close() error {
	return c.link.close()
}

func (c *dataChannel) closedByLink() {
	c.mu.Lock()
	c.closed = true
	fn := c.onClose
	c.mu.Unlock()
	c.link.logger.Info("Data channel closed", "remote", c.link.remote)
	if fn != nil {
		fn()
	}
}
