package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

type fakeTrack struct {
	kind    MediaKind
	mu      sync.Mutex
	enabled bool
	stops   *atomic.Int32
}

func (t *fakeTrack) Kind() MediaKind { return t.kind }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(v bool) {
	t.mu.Lock()
	t.enabled = v
	t.mu.Unlock()
}

func (t *fakeTrack) Stop() { t.stops.Add(1) }

type fakeHandle struct {
	tracks  []Track
	stopped atomic.Int32
}

func (h *fakeHandle) Tracks() []Track { return h.tracks }

func (h *fakeHandle) Stop() {
	h.stopped.Add(1)
	for _, t := range h.tracks {
		t.Stop()
	}
}

// fakeProvider hands out handles and counts track acquisitions and stops.
type fakeProvider struct {
	mu       sync.Mutex
	err      error
	kinds    []MediaKind
	gate     chan struct{}
	started  chan struct{}
	handles  []*fakeHandle
	acquired atomic.Int32
	stops    atomic.Int32
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{kinds: []MediaKind{Audio, Video}}
}

func (p *fakeProvider) Acquire(ctx context.Context, _ Constraints) (MediaHandle, error) {
	if p.started != nil {
		p.started <- struct{}{}
	}
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	h := &fakeHandle{}
	for _, k := range p.kinds {
		h.tracks = append(h.tracks, &fakeTrack{kind: k, enabled: true, stops: &p.stops})
		p.acquired.Add(1)
	}
	p.handles = append(p.handles, h)
	return h, nil
}

type fakeChannel struct {
	remote string

	mu       sync.Mutex
	sent     [][]byte
	sendErr  error
	closeErr error
	closed   int
	onOpen   func()
	onMsg    func([]byte)
	onClose  func()
}

func (c *fakeChannel) RemoteID() string { return c.remote }

func (c *fakeChannel) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, append([]byte(nil), payload...))
	return nil
}

func (c *fakeChannel) OnOpen(fn func()) {
	c.mu.Lock()
	c.onOpen = fn
	c.mu.Unlock()
}

func (c *fakeChannel) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	c.onMsg = fn
	c.mu.Unlock()
}

func (c *fakeChannel) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return c.closeErr
}

func (c *fakeChannel) open() {
	c.mu.Lock()
	fn := c.onOpen
	c.mu.Unlock()
	fn()
}

func (c *fakeChannel) deliver(data []byte) {
	c.mu.Lock()
	fn := c.onMsg
	c.mu.Unlock()
	fn(data)
}

func (c *fakeChannel) remoteClose() {
	c.mu.Lock()
	fn := c.onClose
	c.mu.Unlock()
	fn()
}

func (c *fakeChannel) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *fakeChannel) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeStream struct {
	id    string
	kinds []MediaKind
}

func (s fakeStream) StreamID() string   { return s.id }
func (s fakeStream) Kinds() []MediaKind { return s.kinds }

type fakeExchange struct {
	remote string

	mu       sync.Mutex
	answered []MediaHandle
	answerCh chan MediaHandle
	closed   int
	onStream func(RemoteStream)
	onClose  func()
}

func newFakeExchange(remote string) *fakeExchange {
	return &fakeExchange{remote: remote, answerCh: make(chan MediaHandle, 4)}
}

func (e *fakeExchange) RemoteID() string { return e.remote }

func (e *fakeExchange) Answer(h MediaHandle) error {
	e.mu.Lock()
	e.answered = append(e.answered, h)
	e.mu.Unlock()
	e.answerCh <- h
	return nil
}

func (e *fakeExchange) OnStream(fn func(RemoteStream)) {
	e.mu.Lock()
	e.onStream = fn
	e.mu.Unlock()
}

func (e *fakeExchange) OnClose(fn func()) {
	e.mu.Lock()
	e.onClose = fn
	e.mu.Unlock()
}

func (e *fakeExchange) Close() error {
	e.mu.Lock()
	e.closed++
	e.mu.Unlock()
	return nil
}

func (e *fakeExchange) stream(rs RemoteStream) {
	e.mu.Lock()
	fn := e.onStream
	e.mu.Unlock()
	fn(rs)
}

func (e *fakeExchange) remoteClose() {
	e.mu.Lock()
	fn := e.onClose
	e.mu.Unlock()
	fn()
}

func (e *fakeExchange) closeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

type fakeTransport struct {
	id      string
	openErr error
	dialErr error
	callErr error

	mu        sync.Mutex
	channels  []*fakeChannel
	exchanges []*fakeExchange
	inboundCh func(Channel)
	inboundMx func(MediaExchange)
}

func newFakeTransport(id string) *fakeTransport {
	return &fakeTransport{id: id}
}

func (t *fakeTransport) Open(context.Context) (string, error) {
	if t.openErr != nil {
		return "", t.openErr
	}
	return t.id, nil
}

func (t *fakeTransport) ConnectChannel(remoteID string) (Channel, error) {
	if t.dialErr != nil {
		return nil, t.dialErr
	}
	ch := &fakeChannel{remote: remoteID}
	t.mu.Lock()
	t.channels = append(t.channels, ch)
	t.mu.Unlock()
	return ch, nil
}

func (t *fakeTransport) CallMedia(remoteID string, _ MediaHandle) (MediaExchange, error) {
	if t.callErr != nil {
		return nil, t.callErr
	}
	ex := newFakeExchange(remoteID)
	t.mu.Lock()
	t.exchanges = append(t.exchanges, ex)
	t.mu.Unlock()
	return ex, nil
}

func (t *fakeTransport) OnInboundChannel(fn func(Channel)) {
	t.mu.Lock()
	t.inboundCh = fn
	t.mu.Unlock()
}

func (t *fakeTransport) OnInboundMedia(fn func(MediaExchange)) {
	t.mu.Lock()
	t.inboundMx = fn
	t.mu.Unlock()
}

func (t *fakeTransport) ringChannel(ch Channel) {
	t.mu.Lock()
	fn := t.inboundCh
	t.mu.Unlock()
	fn(ch)
}

func (t *fakeTransport) ringMedia(ex MediaExchange) {
	t.mu.Lock()
	fn := t.inboundMx
	t.mu.Unlock()
	fn(ex)
}

func (t *fakeTransport) lastChannel() *fakeChannel {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.channels) == 0 {
		return nil
	}
	return t.channels[len(t.channels)-1]
}

func (t *fakeTransport) lastExchange() *fakeExchange {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.exchanges) == 0 {
		return nil
	}
	return t.exchanges[len(t.exchanges)-1]
}

// recordingObserver keeps every notice it receives.
type recordingObserver struct {
	mu      sync.Mutex
	changes int
	notices []Notice
}

func (o *recordingObserver) SessionChanged(Snapshot) {
	o.mu.Lock()
	o.changes++
	o.mu.Unlock()
}

func (o *recordingObserver) SessionNotice(n Notice) {
	o.mu.Lock()
	o.notices = append(o.notices, n)
	o.mu.Unlock()
}

func (o *recordingObserver) hasNotice(kind NoticeKind, target error) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, n := range o.notices {
		if n.Kind == kind && (target == nil || errors.Is(n.Err, target)) {
			return true
		}
	}
	return false
}
