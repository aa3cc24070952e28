// Package session coordinates the lifecycle of one two-party peer session:
// the data channel used for chat, the media exchange, local capture and the
// transcript. All state changes are applied by a single goroutine draining an
// ordered inbox, so observers never see a half-applied update.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
)

type state struct {
	localID  string
	phase    Phase
	remoteID string

	localMedia   MediaHandle
	remoteMedia  RemoteStream
	audioEnabled bool
	videoEnabled bool

	channel      Channel
	channelReady bool
	exchange     MediaExchange
	mediaReady   bool
	strays       []interface{ Close() error }

	transcript []ChatMessage

	// generation changes on every teardown; async work started under an older
	// generation is discarded when it completes.
	generation uint64
	initiating bool
	timer      *time.Timer
}

// Coordinator owns a single peer session. Create it with New and start Run.
type Coordinator struct {
	transport Transport
	provider  CapabilityProvider
	observer  Observer
	logger    *slog.Logger
	metrics   *metrics
	now       func() time.Time
	newID     func() string

	connectTimeout time.Duration

	inbox   *inbox
	done    chan struct{}
	running atomic.Bool
	runCtx  context.Context

	st      state
	dirty   bool
	notices []Notice
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		if o != nil {
			c.observer = o
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMeter(m metric.Meter) Option {
	return func(c *Coordinator) { c.metrics = newMetrics(m) }
}

// WithConnectTimeout tears down sessions that stay Connecting longer than d.
// Zero disables the timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.connectTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(c *Coordinator) { c.newID = gen }
}

// New builds a coordinator over the given collaborators.
func New(transport Transport, provider CapabilityProvider, opts ...Option) *Coordinator {
	c := &Coordinator{
		transport: transport,
		provider:  provider,
		observer:  nopObserver{},
		logger:    slog.Default().With("module", "session"),
		metrics:   newMetrics(nil),
		now:       time.Now,
		newID:     uuid.NewString,
		inbox:     newInbox(),
		done:      make(chan struct{}),
		runCtx:    context.Background(),
		st: state{
			audioEnabled: true,
			videoEnabled: true,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run drains the inbox until ctx is cancelled. On exit any bound session is torn down.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("coordinator already running")
	}
	c.runCtx = ctx
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			for _, fn := range c.inbox.close() {
				fn()
			}
			c.teardown(ErrStopped)
			c.st.generation++
			c.flush()
			return nil
		case <-c.inbox.notify:
			for _, fn := range c.inbox.drain() {
				fn()
				c.flush()
			}
		}
	}
}

// call runs fn on the coordinator goroutine and waits for its result.
func (c *Coordinator) call(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	if !c.inbox.post(func() { reply <- fn() }) {
		return ErrStopped
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OpenLocalIdentity asks the transport for a local identifier and publishes it.
// Calling it again after success returns the assigned identifier.
func (c *Coordinator) OpenLocalIdentity(ctx context.Context) (string, error) {
	var existing string
	if err := c.call(ctx, func() error {
		existing = c.st.localID
		return nil
	}); err != nil {
		return "", err
	}
	if existing != "" {
		return existing, nil
	}

	c.transport.OnInboundChannel(func(ch Channel) {
		if !c.inbox.post(func() { c.handleInboundChannel(ch) }) {
			_ = ch.Close()
		}
	})
	c.transport.OnInboundMedia(func(ex MediaExchange) {
		if !c.inbox.post(func() { c.handleInboundMedia(ex) }) {
			_ = ex.Close()
		}
	})

	id, err := c.transport.Open(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}
	err = c.call(ctx, func() error {
		c.st.localID = id
		c.dirty = true
		c.logger.Info("Local identity assigned", "id", id)
		return nil
	})
	return id, err
}

// InitiateSession acquires local media and dials remoteID over both a data
// channel and a media exchange. It fails with ErrBusy unless the coordinator is idle.
func (c *Coordinator) InitiateSession(ctx context.Context, remoteID string) error {
	remoteID = strings.TrimSpace(remoteID)
	if remoteID == "" {
		return ErrEmptyRemoteID
	}

	var gen uint64
	if err := c.call(ctx, func() error {
		if c.st.localID == "" {
			return ErrNotReady
		}
		if c.st.phase != Idle || c.st.initiating {
			return ErrBusy
		}
		c.st.initiating = true
		gen = c.st.generation
		return nil
	}); err != nil {
		return err
	}

	handle, err := c.provider.Acquire(ctx, Constraints{Audio: true, Video: true})
	if err != nil {
		c.metrics.inc(c.metrics.capFailures)
		_ = c.call(context.WithoutCancel(ctx), func() error {
			if c.st.generation == gen {
				c.st.initiating = false
			}
			return nil
		})
		c.logger.Warn("Failed to acquire local media", "remote", remoteID, "error", err)
		if !errors.Is(err, ErrCapabilityDenied) {
			err = fmt.Errorf("%w: %w", ErrCapabilityDenied, err)
		}
		return err
	}

	committed := false
	err = c.call(context.WithoutCancel(ctx), func() error {
		committed = true
		return c.commitInitiate(gen, remoteID, handle)
	})
	if !committed {
		handle.Stop()
	}
	return err
}

func (c *Coordinator) commitInitiate(gen uint64, remoteID string, handle MediaHandle) error {
	if gen != c.st.generation {
		handle.Stop()
		return ErrCancelled
	}
	c.st.initiating = false
	if c.st.phase != Idle {
		handle.Stop()
		return ErrBusy
	}

	ch, err := c.transport.ConnectChannel(remoteID)
	if err != nil {
		handle.Stop()
		return fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}

	c.setLocalMedia(handle)
	c.st.phase = Connecting
	c.st.remoteID = remoteID
	c.bindChannel(ch)

	if ex, err := c.transport.CallMedia(remoteID, handle); err != nil {
		c.logger.Warn("Media exchange unavailable, continuing chat-only", "remote", remoteID, "error", err)
		c.pushNotice(NoticeError, fmt.Errorf("%w: %w", ErrTransportUnavailable, err))
	} else {
		c.bindExchange(ex)
	}

	c.sessionStarted()
	c.logger.Info("Session initiated", "remote", remoteID)
	return nil
}

// SendChatMessage transmits text to the peer and records it in the transcript.
// Blank text or a channel that is not open makes it a no-op.
func (c *Coordinator) SendChatMessage(ctx context.Context, text string) error {
	return c.call(ctx, func() error {
		if strings.TrimSpace(text) == "" || c.st.channel == nil || !c.st.channelReady {
			return nil
		}
		data, err := EncodeChat(text)
		if err != nil {
			return err
		}
		if err := c.st.channel.Send(data); err != nil {
			return fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
		}
		c.appendMessage(SenderSelf, text)
		c.metrics.inc(c.metrics.chatSent)
		return nil
	})
}

// ToggleTrack flips the local track of the given kind. Missing media or a
// missing track of that kind is not an error.
func (c *Coordinator) ToggleTrack(ctx context.Context, kind MediaKind) error {
	return c.call(ctx, func() error {
		if c.st.localMedia == nil {
			return nil
		}
		for _, t := range c.st.localMedia.Tracks() {
			if t.Kind() != kind {
				continue
			}
			t.SetEnabled(!t.Enabled())
			switch kind {
			case Audio:
				c.st.audioEnabled = t.Enabled()
			case Video:
				c.st.videoEnabled = t.Enabled()
			}
			c.dirty = true
			c.logger.Debug("Track toggled", "kind", kind, "enabled", t.Enabled())
			return nil
		}
		return nil
	})
}

// EndSession tears the session down. It is safe from any phase and idempotent.
func (c *Coordinator) EndSession(ctx context.Context) error {
	return c.call(ctx, func() error {
		if c.st.initiating {
			// cancels an acquisition still in flight
			c.st.generation++
			c.st.initiating = false
		}
		c.teardown(ErrHangup)
		return nil
	})
}

// AppendAssistantNote adds a local-only assistant entry to the transcript of
// the session identified by seq. Notes for a session that already ended are dropped.
func (c *Coordinator) AppendAssistantNote(ctx context.Context, seq uint64, text string) error {
	return c.call(ctx, func() error {
		if c.st.remoteID == "" || strings.TrimSpace(text) == "" {
			return nil
		}
		if seq != c.st.generation {
			c.logger.Debug("Dropping assistant note for an ended session", "seq", seq, "current", c.st.generation)
			return nil
		}
		c.appendMessage(SenderAssistant, text)
		return nil
	})
}

// Snapshot returns the state after every previously posted event was applied.
func (c *Coordinator) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := c.call(ctx, func() error {
		s = c.snapshot()
		return nil
	})
	return s, err
}

func (c *Coordinator) bindChannel(ch Channel) {
	c.st.channel = ch
	c.st.channelReady = false
	ch.OnOpen(func() {
		c.inbox.post(func() { c.handleChannelOpen(ch) })
	})
	ch.OnMessage(func(payload []byte) {
		data := append([]byte(nil), payload...)
		c.inbox.post(func() { c.handleChannelMessage(ch, data) })
	})
	ch.OnClose(func() {
		c.inbox.post(func() { c.handleChannelClose(ch) })
	})
	c.dirty = true
}

func (c *Coordinator) bindExchange(ex MediaExchange) {
	c.st.exchange = ex
	ex.OnStream(func(rs RemoteStream) {
		c.inbox.post(func() { c.handleRemoteStream(ex, rs) })
	})
	ex.OnClose(func() {
		c.inbox.post(func() { c.handleExchangeClose(ex) })
	})
	c.dirty = true
}

func (c *Coordinator) handleChannelOpen(ch Channel) {
	if ch != c.st.channel {
		return
	}
	c.st.channelReady = true
	c.logger.Info("Data channel open", "remote", c.st.remoteID)
	c.promote()
	c.dirty = true
}

func (c *Coordinator) handleChannelMessage(ch Channel, data []byte) {
	if ch != c.st.channel {
		return
	}
	p, err := DecodePayload(data)
	if err != nil {
		c.logger.Debug("Dropping data channel frame", "error", err)
		return
	}
	if p.Kind != KindChat {
		c.logger.Debug("Ignoring payload kind", "kind", p.Kind)
		return
	}
	c.appendMessage(SenderPeer, p.Text)
	c.metrics.inc(c.metrics.chatReceived)
}

func (c *Coordinator) handleChannelClose(ch Channel) {
	if ch != c.st.channel {
		return
	}
	c.logger.Info("Data channel closed by peer", "remote", c.st.remoteID)
	c.st.channel = nil
	c.teardown(ErrChannelClosedRemotely)
}

func (c *Coordinator) handleRemoteStream(ex MediaExchange, rs RemoteStream) {
	if ex != c.st.exchange {
		return
	}
	c.st.remoteMedia = rs
	c.st.mediaReady = true
	c.logger.Info("Remote stream arrived", "remote", c.st.remoteID, "stream", rs.StreamID())
	c.promote()
	c.dirty = true
}

func (c *Coordinator) handleExchangeClose(ex MediaExchange) {
	if ex != c.st.exchange {
		return
	}
	c.logger.Info("Media exchange closed", "remote", c.st.remoteID)
	c.st.exchange = nil
	c.st.remoteMedia = nil
	c.st.mediaReady = false
	c.dirty = true
}

func (c *Coordinator) handleInboundChannel(ch Channel) {
	origin := ch.RemoteID()
	if c.st.channel != nil || (c.st.remoteID != "" && origin != c.st.remoteID) {
		c.logger.Warn("Ignoring inbound channel while bound", "origin", origin, "remote", c.st.remoteID)
		c.pushNotice(NoticeIgnored, fmt.Errorf("inbound channel from %s ignored", origin))
		c.keepOrClose(ch, origin)
		return
	}

	c.bindChannel(ch)
	if c.st.phase == Idle {
		c.st.phase = Connecting
		c.st.remoteID = origin
		c.sessionStarted()
	}
	c.logger.Info("Inbound channel accepted", "origin", origin)
}

func (c *Coordinator) handleInboundMedia(ex MediaExchange) {
	origin := ex.RemoteID()
	if c.st.exchange != nil || (c.st.remoteID != "" && origin != c.st.remoteID) {
		c.logger.Warn("Ignoring inbound media exchange while bound", "origin", origin, "remote", c.st.remoteID)
		c.pushNotice(NoticeIgnored, fmt.Errorf("inbound call from %s ignored", origin))
		c.keepOrClose(ex, origin)
		return
	}

	c.bindExchange(ex)
	if c.st.phase == Idle {
		c.st.phase = Connecting
		c.st.remoteID = origin
		c.sessionStarted()
	}

	if c.st.localMedia != nil {
		c.answer(ex, c.st.localMedia)
		return
	}

	gen := c.st.generation
	ctx := c.runCtx
	go func() {
		h, err := c.provider.Acquire(ctx, Constraints{Audio: true, Video: true})
		accepted := c.inbox.post(func() { c.handleInboundMediaAcquired(gen, ex, h, err) })
		if !accepted && h != nil {
			h.Stop()
		}
	}()
}

func (c *Coordinator) handleInboundMediaAcquired(gen uint64, ex MediaExchange, h MediaHandle, err error) {
	if err != nil {
		c.metrics.inc(c.metrics.capFailures)
		c.logger.Warn("Failed to answer call", "origin", ex.RemoteID(), "error", err)
		if !errors.Is(err, ErrCapabilityDenied) {
			err = fmt.Errorf("%w: %w", ErrCapabilityDenied, err)
		}
		c.pushNotice(NoticeError, err)
		return
	}
	if gen != c.st.generation || ex != c.st.exchange {
		h.Stop()
		return
	}
	if c.st.localMedia != nil {
		h.Stop()
		h = c.st.localMedia
	} else {
		c.setLocalMedia(h)
	}
	c.answer(ex, h)
}

func (c *Coordinator) answer(ex MediaExchange, h MediaHandle) {
	if err := ex.Answer(h); err != nil {
		c.logger.Warn("Failed to answer media exchange", "origin", ex.RemoteID(), "error", err)
		c.pushNotice(NoticeError, fmt.Errorf("%w: %w", ErrTransportUnavailable, err))
		return
	}
	c.logger.Info("Media exchange answered", "origin", ex.RemoteID())
}

// keepOrClose holds on to an ignored resource from the bound peer until
// teardown and closes one from anybody else right away.
func (c *Coordinator) keepOrClose(r interface{ Close() error }, origin string) {
	if origin == c.st.remoteID {
		c.st.strays = append(c.st.strays, r)
		return
	}
	if err := r.Close(); err != nil {
		c.logger.Debug("Close of ignored resource failed", "error", err)
	}
}

func (c *Coordinator) promote() {
	if c.st.phase == Connecting && (c.st.channelReady || c.st.mediaReady) {
		c.st.phase = Active
		c.stopTimer()
		c.logger.Info("Session active", "remote", c.st.remoteID)
	}
}

func (c *Coordinator) setLocalMedia(h MediaHandle) {
	c.st.localMedia = h
	c.st.audioEnabled, c.st.videoEnabled = true, true
	seen := map[MediaKind]bool{}
	for _, t := range h.Tracks() {
		if seen[t.Kind()] {
			continue
		}
		seen[t.Kind()] = true
		switch t.Kind() {
		case Audio:
			c.st.audioEnabled = t.Enabled()
		case Video:
			c.st.videoEnabled = t.Enabled()
		}
	}
	c.dirty = true
}

func (c *Coordinator) sessionStarted() {
	c.metrics.inc(c.metrics.started)
	c.dirty = true
	if c.connectTimeout <= 0 {
		return
	}
	c.stopTimer()
	gen := c.st.generation
	c.st.timer = time.AfterFunc(c.connectTimeout, func() {
		c.inbox.post(func() {
			if gen == c.st.generation && c.st.phase == Connecting {
				c.logger.Warn("Connect timeout", "remote", c.st.remoteID)
				c.teardown(ErrConnectTimeout)
			}
		})
	})
}

func (c *Coordinator) stopTimer() {
	if c.st.timer != nil {
		c.st.timer.Stop()
		c.st.timer = nil
	}
}

func (c *Coordinator) bound() bool {
	return c.st.phase != Idle || c.st.channel != nil || c.st.exchange != nil ||
		c.st.localMedia != nil || len(c.st.strays) > 0
}

// teardown walks Ended back to Idle. It is a no-op when nothing is bound.
func (c *Coordinator) teardown(reason error) {
	if !c.bound() {
		return
	}
	c.st.phase = Ended
	c.stopTimer()

	if ex := c.st.exchange; ex != nil {
		c.st.exchange = nil
		if err := ex.Close(); err != nil {
			c.logger.Debug("Media exchange close failed", "error", err)
		}
	}
	if ch := c.st.channel; ch != nil {
		c.st.channel = nil
		if err := ch.Close(); err != nil {
			c.logger.Debug("Data channel close failed", "error", err)
		}
	}
	for _, r := range c.st.strays {
		if err := r.Close(); err != nil {
			c.logger.Debug("Stray resource close failed", "error", err)
		}
	}
	c.st.strays = nil
	if h := c.st.localMedia; h != nil {
		c.st.localMedia = nil
		h.Stop()
	}

	remote := c.st.remoteID
	c.st.remoteMedia = nil
	c.st.audioEnabled, c.st.videoEnabled = true, true
	c.st.channelReady, c.st.mediaReady = false, false
	c.st.transcript = nil
	c.st.remoteID = ""
	c.st.generation++
	c.st.initiating = false
	c.st.phase = Idle

	c.metrics.inc(c.metrics.ended)
	c.dirty = true
	c.pushNotice(NoticeSessionEnded, reason)
	c.logger.Info("Session ended", "remote", remote, "reason", reason)
}

func (c *Coordinator) appendMessage(from Sender, text string) {
	c.st.transcript = append(c.st.transcript, ChatMessage{
		ID:     c.newID(),
		Sender: from,
		Text:   text,
		SentAt: c.now(),
	})
	c.dirty = true
}

func (c *Coordinator) pushNotice(kind NoticeKind, err error) {
	c.notices = append(c.notices, Notice{Kind: kind, Err: err})
}

func (c *Coordinator) flush() {
	if c.dirty {
		c.dirty = false
		c.observer.SessionChanged(c.snapshot())
	}
	for _, n := range c.notices {
		c.observer.SessionNotice(n)
	}
	c.notices = nil
}

func (c *Coordinator) snapshot() Snapshot {
	s := Snapshot{
		LocalID:      c.st.localID,
		Phase:        c.st.phase,
		RemoteID:     c.st.remoteID,
		HasLocal:     c.st.localMedia != nil,
		AudioEnabled: c.st.audioEnabled,
		VideoEnabled: c.st.videoEnabled,
		ChannelReady: c.st.channelReady,
		MediaReady:   c.st.mediaReady,
		SessionSeq:   c.st.generation,
	}
	if rs := c.st.remoteMedia; rs != nil {
		s.HasRemote = true
		s.RemoteStream = rs.StreamID()
		s.RemoteKinds = append([]MediaKind(nil), rs.Kinds()...)
	}
	if len(c.st.transcript) > 0 {
		s.Transcript = append([]ChatMessage(nil), c.st.transcript...)
	}
	return s
}
