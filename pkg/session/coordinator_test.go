package session

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	c        *Coordinator
	tr       *fakeTransport
	provider *fakeProvider
	obs      *recordingObserver
	cancel   context.CancelFunc
	done     chan struct{}
}

func startCoordinator(t *testing.T, tr *fakeTransport, p *fakeProvider, opts ...Option) *harness {
	t.Helper()
	obs := &recordingObserver{}
	opts = append([]Option{WithObserver(obs)}, opts...)
	c := New(tr, p, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{c: c, tr: tr, provider: p, obs: obs, cancel: cancel, done: make(chan struct{})}
	go func() {
		_ = c.Run(ctx)
		close(h.done)
	}()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.cancel()
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
	}
}

func (h *harness) snapshot(t *testing.T) Snapshot {
	t.Helper()
	s, err := h.c.Snapshot(context.Background())
	require.NoError(t, err)
	return s
}

func openIdentity(t *testing.T, h *harness) {
	t.Helper()
	_, err := h.c.OpenLocalIdentity(context.Background())
	require.NoError(t, err)
}

func TestInitiateActiveThenRemoteClose(t *testing.T) {
	h := startCoordinator(t, newFakeTransport("abc123"), newFakeProvider())
	ctx := context.Background()

	id, err := h.c.OpenLocalIdentity(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)

	require.NoError(t, h.c.InitiateSession(ctx, "xyz789"))
	s := h.snapshot(t)
	assert.Equal(t, Connecting, s.Phase)
	assert.Equal(t, "xyz789", s.RemoteID)
	assert.True(t, s.HasLocal)

	ch := h.tr.lastChannel()
	require.NotNil(t, ch)
	ch.open()

	s = h.snapshot(t)
	assert.Equal(t, Active, s.Phase)
	assert.Equal(t, "xyz789", s.RemoteID)
	assert.True(t, s.ChannelReady)

	ch.remoteClose()
	s = h.snapshot(t)
	assert.Equal(t, Idle, s.Phase)
	assert.Empty(t, s.RemoteID)
	assert.Empty(t, s.Transcript)
	assert.False(t, s.HasLocal)

	require.Len(t, h.provider.handles, 1)
	assert.Equal(t, int32(2), h.provider.acquired.Load())
	assert.Equal(t, h.provider.acquired.Load(), h.provider.stops.Load())
	assert.Equal(t, 1, h.tr.lastExchange().closeCount())
	assert.True(t, h.obs.hasNotice(NoticeSessionEnded, ErrChannelClosedRemotely))
}

func TestToggleTrackParity(t *testing.T) {
	h := startCoordinator(t, newFakeTransport("abc123"), newFakeProvider())
	ctx := context.Background()
	openIdentity(t, h)
	require.NoError(t, h.c.InitiateSession(ctx, "xyz789"))

	for i := 1; i <= 5; i++ {
		require.NoError(t, h.c.ToggleTrack(ctx, Audio))
		s := h.snapshot(t)
		assert.Equal(t, i%2 == 0, s.AudioEnabled, "after %d toggles", i)
		assert.True(t, s.VideoEnabled)
	}

	require.NoError(t, h.c.ToggleTrack(ctx, Video))
	require.NoError(t, h.c.ToggleTrack(ctx, Video))
	assert.True(t, h.snapshot(t).VideoEnabled)
}

func TestToggleTrackWithoutMatchingTrack(t *testing.T) {
	p := newFakeProvider()
	p.kinds = []MediaKind{Audio}
	h := startCoordinator(t, newFakeTransport("abc123"), p)
	ctx := context.Background()

	// no local media yet
	require.NoError(t, h.c.ToggleTrack(ctx, Audio))
	assert.True(t, h.snapshot(t).AudioEnabled)

	openIdentity(t, h)
	require.NoError(t, h.c.InitiateSession(ctx, "xyz789"))
	require.NoError(t, h.c.ToggleTrack(ctx, Video))
	s := h.snapshot(t)
	assert.True(t, s.VideoEnabled)
	assert.True(t, s.AudioEnabled)
}

func TestEndSessionIdempotent(t *testing.T) {
	h := startCoordinator(t, newFakeTransport("abc123"), newFakeProvider())
	ctx := context.Background()
	openIdentity(t, h)

	before := h.snapshot(t)
	require.NoError(t, h.c.EndSession(ctx))
	require.NoError(t, h.c.EndSession(ctx))
	assert.Equal(t, before, h.snapshot(t))
	assert.False(t, h.obs.hasNotice(NoticeSessionEnded, nil))

	require.NoError(t, h.c.InitiateSession(ctx, "xyz789"))
	require.NoError(t, h.c.EndSession(ctx))
	require.NoError(t, h.c.EndSession(ctx))
	s := h.snapshot(t)
	assert.Equal(t, Idle, s.Phase)
	assert.Equal(t, 1, h.tr.lastChannel().closeCount())
	assert.Equal(t, h.provider.acquired.Load(), h.provider.stops.Load())
}

func TestSendChatMessageTransmitsOnce(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC)
	h := startCoordinator(t, newFakeTransport("abc123"), newFakeProvider(), WithClock(func() time.Time { return now }))
	ctx := context.Background()
	openIdentity(t, h)
	require.NoError(t, h.c.InitiateSession(ctx, "xyz789"))
	ch := h.tr.lastChannel()

	// not open yet
	require.NoError(t, h.c.SendChatMessage(ctx, "early"))
	assert.Equal(t, 0, ch.sentCount())

	ch.open()
	require.NoError(t, h.c.SendChatMessage(ctx, "   "))
	require.NoError(t, h.c.SendChatMessage(ctx, "hi"))

	assert.Equal(t, 1, ch.sentCount())
	p, err := DecodePayload(ch.sent[0])
	require.NoError(t, err)
	assert.Equal(t, Payload{Kind: KindChat, Text: "hi"}, p)

	s := h.snapshot(t)
	require.Len(t, s.Transcript, 1)
	assert.Equal(t, SenderSelf, s.Transcript[0].Sender)
	assert.Equal(t, "hi", s.Transcript[0].Text)
	assert.Equal(t, now, s.Transcript[0].SentAt)
	assert.NotEmpty(t, s.Transcript[0].ID)
}

func TestSendChatMessageTransportError(t *testing.T) {
	h := startCoordinator(t, newFakeTransport("abc123"), newFakeProvider())
	ctx := context.Background()
	openIdentity(t, h)
	require.NoError(t, h.c.InitiateSession(ctx, "xyz789"))
	ch := h.tr.lastChannel()
	ch.open()
	ch.sendErr = errors.New("buffer full")

	err := h.c.SendChatMessage(ctx, "hi")
	require.ErrorIs(t, err, ErrTransportUnavailable)
	assert.Empty(t, h.snapshot(t).Transcript)
}

func TestCapabilityFailureLeavesIdle(t *testing.T) {
	p := newFakeProvider()
	p.err = errors.New("no camera")
	h := startCoordinator(t, newFakeTransport("abc123"), p)
	ctx := context.Background()
	openIdentity(t, h)

	err := h.c.InitiateSession(ctx, "xyz789")
	require.ErrorIs(t, err, ErrCapabilityDenied)

	s := h.snapshot(t)
	assert.Equal(t, Idle, s.Phase)
	assert.Empty(t, s.RemoteID)
	assert.False(t, s.HasLocal)
	assert.Nil(t, h.tr.lastChannel())
	assert.Nil(t, h.tr.lastExchange())

	// a later attempt is not reported busy
	p.mu.Lock()
	p.err = nil
	p.mu.Unlock()
	require.NoError(t, h.c.InitiateSession(ctx, "xyz789"))
}

func TestInboundChatDuplicatesKept(t *testing.T) {
	h := startCoordinator(t, newFakeTransport("abc123"), newFakeProvider())
	ctx := context.Background()
	openIdentity(t, h)
	require.NoError(t, h.c.InitiateSession(ctx, "xyz789"))
	ch := h.tr.lastChannel()
	ch.open()

	frame := []byte(`{"kind":"chat","text":"yo"}`)
	ch.deliver(frame)
	ch.deliver(frame)

	s := h.snapshot(t)
	require.Len(t, s.Transcript, 2)
	for _, m := range s.Transcript {
		assert.Equal(t, SenderPeer, m.Sender)
		assert.Equal(t, "yo", m.Text)
	}
}

func TestMalformedAndUnknownPayloadsDropped(t *testing.T) {
	h := startCoordinator(t, newFakeTransport("abc123"), newFakeProvider())
	ctx := context.Background()
	openIdentity(t, h)
	require.NoError(t, h.c.InitiateSession(ctx, "xyz789"))
	ch := h.tr.lastChannel()
	ch.open()

	ch.deliver([]byte("not json"))
	ch.deliver([]byte(`{"text":"no kind"}`))
	ch.deliver([]byte(`{"kind":"typing"}`))
	ch.deliver([]byte(`{"kind":"chat","text":"after"}`))

	s := h.snapshot(t)
	assert.Equal(t, Active, s.Phase)
	require.Len(t, s.Transcript, 1)
	assert.Equal(t, "after", s.Transcript[0].Text)
}

func TestInitiateSessionPreconditions(t *testing.T) {
	h := startCoordinator(t, newFakeTransport("abc123"), newFakeProvider())
	ctx := context.Background()

	require.ErrorIs(t, h.c.InitiateSession(ctx, "xyz789"), ErrNotReady)
	openIdentity(t, h)
	require.ErrorIs(t, h.c.InitiateSession(ctx, "  "), ErrEmptyRemoteID)

	require.NoError(t, h.c.InitiateSession(ctx, "xyz789"))
	require.ErrorIs(t, h.c.InitiateSession(ctx, "other"), ErrBusy)
	assert.Equal(t, int32(2), h.provider.acquired.Load())
}

func TestOpenLocalIdentityFailure(t *testing.T) {
	tr := newFakeTransport("")
	tr.openErr = errors.New("relay down")
	h := startCoordinator(t, tr, newFakeProvider())

	_, err := h.c.OpenLocalIdentity(context.Background())
	require.ErrorIs(t, err, ErrTransportUnavailable)
	assert.Empty(t, h.snapshot(t).LocalID)
}

func TestConnectChannelFailureReleasesMedia(t *testing.T) {
	tr := newFakeTransport("abc123")
	tr.dialErr = errors.New("unreachable")
	h := startCoordinator(t, tr, newFakeProvider())
	openIdentity(t, h)

	err := h.c.InitiateSession(context.Background(), "xyz789")
	require.ErrorIs(t, err, ErrTransportUnavailable)
	s := h.snapshot(t)
	assert.Equal(t, Idle, s.Phase)
	assert.False(t, s.HasLocal)
	assert.Equal(t, h.provider.acquired.Load(), h.provider.stops.Load())
}

func TestCallMediaFailureContinuesChatOnly(t *testing.T) {
	tr := newFakeTransport("abc123")
	tr.callErr = errors.New("no media route")
	h := startCoordinator(t, tr, newFakeProvider())
	ctx := context.Background()
	openIdentity(t, h)

	require.NoError(t, h.c.InitiateSession(ctx, "xyz789"))
	tr.lastChannel().open()

	s := h.snapshot(t)
	assert.Equal(t, Active, s.Phase)
	assert.False(t, s.MediaReady)
	assert.True(t, h.obs.hasNotice(NoticeError, ErrTransportUnavailable))
}

func TestEndSessionCancelsPendingAcquisition(t *testing.T) {
	p := newFakeProvider()
	p.gate = make(chan struct{})
	p.started = make(chan struct{})
	h := startCoordinator(t, newFakeTransport("abc123"), p)
	ctx := context.Background()
	openIdentity(t, h)

	result := make(chan error, 1)
	go func() { result <- h.c.InitiateSession(ctx, "xyz789") }()

	select {
	case <-p.started:
	case <-time.After(2 * time.Second):
		t.Fatal("acquisition never started")
	}
	require.NoError(t, h.c.EndSession(ctx))
	close(p.gate)

	select {
	case err := <-result:
		require.ErrorIs(t, err, ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("InitiateSession did not return")
	}

	s := h.snapshot(t)
	assert.Equal(t, Idle, s.Phase)
	assert.Nil(t, h.tr.lastChannel())
	assert.Equal(t, h.provider.acquired.Load(), h.provider.stops.Load())
}

func TestConnectTimeoutTearsDown(t *testing.T) {
	h := startCoordinator(t, newFakeTransport("abc123"), newFakeProvider(), WithConnectTimeout(50*time.Millisecond))
	openIdentity(t, h)
	require.NoError(t, h.c.InitiateSession(context.Background(), "xyz789"))

	require.Eventually(t, func() bool {
		return h.snapshot(t).Phase == Idle
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, h.obs.hasNotice(NoticeSessionEnded, ErrConnectTimeout))
	assert.Equal(t, h.provider.acquired.Load(), h.provider.stops.Load())
}

func TestConnectTimeoutStoppedByActivation(t *testing.T) {
	h := startCoordinator(t, newFakeTransport("abc123"), newFakeProvider(), WithConnectTimeout(50*time.Millisecond))
	openIdentity(t, h)
	require.NoError(t, h.c.InitiateSession(context.Background(), "xyz789"))
	h.tr.lastChannel().open()

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, Active, h.snapshot(t).Phase)
}

func TestInboundSessionAnswersMedia(t *testing.T) {
	h := startCoordinator(t, newFakeTransport("abc123"), newFakeProvider())
	openIdentity(t, h)

	ch := &fakeChannel{remote: "peer1"}
	h.tr.ringChannel(ch)
	s := h.snapshot(t)
	assert.Equal(t, Connecting, s.Phase)
	assert.Equal(t, "peer1", s.RemoteID)

	ex := newFakeExchange("peer1")
	h.tr.ringMedia(ex)

	var answered MediaHandle
	select {
	case answered = <-ex.answerCh:
	case <-time.After(2 * time.Second):
		t.Fatal("exchange was never answered")
	}
	require.NotNil(t, answered)

	ex.stream(fakeStream{id: "remote-1", kinds: []MediaKind{Audio, Video}})
	s = h.snapshot(t)
	assert.Equal(t, Active, s.Phase)
	assert.True(t, s.HasLocal)
	assert.True(t, s.HasRemote)
	assert.Equal(t, "remote-1", s.RemoteStream)
	assert.Equal(t, []MediaKind{Audio, Video}, s.RemoteKinds)

	require.NoError(t, h.c.EndSession(context.Background()))
	assert.Equal(t, 1, ch.closeCount())
	assert.Equal(t, 1, ex.closeCount())
	assert.Equal(t, h.provider.acquired.Load(), h.provider.stops.Load())
}

func TestInboundMediaCapabilityFailureKeepsSession(t *testing.T) {
	p := newFakeProvider()
	p.err = errors.New("camera busy")
	h := startCoordinator(t, newFakeTransport("abc123"), p)
	openIdentity(t, h)

	ch := &fakeChannel{remote: "peer1"}
	h.tr.ringChannel(ch)
	ch.open()
	ex := newFakeExchange("peer1")
	h.tr.ringMedia(ex)

	require.Eventually(t, func() bool {
		return h.obs.hasNotice(NoticeError, ErrCapabilityDenied)
	}, 2*time.Second, 10*time.Millisecond)

	s := h.snapshot(t)
	assert.Equal(t, Active, s.Phase)
	assert.False(t, s.HasLocal)
	assert.Empty(t, ex.answered)

	require.NoError(t, h.c.EndSession(context.Background()))
	assert.Equal(t, 1, ex.closeCount())
}

func TestSecondInboundChannelIgnored(t *testing.T) {
	h := startCoordinator(t, newFakeTransport("abc123"), newFakeProvider())
	openIdentity(t, h)

	first := &fakeChannel{remote: "peer1"}
	h.tr.ringChannel(first)
	first.open()

	intruder := &fakeChannel{remote: "peer2"}
	h.tr.ringChannel(intruder)
	again := &fakeChannel{remote: "peer1"}
	h.tr.ringChannel(again)

	s := h.snapshot(t)
	assert.Equal(t, "peer1", s.RemoteID)
	assert.Equal(t, Active, s.Phase)
	assert.Equal(t, 1, intruder.closeCount())
	assert.Equal(t, 0, again.closeCount())
	assert.True(t, h.obs.hasNotice(NoticeIgnored, nil))

	require.NoError(t, h.c.EndSession(context.Background()))
	assert.Equal(t, 1, again.closeCount())
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStrayCloseFailureLogged(t *testing.T) {
	logs := &lockedBuffer{}
	logger := slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := startCoordinator(t, newFakeTransport("abc123"), newFakeProvider(), WithLogger(logger))
	openIdentity(t, h)

	first := &fakeChannel{remote: "peer1"}
	h.tr.ringChannel(first)
	first.open()
	again := &fakeChannel{remote: "peer1", closeErr: errors.New("already gone")}
	h.tr.ringChannel(again)

	require.NoError(t, h.c.EndSession(context.Background()))
	assert.Equal(t, 1, again.closeCount())
	assert.Contains(t, logs.String(), "Stray resource close failed")
	assert.Contains(t, logs.String(), "already gone")
}

func TestExchangeCloseKeepsPhase(t *testing.T) {
	h := startCoordinator(t, newFakeTransport("abc123"), newFakeProvider())
	openIdentity(t, h)
	require.NoError(t, h.c.InitiateSession(context.Background(), "xyz789"))
	ex := h.tr.lastExchange()
	ex.stream(fakeStream{id: "s", kinds: []MediaKind{Video}})
	require.Equal(t, Active, h.snapshot(t).Phase)

	ex.remoteClose()
	s := h.snapshot(t)
	assert.Equal(t, Active, s.Phase)
	assert.False(t, s.HasRemote)
	assert.False(t, s.MediaReady)
}

func TestAssistantNote(t *testing.T) {
	h := startCoordinator(t, newFakeTransport("abc123"), newFakeProvider())
	ctx := context.Background()
	openIdentity(t, h)

	idle := h.snapshot(t)
	require.NoError(t, h.c.AppendAssistantNote(ctx, idle.SessionSeq, "ignored while idle"))
	assert.Empty(t, h.snapshot(t).Transcript)

	require.NoError(t, h.c.InitiateSession(ctx, "xyz789"))
	seq := h.snapshot(t).SessionSeq
	require.NoError(t, h.c.AppendAssistantNote(ctx, seq, "- said hello"))
	s := h.snapshot(t)
	require.Len(t, s.Transcript, 1)
	assert.Equal(t, SenderAssistant, s.Transcript[0].Sender)
	assert.Equal(t, 0, h.tr.lastChannel().sentCount())
}

func TestAssistantNoteStaysWithItsSession(t *testing.T) {
	h := startCoordinator(t, newFakeTransport("abc123"), newFakeProvider())
	ctx := context.Background()
	openIdentity(t, h)

	require.NoError(t, h.c.InitiateSession(ctx, "peerA"))
	h.tr.lastChannel().open()
	first := h.snapshot(t)
	require.Equal(t, Active, first.Phase)

	require.NoError(t, h.c.EndSession(ctx))
	require.NoError(t, h.c.InitiateSession(ctx, "peerB"))
	second := h.snapshot(t)
	require.Equal(t, "peerB", second.RemoteID)
	assert.NotEqual(t, first.SessionSeq, second.SessionSeq)

	require.NoError(t, h.c.AppendAssistantNote(ctx, first.SessionSeq, "summary of A"))
	assert.Empty(t, h.snapshot(t).Transcript, "a note computed for peerA must not reach peerB")

	require.NoError(t, h.c.AppendAssistantNote(ctx, second.SessionSeq, "summary of B"))
	s := h.snapshot(t)
	require.Len(t, s.Transcript, 1)
	assert.Equal(t, "summary of B", s.Transcript[0].Text)
}

func TestRunShutdownReleasesSession(t *testing.T) {
	h := startCoordinator(t, newFakeTransport("abc123"), newFakeProvider())
	openIdentity(t, h)
	require.NoError(t, h.c.InitiateSession(context.Background(), "xyz789"))

	h.stop()
	assert.Equal(t, h.provider.acquired.Load(), h.provider.stops.Load())
	assert.Equal(t, 1, h.tr.lastChannel().closeCount())

	_, err := h.c.Snapshot(context.Background())
	require.ErrorIs(t, err, ErrStopped)
}

func TestRepeatedCyclesDoNotLeak(t *testing.T) {
	h := startCoordinator(t, newFakeTransport("abc123"), newFakeProvider())
	ctx := context.Background()
	openIdentity(t, h)

	for i := 0; i < 5; i++ {
		require.NoError(t, h.c.InitiateSession(ctx, "xyz789"))
		h.tr.lastChannel().open()
		require.NoError(t, h.c.EndSession(ctx))
	}
	assert.Equal(t, int32(10), h.provider.acquired.Load())
	assert.Equal(t, h.provider.acquired.Load(), h.provider.stops.Load())
}
