package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rescp17/peerCall/pkg/session"
	"github.com/rescp17/peerCall/pkg/signaling"
)

var ErrNotOpen = errors.New("transport is not open")

// Transport negotiates pion peer connections through the signaling relay.
// Data and media run on separate connections, each with its own connection id.
type Transport struct {
	api     *WebRTCAPI
	address string
	dial    Dialer
	retry   RetryPolicy
	sink    RemoteSink
	logger  *slog.Logger

	mu        sync.Mutex
	client    RelayClient
	links     map[string]*link
	onChannel func(session.Channel)
	onMedia   func(session.MediaExchange)
}

type TransportOption func(*Transport)

func WithDialer(d Dialer) TransportOption {
	return func(t *Transport) { t.dial = d }
}

// WithDialRetry replaces the relay dial retry policy.
func WithDialRetry(p RetryPolicy) TransportOption {
	return func(t *Transport) { t.retry = p }
}

// WithRemoteSink receives the RTP of every remote track.
func WithRemoteSink(s RemoteSink) TransportOption {
	return func(t *Transport) { t.sink = s }
}

func NewTransport(api *WebRTCAPI, relayAddress string, opts ...TransportOption) *Transport {
	t := &Transport{
		api:     api,
		address: relayAddress,
		dial:    DialRelay,
		retry:   DefaultRetryPolicy(),
		logger:  slog.Default().With("module", "webrtc"),
		links:   make(map[string]*link),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Open connects to the relay and returns the identifier it assigned.
func (t *Transport) Open(ctx context.Context) (string, error) {
	t.mu.Lock()
	if t.client != nil {
		id := t.client.ID()
		t.mu.Unlock()
		return id, nil
	}
	t.mu.Unlock()

	client, err := t.dialWithRetry(ctx)
	if err != nil {
		return "", err
	}
	t.mu.Lock()
	t.client = client
	t.mu.Unlock()

	client.OnMessage(t.handleSignal)
	go func() {
		<-client.Done()
		t.logger.Warn("Relay connection closed, failing open links")
		t.closeAll()
	}()
	t.logger.Info("Relay connected", "id", client.ID(), "relay", t.address)
	return client.ID(), nil
}

// Close drops every link and the relay connection.
func (t *Transport) Close() error {
	t.closeAll()
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client != nil {
		return client.Close()
	}
	return nil
}

func (t *Transport) OnInboundChannel(fn func(session.Channel)) {
	t.mu.Lock()
	t.onChannel = fn
	t.mu.Unlock()
}

func (t *Transport) OnInboundMedia(fn func(session.MediaExchange)) {
	t.mu.Lock()
	t.onMedia = fn
	t.mu.Unlock()
}

// ConnectChannel starts a data link to remoteID. The returned channel opens asynchronously.
func (t *Transport) ConnectChannel(remoteID string) (session.Channel, error) {
	l, err := t.newLink(uuid.NewString(), remoteID, kindData)
	if err != nil {
		return nil, err
	}
	ch := newDataChannel(l)
	ordered := true
	dc, err := l.pc.CreateDataChannel(ChatLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		t.dropLink(l)
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	ch.attach(dc)

	if err := l.establish(); err != nil {
		t.dropLink(l)
		return nil, err
	}
	t.logger.Info("Data offer sent", "remote", remoteID, "connection", l.id)
	return ch, nil
}

// CallMedia starts a media link to remoteID carrying the tracks of local.
func (t *Transport) CallMedia(remoteID string, local session.MediaHandle) (session.MediaExchange, error) {
	l, err := t.newLink(uuid.NewString(), remoteID, kindMedia)
	if err != nil {
		return nil, err
	}
	ex := newMediaExchange(l, t.sink, nil)

	if err := addLocalTracks(l, local); err != nil {
		t.dropLink(l)
		return nil, err
	}
	if err := l.establish(); err != nil {
		t.dropLink(l)
		return nil, err
	}
	t.logger.Info("Media offer sent", "remote", remoteID, "connection", l.id)
	return ex, nil
}

func (t *Transport) newLink(id, remote, kind string) (*link, error) {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil {
		return nil, ErrNotOpen
	}

	l, err := t.api.newLink(id, remote, kind, &relaySignaler{client: client, to: remote, connectionID: id, kind: kind})
	if err != nil {
		return nil, err
	}
	l.release = func() { t.forget(id) }
	t.mu.Lock()
	t.links[id] = l
	t.mu.Unlock()
	return l, nil
}

func (t *Transport) lookup(id string) *link {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.links[id]
}

func (t *Transport) forget(id string) {
	t.mu.Lock()
	delete(t.links, id)
	t.mu.Unlock()
}

func (t *Transport) dropLink(l *link) {
	l.fail()
}

func (t *Transport) closeAll() {
	t.mu.Lock()
	links := make([]*link, 0, len(t.links))
	for _, l := range t.links {
		links = append(links, l)
	}
	t.mu.Unlock()
	for _, l := range links {
		l.fail()
	}
}

func (t *Transport) handleSignal(msg signaling.Message) {
	switch msg.Type {
	case signaling.TypeOffer:
		t.handleOffer(msg)
	case signaling.TypeAnswer:
		t.handleAnswer(msg)
	case signaling.TypeCandidate:
		t.handleCandidate(msg)
	case signaling.TypeLeave:
		if l := t.lookup(msg.ConnectionID); l != nil {
			t.logger.Info("Peer left", "remote", msg.From, "connection", msg.ConnectionID)
			l.fail()
		}
	case signaling.TypeError:
		t.logger.Warn("Relay error", "error", msg.Error, "connection", msg.ConnectionID)
		if msg.Error == signaling.ErrPeerUnavailable {
			if l := t.lookup(msg.ConnectionID); l != nil {
				l.fail()
			}
		}
	case signaling.TypePong:
	default:
		t.logger.Debug("Ignoring relay frame", "type", msg.Type)
	}
}

func (t *Transport) handleOffer(msg signaling.Message) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(msg.Payload, &offer); err != nil {
		t.logger.Warn("Bad offer payload", "from", msg.From, "error", err)
		return
	}
	if t.lookup(msg.ConnectionID) != nil {
		t.logger.Warn("Duplicate offer", "connection", msg.ConnectionID)
		return
	}
	l, err := t.newLink(msg.ConnectionID, msg.From, msg.Kind)
	if err != nil {
		t.logger.Error("Failed to accept offer", "from", msg.From, "error", err)
		return
	}

	t.mu.Lock()
	onChannel, onMedia := t.onChannel, t.onMedia
	t.mu.Unlock()

	switch msg.Kind {
	case kindData:
		ch := newDataChannel(l)
		l.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if dc.Label() != ChatLabel {
				t.logger.Debug("Ignoring data channel", "label", dc.Label())
				return
			}
			ch.attach(dc)
			if onChannel != nil {
				onChannel(ch)
			} else {
				_ = ch.Close()
			}
		})
		if err := l.acceptOffer(offer, nil); err != nil {
			t.logger.Error("Failed to answer data offer", "from", msg.From, "error", err)
			t.dropLink(l)
		}
	case kindMedia:
		ex := newMediaExchange(l, t.sink, &offer)
		if onMedia == nil {
			_ = ex.Close()
			return
		}
		onMedia(ex)
	default:
		t.logger.Warn("Offer with unknown kind", "kind", msg.Kind)
		t.dropLink(l)
	}
}

func (t *Transport) handleAnswer(msg signaling.Message) {
	l := t.lookup(msg.ConnectionID)
	if l == nil {
		t.logger.Debug("Answer for unknown connection", "connection", msg.ConnectionID)
		return
	}
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(msg.Payload, &answer); err != nil {
		t.logger.Warn("Bad answer payload", "from", msg.From, "error", err)
		return
	}
	if err := l.setRemote(answer); err != nil {
		t.logger.Error("Failed to apply answer", "connection", l.id, "error", err)
		t.dropLink(l)
	}
}

func (t *Transport) handleCandidate(msg signaling.Message) {
	l := t.lookup(msg.ConnectionID)
	if l == nil {
		return
	}
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(msg.Payload, &c); err != nil {
		t.logger.Warn("Bad candidate payload", "from", msg.From, "error", err)
		return
	}
	if err := l.addICECandidate(c); err != nil {
		t.logger.Warn("Failed to add ICE candidate", "connection", l.id, "error", err)
	}
}
