package webrtc

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pion/ice/v4"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

const (
	MTU uint = 1400

	// ChatLabel is the label of the data channel carrying chat payloads.
	ChatLabel = "chat"
)

// Config holds the settings shared by every peer connection.
type Config struct {
	ICEServers []webrtc.ICEServer
	// MulticastDNS hides host candidates behind .local names and resolves the peer's.
	MulticastDNS bool
	// IncludeLoopback gathers loopback candidates, for same-host sessions.
	IncludeLoopback bool
}

// WebRTCAPI owns the pion APIs used for data and media connections.
type WebRTCAPI struct {
	data   *webrtc.API
	media  *webrtc.API
	config Config
}

func NewWebRTCAPI(config Config) (*WebRTCAPI, error) {
	settings := webrtc.SettingEngine{}
	if config.MulticastDNS {
		settings.SetICEMulticastDNSMode(ice.MulticastDNSModeQueryAndGather)
	} else {
		settings.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	}
	settings.SetReceiveMTU(MTU)
	settings.SetIncludeLoopbackCandidate(config.IncludeLoopback)

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	return &WebRTCAPI{
		data: webrtc.NewAPI(webrtc.WithSettingEngine(settings)),
		media: webrtc.NewAPI(
			webrtc.WithSettingEngine(settings),
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(registry),
		),
		config: config,
	}, nil
}

func (a *WebRTCAPI) createPeerConnection(kind string) (*webrtc.PeerConnection, error) {
	servers := a.config.ICEServers
	if len(servers) == 0 {
		servers = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	api := a.data
	if kind == kindMedia {
		api = a.media
	}
	return api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
}

// link is one negotiated peer connection. Candidates that arrive before the
// remote description are held until it is applied.
type link struct {
	id       string
	remote   string
	kind     string
	pc       *webrtc.PeerConnection
	signaler Signaler
	logger   *slog.Logger

	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	closed   atomic.Bool
	release  func()
	onClosed func()
}

func (a *WebRTCAPI) newLink(id, remote, kind string, signaler Signaler) (*link, error) {
	pc, err := a.createPeerConnection(kind)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	l := &link{
		id:       id,
		remote:   remote,
		kind:     kind,
		pc:       pc,
		signaler: signaler,
		logger:   slog.Default().With("module", "webrtc", "connection", id, "kind", kind),
	}
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := signaler.SendICECandidate(c.ToJSON()); err != nil {
			l.logger.Warn("Failed to send ICE candidate", "error", err)
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		l.logger.Debug("Peer connection state", "state", s.String())
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			l.fail()
		}
	})
	return l, nil
}

// establish creates and sends the offer.
func (l *link) establish() error {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("fail to createOffer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("fail to set local description: %w", err)
	}
	if err := l.signaler.SendOffer(offer); err != nil {
		return fmt.Errorf("fail to send offer: %w", err)
	}
	return nil
}

// acceptOffer applies a remote offer and sends back the answer.
func (l *link) acceptOffer(offer webrtc.SessionDescription, beforeAnswer func() error) error {
	if err := l.setRemote(offer); err != nil {
		return err
	}
	if beforeAnswer != nil {
		if err := beforeAnswer(); err != nil {
			return err
		}
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("failed to set local description for answer: %w", err)
	}
	if err := l.signaler.SendAnswer(answer); err != nil {
		return fmt.Errorf("fail to send answer: %w", err)
	}
	return nil
}

func (l *link) setRemote(desc webrtc.SessionDescription) error {
	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	l.mu.Lock()
	l.remoteSet = true
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, c := range pending {
		if err := l.pc.AddICECandidate(c); err != nil {
			l.logger.Warn("Failed to add queued ICE candidate", "error", err)
		}
	}
	return nil
}

// addICECandidate adds a candidate from the peer, or queues it until the remote description is set.
func (l *link) addICECandidate(c webrtc.ICECandidateInit) error {
	l.mu.Lock()
	if !l.remoteSet {
		l.pending = append(l.pending, c)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()
	if err := l.pc.AddICECandidate(c); err != nil {
		return fmt.Errorf("failed to add ice candidate: %w", err)
	}
	return nil
}

func (l *link) pendingCandidates() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// fail closes the connection and runs the close hooks once.
func (l *link) fail() {
	if !l.closed.CompareAndSwap(false, true) {
		return
	}
	if err := l.pc.Close(); err != nil {
		l.logger.Debug("Closing peer connection", "error", err)
	}
	if l.release != nil {
		l.release()
	}
	if l.onClosed != nil {
		l.onClosed()
	}
}

// close tells the peer we are leaving, then fails the link.
func (l *link) close() error {
	if l.closed.Load() {
		return nil
	}
	if err := l.signaler.SendLeave(); err != nil {
		l.logger.Debug("Failed to send leave", "error", err)
	}
	l.fail()
	return nil
}
