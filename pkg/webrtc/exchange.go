package webrtc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rescp17/peerCall/pkg/session"
)

var ErrNotAnswerable = errors.New("media exchange has no pending offer")

// LocalTrack is implemented by local tracks that can be sent over a peer connection.
type LocalTrack interface {
	TrackLocal() webrtc.TrackLocal
}

// RemoteSink consumes RTP received from the peer.
type RemoteSink interface {
	WriteRTP(kind session.MediaKind, pkt *rtp.Packet)
}

type remoteStream struct {
	id    string
	kinds []session.MediaKind
}

func (s remoteStream) StreamID() string           { return s.id }
func (s remoteStream) Kinds() []session.MediaKind { return s.kinds }

// mediaExchange is one media link. Inbound exchanges hold the offer until answered.
type mediaExchange struct {
	link *link
	sink RemoteSink

	mu       sync.Mutex
	offer    *webrtc.SessionDescription
	answered bool
	streamID string
	kinds    map[session.MediaKind]bool
	onStream func(session.RemoteStream)
	onClose  func()
	closed   bool
}

func newMediaExchange(l *link, sink RemoteSink, offer *webrtc.SessionDescription) *mediaExchange {
	ex := &mediaExchange{
		link:  l,
		sink:  sink,
		offer: offer,
		kinds: make(map[session.MediaKind]bool),
	}
	l.onClosed = ex.closedByLink
	l.pc.OnTrack(ex.handleTrack)
	return ex
}

func (e *mediaExchange) RemoteID() string { return e.link.remote }

// Answer accepts an inbound exchange with the given local source.
func (e *mediaExchange) Answer(local session.MediaHandle) error {
	e.mu.Lock()
	offer := e.offer
	if offer == nil || e.answered {
		e.mu.Unlock()
		return ErrNotAnswerable
	}
	e.answered = true
	e.mu.Unlock()

	return e.link.acceptOffer(*offer, func() error {
		return addLocalTracks(e.link, local)
	})
}

func (e *mediaExchange) OnStream(fn func(session.RemoteStream)) {
	e.mu.Lock()
	e.onStream = fn
	var pending session.RemoteStream
	if len(e.kinds) > 0 {
		pending = e.streamLocked()
	}
	e.mu.Unlock()
	if pending != nil && fn != nil {
		fn(pending)
	}
}

func (e *mediaExchange) OnClose(fn func()) {
	e.mu.Lock()
	e.onClose = fn
	closed := e.closed
	e.mu.Unlock()
	if closed && fn != nil {
		fn()
	}
}

func (e *mediaExchange) Close() error {
	return e.link.close()
}

func (e *mediaExchange) closedByLink() {
	e.mu.Lock()
	e.closed = true
	fn := e.onClose
	e.mu.Unlock()
	e.link.logger.Info("Media exchange closed", "remote", e.link.remote)
	if fn != nil {
		fn()
	}
}

func (e *mediaExchange) streamLocked() session.RemoteStream {
	rs := remoteStream{id: e.streamID}
	for _, k := range []session.MediaKind{session.Audio, session.Video} {
		if e.kinds[k] {
			rs.kinds = append(rs.kinds, k)
		}
	}
	return rs
}

func (e *mediaExchange) handleTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	kind := session.Audio
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		kind = session.Video
		pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}}
		if err := e.link.pc.WriteRTCP(pli); err != nil {
			e.link.logger.Debug("Failed to send PLI", "error", err)
		}
	}
	e.link.logger.Info("Remote track", "kind", kind, "codec", track.Codec().MimeType, "stream", track.StreamID())

	e.mu.Lock()
	if e.streamID == "" {
		e.streamID = track.StreamID()
	}
	e.kinds[kind] = true
	rs := e.streamLocked()
	fn := e.onStream
	e.mu.Unlock()
	if fn != nil {
		fn(rs)
	}

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if e.sink != nil {
			e.sink.WriteRTP(kind, pkt)
		}
	}
}

// addLocalTracks adds every sendable track of local to the link's connection.
func addLocalTracks(l *link, local session.MediaHandle) error {
	if local == nil {
		return nil
	}
	added := 0
	for _, t := range local.Tracks() {
		lt, ok := t.(LocalTrack)
		if !ok {
			continue
		}
		sender, err := l.pc.AddTrack(lt.TrackLocal())
		if err != nil {
			return fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
		added++
		go drainRTCP(sender)
	}
	l.logger.Debug("Local tracks added", "count", added)
	return nil
}

// drainRTCP reads sender RTCP so interceptors keep processing it.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
