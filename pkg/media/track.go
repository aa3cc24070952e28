// Package media provides the local capture sources a session sends to its peer.
package media

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/rescp17/peerCall/pkg/session"
)

// Track is one local track. Its writer goroutine runs until Stop.
type Track struct {
	kind    session.MediaKind
	local   webrtc.TrackLocal
	enabled atomic.Bool

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

func newTrack(kind session.MediaKind, local webrtc.TrackLocal) *Track {
	t := &Track{kind: kind, local: local, done: make(chan struct{})}
	t.enabled.Store(true)
	return t
}

func (t *Track) Kind() session.MediaKind { return t.kind }

func (t *Track) Enabled() bool { return t.enabled.Load() }

// SetEnabled mutes the track. A muted audio track sends silence, a muted video track sends nothing.
func (t *Track) SetEnabled(v bool) { t.enabled.Store(v) }

// TrackLocal is the pion track added to peer connections.
func (t *Track) TrackLocal() webrtc.TrackLocal { return t.local }

// Stop ends the writer and waits for it to exit. It is safe to call more than once.
func (t *Track) Stop() {
	t.stopOnce.Do(func() { close(t.done) })
	t.wg.Wait()
}

func (t *Track) stopped() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// run starts fn as the writer of t.
func (t *Track) run(fn func()) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		fn()
	}()
}

// Handle owns the tracks of one acquisition.
type Handle struct {
	tracks []session.Track
	once   sync.Once
}

func newHandle(tracks ...*Track) *Handle {
	h := &Handle{}
	for _, t := range tracks {
		h.tracks = append(h.tracks, t)
	}
	return h
}

func (h *Handle) Tracks() []session.Track { return h.tracks }

// Stop stops every track once.
func (h *Handle) Stop() {
	h.once.Do(func() {
		for _, t := range h.tracks {
			t.Stop()
		}
	})
}

// grant resolves which of the wanted kinds can be served from what is available.
func grant(want session.Constraints, audioOK, videoOK bool) (audio, video bool, err error) {
	audio = want.Audio && audioOK
	video = want.Video && videoOK
	if !audio && !video {
		return false, false, session.ErrCapabilityDenied
	}
	return audio, video, nil
}
