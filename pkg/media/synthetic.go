package media

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/rescp17/peerCall/pkg/session"
)

const frameDuration = 20 * time.Millisecond

// opusSilence is a single Opus frame decoding to 20 ms of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

var (
	opusCapability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	vp8Capability  = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
)

// Synthetic produces tracks without any capture hardware: the audio track
// streams Opus silence and the video track is negotiated but idle.
type Synthetic struct {
	// NoAudio and NoVideo make the matching kind unavailable.
	NoAudio bool
	NoVideo bool
}

func (s Synthetic) Acquire(ctx context.Context, c session.Constraints) (session.MediaHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	audio, video, err := grant(c, !s.NoAudio, !s.NoVideo)
	if err != nil {
		return nil, err
	}

	streamID := "peercall-" + uuid.NewString()
	var tracks []*Track
	if audio {
		t, err := newSampleTrack(session.Audio, opusCapability, streamID)
		if err != nil {
			return nil, err
		}
		t.run(func() { writeSilence(t) })
		tracks = append(tracks, t)
	}
	if video {
		t, err := newSampleTrack(session.Video, vp8Capability, streamID)
		if err != nil {
			newHandle(tracks...).Stop()
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return newHandle(tracks...), nil
}

func newSampleTrack(kind session.MediaKind, codec webrtc.RTPCodecCapability, streamID string) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(codec, string(kind), streamID)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}
	return newTrack(kind, local), nil
}

// writeSilence paces silence frames until the track stops.
func writeSilence(t *Track) {
	sample := t.local.(*webrtc.TrackLocalStaticSample)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			_ = sample.WriteSample(pionmedia.Sample{Data: opusSilence, Duration: frameDuration})
		}
	}
}
