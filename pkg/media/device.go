//go:build mediadevices

package media

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rescp17/peerCall/pkg/session"
)

const rtpMTU = 1200

// DeviceAvailable reports whether capture hardware support was compiled in.
const DeviceAvailable = true

// Device captures the camera and microphone through pion/mediadevices.
type Device struct{}

func (Device) Acquire(ctx context.Context, c session.Constraints) (session.MediaHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := slog.Default().With("module", "media", "source", "device")

	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}
	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	type attempt struct {
		video, audio bool
		label        string
	}
	for _, a := range []attempt{
		{c.Video, c.Audio, "video+audio"},
		{c.Video, false, "video-only"},
		{false, c.Audio, "audio-only"},
	} {
		if !a.video && !a.audio {
			continue
		}
		constraints := mediadevices.MediaStreamConstraints{Codec: selector}
		if a.video {
			constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
				mc.FrameFormat = prop.FrameFormatOneOf{frame.FormatYUYV, frame.FormatI420, frame.FormatI444, frame.FormatRGBA}
				mc.Width = prop.IntRanged{Max: 640}
				mc.Height = prop.IntRanged{Max: 480}
			}
		}
		if a.audio {
			constraints.Audio = func(*mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			logger.Warn("GetUserMedia failed", "attempt", a.label, "error", err)
			continue
		}
		handle, err := relayDeviceTracks(stream.GetTracks())
		if err != nil {
			logger.Warn("Device track unusable", "attempt", a.label, "error", err)
			continue
		}
		logger.Info("Local media captured", "attempt", a.label, "tracks", len(handle.Tracks()))
		return handle, nil
	}
	return nil, fmt.Errorf("%w: no camera or microphone could be opened", session.ErrCapabilityDenied)
}

// relayDeviceTracks copies encoded RTP from each device track into a static
// RTP track so muting can drop packets.
func relayDeviceTracks(devs []mediadevices.Track) (*Handle, error) {
	streamID := "peercall-device"
	var tracks []*Track
	closeAll := func() {
		newHandle(tracks...).Stop()
		for _, d := range devs {
			_ = d.Close()
		}
	}

	for _, d := range devs {
		kind, capability := session.Audio, opusCapability
		if d.Kind() == webrtc.RTPCodecTypeVideo {
			kind, capability = session.Video, vp8Capability
		}
		reader, err := d.NewRTPReader(capability.MimeType, 0, rtpMTU)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("open %s encoder: %w", kind, err)
		}
		local, err := webrtc.NewTrackLocalStaticRTP(capability, string(kind), streamID)
		if err != nil {
			_ = reader.Close()
			closeAll()
			return nil, err
		}

		t := newTrack(kind, local)
		dev := d
		t.run(func() {
			defer dev.Close()
			pump(t, local, reader)
		})
		go func() {
			<-t.done
			_ = reader.Close()
		}()
		tracks = append(tracks, t)
	}
	if len(tracks) == 0 {
		return nil, session.ErrCapabilityDenied
	}
	return newHandle(tracks...), nil
}

func pump(t *Track, local *webrtc.TrackLocalStaticRTP, reader mediadevices.RTPReadCloser) {
	for {
		pkts, release, err := reader.Read()
		if err != nil {
			return
		}
		if t.Enabled() {
			for _, p := range pkts {
				_ = local.WriteRTP(p)
			}
		}
		release()
		if t.stopped() {
			return
		}
	}
}
