package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rescp17/peerCall/pkg/session"
)

var ivfSignature = []byte("DKIF")

// File streams VP8 from an IVF file and Opus from an Ogg file, looping both.
// An empty path makes that kind unavailable.
type File struct {
	VideoPath string
	AudioPath string
}

func (f File) Acquire(ctx context.Context, c session.Constraints) (session.MediaHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	videoOK := f.VideoPath != "" && checkIVF(f.VideoPath) == nil
	audioOK := f.AudioPath != "" && checkOgg(f.AudioPath) == nil
	audio, video, err := grant(c, audioOK, videoOK)
	if err != nil {
		return nil, fmt.Errorf("%w: no usable media files", err)
	}

	streamID := "peercall-" + uuid.NewString()
	var tracks []*Track
	if audio {
		t, err := newSampleTrack(session.Audio, opusCapability, streamID)
		if err != nil {
			return nil, err
		}
		t.run(func() { loopFile(t, f.AudioPath, streamOgg) })
		tracks = append(tracks, t)
	}
	if video {
		t, err := newSampleTrack(session.Video, vp8Capability, streamID)
		if err != nil {
			newHandle(tracks...).Stop()
			return nil, err
		}
		t.run(func() { loopFile(t, f.VideoPath, streamIVF) })
		tracks = append(tracks, t)
	}
	return newHandle(tracks...), nil
}

// checkIVF verifies the IVF signature and the VP8 fourcc.
func checkIVF(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	head := make([]byte, 4)
	if _, err := io.ReadFull(file, head); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if !bytes.Equal(head, ivfSignature) {
		return fmt.Errorf("%s is not an IVF file", path)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, header, err := ivfreader.NewWith(file)
	if err != nil {
		return fmt.Errorf("parse IVF header: %w", err)
	}
	if header.FourCC != "VP80" {
		return fmt.Errorf("%s holds %s, want VP80", path, header.FourCC)
	}
	return nil
}

// checkOgg sniffs the file type.
func checkOgg(path string) error {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return err
	}
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("application/ogg") || m.Is("audio/ogg") {
			return nil
		}
	}
	return fmt.Errorf("%s is %s, want ogg", path, mt.String())
}

type streamer func(t *Track, r io.Reader) error

// loopFile replays path into t until the track stops.
func loopFile(t *Track, path string, stream streamer) {
	logger := slog.Default().With("module", "media", "file", path)
	for !t.stopped() {
		file, err := os.Open(path)
		if err != nil {
			logger.Error("Failed to open media file", "error", err)
			return
		}
		err = stream(t, file)
		file.Close()
		if err != nil && !errors.Is(err, io.EOF) {
			logger.Error("Media file playback stopped", "error", err)
			return
		}
	}
}

func streamIVF(t *Track, r io.Reader) error {
	sample := t.local.(*webrtc.TrackLocalStaticSample)
	reader, header, err := ivfreader.NewWith(r)
	if err != nil {
		return err
	}
	frameTime := frameDuration
	if header.TimebaseDenominator > 0 {
		frameTime = time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	}

	ticker := time.NewTicker(frameTime)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return nil
		case <-ticker.C:
		}
		frame, _, err := reader.ParseNextFrame()
		if err != nil {
			return err
		}
		if !t.Enabled() {
			continue
		}
		_ = sample.WriteSample(pionmedia.Sample{Data: frame, Duration: frameTime})
	}
}

func streamOgg(t *Track, r io.Reader) error {
	sample := t.local.(*webrtc.TrackLocalStaticSample)
	reader, _, err := oggreader.NewWith(r)
	if err != nil {
		return err
	}

	var lastGranule uint64
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return nil
		case <-ticker.C:
		}
		page, header, err := reader.ParseNextPage()
		if err != nil {
			return err
		}
		duration := frameDuration
		if g := header.GranulePosition; g > lastGranule {
			duration = time.Duration(float64(g-lastGranule) / 48000 * float64(time.Second))
			lastGranule = g
		}

		data := page
		if !t.Enabled() {
			data = opusSilence
		}
		_ = sample.WriteSample(pionmedia.Sample{Data: data, Duration: duration})
	}
}
