package media

import (
	"fmt"

	"github.com/rescp17/peerCall/pkg/session"
)

// Source names accepted by NewProvider.
const (
	SourceSynthetic = "synthetic"
	SourceFile      = "file"
	SourceDevice    = "device"
)

// NewProvider builds the capability provider for source.
func NewProvider(source, videoFile, audioFile string) (session.CapabilityProvider, error) {
	switch source {
	case "", SourceSynthetic:
		return Synthetic{}, nil
	case SourceFile:
		if videoFile == "" && audioFile == "" {
			return nil, fmt.Errorf("media source %q needs a video or audio file", source)
		}
		return File{VideoPath: videoFile, AudioPath: audioFile}, nil
	case SourceDevice:
		if !DeviceAvailable {
			return nil, fmt.Errorf("media source %q requires a build with -tags mediadevices", source)
		}
		return Device{}, nil
	default:
		return nil, fmt.Errorf("unknown media source %q", source)
	}
}
