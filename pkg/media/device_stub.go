//go:build !mediadevices

package media

import (
	"context"
	"fmt"

	"github.com/rescp17/peerCall/pkg/session"
)

// DeviceAvailable reports whether capture hardware support was compiled in.
const DeviceAvailable = false

// Device needs a build with -tags mediadevices.
type Device struct{}

func (Device) Acquire(context.Context, session.Constraints) (session.MediaHandle, error) {
	return nil, fmt.Errorf("%w: built without camera and microphone support", session.ErrCapabilityDenied)
}
