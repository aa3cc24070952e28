package session

import "errors"

var (
	ErrCapabilityDenied      = errors.New("capability denied")
	ErrTransportUnavailable  = errors.New("transport unavailable")
	ErrChannelClosedRemotely = errors.New("channel closed remotely")
	ErrMalformedPayload      = errors.New("malformed payload")

	ErrBusy           = errors.New("a session is already in progress")
	ErrNotReady       = errors.New("local identity not assigned")
	ErrEmptyRemoteID  = errors.New("remote id is empty")
	ErrCancelled      = errors.New("session establishment cancelled")
	ErrStopped        = errors.New("coordinator stopped")
	ErrConnectTimeout = errors.New("peer did not connect in time")
	ErrHangup         = errors.New("session ended locally")
)
