package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
)

const (
	RelayServiceType = "_peercall-signal._tcp"
	DefaultDomain    = "local"
)

var ErrNoRelay = errors.New("no signaling relay found on the local network")

// ServiceInfo describes one announced relay.
type ServiceInfo struct {
	Name   string // instance name
	Type   string // e.g. "_peercall-signal._tcp"
	Domain string // e.g. "local"
	Addr   net.IP
	Port   int
	// Path is the WebSocket path advertised in the TXT record.
	Path string
}

// URL is the relay WebSocket address the client dials.
func (s ServiceInfo) URL() string {
	path := s.Path
	if path == "" {
		path = "/api/ws"
	}
	return "ws://" + net.JoinHostPort(s.Addr.String(), strconv.Itoa(s.Port)) + path
}

// LookupName is the DNS-SD browse name for a service type in a domain.
func LookupName(serviceType, domain string) string {
	return fmt.Sprintf("%s.%s.", serviceType, domain)
}

type Adapter interface {
	Announce(ctx context.Context, service ServiceInfo) error
	Discover(ctx context.Context, service string) <-chan DiscoveryResult
}

// DiscoveryResult carries either the current set of services or a lookup error.
type DiscoveryResult struct {
	Services []ServiceInfo
	Error    error
}

// FindRelay browses until the first relay is seen or ctx ends.
func FindRelay(ctx context.Context, a Adapter) (ServiceInfo, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := a.Discover(ctx, LookupName(RelayServiceType, DefaultDomain))
	for {
		select {
		case <-ctx.Done():
			return ServiceInfo{}, fmt.Errorf("%w: %w", ErrNoRelay, ctx.Err())
		case r, ok := <-results:
			if !ok {
				return ServiceInfo{}, ErrNoRelay
			}
			if r.Error != nil {
				return ServiceInfo{}, r.Error
			}
			if len(r.Services) > 0 {
				return r.Services[0], nil
			}
		}
	}
}
