package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/brutella/dnssd"
)

// MDNSAdapter announces and browses relays with multicast DNS.
type MDNSAdapter struct{}

// Announce responds to mDNS queries for service until ctx is cancelled.
func (m *MDNSAdapter) Announce(ctx context.Context, service ServiceInfo) error {
	path := service.Path
	if path == "" {
		path = "/api/ws"
	}
	cfg := dnssd.Config{
		Name:   service.Name,
		Type:   service.Type,
		Domain: service.Domain,
		// the responder answers on every interface when IPs is nil
		IPs:  nil,
		Text: map[string]string{"desc": "peercall signaling relay", "path": path},
		Port: service.Port,
	}

	svc, err := dnssd.NewService(cfg)
	if err != nil {
		return fmt.Errorf("failed to create mDNS service: %w", err)
	}
	rp, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("failed to create mDNS responder: %w", err)
	}
	if _, err = rp.Add(svc); err != nil {
		return fmt.Errorf("failed to add mDNS service: %w", err)
	}

	slog.Info("Announcing relay", "name", service.Name, "type", service.Type, "port", service.Port)
	if err = rp.Respond(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to respond to mDNS service: %w", err)
	}
	slog.Info("Stopped announcing relay", "name", service.Name)
	return nil
}

// Discover browses for service and sends a sorted snapshot after every change.
// Snapshots are dropped when the reader falls behind; the channel closes when
// the lookup ends.
func (m *MDNSAdapter) Discover(ctx context.Context, service string) <-chan DiscoveryResult {
	var (
		mu      sync.Mutex
		entries = make(map[string]ServiceInfo)
		outCh   = make(chan DiscoveryResult, 10)
	)

	send := func(r DiscoveryResult) {
		select {
		case outCh <- r:
		default:
		}
	}
	sendSnapshot := func() {
		snapshot := make([]ServiceInfo, 0, len(entries))
		for _, entry := range entries {
			snapshot = append(snapshot, entry)
		}
		sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].Name < snapshot[j].Name })
		send(DiscoveryResult{Services: snapshot})
	}
	key := func(e dnssd.BrowseEntry) string {
		return fmt.Sprintf("%s:%s:%s", e.Name, e.Type, e.Domain)
	}

	addFn := func(e dnssd.BrowseEntry) {
		if len(e.IPs) == 0 {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		entries[key(e)] = ServiceInfo{
			Name:   e.Name,
			Type:   e.Type,
			Domain: e.Domain,
			Addr:   e.IPs[0],
			Port:   e.Port,
			Path:   e.Text["path"],
		}
		sendSnapshot()
	}
	rmvFn := func(e dnssd.BrowseEntry) {
		mu.Lock()
		defer mu.Unlock()
		delete(entries, key(e))
		sendSnapshot()
	}

	go func() {
		defer close(outCh)
		err := dnssd.LookupType(ctx, service, addFn, rmvFn)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			send(DiscoveryResult{Error: fmt.Errorf("mDNS lookup failed: %w", err)})
		}
	}()

	return outCh
}
