package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rescp17/peerCall/pkg/discovery"
	"github.com/rescp17/peerCall/pkg/signaling"
)

func newServeCmd(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the signaling relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := setup(ctx, cmd, *configFile, false)
			if err != nil {
				return err
			}
			defer e.Close()
			return serve(ctx, e)
		},
	}

	f := cmd.Flags()
	f.String("server.addr", ":8089", "Address the relay listens on")
	f.String("server.mode", "release", "Gin mode (debug, release, test)")
	f.Int("server.rate_limit", 50, "Frames per peer per rate interval; 0 disables limiting")
	f.Bool("server.announce", true, "Announce the relay over mDNS")
	return cmd
}

func serve(ctx context.Context, e *env) error {
	sc := e.cfg.Server
	srv := signaling.NewServer(signaling.ServerConfig{
		Addr:         sc.Addr,
		Mode:         sc.Mode,
		ReadLimit:    sc.ReadLimit,
		PingPeriod:   sc.PingPeriod,
		RateLimit:    sc.RateLimit,
		RateInterval: sc.RateInterval,
	},
		signaling.WithServerLogger(e.logger.With("module", "signal")),
		signaling.WithServerMeter(e.telemetry.Meter),
	)

	ln, err := net.Listen("tcp", sc.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", sc.Addr, err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(ctx, ln)
	})
	if sc.Announce {
		g.Go(func() error {
			announce(ctx, e, port)
			return nil
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// announce advertises the relay until ctx ends. Failures only disable discovery.
func announce(ctx context.Context, e *env, port int) {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "relay"
	}
	info := discovery.ServiceInfo{
		Name:   "peercall-" + host,
		Type:   discovery.RelayServiceType,
		Domain: discovery.DefaultDomain,
		Port:   port,
	}
	adapter := &discovery.MDNSAdapter{}
	if err := adapter.Announce(ctx, info); err != nil {
		e.logger.Warn("Relay announcement failed", "error", err)
	}
}
