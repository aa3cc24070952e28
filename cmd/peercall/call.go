package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	pion "github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rescp17/peerCall/pkg/assistant"
	"github.com/rescp17/peerCall/pkg/call"
	"github.com/rescp17/peerCall/pkg/discovery"
	"github.com/rescp17/peerCall/pkg/media"
	"github.com/rescp17/peerCall/pkg/session"
	"github.com/rescp17/peerCall/pkg/ui"
	"github.com/rescp17/peerCall/pkg/webrtc"
)

const (
	discoverTimeout = 5 * time.Second
	statsInterval   = time.Second
)

func newCallCmd(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call [remote-id]",
		Short: "Open the call client, optionally dialing remote-id right away",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd.Context(), cmd, *configFile, true)
			if err != nil {
				return err
			}
			defer e.Close()

			var remote string
			if len(args) == 1 {
				remote = args[0]
			}
			return runCall(cmd.Context(), e, remote)
		},
	}

	f := cmd.Flags()
	f.String("signal.url", "", "Relay address; discovered over mDNS when empty")
	f.Bool("signal.discover", true, "Browse for a relay when signal.url is empty")
	f.String("media.source", media.SourceSynthetic, "Local media source (synthetic, file, device)")
	f.String("media.video_file", "", "IVF file for the file source")
	f.String("media.audio_file", "", "Ogg/Opus file for the file source")
	f.Bool("ice.mdns", true, "Use mDNS host candidates")
	f.Duration("session.connect_timeout", 0, "Give up on a pending session after this long; 0 waits forever")
	f.String("assistant.model", "gemini-2.5-flash", "Gemini model for summaries and replies")
	return cmd
}

func runCall(ctx context.Context, e *env, remote string) error {
	relay, err := resolveRelay(ctx, e)
	if err != nil {
		return err
	}

	api, err := webrtc.NewWebRTCAPI(webrtc.Config{
		ICEServers:   []pion.ICEServer{{URLs: e.cfg.ICE.Servers}},
		MulticastDNS: e.cfg.ICE.MDNS,
	})
	if err != nil {
		return fmt.Errorf("create webrtc api: %w", err)
	}
	stats := webrtc.NewRTPStats()
	transport := webrtc.NewTransport(api, relay, webrtc.WithRemoteSink(stats))
	defer func() {
		if err := transport.Close(); err != nil {
			e.logger.Warn("Failed to close transport", "error", err)
		}
	}()

	provider, err := media.NewProvider(e.cfg.Media.Source, e.cfg.Media.VideoFile, e.cfg.Media.AudioFile)
	if err != nil {
		return err
	}

	helper, err := assistant.New(ctx, e.cfg.Assistant.APIKey,
		assistant.WithModel(e.cfg.Assistant.Model),
		assistant.WithTracer(e.telemetry.Tracer),
		assistant.WithLogger(e.logger.With("module", "assistant")),
	)
	if err != nil {
		return fmt.Errorf("create assistant: %w", err)
	}
	if !helper.Enabled() {
		e.logger.Info("Assistant disabled, no API key configured")
	}

	opts := []call.Option{
		call.WithAssistant(helper),
		call.WithStats(stats, statsInterval),
		call.WithLogger(e.logger.With("module", "call")),
	}
	if remote != "" {
		opts = append(opts, call.WithInitialRemote(remote))
	}
	app := call.NewApp(func(o session.Observer) call.Coordinator {
		return session.New(transport, provider,
			session.WithObserver(o),
			session.WithLogger(e.logger.With("module", "session")),
			session.WithMeter(e.telemetry.Meter),
			session.WithConnectTimeout(e.cfg.Session.ConnectTimeout),
		)
	}, opts...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p := tea.NewProgram(ui.InitialModel(app), tea.WithAltScreen())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := app.Run(gctx)
		p.Quit()
		return err
	})
	g.Go(func() error {
		defer cancel()
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("run ui: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// resolveRelay prefers the configured address and falls back to mDNS browsing.
func resolveRelay(ctx context.Context, e *env) (string, error) {
	if e.cfg.Signal.URL != "" {
		return e.cfg.Signal.URL, nil
	}
	if !e.cfg.Signal.Discover {
		return "", errors.New("no relay configured: set signal.url or enable signal.discover")
	}

	ctx, cancel := context.WithTimeout(ctx, discoverTimeout)
	defer cancel()
	info, err := discovery.FindRelay(ctx, &discovery.MDNSAdapter{})
	if err != nil {
		return "", fmt.Errorf("discover relay: %w", err)
	}
	e.logger.Info("Discovered relay", "name", info.Name, "url", info.URL())
	return info.URL(), nil
}
