package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/rescp17/peerCall/internal/config"
	"github.com/rescp17/peerCall/internal/logging"
	"github.com/rescp17/peerCall/internal/telemetry"
)

var version = "dev"

func main() {
	var configFile string
	cmd := &cobra.Command{
		Use:     "peercall",
		Short:   "Peer-to-peer chat and media calls over WebRTC",
		Version: version,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Path to a YAML config file")
	pf.String("log.level", "info", "Log level (debug, info, warn, error)")
	pf.String("log.file", "logs/peercall.log", "Log file; empty logs to stderr")
	pf.Bool("metrics.enabled", false, "Export metrics and traces to metrics.file")
	pf.String("metrics.file", "logs/peercall_metrics.log", "Metrics export file")

	cmd.AddCommand(newServeCmd(&configFile))
	cmd.AddCommand(newCallCmd(&configFile))

	if err := fang.Execute(context.Background(), cmd); err != nil {
		os.Exit(1)
	}
}

// env is what every subcommand sets up before doing its work.
type env struct {
	cfg       *config.Config
	logger    *slog.Logger
	telemetry *telemetry.Telemetry
	closeLog  func() error
}

func setup(ctx context.Context, cmd *cobra.Command, configFile string, forceFile bool) (*env, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	level, _ := config.ParseLevel(cfg.Log.Level)
	file := cfg.Log.File
	if forceFile && file == "" {
		file = "logs/peercall.log"
	}
	logger, closeLog, err := logging.Setup(logging.Options{Level: level, File: file})
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}

	tel, err := telemetry.Setup(ctx, telemetry.Options{
		Enabled:  cfg.Metrics.Enabled,
		File:     cfg.Metrics.File,
		Interval: cfg.Metrics.Interval,
		Version:  version,
	})
	if err != nil {
		_ = closeLog()
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}
	return &env{cfg: cfg, logger: logger, telemetry: tel, closeLog: closeLog}, nil
}

func (r *env) Close() {
	if err := r.telemetry.Shutdown(context.Background()); err != nil {
		r.logger.Warn("Telemetry shutdown failed", "error", err)
	}
	if err := r.closeLog(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
	}
}
