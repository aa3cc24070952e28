// Package logging wires slog to a rotating log file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Options select where logs go. An empty File logs to stderr.
type Options struct {
	Level slog.Level
	File  string
}

// Setup installs a JSON slog handler as the default logger. slog.SetDefault
// also routes the standard log package through it. The returned func closes
// the file.
func Setup(opts Options) (*slog.Logger, func() error, error) {
	var (
		w       io.Writer = os.Stderr
		closeFn           = func() error { return nil }
	)
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create logs directory: %w", err)
		}
		rotating := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		}
		w, closeFn = rotating, rotating.Close
	}

	logger := New(w, opts.Level)
	slog.SetDefault(logger)
	return logger, closeFn, nil
}

// New builds a JSON logger writing to w.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}
