// Package common holds shared build metadata and the logging setup used by
// every iapgw binary.
package common

import (
	"log/slog"
	"os"
)

// PackageName tags metrics and logs emitted by this module.
const PackageName = "iapgw"

// Version is set at build time via -ldflags.
var Version = "dev"

// LoggingOpts configures the process-wide slog logger.
type LoggingOpts struct {
	// Debug enables debug-level messages.
	Debug bool

	// JSON emits structured JSON instead of text.
	JSON bool

	// Service is added as a 'service' attribute on all messages.
	Service string

	// Version is added as a 'version' attribute on all messages.
	Version string
}

// SetupLogger creates a slog logger writing to stderr according to opts.
func SetupLogger(opts *LoggingOpts) *slog.Logger {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger := slog.New(handler)
	if opts.Service != "" {
		logger = logger.With("service", opts.Service)
	}
	if opts.Version != "" {
		logger = logger.With("version", opts.Version)
	}
	return logger
}
