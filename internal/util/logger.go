package util

import (
	"log/slog"
	"os"
)

var logger *slog.Logger

// InitLogger configures the process-wide logger. Verbose switches debug
// logging on. Log output goes to stderr so it never interleaves with
// rendered console output on stdout.
func InitLogger(verbose bool) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if verbose {
		opts.Level = slog.LevelDebug
	}

	logger = slog.New(slog.NewTextHandler(os.Stderr, opts))
	slog.SetDefault(logger)
}

// GetLogger returns the configured logger instance.
func GetLogger() *slog.Logger {
	if logger == nil {
		InitLogger(IsVerbose())
	}
	return logger
}

// IsVerbose checks if verbose mode was requested on the command line.
func IsVerbose() bool {
	for _, arg := range os.Args {
		if arg == "--verbose" {
			return true
		}
	}
	return false
}
