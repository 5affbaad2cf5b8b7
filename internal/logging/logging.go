package logging

import (
	"io"
	"os"
	"strings"

	"github.com/aelpxy/vaultkeep/internal/config"
	"github.com/charmbracelet/log"
)

// New builds the process logger. It writes to stderr so stdout stays
// reserved for operator output.
func New(cfg config.LogConfig, verbose bool) *log.Logger {
	return NewWithWriter(os.Stderr, cfg, verbose)
}

func NewWithWriter(w io.Writer, cfg config.LogConfig, verbose bool) *log.Logger {
	opts := log.Options{
		Level:           ParseLevel(cfg.Level),
		ReportTimestamp: true,
		TimeFormat:      "2006-01-02 15:04:05",
		Prefix:          "vaultkeep",
	}
	if cfg.Format == "json" {
		opts.Formatter = log.JSONFormatter
	}
	if verbose {
		opts.Level = log.DebugLevel
	}
	return log.NewWithOptions(w, opts)
}

func ParseLevel(level string) log.Level {
	switch strings.ToLower(level) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// Discard is a logger for tests and quiet paths.
func Discard() *log.Logger {
	return log.New(io.Discard)
}
