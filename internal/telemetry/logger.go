// Package telemetry sets up logging, metrics and tracing for a run.
package telemetry

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string
	// Format is "json" or "console".
	Format string
	// Output is stdout, stderr or a file path. Files are rotated.
	Output string

	MaxSizeMB  int
	MaxBackups int
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewLogger builds the run logger. The returned closer releases the log file, if any.
func NewLogger(cfg LogConfig) (zerolog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), nil, err
	}

	var (
		w      io.Writer
		closer io.Closer = nopCloser{}
		isFile bool
	)
	switch out := strings.TrimSpace(cfg.Output); out {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		lj := &lumberjack.Logger{
			Filename:   out,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		// open eagerly so a bad path fails at startup rather than on first write
		if _, err := lj.Write(nil); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open log file %s: %w", out, err)
		}
		w, closer, isFile = lj, lj, true
	}

	switch strings.ToLower(cfg.Format) {
	case "", "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: isFile}
	case "json":
	default:
		return zerolog.Nop(), nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger(), closer, nil
}

// ParseLevel accepts zerolog level names; empty means info.
func ParseLevel(s string) (zerolog.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", s)
	}
	return lvl, nil
}

// Component returns a child logger tagged with the component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
