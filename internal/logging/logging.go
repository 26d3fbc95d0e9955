// Package logging builds the process logger: slog text output on stderr, or
// on a size-rotated file when one is configured.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options mirrors the log.* configuration keys.
type Options struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// New returns a logger for opts and the writer it logs to. The writer must be
// closed by the caller when it is a file.
func New(opts Options) (*slog.Logger, io.WriteCloser, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	var w io.WriteCloser = nopCloser{os.Stderr}
	if opts.File != "" {
		w = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		}
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), w, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
