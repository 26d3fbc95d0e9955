// Package browser hands configuration page URLs to the host.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	pkgbrowser "github.com/pkg/browser"
)

// Opener opens a URL on behalf of the bridge. Open returns once the request
// has been handed off; it does not wait for the page to close.
type Opener interface {
	Open(ctx context.Context, url string) error
}

// System opens URLs in the desktop's default browser.
type System struct {
	logger *slog.Logger
	// open launches the URL handler. Overridden in tests.
	open func(url string) error
}

// NewSystem returns an Opener using the platform's URL handler.
func NewSystem(logger *slog.Logger) *System {
	if logger == nil {
		logger = slog.Default()
	}
	// stdout carries the MCP stdio transport in `watchbridge mcp`.
	pkgbrowser.Stdout = os.Stderr
	return &System{logger: logger, open: pkgbrowser.OpenURL}
}

func (s *System) Open(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.open(url); err != nil {
		return fmt.Errorf("opening %s in browser: %w", url, err)
	}
	s.logger.Debug("opened configuration page", "url", url)
	return nil
}

// Log only logs the URL. Used on headless hosts where the page is opened by
// hand or by the show command.
type Log struct {
	logger *slog.Logger
}

// NewLog returns an Opener that only logs.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Open(_ context.Context, url string) error {
	l.logger.Info("open configuration page", "url", url)
	return nil
}
