package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jnoelg/watchbridge/internal/api"
	"github.com/jnoelg/watchbridge/internal/bridge"
	"github.com/jnoelg/watchbridge/internal/browser"
	"github.com/jnoelg/watchbridge/internal/config"
	"github.com/jnoelg/watchbridge/internal/device"
	"github.com/jnoelg/watchbridge/internal/logging"
	"github.com/jnoelg/watchbridge/internal/options"
	"github.com/jnoelg/watchbridge/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context(), false)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the bridge with an MCP server on stdin/stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context(), true)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show bridge status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "watchbridge.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// loadVariant resolves the configured variant, including custom variants
// from bridge.variants_file and the bridge.page_url override.
func loadVariant(cfg config.Config) (options.Variant, *options.Registry, error) {
	reg := options.NewRegistry()
	if cfg.Bridge.VariantsFile != "" {
		if err := reg.LoadFile(cfg.Bridge.VariantsFile); err != nil {
			return options.Variant{}, nil, err
		}
	}
	v, err := reg.Lookup(cfg.Bridge.Variant)
	if err != nil {
		return options.Variant{}, nil, err
	}
	if cfg.Bridge.PageURL != "" {
		v.PageURL = cfg.Bridge.PageURL
		if err := v.Validate(); err != nil {
			return options.Variant{}, nil, fmt.Errorf("bridge.page_url: %w", err)
		}
	}
	return v, reg, nil
}

func newOpener(cfg config.Config, logger *slog.Logger) browser.Opener {
	if cfg.Bridge.Opener == config.OpenerLog {
		return browser.NewLog(logger)
	}
	return browser.NewSystem(logger)
}

func runServer(parent context.Context, withMCP bool) error {
	fmt.Fprintf(os.Stderr, "watchbridge version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, logOut, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}
	defer logOut.Close()
	slog.SetDefault(logger)

	variant, _, err := loadVariant(cfg)
	if err != nil {
		return err
	}
	flowTimeout, _ := cfg.FlowTimeout()
	ackTimeout, _ := cfg.AckTimeout()

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("watchbridge is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("watchbridge is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()
	if versions, err := store.AppliedMigrations(); err == nil && len(versions) > 0 {
		logger.Debug("storage ready", "dir", cfg.Storage.DataDir, "schema_version", versions[len(versions)-1])
	}

	repo := options.NewRepository(store).WithLogger(logger)
	hub := device.NewHub(ackTimeout)
	channel := device.NewJournal(hub, store)
	b := bridge.New(variant, repo, newOpener(cfg, logger), channel,
		bridge.WithLogger(logger),
		bridge.WithFlowTimeout(flowTimeout),
	)
	loop := bridge.NewLoop(b, 0)

	handler := api.NewHandler(api.Deps{
		Loop:            loop,
		Repo:            repo,
		Messages:        store,
		Device:          hub,
		DeviceConnected: hub.Connected,
		Token:           cfg.Server.APIToken,
	})
	if cfg.Server.APIToken == "" {
		logger.Warn("WATCHBRIDGE_API_TOKEN is not set; API is unauthenticated")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		loop.Run(gctx)
		return nil
	})

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "watchbridge listening on %s (variant %s)\n", addr, variant.Name)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// The process starting is the host's ready event.
	g.Go(func() error {
		return loop.Ready(gctx)
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Loop: loop, Repo: repo, Messages: store})
		stdioSrv := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("MCP stdio server error", "error", err)
			}
			// stdin closing ends the session.
			stop()
			return nil
		})
		logger.Info("MCP server started (stdio transport)")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	client.httpClient.Timeout = 2 * time.Second

	var health struct {
		Status  string `json:"status"`
		Variant string `json:"variant"`
		State   struct {
			Ready  bool   `json:"ready"`
			Phase  string `json:"phase"`
			FlowID string `json:"flow_id"`
		} `json:"state"`
		DeviceConnected bool `json:"device_connected"`
	}
	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else if err := decodeJSON(resp, &health); err != nil {
		printStatus("Server", "error (%v)", err)
	} else {
		printStatus("Server", "%s on port %d", health.Status, cfg.Server.Port)
		printStatus("Variant", "%s", health.Variant)
		printStatus("Ready", "%t", health.State.Ready)
		phase := health.State.Phase
		if health.State.FlowID != "" {
			phase += " (flow " + health.State.FlowID + ")"
		}
		printStatus("Flow", "%s", phase)
		if health.DeviceConnected {
			printStatus("Watch", "connected")
		} else {
			printStatus("Watch", "not connected")
		}
	}

	if pid, err := readPIDFile(pidFilePath(cfg.Storage.DataDir)); err == nil {
		printStatus("PID", "%d", pid)
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
