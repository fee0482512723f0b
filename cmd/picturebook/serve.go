package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/picturebook/internal/config"
	"github.com/jackzampolin/picturebook/internal/home"
	"github.com/jackzampolin/picturebook/internal/server"
)

var (
	serveHost      string
	servePort      string
	allowAnyOrigin bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Picturebook server",
	Long: `Start the Picturebook HTTP server.

The server opens the configured book store, starts the regeneration workers
and serves the API. With the defra backend it also starts the DefraDB
container and stops it again on shutdown (Ctrl+C or SIGTERM).

The server provides:
  - /health                  - Basic server health check
  - /ready                   - Readiness check (includes store status)
  - /api/books/{id}/session  - Live edit session (websocket)
  - /metrics                 - Prometheus metrics

Examples:
  picturebook serve                    # Start on default port 8080
  picturebook serve --port 3000        # Start on custom port
  picturebook serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.Lock(); err != nil {
			if errors.Is(err, home.ErrLocked) {
				return fmt.Errorf("%w (%s)", err, h.Path())
			}
			return err
		}
		defer h.Unlock()

		cfgMgr, err := config.NewManager(cfgFile, h.Path())
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg := cfgMgr.Get()

		logger := newLogger(cfg)
		cfgMgr.SetLogger(logger)
		if cfgMgr.ConfigFile() != "" {
			logger.Info("using config file", "path", cfgMgr.ConfigFile())
			cfgMgr.WatchConfig()
		}

		srv, err := server.New(server.Config{
			Host:           serveHost,
			Port:           servePort,
			Home:           h,
			ConfigManager:  cfgMgr,
			AllowAnyOrigin: allowAnyOrigin,
			Logger:         logger,
		})
		if err != nil {
			return err
		}
		defer srv.Close()

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel()}
	if strings.EqualFold(cfg.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on")
	serveCmd.Flags().BoolVar(&allowAnyOrigin, "allow-any-origin", false, "Accept edit sessions from any web origin")

	rootCmd.AddCommand(serveCmd)
}
