// Command hubserver serves an entity hub over HTTP and WebSocket.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "hubserver",
		Usage: "Serve entity containers over HTTP and WebSocket",
		Description: `Serves a set of entity containers. Clients send batched sync requests
to POST /sync or over the WebSocket endpoint GET /ws and receive change
events for their subscriptions.

Example:
  hubserver --driver sqlite --dsn hub.db --containers users,orders`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Aliases: []string{"a"},
				Usage:   "Address to listen on",
				EnvVars: []string{"HUB_ADDR"},
				Value:   ":8080",
			},
			&cli.StringFlag{
				Name:    "driver",
				Aliases: []string{"d"},
				Usage:   "Storage driver: memory, sqlite or postgres",
				EnvVars: []string{"HUB_DRIVER"},
				Value:   "memory",
			},
			&cli.StringFlag{
				Name:    "dsn",
				Usage:   "Data source name of the sqlite or postgres database",
				EnvVars: []string{"HUB_DSN"},
			},
			&cli.StringSliceFlag{
				Name:    "containers",
				Aliases: []string{"c"},
				Usage:   "Containers to serve",
				EnvVars: []string{"HUB_CONTAINERS"},
				Value:   cli.NewStringSlice("entities"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level: debug, info, warn or error",
				EnvVars: []string{"HUB_LOG_LEVEL"},
				Value:   "info",
			},
			&cli.IntFlag{
				Name:    "max-tasks",
				Usage:   "Maximum number of tasks per sync request",
				EnvVars: []string{"HUB_MAX_TASKS"},
				Value:   1000,
			},
			&cli.IntFlag{
				Name:    "max-history",
				Usage:   "Change events kept per container, 0 keeps all",
				EnvVars: []string{"HUB_MAX_HISTORY"},
				Value:   10000,
			},
			&cli.BoolFlag{
				Name:    "server-timing",
				Usage:   "Add Server-Timing headers to responses",
				EnvVars: []string{"HUB_SERVER_TIMING"},
			},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	cfg := configFromContext(c)
	logger, err := newLogger(cfg.logLevel)
	if err != nil {
		return err
	}

	hub, err := newHub(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := hub.Close(); err != nil {
			logger.Error("failed to close hub", "error", err)
		}
	}()

	server := &http.Server{
		Addr:              cfg.addr,
		Handler:           newRouter(hub, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("hub server listening",
			"addr", cfg.addr,
			"driver", cfg.driver,
			"containers", strings.Join(hub.Containers(), ","))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})), nil
}
