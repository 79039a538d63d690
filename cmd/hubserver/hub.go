package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-multierror"
	entityhub "github.com/nlstn/go-entityhub"
	"github.com/nlstn/go-entityhub/internal/observability"
	"github.com/nlstn/go-entityhub/internal/storage"
	"github.com/urfave/cli/v2"
)

type serverConfig struct {
	addr         string
	driver       string
	dsn          string
	containers   []string
	logLevel     string
	maxTasks     int
	maxHistory   int
	serverTiming bool
}

func configFromContext(c *cli.Context) serverConfig {
	return serverConfig{
		addr:         c.String("addr"),
		driver:       c.String("driver"),
		dsn:          c.String("dsn"),
		containers:   c.StringSlice("containers"),
		logLevel:     c.String("log-level"),
		maxTasks:     c.Int("max-tasks"),
		maxHistory:   c.Int("max-history"),
		serverTiming: c.Bool("server-timing"),
	}
}

// newHub creates the hub and registers one container per configured name.
// Every container that cannot be created is reported.
func newHub(cfg serverConfig, logger *slog.Logger) (*entityhub.Hub, error) {
	obsOpts := []observability.Option{observability.WithServiceName("hubserver")}
	if cfg.serverTiming {
		obsOpts = append(obsOpts, observability.WithServerTiming())
	}
	obsCfg := observability.NewConfig(obsOpts...)

	newContainer, err := containerFactory(cfg, obsCfg, logger)
	if err != nil {
		return nil, err
	}

	hub := entityhub.NewHub(
		entityhub.WithLogger(logger),
		entityhub.WithObservability(obsCfg),
		entityhub.WithMaxTasks(cfg.maxTasks),
		entityhub.WithMaxHistory(cfg.maxHistory),
	)

	var result *multierror.Error
	for _, name := range cfg.containers {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		c, err := newContainer(name)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("container %q: %w", name, err))
			continue
		}
		if err := hub.RegisterContainer(c); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		_ = hub.Close()
		return nil, err
	}

	registerCommands(hub)
	return hub, nil
}

func containerFactory(cfg serverConfig, obsCfg *observability.Config, logger *slog.Logger) (func(name string) (storage.Container, error), error) {
	if cfg.driver == "" || cfg.driver == "memory" {
		return func(name string) (storage.Container, error) {
			return storage.NewMemoryContainer(name), nil
		}, nil
	}

	db, err := storage.Open(cfg.driver, cfg.dsn, obsCfg)
	if err != nil {
		return nil, err
	}
	return func(name string) (storage.Container, error) {
		return storage.NewSQLContainer(context.Background(), db, name, storage.WithLogger(logger))
	}, nil
}

// registerCommands registers the commands every server offers.
func registerCommands(hub *entityhub.Hub) {
	hub.HandleCommand("containers", func(ctx context.Context, clientID string, payload json.RawMessage) (any, error) {
		return hub.Containers(), nil
	})
	hub.HandleCommand("subscriptions", func(ctx context.Context, clientID string, payload json.RawMessage) (any, error) {
		return map[string]int{"count": hub.Tracker().Subscriptions()}, nil
	})
}

func newRouter(hub *entityhub.Hub, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":     "ok",
			"containers": hub.Containers(),
		})
	})
	r.Handle("/sync", hub)
	r.Handle("/ws", hub)
	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}
