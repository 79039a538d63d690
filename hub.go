// Package entityhub executes batched entity tasks against registered storage
// containers and distributes the resulting changes to subscribed clients.
//
// Clients send a SyncRequest holding create, upsert, read, query, patch and
// delete tasks as well as messages, commands and change subscriptions. The
// Hub executes the tasks in order, answers with one result per task and
// publishes every change through its change tracker. Requests are accepted
// over HTTP (POST /sync) and WebSocket (GET /ws); WebSocket clients receive
// change events as they happen, HTTP clients with their next sync.
package entityhub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-multierror"
	"github.com/nlstn/go-entityhub/internal/observability"
	"github.com/nlstn/go-entityhub/internal/storage"
	"github.com/nlstn/go-entityhub/internal/trackchanges"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	// DefaultMaxTasks bounds the number of tasks of one sync request.
	DefaultMaxTasks = 1000
	// DefaultEventBuffer is the number of event messages buffered per HTTP client.
	DefaultEventBuffer = 256
)

// MessageHandler handles message tasks. Messages return no value.
type MessageHandler func(ctx context.Context, clientID string, payload json.RawMessage) error

// CommandHandler handles command tasks. The returned value is encoded as JSON
// into the task result.
type CommandHandler func(ctx context.Context, clientID string, payload json.RawMessage) (any, error)

// Hub executes sync requests against its containers.
type Hub struct {
	// containers holds the registered containers keyed by name
	containers map[string]storage.Container
	// messages and commands hold the registered handlers keyed by name
	messages map[string]MessageHandler
	commands map[string]CommandHandler
	mu       sync.RWMutex

	// tracker records changes and delivers them to subscriptions
	tracker *trackchanges.Tracker
	// clients buffers the events of HTTP clients until their next sync
	clients *xsync.MapOf[string, *trackchanges.ChannelSink]

	logger        *slog.Logger
	observability *observability.Config
	maxTasks      int
	eventBuffer   int
	maxHistory    int

	upgrader websocket.Upgrader
	handler  http.Handler
	closed   atomic.Bool
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger of the hub and everything it owns.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithObservability enables tracing, metrics and Server-Timing as configured by cfg.
func WithObservability(cfg *observability.Config) Option {
	return func(h *Hub) {
		h.observability = cfg
	}
}

// WithMaxTasks bounds the number of tasks per sync request.
func WithMaxTasks(n int) Option {
	return func(h *Hub) {
		h.maxTasks = n
	}
}

// WithEventBuffer sets the number of event messages buffered per HTTP client.
// Events for a full buffer are dropped and logged.
func WithEventBuffer(n int) Option {
	return func(h *Hub) {
		h.eventBuffer = n
	}
}

// WithMaxHistory bounds the number of change events kept per container.
func WithMaxHistory(n int) Option {
	return func(h *Hub) {
		h.maxHistory = n
	}
}

// WithCheckOrigin sets the origin check of WebSocket upgrades.
func WithCheckOrigin(check func(r *http.Request) bool) Option {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = check
	}
}

// NewHub creates a hub without containers.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		containers:  make(map[string]storage.Container),
		messages:    make(map[string]MessageHandler),
		commands:    make(map[string]CommandHandler),
		clients:     xsync.NewMapOf[string, *trackchanges.ChannelSink](),
		maxTasks:    DefaultMaxTasks,
		eventBuffer: DefaultEventBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(h)
	}

	trackerOpts := []trackchanges.Option{}
	if h.maxHistory > 0 {
		trackerOpts = append(trackerOpts, trackchanges.WithMaxHistory(h.maxHistory))
	}
	h.tracker = trackchanges.NewTracker(trackerOpts...)
	h.SetLogger(h.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/sync", h.handleSync)
	h.handler = observability.HTTPMiddleware(h.observability)(
		observability.ServerTimingMiddleware(h.observability)(mux))
	return h
}

// SetLogger sets the logger of the hub, its tracker and its containers. A nil
// logger restores slog.Default().
func (h *Hub) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	h.logger = logger
	h.tracker.SetLogger(logger)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.containers {
		if l, ok := c.(interface{ SetLogger(*slog.Logger) }); ok {
			l.SetLogger(logger)
		}
	}
}

// RegisterContainer adds a container. Its name must be unique.
func (h *Hub) RegisterContainer(c storage.Container) error {
	if c == nil || c.Name() == "" {
		return fmt.Errorf("%w: container must have a name", ErrInvalidRequest)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.containers[c.Name()]; exists {
		return fmt.Errorf("%w: %q", ErrContainerExists, c.Name())
	}
	if l, ok := c.(interface{ SetLogger(*slog.Logger) }); ok {
		l.SetLogger(h.logger)
	}
	h.containers[c.Name()] = c
	h.tracker.RegisterContainer(c.Name())
	return nil
}

// Container returns the container registered under name.
func (h *Hub) Container(name string) (storage.Container, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.containers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrContainerNotFound, name)
	}
	return c, nil
}

// Containers returns the names of the registered containers in sorted order.
func (h *Hub) Containers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.containers))
	for name := range h.containers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HandleMessage registers the handler of message tasks named name. A later
// registration replaces an earlier one.
func (h *Hub) HandleMessage(name string, handler MessageHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages[name] = handler
}

// HandleCommand registers the handler of command tasks named name. A later
// registration replaces an earlier one.
func (h *Hub) HandleCommand(name string, handler CommandHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands[name] = handler
}

// Tracker returns the change tracker of the hub.
func (h *Hub) Tracker() *trackchanges.Tracker {
	return h.tracker
}

// Close closes every container and the event buffers of HTTP clients. Errors
// of all containers are returned together.
func (h *Hub) Close() error {
	if h == nil || !h.closed.CompareAndSwap(false, true) {
		return nil
	}

	h.clients.Range(func(clientID string, _ *trackchanges.ChannelSink) bool {
		h.Disconnect(clientID)
		return true
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	var result *multierror.Error
	for name, c := range h.containers {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close container %q: %w", name, err))
		}
	}
	return result.ErrorOrNil()
}

// ServeHTTP dispatches POST /sync to the HTTP transport and GET /ws to the
// WebSocket transport.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.closed.Load() {
		h.writeError(w, http.StatusServiceUnavailable, ErrClosed.Error(), "")
		return
	}
	if r.URL.Path == "/ws" {
		h.serveWebSocket(w, r)
		return
	}
	h.handler.ServeHTTP(w, r)
}
