// Package trackchanges records versioned entity changes per container, issues
// delta tokens for catching up, and fans change events out to filtered subscriptions.
package trackchanges

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/nlstn/go-entityhub/internal/patch"
	"github.com/puzpuzpuz/xsync/v3"
)

// ChangeType represents the type of change recorded for an entity.
type ChangeType string

const (
	// ChangeCreate indicates that a new entity was created.
	ChangeCreate ChangeType = "create"
	// ChangeUpsert indicates that an entity was written as a whole.
	ChangeUpsert ChangeType = "upsert"
	// ChangePatch indicates that patches were applied to an existing entity.
	ChangePatch ChangeType = "patch"
	// ChangeDelete indicates that an entity was deleted.
	ChangeDelete ChangeType = "delete"
)

// ChangeEvent represents a change that happened to one entity. Value holds the
// full entity for creates and for upserts of new entities; Patches hold the
// changes for patches and for upserts of existing entities.
type ChangeEvent struct {
	Container string          `json:"container"`
	Type      ChangeType      `json:"type"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value,omitempty"`
	Patches   patch.List      `json:"patches,omitempty"`
	Version   int64           `json:"version"`

	// Current is the entity after the change, or before it for deletes.
	// Subscription filters are evaluated against it.
	Current json.RawMessage `json:"-"`
}

type deltaToken struct {
	Container string `json:"container"`
	Version   int64  `json:"version"`
}

type containerHistory struct {
	Version int64
	Events  []ChangeEvent
}

// Tracker tracks entity changes per container. All methods are safe for concurrent use.
type Tracker struct {
	mu            sync.RWMutex
	containers    map[string]*containerHistory
	maxHistory    int
	subscriptions *xsync.MapOf[string, *Subscription]
	logger        *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithMaxHistory bounds the number of events kept per container. Older events
// are dropped and tokens pointing before them fail with ErrTokenExpired.
func WithMaxHistory(n int) Option {
	return func(t *Tracker) {
		t.maxHistory = n
	}
}

// WithLogger sets the logger used for delivery failures.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		t.SetLogger(logger)
	}
}

// NewTracker creates a new change tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		containers:    make(map[string]*containerHistory),
		subscriptions: xsync.NewMapOf[string, *Subscription](),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetLogger replaces the logger. A nil logger restores slog.Default().
func (t *Tracker) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	t.logger = logger
}

// RegisterContainer ensures the tracker maintains history for the container.
// It is safe to call multiple times.
func (t *Tracker) RegisterContainer(container string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.containers[container]; !exists {
		t.containers[container] = &containerHistory{}
	}
}

// RecordChange stores a change and returns it with its assigned version. It does not publish.
func (t *Tracker) RecordChange(event ChangeEvent) ChangeEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	history, exists := t.containers[event.Container]
	if !exists {
		history = &containerHistory{}
		t.containers[event.Container] = history
	}

	history.Version++
	event = copyEvent(event)
	event.Version = history.Version
	history.Events = append(history.Events, event)
	if t.maxHistory > 0 && len(history.Events) > t.maxHistory {
		history.Events = slices.Delete(history.Events, 0, len(history.Events)-t.maxHistory)
	}
	return copyEvent(event)
}

// Record stores the changes in order and publishes them to the matching subscriptions.
func (t *Tracker) Record(ctx context.Context, events ...ChangeEvent) []ChangeEvent {
	recorded := make([]ChangeEvent, 0, len(events))
	for _, event := range events {
		recorded = append(recorded, t.RecordChange(event))
	}
	t.Publish(ctx, recorded)
	return recorded
}

// CurrentToken returns a delta token that represents the current state of the container.
func (t *Tracker) CurrentToken(container string) (string, error) {
	t.mu.RLock()
	history, exists := t.containers[container]
	var version int64
	if exists {
		version = history.Version
	}
	t.mu.RUnlock()
	if !exists {
		return "", fmt.Errorf("%w: %q", ErrContainerNotRegistered, container)
	}
	return encodeToken(container, version)
}

// ChangesSince returns the change events that happened after the supplied
// delta token and a new token for subsequent requests.
func (t *Tracker) ChangesSince(token string) ([]ChangeEvent, string, error) {
	container, version, err := decodeToken(token)
	if err != nil {
		return nil, "", err
	}

	t.mu.RLock()
	history, exists := t.containers[container]
	if !exists {
		t.mu.RUnlock()
		return nil, "", fmt.Errorf("%w: %q", ErrContainerNotRegistered, container)
	}
	if len(history.Events) > 0 && history.Events[0].Version > version+1 {
		t.mu.RUnlock()
		return nil, "", fmt.Errorf("%w: version %d of %q is no longer retained", ErrTokenExpired, version, container)
	}

	var events []ChangeEvent
	for _, event := range history.Events {
		if event.Version > version {
			// copy to avoid exposing internal state
			events = append(events, copyEvent(event))
		}
	}
	current := history.Version
	t.mu.RUnlock()

	newToken, err := encodeToken(container, current)
	if err != nil {
		return nil, "", err
	}
	return events, newToken, nil
}

// ContainerFromToken returns the container encoded in the delta token.
func (t *Tracker) ContainerFromToken(token string) (string, error) {
	container, _, err := decodeToken(token)
	return container, err
}

func encodeToken(container string, version int64) (string, error) {
	payload := deltaToken{
		Container: container,
		Version:   version,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode delta token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decodeToken(token string) (string, int64, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", 0, fmt.Errorf("%w: invalid encoding", ErrInvalidToken)
	}

	var payload deltaToken
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return "", 0, fmt.Errorf("%w: invalid payload", ErrInvalidToken)
	}

	if payload.Container == "" {
		return "", 0, fmt.Errorf("%w: missing container", ErrInvalidToken)
	}

	return payload.Container, payload.Version, nil
}

func copyEvent(event ChangeEvent) ChangeEvent {
	event.Value = slices.Clone(event.Value)
	event.Current = slices.Clone(event.Current)
	event.Patches = slices.Clone(event.Patches)
	return event
}
