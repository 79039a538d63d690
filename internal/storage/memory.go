package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/nlstn/go-entityhub/internal/patch"
	"github.com/nlstn/go-entityhub/internal/query"
)

// MemoryContainer keeps entities in a map and evaluates filters in process.
type MemoryContainer struct {
	name     string
	mu       sync.RWMutex
	entities map[string]json.RawMessage
	closed   bool
}

// NewMemoryContainer creates an empty in-memory container.
func NewMemoryContainer(name string) *MemoryContainer {
	return &MemoryContainer{name: name, entities: make(map[string]json.RawMessage)}
}

func (c *MemoryContainer) Name() string { return c.name }

func (c *MemoryContainer) Create(ctx context.Context, entity Entity) error {
	if err := validate(entity); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if _, exists := c.entities[entity.Key]; exists {
		return fmt.Errorf("%w: %s/%s", ErrEntityExists, c.name, entity.Key)
	}
	c.entities[entity.Key] = slices.Clone(entity.Value)
	return nil
}

func (c *MemoryContainer) Upsert(ctx context.Context, entity Entity) (json.RawMessage, error) {
	if err := validate(entity); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	previous := c.entities[entity.Key]
	c.entities[entity.Key] = slices.Clone(entity.Value)
	return previous, nil
}

func (c *MemoryContainer) Read(ctx context.Context, key string) (Entity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return Entity{}, ErrClosed
	}
	value, ok := c.entities[key]
	if !ok {
		return Entity{}, fmt.Errorf("%w: %s/%s", ErrEntityNotFound, c.name, key)
	}
	return Entity{Key: key, Value: slices.Clone(value)}, nil
}

// QueryEntities evaluates filter against every entity. The filter instance is
// armed for the duration of the call and cannot be used concurrently elsewhere.
func (c *MemoryContainer) QueryEntities(ctx context.Context, filter query.FilterOperation) ([]Entity, error) {
	var eval *query.Evaluation
	if filter != nil {
		var err error
		eval, err = query.NewEvaluation(filter)
		if err != nil {
			return nil, err
		}
		defer eval.Close()
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}

	keys := make([]string, 0, len(c.entities))
	for key := range c.entities {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := []Entity{}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		value := c.entities[key]
		if eval != nil {
			doc, err := query.DecodeDocument(value)
			if err != nil {
				return nil, fmt.Errorf("entity %s/%s: %w", c.name, key, err)
			}
			ok, err := eval.Match(doc)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		result = append(result, Entity{Key: key, Value: slices.Clone(value)})
	}
	return result, nil
}

func (c *MemoryContainer) Patch(ctx context.Context, key string, patches patch.List) (json.RawMessage, json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, ErrClosed
	}
	previous, ok := c.entities[key]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s/%s", ErrEntityNotFound, c.name, key)
	}
	current, err := applyPatches(previous, patches)
	if err != nil {
		return nil, nil, err
	}
	c.entities[key] = current
	return slices.Clone(previous), slices.Clone(current), nil
}

func (c *MemoryContainer) Delete(ctx context.Context, key string) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	previous, ok := c.entities[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrEntityNotFound, c.name, key)
	}
	delete(c.entities, key)
	return previous, nil
}

// Close drops every entity. Later calls fail with ErrClosed.
func (c *MemoryContainer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.entities = nil
	return nil
}
