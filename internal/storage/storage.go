// Package storage provides the containers entities are kept in. A container
// stores JSON documents by key and answers filter queries, either by running
// the evaluator over every document (MemoryContainer) or by compiling the
// filter to a SQL condition (SQLContainer).
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nlstn/go-entityhub/internal/patch"
	"github.com/nlstn/go-entityhub/internal/query"
)

var (
	ErrEntityNotFound = errors.New("entity not found")
	ErrEntityExists   = errors.New("entity already exists")
	ErrInvalidKey     = errors.New("invalid entity key")
	ErrInvalidValue   = errors.New("entity value is not valid JSON")
	ErrClosed         = errors.New("container is closed")
)

// Entity is a stored JSON document and its key.
type Entity struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Container is a keyed collection of JSON entities.
type Container interface {
	Name() string
	// Create stores a new entity. It fails with ErrEntityExists if the key is taken.
	Create(ctx context.Context, entity Entity) error
	// Upsert stores the entity and returns the value it replaced, or nil.
	Upsert(ctx context.Context, entity Entity) (previous json.RawMessage, err error)
	Read(ctx context.Context, key string) (Entity, error)
	// QueryEntities returns the entities matching filter ordered by key. A nil
	// filter matches every entity.
	QueryEntities(ctx context.Context, filter query.FilterOperation) ([]Entity, error)
	// Patch applies patches to the stored entity and returns the values before and after.
	Patch(ctx context.Context, key string, patches patch.List) (previous, current json.RawMessage, err error)
	// Delete removes the entity and returns its last value.
	Delete(ctx context.Context, key string) (json.RawMessage, error)
	Close() error
}

func validate(entity Entity) error {
	if entity.Key == "" {
		return ErrInvalidKey
	}
	if !json.Valid(entity.Value) {
		return fmt.Errorf("%w: key %q", ErrInvalidValue, entity.Key)
	}
	return nil
}

// applyPatches decodes value, applies patches and encodes the result.
func applyPatches(value json.RawMessage, patches patch.List) (json.RawMessage, error) {
	doc, err := query.DecodeDocument(value)
	if err != nil {
		return nil, err
	}
	doc, err = patch.Apply(doc, patches)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode patched entity: %w", err)
	}
	return data, nil
}
