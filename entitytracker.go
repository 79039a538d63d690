package entityhub

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/huandu/go-clone"
	"github.com/nlstn/go-entityhub/internal/jsondiff"
	"github.com/nlstn/go-entityhub/internal/patch"
	"github.com/nlstn/go-entityhub/internal/query"
	"github.com/nlstn/go-entityhub/internal/trackchanges"
)

// EntityTracker keeps client side entities together with a snapshot of
// their last synced state. Patches compares both and returns the patch
// tasks that bring the hub up to date; Commit makes the current state the
// new snapshot.
//
// Tracked entities are decoded JSON values (map[string]any) or objects
// implementing jsondiff.Reflectable. The tracker modifies them in place
// when applying events received from the hub.
type EntityTracker struct {
	mu       sync.Mutex
	entities map[entityRef]*trackedEntity
}

type entityRef struct {
	container string
	key       string
}

type trackedEntity struct {
	current  any
	snapshot any
}

// NewEntityTracker creates an empty tracker.
func NewEntityTracker() *EntityTracker {
	return &EntityTracker{entities: make(map[entityRef]*trackedEntity)}
}

// Track starts tracking entity as synced. Tracking a key again replaces the entity.
func (t *EntityTracker) Track(container, key string, entity any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entities[entityRef{container, key}] = &trackedEntity{
		current:  entity,
		snapshot: clone.Clone(entity),
	}
}

// TrackJSON decodes value and tracks the result. Numbers are kept as
// json.Number.
func (t *EntityTracker) TrackJSON(container, key string, value json.RawMessage) (map[string]any, error) {
	doc, err := query.DecodeDocument(value)
	if err != nil {
		return nil, err
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("entity %q of %q is not a JSON object", key, container)
	}
	t.Track(container, key, obj)
	return obj, nil
}

// Get returns the tracked entity.
func (t *EntityTracker) Get(container, key string) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entities[entityRef{container, key}]
	if !ok {
		return nil, false
	}
	return e.current, true
}

// Untrack stops tracking an entity.
func (t *EntityTracker) Untrack(container, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entities, entityRef{container, key})
}

// Len returns the number of tracked entities.
func (t *EntityTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entities)
}

// Patches returns one patch task per entity that changed since its snapshot,
// ordered by container and key.
func (t *EntityTracker) Patches() []Task {
	t.mu.Lock()
	defer t.mu.Unlock()

	refs := make([]entityRef, 0, len(t.entities))
	for ref := range t.entities {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].container != refs[j].container {
			return refs[i].container < refs[j].container
		}
		return refs[i].key < refs[j].key
	})

	var tasks []Task
	for _, ref := range refs {
		e := t.entities[ref]
		diff := jsondiff.Compare(e.snapshot, e.current)
		if diff == nil {
			continue
		}
		tasks = append(tasks, PatchTask(ref.container, ref.key, patch.Create(diff)))
	}
	return tasks
}

// Commit takes new snapshots of every tracked entity, marking local changes as synced.
func (t *EntityTracker) Commit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entities {
		e.snapshot = clone.Clone(e.current)
	}
}

// Apply applies a change received from the hub to the tracked entity and its
// snapshot, so that local changes not yet synced stay pending. Events for
// untracked entities are ignored, deletes stop tracking.
func (t *EntityTracker) Apply(event ChangeEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ref := entityRef{event.Container, event.Key}
	e, ok := t.entities[ref]
	if !ok {
		return nil
	}
	if event.Type == trackchanges.ChangeDelete {
		delete(t.entities, ref)
		return nil
	}

	patches := event.Patches
	if len(event.Value) > 0 {
		// a full value replaces the synced state
		value, err := query.DecodeDocument(event.Value)
		if err != nil {
			return fmt.Errorf("entity %q of %q: %w", event.Key, event.Container, err)
		}
		patches = patch.Create(jsondiff.Compare(e.snapshot, value))
	}
	if len(patches) == 0 {
		return nil
	}

	current, err := applyTo(e.current, patches)
	if err != nil {
		return fmt.Errorf("entity %q of %q: %w", event.Key, event.Container, err)
	}
	snapshot, err := applyTo(e.snapshot, patches)
	if err != nil {
		return fmt.Errorf("snapshot of entity %q of %q: %w", event.Key, event.Container, err)
	}
	e.current, e.snapshot = current, snapshot
	return nil
}

// ApplyMessage applies every event of msg in order.
func (t *EntityTracker) ApplyMessage(msg EventMessage) error {
	for _, event := range msg.Events {
		if err := t.Apply(event); err != nil {
			return err
		}
	}
	return nil
}

func applyTo(entity any, patches patch.List) (any, error) {
	if obj, ok := entity.(jsondiff.Reflectable); ok {
		return obj, patch.ApplyToObject(obj, patches)
	}
	return patch.Apply(entity, patches)
}
