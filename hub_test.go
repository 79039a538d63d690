package entityhub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/nlstn/go-entityhub/internal/patch"
	"github.com/nlstn/go-entityhub/internal/query"
	"github.com/nlstn/go-entityhub/internal/storage"
	"github.com/nlstn/go-entityhub/internal/trackchanges"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHub(t *testing.T, opts ...Option) *Hub {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	hub := NewHub(opts...)
	if err := hub.RegisterContainer(storage.NewMemoryContainer("users")); err != nil {
		t.Fatalf("failed to register container: %v", err)
	}
	t.Cleanup(func() { _ = hub.Close() })
	return hub
}

func execute(t *testing.T, hub *Hub, clientID string, tasks ...Task) *SyncResponse {
	t.Helper()
	resp, err := hub.Execute(context.Background(), SyncRequest{ClientID: clientID, Tasks: tasks})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(resp.Tasks) != len(tasks) {
		t.Fatalf("expected %d results, got %d", len(tasks), len(resp.Tasks))
	}
	return resp
}

func mustParse(t *testing.T, source string) query.FilterOperation {
	t.Helper()
	filter, err := query.ParseFilter(source, nil)
	if err != nil {
		t.Fatalf("ParseFilter(%q) error = %v", source, err)
	}
	return filter
}

func resultKeys(entities []Entity) []string {
	keys := make([]string, 0, len(entities))
	for _, e := range entities {
		keys = append(keys, e.Key)
	}
	return keys
}

func TestRegisterContainer(t *testing.T) {
	hub := newTestHub(t)

	err := hub.RegisterContainer(storage.NewMemoryContainer("users"))
	if !errors.Is(err, ErrContainerExists) {
		t.Errorf("expected ErrContainerExists, got %v", err)
	}
	if err := hub.RegisterContainer(storage.NewMemoryContainer("orders")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assert.Equal(t, []string{"orders", "users"}, hub.Containers())

	_, err = hub.Container("missing")
	assert.ErrorIs(t, err, ErrContainerNotFound)
}

func TestExecuteEntityTasks(t *testing.T) {
	hub := newTestHub(t)

	resp := execute(t, hub, "client-1",
		CreateTask("users", "1", json.RawMessage(`{"name":"Peter","age":40}`)),
		CreateTask("users", "2", json.RawMessage(`{"name":"John","age":30}`)),
		UpsertTask("users", "3", json.RawMessage(`{"name":"Mary","age":50}`)),
		ReadTask("users", "1"),
		WhereTask("users", "o => o.age > 35"),
		PatchTask("users", "2", patch.List{patch.Replace{Path: "/age", Value: 31}}),
		DeleteTask("users", "3"),
		QueryTask("users", nil),
	)
	for i, result := range resp.Tasks {
		require.Nil(t, result.Error, "task %d failed: %v", i, result.Error)
	}
	assert.Equal(t, "client-1", resp.ClientID)

	read := resp.Tasks[3]
	require.NotNil(t, read.Entity)
	assert.Equal(t, "1", read.Entity.Key)
	assert.JSONEq(t, `{"name":"Peter","age":40}`, string(read.Entity.Value))

	assert.Equal(t, []string{"1", "3"}, resultKeys(resp.Tasks[4].Entities))

	all := resp.Tasks[7].Entities
	require.Len(t, all, 2)
	assert.Equal(t, []string{"1", "2"}, resultKeys(all))
	assert.JSONEq(t, `{"name":"John","age":31}`, string(all[1].Value))
}

func TestExecuteQueryFilterAndLimit(t *testing.T) {
	hub := newTestHub(t)
	execute(t, hub, "c",
		CreateTask("users", "1", json.RawMessage(`{"age":40}`)),
		CreateTask("users", "2", json.RawMessage(`{"age":50}`)),
		CreateTask("users", "3", json.RawMessage(`{"age":20}`)),
	)

	filtered := QueryTask("users", mustParse(t, "o => o.age >= 40"))
	limited := WhereTask("users", "o => o.age >= 40")
	limited.Limit = 1
	resp := execute(t, hub, "c", filtered, limited)

	assert.Equal(t, []string{"1", "2"}, resultKeys(resp.Tasks[0].Entities))
	assert.Equal(t, []string{"1"}, resultKeys(resp.Tasks[1].Entities))
}

func TestExecuteQueryPaging(t *testing.T) {
	hub := newTestHub(t)
	for _, key := range []string{"1", "2", "3", "4", "5"} {
		execute(t, hub, "c", CreateTask("users", key, json.RawMessage(`{"age":40}`)))
	}

	var keys []string
	page := WhereTask("users", "o => o.age == 40")
	page.Limit = 2
	for i := 0; i < 3; i++ {
		resp := execute(t, hub, "c", page)
		require.False(t, resp.Tasks[0].Failed(), "%v", resp.Tasks[0].Error)
		keys = append(keys, resultKeys(resp.Tasks[0].Entities)...)
		page.SkipToken = resp.Tasks[0].SkipToken
		if page.SkipToken == "" {
			break
		}
	}
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, keys)
	assert.Empty(t, page.SkipToken)

	first := execute(t, hub, "c", Task{Task: TaskQuery, Container: "users", Limit: 2})
	require.NotEmpty(t, first.Tasks[0].SkipToken)

	changed := WhereTask("users", "o => o.age > 1")
	changed.SkipToken = first.Tasks[0].SkipToken
	resp := execute(t, hub, "c", changed, Task{Task: TaskQuery, Container: "users", SkipToken: "garbage"})
	for _, result := range resp.Tasks {
		require.NotNil(t, result.Error)
		assert.Equal(t, ErrorTypeInvalidTask, result.Error.Type)
	}
}

func TestExecuteTaskErrors(t *testing.T) {
	hub := newTestHub(t)

	both := WhereTask("users", "o => o.a == 1")
	both.Filter = &query.JSONOperation{Operation: mustParse(t, "o => o.a == 2")}

	tests := []struct {
		name string
		task Task
		want ErrorType
	}{
		{"unknown container", ReadTask("orders", "1"), ErrorTypeContainerNotFound},
		{"missing entity", ReadTask("users", "1"), ErrorTypeEntityNotFound},
		{"missing key", CreateTask("users", "", json.RawMessage(`{}`)), ErrorTypeInvalidTask},
		{"invalid value", CreateTask("users", "1", json.RawMessage(`{`)), ErrorTypeInvalidValue},
		{"unknown task", Task{Task: "rename"}, ErrorTypeInvalidTask},
		{"missing task", Task{}, ErrorTypeInvalidTask},
		{"filter and where", both, ErrorTypeInvalidTask},
		{"invalid where", WhereTask("users", "o => o.a >"), ErrorTypeFilter},
		{"empty patch", PatchTask("users", "1", nil), ErrorTypeInvalidTask},
		{"unknown message", MessageTask("ping", nil), ErrorTypeUnknownMessage},
		{"unknown command", CommandTask("ping", nil), ErrorTypeUnknownCommand},
		{"invalid token", ChangesTask("not a token"), ErrorTypeSubscription},
		{"unknown subscription", UnsubscribeTask("missing"), ErrorTypeSubscription},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := execute(t, hub, "c", tt.task)
			result := resp.Tasks[0]
			if !result.Failed() {
				t.Fatalf("expected task to fail")
			}
			if result.Error.Type != tt.want {
				t.Errorf("error type = %s, want %s (%s)", result.Error.Type, tt.want, result.Error.Message)
			}
		})
	}
}

func TestExecuteContinuesAfterFailedTask(t *testing.T) {
	hub := newTestHub(t)

	resp := execute(t, hub, "c",
		CreateTask("users", "1", json.RawMessage(`{"a":1}`)),
		CreateTask("users", "1", json.RawMessage(`{"a":2}`)),
		PatchTask("users", "1", patch.List{patch.Test{Path: "/a", Value: 2}}),
		ReadTask("users", "1"),
	)

	assert.False(t, resp.Tasks[0].Failed())
	require.True(t, resp.Tasks[1].Failed())
	assert.Equal(t, ErrorTypeEntityExists, resp.Tasks[1].Error.Type)
	require.True(t, resp.Tasks[2].Failed())
	assert.Equal(t, ErrorTypeTestFailed, resp.Tasks[2].Error.Type)
	require.False(t, resp.Tasks[3].Failed())
	assert.JSONEq(t, `{"a":1}`, string(resp.Tasks[3].Entity.Value))
}

func TestExecuteRejectsInvalidRequest(t *testing.T) {
	hub := newTestHub(t, WithMaxTasks(2))

	tasks := []Task{ReadTask("users", "1"), ReadTask("users", "2"), ReadTask("users", "3")}
	_, err := hub.Execute(context.Background(), SyncRequest{Tasks: tasks})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}

	long := make([]byte, maxClientIDLength+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err = hub.Execute(context.Background(), SyncRequest{ClientID: string(long), Tasks: tasks})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	assert.Contains(t, err.Error(), "client id")
	assert.Contains(t, err.Error(), "tasks exceed")
}

func TestExecuteAssignsClientID(t *testing.T) {
	hub := newTestHub(t)
	resp, err := hub.Execute(context.Background(), SyncRequest{})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ClientID)
	assert.Empty(t, resp.Tasks)
}

func TestMessagesAndCommands(t *testing.T) {
	hub := newTestHub(t)

	var received []string
	hub.HandleMessage("log", func(ctx context.Context, clientID string, payload json.RawMessage) error {
		received = append(received, clientID+":"+string(payload))
		return nil
	})
	hub.HandleCommand("sum", func(ctx context.Context, clientID string, payload json.RawMessage) (any, error) {
		var numbers []int
		if err := json.Unmarshal(payload, &numbers); err != nil {
			return nil, err
		}
		total := 0
		for _, n := range numbers {
			total += n
		}
		return map[string]int{"total": total}, nil
	})
	hub.HandleCommand("fail", func(ctx context.Context, clientID string, payload json.RawMessage) (any, error) {
		return nil, errors.New("boom")
	})

	resp := execute(t, hub, "c",
		MessageTask("log", json.RawMessage(`"hello"`)),
		CommandTask("sum", json.RawMessage(`[1,2,3]`)),
		CommandTask("fail", nil),
	)

	assert.Equal(t, []string{`c:"hello"`}, received)
	require.False(t, resp.Tasks[0].Failed())
	require.False(t, resp.Tasks[1].Failed())
	assert.JSONEq(t, `{"total":6}`, string(resp.Tasks[1].Result))
	require.True(t, resp.Tasks[2].Failed())
	assert.Equal(t, ErrorTypeCommand, resp.Tasks[2].Error.Type)
	assert.Equal(t, "boom", resp.Tasks[2].Error.Message)
}

func TestSubscriptionEventsOverExecute(t *testing.T) {
	hub := newTestHub(t)

	resp := execute(t, hub, "watcher", SubscribeTask("users", mustParse(t, "o => o.age > 35")))
	require.False(t, resp.Tasks[0].Failed(), "%v", resp.Tasks[0].Error)
	assert.NotEmpty(t, resp.Tasks[0].Subscription)
	assert.NotEmpty(t, resp.Tasks[0].Token)

	execute(t, hub, "writer",
		CreateTask("users", "1", json.RawMessage(`{"name":"Peter","age":40}`)),
		CreateTask("users", "2", json.RawMessage(`{"name":"John","age":30}`)),
		PatchTask("users", "1", patch.List{patch.Replace{Path: "/age", Value: 41}}),
		UpsertTask("users", "1", json.RawMessage(`{"name":"Peter","age":41}`)),
		DeleteTask("users", "1"),
	)

	resp = execute(t, hub, "watcher")
	var events []ChangeEvent
	for _, msg := range resp.Events {
		assert.Equal(t, "watcher", msg.ClientID)
		events = append(events, msg.Events...)
	}

	// John never matches, the unchanged upsert publishes nothing
	require.Len(t, events, 3)
	assert.Equal(t, trackchanges.ChangeCreate, events[0].Type)
	assert.JSONEq(t, `{"name":"Peter","age":40}`, string(events[0].Value))

	assert.Equal(t, trackchanges.ChangePatch, events[1].Type)
	data, err := patch.Marshal(events[1].Patches)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"op":"replace","path":"/age","value":41}]`, string(data))

	assert.Equal(t, trackchanges.ChangeDelete, events[2].Type)
	assert.Equal(t, "1", events[2].Key)

	// events are handed out once
	resp = execute(t, hub, "watcher")
	assert.Empty(t, resp.Events)
}

func TestSubscriptionChangeTypes(t *testing.T) {
	hub := newTestHub(t)
	execute(t, hub, "watcher", SubscribeTask("users", nil, trackchanges.ChangeUpsert))

	execute(t, hub, "writer",
		CreateTask("users", "1", json.RawMessage(`{"a":1}`)),
		UpsertTask("users", "1", json.RawMessage(`{"a":2,"b":true}`)),
		UpsertTask("users", "2", json.RawMessage(`{"a":3}`)),
	)

	resp := execute(t, hub, "watcher")
	var events []ChangeEvent
	for _, msg := range resp.Events {
		events = append(events, msg.Events...)
	}
	require.Len(t, events, 2)

	// an existing entity is published as patches, a new one as its value
	assert.Empty(t, events[0].Value)
	data, err := patch.Marshal(events[0].Patches)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"op":"replace","path":"/a","value":2},{"op":"add","path":"/b","value":true}]`, string(data))
	assert.JSONEq(t, `{"a":3}`, string(events[1].Value))
	assert.Empty(t, events[1].Patches)
}

func TestUnsubscribeAndDisconnect(t *testing.T) {
	hub := newTestHub(t)

	resp := execute(t, hub, "watcher",
		SubscribeTask("users", nil),
		SubscribeTask("users", nil, trackchanges.ChangeDelete),
	)
	assert.Equal(t, 2, hub.Tracker().Subscriptions())

	resp = execute(t, hub, "watcher", UnsubscribeTask(resp.Tasks[0].Subscription))
	require.False(t, resp.Tasks[0].Failed())
	assert.Equal(t, 1, hub.Tracker().Subscriptions())

	hub.Disconnect("watcher")
	assert.Equal(t, 0, hub.Tracker().Subscriptions())
}

func TestChangesTask(t *testing.T) {
	hub := newTestHub(t)

	resp := execute(t, hub, "c", SubscribeTask("users", nil))
	token := resp.Tasks[0].Token

	execute(t, hub, "c",
		CreateTask("users", "1", json.RawMessage(`{"a":1}`)),
		DeleteTask("users", "1"),
	)

	resp = execute(t, hub, "c", ChangesTask(token))
	result := resp.Tasks[0]
	require.False(t, result.Failed(), "%v", result.Error)
	assert.Equal(t, "users", result.Container)
	require.Len(t, result.Changes, 2)
	assert.Equal(t, trackchanges.ChangeCreate, result.Changes[0].Type)
	assert.Equal(t, trackchanges.ChangeDelete, result.Changes[1].Type)

	resp = execute(t, hub, "c", ChangesTask(result.Token))
	assert.Empty(t, resp.Tasks[0].Changes)
}

func TestChangesTaskExpiredToken(t *testing.T) {
	hub := newTestHub(t, WithMaxHistory(1))

	resp := execute(t, hub, "c", SubscribeTask("users", nil))
	token := resp.Tasks[0].Token
	execute(t, hub, "c",
		CreateTask("users", "1", json.RawMessage(`{}`)),
		CreateTask("users", "2", json.RawMessage(`{}`)),
	)

	resp = execute(t, hub, "c", ChangesTask(token))
	require.True(t, resp.Tasks[0].Failed())
	assert.ErrorIs(t, resp.Tasks[0].Error, trackchanges.ErrTokenExpired)
}

type failingContainer struct {
	storage.Container
	name string
}

func (c *failingContainer) Name() string { return c.name }
func (c *failingContainer) Close() error { return errors.New("disk on fire") }

func TestCloseAggregatesErrors(t *testing.T) {
	hub := NewHub(WithLogger(quietLogger()))
	require.NoError(t, hub.RegisterContainer(&failingContainer{name: "a"}))
	require.NoError(t, hub.RegisterContainer(&failingContainer{name: "b"}))
	require.NoError(t, hub.RegisterContainer(storage.NewMemoryContainer("c")))

	err := hub.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `close container "a"`)
	assert.Contains(t, err.Error(), `close container "b"`)

	// closing twice is a no-op
	assert.NoError(t, hub.Close())

	_, err = hub.Execute(context.Background(), SyncRequest{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestExecuteConditionalTasks(t *testing.T) {
	hub := newTestHub(t)
	resp := execute(t, hub, "c",
		CreateTask("users", "1", json.RawMessage(`{"name":"Peter"}`)),
		ReadTask("users", "1"),
	)
	created := resp.Tasks[0].ETag
	require.NotEmpty(t, created)
	assert.Equal(t, created, resp.Tasks[1].ETag)

	stale := PatchTask("users", "1", patch.List{patch.Replace{Path: "/name", Value: "Paul"}})
	stale.IfMatch = `W/"0000000000000000"`
	fresh := PatchTask("users", "1", patch.List{patch.Replace{Path: "/name", Value: "Paul"}})
	fresh.IfMatch = created
	resp = execute(t, hub, "c", stale, fresh)
	require.NotNil(t, resp.Tasks[0].Error)
	assert.Equal(t, ErrorTypePrecondition, resp.Tasks[0].Error.Type)
	require.False(t, resp.Tasks[1].Failed(), "%v", resp.Tasks[1].Error)
	assert.NotEqual(t, created, resp.Tasks[1].ETag)

	// tags of earlier versions are rejected
	upsert := UpsertTask("users", "1", json.RawMessage(`{"name":"John"}`))
	upsert.IfMatch = created
	remove := DeleteTask("users", "1")
	remove.IfMatch = "*"
	missing := DeleteTask("users", "2")
	missing.IfMatch = "*"
	resp = execute(t, hub, "c", upsert, remove, missing)
	assert.Equal(t, ErrorTypePrecondition, resp.Tasks[0].Error.Type)
	assert.False(t, resp.Tasks[1].Failed())
	assert.Equal(t, ErrorTypePrecondition, resp.Tasks[2].Error.Type)
}
