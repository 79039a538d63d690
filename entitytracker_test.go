package entityhub

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/nlstn/go-entityhub/internal/patch"
	"github.com/nlstn/go-entityhub/internal/trackchanges"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type user struct {
	Name string
	Age  int
}

func (u *user) Fields() []string { return []string{"name", "age"} }

func (u *user) Get(name string) any {
	switch name {
	case "name":
		return u.Name
	case "age":
		return u.Age
	}
	return nil
}

func (u *user) Set(name string, value any) error {
	switch name {
	case "name":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("name must be a string, got %T", value)
		}
		u.Name = s
	case "age":
		switch n := value.(type) {
		case int:
			u.Age = n
		case float64:
			u.Age = int(n)
		case json.Number:
			i, err := n.Int64()
			if err != nil {
				return err
			}
			u.Age = int(i)
		default:
			return fmt.Errorf("age must be a number, got %T", value)
		}
	default:
		return fmt.Errorf("unknown field %q", name)
	}
	return nil
}

func marshalPatches(t *testing.T, task Task) string {
	t.Helper()
	data, err := patch.Marshal(task.Patches)
	require.NoError(t, err)
	return string(data)
}

func TestEntityTrackerPatchesMap(t *testing.T) {
	tracker := NewEntityTracker()
	obj, err := tracker.TrackJSON("users", "1", json.RawMessage(`{"name":"Peter","tags":["a"]}`))
	require.NoError(t, err)
	assert.Empty(t, tracker.Patches())

	obj["name"] = "Paul"
	obj["tags"] = append(obj["tags"].([]any), "b")

	tasks := tracker.Patches()
	require.Len(t, tasks, 1)
	assert.Equal(t, TaskPatch, tasks[0].Task)
	assert.Equal(t, "users", tasks[0].Container)
	assert.Equal(t, "1", tasks[0].Key)
	assert.JSONEq(t,
		`[{"op":"replace","path":"/name","value":"Paul"},{"op":"add","path":"/tags/1","value":"b"}]`,
		marshalPatches(t, tasks[0]))

	tracker.Commit()
	assert.Empty(t, tracker.Patches())
}

func TestEntityTrackerPatchesOrder(t *testing.T) {
	tracker := NewEntityTracker()
	for _, ref := range []struct{ container, key string }{{"users", "2"}, {"orders", "9"}, {"users", "1"}} {
		tracker.Track(ref.container, ref.key, map[string]any{"v": 1})
	}
	for _, ref := range []struct{ container, key string }{{"users", "2"}, {"orders", "9"}, {"users", "1"}} {
		e, ok := tracker.Get(ref.container, ref.key)
		require.True(t, ok)
		e.(map[string]any)["v"] = 2
	}

	tasks := tracker.Patches()
	require.Len(t, tasks, 3)
	assert.Equal(t, "orders", tasks[0].Container)
	assert.Equal(t, "1", tasks[1].Key)
	assert.Equal(t, "2", tasks[2].Key)
}

func TestEntityTrackerReflectable(t *testing.T) {
	tracker := NewEntityTracker()
	u := &user{Name: "Peter", Age: 40}
	tracker.Track("users", "1", u)

	u.Age = 41
	tasks := tracker.Patches()
	require.Len(t, tasks, 1)
	assert.JSONEq(t, `[{"op":"replace","path":"/age","value":41}]`, marshalPatches(t, tasks[0]))

	// remote changes are applied to the object and keep local changes pending
	err := tracker.Apply(ChangeEvent{
		Container: "users",
		Key:       "1",
		Type:      trackchanges.ChangePatch,
		Patches:   patch.List{patch.Replace{Path: "/name", Value: "Paul"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Paul", u.Name)
	tasks = tracker.Patches()
	require.Len(t, tasks, 1)
	assert.JSONEq(t, `[{"op":"replace","path":"/age","value":41}]`, marshalPatches(t, tasks[0]))

	err = tracker.Apply(ChangeEvent{
		Container: "users",
		Key:       "1",
		Type:      trackchanges.ChangePatch,
		Patches:   patch.List{patch.Replace{Path: "/email", Value: "x"}},
	})
	assert.Error(t, err)
}

func TestEntityTrackerApply(t *testing.T) {
	tracker := NewEntityTracker()
	obj, err := tracker.TrackJSON("users", "1", json.RawMessage(`{"name":"Peter","age":40}`))
	require.NoError(t, err)
	obj["name"] = "Paul"

	require.NoError(t, tracker.Apply(ChangeEvent{
		Container: "users",
		Key:       "1",
		Type:      trackchanges.ChangePatch,
		Patches:   patch.List{patch.Replace{Path: "/age", Value: json.Number("41")}},
	}))
	current, _ := tracker.Get("users", "1")
	assert.Equal(t, json.Number("41"), current.(map[string]any)["age"])
	assert.Equal(t, "Paul", current.(map[string]any)["name"])

	tasks := tracker.Patches()
	require.Len(t, tasks, 1)
	assert.JSONEq(t, `[{"op":"replace","path":"/name","value":"Paul"}]`, marshalPatches(t, tasks[0]))

	// a full value replaces the synced state
	require.NoError(t, tracker.Apply(ChangeEvent{
		Container: "users",
		Key:       "1",
		Type:      trackchanges.ChangeUpsert,
		Value:     json.RawMessage(`{"name":"Peter","age":50}`),
	}))
	current, _ = tracker.Get("users", "1")
	assert.Equal(t, json.Number("50"), current.(map[string]any)["age"])

	// events of untracked entities are ignored
	require.NoError(t, tracker.Apply(ChangeEvent{Container: "users", Key: "2", Type: trackchanges.ChangeDelete}))
	assert.Equal(t, 1, tracker.Len())

	require.NoError(t, tracker.ApplyMessage(EventMessage{Events: []ChangeEvent{
		{Container: "users", Key: "1", Type: trackchanges.ChangeDelete},
	}}))
	assert.Equal(t, 0, tracker.Len())
}

func TestEntityTrackerTrackJSONRejectsNonObjects(t *testing.T) {
	tracker := NewEntityTracker()
	_, err := tracker.TrackJSON("users", "1", json.RawMessage(`[1,2]`))
	assert.Error(t, err)
	_, err = tracker.TrackJSON("users", "1", json.RawMessage(`{`))
	assert.Error(t, err)
	assert.Equal(t, 0, tracker.Len())
}

func TestEntityTrackerSyncWithHub(t *testing.T) {
	hub := newTestHub(t)
	resp := execute(t, hub, "c",
		CreateTask("users", "1", json.RawMessage(`{"name":"Peter","address":{"city":"Berlin"},"tags":["a","b","c"]}`)),
		ReadTask("users", "1"),
	)
	require.NotNil(t, resp.Tasks[1].Entity)

	tracker := NewEntityTracker()
	obj, err := tracker.TrackJSON("users", "1", resp.Tasks[1].Entity.Value)
	require.NoError(t, err)

	obj["address"].(map[string]any)["city"] = "Hamburg"
	obj["tags"] = obj["tags"].([]any)[:1]
	delete(obj, "name")
	obj["age"] = 40

	resp = execute(t, hub, "c", append(tracker.Patches(), ReadTask("users", "1"))...)
	for i, result := range resp.Tasks {
		require.False(t, result.Failed(), "task %d: %v", i, result.Error)
	}
	tracker.Commit()
	assert.Empty(t, tracker.Patches())

	assert.JSONEq(t, `{"address":{"city":"Hamburg"},"tags":["a"],"age":40}`, string(resp.Tasks[1].Entity.Value))
}
