package entityhub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nlstn/go-entityhub/internal/observability"
	"github.com/nlstn/go-entityhub/internal/patch"
	"github.com/nlstn/go-entityhub/internal/trackchanges"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, opts ...Option) (*Hub, *httptest.Server) {
	t.Helper()
	hub := newTestHub(t, opts...)
	server := httptest.NewServer(hub)
	t.Cleanup(server.Close)
	return hub, server
}

func TestHTTPSync(t *testing.T) {
	_, server := newTestServer(t, WithObservability(observability.NewConfig(observability.WithServerTiming())))
	client := NewClient(server.URL, WithClientID("http-client"))
	ctx := context.Background()

	resp, err := client.Sync(ctx,
		CreateTask("users", "1", json.RawMessage(`{"name":"Peter","tags":["admin"]}`)),
		WhereTask("users", "o => o.tags.Any(t => t == 'admin')"),
		ReadTask("users", "2"),
	)
	require.NoError(t, err)
	assert.Equal(t, "http-client", resp.ClientID)
	require.Len(t, resp.Tasks, 3)
	assert.False(t, resp.Tasks[0].Failed())
	assert.Equal(t, []string{"1"}, resultKeys(resp.Tasks[1].Entities))
	require.True(t, resp.Tasks[2].Failed())
	assert.Equal(t, ErrorTypeEntityNotFound, resp.Tasks[2].Error.Type)
}

func TestHTTPSyncFilterWireFormat(t *testing.T) {
	_, server := newTestServer(t)
	client := NewClient(server.URL)
	ctx := context.Background()

	_, err := client.Sync(ctx,
		CreateTask("users", "1", json.RawMessage(`{"age":40}`)),
		CreateTask("users", "2", json.RawMessage(`{"age":20}`)),
	)
	require.NoError(t, err)

	resp, err := client.Sync(ctx, QueryTask("users", mustParse(t, "o => o.age * 2 > 50")))
	require.NoError(t, err)
	require.False(t, resp.Tasks[0].Failed(), "%v", resp.Tasks[0].Error)
	assert.Equal(t, []string{"1"}, resultKeys(resp.Tasks[0].Entities))
}

func TestHTTPSyncEvents(t *testing.T) {
	_, server := newTestServer(t)
	watcher := NewClient(server.URL)
	writer := NewClient(server.URL)
	ctx := context.Background()

	resp, err := watcher.Sync(ctx, SubscribeTask("users", nil))
	require.NoError(t, err)
	require.False(t, resp.Tasks[0].Failed())

	_, err = writer.Sync(ctx,
		CreateTask("users", "1", json.RawMessage(`{"a":1}`)),
		PatchTask("users", "1", patch.List{patch.Add{Path: "/b", Value: "x"}}),
	)
	require.NoError(t, err)

	resp, err = watcher.Sync(ctx)
	require.NoError(t, err)
	require.Len(t, resp.Events, 2)
	assert.Equal(t, int64(1), resp.Events[0].Seq)
	assert.Equal(t, int64(2), resp.Events[1].Seq)
	require.Len(t, resp.Events[1].Events, 1)
	event := resp.Events[1].Events[0]
	assert.Equal(t, trackchanges.ChangePatch, event.Type)
	require.Len(t, event.Patches, 1)
	assert.Equal(t, patch.Add{Path: "/b", Value: "x"}, event.Patches[0])
}

func TestHTTPErrors(t *testing.T) {
	hub, server := newTestServer(t, WithMaxTasks(1))

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"wrong method", http.MethodGet, "/sync", "", http.StatusMethodNotAllowed},
		{"malformed body", http.MethodPost, "/sync", "{", http.StatusBadRequest},
		{"too many tasks", http.MethodPost, "/sync", `{"tasks":[{"task":"read"},{"task":"read"}]}`, http.StatusBadRequest},
		{"unknown path", http.MethodGet, "/nothing", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, server.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			res, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer func() { _ = res.Body.Close() }()
			assert.Equal(t, tt.status, res.StatusCode)
		})
	}

	var body httpError
	rec := httptest.NewRecorder()
	hub.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sync", strings.NewReader("[]")))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, http.StatusBadRequest, body.Error.Code)
	assert.Equal(t, "invalid sync request", body.Error.Message)

	require.NoError(t, hub.Close())
	rec = httptest.NewRecorder()
	hub.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sync", strings.NewReader(`{"tasks":[]}`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHTTPClientReportsFailures(t *testing.T) {
	_, server := newTestServer(t, WithMaxTasks(1))
	client := NewClient(server.URL)

	_, err := client.Sync(context.Background(), ReadTask("users", "1"), ReadTask("users", "2"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "invalid sync request")
}

func receive(t *testing.T, client *WSClient) EventMessage {
	t.Helper()
	select {
	case msg, ok := <-client.Events():
		if !ok {
			t.Fatal("event channel closed")
		}
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for events")
	}
	return EventMessage{}
}

func TestWebSocketSyncAndEvents(t *testing.T) {
	hub, server := newTestServer(t)
	ctx := context.Background()

	watcher, err := DialWebSocket(ctx, server.URL, "ws-watcher")
	require.NoError(t, err)
	defer func() { _ = watcher.Close() }()

	resp, err := watcher.Sync(ctx, SubscribeTask("users", mustParse(t, "o => o.name.StartsWith('P')")))
	require.NoError(t, err)
	assert.Equal(t, "ws-watcher", resp.ClientID)
	require.False(t, resp.Tasks[0].Failed(), "%v", resp.Tasks[0].Error)

	writer := NewClient(server.URL)
	_, err = writer.Sync(ctx,
		CreateTask("users", "1", json.RawMessage(`{"name":"John"}`)),
		CreateTask("users", "2", json.RawMessage(`{"name":"Peter"}`)),
	)
	require.NoError(t, err)

	msg := receive(t, watcher)
	assert.Equal(t, "ws-watcher", msg.ClientID)
	assert.Equal(t, resp.Tasks[0].Subscription, msg.SubscriptionID)
	require.Len(t, msg.Events, 1)
	assert.Equal(t, "2", msg.Events[0].Key)
	assert.JSONEq(t, `{"name":"Peter"}`, string(msg.Events[0].Value))

	// the connection's own changes are pushed as well
	_, err = watcher.Sync(ctx, PatchTask("users", "2", patch.List{patch.Replace{Path: "/name", Value: "Paul"}}))
	require.NoError(t, err)
	msg = receive(t, watcher)
	require.Len(t, msg.Events, 1)
	assert.Equal(t, trackchanges.ChangePatch, msg.Events[0].Type)

	require.NoError(t, watcher.Close())
	require.Eventually(t, func() bool {
		return hub.Tracker().Subscriptions() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWebSocketInvalidFrames(t *testing.T) {
	_, server := newTestServer(t)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	frames := []string{`not json`, `{"type":"events","id":"1"}`}
	for _, frame := range frames {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var reply Frame
		require.NoError(t, conn.ReadJSON(&reply))
		assert.Equal(t, FrameError, reply.Type)
		assert.NotEmpty(t, reply.Error)
	}
}

func TestWebSocketClientClose(t *testing.T) {
	_, server := newTestServer(t)
	client, err := DialWebSocket(context.Background(), server.URL, "")
	require.NoError(t, err)
	assert.NotEmpty(t, client.ClientID())

	require.NoError(t, client.Close())
	_, err = client.Sync(context.Background(), ReadTask("users", "1"))
	assert.ErrorIs(t, err, ErrClientClosed)
}
