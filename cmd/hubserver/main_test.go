package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	entityhub "github.com/nlstn/go-entityhub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		_, err := newLogger(level)
		assert.NoError(t, err, level)
	}
	_, err := newLogger("loud")
	assert.Error(t, err)
}

func TestNewHubWithDrivers(t *testing.T) {
	for _, driver := range []string{"memory", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			hub, err := newHub(serverConfig{
				driver:     driver,
				containers: []string{"users", " orders ", ""},
				maxTasks:   10,
			}, testLogger())
			require.NoError(t, err)
			defer func() { _ = hub.Close() }()
			assert.Equal(t, []string{"orders", "users"}, hub.Containers())
		})
	}
}

func TestNewHubReportsEveryFailure(t *testing.T) {
	_, err := newHub(serverConfig{driver: "memory", containers: []string{"a", "a", "b", "b"}}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 errors")

	_, err = newHub(serverConfig{driver: "oracle", containers: []string{"a"}}, testLogger())
	assert.Error(t, err)
}

func TestRouter(t *testing.T) {
	hub, err := newHub(serverConfig{driver: "memory", containers: []string{"users"}}, testLogger())
	require.NoError(t, err)
	defer func() { _ = hub.Close() }()

	server := httptest.NewServer(newRouter(hub, testLogger()))
	defer server.Close()

	res, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	var health struct {
		Status     string   `json:"status"`
		Containers []string `json:"containers"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, []string{"users"}, health.Containers)

	client := entityhub.NewClient(server.URL)
	resp, err := client.Sync(context.Background(),
		entityhub.CreateTask("users", "1", json.RawMessage(`{"a":1}`)),
		entityhub.CommandTask("containers", nil),
	)
	require.NoError(t, err)
	require.False(t, resp.Tasks[0].Failed())
	assert.JSONEq(t, `["users"]`, string(resp.Tasks[1].Result))

	ws, err := entityhub.DialWebSocket(context.Background(), server.URL, "")
	require.NoError(t, err)
	defer func() { _ = ws.Close() }()
	resp, err = ws.Sync(context.Background(), entityhub.ReadTask("users", "1"))
	require.NoError(t, err)
	require.NotNil(t, resp.Tasks[0].Entity)
	assert.JSONEq(t, `{"a":1}`, string(resp.Tasks[0].Entity.Value))
}

func TestAppFlags(t *testing.T) {
	app := newApp()
	names := map[string]bool{}
	for _, f := range app.Flags {
		for _, name := range f.Names() {
			names[name] = true
		}
	}
	for _, want := range []string{"addr", "driver", "dsn", "containers", "log-level", "max-tasks", "max-history", "server-timing"} {
		assert.True(t, names[want], "missing flag %s", want)
	}
}
