package trackchanges

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/nlstn/go-entityhub/internal/patch"
	"github.com/nlstn/go-entityhub/internal/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSubscribedTracker(t *testing.T, opts SubscribeOptions) (*Tracker, *ChannelSink, *Subscription) {
	t.Helper()
	tracker := NewTracker()
	tracker.RegisterContainer("users")
	sink := NewChannelSink(16)
	if opts.Container == "" {
		opts.Container = "users"
	}
	sub, err := tracker.Subscribe(opts, sink)
	require.NoError(t, err)
	return tracker, sink, sub
}

func userEvent(typ ChangeType, key, current string) ChangeEvent {
	return ChangeEvent{Container: "users", Type: typ, Key: key, Current: json.RawMessage(current)}
}

func TestSubscribeReceivesEvents(t *testing.T) {
	tracker, sink, sub := newSubscribedTracker(t, SubscribeOptions{ClientID: "client-1"})

	recorded := tracker.Record(context.Background(),
		ChangeEvent{Container: "users", Type: ChangeCreate, Key: "1", Value: json.RawMessage(`{"name":"Peter"}`), Current: json.RawMessage(`{"name":"Peter"}`)},
		ChangeEvent{Container: "users", Type: ChangePatch, Key: "1", Patches: patch.List{patch.Replace{Path: "/name", Value: "Paul"}}, Current: json.RawMessage(`{"name":"Paul"}`)},
	)
	require.Len(t, recorded, 2)
	assert.Equal(t, int64(2), recorded[1].Version)

	msg := <-sink.Events()
	assert.Equal(t, "client-1", msg.ClientID)
	assert.Equal(t, sub.ID, msg.SubscriptionID)
	assert.Equal(t, int64(1), msg.Seq)
	require.Len(t, msg.Events, 2)
	assert.Equal(t, ChangeCreate, msg.Events[0].Type)
	assert.Equal(t, patch.List{patch.Replace{Path: "/name", Value: "Paul"}}, msg.Events[1].Patches)

	tracker.Record(context.Background(), userEvent(ChangeDelete, "1", `{"name":"Paul"}`))
	msg = <-sink.Events()
	assert.Equal(t, int64(2), msg.Seq)
}

func TestSubscribeFiltersByType(t *testing.T) {
	tracker, sink, _ := newSubscribedTracker(t, SubscribeOptions{Types: []ChangeType{ChangeDelete}})

	delivered := tracker.Publish(context.Background(), []ChangeEvent{
		userEvent(ChangeCreate, "1", `{}`),
		userEvent(ChangeDelete, "2", `{}`),
	})
	assert.Equal(t, 1, delivered)
	msg := <-sink.Events()
	require.Len(t, msg.Events, 1)
	assert.Equal(t, "2", msg.Events[0].Key)
}

func TestSubscribeFiltersByQuery(t *testing.T) {
	filter, err := query.ParseFilter("o => o.age > 35", nil)
	require.NoError(t, err)
	tracker, sink, _ := newSubscribedTracker(t, SubscribeOptions{Filter: filter})

	delivered := tracker.Publish(context.Background(), []ChangeEvent{
		userEvent(ChangeUpsert, "1", `{"age":40}`),
		userEvent(ChangeUpsert, "2", `{"age":20}`),
		userEvent(ChangeUpsert, "3", `{"name":"no age"}`),
		{Container: "users", Type: ChangeDelete, Key: "4"},
	})
	assert.Equal(t, 1, delivered)
	msg := <-sink.Events()
	require.Len(t, msg.Events, 1)
	assert.Equal(t, "1", msg.Events[0].Key)

	assert.Zero(t, tracker.Publish(context.Background(), []ChangeEvent{userEvent(ChangeUpsert, "2", `{"age":1}`)}))
}

func TestSubscribeIgnoresOtherContainers(t *testing.T) {
	tracker, _, _ := newSubscribedTracker(t, SubscribeOptions{})
	tracker.RegisterContainer("orders")

	assert.Zero(t, tracker.Publish(context.Background(), []ChangeEvent{{Container: "orders", Type: ChangeCreate, Key: "1"}}))
}

func TestSubscribeUnregisteredContainer(t *testing.T) {
	tracker := NewTracker()
	_, err := tracker.Subscribe(SubscribeOptions{Container: "users"}, NewChannelSink(1))
	assert.ErrorIs(t, err, ErrContainerNotRegistered)
}

func TestUnsubscribe(t *testing.T) {
	tracker, _, sub := newSubscribedTracker(t, SubscribeOptions{ClientID: "a"})
	_, err := tracker.Subscribe(SubscribeOptions{ClientID: "a", Container: "users"}, NewChannelSink(1))
	require.NoError(t, err)
	_, err = tracker.Subscribe(SubscribeOptions{ClientID: "b", Container: "users"}, NewChannelSink(1))
	require.NoError(t, err)
	assert.Equal(t, 3, tracker.Subscriptions())

	require.NoError(t, tracker.Unsubscribe(sub.ID))
	assert.ErrorIs(t, tracker.Unsubscribe(sub.ID), ErrSubscriptionNotFound)
	assert.Equal(t, 1, tracker.UnsubscribeClient("a"))
	assert.Equal(t, 1, tracker.Subscriptions())
}

func TestPublishContinuesAfterSinkFailure(t *testing.T) {
	tracker := NewTracker()
	tracker.RegisterContainer("users")

	failing := SinkFunc(func(context.Context, EventMessage) error { return errors.New("connection lost") })
	_, err := tracker.Subscribe(SubscribeOptions{Container: "users"}, failing)
	require.NoError(t, err)
	sink := NewChannelSink(1)
	_, err = tracker.Subscribe(SubscribeOptions{Container: "users"}, sink)
	require.NoError(t, err)

	assert.Equal(t, 1, tracker.Publish(context.Background(), []ChangeEvent{userEvent(ChangeCreate, "1", `{}`)}))
	assert.Len(t, sink.Events(), 1)
}

func TestChannelSink(t *testing.T) {
	sink := NewChannelSink(1)
	ctx := context.Background()
	require.NoError(t, sink.Deliver(ctx, EventMessage{Seq: 1}))
	assert.ErrorIs(t, sink.Deliver(ctx, EventMessage{Seq: 2}), ErrSinkFull)

	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())
	assert.ErrorIs(t, sink.Deliver(ctx, EventMessage{Seq: 3}), ErrSinkClosed)

	msg, ok := <-sink.Events()
	assert.True(t, ok)
	assert.Equal(t, int64(1), msg.Seq)
	_, ok = <-sink.Events()
	assert.False(t, ok)
}

func TestConcurrentPublishSharesFilter(t *testing.T) {
	filter, err := query.ParseFilter("o => o.tags.Any(t => t == 'x')", nil)
	require.NoError(t, err)
	tracker := NewTracker()
	tracker.RegisterContainer("users")

	var mu sync.Mutex
	received := 0
	_, err = tracker.Subscribe(SubscribeOptions{Container: "users", Filter: filter}, SinkFunc(func(_ context.Context, msg EventMessage) error {
		mu.Lock()
		received += len(msg.Events)
		mu.Unlock()
		return nil
	}))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.Record(context.Background(), userEvent(ChangeUpsert, "1", `{"tags":["x","y"]}`))
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, received)
}
