package trackchanges

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/nlstn/go-entityhub/internal/query"
)

// EventMessage is one batch of change events pushed to a subscriber. Seq
// increases by one per message and subscription.
type EventMessage struct {
	ClientID       string        `json:"clientId"`
	SubscriptionID string        `json:"subscriptionId"`
	Seq            int64         `json:"seq"`
	Events         []ChangeEvent `json:"events"`
}

// EventSink receives the event messages of subscriptions.
type EventSink interface {
	Deliver(ctx context.Context, msg EventMessage) error
}

// SubscribeOptions selects the changes a subscription receives.
type SubscribeOptions struct {
	ClientID  string
	Container string
	// Types limits the change types. Empty means every type.
	Types []ChangeType
	// Filter limits the entities. Nil means every entity.
	Filter query.FilterOperation
}

// Subscription is a registered change subscription.
type Subscription struct {
	ID        string
	ClientID  string
	Container string
	Types     []ChangeType
	Filter    query.FilterOperation

	sink EventSink
	seq  atomic.Int64
	// mu keeps messages of one subscription in sequence order.
	mu sync.Mutex
}

// Matches reports whether the subscription receives event. The filter is
// evaluated on a copy, so a subscription may be matched concurrently.
func (s *Subscription) Matches(event ChangeEvent) (bool, error) {
	if event.Container != s.Container {
		return false, nil
	}
	if len(s.Types) > 0 && !slices.Contains(s.Types, event.Type) {
		return false, nil
	}
	if s.Filter == nil {
		return true, nil
	}
	if len(event.Current) == 0 {
		return false, nil
	}
	return query.MatchJSON(query.CloneFilter(s.Filter), event.Current)
}

// Subscribe registers a subscription delivering to sink and returns it.
func (t *Tracker) Subscribe(opts SubscribeOptions, sink EventSink) (*Subscription, error) {
	if sink == nil {
		return nil, fmt.Errorf("subscribe to %q: nil sink", opts.Container)
	}
	t.mu.RLock()
	_, registered := t.containers[opts.Container]
	t.mu.RUnlock()
	if !registered {
		return nil, fmt.Errorf("%w: %q", ErrContainerNotRegistered, opts.Container)
	}

	sub := &Subscription{
		ID:        uuid.NewString(),
		ClientID:  opts.ClientID,
		Container: opts.Container,
		Types:     slices.Clone(opts.Types),
		Filter:    opts.Filter,
		sink:      sink,
	}
	t.subscriptions.Store(sub.ID, sub)
	return sub, nil
}

// Unsubscribe removes the subscription with the given id.
func (t *Tracker) Unsubscribe(id string) error {
	if _, ok := t.subscriptions.LoadAndDelete(id); !ok {
		return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
	}
	return nil
}

// UnsubscribeClient removes every subscription of a client and returns how many were removed.
func (t *Tracker) UnsubscribeClient(clientID string) int {
	removed := 0
	t.subscriptions.Range(func(id string, sub *Subscription) bool {
		if sub.ClientID == clientID {
			t.subscriptions.Delete(id)
			removed++
		}
		return true
	})
	return removed
}

// Subscriptions returns the number of registered subscriptions.
func (t *Tracker) Subscriptions() int {
	return t.subscriptions.Size()
}

// Publish delivers events to every matching subscription, one message per
// subscription. Filter and delivery failures are logged and do not stop the
// delivery to other subscriptions. It returns the number of messages delivered.
func (t *Tracker) Publish(ctx context.Context, events []ChangeEvent) int {
	if len(events) == 0 {
		return 0
	}
	delivered := 0
	t.subscriptions.Range(func(_ string, sub *Subscription) bool {
		var matched []ChangeEvent
		for _, event := range events {
			ok, err := sub.Matches(event)
			if err != nil {
				t.logger.Warn("subscription filter failed",
					"subscription", sub.ID,
					"container", sub.Container,
					"error", err)
				continue
			}
			if ok {
				matched = append(matched, copyEvent(event))
			}
		}
		if len(matched) == 0 {
			return true
		}
		if err := sub.deliver(ctx, matched); err != nil {
			t.logger.Warn("failed to deliver change events",
				"subscription", sub.ID,
				"client", sub.ClientID,
				"events", len(matched),
				"error", err)
			return true
		}
		delivered++
		return true
	})
	return delivered
}

func (s *Subscription) deliver(ctx context.Context, events []ChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := EventMessage{
		ClientID:       s.ClientID,
		SubscriptionID: s.ID,
		Seq:            s.seq.Add(1),
		Events:         events,
	}
	return s.sink.Deliver(ctx, msg)
}
