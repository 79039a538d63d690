package entityhub

import (
	"encoding/json"

	"github.com/nlstn/go-entityhub/internal/patch"
	"github.com/nlstn/go-entityhub/internal/query"
	"github.com/nlstn/go-entityhub/internal/storage"
	"github.com/nlstn/go-entityhub/internal/trackchanges"
)

// HeaderClientID carries the client id of HTTP sync requests and responses.
const HeaderClientID = "X-Entityhub-Client"

// Entity is a stored entity: its key and its JSON value.
type Entity = storage.Entity

// ChangeEvent is one change pushed to subscribers.
type ChangeEvent = trackchanges.ChangeEvent

// EventMessage is a batch of change events for one subscription.
type EventMessage = trackchanges.EventMessage

// TaskType discriminates the tasks of a sync request.
type TaskType string

const (
	TaskCreate           TaskType = "create"
	TaskUpsert           TaskType = "upsert"
	TaskRead             TaskType = "read"
	TaskQuery            TaskType = "query"
	TaskPatch            TaskType = "patch"
	TaskDelete           TaskType = "delete"
	TaskMessage          TaskType = "message"
	TaskCommand          TaskType = "command"
	TaskSubscribeChanges TaskType = "subscribeChanges"
	TaskUnsubscribe      TaskType = "unsubscribe"
	TaskChanges          TaskType = "changes"
)

// Task is one unit of work in a sync request. Which fields are used depends
// on Task:
//
//	create              Container, Key, Value
//	upsert              Container, Key, Value, IfMatch
//	read                Container, Key
//	delete              Container, Key, IfMatch
//	patch               Container, Key, Patches, IfMatch
//	query               Container, Filter or Where, Limit, SkipToken
//	message, command    Name, Payload
//	subscribeChanges    Container, Changes, Filter or Where
//	unsubscribe         Subscription
//	changes             Token
type Task struct {
	Task      TaskType        `json:"task"`
	Container string          `json:"container,omitempty"`
	Key       string          `json:"key,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
	Patches   patch.List      `json:"patches,omitempty"`
	// IfMatch makes upsert, patch and delete conditional on the ETag of the
	// stored entity. "*" requires the entity to exist.
	IfMatch string `json:"ifMatch,omitempty"`

	// Filter is a filter in the operation wire format.
	Filter *query.JSONOperation `json:"filter,omitempty"`
	// Where is a filter in source form, e.g. "o => o.age > 35".
	Where string `json:"where,omitempty"`
	// Limit bounds the number of query results. Zero means no limit.
	Limit int `json:"limit,omitempty"`
	// SkipToken continues a limited query after the page that returned it.
	SkipToken string `json:"skipToken,omitempty"`

	Name    string          `json:"name,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// Changes limits the change types of a subscription. Empty means all.
	Changes      []trackchanges.ChangeType `json:"changes,omitempty"`
	Subscription string                    `json:"subscription,omitempty"`
	Token        string                    `json:"token,omitempty"`
}

// TaskResult is the result of the task at the same index of the request.
type TaskResult struct {
	Task      TaskType `json:"task"`
	Container string   `json:"container,omitempty"`
	Key       string   `json:"key,omitempty"`

	Entity   *Entity  `json:"entity,omitempty"`
	Entities []Entity `json:"entities,omitempty"`
	// ETag is the tag of the entity written or read by the task.
	ETag string `json:"etag,omitempty"`

	// Result is the encoded return value of a command.
	Result json.RawMessage `json:"result,omitempty"`

	// SkipToken is set if a limited query has more results.
	SkipToken string `json:"skipToken,omitempty"`

	Subscription string        `json:"subscription,omitempty"`
	Token        string        `json:"token,omitempty"`
	Changes      []ChangeEvent `json:"changes,omitempty"`

	Error *TaskError `json:"error,omitempty"`
}

// Failed reports whether the task returned an error.
func (r TaskResult) Failed() bool {
	return r.Error != nil
}

// SyncRequest is a batch of tasks sent by one client. A missing ClientID is
// assigned by the hub and returned in the response.
type SyncRequest struct {
	ClientID string `json:"clientId,omitempty"`
	Tasks    []Task `json:"tasks"`
}

// SyncResponse holds one result per task, in request order, and the events
// buffered for the client since its previous request.
type SyncResponse struct {
	ClientID string         `json:"clientId"`
	Tasks    []TaskResult   `json:"tasks"`
	Events   []EventMessage `json:"events,omitempty"`
}

// Task constructors used by clients.

// CreateTask returns a task creating an entity.
func CreateTask(container, key string, value json.RawMessage) Task {
	return Task{Task: TaskCreate, Container: container, Key: key, Value: value}
}

// UpsertTask returns a task creating or replacing an entity.
func UpsertTask(container, key string, value json.RawMessage) Task {
	return Task{Task: TaskUpsert, Container: container, Key: key, Value: value}
}

// ReadTask returns a task reading one entity.
func ReadTask(container, key string) Task {
	return Task{Task: TaskRead, Container: container, Key: key}
}

// QueryTask returns a task selecting the entities matching filter. A nil
// filter selects every entity.
func QueryTask(container string, filter query.FilterOperation) Task {
	t := Task{Task: TaskQuery, Container: container}
	if filter != nil {
		t.Filter = &query.JSONOperation{Operation: filter}
	}
	return t
}

// WhereTask returns a query task with a filter in source form.
func WhereTask(container, where string) Task {
	return Task{Task: TaskQuery, Container: container, Where: where}
}

// PatchTask returns a task applying patches to an entity.
func PatchTask(container, key string, patches patch.List) Task {
	return Task{Task: TaskPatch, Container: container, Key: key, Patches: patches}
}

// DeleteTask returns a task deleting an entity.
func DeleteTask(container, key string) Task {
	return Task{Task: TaskDelete, Container: container, Key: key}
}

// MessageTask returns a task sending a message to the handler registered for name.
func MessageTask(name string, payload json.RawMessage) Task {
	return Task{Task: TaskMessage, Name: name, Payload: payload}
}

// CommandTask returns a task invoking the command registered for name.
func CommandTask(name string, payload json.RawMessage) Task {
	return Task{Task: TaskCommand, Name: name, Payload: payload}
}

// SubscribeTask returns a task subscribing to changes of a container.
func SubscribeTask(container string, filter query.FilterOperation, changes ...trackchanges.ChangeType) Task {
	t := Task{Task: TaskSubscribeChanges, Container: container, Changes: changes}
	if filter != nil {
		t.Filter = &query.JSONOperation{Operation: filter}
	}
	return t
}

// UnsubscribeTask returns a task removing a subscription.
func UnsubscribeTask(subscription string) Task {
	return Task{Task: TaskUnsubscribe, Subscription: subscription}
}

// ChangesTask returns a task reading the changes recorded after token.
func ChangesTask(token string) Task {
	return Task{Task: TaskChanges, Token: token}
}
