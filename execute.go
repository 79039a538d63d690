package entityhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/nlstn/go-entityhub/internal/etag"
	"github.com/nlstn/go-entityhub/internal/jsondiff"
	"github.com/nlstn/go-entityhub/internal/observability"
	"github.com/nlstn/go-entityhub/internal/patch"
	"github.com/nlstn/go-entityhub/internal/query"
	"github.com/nlstn/go-entityhub/internal/skiptoken"
	"github.com/nlstn/go-entityhub/internal/storage"
	"github.com/nlstn/go-entityhub/internal/trackchanges"
)

const maxClientIDLength = 128

// Execute runs the tasks of req in order. A failing task yields an error
// result and does not stop the following tasks. Events buffered for the
// client by earlier requests or by this one are returned in the response.
//
// The returned error is non-nil only if the request as a whole is invalid.
func (h *Hub) Execute(ctx context.Context, req SyncRequest) (*SyncResponse, error) {
	if err := h.validateRequest(req); err != nil {
		return nil, err
	}
	if req.ClientID == "" {
		req.ClientID = uuid.NewString()
	}

	// HTTP clients get an event buffer with their first subscription.
	sink, ok := h.clients.Load(req.ClientID)
	if !ok && subscribes(req.Tasks) {
		sink, _ = h.clients.LoadOrCompute(req.ClientID, func() *trackchanges.ChannelSink {
			return trackchanges.NewChannelSink(h.eventBuffer)
		})
	}
	if sink == nil {
		return h.execute(ctx, req, nil), nil
	}
	resp := h.execute(ctx, req, sink)
	resp.Events = drain(sink)
	return resp, nil
}

// Disconnect removes the subscriptions and the event buffer of a client.
func (h *Hub) Disconnect(clientID string) {
	removed := h.tracker.UnsubscribeClient(clientID)
	if sink, ok := h.clients.LoadAndDelete(clientID); ok {
		_ = sink.Close()
	}
	h.logger.Debug("client disconnected", observability.LogFieldClientID, clientID, "subscriptions", removed)
}

func subscribes(tasks []Task) bool {
	for _, t := range tasks {
		if t.Task == TaskSubscribeChanges {
			return true
		}
	}
	return false
}

func (h *Hub) validateRequest(req SyncRequest) error {
	if h.closed.Load() {
		return ErrClosed
	}
	var result *multierror.Error
	if len(req.ClientID) > maxClientIDLength {
		result = multierror.Append(result, fmt.Errorf("%w: client id exceeds %d characters", ErrInvalidRequest, maxClientIDLength))
	}
	if h.maxTasks > 0 && len(req.Tasks) > h.maxTasks {
		result = multierror.Append(result, fmt.Errorf("%w: %d tasks exceed the limit of %d", ErrInvalidRequest, len(req.Tasks), h.maxTasks))
	}
	return result.ErrorOrNil()
}

// drain returns the messages currently buffered in sink without blocking.
func drain(sink *trackchanges.ChannelSink) []EventMessage {
	var messages []EventMessage
	for {
		select {
		case msg, ok := <-sink.Events():
			if !ok {
				return messages
			}
			messages = append(messages, msg)
		default:
			return messages
		}
	}
}

// execute runs the tasks of req. Subscriptions created by the request deliver to sink.
func (h *Hub) execute(ctx context.Context, req SyncRequest, sink trackchanges.EventSink) *SyncResponse {
	tracer := h.observability.Tracer()
	ctx, span := tracer.StartSync(ctx, req.ClientID, len(req.Tasks))
	defer span.End()
	h.observability.Metrics().RecordSyncSize(ctx, len(req.Tasks))

	timing := observability.StartServerTimingWithDesc(ctx, "execute", "task execution")
	defer timing.Stop()

	resp := &SyncResponse{
		ClientID: req.ClientID,
		Tasks:    make([]TaskResult, len(req.Tasks)),
	}
	for i, task := range req.Tasks {
		resp.Tasks[i] = h.executeTask(ctx, req.ClientID, i, task, sink)
	}
	return resp
}

func (h *Hub) executeTask(ctx context.Context, clientID string, index int, task Task, sink trackchanges.EventSink) TaskResult {
	ctx, span := h.observability.Tracer().StartTask(ctx, string(task.Task), index, task.Container)
	defer span.End()
	start := time.Now()

	result := TaskResult{Task: task.Task, Container: task.Container, Key: task.Key}
	err := h.runTask(ctx, clientID, task, sink, &result)
	h.observability.Metrics().RecordTask(ctx, string(task.Task), task.Container, time.Since(start), err != nil)
	if err != nil {
		result.Error = newTaskError(err)
		h.observability.Tracer().RecordError(span, err)
		h.observability.Metrics().RecordError(ctx, string(task.Task), task.Container, string(result.Error.Type))
		observability.LoggerWithTrace(ctx, h.logger).Warn("task failed",
			observability.LogFieldTask, task.Task,
			observability.LogFieldContainer, task.Container,
			observability.LogFieldClientID, clientID,
			observability.LogFieldError, err)
	}
	return result
}

func (h *Hub) runTask(ctx context.Context, clientID string, task Task, sink trackchanges.EventSink, result *TaskResult) error {
	switch task.Task {
	case TaskCreate:
		return h.create(ctx, task, result)
	case TaskUpsert:
		return h.upsert(ctx, task, result)
	case TaskRead:
		return h.read(ctx, task, result)
	case TaskQuery:
		return h.query(ctx, task, result)
	case TaskPatch:
		return h.patch(ctx, task, result)
	case TaskDelete:
		return h.delete(ctx, task)
	case TaskMessage:
		return h.message(ctx, clientID, task)
	case TaskCommand:
		return h.command(ctx, clientID, task, result)
	case TaskSubscribeChanges:
		return h.subscribe(ctx, clientID, task, sink, result)
	case TaskUnsubscribe:
		if task.Subscription == "" {
			return fmt.Errorf("%w: unsubscribe requires a subscription", ErrInvalidTask)
		}
		result.Subscription = task.Subscription
		return h.tracker.Unsubscribe(task.Subscription)
	case TaskChanges:
		return h.changes(task, result)
	case "":
		return fmt.Errorf("%w: missing task type", ErrInvalidTask)
	default:
		return fmt.Errorf("%w: unknown task type %q", ErrInvalidTask, task.Task)
	}
}

// record stores a change and publishes it to the subscriptions.
func (h *Hub) record(ctx context.Context, event trackchanges.ChangeEvent) {
	h.tracker.Record(ctx, event)
	h.observability.Metrics().RecordEvents(ctx, event.Container, 1)
}

func (h *Hub) create(ctx context.Context, task Task, result *TaskResult) error {
	c, err := h.Container(task.Container)
	if err != nil {
		return err
	}
	if err := c.Create(ctx, storage.Entity{Key: task.Key, Value: task.Value}); err != nil {
		return err
	}
	result.ETag = etag.Generate(task.Value)
	h.record(ctx, trackchanges.ChangeEvent{
		Container: task.Container,
		Type:      trackchanges.ChangeCreate,
		Key:       task.Key,
		Value:     task.Value,
		Current:   task.Value,
	})
	return nil
}

// upsert publishes the full value for new entities and the changes for
// existing ones. Writing an unchanged value publishes nothing.
func (h *Hub) upsert(ctx context.Context, task Task, result *TaskResult) error {
	c, err := h.Container(task.Container)
	if err != nil {
		return err
	}
	if err := h.checkETag(ctx, c, task); err != nil {
		return err
	}
	previous, err := c.Upsert(ctx, storage.Entity{Key: task.Key, Value: task.Value})
	if err != nil {
		return err
	}
	result.ETag = etag.Generate(task.Value)

	event := trackchanges.ChangeEvent{
		Container: task.Container,
		Type:      trackchanges.ChangeUpsert,
		Key:       task.Key,
		Current:   task.Value,
	}
	if previous == nil {
		event.Value = task.Value
		h.record(ctx, event)
		return nil
	}
	diff, err := jsondiff.CompareJSON(previous, task.Value)
	if err != nil {
		return err
	}
	if diff == nil {
		return nil
	}
	event.Patches = patch.Create(diff)
	h.record(ctx, event)
	return nil
}

func (h *Hub) read(ctx context.Context, task Task, result *TaskResult) error {
	c, err := h.Container(task.Container)
	if err != nil {
		return err
	}
	entity, err := c.Read(ctx, task.Key)
	if err != nil {
		return err
	}
	result.Entity = &entity
	result.ETag = etag.Generate(entity.Value)
	return nil
}

// checkETag fails with ErrPreconditionFailed if the task has an IfMatch
// value that does not match the stored entity.
func (h *Hub) checkETag(ctx context.Context, c storage.Container, task Task) error {
	if task.IfMatch == "" {
		return nil
	}
	var current string
	entity, err := c.Read(ctx, task.Key)
	switch {
	case err == nil:
		current = etag.Generate(entity.Value)
	case !errors.Is(err, storage.ErrEntityNotFound):
		return err
	}
	if !etag.Match(task.IfMatch, current) {
		return fmt.Errorf("%w: entity %q does not match %s", ErrPreconditionFailed, task.Key, task.IfMatch)
	}
	return nil
}

func (h *Hub) query(ctx context.Context, task Task, result *TaskResult) error {
	c, err := h.Container(task.Container)
	if err != nil {
		return err
	}
	if task.Limit < 0 {
		return fmt.Errorf("%w: negative limit %d", ErrInvalidTask, task.Limit)
	}
	filter, err := h.taskFilter(ctx, task)
	if err != nil {
		return err
	}
	var rendered string
	if filter != nil {
		rendered = filter.String()
	}
	var after *skiptoken.SkipToken
	if task.SkipToken != "" {
		if after, err = skiptoken.Decode(task.SkipToken); err != nil {
			return err
		}
		if err := after.Check(task.Container, rendered); err != nil {
			return err
		}
	}
	entities, err := c.QueryEntities(ctx, filter)
	if err != nil {
		return err
	}
	if after != nil {
		// results are ordered by key
		start := sort.Search(len(entities), func(i int) bool { return entities[i].Key > after.After })
		entities = entities[start:]
	}
	if task.Limit > 0 && len(entities) > task.Limit {
		entities = entities[:task.Limit]
		next, err := skiptoken.Encode(skiptoken.New(task.Container, entities[len(entities)-1].Key, rendered))
		if err != nil {
			return err
		}
		result.SkipToken = next
	}
	h.observability.Metrics().RecordQueryResult(ctx, task.Container, len(entities))
	result.Entities = entities
	return nil
}

// taskFilter returns the filter of a query or subscription task, or nil if
// the task has none.
func (h *Hub) taskFilter(ctx context.Context, task Task) (query.FilterOperation, error) {
	hasFilter := task.Filter != nil && task.Filter.Operation != nil
	switch {
	case hasFilter && task.Where != "":
		return nil, fmt.Errorf("%w: filter and where are mutually exclusive", ErrInvalidTask)
	case hasFilter:
		filter, ok := task.Filter.Filter()
		if !ok {
			return nil, fmt.Errorf("%w: %s is not a filter", ErrInvalidTask, task.Filter.Kind())
		}
		h.traceFilter(ctx, filter)
		return filter, nil
	case task.Where != "":
		filter, err := query.ParseFilter(task.Where, nil)
		if err != nil {
			return nil, err
		}
		h.logger.Debug("parsed filter", observability.LogFieldContainer, task.Container, "filter", filter.String())
		h.traceFilter(ctx, filter)
		return filter, nil
	}
	return nil, nil
}

func (h *Hub) traceFilter(ctx context.Context, filter query.FilterOperation) {
	if h.observability == nil || !h.observability.EnableFilterTracing {
		return
	}
	_, span := h.observability.Tracer().StartSpan(ctx, "entityhub.filter", observability.FilterAttr(filter.String()))
	span.End()
}

func (h *Hub) patch(ctx context.Context, task Task, result *TaskResult) error {
	c, err := h.Container(task.Container)
	if err != nil {
		return err
	}
	if len(task.Patches) == 0 {
		return fmt.Errorf("%w: patch requires at least one patch", ErrInvalidTask)
	}
	if err := h.checkETag(ctx, c, task); err != nil {
		return err
	}
	previous, current, err := c.Patch(ctx, task.Key, task.Patches)
	if err != nil {
		return err
	}
	result.ETag = etag.Generate(current)
	diff, err := jsondiff.CompareJSON(previous, current)
	if err != nil {
		return err
	}
	if diff == nil {
		return nil
	}
	h.record(ctx, trackchanges.ChangeEvent{
		Container: task.Container,
		Type:      trackchanges.ChangePatch,
		Key:       task.Key,
		Patches:   patch.Create(diff),
		Current:   current,
	})
	return nil
}

func (h *Hub) delete(ctx context.Context, task Task) error {
	c, err := h.Container(task.Container)
	if err != nil {
		return err
	}
	if err := h.checkETag(ctx, c, task); err != nil {
		return err
	}
	previous, err := c.Delete(ctx, task.Key)
	if err != nil {
		return err
	}
	h.record(ctx, trackchanges.ChangeEvent{
		Container: task.Container,
		Type:      trackchanges.ChangeDelete,
		Key:       task.Key,
		Current:   previous,
	})
	return nil
}

func (h *Hub) message(ctx context.Context, clientID string, task Task) error {
	h.mu.RLock()
	handler, ok := h.messages[task.Name]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMessage, task.Name)
	}
	return handler(ctx, clientID, task.Payload)
}

func (h *Hub) command(ctx context.Context, clientID string, task Task, result *TaskResult) error {
	h.mu.RLock()
	handler, ok := h.commands[task.Name]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, task.Name)
	}

	value, err := handler(ctx, clientID, task.Payload)
	if err != nil {
		var te *TaskError
		if errors.As(err, &te) {
			return te
		}
		return &TaskError{Type: ErrorTypeCommand, Message: err.Error(), err: err}
	}
	if value == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode result of command %q: %w", task.Name, err)
	}
	result.Result = data
	return nil
}

func (h *Hub) subscribe(ctx context.Context, clientID string, task Task, sink trackchanges.EventSink, result *TaskResult) error {
	if _, err := h.Container(task.Container); err != nil {
		return err
	}
	if sink == nil {
		return fmt.Errorf("%w: client %q cannot receive events", ErrInvalidTask, clientID)
	}
	filter, err := h.taskFilter(ctx, task)
	if err != nil {
		return err
	}
	sub, err := h.tracker.Subscribe(trackchanges.SubscribeOptions{
		ClientID:  clientID,
		Container: task.Container,
		Types:     task.Changes,
		Filter:    filter,
	}, sink)
	if err != nil {
		return err
	}
	token, err := h.tracker.CurrentToken(task.Container)
	if err != nil {
		return err
	}
	result.Subscription = sub.ID
	result.Token = token
	return nil
}

func (h *Hub) changes(task Task, result *TaskResult) error {
	if task.Token == "" {
		return fmt.Errorf("%w: changes requires a token", ErrInvalidTask)
	}
	container, err := h.tracker.ContainerFromToken(task.Token)
	if err != nil {
		return err
	}
	events, token, err := h.tracker.ChangesSince(task.Token)
	if err != nil {
		return err
	}
	result.Container = container
	result.Changes = events
	result.Token = token
	return nil
}
