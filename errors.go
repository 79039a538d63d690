package entityhub

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/nlstn/go-entityhub/internal/patch"
	"github.com/nlstn/go-entityhub/internal/query"
	"github.com/nlstn/go-entityhub/internal/skiptoken"
	"github.com/nlstn/go-entityhub/internal/sqlfilter"
	"github.com/nlstn/go-entityhub/internal/storage"
	"github.com/nlstn/go-entityhub/internal/trackchanges"
)

// Sentinel errors of the hub. They can be used with errors.Is().
var (
	// ErrContainerNotFound indicates a task names a container that is not registered.
	ErrContainerNotFound = errors.New("entityhub: container not found")

	// ErrContainerExists indicates a container name is registered twice.
	ErrContainerExists = errors.New("entityhub: container already registered")

	// ErrInvalidTask indicates a task is missing required fields or has an unknown type.
	ErrInvalidTask = errors.New("entityhub: invalid task")

	// ErrInvalidRequest indicates a sync request that cannot be executed at all.
	// Maps to HTTP 400 Bad Request.
	ErrInvalidRequest = errors.New("entityhub: invalid request")

	// ErrUnknownMessage indicates a message task without a registered handler.
	ErrUnknownMessage = errors.New("entityhub: unknown message")

	// ErrUnknownCommand indicates a command task without a registered handler.
	ErrUnknownCommand = errors.New("entityhub: unknown command")

	// ErrPreconditionFailed indicates a conditional task whose ETag does not
	// match the stored entity.
	ErrPreconditionFailed = errors.New("entityhub: precondition failed")

	// ErrClosed indicates the hub was closed.
	ErrClosed = errors.New("entityhub: hub is closed")
)

// ErrorType classifies task errors on the wire.
type ErrorType string

const (
	ErrorTypeGeneral           ErrorType = "General"
	ErrorTypeInvalidTask       ErrorType = "InvalidTask"
	ErrorTypeContainerNotFound ErrorType = "ContainerNotFound"
	ErrorTypeEntityNotFound    ErrorType = "EntityNotFound"
	ErrorTypeEntityExists      ErrorType = "EntityExists"
	ErrorTypePrecondition      ErrorType = "PreconditionFailed"
	ErrorTypeInvalidValue      ErrorType = "InvalidValue"
	ErrorTypeFilter            ErrorType = "Filter"
	ErrorTypeNotImplemented    ErrorType = "NotImplemented"
	ErrorTypePatch             ErrorType = "Patch"
	ErrorTypeTestFailed        ErrorType = "TestFailed"
	ErrorTypeUnknownMessage    ErrorType = "UnknownMessage"
	ErrorTypeUnknownCommand    ErrorType = "UnknownCommand"
	ErrorTypeCommand           ErrorType = "CommandFailed"
	ErrorTypeSubscription      ErrorType = "Subscription"
)

// TaskError is the error result of one task.
type TaskError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`

	err error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *TaskError) Unwrap() error {
	return e.err
}

// newTaskError classifies err. Errors returned by command handlers keep
// their message but are reported as CommandFailed.
func newTaskError(err error) *TaskError {
	var te *TaskError
	if errors.As(err, &te) {
		return te
	}
	return &TaskError{Type: classify(err), Message: err.Error(), err: err}
}

var errorTypes = []struct {
	target error
	typ    ErrorType
}{
	{ErrInvalidTask, ErrorTypeInvalidTask},
	{ErrContainerNotFound, ErrorTypeContainerNotFound},
	{ErrPreconditionFailed, ErrorTypePrecondition},
	{ErrUnknownMessage, ErrorTypeUnknownMessage},
	{ErrUnknownCommand, ErrorTypeUnknownCommand},
	{storage.ErrEntityNotFound, ErrorTypeEntityNotFound},
	{storage.ErrEntityExists, ErrorTypeEntityExists},
	{storage.ErrInvalidKey, ErrorTypeInvalidTask},
	{storage.ErrInvalidValue, ErrorTypeInvalidValue},
	{skiptoken.ErrInvalidToken, ErrorTypeInvalidTask},
	{sqlfilter.ErrNotImplemented, ErrorTypeNotImplemented},
	{patch.ErrTestFailed, ErrorTypeTestFailed},
	{patch.ErrPatchTargetNotContainer, ErrorTypePatch},
	{patch.ErrPathNotFound, ErrorTypePatch},
	{patch.ErrIndexOutOfRange, ErrorTypePatch},
	{patch.ErrInvalidPointer, ErrorTypePatch},
	{patch.ErrInvalidPatch, ErrorTypePatch},
	{trackchanges.ErrContainerNotRegistered, ErrorTypeSubscription},
	{trackchanges.ErrInvalidToken, ErrorTypeSubscription},
	{trackchanges.ErrTokenExpired, ErrorTypeSubscription},
	{trackchanges.ErrSubscriptionNotFound, ErrorTypeSubscription},
}

func classify(err error) ErrorType {
	for _, et := range errorTypes {
		if errors.Is(err, et.target) {
			return et.typ
		}
	}
	var qe *query.Error
	if errors.As(err, &qe) {
		return ErrorTypeFilter
	}
	var re *query.ReuseError
	if errors.As(err, &re) {
		return ErrorTypeFilter
	}
	return ErrorTypeGeneral
}

// httpError is the JSON body of request level failures.
type httpError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Details string `json:"details,omitempty"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, code int, message string, details string) error {
	var body httpError
	body.Error.Code = code
	body.Error.Message = message
	body.Error.Details = details

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(body)
}
