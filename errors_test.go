package entityhub

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nlstn/go-entityhub/internal/patch"
	"github.com/nlstn/go-entityhub/internal/query"
	"github.com/nlstn/go-entityhub/internal/skiptoken"
	"github.com/nlstn/go-entityhub/internal/storage"
	"github.com/nlstn/go-entityhub/internal/trackchanges"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"invalid task", fmt.Errorf("%w: missing key", ErrInvalidTask), ErrorTypeInvalidTask},
		{"container", fmt.Errorf("%w: %q", ErrContainerNotFound, "x"), ErrorTypeContainerNotFound},
		{"entity not found", fmt.Errorf("read: %w", storage.ErrEntityNotFound), ErrorTypeEntityNotFound},
		{"entity exists", storage.ErrEntityExists, ErrorTypeEntityExists},
		{"invalid key", storage.ErrInvalidKey, ErrorTypeInvalidTask},
		{"precondition", ErrPreconditionFailed, ErrorTypePrecondition},
		{"skip token", skiptoken.ErrInvalidToken, ErrorTypeInvalidTask},
		{"test failed", patch.ErrTestFailed, ErrorTypeTestFailed},
		{"patch path", patch.ErrPathNotFound, ErrorTypePatch},
		{"token", trackchanges.ErrTokenExpired, ErrorTypeSubscription},
		{"filter", &query.ReuseError{Type: "Compare", Op: "=="}, ErrorTypeFilter},
		{"unknown", errors.New("boom"), ErrorTypeGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}

func TestNewTaskError(t *testing.T) {
	err := fmt.Errorf("read %q: %w", "1", storage.ErrEntityNotFound)
	te := newTaskError(err)
	assert.Equal(t, ErrorTypeEntityNotFound, te.Type)
	assert.Equal(t, err.Error(), te.Message)
	assert.ErrorIs(t, te, storage.ErrEntityNotFound)

	// task errors are passed through unchanged
	own := &TaskError{Type: ErrorTypeCommand, Message: "nope"}
	assert.Same(t, own, newTaskError(fmt.Errorf("wrapped: %w", own)))

	data, err := json.Marshal(te)
	require.NoError(t, err)
	assert.JSONEq(t, fmt.Sprintf(`{"type":"EntityNotFound","message":%q}`, te.Message), string(data))
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, writeError(w, http.StatusBadRequest, "invalid sync request", "unexpected EOF"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t,
		`{"error":{"code":400,"message":"invalid sync request","details":"unexpected EOF"}}`,
		w.Body.String())
}
