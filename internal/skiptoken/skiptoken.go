// Package skiptoken encodes the position of a paged query so the next page
// can be requested.
package skiptoken

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// ErrInvalidToken indicates a token that cannot be decoded or that belongs to
// another query.
var ErrInvalidToken = errors.New("skiptoken: invalid skip token")

// SkipToken represents the state needed to resume a query.
type SkipToken struct {
	// Container is the container the query reads.
	Container string `json:"c"`
	// After is the key of the last entity of the previous page.
	After string `json:"k"`
	// Filter fingerprints the query filter.
	Filter uint64 `json:"f,omitempty"`
}

// New returns the token resuming a query on container after key. filter is
// the rendered query filter, empty if the query has none.
func New(container, after, filter string) *SkipToken {
	return &SkipToken{Container: container, After: after, Filter: Fingerprint(filter)}
}

// Fingerprint hashes a rendered filter. An empty filter has fingerprint 0.
func Fingerprint(filter string) uint64 {
	if filter == "" {
		return 0
	}
	return xxhash.Sum64String(filter)
}

// Encode encodes a skip token into a base64-encoded JSON string
func Encode(token *SkipToken) (string, error) {
	if token == nil {
		return "", fmt.Errorf("token cannot be nil")
	}
	jsonBytes, err := json.Marshal(token)
	if err != nil {
		return "", fmt.Errorf("failed to marshal token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(jsonBytes), nil
}

// Decode decodes a base64-encoded JSON string into a SkipToken
func Decode(encoded string) (*SkipToken, error) {
	if encoded == "" {
		return nil, fmt.Errorf("%w: token is empty", ErrInvalidToken)
	}
	jsonBytes, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var token SkipToken
	if err := json.Unmarshal(jsonBytes, &token); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if token.Container == "" {
		return nil, fmt.Errorf("%w: missing container", ErrInvalidToken)
	}
	return &token, nil
}

// Check verifies that the token continues a query on container with the
// given rendered filter.
func (t *SkipToken) Check(container, filter string) error {
	if t.Container != container {
		return fmt.Errorf("%w: token is for container %q", ErrInvalidToken, t.Container)
	}
	if t.Filter != Fingerprint(filter) {
		return fmt.Errorf("%w: filter changed", ErrInvalidToken)
	}
	return nil
}
