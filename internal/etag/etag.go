// Package etag derives entity tags from stored entity values.
package etag

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Generate returns the weak ETag of an entity value. Values that differ only
// in insignificant whitespace have the same tag. A nil value has no tag.
func Generate(value json.RawMessage) string {
	if value == nil {
		return ""
	}
	var buf bytes.Buffer
	source := []byte(value)
	if err := json.Compact(&buf, value); err == nil {
		source = buf.Bytes()
	}
	return fmt.Sprintf("W/\"%016x\"", xxhash.Sum64(source))
}

// Parse extracts the ETag value from a quoted ETag string
// Handles both strong ("value") and weak (W/"value") ETags
func Parse(tag string) string {
	if len(tag) > 2 && tag[:2] == "W/" {
		tag = tag[2:]
	}
	if len(tag) >= 2 && tag[0] == '"' && tag[len(tag)-1] == '"' {
		return tag[1 : len(tag)-1]
	}
	return tag
}

// Match checks if an If-Match value matches the current ETag. An empty
// ifMatch always matches. "*" matches any existing entity.
func Match(ifMatch string, current string) bool {
	if ifMatch == "" {
		return true
	}
	if current == "" {
		return false
	}
	if ifMatch == "*" {
		return true
	}
	return Parse(ifMatch) == Parse(current)
}
