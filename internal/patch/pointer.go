package patch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nlstn/go-entityhub/internal/jsondiff"
)

// ParsePointer splits an RFC 6901 pointer into unescaped reference tokens.
// The empty pointer refers to the whole document.
func ParsePointer(pointer string) ([]string, error) {
	if pointer == "" {
		return nil, nil
	}
	if pointer[0] != '/' {
		return nil, fmt.Errorf("%w: %q does not start with '/'", ErrInvalidPointer, pointer)
	}
	tokens := strings.Split(pointer[1:], "/")
	for i, token := range tokens {
		if !strings.Contains(token, "~") {
			continue
		}
		var sb strings.Builder
		for j := 0; j < len(token); j++ {
			if token[j] != '~' {
				sb.WriteByte(token[j])
				continue
			}
			if j+1 == len(token) || (token[j+1] != '0' && token[j+1] != '1') {
				return nil, fmt.Errorf("%w: bad escape in %q", ErrInvalidPointer, pointer)
			}
			if token[j+1] == '0' {
				sb.WriteByte('~')
			} else {
				sb.WriteByte('/')
			}
			j++
		}
		tokens[i] = sb.String()
	}
	return tokens, nil
}

// FormatPointer joins reference tokens into a pointer.
func FormatPointer(tokens ...string) string {
	var sb strings.Builder
	for _, token := range tokens {
		sb.WriteByte('/')
		sb.WriteString(jsondiff.EscapeToken(token))
	}
	return sb.String()
}

// arrayIndex parses an array reference token. Leading zeros are rejected.
// "-" is accepted only when appending.
func arrayIndex(token string, length int, appending bool) (int, error) {
	if token == "-" {
		if appending {
			return length, nil
		}
		return 0, fmt.Errorf("%w: '-' refers to a nonexistent element", ErrIndexOutOfRange)
	}
	if token == "" || (len(token) > 1 && token[0] == '0') {
		return 0, fmt.Errorf("%w: bad array index %q", ErrInvalidPointer, token)
	}
	idx, err := strconv.Atoi(token)
	if err != nil || idx < 0 {
		return 0, fmt.Errorf("%w: bad array index %q", ErrInvalidPointer, token)
	}
	limit := length - 1
	if appending {
		limit = length
	}
	if idx > limit {
		return 0, fmt.Errorf("%w: index %d, length %d", ErrIndexOutOfRange, idx, length)
	}
	return idx, nil
}
