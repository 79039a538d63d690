package jsondiff

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

var tokenEscaper = strings.NewReplacer("~", "~0", "/", "~1")

// EscapeToken escapes a reference token of a JSON pointer.
func EscapeToken(token string) string {
	return tokenEscaper.Replace(token)
}

// Tokens returns the unescaped reference tokens from the root to d.
// KindLength nodes share the tokens of their array.
func (d *Diff) Tokens() []string {
	var tokens []string
	for n := d; n != nil && n.parent != nil; n = n.parent {
		switch {
		case n.Kind == KindLength:
			continue
		case n.Index >= 0:
			tokens = append(tokens, strconv.Itoa(n.Index))
		default:
			tokens = append(tokens, n.Key)
		}
	}
	for i, j := 0, len(tokens)-1; i < j; i, j = i+1, j-1 {
		tokens[i], tokens[j] = tokens[j], tokens[i]
	}
	return tokens
}

// Path returns the JSON pointer of the node, e.g. "/child/val". The root has the empty path.
func (d *Diff) Path() string {
	var sb strings.Builder
	for _, token := range d.Tokens() {
		sb.WriteByte('/')
		sb.WriteString(EscapeToken(token))
	}
	return sb.String()
}

// String renders the node as "left -> right".
func (d *Diff) String() string {
	if d == nil {
		return "<nil>"
	}
	if d.Kind == KindLength {
		return fmt.Sprintf("[%v] -> [%v]", d.Left, d.Right)
	}
	return Format(d.Left) + " -> " + Format(d.Right)
}

// Text renders one "path: left -> right" line per leaf.
func (d *Diff) Text() string {
	var sb strings.Builder
	for _, leaf := range d.Leaves() {
		path := leaf.Path()
		if path == "" {
			path = "/"
		}
		sb.WriteString(path)
		sb.WriteString(": ")
		sb.WriteString(leaf.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Format renders a compared value as compact JSON. Missing renders as "(missing)".
func Format(v any) string {
	switch t := v.(type) {
	case missing:
		return t.String()
	case Reflectable:
		members, _ := asObject(t)
		obj := make(map[string]any, len(members))
		for _, m := range members {
			obj[m.key] = m.value
		}
		v = obj
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
