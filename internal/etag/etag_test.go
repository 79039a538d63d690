package etag

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestGenerate(t *testing.T) {
	a := Generate(json.RawMessage(`{"name":"Peter","age":40}`))
	b := Generate(json.RawMessage("{ \"name\": \"Peter\",\n \"age\": 40 }"))
	c := Generate(json.RawMessage(`{"name":"Peter","age":41}`))

	if !strings.HasPrefix(a, `W/"`) || !strings.HasSuffix(a, `"`) {
		t.Errorf("Generate = %s, want a weak etag", a)
	}
	if a != b {
		t.Errorf("whitespace changed the etag: %s != %s", a, b)
	}
	if a == c {
		t.Errorf("different values have the same etag %s", a)
	}
	if Generate(nil) != "" {
		t.Error("nil value must not have an etag")
	}
}

func TestParse(t *testing.T) {
	tests := map[string]string{
		`W/"abc"`: "abc",
		`"abc"`:   "abc",
		"abc":     "abc",
		"":        "",
	}
	for in, want := range tests {
		if got := Parse(in); got != want {
			t.Errorf("Parse(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMatch(t *testing.T) {
	current := Generate(json.RawMessage(`{"a":1}`))
	tests := []struct {
		name    string
		ifMatch string
		current string
		want    bool
	}{
		{"no precondition", "", current, true},
		{"no precondition on missing entity", "", "", true},
		{"same", current, current, true},
		{"strong form", strings.TrimPrefix(current, "W/"), current, true},
		{"different", `W/"0000000000000000"`, current, false},
		{"wildcard", "*", current, true},
		{"wildcard on missing entity", "*", "", false},
		{"tag on missing entity", current, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Match(tt.ifMatch, tt.current); got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.ifMatch, tt.current, got, tt.want)
			}
		})
	}
}
