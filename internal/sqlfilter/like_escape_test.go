package sqlfilter

import "testing"

func TestEscapeLikePattern(t *testing.T) {
	tests := []struct {
		input    string
		brackets bool
		expected string
	}{
		{"%_\\", false, `\%\_\\`},
		{"plain", false, "plain"},
		{"[a]", false, "[a]"},
		{"[a]%", true, `\[a]\%`},
	}

	for _, tt := range tests {
		result := escapeLikePattern(tt.input, tt.brackets)
		if result != tt.expected {
			t.Fatalf("escapeLikePattern(%q, %v): expected %q, got %q", tt.input, tt.brackets, tt.expected, result)
		}
	}
}

func TestLikePattern(t *testing.T) {
	if got := likePattern("ab", true, true); got != "%ab%" {
		t.Fatalf("expected contains pattern %%ab%%, got %q", got)
	}
	if got := likePattern("ab", false, true); got != "ab%" {
		t.Fatalf("expected prefix pattern ab%%, got %q", got)
	}
	if got := likePattern("ab", true, false); got != "%ab" {
		t.Fatalf("expected suffix pattern %%ab, got %q", got)
	}
}
