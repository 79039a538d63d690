package skiptoken

import (
	"encoding/base64"
	"errors"
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	token := New("users", "42", "o => (o.age > 35)")

	encoded, err := Encode(token)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if _, err := base64.RawURLEncoding.DecodeString(encoded); err != nil {
		t.Errorf("Encoded token is not valid base64: %v", err)
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if *decoded != *token {
		t.Errorf("Decode = %+v, want %+v", decoded, token)
	}
}

func TestEncodeNil(t *testing.T) {
	if _, err := Encode(nil); err == nil {
		t.Error("Expected error when encoding nil token")
	}
}

func TestDecodeInvalid(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"not base64", "!!!"},
		{"not json", base64.RawURLEncoding.EncodeToString([]byte("nope"))},
		{"no container", base64.RawURLEncoding.EncodeToString([]byte(`{"k":"1"}`))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Decode(%q) error = %v, want ErrInvalidToken", tt.token, err)
			}
		})
	}
}

func TestCheck(t *testing.T) {
	token := New("users", "1", "o => (o.age > 35)")
	if err := token.Check("users", "o => (o.age > 35)"); err != nil {
		t.Errorf("Check failed: %v", err)
	}
	if err := token.Check("orders", "o => (o.age > 35)"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Check with other container = %v, want ErrInvalidToken", err)
	}
	if err := token.Check("users", ""); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Check with other filter = %v, want ErrInvalidToken", err)
	}
	if Fingerprint("") != 0 {
		t.Error("empty filter must have fingerprint 0")
	}
}
