package auth

import (
	"context"
	"errors"
	"testing"
)

func TestStaticVerifier(t *testing.T) {
	v := NewStaticVerifier([]string{
		"tok-abc=user-1:one@example.com",
		"tok-def=user-2",
		"malformed",
		"=empty",
	})
	ctx := context.Background()

	identity, err := v.Verify(ctx, "tok-abc")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if identity.UserID != "user-1" || identity.Email != "one@example.com" {
		t.Errorf("Unexpected identity: %+v", identity)
	}

	identity, err = v.Verify(ctx, "tok-def")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if identity.UserID != "user-2" || identity.Email != "" {
		t.Errorf("Unexpected identity: %+v", identity)
	}

	if _, err := v.Verify(ctx, "tok-unknown"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
	if _, err := v.Verify(ctx, "malformed"); !errors.Is(err, ErrInvalidToken) {
		t.Error("Malformed entries must not become valid tokens")
	}
}

func TestParseBearer(t *testing.T) {
	cases := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer tok-abc", "tok-abc", true},
		{"Bearer   tok-abc  ", "tok-abc", true},
		{"Bearer ", "", false},
		{"Basic dXNlcg==", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		token, ok := ParseBearer(tc.header)
		if ok != tc.ok || token != tc.token {
			t.Errorf("ParseBearer(%q) = (%q, %v), expected (%q, %v)",
				tc.header, token, ok, tc.token, tc.ok)
		}
	}
}
