package auth

import (
	"net/http/httptest"
	"testing"
)

func TestGuardDisabledWhenTokenEmpty(t *testing.T) {
	guard, err := NewTokenGuard("   ")
	if err != nil {
		t.Fatalf("NewTokenGuard: %v", err)
	}
	if guard.Enabled() {
		t.Fatal("expected guard to be disabled")
	}
	r := httptest.NewRequest("POST", "/upload", nil)
	if err := guard.Authorize(r); err != nil {
		t.Fatalf("expected disabled guard to allow requests, got %v", err)
	}
}

func TestGuardAcceptsMatchingToken(t *testing.T) {
	guard, err := NewTokenGuard("s3cret-token")
	if err != nil {
		t.Fatalf("NewTokenGuard: %v", err)
	}
	if !guard.Enabled() {
		t.Fatal("expected guard to be enabled")
	}

	r := httptest.NewRequest("POST", "/upload", nil)
	r.Header.Set("Authorization", "Bearer s3cret-token")
	if err := guard.Authorize(r); err != nil {
		t.Fatalf("expected token to be accepted, got %v", err)
	}

	r.Header.Set("Authorization", "bearer s3cret-token")
	if err := guard.Authorize(r); err != nil {
		t.Fatalf("expected case-insensitive scheme, got %v", err)
	}
}

func TestGuardRejectsBadRequests(t *testing.T) {
	guard, err := NewTokenGuard("s3cret-token")
	if err != nil {
		t.Fatalf("NewTokenGuard: %v", err)
	}

	cases := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "wrong scheme", header: "Basic s3cret-token"},
		{name: "wrong token", header: "Bearer nope"},
		{name: "empty token", header: "Bearer "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/upload", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			if err := guard.Authorize(r); err == nil {
				t.Fatal("expected authorization failure")
			}
		})
	}
}
