package handlers

import (
	"net/http/httptest"
	"testing"
)

func TestClientKeyUsesForwardedAddress(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/jobs", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-Forwarded-For", "203.0.113.7")

	if key := ClientKey(r); key != "203.0.113.7" {
		t.Errorf("Expected forwarded address, got %s", key)
	}
}

func TestClientKeyFallsBackToRemoteAddr(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/jobs", nil)
	r.RemoteAddr = "10.0.0.1:1234"

	if key := ClientKey(r); key != "10.0.0.1:1234" {
		t.Errorf("Expected remote address, got %s", key)
	}
}
