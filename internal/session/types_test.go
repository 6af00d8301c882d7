package session

import (
	"testing"
	"time"
)

func TestPrepareRequestHeadersAddsCookieAndBearer(t *testing.T) {
	s := newStore("vu-1")
	s.SetCookie("sid", Cookie{Value: "XYZ"})
	s.SetToken(tokenKindBearer, Token{Value: "TTT"})

	headers := s.PrepareRequestHeaders(map[string]string{"Accept": "application/json"})

	if headers["Cookie"] != "sid=XYZ" {
		t.Fatalf("expected Cookie header, got %q", headers["Cookie"])
	}
	if headers["Authorization"] != "Bearer TTT" {
		t.Fatalf("expected Authorization header, got %q", headers["Authorization"])
	}
	if headers["Accept"] != "application/json" {
		t.Fatalf("base header lost: %+v", headers)
	}
}

func TestPrepareRequestHeadersExplicitBaseWins(t *testing.T) {
	s := newStore("vu-1")
	s.SetToken(tokenKindBearer, Token{Value: "TTT"})

	headers := s.PrepareRequestHeaders(map[string]string{"Authorization": "Basic abc"})
	if headers["Authorization"] != "Basic abc" {
		t.Fatalf("expected explicit base header to win, got %q", headers["Authorization"])
	}
}

func TestPrepareRequestHeadersAPIKeyUsesConfiguredHeaderName(t *testing.T) {
	s := newStore("vu-1")
	s.SetToken("api_key", Token{Value: "secret123", HeaderName: "X-API-Key"})

	headers := s.PrepareRequestHeaders(nil)
	if headers["X-API-Key"] != "secret123" {
		t.Fatalf("expected X-API-Key header, got %+v", headers)
	}
}

func TestTokenExpiredIsNotSent(t *testing.T) {
	s := newStore("vu-1")
	s.SetToken(tokenKindBearer, Token{Value: "TTT", ExpiresAt: time.Now().Add(-time.Minute)})

	headers := s.PrepareRequestHeaders(nil)
	if _, ok := headers["Authorization"]; ok {
		t.Fatalf("expected expired bearer token to be omitted")
	}
}
