package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAPITokenAuth(t *testing.T) {
	var caller string
	h := APITokenAuth("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller = GetCaller(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer secret", http.StatusOK},
		{"case-insensitive scheme", "bearer secret", http.StatusOK},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"missing", "", http.StatusUnauthorized},
		{"basic", "Basic secret", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
	if caller != "api" {
		t.Errorf("caller = %q, want api", caller)
	}
}

func TestAPITokenAuth_EmptyTokenRejectsAll(t *testing.T) {
	h := APITokenAuth("")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer ")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2)
	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("a") {
		t.Error("third request should be limited")
	}
	if !rl.Allow("b") {
		t.Error("keys should be independent")
	}

	var disabled *RateLimiter
	if !disabled.Allow("a") {
		t.Error("nil limiter should allow")
	}
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	if got := getClientIP(req); got != "10.0.0.1" {
		t.Errorf("remote addr ip = %q", got)
	}
	req.Header.Set("X-Real-IP", "10.0.0.2")
	if got := getClientIP(req); got != "10.0.0.2" {
		t.Errorf("x-real-ip = %q", got)
	}
	req.Header.Set("X-Forwarded-For", "10.0.0.3")
	if got := getClientIP(req); got != "10.0.0.3" {
		t.Errorf("x-forwarded-for = %q", got)
	}
}
