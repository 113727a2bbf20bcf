package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalizeEndpoint(t *testing.T) {
	cases := map[string]string{
		"/v1/points/42":       "/v1/points/{id}",
		"/v1/mutations/7/ack": "/v1/mutations/{id}/ack",
		"/v1/status":          "/v1/status",
		"/v1/x/0b9c5a3e-6f7d-4b1a-9c2e-8d4f1a2b3c4d": "/v1/x/{id}",
	}
	for in, want := range cases {
		if got := NormalizeEndpoint(in); got != want {
			t.Errorf("NormalizeEndpoint(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "abc" || rec.Header().Get("X-Request-ID") != "abc" {
		t.Errorf("Expected the caller's request id to be kept, got %q", seen)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(seen) != 36 {
		t.Errorf("Expected a generated uuid, got %q", seen)
	}
}

func TestClientRateLimiter(t *testing.T) {
	l := NewClientRateLimiter(0.001, 2, "127.0.0.1")
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	call := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := call("10.0.0.5:1234"); rec.Code != http.StatusOK {
			t.Fatalf("Request %d within burst got %d", i, rec.Code)
		}
	}
	rec := call("10.0.0.5:1234")
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Errorf("Expected 429 with Retry-After, got %d", rec.Code)
	}
	if rec := call("10.0.0.6:1234"); rec.Code != http.StatusOK {
		t.Errorf("Expected separate bucket per client, got %d", rec.Code)
	}
	for i := 0; i < 5; i++ {
		if rec := call("127.0.0.1:999"); rec.Code != http.StatusOK {
			t.Fatalf("Expected exempt client never limited, got %d", rec.Code)
		}
	}
}
