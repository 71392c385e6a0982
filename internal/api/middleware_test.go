package api

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRateLimitMiddleware_AllowsWithinLimit(t *testing.T) {
	handler := RateLimitMiddleware(5)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(ClientHeader, "notebook-a")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
	}
}

func TestRateLimitMiddleware_BlocksOverLimit(t *testing.T) {
	handler := RateLimitMiddleware(3)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(ClientHeader, "notebook-a")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
	}

	// 4th request should be rate-limited
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(ClientHeader, "notebook-a")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", w.Code)
	}
}

func TestRateLimitMiddleware_UsesClientIDAsKey(t *testing.T) {
	handler := RateLimitMiddleware(2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Exhaust limit for notebook-a
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(ClientHeader, "notebook-a")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
	}

	// notebook-b should still be allowed
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(ClientHeader, "notebook-b")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("notebook-b should not be rate-limited, got %d", w.Code)
	}

	// notebook-a should be blocked
	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set(ClientHeader, "notebook-a")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("notebook-a should be rate-limited, got %d", w.Code)
	}
}

func TestRateLimitMiddleware_SetsRetryAfter(t *testing.T) {
	handler := RateLimitMiddleware(1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest("POST", "/api/v1/solve", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != want {
			t.Fatalf("request %d: expected %d, got %d", i+1, want, w.Code)
		}
		if want == http.StatusTooManyRequests {
			if got := w.Header().Get("Retry-After"); got != "60" {
				t.Errorf("expected Retry-After 60, got %q", got)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected JSON error body, got %q", ct)
			}
		}
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := &rateLimiter{
		requests: make(map[string][]time.Time),
		limit:    2,
		window:   time.Minute,
		now:      func() time.Time { return now },
	}

	if ok, _ := rl.allow("a"); !ok {
		t.Fatal("first request refused")
	}
	now = now.Add(20 * time.Second)
	if ok, _ := rl.allow("a"); !ok {
		t.Fatal("second request refused")
	}
	now = now.Add(20 * time.Second)
	ok, wait := rl.allow("a")
	if ok {
		t.Fatal("third request inside the window allowed")
	}
	if wait != 20*time.Second {
		t.Errorf("expected to wait 20s for the oldest request to expire, got %v", wait)
	}

	now = now.Add(21 * time.Second)
	if ok, _ := rl.allow("a"); !ok {
		t.Error("request after the oldest expired should be allowed")
	}

	// idle clients are dropped once their last request leaves the window
	rl.allow("b")
	now = now.Add(2 * time.Minute)
	rl.allow("c")
	if _, found := rl.requests["b"]; found {
		t.Error("idle client b still tracked")
	}
	if _, found := rl.requests["a"]; found {
		t.Error("idle client a still tracked")
	}
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.7:51234"
	if got := clientKey(req); got != "10.0.0.7" {
		t.Errorf("expected remote host, got %q", got)
	}
	req.Header.Set(ClientHeader, "notebook-a")
	if got := clientKey(req); got != "notebook-a" {
		t.Errorf("expected client header, got %q", got)
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	called := false
	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
	}))

	req := httptest.NewRequest("GET", "/api/v1/runs/abc", nil)
	req.Header.Set(ClientHeader, "test-client")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !called {
		t.Error("inner handler was not called")
	}
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	line := buf.String()
	for _, want := range []string{"level=INFO", "status=404", "path=/api/v1/runs/abc", "client=test-client"} {
		if !strings.Contains(line, want) {
			t.Errorf("log line missing %q: %s", want, line)
		}
	}
}

func TestRequestLoggerWarnsOnServerError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/api/v1/solve", nil))

	if !strings.Contains(buf.String(), "level=WARN") || !strings.Contains(buf.String(), "status=500") {
		t.Errorf("expected a warn line with status 500: %s", buf.String())
	}
}

func TestAdminAuthMiddleware(t *testing.T) {
	handler := AdminAuthMiddleware("s3cret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	cases := map[string]int{
		"":              http.StatusUnauthorized,
		"Bearer wrong":  http.StatusUnauthorized,
		"Bearer s3cret": http.StatusOK,
	}
	for auth, want := range cases {
		req := httptest.NewRequest("POST", "/", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != want {
			t.Errorf("auth %q: expected %d, got %d", auth, want, w.Code)
		}
		if want == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
			t.Errorf("auth %q: missing WWW-Authenticate challenge", auth)
		}
	}

	open := AdminAuthMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	w := httptest.NewRecorder()
	open.ServeHTTP(w, httptest.NewRequest("POST", "/", nil))
	if w.Code != http.StatusOK {
		t.Errorf("empty token should disable auth, got %d", w.Code)
	}
}
