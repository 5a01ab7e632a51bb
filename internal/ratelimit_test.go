package internal

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func limitedRequest(handler http.Handler, addr string) int {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", nil)
	req.RemoteAddr = addr
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimitBurstThenReject(t *testing.T) {
	handler := NewRateLimitHandler(okHandler(), 1, 3, time.Minute)

	for i := 0; i < 3; i++ {
		if code := limitedRequest(handler, "10.0.0.1:1234"); code != http.StatusOK {
			t.Fatalf("request %d within burst: got %d", i, code)
		}
	}
	if code := limitedRequest(handler, "10.0.0.1:1234"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 past burst, got %d", code)
	}
}

func TestRateLimitPerClient(t *testing.T) {
	handler := NewRateLimitHandler(okHandler(), 1, 1, time.Minute)

	if code := limitedRequest(handler, "10.0.0.1:1234"); code != http.StatusOK {
		t.Fatalf("first client: got %d", code)
	}
	if code := limitedRequest(handler, "10.0.0.1:1234"); code != http.StatusTooManyRequests {
		t.Fatalf("first client second request: expected 429, got %d", code)
	}
	if code := limitedRequest(handler, "10.0.0.2:1234"); code != http.StatusOK {
		t.Fatalf("second client must have its own bucket, got %d", code)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	handler := NewRateLimitHandler(okHandler(), 0, 0, time.Minute)

	for i := 0; i < 50; i++ {
		if code := limitedRequest(handler, "10.0.0.1:1234"); code != http.StatusOK {
			t.Fatalf("disabled limiter rejected request %d with %d", i, code)
		}
	}
}

func TestRateLimitEvictStale(t *testing.T) {
	limiter := &rateLimiter{
		store: map[string]*rateEntry{
			"10.0.0.1": {tokens: 0, last: time.Now().Add(-2 * time.Minute)},
			"10.0.0.2": {tokens: 1, last: time.Now()},
		},
		rps:   1,
		burst: 1,
		ttl:   time.Minute,
	}

	limiter.evictStale(time.Now())
	if _, ok := limiter.store["10.0.0.1"]; ok {
		t.Fatalf("stale bucket must be evicted")
	}
	if _, ok := limiter.store["10.0.0.2"]; !ok {
		t.Fatalf("live bucket must survive")
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.5:9999"
	if got := clientIP(req); got != "192.168.1.5" {
		t.Fatalf("remote addr: got %q", got)
	}

	req.Header.Set("X-Real-Ip", "10.1.1.1")
	if got := clientIP(req); got != "10.1.1.1" {
		t.Fatalf("x-real-ip: got %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientIP(req); got != "203.0.113.7" {
		t.Fatalf("x-forwarded-for: got %q", got)
	}
}
