package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/goleak"
)

func TestLimiterAllow(t *testing.T) {
	limiter := New(Config{RequestsPerSecond: 1, BurstSize: 5})
	defer limiter.Stop()

	key := "test-ip"

	// Should allow burst size requests immediately
	for i := 0; i < 5; i++ {
		if !limiter.Allow(key) {
			t.Errorf("Request %d should be allowed (within burst)", i)
		}
	}

	// Next request should be denied
	if limiter.Allow(key) {
		t.Error("Request after burst should be denied")
	}

	// Wait for token replenishment (1 token per second)
	time.Sleep(1100 * time.Millisecond)

	if !limiter.Allow(key) {
		t.Error("Request after waiting should be allowed")
	}
}

func TestLimiterMultipleClients(t *testing.T) {
	limiter := New(Config{RequestsPerSecond: 1, BurstSize: 3})
	defer limiter.Stop()

	for i := 0; i < 3; i++ {
		limiter.Allow("client-a")
	}

	if limiter.Allow("client-a") {
		t.Error("Client A should be rate limited")
	}
	if !limiter.Allow("client-b") {
		t.Error("Client B should not be rate limited")
	}
}

func TestLimiterEvictsIdleClients(t *testing.T) {
	limiter := New(Config{RequestsPerSecond: 1, BurstSize: 1})
	defer limiter.Stop()

	limiter.Allow("a")
	limiter.Allow("b")
	if limiter.Len() != 2 {
		t.Fatalf("expected 2 clients, got %d", limiter.Len())
	}

	limiter.evict(time.Now().Add(time.Second))
	if limiter.Len() != 0 {
		t.Errorf("expected idle clients evicted, got %d", limiter.Len())
	}
}

func TestStopEndsCleanup(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	limiter := New(Config{RequestsPerSecond: 1, BurstSize: 1, CleanupInterval: time.Millisecond})
	limiter.Stop()
	limiter.Stop() // idempotent
	time.Sleep(10 * time.Millisecond)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := New(Config{RequestsPerSecond: 0.001, BurstSize: 2})
	defer limiter.Stop()

	r := gin.New()
	r.Use(limiter.Middleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 3)
	for i := range codes {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		codes[i] = w.Code
		if i == 2 && w.Header().Get("Retry-After") != "1" {
			t.Error("expected Retry-After header")
		}
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("unexpected status codes %v", codes)
	}
}
